package app

import (
	"errors"
	"fmt"

	"bluelight/pkg/domain"
)

var (
	// ErrInvalidState reports an operation the session's status does not allow.
	ErrInvalidState        = fmt.Errorf("invalid session state: %w", domain.ErrInvalidTransition)
	ErrSessionNotFound     = errors.New("session not found")
	ErrArtifactFetchFailed = errors.New("failed to retrieve generated drawing")
	ErrArtifactEmpty       = errors.New("generated drawing is empty")
	ErrArtifactRefRequired = errors.New("file id required")
	ErrPreviewFailed       = errors.New("failed to retrieve drawing preview")
	ErrEmptyMessage        = errors.New("message required")
	ErrExchangeInProgress  = errors.New("another exchange is in progress for this session")
)
