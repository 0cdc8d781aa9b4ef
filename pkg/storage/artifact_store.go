package storage

import (
	"context"
	"errors"
	"path"
	"strings"

	"github.com/google/uuid"
)

// ErrNotFound reports a path with no stored bytes.
var ErrNotFound = errors.New("artifact not found")

// ArtifactStore keeps opaque byte blobs addressed by the path it returns.
type ArtifactStore interface {
	// Store writes data under scope and returns its path. name only supplies
	// the extension; the final key is randomized.
	Store(ctx context.Context, data []byte, name, scope string) (string, error)
	Fetch(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
}

// objectKey builds "<scope>/<uuid><ext>".
func objectKey(name, scope string) string {
	key := uuid.NewString() + strings.ToLower(path.Ext(strings.TrimSpace(name)))
	scope = strings.Trim(path.Clean("/"+strings.TrimSpace(scope)), "/")
	if scope == "" {
		return key
	}
	return scope + "/" + key
}

func contentTypeFor(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".pdf":
		return "application/pdf"
	case ".svg":
		return "image/svg+xml"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}
