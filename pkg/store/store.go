package store

import (
	"context"

	"bluelight/pkg/domain"
)

// SessionStore persists drawing requests and orders.
type SessionStore interface {
	SaveSession(ctx context.Context, s domain.DrawingSession) error
	// GetSession never returns soft-deleted sessions.
	GetSession(ctx context.Context, id string) (domain.DrawingSession, bool, error)
}

// MessageStore persists the drafting conversation of a session.
type MessageStore interface {
	// AppendMessage assigns the message id and a creation time strictly after
	// every earlier message of the same session, and returns the stored copy.
	AppendMessage(ctx context.Context, msg domain.Message) (domain.Message, error)
	// ListMessages returns messages oldest first. limit <= 0 returns all.
	ListMessages(ctx context.Context, sessionID string, limit int) ([]domain.Message, error)
	DeleteMessages(ctx context.Context, sessionID string) (int64, error)
}

// FileStore persists metadata of stored artifacts.
type FileStore interface {
	SaveFile(ctx context.Context, f domain.FileRecord) error
	// LatestFile returns the most recent record of kind for a session.
	LatestFile(ctx context.Context, sessionID string, kind domain.FileKind) (domain.FileRecord, bool, error)
}

// Store groups the persistence used by the drafting service.
type Store interface {
	SessionStore
	MessageStore
	FileStore

	// WithinTx runs fn against a transactional view of the store. The work is
	// committed when fn returns nil and rolled back otherwise.
	WithinTx(ctx context.Context, fn func(tx Store) error) error
}
