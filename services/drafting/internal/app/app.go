package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"bluelight/internal/exchangelock"
	"bluelight/pkg/domain"
	"bluelight/pkg/storage"
	"bluelight/pkg/store"
	"bluelight/services/drafting/internal/agentclient"
)

// Agent is the drafting service as seen by the core.
type Agent interface {
	StreamExchange(ctx context.Context, req agentclient.ExchangeRequest) (*agentclient.Stream, error)
	FetchArtifact(ctx context.Context, fileID string) ([]byte, error)
	PreviewSVG(ctx context.Context, fileID string) (string, error)
	ResetCheckpoint(ctx context.Context, sessionID string) error
}

// Config holds runtime dependencies for the core application.
type Config struct {
	Store     store.Store
	Artifacts storage.ArtifactStore
	Agent     Agent
	// Locker serializes exchanges per session when set.
	Locker *exchangelock.Locker
}

// App relays drafting conversations and accepts the drawings they produce.
type App struct {
	store     store.Store
	artifacts storage.ArtifactStore
	agent     Agent
	locker    *exchangelock.Locker

	inflight sync.WaitGroup
}

// New constructs the application.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	if cfg.Artifacts == nil {
		return nil, errors.New("artifact store required")
	}
	if cfg.Agent == nil {
		return nil, errors.New("drafting agent required")
	}
	return &App{
		store:     cfg.Store,
		artifacts: cfg.Artifacts,
		agent:     cfg.Agent,
		locker:    cfg.Locker,
	}, nil
}

// Wait blocks until every streaming exchange started by Relay has finished.
func (a *App) Wait() {
	a.inflight.Wait()
}

// GetSession returns a live session.
func (a *App) GetSession(ctx context.Context, id string) (domain.DrawingSession, error) {
	sess, ok, err := a.store.GetSession(ctx, id)
	if err != nil {
		return domain.DrawingSession{}, fmt.Errorf("load session: %w", err)
	}
	if !ok {
		return domain.DrawingSession{}, ErrSessionNotFound
	}
	return sess, nil
}

// SessionView is a session with its accepted drawing, when one exists.
type SessionView struct {
	Session domain.DrawingSession `json:"session"`
	Drawing *domain.FileRecord    `json:"drawing,omitempty"`
}

// ViewSession loads a session and the most recent SLD drawing recorded for it.
func (a *App) ViewSession(ctx context.Context, id string) (SessionView, error) {
	sess, err := a.GetSession(ctx, id)
	if err != nil {
		return SessionView{}, err
	}
	view := SessionView{Session: sess}
	rec, ok, err := a.store.LatestFile(ctx, id, domain.FileDrawingSLD)
	if err != nil {
		return SessionView{}, fmt.Errorf("load drawing: %w", err)
	}
	if ok {
		view.Drawing = &rec
	}
	return view, nil
}

// ListMessages returns the conversation of a session, oldest first.
func (a *App) ListMessages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	if _, err := a.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	msgs, err := a.store.ListMessages(ctx, sessionID, 0)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// PreviewSVG proxies the SVG rendering of a generated drawing.
func (a *App) PreviewSVG(ctx context.Context, sessionID, fileID string) (string, error) {
	if _, err := a.GetSession(ctx, sessionID); err != nil {
		return "", err
	}
	svg, err := a.agent.PreviewSVG(ctx, fileID)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrPreviewFailed, err)
	}
	return svg, nil
}
