package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"bluelight/internal/util"
	"bluelight/pkg/domain"
	"bluelight/pkg/store"
)

const acceptedDrawingNote = "AI-generated SLD"

// AcceptArtifact fetches a finished drawing from the drafting service, stores
// it and moves the session to uploaded. When the status change is refused the
// stored file and its record stay in place so the transition alone can be
// retried.
func (a *App) AcceptArtifact(ctx context.Context, sessionID, artifactRef string) (domain.FileRecord, domain.DrawingSession, error) {
	artifactRef = strings.TrimSpace(artifactRef)
	if artifactRef == "" {
		return domain.FileRecord{}, domain.DrawingSession{}, ErrArtifactRefRequired
	}
	sess, err := a.GetSession(ctx, sessionID)
	if err != nil {
		return domain.FileRecord{}, domain.DrawingSession{}, err
	}
	if !sess.CanAcceptArtifact() {
		return domain.FileRecord{}, domain.DrawingSession{}, fmt.Errorf("%w: status %s", ErrInvalidState, sess.Status)
	}

	data, err := a.agent.FetchArtifact(ctx, artifactRef)
	if err != nil {
		return domain.FileRecord{}, domain.DrawingSession{}, fmt.Errorf("%w: %w", ErrArtifactFetchFailed, err)
	}
	if len(data) == 0 {
		return domain.FileRecord{}, domain.DrawingSession{}, ErrArtifactEmpty
	}

	name := fmt.Sprintf("sld_%s.pdf", sessionID)
	scope := fmt.Sprintf("%ss/%s", sess.Kind, sessionID)
	path, err := a.artifacts.Store(ctx, data, name, scope)
	if err != nil {
		return domain.FileRecord{}, domain.DrawingSession{}, fmt.Errorf("store drawing: %w", err)
	}
	rec := domain.FileRecord{
		ID:           uuid.NewString(),
		SessionID:    sessionID,
		Kind:         domain.FileDrawingSLD,
		StoragePath:  path,
		OriginalName: name,
		SizeBytes:    int64(len(data)),
		UploadedAt:   time.Now().UTC(),
	}
	if err := a.store.SaveFile(ctx, rec); err != nil {
		if delErr := a.artifacts.Delete(context.WithoutCancel(ctx), path); delErr != nil {
			util.LoggerFromContext(ctx).Warn("remove orphaned drawing failed", "path", path, "error", delErr)
		}
		return domain.FileRecord{}, domain.DrawingSession{}, fmt.Errorf("save file record: %w", err)
	}

	err = a.store.WithinTx(ctx, func(tx store.Store) error {
		current, ok, err := tx.GetSession(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("load session: %w", err)
		}
		if !ok {
			return ErrSessionNotFound
		}
		if err := current.MarkUploaded(rec.ID, acceptedDrawingNote); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidState, err)
		}
		if err := tx.SaveSession(ctx, current); err != nil {
			return fmt.Errorf("save session: %w", err)
		}
		sess = current
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidState) {
			util.LoggerFromContext(ctx).Warn("drawing stored but status change refused",
				"session_id", sessionID, "file_id", rec.ID, "error", err)
		}
		return rec, domain.DrawingSession{}, err
	}
	return rec, sess, nil
}
