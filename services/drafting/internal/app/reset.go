package app

import (
	"context"
	"fmt"

	"bluelight/internal/util"
)

// ResetConversation clears the stored conversation of a session and asks the
// drafting service to forget its checkpoint. Only the local delete can fail
// the call.
func (a *App) ResetConversation(ctx context.Context, sessionID string) error {
	if _, err := a.GetSession(ctx, sessionID); err != nil {
		return err
	}
	n, err := a.store.DeleteMessages(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	logger := util.LoggerFromContext(ctx).With("session_id", sessionID)
	if err := a.agent.ResetCheckpoint(ctx, sessionID); err != nil {
		logger.Warn("reset drafting checkpoint failed", "error", err)
	}
	logger.Info("conversation reset", "deleted", n)
	return nil
}
