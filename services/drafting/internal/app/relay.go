package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"bluelight/internal/exchangelock"
	"bluelight/internal/util"
	"bluelight/pkg/domain"
	"bluelight/pkg/store"
	"bluelight/services/drafting/internal/agentclient"
)

// unavailableMessage is the only error text a caller ever sees for a failed
// exchange. Upstream detail goes to the log.
const unavailableMessage = "AI service is temporarily unavailable. Please try again later."

const (
	persistTimeout = 10 * time.Second
	releaseTimeout = 5 * time.Second
)

// PushChannel is the caller-owned stream one exchange writes to.
type PushChannel interface {
	// Send delivers one named event with an already encoded payload.
	Send(event, data string) error
	Close()
	CompleteWithError(err error)
	OnCompletion(fn func())
	OnTimeout(fn func())
	OnError(fn func(error))
}

// Relay runs one drafting exchange. The user message and any automatic status
// advance are committed before Relay returns; the reply is streamed into ch
// from a background goroutine which closes ch when the exchange ends.
func (a *App) Relay(ctx context.Context, sessionID, actorID, message string, ch PushChannel) error {
	message = strings.TrimSpace(message)
	if message == "" {
		return ErrEmptyMessage
	}

	var lease *exchangelock.Lease
	if a.locker != nil {
		l, err := a.locker.Acquire(ctx, sessionID)
		if errors.Is(err, exchangelock.ErrHeld) {
			return ErrExchangeInProgress
		}
		if err != nil {
			return fmt.Errorf("acquire exchange lock: %w", err)
		}
		lease = l
	}

	var info map[string]any
	err := a.store.WithinTx(ctx, func(tx store.Store) error {
		sess, ok, err := tx.GetSession(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("load session: %w", err)
		}
		if !ok {
			return ErrSessionNotFound
		}
		if sess.BeginExchange() {
			if err := tx.SaveSession(ctx, sess); err != nil {
				return fmt.Errorf("save session: %w", err)
			}
		}
		if _, err := tx.AppendMessage(ctx, domain.Message{
			SessionID: sessionID,
			UserID:    actorID,
			Role:      domain.RoleUser,
			Content:   message,
		}); err != nil {
			return fmt.Errorf("save user message: %w", err)
		}
		info = sessionContext(sess)
		return nil
	})
	if err != nil {
		releaseLease(ctx, lease)
		return err
	}

	detached := context.WithoutCancel(ctx)
	streamCtx, cancel := context.WithCancel(detached)
	ex := &exchange{
		ch:     ch,
		cancel: cancel,
		logger: util.LoggerFromContext(ctx).With("session_id", sessionID),
	}
	ch.OnCompletion(ex.dispose)
	ch.OnTimeout(ex.dispose)
	ch.OnError(func(error) { ex.dispose() })

	req := agentclient.ExchangeRequest{
		SessionID: sessionID,
		ActorID:   actorID,
		Message:   message,
		Context:   info,
	}
	a.inflight.Add(1)
	go func() {
		defer a.inflight.Done()
		a.runExchange(streamCtx, ex, req)
		cancel()
		releaseLease(detached, lease)
	}()
	return nil
}

func (a *App) runExchange(ctx context.Context, ex *exchange, req agentclient.ExchangeRequest) {
	stream, err := a.agent.StreamExchange(ctx, req)
	if err != nil {
		ex.fail(err)
		return
	}
	defer stream.Close()

	for {
		data, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			ex.complete(ctx, a.store, req)
			return
		}
		if err != nil {
			ex.fail(err)
			return
		}
		ex.forward(data)
	}
}

func releaseLease(ctx context.Context, lease *exchangelock.Lease) {
	if lease == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := lease.Release(ctx); err != nil {
		util.LoggerFromContext(ctx).Warn("release exchange lock failed", "error", err)
	}
}

// exchange is the streaming half of one Relay call. mu orders chunk
// forwarding, completion and teardown; nothing reaches the channel or the
// store once disposed is set.
type exchange struct {
	ch     PushChannel
	cancel context.CancelFunc
	logger *slog.Logger

	mu       sync.Mutex
	disposed bool
	reply    strings.Builder
}

// dispose tears the subscription down. Safe to call repeatedly.
func (ex *exchange) dispose() {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	ex.disposed = true
	ex.cancel()
}

func (ex *exchange) forward(raw string) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	if ex.disposed {
		return
	}

	event, payload := "message", raw
	typ, content, ok := decodeChunk(raw)
	if !ok {
		payload = encodeEvent("message", raw)
	} else {
		if typ != "" {
			event = typ
		}
		switch typ {
		case "token":
			ex.reply.WriteString(content)
		case "done":
			if content != "" {
				ex.reply.Reset()
				ex.reply.WriteString(content)
			}
		}
	}

	if err := ex.ch.Send(event, payload); err != nil {
		ex.logger.Debug("push channel send failed", "event", event, "error", err)
		ex.disposed = true
		ex.cancel()
		ex.ch.CompleteWithError(err)
	}
}

// complete persists the reply and closes the channel. The store write runs
// outside mu under ctx, so a teardown cancels it instead of waiting on it.
func (ex *exchange) complete(ctx context.Context, s store.Store, req agentclient.ExchangeRequest) {
	ex.mu.Lock()
	if ex.disposed {
		ex.mu.Unlock()
		return
	}
	reply := ex.reply.String()
	ex.mu.Unlock()

	if reply != "" {
		ctx, cancel := context.WithTimeout(ctx, persistTimeout)
		err := s.WithinTx(ctx, func(tx store.Store) error {
			_, err := tx.AppendMessage(ctx, domain.Message{
				SessionID: req.SessionID,
				UserID:    req.ActorID,
				Role:      domain.RoleAssistant,
				Content:   reply,
			})
			return err
		})
		cancel()
		if err != nil {
			// The caller already has the full reply.
			ex.logger.Warn("save assistant message failed", "error", err)
		}
	}

	ex.mu.Lock()
	defer ex.mu.Unlock()
	if !ex.disposed {
		ex.ch.Close()
	}
}

func (ex *exchange) fail(err error) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	if ex.disposed {
		return
	}

	attrs := []any{"error", err}
	var apiErr *agentclient.APIError
	if errors.As(err, &apiErr) {
		attrs = append(attrs, "upstream_status", apiErr.Status, "upstream_body", apiErr.Body)
	}
	ex.logger.Error("drafting exchange failed", attrs...)

	if sendErr := ex.ch.Send("error", encodeEvent("error", unavailableMessage)); sendErr != nil {
		ex.logger.Debug("push channel send failed", "event", "error", "error", sendErr)
	}
	ex.ch.Close()
}

// decodeChunk reads the type discriminator and content of a JSON chunk. ok is
// false when raw is not a JSON object with a string type (or no type).
func decodeChunk(raw string) (typ, content string, ok bool) {
	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err != nil || fields == nil {
		return "", "", false
	}
	if v, present := fields["type"]; present {
		if typ, ok = v.(string); !ok {
			return "", "", false
		}
	}
	content, _ = fields["content"].(string)
	return typ, content, true
}

func encodeEvent(typ, content string) string {
	b, _ := json.Marshal(map[string]string{"type": typ, "content": content})
	return string(b)
}

// sessionContext is the snapshot of a session handed to the drafting service.
func sessionContext(s domain.DrawingSession) map[string]any {
	info := map[string]any{
		"selectedKva":  s.Site.SelectedKVA,
		"address":      s.Site.Address,
		"postalCode":   s.Site.PostalCode,
		"buildingType": s.Site.BuildingType,
	}
	switch s.Kind {
	case domain.KindOrder:
		info["sldOrderSeq"] = s.ID
		info["sld_only_mode"] = true
	default:
		appType := s.Site.ApplicationType
		if appType == "" {
			appType = "NEW"
		}
		info["applicationSeq"] = s.ID
		info["applicationType"] = appType
		info["spAccountNo"] = s.Site.SPAccountNo
		info["userCompanyName"] = s.OwnerCompany
	}
	if note := strings.TrimSpace(s.ApplicantNote); note != "" {
		info["applicantNote"] = note
	}
	if s.SketchFileID != "" {
		info["hasSketchFile"] = true
		info["sketchFileSeq"] = s.SketchFileID
	}
	if s.AssignedName != "" {
		info["assignedLewName"] = s.AssignedName
		info["assignedLewLicenceNo"] = s.AssignedLicenceNo
	}
	return info
}
