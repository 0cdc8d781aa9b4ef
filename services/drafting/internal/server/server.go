package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"bluelight/internal/ratelimit"
	"bluelight/internal/usertoken"
	"bluelight/internal/util"
	"bluelight/pkg/domain"
	"bluelight/services/drafting/internal/app"
)

const defaultStreamTimeout = 120 * time.Second

// TokenVerifier resolves the actor behind a bearer token.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (usertoken.Actor, error)
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	App           *app.App
	TokenVerifier TokenVerifier
	// Limiter throttles exchanges per actor. Nil disables throttling.
	Limiter        *ratelimit.FixedWindowLimiter
	TrustedProxies *util.TrustedProxies
	StreamTimeout  time.Duration
}

// Server exposes HTTP endpoints for the drafting service.
type Server struct {
	app            *app.App
	tokenVerifier  TokenVerifier
	limiter        *ratelimit.FixedWindowLimiter
	trustedProxies *util.TrustedProxies
	streamTimeout  time.Duration
	mux            *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	if cfg.TokenVerifier == nil {
		return nil, errors.New("token verifier required")
	}
	timeout := cfg.StreamTimeout
	if timeout <= 0 {
		timeout = defaultStreamTimeout
	}
	s := &Server{
		app:            cfg.App,
		tokenVerifier:  cfg.TokenVerifier,
		limiter:        cfg.Limiter,
		trustedProxies: cfg.TrustedProxies,
		streamTimeout:  timeout,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("drafting", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/sessions/", s.authenticated(s.handleSession))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type actorHandler func(http.ResponseWriter, *http.Request, usertoken.Actor)

func (s *Server) authenticated(next actorHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			s.audit(r, "drafting.authorize", "fail", "reason", "missing_token")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		actor, err := s.tokenVerifier.Verify(r.Context(), token)
		if errors.Is(err, usertoken.ErrForbiddenRole) {
			s.audit(r, "drafting.authorize", "fail", "reason", "forbidden_role")
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		if err != nil {
			s.audit(r, "drafting.authorize", "fail", "reason", "invalid_token")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, actor)
	})
}

// /sessions/{id}[/chat[/messages|/reset] | /accept | /preview/{fileId}]
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request, actor usertoken.Actor) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/sessions/"), "/"), "/")
	id := parts[0]
	if id == "" {
		http.NotFound(w, r)
		return
	}

	switch rest := strings.Join(parts[1:], "/"); {
	case rest == "":
		s.handleGetSession(w, r, id)
	case rest == "chat":
		s.handleChat(w, r, actor, id)
	case rest == "chat/messages":
		s.handleMessages(w, r, id)
	case rest == "chat/reset":
		s.handleReset(w, r, actor, id)
	case rest == "accept":
		s.handleAccept(w, r, actor, id)
	case len(parts) == 3 && parts[1] == "preview" && parts[2] != "":
		s.handlePreview(w, r, id, parts[2])
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	view, err := s.app.ViewSession(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleChat streams one exchange back as server-sent events.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, actor usertoken.Actor, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowExchange(w, r, actor) {
		return
	}
	var req chatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	ch, err := newSSEChannel(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.app.Relay(r.Context(), id, actor.ID, req.Message, ch); err != nil {
		writeAppError(w, r, err)
		return
	}
	ch.Wait(r.Context(), s.streamTimeout)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	msgs, err := s.app.ListMessages(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request, actor usertoken.Actor, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if err := s.app.ResetConversation(r.Context(), id); err != nil {
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "drafting.chat.reset", "success", "user_id", actor.ID, "session_id", id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request, actor usertoken.Actor, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req acceptRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	rec, sess, err := s.app.AcceptArtifact(r.Context(), id, req.FileID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "drafting.drawing.accept", "success", "user_id", actor.ID, "session_id", id, "file_id", rec.ID)
	writeJSON(w, http.StatusOK, acceptResponse{File: rec, Session: sess})
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request, id, fileID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	svg, err := s.app.PreviewSVG(r.Context(), id, fileID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, svg)
}

func (s *Server) allowExchange(w http.ResponseWriter, r *http.Request, actor usertoken.Actor) bool {
	if s.limiter == nil || s.limiter.Allow(r.Context(), "exchange|"+actor.ID) {
		return true
	}
	s.audit(r, "drafting.exchange.throttle", "fail", "user_id", actor.ID)
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, "too many drafting requests, try again later")
	return false
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r, s.trustedProxies),
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)
}

type chatRequest struct {
	Message string `json:"message"`
}

type acceptRequest struct {
	FileID string `json:"fileId"`
}

type acceptResponse struct {
	File    domain.FileRecord     `json:"file"`
	Session domain.DrawingSession `json:"session"`
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeAppError maps core errors to HTTP answers. Upstream detail never
// reaches the caller.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, app.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, app.ErrSessionNotFound.Error())
	case errors.Is(err, app.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, app.ErrEmptyMessage.Error())
	case errors.Is(err, app.ErrArtifactRefRequired):
		writeError(w, http.StatusBadRequest, app.ErrArtifactRefRequired.Error())
	case errors.Is(err, app.ErrInvalidState):
		writeError(w, http.StatusConflict, app.ErrInvalidState.Error())
	case errors.Is(err, app.ErrExchangeInProgress):
		writeError(w, http.StatusConflict, app.ErrExchangeInProgress.Error())
	case errors.Is(err, app.ErrArtifactEmpty):
		writeError(w, http.StatusBadGateway, app.ErrArtifactEmpty.Error())
	case errors.Is(err, app.ErrArtifactFetchFailed):
		util.LoggerFromContext(r.Context()).Warn("artifact fetch failed", "error", err)
		writeError(w, http.StatusBadGateway, app.ErrArtifactFetchFailed.Error())
	case errors.Is(err, app.ErrPreviewFailed):
		util.LoggerFromContext(r.Context()).Warn("svg preview failed", "error", err)
		writeError(w, http.StatusBadGateway, app.ErrPreviewFailed.Error())
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}
