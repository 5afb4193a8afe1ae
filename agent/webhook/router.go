// Package webhook exposes the call platform's HTTP callbacks.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	contractx "github.com/tanpawarit/chative-voicebot/agent/contract"
	"github.com/tanpawarit/chative-voicebot/pkg/media"
)

const (
	WebhookRoute = "/vox/webhook"
	HealthRoute  = "/healthz"

	maxEventBytes = 1 << 20
)

// EventHandler is the call engine behind the webhook.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev contractx.Event) (contractx.Reply, error)
}

type Config struct {
	StaticDir string
	// RateLimitPerMin caps events per caller; zero disables limiting.
	RateLimitPerMin int
	RateLimitBurst  int
	// Signed, when set, wraps the webhook route, e.g. with QStash verification.
	Signed func(http.Handler) http.Handler
}

type Handler struct {
	events  EventHandler
	limiter *callerLimiter
}

// NewRouter wires the webhook, static audio and health routes.
func NewRouter(logger zerolog.Logger, events EventHandler, cfg Config) http.Handler {
	h := &Handler{
		events:  events,
		limiter: newCallerLimiter(cfg.RateLimitPerMin, cfg.RateLimitBurst),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(hlog.NewHandler(logger))
	r.Use(requestIDLogger)
	r.Use(hlog.AccessHandler(logAccess))
	r.Use(middleware.Recoverer)

	r.Get(HealthRoute, func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, r, http.StatusOK, contractx.Reply{Status: contractx.StatusOK})
	})

	webhook := http.Handler(http.HandlerFunc(h.handleEvent))
	if cfg.Signed != nil {
		webhook = cfg.Signed(webhook)
	}
	r.Method(http.MethodPost, WebhookRoute, webhook)

	if dir := strings.TrimSpace(cfg.StaticDir); dir != "" {
		r.Handle(media.StaticRoute+"/*", http.StripPrefix(media.StaticRoute+"/", http.FileServer(http.Dir(dir))))
	}

	return r
}

func (h *Handler) handleEvent(w http.ResponseWriter, r *http.Request) {
	var ev contractx.Event
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBytes)).Decode(&ev); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("rejected malformed webhook body")
		respondError(w, r, http.StatusBadRequest, "invalid json body")
		return
	}

	// End always reaches the engine so the session is cleared.
	if contractx.EventType(strings.TrimSpace(string(ev.Type))) != contractx.EventEnd && !h.limiter.Allow(ev.CallerID) {
		hlog.FromRequest(r).Warn().Str("caller_id", ev.CallerID).Msg("caller rate limit exceeded")
		respondError(w, r, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	reply, err := h.events.HandleEvent(r.Context(), ev)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, context.Canceled) {
			status = http.StatusServiceUnavailable
		}
		respondError(w, r, status, "failed to prepare reply")
		return
	}
	respondJSON(w, r, http.StatusOK, reply)
}

// requestIDLogger tags the request logger with chi's request id.
func requestIDLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			logger := zerolog.Ctx(r.Context())
			logger.UpdateContext(func(c zerolog.Context) zerolog.Context {
				return c.Str("req_id", id)
			})
			w.Header().Set(middleware.RequestIDHeader, id)
		}
		next.ServeHTTP(w, r)
	})
}

func logAccess(r *http.Request, status, size int, duration time.Duration) {
	hlog.FromRequest(r).Info().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", status).
		Int("size", size).
		Dur("duration", duration).
		Msg("request handled")
}

func respondJSON(w http.ResponseWriter, r *http.Request, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("failed to encode response")
	}
}

func respondError(w http.ResponseWriter, r *http.Request, status int, message string) {
	respondJSON(w, r, status, map[string]string{"error": message})
}
