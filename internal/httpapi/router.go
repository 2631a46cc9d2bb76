// Package httpapi exposes the scheduled and manual cycle triggers over HTTP.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"coco-alerts/internal/service"
)

// CycleRunner runs one monitoring cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context, trigger string) (service.CycleResult, error)
}

// ReadyFunc reports whether backing stores are reachable.
type ReadyFunc func(ctx context.Context) error

// Options configure the router.
type Options struct {
	// CronSecret, when set, must be presented as a Bearer token on both triggers.
	CronSecret string
	Ready      ReadyFunc
}

type triggerResponse struct {
	Success   bool                 `json:"success"`
	Message   string               `json:"message"`
	Timestamp string               `json:"timestamp,omitempty"`
	Result    *service.CycleResult `json:"result,omitempty"`
	Error     string               `json:"error,omitempty"`
}

// NewRouter assembles the HTTP surface.
func NewRouter(runner CycleRunner, opts Options, logger zerolog.Logger) http.Handler {
	logger = logger.With().Str("component", "httpapi").Logger()

	r := chi.NewRouter()
	r.Use(Recover(logger))
	r.Use(RequestLogger(logger))
	r.Use(Metrics())

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", health())
	r.Get("/readyz", ready(opts.Ready))

	r.Group(func(r chi.Router) {
		r.Use(requireSecret(opts.CronSecret))

		scheduled := trigger(runner, service.TriggerScheduled, logger)
		r.Get("/api/cron/notifications", scheduled)
		r.Post("/api/cron/notifications", scheduled)
		r.Post("/api/notifications/trigger", trigger(runner, service.TriggerManual, logger))
	})

	return r
}

func trigger(runner CycleRunner, kind string, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := runner.RunCycle(r.Context(), kind)
		if err != nil {
			logger.Error().Err(err).Str("trigger", kind).Msg("notification cycle failed")
			writeJSON(w, http.StatusInternalServerError, triggerResponse{
				Success: false,
				Message: "Notification cycle failed",
				Error:   err.Error(),
			})
			return
		}

		message := "Notification cycle completed"
		if result.Skipped {
			message = "Notification cycle skipped: another instance holds the lock"
		}
		writeJSON(w, http.StatusOK, triggerResponse{
			Success:   true,
			Message:   message,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Result:    &result,
		})
	}
}

func requireSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
				writeJSON(w, http.StatusUnauthorized, triggerResponse{Success: false, Message: "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func health() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func ready(check ReadyFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			if err := check(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "error": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
