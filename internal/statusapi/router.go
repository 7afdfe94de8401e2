// Package statusapi serves a read-only HTTP view of the shared session so a
// presentation layer can observe login and order state without touching the
// background loops.
package statusapi

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Amorter/bili-ticket/internal/login"
	"github.com/Amorter/bili-ticket/internal/session"
)

// LoginStatus reports the login state machine.
type LoginStatus interface {
	Status() login.Status
}

// MonitorStatus reports whether the order monitor is running.
type MonitorStatus interface {
	Running() bool
}

type Options struct {
	// Login and Monitor are optional.
	Login   LoginStatus
	Monitor MonitorStatus
	Logger  *slog.Logger
}

// Handler answers status requests from the shared state.
type Handler struct {
	state   *session.State
	login   LoginStatus
	monitor MonitorStatus
	logger  *slog.Logger
}

func NewHandler(state *session.State, opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Handler{state: state, login: opts.Login, monitor: opts.Monitor, logger: logger}
}

// NewRouter registers the status routes and middleware stack.
func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(handler.recoverMiddleware)
	r.Use(handler.loggingMiddleware)

	r.Get("/healthz", handler.healthz)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/session", handler.session)
		r.Get("/orders", handler.orders)
		r.Get("/orders/{order_id}", handler.order)
	})
	return r
}
