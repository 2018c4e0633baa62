package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/shehryarbajwa/watchparty/internal/proxy"
	"github.com/shehryarbajwa/watchparty/internal/ratelimit"
)

// RouteOptions carries the optional parts of the router. Nil fields are not mounted.
type RouteOptions struct {
	Proxy             *proxy.Server
	RateLimiter       *ratelimit.Limiter
	RequestsPerMinute int
	Metrics           http.Handler
	Player            http.Handler
}

// SetupRoutes configures all HTTP routes
func (h *Handler) SetupRoutes(opts RouteOptions) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", h.Health).Methods("GET")

	// API v1 routes
	api := r.PathPrefix("/v1").Subrouter()

	// Enqueue is rate limited per destination channel
	enqueue := api.Path("/playback").Subrouter()
	if opts.RateLimiter != nil {
		enqueue.Use(RateLimitMiddleware(opts.RateLimiter, opts.RequestsPerMinute))
	}
	enqueue.Methods("POST", "OPTIONS").HandlerFunc(h.EnqueuePlayback)

	api.HandleFunc("/playback/queue", h.ListQueue).Methods("GET")
	api.HandleFunc("/playback/history", h.ListHistory).Methods("GET")
	api.HandleFunc("/playback/skip", h.SkipPlayback).Methods("POST")
	api.HandleFunc("/playback/stop", h.StopPlayback).Methods("POST")

	api.HandleFunc("/session", h.GetSession).Methods("GET")
	if opts.Proxy != nil {
		api.HandleFunc("/session/ws", opts.Proxy.HandleDebugConnection).Methods("GET")
	}

	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics).Methods("GET")
	}
	if opts.Player != nil {
		r.PathPrefix("/static/").Handler(http.StripPrefix("/static", opts.Player))
	}

	r.Use(loggingMiddleware(h.logger))
	r.Use(corsMiddleware)

	return r
}
