// Package api exposes the TallerBot REST surface.
//
// It serves read endpoints for clientes, órdenes de trabajo, facturas and the
// dashboard, a couple of state-changing operations used by the back office,
// and mounts the Twilio inbound webhook when that messaging backend is active.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rsautomocion/tallerbot/internal/store"
)

// Default server settings.
const (
	DefaultAddr            = ":8080"
	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr           string
	WebhookHandler http.HandlerFunc
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr overrides the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		if addr != "" {
			o.Addr = addr
		}
	}
}

// WithTwilioWebhook mounts the inbound Twilio webhook at /webhook/twilio.
func WithTwilioWebhook(h http.HandlerFunc) Option {
	return func(o *Opts) {
		o.WebhookHandler = h
	}
}

// Server is the TallerBot HTTP API.
type Server struct {
	store  store.Store
	router chi.Router
	srv    *http.Server
}

// NewServer builds the API server around a repository.
func NewServer(st store.Store, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Server{store: st}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(slogLogger)

	r.Get("/health", s.healthHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/clientes", s.listClientesHandler)
		r.Get("/clientes/search", s.searchClientesHandler)
		r.Get("/clientes/{id}", s.getClienteHandler)
		r.Delete("/clientes/{id}", s.deactivateClienteHandler)

		r.Get("/ots", s.listOTsHandler)
		r.Get("/ots/{id}", s.getOTHandler)
		r.Put("/ots/{id}/estado", s.updateOTEstadoHandler)

		r.Get("/facturas", s.listFacturasHandler)
		r.Get("/facturas/{id}", s.getFacturaHandler)
		r.Get("/facturas/{id}/pagos", s.listPagosHandler)

		r.Get("/dashboard/resumen", s.resumenHandler)
	})

	if cfg.WebhookHandler != nil {
		r.Post("/webhook/twilio", cfg.WebhookHandler)
		slog.Info("Server mounted Twilio webhook", "path", "/webhook/twilio")
	}

	s.router = r
	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	go func() {
		slog.Info("Server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server stopped unexpectedly", "error", err)
		}
	}()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultShutdownTimeout)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

// slogLogger logs each request at debug level with its duration.
func slogLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("Server handled request",
			"method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
