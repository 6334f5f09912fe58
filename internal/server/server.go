// Package server exposes an asyncdb.Database over HTTP. Handlers run on
// net/http goroutines and reach the database through the dispatcher Loop.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/eigerco/kvdown/internal/dispatch"
	"github.com/eigerco/kvdown/pkg/asyncdb"
)

const (
	contentTypeJSON        = "application/json"
	defaultAddr            = ":8080"
	defaultShutdownTimeout = 5 * time.Second
	maxBodyBytes           = 64 << 20
)

type Options struct {
	Addr            string
	ShutdownTimeout time.Duration
	// BackupDir is the parent of backups requested without a path.
	BackupDir string
	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
}

type Server struct {
	loop *dispatch.Loop
	db   *asyncdb.Database
	opts Options
	log  zerolog.Logger

	httpServer *http.Server
	listener   net.Listener
}

func NewServer(loop *dispatch.Loop, database *asyncdb.Database, opts Options, logger zerolog.Logger) *Server {
	if opts.Addr == "" {
		opts.Addr = defaultAddr
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultShutdownTimeout
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	return &Server{loop: loop, db: database, opts: opts, log: logger}
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.opts.Addr, err)
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	s.log.Info().Str("addr", ln.Addr().String()).Msg("HTTP server started")
	return nil
}

// Addr is the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop waits up to the shutdown timeout for requests in progress.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))

	r.Get("/kv/{key}", s.handleGet)
	r.Put("/kv/{key}", s.handlePut)
	r.Delete("/kv/{key}", s.handleDelete)
	r.Post("/batch", s.handleBatch)
	r.Get("/range", s.handleRange)
	r.Get("/size", s.handleSize)
	r.Post("/backup", s.handleBackup)
	r.Get("/property/{name}", s.handleProperty)

	return r
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Warn().Err(err).Msg("error encoding response")
	}
}

// writeError maps database errors onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var (
		usageErr *asyncdb.UsageError
		pathErr  *asyncdb.PathError
		status   = http.StatusInternalServerError
	)
	switch {
	case errors.Is(err, asyncdb.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, asyncdb.ErrNotOpen),
		errors.Is(err, dispatch.ErrLoopStopped),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	case errors.As(err, &usageErr):
		status = http.StatusBadRequest
	case errors.As(err, &pathErr):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("request failed")
	}
	s.writeJSON(w, status, NewErrorResponse(err.Error()))
}

// await runs start on the loop and waits for the callback it is given.
func await[T any](ctx context.Context, loop *dispatch.Loop, start func(done func(T))) (T, error) {
	var zero T

	ch := make(chan T, 1)
	if err := loop.Do(ctx, func() { start(func(v T) { ch <- v }) }); err != nil {
		return zero, err
	}
	select {
	case v := <-ch:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// awaitErr is await for callbacks that only report an error.
func awaitErr(ctx context.Context, loop *dispatch.Loop, start func(done func(error))) error {
	err, doErr := await(ctx, loop, start)
	if doErr != nil {
		return doErr
	}
	return err
}
