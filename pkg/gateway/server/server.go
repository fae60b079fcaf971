package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/vango-go/vai-botapi/pkg/gateway/botapi/sessions"
	"github.com/vango-go/vai-botapi/pkg/gateway/config"
	"github.com/vango-go/vai-botapi/pkg/gateway/handlers"
	"github.com/vango-go/vai-botapi/pkg/gateway/journal"
	"github.com/vango-go/vai-botapi/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-botapi/pkg/gateway/metrics"
	"github.com/vango-go/vai-botapi/pkg/gateway/mw"
)

// closeWait bounds how long Shutdown waits for force-closed sessions to
// unwind.
const closeWait = 2 * time.Second

type Option func(*Server)

// WithJournal records every conversation in j. The server closes j on
// Shutdown or Close.
func WithJournal(j journal.Journal) Option {
	return func(s *Server) { s.journal = j }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// Server owns the bot endpoint: the HTTP listener, the middleware chain and
// the set of live bot sessions.
type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	onConversation handlers.ConversationHandler
	lifecycle      *lifecycle.Lifecycle
	sessions       *sessions.Tracker
	metrics        *metrics.Metrics
	journal        journal.Journal

	httpSrv *http.Server

	mu sync.Mutex
	ln net.Listener

	releaseOnce sync.Once
}

func New(cfg config.Config, logger *slog.Logger, onConversation handlers.ConversationHandler, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Path == "" {
		cfg.Path = "/"
	}

	s := &Server{
		cfg:            cfg,
		logger:         logger,
		mux:            http.NewServeMux(),
		onConversation: onConversation,
		lifecycle:      &lifecycle.Lifecycle{},
		sessions:       sessions.NewTracker(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.metrics == nil && cfg.MetricsEnabled {
		s.metrics = metrics.New("")
	}
	if s.journal == nil {
		s.journal = journal.Nop{}
	}

	s.routes()
	s.httpSrv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		IdleTimeout:       cfg.KeepAliveTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{
		Config:    s.cfg,
		Lifecycle: s.lifecycle,
		Sessions:  s.sessions,
	})
	if s.metrics != nil {
		s.mux.Handle("/metrics", mw.BearerAuth(s.cfg.Token, s.metrics.Handler()))
	}

	s.mux.Handle(s.cfg.Path, handlers.BotAPIHandler{
		Config:         s.cfg,
		Logger:         s.logger,
		Lifecycle:      s.lifecycle,
		Sessions:       s.sessions,
		Metrics:        s.metrics,
		Journal:        s.journal,
		OnConversation: s.onConversation,
	})
	if s.cfg.Path != "/" {
		s.mux.Handle("/", handlers.NotFoundHandler{})
	}
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// ListenAndServe listens on the configured host and port and serves until the
// server is closed.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr(), err)
	}
	return s.Serve(ln)
}

// Serve accepts bot connections on an existing listener. It returns nil once
// the server is shut down or closed.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	s.logger.Info("bot api listening", "addr", ln.Addr().String(), "path", s.cfg.Path, "auth_enabled", s.cfg.Token != "")
	if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr is the bound listener address once serving, else the configured one.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.cfg.Addr()
}

func (s *Server) Metrics() *metrics.Metrics {
	return s.metrics
}

// ActiveSessions is the number of connected bot sessions.
func (s *Server) ActiveSessions() int {
	return s.sessions.Count()
}

// Shutdown stops accepting connections, waits for live sessions to end until
// ctx is done, then closes the remaining ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.lifecycle.BeginDrain() {
		s.logger.Info("draining bot api", "active_sessions", s.sessions.Count())
	}

	var errs error
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("shutdown http server: %w", err))
	}
	if !s.sessions.Wait(ctx) {
		closed := s.sessions.CloseAll()
		ids := make([]string, 0, len(closed))
		for _, c := range closed {
			if c.ConversationID != "" {
				ids = append(ids, c.ConversationID)
			}
		}
		s.logger.Warn("closing bot sessions after grace period", "count", len(closed), "conversation_ids", ids)
		waitCtx, cancel := context.WithTimeout(context.Background(), closeWait)
		defer cancel()
		if !s.sessions.Wait(waitCtx) {
			errs = multierr.Append(errs, fmt.Errorf("%d bot sessions did not finish", s.sessions.Count()))
		}
	}
	s.release()
	return errs
}

// Close stops listening and ends every live session immediately. It is safe
// to call more than once.
func (s *Server) Close() error {
	s.lifecycle.BeginDrain()
	err := s.httpSrv.Close()
	s.sessions.CloseAll()
	s.release()
	return err
}

func (s *Server) release() {
	s.releaseOnce.Do(func() {
		s.journal.Close()
	})
}
