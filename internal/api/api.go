// Package api exposes TrackPipe's HTTP surface: health, the Twilio webhook,
// per-user exports and summaries, and the message log.
package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/BTreeMap/TrackPipe/internal/report"
	"github.com/BTreeMap/TrackPipe/internal/store"
)

const (
	// DefaultAddr is the listen address used when none is configured.
	DefaultAddr = ":8080"
	// requestTimeout bounds every request, exports included.
	requestTimeout = 30 * time.Second
	shutdownGrace  = 10 * time.Second
)

// Reports produces the per-user documents served by the API.
type Reports interface {
	ExportWorkbook(ctx context.Context, userID string) ([]byte, error)
	Summarize(ctx context.Context, userID, period string) (report.Summary, error)
}

// Opts configures a Server.
type Opts struct {
	Addr          string
	Token         string
	TwilioWebhook http.HandlerFunc
}

// Option configures a Server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithToken requires "Authorization: Bearer <token>" on the user and log routes.
func WithToken(token string) Option {
	return func(o *Opts) { o.Token = token }
}

// WithTwilioWebhook mounts the Twilio inbound handler at POST /webhook/twilio.
func WithTwilioWebhook(h http.HandlerFunc) Option {
	return func(o *Opts) { o.TwilioWebhook = h }
}

// Server serves the HTTP API.
type Server struct {
	reports Reports
	log     store.MessageLog
	addr    string
	token   string
	twilio  http.HandlerFunc
	started time.Time
}

// NewServer creates a Server.
func NewServer(reports Reports, log store.MessageLog, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	return &Server{
		reports: reports,
		log:     log,
		addr:    cfg.Addr,
		token:   cfg.Token,
		twilio:  cfg.TwilioWebhook,
		started: time.Now(),
	}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/healthz", s.healthHandler)
	if s.twilio != nil {
		r.Post("/webhook/twilio", s.twilio)
	}
	r.Group(func(r chi.Router) {
		r.Use(s.requireToken)
		r.Get("/users/{userID}/export.xlsx", s.exportHandler)
		r.Get("/users/{userID}/summary", s.summaryHandler)
		r.Get("/receipts", s.receiptsHandler)
		r.Get("/responses", s.responsesHandler)
	})
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	slog.Info("API server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug("API request",
			"method", r.Method, "path", r.URL.Path, "status", ww.Status(),
			"bytes", ww.BytesWritten(), "duration", time.Since(start), "requestID", middleware.GetReqID(r.Context()))
	})
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
			slog.Warn("API unauthorized request", "path", r.URL.Path, "remote", r.RemoteAddr)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}
