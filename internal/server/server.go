// Package server exposes the semantic layer over HTTP: compile and run
// metric queries, convert MQL, list fields and validate the project.
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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/leapmetrics/internal/config"
	"github.com/leapstack-labs/leapmetrics/internal/loader"
	"github.com/leapstack-labs/leapmetrics/internal/state"
	"github.com/leapstack-labs/leapmetrics/pkg/adapter"
	"github.com/leapstack-labs/leapmetrics/pkg/model"
	"github.com/leapstack-labs/leapmetrics/pkg/validate"
)

// Options configures a Server.
type Options struct {
	Project *model.Project
	Config  config.ServerConfig
	// Pool runs compiled queries. Without one, run requests fail.
	Pool *adapter.Pool
	// Store records query history when set.
	Store      state.Store
	Validation *validate.Config
	// Loader and ProjectDir enable reloading the project on file changes.
	Loader     *loader.Loader
	ProjectDir string
	Watch      bool
	Logger     *slog.Logger
}

// Server serves the HTTP API.
type Server struct {
	opts   Options
	logger *slog.Logger

	// mu serializes access to the project: the user is set on the shared
	// project for the duration of one compile, and reloads swap its objects.
	mu      sync.Mutex
	project *model.Project
}

// New creates a Server.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{opts: opts, logger: logger, project: opts.Project}
}

// asUser runs fn with the project's access checks evaluated against u.
func (s *Server) asUser(u *model.User, fn func(p *model.Project) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.project.SetUser(u)
	defer s.project.SetUser(nil)
	return fn(s.project)
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.Recoverer,
		requestLogger(s.logger),
	)
	if len(s.opts.Config.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.opts.Config.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(authenticate(s.opts.Config.JWTSecret))
		r.Group(func(r chi.Router) {
			if s.opts.Config.RateLimit > 0 {
				r.Use(rateLimiter(s.opts.Config.RateLimit, s.opts.Config.RateBurst))
			}
			r.Post("/query", s.handleQuery)
			r.Post("/convert", s.handleConvert)
		})
		r.Get("/metrics", s.handleListFields(true))
		r.Get("/dimensions", s.handleListFields(false))
		r.Get("/validate", s.handleValidate)
		r.Get("/queries", s.handleListQueries)
		r.Get("/queries/{id}", s.handleGetQuery)
	})
	return r
}

// Serve listens on the configured address until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	addr := s.opts.Config.Addr
	if addr == "" {
		addr = config.DefaultServerAddr
	}
	s.logger.Info("starting server", slog.String("addr", addr))

	eg, egctx := errgroup.WithContext(ctx)
	srv := &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.opts.Watch && s.opts.Loader != nil {
		eg.Go(func() error {
			return s.watchFiles(egctx)
		})
	}

	eg.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Debug("shutting down server")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

// reload re-reads the project directory.
func (s *Server) reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts.Loader.Reload(ctx, s.project, s.opts.ProjectDir)
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}
