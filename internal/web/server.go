package web

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/hpungsan/rulesync/internal/config"
	"github.com/hpungsan/rulesync/internal/errors"
	"github.com/hpungsan/rulesync/internal/metrics"
	"github.com/hpungsan/rulesync/internal/ops"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

// Options configures the web UI.
type Options struct {
	// Workspace is the root POST /api/apply writes into. Requests cannot change it.
	Workspace string
	Version   string
	Logger    zerolog.Logger
}

// NewRouter builds the HTTP handler for the rules browser and its JSON API.
func NewRouter(cat ops.Catalogue, cfg *config.Config, opts Options) http.Handler {
	templateSub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		panic(fmt.Sprintf("template sub-FS: %v", err))
	}
	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(fmt.Sprintf("static sub-FS: %v", err))
	}

	h := &Handlers{
		cat:       cat,
		cfg:       cfg,
		workspace: opts.Workspace,
		logger:    opts.Logger,
		renderer:  NewRenderer(templateSub, opts.Version, opts.Logger),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(hlog.NewHandler(opts.Logger))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, d time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Dur("took", d).
			Msg("request")
	}))
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)

	r.Get("/", h.HandleIndex)
	r.Get("/rules/{slug}", h.HandleRule)

	r.Route("/api", func(r chi.Router) {
		r.Use(crossOriginProtection().Handler)
		r.Get("/rules", h.HandleAPIRules)
		r.Get("/categories", h.HandleAPICategories)
		r.Get("/status", h.HandleAPIStatus)
		r.Post("/sync", h.HandleAPISync)
		r.With(middleware.AllowContentType("application/json")).Post("/apply", h.HandleAPIApply)
	})

	r.Handle("/metrics", metrics.Handler())
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServerFS(staticSub)))

	return r
}

// NewServer creates the HTTP server for the web UI.
func NewServer(cat ops.Catalogue, cfg *config.Config, opts Options, bind string, port int) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", bind, port),
		Handler:           NewRouter(cat, cfg, opts),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// securityHeaders adds security-related HTTP headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'self'; script-src 'self'; style-src 'self'; img-src 'self' https:")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// crossOriginProtection refuses state-changing API requests sent by other sites.
// Browsers always label those with Sec-Fetch-Site or Origin; local clients that
// send neither header are let through.
func crossOriginProtection() *http.CrossOriginProtection {
	cop := http.NewCrossOriginProtection()
	cop.SetDenyHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		renderJSONError(w, errors.NewForbidden("cross-origin request refused"))
	}))
	return cop
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, srv *http.Server, logger zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info().Str("addr", "http://"+srv.Addr).Msg("rulesync UI running")
	if strings.HasPrefix(srv.Addr, "0.0.0.0:") || strings.HasPrefix(srv.Addr, "[::]:") || strings.HasPrefix(srv.Addr, ":") {
		logger.Warn().Msg("server is binding to all interfaces and may be accessible from the network")
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
