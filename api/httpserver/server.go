package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"maps"
	"net/http"
	"time"

	"github.com/flashbots/go-utils/httplogger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/atomic"
)

// RouteRegistrar is implemented by components that mount their routes on
// the server's router.
type RouteRegistrar interface {
	RegisterRoutes(r chi.Router)
}

// HealthReporter is optionally implemented by registrars whose state belongs
// in the /livez body.
type HealthReporter interface {
	Health() map[string]any
}

// Config holds the listener and lifecycle settings of a BaseServer.
type Config struct {
	ListenAddr string

	// AllowedOrigins enables CORS for browser dashboards. Empty disables it.
	AllowedOrigins []string

	EnablePprof bool
	Log         *slog.Logger

	// DrainDuration is how long /readyz reports not ready before Shutdown
	// stops accepting connections.
	DrainDuration time.Duration

	GracefulShutdownDuration time.Duration
	ReadTimeout              time.Duration
	WriteTimeout             time.Duration
}

// BaseServer serves a node's routes next to health and drain endpoints.
type BaseServer struct {
	cfg     *Config
	log     *slog.Logger
	isReady atomic.Bool
	started atomic.Time

	reporters []HealthReporter
	srv       *http.Server
}

// New builds a server around the given registrars.
func New(cfg *Config, routeRegistrars ...RouteRegistrar) (*BaseServer, error) {
	if cfg.ListenAddr == "" {
		return nil, errors.New("listen address is required")
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	srv := &BaseServer{cfg: cfg, log: log}
	for _, registrar := range routeRegistrars {
		if reporter, ok := registrar.(HealthReporter); ok {
			srv.reporters = append(srv.reporters, reporter)
		}
	}
	srv.srv = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.createRouter(routeRegistrars),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	srv.isReady.Store(true)
	srv.started.Store(time.Now())
	return srv, nil
}

// Handler exposes the router, mostly for tests.
func (srv *BaseServer) Handler() http.Handler {
	return srv.srv.Handler
}

func (srv *BaseServer) createRouter(routeRegistrars []RouteRegistrar) http.Handler {
	mux := chi.NewRouter()

	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(srv.httpLogger)
	mux.Use(middleware.Recoverer)
	if len(srv.cfg.AllowedOrigins) > 0 {
		mux.Use(cors.Handler(cors.Options{
			AllowedOrigins: srv.cfg.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
			MaxAge:         300,
		}))
	}

	for _, registrar := range routeRegistrars {
		registrar.RegisterRoutes(mux)
	}

	mux.Get("/livez", srv.handleLiveness)
	mux.Get("/readyz", srv.handleReadiness)
	mux.Get("/drain", srv.setReadiness(false))
	mux.Get("/undrain", srv.setReadiness(true))

	if srv.cfg.EnablePprof {
		srv.log.Info("pprof API enabled")
		mux.Mount("/debug", middleware.Profiler())
	}

	return mux
}

func (srv *BaseServer) httpLogger(next http.Handler) http.Handler {
	return httplogger.LoggingMiddlewareSlog(srv.log, next)
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}

func (srv *BaseServer) handleLiveness(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{}
	for _, reporter := range srv.reporters {
		maps.Copy(body, reporter.Health())
	}
	body["status"] = "alive"
	body["uptime"] = time.Since(srv.started.Load()).Round(time.Second).String()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body)
}

func (srv *BaseServer) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if !srv.isReady.Load() {
		writeStatus(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	writeStatus(w, http.StatusOK, "ready")
}

// setReadiness flips what /readyz reports, letting a load balancer take the
// node out of rotation before a restart.
func (srv *BaseServer) setReadiness(ready bool) http.HandlerFunc {
	status, already := "draining", "already draining"
	if ready {
		status, already = "ready", "already ready"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if srv.isReady.Swap(ready) == ready {
			writeStatus(w, http.StatusOK, already)
			return
		}
		srv.log.Info("readiness changed", "ready", ready)
		writeStatus(w, http.StatusOK, status)
	}
}

// Serve listens until ctx ends, then drains and shuts down. It returns the
// listener error, if any.
func (srv *BaseServer) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		srv.log.Info("Starting HTTP server", "listenAddress", srv.cfg.ListenAddr)
		if err := srv.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	srv.Shutdown()
	return <-errCh
}

// Shutdown marks the server not ready, waits out the drain period and then
// stops it, letting in-flight requests finish.
func (srv *BaseServer) Shutdown() {
	if srv.isReady.Swap(false) && srv.cfg.DrainDuration > 0 {
		srv.log.Info("Draining before shutdown", "duration", srv.cfg.DrainDuration)
		time.Sleep(srv.cfg.DrainDuration)
	}

	ctx, cancel := context.WithTimeout(context.Background(), srv.cfg.GracefulShutdownDuration)
	defer cancel()
	if err := srv.srv.Shutdown(ctx); err != nil {
		srv.log.Error("Graceful HTTP server shutdown failed", "err", err)
		return
	}
	srv.log.Info("HTTP server gracefully stopped")
}
