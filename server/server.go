package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/relaymail/relaymail/lib"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// NewRouter builds the HTTP surface of the relay.
func NewRouter(app *App) chi.Router {
	settings := app.Config.Settings

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(AccessLog(app.Log.Named("http")))
	router.Use(middleware.Recoverer)
	if settings.Network.RequestTimeout > 0 {
		router.Use(middleware.Timeout(time.Duration(settings.Network.RequestTimeout) * time.Second))
	}

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	router.Get("/healthz", lib.HealthHandler(app.DB, app.Redis))
	router.Handle("/metrics", promhttp.Handler())
	router.Post("/api/v1/send", app.Pipeline.SendHandler)

	var authLimit func(http.Handler) http.Handler
	if settings.RateLimit.Enabled {
		authLimit = httprate.LimitByIP(settings.RateLimit.Max, time.Duration(settings.RateLimit.Window)*time.Second)
	}
	app.Dashboard.Routes(router, authLimit)

	return router
}

// StartServer serves the relay until ctx is cancelled or the process gets
// SIGINT/SIGTERM, then drains in-flight requests.
func StartServer(ctx context.Context, app *App) error {
	settings := app.Config.Settings
	addr := fmt.Sprintf(":%d", settings.Network.Port)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return Serve(ctx, app, listener)
}

// Serve is StartServer on an existing listener.
func Serve(ctx context.Context, app *App, listener net.Listener) error {
	srv := &http.Server{
		Handler:           NewRouter(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		app.Log.Info("server is starting", zap.String("addr", listener.Addr().String()))
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		app.Log.Info("starting shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), app.Config.Settings.Network.ShutdownGrace())
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		app.Log.Error("server error", zap.Error(err))
		return err
	}
	app.Log.Info("server stopped")
	return nil
}
