// CAPS Tutor - WhatsApp tutoring chatbot server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/ashureev/caps-tutor/internal/api"
	"github.com/ashureev/caps-tutor/internal/app"
	"github.com/ashureev/caps-tutor/internal/chatws"
	"github.com/ashureev/caps-tutor/internal/config"
	"github.com/ashureev/caps-tutor/internal/identity"
	"github.com/ashureev/caps-tutor/internal/middleware"
	"github.com/ashureev/caps-tutor/internal/store"
	"github.com/ashureev/caps-tutor/web"
)

const healthProbeInterval = 15 * time.Second

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server",
		"port", cfg.Port,
		"dev", cfg.IsDevelopment(),
		"session_backend", cfg.Session.Backend,
		"llm_provider", cfg.LLM.Provider,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tutor, err := app.New(ctx, cfg, logger, app.WithChannel("api"))
	if err != nil {
		slog.Error("Failed to initialize tutor", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := tutor.Close(); closeErr != nil {
			slog.Error("Failed to close tutor", "error", closeErr)
		}
	}()

	if err := tutor.Store.Ping(ctx); err != nil {
		slog.Error("Session store health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Session store connected", "backend", cfg.Session.Backend)

	store.StartSweeper(ctx, tutor.Store, cfg.Session.IdleTTL, cfg.Session.SweepInterval)

	limiter := middleware.NewRateLimiter(cfg.RateLimitPerMinute)
	limiter.StartEviction(ctx, 5*time.Minute)

	apiHandler := api.NewHandler(tutor.Brain, tutor.Store, limiter, tutor.Metrics, cfg.IsDevelopment(), logger)
	wsHandler := chatws.NewHandler(tutor.Brain, limiter, tutor.Metrics, cfg.FrontendURL, cfg.IsDevelopment(), logger)

	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))

	r.Handle("/metrics", promhttp.HandlerFor(tutor.Registry, promhttp.HandlerOpts{Registry: tutor.Registry}))
	apiHandler.RegisterRoutes(r)

	// Simulator routes carry a browser identity cookie.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(cfg.IsDevelopment()))
		r.Get("/ws/chat", wsHandler.ServeHTTP)
		r.Handle("/*", web.SPAHandler())
	})

	// WebSocket connections are long-lived, so no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	grpcSrv := startGRPCHealth(ctx, cfg.GRPCHealthPort, tutor.Store)

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server stopped successfully")
}

// startGRPCHealth serves the standard gRPC health service on port, reporting
// NOT_SERVING while the session store is unreachable. An empty port disables
// it.
func startGRPCHealth(ctx context.Context, port string, sessions store.SessionStore) *grpc.Server {
	if port == "" {
		return nil
	}
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		slog.Error("Failed to listen for gRPC health", "port", port, "error", err)
		return nil
	}

	hs := health.NewServer()
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	probe := func() {
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		status := healthpb.HealthCheckResponse_SERVING
		if err := sessions.Ping(pctx); err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			slog.Warn("Session store unreachable", "error", err)
		}
		hs.SetServingStatus("", status)
	}
	probe()

	go func() {
		ticker := time.NewTicker(healthProbeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				hs.Shutdown()
				return
			case <-ticker.C:
				probe()
			}
		}
	}()

	go func() {
		slog.Info("gRPC health listening", "addr", lis.Addr().String())
		if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			slog.Error("gRPC health server failed", "error", err)
		}
	}()
	return srv
}
