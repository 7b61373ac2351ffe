package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mdobak/go-xerrors"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/tewa-sim/tewa/internal/engine"
	"github.com/tewa-sim/tewa/internal/observability"
	"github.com/tewa-sim/tewa/internal/rpc"
	"github.com/tewa-sim/tewa/internal/scenario"
	"github.com/tewa-sim/tewa/internal/store"
	"github.com/tewa-sim/tewa/server/internal/alerts"
	"github.com/tewa-sim/tewa/server/internal/api"
	"github.com/tewa-sim/tewa/server/internal/auth"
	"github.com/tewa-sim/tewa/server/internal/config"
	"github.com/tewa-sim/tewa/server/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	envFile := flag.String("env-file", ".env", "load environment variables from this file if it exists")
	flag.Parse()

	// Secrets referenced by key_env / url_env may live in a .env file.
	_ = godotenv.Load(*envFile)

	level := new(slog.LevelVar)
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	slog.Info("tewa-server starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal("failed to load config", err)
	}
	s := cfg.Server
	level.Set(s.Log.SlogLevel())
	if s.Log.Format == "text" {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
	}

	slog.Info("config loaded",
		"grpc_port", s.GRPCPort,
		"http_port", s.HTTPPort,
		"auth_mode", s.Auth.Mode,
		"storage", s.Storage.Backend,
		"retention", s.Storage.Retention,
		"scenarios", len(s.Scenarios),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := observability.InitTracing(ctx, s.Tracing)
	if err != nil {
		fatal("failed to init tracing", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing)

	metrics, err := observability.NewMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		fatal("failed to register metrics", err)
	}

	// Score store with background retention eviction.
	defaults := s.DefaultParams()
	st, err := store.Open(s.Storage.Backend, s.Storage.Path, store.Options{
		Retention: s.Storage.Retention,
		Defaults:  &defaults,
	})
	if err != nil {
		fatal("failed to open store", err)
	}
	defer st.Close()
	go store.Run(ctx, st, s.Storage.Retention, nil)

	results, err := scenario.SeedFiles(ctx, st, s.Scenarios, scenario.SeedOptions{})
	if err != nil {
		fatal("failed to seed scenarios", err)
	}
	slog.Info("scenarios seeded", "files", len(results))

	// Alerts engine and WebSocket hub both observe every compute run.
	alertEngine := alerts.New(s.Alerts, metrics)
	hub := ws.New(st, s.Broadcast.Interval, s.Broadcast.TopN, metrics)
	go hub.Run(ctx)

	eng := engine.New(st, engine.Config{
		Workers:   s.Engine.Workers,
		Metrics:   metrics,
		Observers: []engine.Observer{alertEngine, hub},
	})

	authHeader := s.Auth.EffectiveHeader()
	authKey := s.Auth.Key()
	if s.Auth.Mode == auth.ModeAPIKey && authKey == "" {
		slog.Warn("auth mode is apikey but no key is set; all calls are allowed", "key_env", s.Auth.KeyEnv)
	}

	// gRPC ThreatService with optional API key authentication.
	grpcSrv := grpc.NewServer(rpc.ServerOptions(metrics,
		auth.APIKeyInterceptor(s.Auth.Mode, authHeader, authKey),
	)...)
	rpc.Register(grpcSrv, rpc.NewServer(eng, st, s.Engine.Method))
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	healthSrv.SetServingStatus(rpc.ServiceName, healthpb.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.GRPCPort))
	if err != nil {
		fatal("failed to listen on gRPC port", err)
	}

	go func() {
		slog.Info("gRPC ThreatService listening", "port", s.GRPCPort)
		if err := grpcSrv.Serve(lis); err != nil {
			slog.Error("gRPC server stopped", "err", err)
		}
	}()

	// Combined HTTP server: REST API, WebSocket board and metrics on HTTPPort.
	httpMux := http.NewServeMux()
	httpMux.Handle("/api/", api.New(st, eng, alertEngine, api.Options{
		DefaultMethod: s.Engine.Method,
		BoardTopN:     s.Broadcast.TopN,
	}))
	httpMux.Handle("/ws/board", hub)
	httpMux.Handle("/metrics", metrics.Handler())

	requireKey := auth.HTTPMiddleware(s.Auth.Mode, authHeader, authKey,
		"/metrics", "/api/v1/health", "/api/v1/ping")

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.HTTPPort),
		Handler:           requireKey(httpMux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", s.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server stopped", "err", err)
		}
	}()

	// Hot reload: alert rules and log level follow the config file.
	go func() {
		err := config.Watch(ctx, *configPath, func(c *config.Config) {
			level.Set(c.Server.Log.SlogLevel())
			alertEngine.SetConfig(c.Server.Alerts)
			slog.Info("server config: applied reload",
				"log_level", c.Server.Log.Level,
				"alert_rules", len(c.Server.Alerts.Rules),
			)
		})
		if err != nil {
			slog.Warn("server config: watch stopped", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("tewa-server shutting down")
	healthSrv.Shutdown()
	grpcSrv.GracefulStop()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
}

// fatal logs err with its stack trace and exits.
func fatal(msg string, err error) {
	slog.Error(msg, slog.Any("err", xerrors.New(err)))
	os.Exit(1)
}
