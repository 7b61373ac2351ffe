package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mdobak/go-xerrors"

	"github.com/tewa-sim/tewa/agent/internal/config"
	"github.com/tewa-sim/tewa/agent/internal/local"
	"github.com/tewa-sim/tewa/agent/internal/trigger"
	"github.com/tewa-sim/tewa/internal/engine"
	"github.com/tewa-sim/tewa/internal/store"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	envFile := flag.String("env-file", ".env", "load environment variables from this file if it exists")
	flag.Parse()

	_ = godotenv.Load(*envFile)

	level := new(slog.LevelVar)
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	slog.Info("tewa-agent starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal("failed to load config", err)
	}
	a := cfg.Agent
	level.Set(a.Log.SlogLevel())
	if a.Log.Format == "text" {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Hot-reload applies the log level and cycle settings; endpoint, auth
	// and storage changes need a restart.
	var apply func(config.AgentConfig)

	if a.Remote() {
		slog.Info("config loaded",
			"mode", "remote",
			"server_endpoint", a.ServerEndpoint,
			"scenario_ids", a.ScenarioIDs,
			"interval", a.Interval,
			"auth_mode", a.ServerAuth.Mode,
		)
		t := trigger.New(a)
		apply = t.SetConfig
		go func() {
			if err := t.Run(ctx); err != nil {
				fatal("trigger stopped", err)
			}
		}()
	} else {
		slog.Info("config loaded",
			"mode", "local",
			"scenarios", len(a.Scenarios),
			"storage", a.Storage.Backend,
			"interval", a.Interval,
		)
		params := a.DefaultParams()
		st, err := store.Open(a.Storage.Backend, a.Storage.Path, store.Options{
			Retention: a.Storage.Retention,
			Defaults:  &params,
		})
		if err != nil {
			fatal("failed to open store", err)
		}
		defer st.Close()
		go store.Run(ctx, st, a.Storage.Retention, nil)

		r := local.New(st, engine.New(st, engine.Config{}), a)
		if err := r.Seed(ctx); err != nil {
			fatal("failed to seed scenarios", err)
		}
		apply = r.SetConfig
		go func() {
			if err := r.Watch(ctx); err != nil {
				slog.Error("scenario watcher stopped", "err", err)
			}
		}()
		go r.Run(ctx)
	}

	go func() {
		if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
			level.Set(updated.Agent.Log.SlogLevel())
			apply(updated.Agent)
			slog.Info("config hot-reloaded",
				"interval", updated.Agent.Interval,
				"top_n", updated.Agent.TopN,
				"method", updated.Agent.Method,
			)
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("tewa-agent shutting down")
}

// fatal logs err with its stack trace and exits.
func fatal(msg string, err error) {
	slog.Error(msg, slog.Any("err", xerrors.New(err)))
	os.Exit(1)
}
