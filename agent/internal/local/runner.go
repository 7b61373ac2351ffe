package local

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tewa-sim/tewa/agent/internal/config"
	"github.com/tewa-sim/tewa/agent/internal/report"
	"github.com/tewa-sim/tewa/internal/engine"
	"github.com/tewa-sim/tewa/internal/ranker"
	"github.com/tewa-sim/tewa/internal/scenario"
	"github.com/tewa-sim/tewa/internal/store"
)

// Runner scores every scenario of its store in-process at a fixed interval.
type Runner struct {
	st  store.Store
	eng *engine.Engine
	log *slog.Logger

	mu  sync.Mutex
	cfg config.AgentConfig
}

// New returns a Runner computing over st with eng.
func New(st store.Store, eng *engine.Engine, cfg config.AgentConfig) *Runner {
	return &Runner{
		st:  st,
		eng: eng,
		cfg: cfg,
		log: slog.Default().With("component", "local"),
	}
}

// SetConfig replaces the cycle settings.
func (r *Runner) SetConfig(cfg config.AgentConfig) {
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()
}

func (r *Runner) config() config.AgentConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}

// Seed loads every configured scenario file into the store. Params in a file
// only apply to scenarios it creates.
func (r *Runner) Seed(ctx context.Context) error {
	res, err := scenario.SeedFiles(ctx, r.st, r.config().Scenarios, scenario.SeedOptions{})
	if err != nil {
		return fmt.Errorf("local: seed: %w", err)
	}
	r.log.Info("local: scenarios seeded", "count", len(res))
	return nil
}

// Reseed reloads one scenario file after it changed on disk. Its params
// overwrite the stored ones.
func (r *Runner) Reseed(ctx context.Context, path string) error {
	f, err := scenario.Load(path)
	if err != nil {
		return fmt.Errorf("local: reseed %s: %w", path, err)
	}
	res, err := scenario.Seed(ctx, r.st, f, scenario.SeedOptions{OverwriteParams: true})
	if err != nil {
		return fmt.Errorf("local: reseed %s: %w", path, err)
	}
	r.log.Info("local: scenario reseeded",
		"path", path,
		"scenario", res.Scenario.Name,
		"samples_added", res.SamplesAdded,
	)
	return nil
}

// Watch reseeds scenario files as they change until ctx is cancelled.
func (r *Runner) Watch(ctx context.Context) error {
	return config.WatchFiles(ctx, r.config().Scenarios, func(path string) {
		if err := r.Reseed(ctx, path); err != nil {
			r.log.Error("local: reseed failed", "path", path, "err", err)
		}
	})
}

// Run fires a cycle immediately and then every interval until ctx is
// cancelled.
func (r *Runner) Run(ctx context.Context) {
	interval := r.config().Interval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.Cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Cycle(ctx)
			if next := r.config().Interval; next != interval {
				interval = next
				ticker.Reset(interval)
				r.log.Info("local: interval changed", "interval", interval)
			}
		}
	}
}

// Cycle computes every scenario once at the engine clock and logs the newest
// ranking of each. It returns the number of records written.
func (r *Runner) Cycle(ctx context.Context) int {
	cfg := r.config()
	scenarios, err := r.st.Scenarios(ctx)
	if err != nil {
		r.log.Error("local: list scenarios", "err", err)
		return 0
	}

	written := 0
	for _, sc := range scenarios {
		if ctx.Err() != nil {
			return written
		}
		res, err := r.eng.Compute(ctx, engine.Request{
			ScenarioID:    sc.ID,
			When:          r.eng.Now(),
			Method:        cfg.Method,
			WeaponRangeKm: cfg.WeaponRangeKm,
		})
		if err != nil {
			r.log.Error("local: compute failed", "scenario", sc.Name, "err", err)
			continue
		}
		written += len(res.Records)

		groups, err := ranker.RankLatest(ctx, r.st, sc.ID, 0, cfg.TopN)
		if err != nil {
			r.log.Error("local: rank failed", "scenario", sc.Name, "err", err)
			continue
		}
		report.Groups(r.log, sc.ID, res.RunTag, groups)
		r.log.Debug("local: cycle done",
			"scenario", sc.Name,
			"records", len(res.Records),
			"skipped", res.Skipped,
			"highest", report.Highest(groups),
		)
	}
	return written
}
