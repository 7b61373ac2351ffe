package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tewa-sim/tewa/pkg/types"
)

// Store is the persistence collaborator of the engine, the ranker and the
// API. Memory and SQLite both implement it and are safe for concurrent use.
//
// Lookups of unknown ids return an error wrapping types.ErrNotFound. Put*
// methods upsert by natural key (scenario name, DA name within a scenario,
// track ref within a scenario) and return the stored entity with its id.
type Store interface {
	PutScenario(ctx context.Context, s types.Scenario) (types.Scenario, error)
	Scenario(ctx context.Context, id int64) (types.Scenario, error)
	Scenarios(ctx context.Context) ([]types.Scenario, error)

	PutDefendedAsset(ctx context.Context, da types.DefendedAsset) (types.DefendedAsset, error)
	DefendedAsset(ctx context.Context, id int64) (types.DefendedAsset, error)
	DefendedAssets(ctx context.Context, scenarioID int64) ([]types.DefendedAsset, error)

	PutTrack(ctx context.Context, t types.Track) (types.Track, error)
	Tracks(ctx context.Context, scenarioID int64) ([]types.Track, error)
	TrackByRef(ctx context.Context, scenarioID int64, ref string) (types.Track, error)

	// AppendSample adds an observation. A second sample for the same track
	// and instant fails with types.ErrConflict.
	AppendSample(ctx context.Context, s types.TrackSample) error
	// Samples returns the track's samples ordered by time ascending.
	Samples(ctx context.Context, trackID int64) ([]types.TrackSample, error)

	// ModelParams returns the scenario's parameters, creating the configured
	// defaults on first use.
	ModelParams(ctx context.Context, scenarioID int64) (types.ModelParams, error)
	PutModelParams(ctx context.Context, p types.ModelParams) error

	// AppendScores persists recs and sets their ID fields.
	AppendScores(ctx context.Context, recs []types.ScoreRecord) error
	// ScoresByRun returns exactly the records written under runTag.
	ScoresByRun(ctx context.Context, scenarioID int64, runTag string) ([]types.ScoreRecord, error)
	// ScoresForDA returns every record of (scenario, DA).
	ScoresForDA(ctx context.Context, scenarioID, daID int64) ([]types.ScoreRecord, error)
	// LatestScore returns the newest record for (scenario, DA, track) by
	// ComputedAt then ID, at or before at unless at is zero.
	LatestScore(ctx context.Context, scenarioID, daID, trackID int64, at time.Time) (types.ScoreRecord, error)
	// LatestPerTrack returns the newest record of each track for (scenario, DA),
	// ordered by score descending.
	LatestPerTrack(ctx context.Context, scenarioID, daID int64) ([]types.ScoreRecord, error)
	// ScoreSeries returns (computed_at, score) for (scenario, DA, track) in
	// ascending time, bounded by from and to unless they are zero.
	ScoreSeries(ctx context.Context, scenarioID, daID, trackID int64, from, to time.Time) ([]types.SeriesPoint, error)
	CountScores(ctx context.Context) (int, error)

	// Evict removes score records computed at or before now minus the
	// retention window and returns how many were removed.
	Evict(ctx context.Context, now time.Time) (int, error)
	Close() error
}

// Options tunes a store. The zero value keeps records forever and uses
// types.DefaultModelParams for new scenarios.
type Options struct {
	// Retention is how long score records are kept. Zero disables eviction.
	Retention time.Duration
	// Defaults are the parameters created for scenarios without any.
	Defaults *types.ModelParams
	// Now is the clock used by Run. Defaults to time.Now.
	Now func() time.Time
}

func (o Options) defaults() types.ModelParams {
	if o.Defaults != nil {
		return *o.Defaults
	}
	return types.DefaultModelParams()
}

func (o Options) clock() func() time.Time {
	if o.Now != nil {
		return o.Now
	}
	return time.Now
}

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// Open returns the store named by backend. path is only used by SQLite.
func Open(backend, path string, opts Options) (Store, error) {
	switch strings.ToLower(backend) {
	case BackendMemory, "":
		return NewMemory(opts), nil
	case BackendSQLite:
		return OpenSQLite(path, opts)
	default:
		return nil, fmt.Errorf("store: unknown backend %q: %w", backend, types.ErrInvalidInput)
	}
}

// Run evicts expired score records until ctx is cancelled. It ticks at half
// the retention window (minimum 1 second) and returns immediately when
// retention is disabled.
func Run(ctx context.Context, s Store, retention time.Duration, now func() time.Time) {
	if retention <= 0 {
		return
	}
	if now == nil {
		now = time.Now
	}
	interval := retention / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := s.Evict(ctx, now())
			if err != nil {
				slog.Warn("store: eviction failed", "err", err)
				continue
			}
			if n > 0 {
				slog.Debug("store: evicted expired score records", "count", n)
			}
		}
	}
}
