package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/tewa-sim/tewa/internal/observability"
	"github.com/tewa-sim/tewa/pkg/kinematics"
	"github.com/tewa-sim/tewa/pkg/sampler"
	"github.com/tewa-sim/tewa/pkg/scoring"
	"github.com/tewa-sim/tewa/pkg/types"
)

// DefaultWorkers bounds the number of tracks evaluated concurrently.
const DefaultWorkers = 4

// Repository is the persistence the engine reads entities from and appends
// score records to.
type Repository interface {
	Scenario(ctx context.Context, id int64) (types.Scenario, error)
	DefendedAssets(ctx context.Context, scenarioID int64) ([]types.DefendedAsset, error)
	Tracks(ctx context.Context, scenarioID int64) ([]types.Track, error)
	Samples(ctx context.Context, trackID int64) ([]types.TrackSample, error)
	// ModelParams returns the scenario's parameters, creating defaults on
	// first use.
	ModelParams(ctx context.Context, scenarioID int64) (types.ModelParams, error)
	AppendScores(ctx context.Context, recs []types.ScoreRecord) error
	// ScoresByRun returns the records already written under runTag.
	ScoresByRun(ctx context.Context, scenarioID int64, runTag string) ([]types.ScoreRecord, error)
}

// Observer is notified after the records of a run have been persisted.
type Observer interface {
	ObserveRun(ctx context.Context, res Result)
}

// Request describes one compute call.
type Request struct {
	ScenarioID int64
	When       time.Time

	// DAIDs selects defended assets: nil means all of the scenario's DAs,
	// an empty non-nil slice means none (the call is a no-op), otherwise the
	// listed ids. Ids that do not belong to the scenario are ignored.
	DAIDs []int64

	// Method is the sampling method; empty means linear.
	Method string

	// WeaponRangeKm overrides the engagement radius for TWRP. Zero means
	// each DA's own radius.
	WeaponRangeKm float64

	// RunTag labels every record of the call. Generated when empty. A tag
	// that already labels records of the scenario is rejected with
	// types.ErrConflict.
	RunTag string
}

// Result is the outcome of one compute call.
type Result struct {
	RunTag     string
	ScenarioID int64
	When       time.Time
	ComputedAt time.Time
	Records    []types.ScoreRecord
	// Skipped counts tracks without a resolvable state at When.
	Skipped int
}

// Config tunes an Engine. The zero value is usable.
type Config struct {
	// Workers bounds concurrent track evaluation. Zero means DefaultWorkers.
	Workers   int
	Metrics   *observability.Metrics
	Observers []Observer
	// Now is the clock used for ComputedAt. Defaults to time.Now.
	Now func() time.Time
}

// Engine scores every (track, DA) pair of a scenario at an instant.
//
// It holds no mutable state of its own; all exported methods are safe for
// concurrent use.
type Engine struct {
	repo      Repository
	workers   int
	metrics   *observability.Metrics
	observers []Observer
	now       func() time.Time
}

// New returns an Engine reading from and writing to repo.
func New(repo Repository, cfg Config) *Engine {
	e := &Engine{
		repo:      repo,
		workers:   cfg.Workers,
		metrics:   cfg.Metrics,
		observers: cfg.Observers,
		now:       cfg.Now,
	}
	if e.workers <= 0 {
		e.workers = DefaultWorkers
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// AddObserver registers o for subsequent runs. It must not be called
// concurrently with Compute.
func (e *Engine) AddObserver(o Observer) {
	e.observers = append(e.observers, o)
}

// Now returns the engine clock reading.
func (e *Engine) Now() time.Time { return e.now() }

// Compute evaluates the request and persists the resulting records under a
// single run tag.
//
// Validation and lookup failures return an error wrapping types.ErrInvalidInput
// or types.ErrNotFound and persist nothing. Tracks whose state cannot be
// resolved are skipped, not failed.
func (e *Engine) Compute(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	ctx, span := otel.Tracer("tewa/engine").Start(ctx, "engine.Compute")
	defer span.End()
	span.SetAttributes(attribute.Int64("scenario.id", req.ScenarioID))

	res, err := e.compute(ctx, req)

	outcome := observability.OutcomeOK
	switch {
	case errors.Is(err, types.ErrInvalidInput), errors.Is(err, types.ErrNotFound):
		outcome = observability.OutcomeInvalid
	case err != nil:
		outcome = observability.OutcomeError
	}
	e.metrics.ObserveRun(outcome, len(res.Records), res.Skipped, time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	span.SetAttributes(
		attribute.String("run.tag", res.RunTag),
		attribute.Int("records", len(res.Records)),
		attribute.Int("skipped", res.Skipped),
	)

	slog.Info("engine: run complete",
		"scenario", req.ScenarioID,
		"run_tag", res.RunTag,
		"when", res.When,
		"records", len(res.Records),
		"skipped", res.Skipped,
		"elapsed", time.Since(start),
	)
	for _, o := range e.observers {
		o.ObserveRun(ctx, res)
	}
	return res, nil
}

func (e *Engine) compute(ctx context.Context, req Request) (Result, error) {
	method, err := sampler.ParseMethod(req.Method)
	if err != nil {
		return Result{}, fmt.Errorf("engine: %w", err)
	}
	if req.When.IsZero() {
		return Result{}, fmt.Errorf("engine: when is required: %w", types.ErrInvalidInput)
	}
	if math.IsNaN(req.WeaponRangeKm) || math.IsInf(req.WeaponRangeKm, 0) || req.WeaponRangeKm < 0 {
		return Result{}, fmt.Errorf("engine: weapon_range_km %v must be >= 0 (0 = DA radius): %w", req.WeaponRangeKm, types.ErrInvalidInput)
	}

	scenario, err := e.repo.Scenario(ctx, req.ScenarioID)
	if err != nil {
		return Result{}, fmt.Errorf("engine: scenario %d: %w", req.ScenarioID, err)
	}
	params, err := e.repo.ModelParams(ctx, scenario.ID)
	if err != nil {
		return Result{}, fmt.Errorf("engine: params for scenario %d: %w", scenario.ID, err)
	}

	runTag := req.RunTag
	if runTag == "" {
		runTag = uuid.NewString()
	} else {
		prev, err := e.repo.ScoresByRun(ctx, scenario.ID, runTag)
		if err != nil {
			return Result{}, fmt.Errorf("engine: run %s: %w", runTag, err)
		}
		if len(prev) > 0 {
			return Result{}, fmt.Errorf("engine: run tag %q already used in scenario %d: %w", runTag, scenario.ID, types.ErrConflict)
		}
	}
	res := Result{
		RunTag:     runTag,
		ScenarioID: scenario.ID,
		When:       req.When.UTC(),
		ComputedAt: e.now().UTC(),
	}

	das, err := e.selectDAs(ctx, scenario.ID, req.DAIDs)
	if err != nil {
		return Result{}, err
	}
	if len(das) == 0 {
		return res, nil
	}

	tracks, err := e.repo.Tracks(ctx, scenario.ID)
	if err != nil {
		return Result{}, fmt.Errorf("engine: tracks for scenario %d: %w", scenario.ID, err)
	}

	// One slot per track keeps the output order independent of scheduling.
	perTrack := make([][]types.ScoreRecord, len(tracks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, tr := range tracks {
		g.Go(func() error {
			samples, err := e.repo.Samples(gctx, tr.ID)
			if err != nil {
				return fmt.Errorf("engine: samples for track %q: %w", tr.Ref, err)
			}
			state, ok := sampler.StateAt(tr, samples, res.When, method)
			if !ok {
				slog.Debug("engine: no state for track, skipping",
					"scenario", scenario.ID, "track", tr.Ref, "when", res.When)
				return nil
			}
			perTrack[i] = scoreTrack(tr, state, das, params, req.WeaponRangeKm, res, method)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	for _, recs := range perTrack {
		if recs == nil {
			res.Skipped++
			continue
		}
		res.Records = append(res.Records, recs...)
	}

	if len(res.Records) > 0 {
		if err := e.repo.AppendScores(ctx, res.Records); err != nil {
			return Result{}, fmt.Errorf("engine: persist run %s: %w", runTag, err)
		}
	}
	return res, nil
}

// selectDAs applies the DA selection rule of Request.DAIDs.
func (e *Engine) selectDAs(ctx context.Context, scenarioID int64, ids []int64) ([]types.DefendedAsset, error) {
	if ids != nil && len(ids) == 0 {
		return nil, nil
	}
	all, err := e.repo.DefendedAssets(ctx, scenarioID)
	if err != nil {
		return nil, fmt.Errorf("engine: defended assets for scenario %d: %w", scenarioID, err)
	}
	if ids == nil {
		return all, nil
	}
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := make([]types.DefendedAsset, 0, len(ids))
	for _, da := range all {
		if want[da.ID] {
			out = append(out, da)
		}
	}
	return out, nil
}

// scoreTrack evaluates one resolved track state against every DA. It is
// pure: identical inputs give identical records.
func scoreTrack(tr types.Track, state types.KinematicState, das []types.DefendedAsset,
	params types.ModelParams, weaponRangeKm float64, run Result, method sampler.Method) []types.ScoreRecord {

	out := make([]types.ScoreRecord, 0, len(das))
	for _, da := range das {
		wr := weaponRangeKm
		if wr == 0 {
			wr = da.RadiusKm
		}
		k := kinematics.Evaluate(kinematics.Geometry{
			DA:            da.Center,
			DARadiusKm:    da.RadiusKm,
			WeaponRangeKm: wr,
			Track:         state.Position(),
			SpeedMps:      state.SpeedMps,
			HeadingDeg:    state.HeadingDeg,
		})
		comps := Components(k)
		sc := scoring.Compute(scoring.FromComponents(comps), params)

		out = append(out, types.ScoreRecord{
			ScenarioID: run.ScenarioID,
			DAID:       da.ID,
			DAName:     da.Name,
			TrackID:    tr.ID,
			TrackRef:   tr.Ref,
			RunTag:     run.RunTag,
			Method:     string(method),
			SampledAt:  state.At.UTC(),
			Source:     state.Source,
			Components: comps,
			Score:      sc.Score,
			Level:      sc.Level,
			ComputedAt: run.ComputedAt,
		})
	}
	return out
}

// Components converts a kinematics result into persisted components:
// a past or undefined TCPA and a never-reached TDB/TWRP become nil.
func Components(k kinematics.Result) types.Components {
	return types.Components{
		CPAKm: k.CPAKm,
		TCPAS: types.Float(k.TCPAS),
		TDBKm: k.RangeKm,
		TDBS:  types.Float(k.TDB.Time()),
		TWRPS: types.Float(k.TWRP.Time()),
	}
}
