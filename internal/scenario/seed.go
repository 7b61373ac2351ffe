package scenario

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tewa-sim/tewa/internal/store"
	"github.com/tewa-sim/tewa/pkg/types"
)

// SeedOptions tunes Seed.
type SeedOptions struct {
	// OverwriteParams applies the file's params to a scenario that already
	// exists. By default they are applied only when the scenario is created,
	// so operator changes survive a restart.
	OverwriteParams bool
}

// SeedResult reports what Seed wrote.
type SeedResult struct {
	Scenario       types.Scenario
	Created        bool
	Assets         int
	Tracks         int
	SamplesAdded   int
	SamplesSkipped int
}

// Seed writes f into st. It is idempotent: entities are upserted by natural
// key and samples already present are left untouched.
func Seed(ctx context.Context, st store.Store, f *File, opts SeedOptions) (SeedResult, error) {
	var res SeedResult

	existing, err := st.Scenarios(ctx)
	if err != nil {
		return res, fmt.Errorf("scenario: list: %w", err)
	}
	res.Created = true
	for _, s := range existing {
		if s.Name == f.Name {
			res.Created = false
			break
		}
	}

	sc, err := st.PutScenario(ctx, f.Scenario())
	if err != nil {
		return res, fmt.Errorf("scenario %q: %w", f.Name, err)
	}
	res.Scenario = sc

	if res.Created || opts.OverwriteParams {
		cur, err := st.ModelParams(ctx, sc.ID)
		if err != nil {
			return res, fmt.Errorf("scenario %q: params: %w", f.Name, err)
		}
		next, err := cur.Apply(f.Params)
		if err != nil {
			return res, fmt.Errorf("scenario %q: params: %w", f.Name, err)
		}
		if err := st.PutModelParams(ctx, next); err != nil {
			return res, fmt.Errorf("scenario %q: params: %w", f.Name, err)
		}
	}

	for _, a := range f.Assets {
		if _, err := st.PutDefendedAsset(ctx, a.entity(sc.ID)); err != nil {
			return res, fmt.Errorf("scenario %q: %w", f.Name, err)
		}
		res.Assets++
	}

	for _, t := range f.Tracks {
		tr, err := st.PutTrack(ctx, types.Track{ScenarioID: sc.ID, Ref: t.ID, Snapshot: t.Snapshot})
		if err != nil {
			return res, fmt.Errorf("scenario %q: %w", f.Name, err)
		}
		res.Tracks++
		for _, s := range t.Samples {
			err := st.AppendSample(ctx, types.TrackSample{TrackID: tr.ID, T: s.T.UTC(), Kinematics: s.Kinematics})
			switch {
			case errors.Is(err, types.ErrConflict):
				res.SamplesSkipped++
			case err != nil:
				return res, fmt.Errorf("scenario %q: track %q: %w", f.Name, t.ID, err)
			default:
				res.SamplesAdded++
			}
		}
	}

	slog.Info("scenario: seeded",
		"name", sc.Name,
		"id", sc.ID,
		"created", res.Created,
		"assets", res.Assets,
		"tracks", res.Tracks,
		"samples_added", res.SamplesAdded,
	)
	return res, nil
}

// SeedFiles loads and seeds every path in order.
func SeedFiles(ctx context.Context, st store.Store, paths []string, opts SeedOptions) ([]SeedResult, error) {
	out := make([]SeedResult, 0, len(paths))
	for _, p := range paths {
		f, err := Load(p)
		if err != nil {
			return out, err
		}
		res, err := Seed(ctx, st, f, opts)
		if err != nil {
			return out, err
		}
		out = append(out, res)
	}
	return out, nil
}
