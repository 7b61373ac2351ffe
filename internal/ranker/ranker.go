// Package ranker orders persisted score records into per-DA threat lists.
package ranker

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/tewa-sim/tewa/pkg/types"
)

// DefaultTopN is used when a caller passes topN == 0.
const DefaultTopN = 10

// Source is the read-only view of the repository the ranker needs.
type Source interface {
	DefendedAsset(ctx context.Context, id int64) (types.DefendedAsset, error)
	DefendedAssets(ctx context.Context, scenarioID int64) ([]types.DefendedAsset, error)
	ScoresForDA(ctx context.Context, scenarioID, daID int64) ([]types.ScoreRecord, error)
}

// LatestSource additionally resolves the newest record per track.
type LatestSource interface {
	Source
	LatestPerTrack(ctx context.Context, scenarioID, daID int64) ([]types.ScoreRecord, error)
}

// Threat is one ranked entry.
type Threat struct {
	TrackID    string    `json:"track_id"`
	Score      float64   `json:"score"`
	Level      string    `json:"level"`
	ComputedAt time.Time `json:"computed_at"`
	RunTag     string    `json:"run_tag,omitempty"`
}

// Group is the ranked list of one defended asset.
type Group struct {
	DAID    int64    `json:"da_id"`
	DAName  string   `json:"da_name"`
	Threats []Threat `json:"threats"`
}

// Rank returns the topN highest-scoring records of every DA of the scenario,
// or of daID alone when it is non-zero. Every persisted record competes, so a
// track scored by several runs may appear more than once.
//
// A daID outside the scenario yields types.ErrNotFound; a negative topN
// yields types.ErrInvalidInput.
func Rank(ctx context.Context, src Source, scenarioID, daID int64, topN int) ([]Group, error) {
	return rank(ctx, src, scenarioID, daID, topN, src.ScoresForDA)
}

// RankLatest is Rank restricted to the newest record of each track.
func RankLatest(ctx context.Context, src LatestSource, scenarioID, daID int64, topN int) ([]Group, error) {
	return rank(ctx, src, scenarioID, daID, topN, src.LatestPerTrack)
}

type fetchFunc func(ctx context.Context, scenarioID, daID int64) ([]types.ScoreRecord, error)

func rank(ctx context.Context, src Source, scenarioID, daID int64, topN int, fetch fetchFunc) ([]Group, error) {
	if topN < 0 {
		return nil, fmt.Errorf("ranker: top_n %d must be >= 0: %w", topN, types.ErrInvalidInput)
	}
	if topN == 0 {
		topN = DefaultTopN
	}

	das, err := scope(ctx, src, scenarioID, daID)
	if err != nil {
		return nil, err
	}

	groups := make([]Group, 0, len(das))
	for _, da := range das {
		recs, err := fetch(ctx, scenarioID, da.ID)
		if err != nil {
			return nil, fmt.Errorf("ranker: scores for DA %d: %w", da.ID, err)
		}
		Sort(recs)
		if len(recs) > topN {
			recs = recs[:topN]
		}
		g := Group{DAID: da.ID, DAName: da.Name, Threats: make([]Threat, len(recs))}
		for i, r := range recs {
			g.Threats[i] = Threat{
				TrackID:    r.TrackRef,
				Score:      r.Score,
				Level:      r.Level,
				ComputedAt: r.ComputedAt,
				RunTag:     r.RunTag,
			}
		}
		groups = append(groups, g)
	}
	return groups, nil
}

func scope(ctx context.Context, src Source, scenarioID, daID int64) ([]types.DefendedAsset, error) {
	if daID == 0 {
		das, err := src.DefendedAssets(ctx, scenarioID)
		if err != nil {
			return nil, fmt.Errorf("ranker: defended assets of scenario %d: %w", scenarioID, err)
		}
		return das, nil
	}
	da, err := src.DefendedAsset(ctx, daID)
	if err != nil {
		return nil, fmt.Errorf("ranker: %w", err)
	}
	if da.ScenarioID != scenarioID {
		return nil, fmt.Errorf("ranker: DA %d is not part of scenario %d: %w", daID, scenarioID, types.ErrNotFound)
	}
	return []types.DefendedAsset{da}, nil
}

// Sort orders records by score descending, then newest first, then track ref
// and record id ascending.
func Sort(recs []types.ScoreRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := &recs[i], &recs[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.ComputedAt.Equal(b.ComputedAt) {
			return a.ComputedAt.After(b.ComputedAt)
		}
		if a.TrackRef != b.TrackRef {
			return a.TrackRef < b.TrackRef
		}
		return a.ID < b.ID
	})
}
