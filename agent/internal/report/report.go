// Package report logs ranked threat lists produced by a compute cycle.
package report

import (
	"log/slog"

	"github.com/tewa-sim/tewa/internal/ranker"
)

// Groups logs one line per ranked threat of every group, highest first, and
// a summary line per group. Groups without threats log the summary only.
func Groups(log *slog.Logger, scenarioID int64, runTag string, groups []ranker.Group) {
	if log == nil {
		log = slog.Default()
	}
	for _, g := range groups {
		top := 0.0
		if len(g.Threats) > 0 {
			top = g.Threats[0].Score
		}
		log.Info("threat board",
			"scenario_id", scenarioID,
			"run_tag", runTag,
			"da_id", g.DAID,
			"da", g.DAName,
			"threats", len(g.Threats),
			"top_score", top,
		)
		for i, th := range g.Threats {
			log.Info("threat",
				"scenario_id", scenarioID,
				"da", g.DAName,
				"rank", i+1,
				"track_id", th.TrackID,
				"score", th.Score,
				"level", th.Level,
			)
		}
	}
}

// Highest returns the largest score across groups, or 0 without threats.
func Highest(groups []ranker.Group) float64 {
	var best float64
	for _, g := range groups {
		if len(g.Threats) > 0 && g.Threats[0].Score > best {
			best = g.Threats[0].Score
		}
	}
	return best
}
