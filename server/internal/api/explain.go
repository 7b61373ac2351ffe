package api

import (
	"fmt"
	"sort"

	"github.com/tewa-sim/tewa/pkg/scoring"
	"github.com/tewa-sim/tewa/pkg/types"
)

// Hint levels, most severe first.
const (
	HintCritical = "critical"
	HintWarning  = "warning"
	HintInfo     = "info"
	HintOK       = "ok"
)

// TCPA thresholds for the closing-fast hints, in seconds.
const (
	tcpaCriticalS = 60.0
	tcpaWarningS  = 300.0
)

// ExplainHint is one plain-language reading of a score record.
type ExplainHint struct {
	// Key is a stable machine-readable identifier.
	Key string `json:"key"`
	// Level is "critical" | "warning" | "info" | "ok".
	Level string `json:"level"`
	// Title is a short label.
	Title string `json:"title"`
	// Detail is the full explanation.
	Detail string `json:"detail"`
	// Value is the numeric quantity the hint is about, if any.
	Value *float64 `json:"value,omitempty"`
}

var hintRank = map[string]int{HintCritical: 0, HintWarning: 1, HintInfo: 2, HintOK: 3}

// explain derives hints for rec against the DA it was scored for. contrib
// holds the per-factor contributions under the current parameters. Hints are
// ordered critical first, then warnings, info and ok.
func explain(rec types.ScoreRecord, da types.DefendedAsset, contrib scoring.Factors) []ExplainHint {
	var hints []ExplainHint
	add := func(h ExplainHint) { hints = append(hints, h) }

	cpa := rec.CPAKm
	if cpa <= da.RadiusKm {
		add(ExplainHint{
			Key:   "cpa_inside_da",
			Level: HintCritical,
			Title: "Passes inside DA",
			Detail: fmt.Sprintf(
				"On its current heading the track comes within %.2f km of %s, "+
					"inside the %.1f km defended radius.", cpa, da.Name, da.RadiusKm),
			Value: &cpa,
		})
	}

	switch {
	case rec.TCPAS == nil:
		add(ExplainHint{
			Key:    "opening",
			Level:  HintInfo,
			Title:  "Moving away",
			Detail: "The closest approach is already behind the track, or it is not moving.",
		})
	case *rec.TCPAS < tcpaCriticalS:
		add(ExplainHint{
			Key:    "tcpa_imminent",
			Level:  HintCritical,
			Title:  "Closest approach imminent",
			Detail: fmt.Sprintf("Closest approach in %.0f s.", *rec.TCPAS),
			Value:  rec.TCPAS,
		})
	case *rec.TCPAS < tcpaWarningS:
		add(ExplainHint{
			Key:    "tcpa_soon",
			Level:  HintWarning,
			Title:  "Closing",
			Detail: fmt.Sprintf("Closest approach in %.0f s.", *rec.TCPAS),
			Value:  rec.TCPAS,
		})
	}

	switch {
	case rec.TDBS == nil:
		add(ExplainHint{
			Key:    "no_breach",
			Level:  HintOK,
			Title:  "No breach",
			Detail: fmt.Sprintf("The track does not cross the %s boundary on its current heading.", da.Name),
		})
	case *rec.TDBS == 0:
		add(ExplainHint{
			Key:    "inside_da",
			Level:  HintCritical,
			Title:  "Inside DA",
			Detail: fmt.Sprintf("The track is %.2f km from %s, already inside its radius.", rec.TDBKm, da.Name),
			Value:  rec.TDBS,
		})
	default:
		add(ExplainHint{
			Key:    "breach_eta",
			Level:  HintWarning,
			Title:  fmt.Sprintf("Breach in %.0f s", *rec.TDBS),
			Detail: fmt.Sprintf("The track crosses the %s boundary in %.0f s.", da.Name, *rec.TDBS),
			Value:  rec.TDBS,
		})
	}

	switch {
	case rec.TWRPS == nil:
		add(ExplainHint{
			Key:    "outside_weapon_range",
			Level:  HintOK,
			Title:  "Never in weapon range",
			Detail: "The track does not enter weapon-release range on its current heading.",
		})
	case *rec.TWRPS == 0:
		add(ExplainHint{
			Key:    "in_weapon_range",
			Level:  HintCritical,
			Title:  "In weapon range",
			Detail: "The track is already within weapon-release range.",
			Value:  rec.TWRPS,
		})
	}

	if name, v := dominant(contrib); v > 0 {
		add(ExplainHint{
			Key:    "dominant_" + name,
			Level:  HintInfo,
			Title:  fmt.Sprintf("Driven by %s", name),
			Detail: fmt.Sprintf("%s contributes %.3f of the score, more than any other factor.", name, v),
			Value:  &v,
		})
	}

	sort.SliceStable(hints, func(i, j int) bool {
		return hintRank[hints[i].Level] < hintRank[hints[j].Level]
	})
	return hints
}

// dominant returns the factor with the largest contribution. Ties go to the
// earlier factor in cpa, tcpa, tdb, twrp order.
func dominant(f scoring.Factors) (string, float64) {
	names := []string{"cpa", "tcpa", "tdb", "twrp"}
	vals := []float64{f.CPA, f.TCPA, f.TDB, f.TWRP}
	best := 0
	for i := range vals {
		if vals[i] > vals[best] {
			best = i
		}
	}
	return names[best], vals[best]
}
