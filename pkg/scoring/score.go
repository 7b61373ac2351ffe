package scoring

import (
	"math"

	"github.com/tewa-sim/tewa/pkg/types"
)

// Level constants returned by the score calculator.
const (
	LevelHigh   = "high"
	LevelMedium = "medium"
	LevelLow    = "low"
)

// Thresholds that map a score to a threat level.
const (
	ThresholdHigh   = 0.7
	ThresholdMedium = 0.4
)

// Input holds the raw sub-metrics fed into the score formula.
type Input struct {
	// CPAKm is the closest point of approach in km.
	CPAKm float64

	// TCPAS is the time to closest approach in seconds. Negative values
	// (closest approach already passed) and +Inf (stationary) score zero.
	TCPAS float64

	// TDBKm is the current range from the DA centre in km.
	TDBKm float64

	// TWRPS is the time until the track enters weapon-release range.
	// 0 means already inside; +Inf or negative means never.
	TWRPS float64
}

// FromComponents builds an Input from persisted components, mapping nil
// ("never") to +Inf.
func FromComponents(c types.Components) Input {
	return Input{
		CPAKm: c.CPAKm,
		TCPAS: types.Value(c.TCPAS),
		TDBKm: c.TDBKm,
		TWRPS: types.Value(c.TWRPS),
	}
}

// Factors is one value per sub-metric.
type Factors struct {
	CPA  float64 `json:"cpa"`
	TCPA float64 `json:"tcpa"`
	TDB  float64 `json:"tdb"`
	TWRP float64 `json:"twrp"`
}

// Sum returns the sum of the four factors.
func (f Factors) Sum() float64 { return f.CPA + f.TCPA + f.TDB + f.TWRP }

// Output is the result of the score calculation.
type Output struct {
	// Score is the weighted sum of the normalized factors, clamped to [0, 1]
	// when the parameters ask for it.
	Score float64

	// Level is the threat level derived from Score.
	// One of: "high", "medium", "low".
	Level string

	// Normalized holds each sub-metric mapped into [0, 1] by Inv1.
	Normalized Factors

	// Contributions holds weight × normalized value per sub-metric.
	// Their sum is the unclamped score.
	Contributions Factors
}

// Compute calculates the threat score from the given sub-metrics.
//
// Formula:
//
//	score = w_cpa  · inv1(cpa_km, cpa_scale_km)
//	      + w_tcpa · inv1(tcpa_s, tcpa_scale_s)
//	      + w_tdb  · inv1(tdb_km, tdb_scale_km)
//	      + w_twrp · inv1(twrp_s, twrp_scale_s)
//
// clamped to [0, 1] when p.Clamp01 is set. Weights are used as given; they
// need not sum to 1.
func Compute(in Input, p types.ModelParams) Output {
	tcpa := in.TCPAS
	if tcpa < 0 {
		tcpa = math.Inf(1)
	}
	twrp := in.TWRPS
	if twrp < 0 {
		twrp = math.Inf(1)
	}

	n := Factors{
		CPA:  Inv1(in.CPAKm, p.CPAScaleKm),
		TCPA: Inv1(tcpa, p.TCPAScaleS),
		TDB:  Inv1(in.TDBKm, p.TDBScaleKm),
		TWRP: Inv1(twrp, p.TWRPScaleS),
	}
	c := Factors{
		CPA:  p.WCPA * n.CPA,
		TCPA: p.WTCPA * n.TCPA,
		TDB:  p.WTDB * n.TDB,
		TWRP: p.WTWRP * n.TWRP,
	}

	score := c.Sum()
	if p.Clamp01 {
		score = Clamp01(score)
	}

	return Output{
		Score:         score,
		Level:         LevelFromScore(score),
		Normalized:    n,
		Contributions: c,
	}
}

// Score is Compute(in, p).Score.
func Score(in Input, p types.ModelParams) float64 {
	return Compute(in, p).Score
}

// LevelFromScore maps a numeric score to a named threat level.
func LevelFromScore(score float64) string {
	switch {
	case score >= ThresholdHigh:
		return LevelHigh
	case score >= ThresholdMedium:
		return LevelMedium
	default:
		return LevelLow
	}
}
