package types

import (
	"fmt"
	"math"
)

// Default model parameters. Weights are equal and need not sum to 1.
const (
	DefaultWeight     = 0.25
	DefaultCPAScaleKm = 20.0
	DefaultTCPAScaleS = 120.0
	DefaultTDBScaleKm = 30.0
	DefaultTWRPScaleS = 120.0
)

// ModelParams holds the per-scenario weights and normalization scales.
// Values are immutable once loaded for a compute call.
type ModelParams struct {
	ScenarioID int64   `json:"scenario_id" yaml:"-"`
	WCPA       float64 `json:"w_cpa" yaml:"w_cpa"`
	WTCPA      float64 `json:"w_tcpa" yaml:"w_tcpa"`
	WTDB       float64 `json:"w_tdb" yaml:"w_tdb"`
	WTWRP      float64 `json:"w_twrp" yaml:"w_twrp"`
	CPAScaleKm float64 `json:"cpa_scale_km" yaml:"cpa_scale_km"`
	TCPAScaleS float64 `json:"tcpa_scale_s" yaml:"tcpa_scale_s"`
	TDBScaleKm float64 `json:"tdb_scale_km" yaml:"tdb_scale_km"`
	TWRPScaleS float64 `json:"twrp_scale_s" yaml:"twrp_scale_s"`
	Clamp01    bool    `json:"clamp_0_1" yaml:"clamp_0_1"`
}

// DefaultModelParams returns the parameters used when a scenario has none.
func DefaultModelParams() ModelParams {
	return ModelParams{
		WCPA:       DefaultWeight,
		WTCPA:      DefaultWeight,
		WTDB:       DefaultWeight,
		WTWRP:      DefaultWeight,
		CPAScaleKm: DefaultCPAScaleKm,
		TCPAScaleS: DefaultTCPAScaleS,
		TDBScaleKm: DefaultTDBScaleKm,
		TWRPScaleS: DefaultTWRPScaleS,
		Clamp01:    true,
	}
}

// Validate requires finite weights and strictly positive finite scales.
func (p ModelParams) Validate() error {
	weights := map[string]float64{
		"w_cpa": p.WCPA, "w_tcpa": p.WTCPA, "w_tdb": p.WTDB, "w_twrp": p.WTWRP,
	}
	for name, w := range weights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("params: %s must be finite: %w", name, ErrInvalidInput)
		}
	}
	scales := map[string]float64{
		"cpa_scale_km": p.CPAScaleKm, "tcpa_scale_s": p.TCPAScaleS,
		"tdb_scale_km": p.TDBScaleKm, "twrp_scale_s": p.TWRPScaleS,
	}
	for name, s := range scales {
		if math.IsNaN(s) || math.IsInf(s, 0) || s <= 0 {
			return fmt.Errorf("params: %s must be > 0, got %v: %w", name, s, ErrInvalidInput)
		}
	}
	return nil
}

// ParamsPatch is a partial parameter mapping. Nil fields keep their value.
type ParamsPatch struct {
	WCPA       *float64 `json:"w_cpa,omitempty" yaml:"w_cpa"`
	WTCPA      *float64 `json:"w_tcpa,omitempty" yaml:"w_tcpa"`
	WTDB       *float64 `json:"w_tdb,omitempty" yaml:"w_tdb"`
	WTWRP      *float64 `json:"w_twrp,omitempty" yaml:"w_twrp"`
	CPAScaleKm *float64 `json:"cpa_scale_km,omitempty" yaml:"cpa_scale_km"`
	TCPAScaleS *float64 `json:"tcpa_scale_s,omitempty" yaml:"tcpa_scale_s"`
	TDBScaleKm *float64 `json:"tdb_scale_km,omitempty" yaml:"tdb_scale_km"`
	TWRPScaleS *float64 `json:"twrp_scale_s,omitempty" yaml:"twrp_scale_s"`
	Clamp01    *bool    `json:"clamp_0_1,omitempty" yaml:"clamp_0_1"`
}

// Apply returns p with every non-nil field of patch applied, validated.
// p itself is not modified.
func (p ModelParams) Apply(patch ParamsPatch) (ModelParams, error) {
	set := func(dst *float64, src *float64) {
		if src != nil {
			*dst = *src
		}
	}
	out := p
	set(&out.WCPA, patch.WCPA)
	set(&out.WTCPA, patch.WTCPA)
	set(&out.WTDB, patch.WTDB)
	set(&out.WTWRP, patch.WTWRP)
	set(&out.CPAScaleKm, patch.CPAScaleKm)
	set(&out.TCPAScaleS, patch.TCPAScaleS)
	set(&out.TDBScaleKm, patch.TDBScaleKm)
	set(&out.TWRPScaleS, patch.TWRPScaleS)
	if patch.Clamp01 != nil {
		out.Clamp01 = *patch.Clamp01
	}
	if err := out.Validate(); err != nil {
		return p, err
	}
	return out, nil
}
