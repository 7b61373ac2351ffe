package api

import (
	"time"

	"github.com/tewa-sim/tewa/internal/ranker"
	"github.com/tewa-sim/tewa/pkg/scoring"
	"github.com/tewa-sim/tewa/pkg/types"
)

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	Status        string `json:"status"`
	ScenarioCount int    `json:"scenario_count"`
	ScoreRecords  int    `json:"score_records"`
	AlertCount    int    `json:"alert_count"`
	Time          string `json:"time"` // RFC3339
}

// ScenarioDetail is the payload for GET /api/v1/scenarios/{id}.
type ScenarioDetail struct {
	types.Scenario
	DefendedAssets []types.DefendedAsset `json:"defended_assets"`
	Tracks         []types.Track         `json:"tracks"`
	Params         types.ModelParams     `json:"params"`
}

// ComputeRequest is the body of POST /api/v1/compute and /api/v1/compute/now.
// DAIDs absent or null selects every DA; an empty list selects none.
type ComputeRequest struct {
	ScenarioID    int64   `json:"scenario_id"`
	When          string  `json:"when"`
	Method        string  `json:"method"`
	DAIDs         []int64 `json:"da_ids"`
	WeaponRangeKm float64 `json:"weapon_range_km"`
	RunTag        string  `json:"run_tag"`
}

// ScoreSummary is one record in a compute response.
type ScoreSummary struct {
	TrackID    string    `json:"track_id"`
	DAID       int64     `json:"da_id"`
	DAName     string    `json:"da_name"`
	Score      float64   `json:"score"`
	Level      string    `json:"level"`
	ComputedAt time.Time `json:"computed_at"`
}

// ComputeResponse is the payload of a successful compute call. Scores are
// ordered by score descending.
type ComputeResponse struct {
	Status     string         `json:"status"`
	ScenarioID int64          `json:"scenario_id"`
	When       time.Time      `json:"when"`
	Method     string         `json:"method"`
	RunTag     string         `json:"run_tag"`
	ComputedAt time.Time      `json:"computed_at"`
	Count      int            `json:"count"`
	Skipped    int            `json:"skipped"`
	Scores     []ScoreSummary `json:"scores"`
}

// RunResponse is the payload for GET /api/v1/scenarios/{id}/runs/{tag}.
type RunResponse struct {
	ScenarioID int64               `json:"scenario_id"`
	RunTag     string              `json:"run_tag"`
	Count      int                 `json:"count"`
	Records    []types.ScoreRecord `json:"records"`
}

// Metrics repeats the components in meters and seconds. It is derived from
// the km fields so both views always agree.
type Metrics struct {
	CPAM  float64  `json:"cpa_m"`
	TCPAS *float64 `json:"tcpa_s"`
	TDBM  float64  `json:"tdb_m"`
	TDBS  *float64 `json:"tdb_s"`
	TWRPS *float64 `json:"twrp_s"`
}

// Weights echoes the weights the breakdown was computed with.
type Weights struct {
	CPA  float64 `json:"w_cpa"`
	TCPA float64 `json:"w_tcpa"`
	TDB  float64 `json:"w_tdb"`
	TWRP float64 `json:"w_twrp"`
}

// Breakdown explains one score record.
type Breakdown struct {
	ScenarioID    int64            `json:"scenario_id"`
	DAID          int64            `json:"da_id"`
	DAName        string           `json:"da_name"`
	TrackID       string           `json:"track_id"`
	RunTag        string           `json:"run_tag"`
	Method        string           `json:"method"`
	Source        types.Source     `json:"source"`
	SampledAt     time.Time        `json:"sampled_at"`
	ComputedAt    time.Time        `json:"computed_at"`
	Components    types.Components `json:"components"`
	Metrics       Metrics          `json:"metrics"`
	Normalized    scoring.Factors  `json:"normalized"`
	Weights       Weights          `json:"weights"`
	Contributions scoring.Factors  `json:"contributions"`
	Score         float64          `json:"score"`
	Level         string           `json:"level"`
	// CurrentScore is the score the components give under the scenario's
	// current parameters. It differs from Score after a parameter change.
	CurrentScore float64       `json:"current_score"`
	Hints        []ExplainHint `json:"hints"`
}

// HistoryResponse is the payload for GET /api/v1/score-history.
type HistoryResponse struct {
	ScenarioID int64               `json:"scenario_id"`
	DAID       int64               `json:"da_id"`
	TrackID    string              `json:"track_id"`
	Points     []types.SeriesPoint `json:"points"`
}

// BoardScenario is one scenario on the threat board.
type BoardScenario struct {
	ScenarioID int64          `json:"scenario_id"`
	Name       string         `json:"name"`
	Groups     []ranker.Group `json:"groups"`
}

// BoardResponse is the payload for GET /api/v1/board and the WebSocket stream.
type BoardResponse struct {
	Scenarios   []BoardScenario `json:"scenarios"`
	GeneratedAt string          `json:"generated_at"` // RFC3339
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
