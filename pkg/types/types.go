package types

import (
	"fmt"
	"math"
	"time"

	"github.com/tewa-sim/tewa/pkg/geo"
)

// MaxRadiusKm is the largest accepted defended-asset radius.
const MaxRadiusKm = 1000.0

// Scenario groups defended assets and tracks. Name is unique.
type Scenario struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	StartTime   time.Time `json:"start_time,omitempty"`
	EndTime     time.Time `json:"end_time,omitempty"`
	Notes       string    `json:"notes,omitempty"`
}

// Validate checks the scenario fields that callers control.
func (s Scenario) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("scenario: name is required: %w", ErrInvalidInput)
	}
	if !s.StartTime.IsZero() && !s.EndTime.IsZero() && s.EndTime.Before(s.StartTime) {
		return fmt.Errorf("scenario %q: end_time before start_time: %w", s.Name, ErrInvalidInput)
	}
	return nil
}

// DefendedAsset is a protected point with a sensitivity radius.
// It belongs to exactly one scenario; Name is unique within that scenario.
type DefendedAsset struct {
	ID         int64      `json:"id"`
	ScenarioID int64      `json:"scenario_id"`
	Name       string     `json:"name"`
	Center     geo.LatLon `json:"center"`
	RadiusKm   float64    `json:"radius_km"`
}

// Validate enforces 0 < RadiusKm <= MaxRadiusKm and a valid centre.
func (d DefendedAsset) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("defended asset: name is required: %w", ErrInvalidInput)
	}
	if !(d.RadiusKm > 0 && d.RadiusKm <= MaxRadiusKm) {
		return fmt.Errorf("defended asset %q: radius_km %v outside (0, %v]: %w",
			d.Name, d.RadiusKm, MaxRadiusKm, ErrInvalidInput)
	}
	if err := validLatLon(d.Center.Lat, d.Center.Lon); err != nil {
		return fmt.Errorf("defended asset %q: %w", d.Name, err)
	}
	return nil
}

// Kinematics is a position plus motion at one instant.
type Kinematics struct {
	Lat        float64 `json:"lat" yaml:"lat"`
	Lon        float64 `json:"lon" yaml:"lon"`
	AltM       float64 `json:"alt_m" yaml:"alt_m"`
	SpeedMps   float64 `json:"speed_mps" yaml:"speed_mps"`
	HeadingDeg float64 `json:"heading_deg" yaml:"heading_deg"`
}

// Position returns the horizontal position.
func (k Kinematics) Position() geo.LatLon { return geo.LatLon{Lat: k.Lat, Lon: k.Lon} }

// Normalize validates k and wraps its heading into [0, 360).
func (k Kinematics) Normalize() (Kinematics, error) {
	if err := validLatLon(k.Lat, k.Lon); err != nil {
		return k, err
	}
	if math.IsNaN(k.SpeedMps) || math.IsInf(k.SpeedMps, 0) || k.SpeedMps < 0 {
		return k, fmt.Errorf("speed_mps %v must be finite and >= 0: %w", k.SpeedMps, ErrInvalidInput)
	}
	if math.IsNaN(k.HeadingDeg) || math.IsInf(k.HeadingDeg, 0) {
		return k, fmt.Errorf("heading_deg %v must be finite: %w", k.HeadingDeg, ErrInvalidInput)
	}
	if math.IsNaN(k.AltM) || math.IsInf(k.AltM, 0) {
		return k, fmt.Errorf("alt_m %v must be finite: %w", k.AltM, ErrInvalidInput)
	}
	k.HeadingDeg = geo.Wrap360(k.HeadingDeg)
	return k, nil
}

// Track is a moving object in a scenario. Ref is the external track id,
// unique per scenario. Snapshot is the live state, nil when unknown.
type Track struct {
	ID         int64       `json:"id"`
	ScenarioID int64       `json:"scenario_id"`
	Ref        string      `json:"track_id"`
	Snapshot   *Kinematics `json:"snapshot,omitempty"`
}

// TrackSample is one timestamped observation of a track. Samples are
// append-only and unique per (TrackID, T).
type TrackSample struct {
	TrackID int64     `json:"track_id"`
	T       time.Time `json:"t"`
	Kinematics
}

// Source labels the provenance of a KinematicState.
type Source string

const (
	SourceInterp Source = "interp"
	SourceSample Source = "sample"
	SourceTrack  Source = "track"
)

// KinematicState is a resolved track state at instant At.
type KinematicState struct {
	Kinematics
	At     time.Time `json:"at"`
	Source Source    `json:"source"`
}

// Components are the interpretable sub-metrics of one score.
//
// A nil pointer means the event is never reached: the closest approach is
// already behind the track (or it is stationary), it will never cross the
// DA boundary, or it will never enter weapon range. A zero value means the
// track is already inside. TDBKm is the range from the DA centre in km and is
// the distance component that feeds the score; TDBS is the time in seconds
// until the track crosses the DA boundary.
type Components struct {
	CPAKm float64  `json:"cpa_km"`
	TCPAS *float64 `json:"tcpa_s"`
	TDBKm float64  `json:"tdb_km"`
	TDBS  *float64 `json:"tdb_s"`
	TWRPS *float64 `json:"twrp_s"`
}

// ScoreRecord is one persisted (scenario, DA, track) evaluation. Many records
// may exist for the same key; the latest by ComputedAt then ID wins.
type ScoreRecord struct {
	ID         int64     `json:"id"`
	ScenarioID int64     `json:"scenario_id"`
	DAID       int64     `json:"da_id"`
	DAName     string    `json:"da_name"`
	TrackID    int64     `json:"track_pk"`
	TrackRef   string    `json:"track_id"`
	RunTag     string    `json:"run_tag"`
	Method     string    `json:"method"`
	SampledAt  time.Time `json:"sampled_at"`
	Source     Source    `json:"source"`
	Components
	Score      float64   `json:"score"`
	Level      string    `json:"level"`
	ComputedAt time.Time `json:"computed_at"`
}

// SeriesPoint is one entry of a score history.
type SeriesPoint struct {
	ComputedAt time.Time `json:"t"`
	Score      float64   `json:"score"`
}

// Float returns a pointer to v. Non-finite and negative values map to nil,
// which is how Components encode "never".
func Float(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return nil
	}
	return &v
}

// Value dereferences p, returning +Inf for nil.
func Value(p *float64) float64 {
	if p == nil {
		return math.Inf(1)
	}
	return *p
}

func validLatLon(lat, lon float64) error {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return fmt.Errorf("lat %v outside [-90, 90]: %w", lat, ErrInvalidInput)
	}
	if math.IsNaN(lon) || lon < -180 || lon > 180 {
		return fmt.Errorf("lon %v outside [-180, 180]: %w", lon, ErrInvalidInput)
	}
	return nil
}
