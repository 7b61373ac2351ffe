package scenario

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tewa-sim/tewa/pkg/geo"
	"github.com/tewa-sim/tewa/pkg/types"
)

// File is one scenario definition as written in YAML.
type File struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Notes       string            `yaml:"notes"`
	StartTime   time.Time         `yaml:"start_time"`
	EndTime     time.Time         `yaml:"end_time"`
	Params      types.ParamsPatch `yaml:"params"`
	Assets      []Asset           `yaml:"defended_assets"`
	Tracks      []Track           `yaml:"tracks"`
}

// Asset is a defended asset entry.
type Asset struct {
	Name     string  `yaml:"name"`
	Lat      float64 `yaml:"lat"`
	Lon      float64 `yaml:"lon"`
	RadiusKm float64 `yaml:"radius_km"`
}

// Track is a track entry with an optional snapshot and observation history.
type Track struct {
	ID       string            `yaml:"id"`
	Snapshot *types.Kinematics `yaml:"snapshot"`
	Samples  []Sample          `yaml:"samples"`
}

// Sample is one timestamped observation of a track.
type Sample struct {
	T                time.Time `yaml:"t"`
	types.Kinematics `yaml:",inline"`
}

// Load reads and validates the scenario file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scenario: read file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a scenario document.
func Parse(data []byte) (*File, error) {
	f := &File{}
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("scenario: parse yaml: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, fmt.Errorf("scenario %q: %w", f.Name, err)
	}
	return f, nil
}

// Scenario returns the scenario entity described by f.
func (f *File) Scenario() types.Scenario {
	return types.Scenario{
		Name:        f.Name,
		Description: f.Description,
		Notes:       f.Notes,
		StartTime:   f.StartTime.UTC(),
		EndTime:     f.EndTime.UTC(),
	}
}

func (a Asset) entity(scenarioID int64) types.DefendedAsset {
	return types.DefendedAsset{
		ScenarioID: scenarioID,
		Name:       a.Name,
		Center:     geo.LatLon{Lat: a.Lat, Lon: a.Lon},
		RadiusKm:   a.RadiusKm,
	}
}

func (f *File) validate() error {
	if err := f.Scenario().Validate(); err != nil {
		return err
	}
	if _, err := types.DefaultModelParams().Apply(f.Params); err != nil {
		return err
	}

	names := make(map[string]bool, len(f.Assets))
	for i, a := range f.Assets {
		if names[a.Name] {
			return fmt.Errorf("defended_assets[%d]: duplicate name %q: %w", i, a.Name, types.ErrInvalidInput)
		}
		names[a.Name] = true
		if err := a.entity(0).Validate(); err != nil {
			return fmt.Errorf("defended_assets[%d]: %w", i, err)
		}
	}

	ids := make(map[string]bool, len(f.Tracks))
	for i, t := range f.Tracks {
		if t.ID == "" {
			return fmt.Errorf("tracks[%d]: id is required: %w", i, types.ErrInvalidInput)
		}
		if ids[t.ID] {
			return fmt.Errorf("tracks[%d]: duplicate id %q: %w", i, t.ID, types.ErrInvalidInput)
		}
		ids[t.ID] = true
		if t.Snapshot != nil {
			if _, err := t.Snapshot.Normalize(); err != nil {
				return fmt.Errorf("track %q snapshot: %w", t.ID, err)
			}
		}
		seen := make(map[time.Time]bool, len(t.Samples))
		for j, s := range t.Samples {
			if s.T.IsZero() {
				return fmt.Errorf("track %q samples[%d]: t is required: %w", t.ID, j, types.ErrInvalidInput)
			}
			if seen[s.T.UTC()] {
				return fmt.Errorf("track %q samples[%d]: duplicate t %s: %w", t.ID, j, s.T.Format(time.RFC3339), types.ErrInvalidInput)
			}
			seen[s.T.UTC()] = true
			if _, err := s.Kinematics.Normalize(); err != nil {
				return fmt.Errorf("track %q samples[%d]: %w", t.ID, j, err)
			}
		}
	}
	return nil
}
