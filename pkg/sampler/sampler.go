// Package sampler resolves the kinematic state of a track at an arbitrary
// instant from its ordered samples, falling back to the live snapshot.
package sampler

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tewa-sim/tewa/pkg/geo"
	"github.com/tewa-sim/tewa/pkg/types"
)

// Method selects how StateAt resolves an instant between samples.
type Method string

const (
	// Linear interpolates between the bracketing samples.
	Linear Method = "linear"
	// Latest takes the last sample at or before the instant.
	Latest Method = "latest"
)

// ParseMethod maps a user-supplied name to a Method. Empty means Linear.
func ParseMethod(s string) (Method, error) {
	switch Method(strings.ToLower(strings.TrimSpace(s))) {
	case "", Linear:
		return Linear, nil
	case Latest:
		return Latest, nil
	default:
		return "", fmt.Errorf("sampler: unsupported method %q: %w", s, types.ErrInvalidInput)
	}
}

// StateAt returns the state of track at when.
//
// samples must be ordered by T ascending. s1 is the last sample with
// T <= when and s2 the first with T >= when. With Linear and two distinct
// brackets the state is interpolated in the plane centred on s1; otherwise s1
// is returned as-is. Without s1 the live snapshot is used, stamped at when.
// The boolean is false when nothing can be resolved.
func StateAt(track types.Track, samples []types.TrackSample, when time.Time, m Method) (types.KinematicState, bool) {
	// First index with T > when; the sample before it (if any) is s1.
	after := sort.Search(len(samples), func(i int) bool { return samples[i].T.After(when) })
	var s1, s2 *types.TrackSample
	if after > 0 {
		s1 = &samples[after-1]
	}
	switch {
	case s1 != nil && s1.T.Equal(when):
		s2 = s1
	case after < len(samples):
		s2 = &samples[after]
	}

	if m == Linear && s1 != nil && s2 != nil && !s1.T.Equal(s2.T) {
		return interpolate(*s1, *s2, when), true
	}
	if s1 != nil {
		return types.KinematicState{Kinematics: s1.Kinematics, At: s1.T, Source: types.SourceSample}, true
	}
	if track.Snapshot != nil {
		return types.KinematicState{Kinematics: *track.Snapshot, At: when, Source: types.SourceTrack}, true
	}
	return types.KinematicState{}, false
}

func interpolate(s1, s2 types.TrackSample, when time.Time) types.KinematicState {
	total := s2.T.Sub(s1.T).Seconds()
	frac := clamp(when.Sub(s1.T).Seconds()/total, 0, 1)

	origin := s1.Position()
	e2, n2 := geo.ToLocalPlane(s2.Position(), origin)
	p := geo.FromLocalPlane(e2*frac, n2*frac, origin)

	return types.KinematicState{
		Kinematics: types.Kinematics{
			Lat:        p.Lat,
			Lon:        p.Lon,
			AltM:       lerp(s1.AltM, s2.AltM, frac),
			SpeedMps:   lerp(s1.SpeedMps, s2.SpeedMps, frac),
			HeadingDeg: LerpHeading(s1.HeadingDeg, s2.HeadingDeg, frac),
		},
		At:     when,
		Source: types.SourceInterp,
	}
}

// LerpHeading interpolates between two headings along the shorter arc and
// returns a value in [0, 360).
func LerpHeading(a, b, frac float64) float64 {
	return geo.Wrap360(a + geo.WrapSigned(b-a)*frac)
}

func lerp(a, b, t float64) float64 { return a + (b-a)*t }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
