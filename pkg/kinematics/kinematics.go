// Package kinematics computes closed-form intercept geometry for a track
// moving in a straight line at constant speed, relative to a defended asset
// at the origin of a local east/north plane.
//
// All functions are pure. Distances are metres, times are seconds, speeds
// are metres per second unless a name says otherwise.
package kinematics

import (
	"math"

	"github.com/tewa-sim/tewa/pkg/geo"
)

// stationaryV2 is the squared speed (m²/s²) below which a track is treated
// as stationary.
const stationaryV2 = 1e-9

// timeEpsilon snaps closest-approach times within rounding of zero to zero,
// so a track abeam of the DA reports TCPA 0 rather than -1e-15.
const timeEpsilon = 1e-9

// Vec2 is an east/north vector in the local plane.
type Vec2 struct {
	E, N float64
}

// Dot returns a·b.
func (a Vec2) Dot(b Vec2) float64 { return a.E*b.E + a.N*b.N }

// Add returns a+b.
func (a Vec2) Add(b Vec2) Vec2 { return Vec2{a.E + b.E, a.N + b.N} }

// Scale returns s·a.
func (a Vec2) Scale(s float64) Vec2 { return Vec2{a.E * s, a.N * s} }

// Norm returns |a|.
func (a Vec2) Norm() float64 { return math.Hypot(a.E, a.N) }

// Velocity converts a speed and an aviation heading (0 = north, clockwise)
// into a plane velocity.
func Velocity(speedMps, headingDeg float64) Vec2 {
	h := headingDeg * math.Pi / 180
	return Vec2{E: speedMps * math.Sin(h), N: speedMps * math.Cos(h)}
}

// CPA is a closest point of approach. TimeS is negative when the closest
// point is in the past and +Inf for a stationary track.
type CPA struct {
	DistanceM float64
	TimeS     float64
}

// ClosestApproach returns the minimum of |p0 + v·t| over all t and the time
// at which it occurs.
func ClosestApproach(p0, v Vec2) CPA {
	v2 := v.Dot(v)
	if v2 <= stationaryV2 {
		return CPA{DistanceM: p0.Norm(), TimeS: math.Inf(1)}
	}
	t := -p0.Dot(v) / v2
	if math.Abs(t) < timeEpsilon {
		t = 0
	}
	return CPA{DistanceM: p0.Add(v.Scale(t)).Norm(), TimeS: t}
}

// InterceptKind classifies a time-to-circle result.
type InterceptKind int

const (
	// NeverReached: moving away, passing outside, or stationary outside.
	NeverReached InterceptKind = iota
	// AlreadyInside: the track is on or inside the circle now.
	AlreadyInside
	// ReachedAt: the track crosses the circle after Seconds.
	ReachedAt
)

func (k InterceptKind) String() string {
	switch k {
	case AlreadyInside:
		return "inside"
	case ReachedAt:
		return "reached"
	default:
		return "never"
	}
}

// Intercept is the tri-state answer to "when does the track reach radius R".
// Seconds is meaningful only for ReachedAt.
type Intercept struct {
	Kind    InterceptKind
	Seconds float64
}

// Inside reports whether the track is already within the radius.
func (i Intercept) Inside() bool { return i.Kind == AlreadyInside }

// Time returns the time until the circle is reached: 0 when inside, the
// crossing time when reached, +Inf when never.
func (i Intercept) Time() float64 {
	switch i.Kind {
	case AlreadyInside:
		return 0
	case ReachedAt:
		return i.Seconds
	default:
		return math.Inf(1)
	}
}

// TimeToCircle returns when a track at p0 with velocity v first reaches the
// circle of radius r around the origin, solving |p0 + v·t|² = r² for the
// smallest t ≥ 0.
func TimeToCircle(p0, v Vec2, r float64) Intercept {
	r = math.Max(0, r)
	c := p0.Dot(p0) - r*r
	if c <= 0 {
		return Intercept{Kind: AlreadyInside}
	}
	a := v.Dot(v)
	if a <= stationaryV2 {
		return Intercept{Kind: NeverReached}
	}
	b := 2 * p0.Dot(v)
	disc := b*b - 4*a*c
	if disc < 0 {
		return Intercept{Kind: NeverReached}
	}
	sq := math.Sqrt(disc)
	// Outside the circle both roots share a sign (c > 0); the smaller one is
	// the entry time when they lie ahead.
	t1 := (-b - sq) / (2 * a)
	if t1 < 0 {
		return Intercept{Kind: NeverReached}
	}
	return Intercept{Kind: ReachedAt, Seconds: t1}
}

// TimeToCircleClosing estimates the same quantity from the closing speed,
// the projection of v onto the unit vector from the track toward the origin:
// (|p0| - r) / closing. It is exact for radial motion and ignores the miss
// distance otherwise. Tangential or opening motion never reaches.
func TimeToCircleClosing(p0, v Vec2, r float64) Intercept {
	d := p0.Norm()
	if d <= r {
		return Intercept{Kind: AlreadyInside}
	}
	toOrigin := p0.Scale(-1 / d)
	closing := v.Dot(toOrigin)
	if closing <= 0 {
		return Intercept{Kind: NeverReached}
	}
	return Intercept{Kind: ReachedAt, Seconds: (d - r) / closing}
}

// Geometry is one (DA, track) pair to evaluate.
type Geometry struct {
	DA            geo.LatLon
	DARadiusKm    float64
	WeaponRangeKm float64
	Track         geo.LatLon
	SpeedMps      float64
	HeadingDeg    float64
}

// Result bundles the four threat sub-metrics for one pair.
type Result struct {
	// CPAKm is the closest approach distance in km.
	CPAKm float64
	// TCPAS is the time of closest approach; negative in the past,
	// +Inf when stationary.
	TCPAS float64
	// RangeKm is the current distance from the DA centre in km.
	RangeKm float64
	// TDB is the time to the DA boundary.
	TDB Intercept
	// TWRP is the time to weapon-release range.
	TWRP Intercept
}

// Evaluate projects the track into the plane centred on the DA and returns
// CPA, TCPA, current range, TDB and TWRP.
func Evaluate(g Geometry) Result {
	e, n := geo.ToLocalPlane(g.Track, g.DA)
	p0 := Vec2{E: e, N: n}
	v := Velocity(g.SpeedMps, g.HeadingDeg)

	cpa := ClosestApproach(p0, v)
	return Result{
		CPAKm:   geo.MToKm(cpa.DistanceM),
		TCPAS:   cpa.TimeS,
		RangeKm: geo.MToKm(p0.Norm()),
		TDB:     TimeToCircle(p0, v, geo.KmToM(g.DARadiusKm)),
		TWRP:    TimeToCircle(p0, v, geo.KmToM(g.WeaponRangeKm)),
	}
}
