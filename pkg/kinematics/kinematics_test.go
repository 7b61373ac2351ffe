package kinematics

import (
	"math"
	"testing"

	"github.com/tewa-sim/tewa/pkg/geo"
)

func almostEqual(a, b, epsilon float64) bool {
	return math.Abs(a-b) < epsilon
}

// halfDegM is 0.5 degree of arc on the mean sphere.
var halfDegM = 0.5 * geo.EarthRadiusM * math.Pi / 180

func TestVelocity(t *testing.T) {
	tests := []struct {
		heading float64
		want    Vec2
	}{
		{0, Vec2{0, 100}},
		{90, Vec2{100, 0}},
		{180, Vec2{0, -100}},
		{270, Vec2{-100, 0}},
	}
	for _, tt := range tests {
		v := Velocity(100, tt.heading)
		if !almostEqual(v.E, tt.want.E, 1e-9) || !almostEqual(v.N, tt.want.N, 1e-9) {
			t.Errorf("Velocity(100, %v) = %+v, want %+v", tt.heading, v, tt.want)
		}
	}
}

func TestClosestApproach(t *testing.T) {
	t.Run("stationary", func(t *testing.T) {
		cpa := ClosestApproach(Vec2{3000, 4000}, Vec2{})
		if cpa.DistanceM != 5000 {
			t.Errorf("DistanceM = %v, want 5000", cpa.DistanceM)
		}
		if !math.IsInf(cpa.TimeS, 1) {
			t.Errorf("TimeS = %v, want +Inf", cpa.TimeS)
		}
	})
	t.Run("head-on", func(t *testing.T) {
		cpa := ClosestApproach(Vec2{10_000, 0}, Vec2{-100, 0})
		if !almostEqual(cpa.DistanceM, 0, 1e-9) || !almostEqual(cpa.TimeS, 100, 1e-9) {
			t.Errorf("got %+v, want distance 0 at 100 s", cpa)
		}
	})
	t.Run("offset pass", func(t *testing.T) {
		cpa := ClosestApproach(Vec2{10_000, 2_000}, Vec2{-200, 0})
		if !almostEqual(cpa.DistanceM, 2000, 1e-9) || !almostEqual(cpa.TimeS, 50, 1e-9) {
			t.Errorf("got %+v, want 2000 m at 50 s", cpa)
		}
	})
	t.Run("receding has negative time", func(t *testing.T) {
		cpa := ClosestApproach(Vec2{10_000, 0}, Vec2{100, 0})
		if cpa.TimeS >= 0 {
			t.Errorf("TimeS = %v, want negative", cpa.TimeS)
		}
	})
	t.Run("opening pass keeps past minimum", func(t *testing.T) {
		cpa := ClosestApproach(Vec2{10_000, 2_000}, Vec2{200, 0})
		if !almostEqual(cpa.DistanceM, 2000, 1e-9) || !almostEqual(cpa.TimeS, -50, 1e-9) {
			t.Errorf("got %+v, want 2000 m at -50 s", cpa)
		}
	})
}

func TestTimeToCircle(t *testing.T) {
	const r = 10_000.0
	tests := []struct {
		name     string
		p0, v    Vec2
		wantKind InterceptKind
		wantT    float64
	}{
		{"already inside", Vec2{5000, 0}, Vec2{100, 0}, AlreadyInside, 0},
		{"on the boundary", Vec2{0, r}, Vec2{0, 100}, AlreadyInside, 0},
		{"inbound radial", Vec2{30_000, 0}, Vec2{-200, 0}, ReachedAt, 100},
		{"moving away", Vec2{30_000, 0}, Vec2{200, 0}, NeverReached, 0},
		{"passes outside", Vec2{30_000, 20_000}, Vec2{-200, 0}, NeverReached, 0},
		{"stationary outside", Vec2{30_000, 0}, Vec2{}, NeverReached, 0},
		{"grazing chord", Vec2{30_000, 6_000}, Vec2{-200, 0}, ReachedAt, (30_000 - 8_000) / 200.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TimeToCircle(tt.p0, tt.v, r)
			if got.Kind != tt.wantKind {
				t.Fatalf("Kind = %v, want %v", got.Kind, tt.wantKind)
			}
			if got.Kind == ReachedAt && !almostEqual(got.Seconds, tt.wantT, 1e-6) {
				t.Errorf("Seconds = %v, want %v", got.Seconds, tt.wantT)
			}
		})
	}
}

func TestIntercept_Time(t *testing.T) {
	if (Intercept{Kind: AlreadyInside}).Time() != 0 {
		t.Error("inside should be 0")
	}
	if (Intercept{Kind: ReachedAt, Seconds: 12}).Time() != 12 {
		t.Error("reached should return Seconds")
	}
	if !math.IsInf((Intercept{Kind: NeverReached}).Time(), 1) {
		t.Error("never should be +Inf")
	}
}

// The closing-speed derivation must agree with the quadratic for radial
// motion, in both directions and from every bearing.
func TestTimeToCircleClosing_MatchesQuadraticRadially(t *testing.T) {
	const r = 25_000.0
	for brg := 0.0; brg < 360; brg += 30 {
		p0 := Velocity(80_000, brg) // position 80 km out on bearing brg
		inbound := Velocity(250, brg+180)
		outbound := Velocity(250, brg)

		q, c := TimeToCircle(p0, inbound, r), TimeToCircleClosing(p0, inbound, r)
		if q.Kind != ReachedAt || c.Kind != ReachedAt {
			t.Fatalf("bearing %v inbound: kinds %v / %v", brg, q.Kind, c.Kind)
		}
		if !almostEqual(q.Seconds, c.Seconds, 1e-6) || !almostEqual(q.Seconds, 220, 1e-6) {
			t.Errorf("bearing %v inbound: quadratic %v closing %v, want 220", brg, q.Seconds, c.Seconds)
		}

		if q, c := TimeToCircle(p0, outbound, r), TimeToCircleClosing(p0, outbound, r); q.Kind != NeverReached || c.Kind != NeverReached {
			t.Errorf("bearing %v outbound: kinds %v / %v, want never", brg, q.Kind, c.Kind)
		}
	}
}

func TestTimeToCircleClosing_Tangential(t *testing.T) {
	got := TimeToCircleClosing(Vec2{30_000, 0}, Vec2{0, 200}, 10_000)
	if got.Kind != NeverReached {
		t.Errorf("tangential Kind = %v, want never", got.Kind)
	}
}

// Track 0.5° east of a DA at the origin, flying west at 250 m/s.
func TestEvaluate_HeadOnExample(t *testing.T) {
	res := Evaluate(Geometry{
		DA:            geo.LatLon{Lat: 0, Lon: 0},
		DARadiusKm:    10,
		WeaponRangeKm: 10,
		Track:         geo.LatLon{Lat: 0, Lon: 0.5},
		SpeedMps:      250,
		HeadingDeg:    270,
	})
	if !almostEqual(res.CPAKm, 0, 1e-6) {
		t.Errorf("CPAKm = %v, want ~0", res.CPAKm)
	}
	wantTCPA := halfDegM / 250
	if !almostEqual(res.TCPAS, wantTCPA, 1e-6) || !almostEqual(res.TCPAS, 222.4, 0.1) {
		t.Errorf("TCPAS = %v, want %v", res.TCPAS, wantTCPA)
	}
	wantTDB := (halfDegM - 10_000) / 250
	if res.TDB.Kind != ReachedAt || !almostEqual(res.TDB.Seconds, wantTDB, 1e-6) {
		t.Errorf("TDB = %+v, want %v", res.TDB, wantTDB)
	}
	if !almostEqual(res.TDB.Seconds, 182.4, 0.1) {
		t.Errorf("TDB = %v, want about 182.4", res.TDB.Seconds)
	}
	if res.TWRP != res.TDB {
		t.Errorf("TWRP %+v should equal TDB %+v when the weapon range is the DA radius", res.TWRP, res.TDB)
	}
	if !almostEqual(res.RangeKm, halfDegM/1000, 1e-9) {
		t.Errorf("RangeKm = %v", res.RangeKm)
	}
}

func TestEvaluate_InsideAndAway(t *testing.T) {
	res := Evaluate(Geometry{
		DA:            geo.LatLon{Lat: 10, Lon: 10},
		DARadiusKm:    50,
		WeaponRangeKm: 5,
		Track:         geo.LatLon{Lat: 10.1, Lon: 10},
		SpeedMps:      200,
		HeadingDeg:    0, // due north, away from the DA
	})
	if res.TDB.Kind != AlreadyInside {
		t.Errorf("TDB Kind = %v, want inside", res.TDB.Kind)
	}
	if res.TWRP.Kind != NeverReached {
		t.Errorf("TWRP Kind = %v, want never", res.TWRP.Kind)
	}
	if res.TCPAS >= 0 {
		t.Errorf("TCPAS = %v, want negative for a receding track", res.TCPAS)
	}
}

func TestEvaluate_ParallelPassAbeam(t *testing.T) {
	res := Evaluate(Geometry{
		DA:            geo.LatLon{Lat: 28.0, Lon: 77.0},
		DARadiusKm:    10,
		WeaponRangeKm: 10,
		Track:         geo.LatLon{Lat: 28.0, Lon: 77.1},
		SpeedMps:      200,
		HeadingDeg:    180,
	})
	if res.CPAKm <= 0 {
		t.Errorf("CPAKm = %v, want > 0", res.CPAKm)
	}
	if math.IsInf(res.TCPAS, 0) || res.TCPAS < 0 {
		t.Errorf("TCPAS = %v, want finite and >= 0", res.TCPAS)
	}
}

func TestEvaluate_RecedingNeverReachesWeaponRange(t *testing.T) {
	res := Evaluate(Geometry{
		DA:            geo.LatLon{Lat: 28.0, Lon: 77.0},
		DARadiusKm:    10,
		WeaponRangeKm: 5,
		Track:         geo.LatLon{Lat: 28.0, Lon: 77.1},
		SpeedMps:      250,
		HeadingDeg:    90,
	})
	if res.TWRP.Kind != NeverReached {
		t.Errorf("TWRP = %+v, want never", res.TWRP)
	}
	if !math.IsInf(res.TWRP.Time(), 1) {
		t.Errorf("TWRP.Time() = %v, want +Inf", res.TWRP.Time())
	}
}

func TestEvaluate_InboundAcrossAntimeridian(t *testing.T) {
	res := Evaluate(Geometry{
		DA:            geo.LatLon{Lat: 0, Lon: 179.95},
		DARadiusKm:    5,
		WeaponRangeKm: 5,
		Track:         geo.LatLon{Lat: 0, Lon: -179.95},
		SpeedMps:      200,
		HeadingDeg:    270,
	})
	rangeM := 0.1 * halfDegM / 0.5
	if !almostEqual(res.RangeKm, rangeM/1000, 1e-6) {
		t.Errorf("RangeKm = %v, want %v", res.RangeKm, rangeM/1000)
	}
	if !almostEqual(res.CPAKm, 0, 1e-6) {
		t.Errorf("CPAKm = %v, want ~0", res.CPAKm)
	}
	if !almostEqual(res.TCPAS, rangeM/200, 1e-6) {
		t.Errorf("TCPAS = %v, want %v", res.TCPAS, rangeM/200)
	}
	wantTDB := (rangeM - 5_000) / 200
	if res.TDB.Kind != ReachedAt || !almostEqual(res.TDB.Seconds, wantTDB, 1e-6) {
		t.Errorf("TDB = %+v, want %v", res.TDB, wantTDB)
	}
	if res.TWRP != res.TDB {
		t.Errorf("TWRP %+v should equal TDB %+v", res.TWRP, res.TDB)
	}
}
