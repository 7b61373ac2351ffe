// Package geo provides the spherical-earth helpers used by the threat
// evaluation core: great-circle distance and bearing, a local tangent plane
// (east/north metres) around an origin, and the inverse of that projection.
//
// The plane is an equirectangular small-angle approximation. It is accurate
// to well under one percent inside a few hundred kilometres of the origin,
// which covers every DA radius the engine accepts.
package geo

import "math"

// EarthRadiusM is the mean earth radius (IUGG R1) in metres.
const EarthRadiusM = 6371008.7714

// LatLon is a position in decimal degrees.
type LatLon struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

func rad(deg float64) float64 { return deg * math.Pi / 180 }
func deg(r float64) float64   { return r * 180 / math.Pi }

// DistanceAndBearing returns the haversine distance in metres from p1 to p2
// and the initial bearing in degrees, 0 = north, clockwise, in [0, 360).
func DistanceAndBearing(p1, p2 LatLon) (meters, bearing float64) {
	phi1, phi2 := rad(p1.Lat), rad(p2.Lat)
	dphi := phi2 - phi1
	dlmb := rad(p2.Lon - p1.Lon)

	a := math.Sin(dphi/2)*math.Sin(dphi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dlmb/2)*math.Sin(dlmb/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	meters = EarthRadiusM * c

	y := math.Sin(dlmb) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dlmb)
	bearing = Wrap360(deg(math.Atan2(y, x)))
	return meters, bearing
}

// Distance is DistanceAndBearing without the bearing.
func Distance(p1, p2 LatLon) float64 {
	m, _ := DistanceAndBearing(p1, p2)
	return m
}

// ToLocalPlane projects p onto the east/north plane tangent at origin.
// The longitude scale uses the cosine of the mean latitude of p and origin.
// The longitude difference is taken the short way across the antimeridian.
func ToLocalPlane(p, origin LatLon) (east, north float64) {
	meanLat := rad((p.Lat + origin.Lat) / 2)
	east = EarthRadiusM * rad(WrapSigned(p.Lon-origin.Lon)) * math.Cos(meanLat)
	north = EarthRadiusM * rad(p.Lat-origin.Lat)
	return east, north
}

// FromLocalPlane is the inverse of ToLocalPlane. The longitude is wrapped
// into [-180, 180).
func FromLocalPlane(east, north float64, origin LatLon) LatLon {
	lat := origin.Lat + deg(north/EarthRadiusM)
	c := math.Cos(rad((lat + origin.Lat) / 2))
	if math.Abs(c) < 1e-12 {
		// Pole: longitude is degenerate.
		return LatLon{Lat: lat, Lon: origin.Lon}
	}
	lon := WrapSigned(origin.Lon + deg(east/(EarthRadiusM*c)))
	return LatLon{Lat: lat, Lon: lon}
}

// Destination returns the point reached by travelling distanceM metres from p
// along the great circle with the given initial bearing.
func Destination(p LatLon, bearingDeg, distanceM float64) LatLon {
	phi1, lmb1 := rad(p.Lat), rad(p.Lon)
	theta := rad(bearingDeg)
	delta := distanceM / EarthRadiusM

	phi2 := math.Asin(math.Sin(phi1)*math.Cos(delta) +
		math.Cos(phi1)*math.Sin(delta)*math.Cos(theta))
	lmb2 := lmb1 + math.Atan2(
		math.Sin(theta)*math.Sin(delta)*math.Cos(phi1),
		math.Cos(delta)-math.Sin(phi1)*math.Sin(phi2),
	)
	lon := math.Mod(deg(lmb2)+540, 360) - 180
	return LatLon{Lat: deg(phi2), Lon: lon}
}

// Wrap360 wraps an angle into [0, 360).
func Wrap360(d float64) float64 {
	w := math.Mod(d, 360)
	if w < 0 {
		w += 360
	}
	if w >= 360 {
		w = 0
	}
	return w
}

// WrapSigned wraps an angle into [-180, 180).
func WrapSigned(d float64) float64 {
	w := math.Mod(d+180, 360)
	if w < 0 {
		w += 360
	}
	return w - 180
}
