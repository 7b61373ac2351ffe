package geo

// Unit conversions used at the API and scenario-file boundaries.
const (
	MetersPerKm       = 1000.0
	MetersPerNM       = 1852.0
	MetersPerFoot     = 0.3048
	MpsPerKnot        = 1852.0 / 3600.0
	FeetPerMeter      = 1 / MetersPerFoot
	KnotsPerMps       = 1 / MpsPerKnot
	NauticalMilesPerM = 1 / MetersPerNM
)

// KmToM converts kilometres to metres.
func KmToM(km float64) float64 { return km * MetersPerKm }

// MToKm converts metres to kilometres.
func MToKm(m float64) float64 { return m / MetersPerKm }

// KnotsToMps converts knots to metres per second.
func KnotsToMps(kts float64) float64 { return kts * MpsPerKnot }

// FeetToM converts feet to metres.
func FeetToM(ft float64) float64 { return ft * MetersPerFoot }

// NMToM converts nautical miles to metres.
func NMToM(nm float64) float64 { return nm * MetersPerNM }
