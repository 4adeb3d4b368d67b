// Package geo converts station coordinates and reverse-geocodes them
// for sourcetable enrichment. ECEF positions from RTCM 1005/1006 are
// transformed to WGS84 geodetic coordinates, then matched against an
// embedded city table.
package geo

import "math"

// WGS84 ellipsoid constants.
const (
	wgs84A  = 6378137.0
	wgs84F  = 1.0 / 298.257223563
	wgs84E2 = wgs84F * (2.0 - wgs84F)
)

// ECEFToGeodetic converts Earth-Centered Earth-Fixed coordinates in
// meters to WGS84 latitude/longitude in degrees and ellipsoidal height
// in meters. Iterative solution, converges to sub-millimeter in a few
// rounds for any terrestrial position.
func ECEFToGeodetic(x, y, z float64) (lat, lon, height float64) {
	r2 := x*x + y*y
	v := wgs84A
	zz := z
	zk := 0.0

	for math.Abs(zz-zk) >= 1e-4 {
		zk = zz
		sinp := zz / math.Sqrt(r2+zz*zz)
		v = wgs84A / math.Sqrt(1.0-wgs84E2*sinp*sinp)
		zz = z + v*wgs84E2*sinp
	}

	switch {
	case r2 > 1e-12:
		lat = math.Atan(zz / math.Sqrt(r2))
		lon = math.Atan2(y, x)
	case z > 0:
		lat = math.Pi / 2
	default:
		lat = -math.Pi / 2
	}

	height = math.Sqrt(r2+zz*zz) - v

	return lat * 180 / math.Pi, lon * 180 / math.Pi, height
}
