package geo

import "strings"

// GeohashPrecision is the geohash length attached to records for
// operator-facing logs. Six characters is roughly ±0.61 km, coarse
// enough to avoid pinpointing the client.
const GeohashPrecision = 6

// base32 is the geohash alphabet (base32 without 'a', 'i', 'l', 'o').
const base32 = "0123456789bcdefghjkmnpqrstuvwxyz"

// encodeGeohash encodes latitude and longitude into a geohash of the
// given length using the standard interleaved bisection algorithm.
func encodeGeohash(lat, lng float64, precision int) string {
	if precision < 1 {
		precision = GeohashPrecision
	}

	latRange := [2]float64{-90.0, 90.0}
	lngRange := [2]float64{-180.0, 180.0}

	var out strings.Builder
	out.Grow(precision)

	bits := 0
	var ch uint

	even := true
	for out.Len() < precision {
		if even {
			mid := (lngRange[0] + lngRange[1]) / 2
			if lng > mid {
				ch |= (1 << (4 - bits))
				lngRange[0] = mid
			} else {
				lngRange[1] = mid
			}
		} else {
			mid := (latRange[0] + latRange[1]) / 2
			if lat > mid {
				ch |= (1 << (4 - bits))
				latRange[0] = mid
			} else {
				latRange[1] = mid
			}
		}

		even = !even
		bits++

		if bits == 5 {
			out.WriteByte(base32[ch])
			bits = 0
			ch = 0
		}
	}

	return out.String()
}
