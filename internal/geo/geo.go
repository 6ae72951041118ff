// Package geo provides great-circle distance math shared by the pipeline's
// location-consistency check and the dispatch engine's nearest-team selection.
package geo

import "math"

const earthRadiusKm = 6371

// HaversineKm returns the great-circle distance between two lat/lon points in
// kilometers.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := radians(lat2 - lat1)
	dLon := radians(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(lat1))*math.Cos(radians(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
