// Package pharmacy locates nearby pharmacies from the directory
// served by the remote API.
package pharmacy

import (
	"math"
	"sort"
)

// Pharmacy is a directory entry. Coordinates are WGS84 degrees.
type Pharmacy struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Address   string  `json:"address"`
	Phone     string  `json:"phone,omitempty"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// WithDistance pairs a pharmacy with its distance from a reference
// point, in kilometers.
type WithDistance struct {
	Pharmacy
	DistanceKm float64 `json:"distanceKm"`
}

const earthRadiusKm = 6371.0

// Haversine returns the great-circle distance in kilometers between
// two coordinates.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
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

// Nearest returns up to limit pharmacies sorted by distance from the
// given point. limit <= 0 means no cap.
func Nearest(pharmacies []Pharmacy, lat, lon float64, limit int) []WithDistance {
	out := make([]WithDistance, 0, len(pharmacies))
	for _, p := range pharmacies {
		out = append(out, WithDistance{
			Pharmacy:   p,
			DistanceKm: Haversine(lat, lon, p.Latitude, p.Longitude),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].DistanceKm < out[j].DistanceKm
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
