package models

import "math"

// earthRadiusMiles is the mean Earth radius used for great-circle distances.
const earthRadiusMiles = 3959.87433

// Location represents a geographic coordinate pair in degrees.
// It is an immutable value type; all distance math goes through Distance.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Distance returns the Haversine great-circle distance to other, in miles.
// Distance is symmetric and zero for identical points.
func (l Location) Distance(other Location) float64 {
	lat1 := toRadians(l.Latitude)
	lon1 := toRadians(l.Longitude)
	lat2 := toRadians(other.Latitude)
	lon2 := toRadians(other.Longitude)

	dlat := lat2 - lat1
	dlon := lon2 - lon1

	a := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dlon/2)*math.Sin(dlon/2)
	c := 2 * math.Asin(math.Sqrt(a))

	return earthRadiusMiles * c
}

func toRadians(degrees float64) float64 {
	return degrees * math.Pi / 180.0
}
