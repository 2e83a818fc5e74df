// Package geo provides great-circle distance, speed derivation and ETA projection.
package geo

import (
	"math"
	"time"
)

const (
	// EarthRadiusKm is the mean Earth radius used by Haversine.
	EarthRadiusKm = 6371.0

	// MaxPlausibleSpeedKmh is the ceiling above which a ping is treated as spoofed.
	MaxPlausibleSpeedKmh = 160.0

	// DefaultPlanningSpeedKmh is used when observed speed is missing or too low.
	DefaultPlanningSpeedKmh = 30.0

	// MinUsableSpeedKmh is the floor below which observed speed is ignored.
	MinUsableSpeedKmh = 1.0

	minElapsedSeconds = 0.001
)

// Point is a WGS84 coordinate in decimal degrees.
type Point struct {
	Lat float64 `json:"lat" bson:"lat"`
	Lng float64 `json:"lng" bson:"lng"`
}

// Valid reports whether the point lies inside the lat/lng ranges and is finite.
func (p Point) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lng, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// HaversineKm returns the great-circle distance between a and b in kilometres.
func HaversineKm(a, b Point) float64 {
	lat1 := toRad(a.Lat)
	lat2 := toRad(b.Lat)
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	if h > 1 {
		h = 1
	}
	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(h))
}

// SpeedKmh derives speed from a distance and elapsed time. Elapsed time is
// floored at one millisecond so a zero or negative delta yields a very large
// speed instead of a division by zero.
func SpeedKmh(distanceKm float64, elapsed time.Duration) float64 {
	seconds := math.Max(minElapsedSeconds, elapsed.Seconds())
	return distanceKm / seconds * 3600
}

// Implausible reports whether moving from prev to cur in elapsed time exceeds
// MaxPlausibleSpeedKmh. It also returns the computed speed.
func Implausible(prev, cur Point, elapsed time.Duration) (bool, float64) {
	speed := SpeedKmh(HaversineKm(prev, cur), elapsed)
	return speed > MaxPlausibleSpeedKmh, speed
}

// Fix is a timestamped point.
type Fix struct {
	Point
	At time.Time
}

// AverageSpeedKmh computes total distance over total positive elapsed time
// across consecutive fixes. Order of the input does not matter; pairs with a
// non-positive delta are skipped. ok is false when no positive delta exists.
func AverageSpeedKmh(fixes []Fix) (speed float64, ok bool) {
	if len(fixes) < 2 {
		return 0, false
	}
	var distKm, seconds float64
	for i := 1; i < len(fixes); i++ {
		a, b := fixes[i-1], fixes[i]
		dt := b.At.Sub(a.At).Seconds()
		if dt < 0 {
			a, b = b, a
			dt = -dt
		}
		if dt <= 0 {
			continue
		}
		distKm += HaversineKm(a.Point, b.Point)
		seconds += dt
	}
	if seconds <= 0 {
		return 0, false
	}
	return distKm / seconds * 3600, true
}

// PlanningSpeed returns observed when it is usable, else DefaultPlanningSpeedKmh.
func PlanningSpeed(observed float64, ok bool) float64 {
	if !ok || math.IsNaN(observed) || observed <= MinUsableSpeedKmh {
		return DefaultPlanningSpeedKmh
	}
	return observed
}

// EtaSeconds returns round(remainingKm / speedKmh * 3600).
func EtaSeconds(remainingKm, speedKmh float64) int64 {
	if speedKmh <= 0 {
		speedKmh = DefaultPlanningSpeedKmh
	}
	return int64(math.Round(remainingKm / speedKmh * 3600))
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
