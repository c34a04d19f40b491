// Package geo provides great-circle distance and midpoint math on a
// spherical Earth. Functions are pure; callers validate coordinate ranges
// with ValidateCoordinates before relying on the results.
package geo

import (
	"errors"
	"fmt"
	"math"
)

// EarthRadiusMeters is the mean Earth radius used by the Haversine formula.
const EarthRadiusMeters = 6371000.0

// ErrInvalidCoordinates reports an out-of-range latitude/longitude or a
// non-positive accuracy. Samples carrying it never reach evaluation.
var ErrInvalidCoordinates = errors.New("invalid coordinates")

// Point is a latitude/longitude pair in decimal degrees.
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Validate checks that the point lies within [-90,90] x [-180,180].
func (p Point) Validate() error {
	return ValidateCoordinates(p.Latitude, p.Longitude)
}

// ValidateCoordinates returns ErrInvalidCoordinates (wrapped with detail)
// when lat/lon are NaN or out of range.
func ValidateCoordinates(lat, lon float64) error {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return fmt.Errorf("%w: latitude %v out of range [-90,90]", ErrInvalidCoordinates, lat)
	}
	if math.IsNaN(lon) || lon < -180 || lon > 180 {
		return fmt.Errorf("%w: longitude %v out of range [-180,180]", ErrInvalidCoordinates, lon)
	}
	return nil
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }

func toDeg(rad float64) float64 { return rad * 180 / math.Pi }

// DistanceMeters returns the Haversine distance in meters between two points.
// Symmetric in its arguments and zero for identical points.
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	sLat := math.Sin(dLat / 2)
	sLon := math.Sin(dLon / 2)
	a := sLat*sLat + math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*sLon*sLon
	// Rounding can push a a hair outside [0,1] for antipodal points.
	a = math.Min(1, math.Max(0, a))
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusMeters * c
}

// Distance is DistanceMeters over two Points.
func Distance(p, q Point) float64 {
	return DistanceMeters(p.Latitude, p.Longitude, q.Latitude, q.Longitude)
}

// Midpoint returns the great-circle midpoint of two points. Longitude is
// normalised to [-180,180].
func Midpoint(lat1, lon1, lat2, lon2 float64) (lat, lon float64) {
	phi1, lambda1 := toRad(lat1), toRad(lon1)
	phi2 := toRad(lat2)
	dLambda := toRad(lon2 - lon1)

	bx := math.Cos(phi2) * math.Cos(dLambda)
	by := math.Cos(phi2) * math.Sin(dLambda)

	phiM := math.Atan2(math.Sin(phi1)+math.Sin(phi2),
		math.Sqrt((math.Cos(phi1)+bx)*(math.Cos(phi1)+bx)+by*by))
	lambdaM := lambda1 + math.Atan2(by, math.Cos(phi1)+bx)

	lon = math.Mod(toDeg(lambdaM)+540, 360) - 180
	return toDeg(phiM), lon
}

// MidpointOf is Midpoint over two Points.
func MidpointOf(p, q Point) Point {
	lat, lon := Midpoint(p.Latitude, p.Longitude, q.Latitude, q.Longitude)
	return Point{Latitude: lat, Longitude: lon}
}
