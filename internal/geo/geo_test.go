package geo

import (
	"errors"
	"math"
	"testing"
)

// metersNorth returns the latitude reached by moving m meters due north.
func metersNorth(lat, m float64) float64 {
	return lat + m/(EarthRadiusMeters*math.Pi/180)
}

func TestDistanceSymmetricAndZero(t *testing.T) {
	t.Parallel()

	points := []Point{
		{0, 0},
		{52.5200, 13.4050},
		{-33.8688, 151.2093},
		{40.7128, -74.0060},
		{89.9, 179.9},
		{-89.9, -179.9},
		{51.5007, -0.1246},
	}
	for _, p := range points {
		if d := Distance(p, p); d != 0 {
			t.Errorf("distance(%v,%v) = %v, want 0", p, p, d)
		}
		for _, q := range points {
			if Distance(p, q) != Distance(q, p) {
				t.Errorf("distance not symmetric for %v, %v", p, q)
			}
		}
	}
}

func TestDistanceKnownValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		p, q    Point
		want    float64
		epsilon float64
	}{
		{"77 m north", Point{48.8566, 2.3522}, Point{metersNorth(48.8566, 77), 2.3522}, 77, 1e-6},
		{"666 m north", Point{48.8566, 2.3522}, Point{metersNorth(48.8566, 666), 2.3522}, 666, 1e-6},
		{"one degree on equator", Point{0, 0}, Point{0, 1}, EarthRadiusMeters * math.Pi / 180, 1e-6},
		{"paris to london", Point{48.8566, 2.3522}, Point{51.5074, -0.1278}, 343_500, 2_000},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := Distance(tt.p, tt.q)
			if math.Abs(got-tt.want) > tt.epsilon {
				t.Fatalf("distance = %v, want %v ± %v", got, tt.want, tt.epsilon)
			}
		})
	}
}

func TestDistanceMonotonicInSeparation(t *testing.T) {
	t.Parallel()

	prev := 0.0
	for deg := 0.5; deg <= 180; deg += 0.5 {
		d := DistanceMeters(0, 0, 0, deg)
		if d <= prev {
			t.Fatalf("distance at %v° = %v, not greater than %v", deg, d, prev)
		}
		prev = d
	}
}

func TestMidpoint(t *testing.T) {
	t.Parallel()

	lat, lon := Midpoint(0, 0, 0, 10)
	if math.Abs(lat) > 1e-9 || math.Abs(lon-5) > 1e-9 {
		t.Fatalf("midpoint = (%v,%v), want (0,5)", lat, lon)
	}

	p := Point{48.8566, 2.3522}
	q := Point{51.5074, -0.1278}
	m := MidpointOf(p, q)
	if diff := math.Abs(Distance(p, m) - Distance(m, q)); diff > 0.01 {
		t.Fatalf("midpoint not equidistant: diff %v m", diff)
	}

	// Across the antimeridian the result stays in range.
	_, lon = Midpoint(0, 179, 0, -179)
	if lon < -180 || lon > 180 || math.Abs(math.Abs(lon)-180) > 1e-9 {
		t.Fatalf("antimeridian midpoint longitude = %v, want ±180", lon)
	}
}

func TestValidateCoordinates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		lat, lon float64
		ok       bool
	}{
		{0, 0, true},
		{90, 180, true},
		{-90, -180, true},
		{95, 0, false},
		{-90.0001, 0, false},
		{0, 180.5, false},
		{math.NaN(), 0, false},
		{0, math.NaN(), false},
	}
	for _, tt := range tests {
		err := ValidateCoordinates(tt.lat, tt.lon)
		if tt.ok && err != nil {
			t.Errorf("(%v,%v): unexpected error %v", tt.lat, tt.lon, err)
		}
		if !tt.ok && !errors.Is(err, ErrInvalidCoordinates) {
			t.Errorf("(%v,%v): expected ErrInvalidCoordinates, got %v", tt.lat, tt.lon, err)
		}
	}
}
