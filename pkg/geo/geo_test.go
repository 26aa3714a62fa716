package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"groundctl/pkg/ontology"
)

func loc(lat, lon float64) ontology.Location {
	return ontology.Location{Lat: lat, Lon: lon}
}

func TestHaversine(t *testing.T) {
	tests := []struct {
		name      string
		a, b      ontology.Location
		want      float64
		tolerance float64
	}{
		{
			name:      "same point",
			a:         loc(37.7749, -122.4194),
			b:         loc(37.7749, -122.4194),
			want:      0,
			tolerance: 0.001,
		},
		{
			name:      "one degree of latitude",
			a:         loc(0, 0),
			b:         loc(1, 0),
			want:      111195, // 2*pi*R/360
			tolerance: 50,
		},
		{
			name:      "SF to LA",
			a:         loc(37.7749, -122.4194),
			b:         loc(34.0522, -118.2437),
			want:      559000,
			tolerance: 5000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Haversine(tt.a, tt.b), tt.tolerance)
		})
	}
}

func TestBearing(t *testing.T) {
	assert.InDelta(t, 0, Bearing(loc(0, 0), loc(1, 0)), 0.01, "due north")
	assert.InDelta(t, 90, Bearing(loc(0, 0), loc(0, 1)), 0.01, "due east")
	assert.InDelta(t, 180, Bearing(loc(1, 0), loc(0, 0)), 0.01, "due south")
	assert.InDelta(t, -90, Bearing(loc(0, 1), loc(0, 0)), 0.01, "due west")
}

func TestPointInPolygon(t *testing.T) {
	// Closed square ring (0,0) -> (0,10) -> (10,10) -> (10,0) in lat/lon.
	square := []ontology.Location{
		loc(0, 0), loc(0, 10), loc(10, 10), loc(10, 0), loc(0, 0),
	}

	tests := []struct {
		name  string
		point ontology.Location
		want  bool
	}{
		{"center inside", loc(5, 5), true},
		{"far outside", loc(15, 15), false},
		{"outside west", loc(5, -1), false},
		{"outside south", loc(-1, 5), false},
		{"near edge inside", loc(9.999, 9.999), true},
		// Convention: the origin vertex itself tests as outside (the strict
		// lower-bound check skips edges whose band it sits on).
		{"origin vertex", loc(0, 0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PointInPolygon(tt.point, square))
		})
	}
}

func TestPointInPolygonConcave(t *testing.T) {
	// U-shape: the notch between the prongs is outside.
	u := []ontology.Location{
		loc(0, 0), loc(10, 0), loc(10, 2), loc(2, 2), loc(2, 8),
		loc(10, 8), loc(10, 10), loc(0, 10), loc(0, 0),
	}

	assert.True(t, PointInPolygon(loc(1, 5), u), "base of the U")
	assert.False(t, PointInPolygon(loc(8, 5), u), "notch")
	assert.True(t, PointInPolygon(loc(5, 1), u), "left prong")
	assert.True(t, PointInPolygon(loc(5, 9), u), "right prong")
}

func TestPolygonArea(t *testing.T) {
	// 0.01 x 0.01 degree square is roughly 1113.2 x 1113.2 meters planar.
	square := []ontology.Location{
		loc(0, 0), loc(0, 0.01), loc(0.01, 0.01), loc(0.01, 0), loc(0, 0),
	}
	want := 0.01 * 0.01 * MetersPerDegree * MetersPerDegree
	assert.InDelta(t, want, PolygonArea(square), want*0.001)
}

func TestPathDistance(t *testing.T) {
	wps := []ontology.Waypoint{
		{Lat: 0, Lon: 0},
		{Lat: 1, Lon: 0},
		{Lat: 2, Lon: 0},
	}
	assert.InDelta(t, 2*111195, PathDistance(wps), 100)
	assert.Zero(t, PathDistance(nil))
	assert.Zero(t, PathDistance(wps[:1]))
}

func TestDistanceToBoundary(t *testing.T) {
	square := []ontology.Location{
		loc(0, 0), loc(0, 0.01), loc(0.01, 0.01), loc(0.01, 0), loc(0, 0),
	}
	// Nearest ring vertex to (0.001, 0.001) is the origin.
	want := Haversine(loc(0.001, 0.001), loc(0, 0))
	assert.InDelta(t, want, DistanceToBoundary(loc(0.001, 0.001), square), 0.01)
}
