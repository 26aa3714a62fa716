// Package geo holds the spherical and planar geometry used by the geofencing
// engine and the mission planners. All functions are pure.
package geo

import (
	"math"

	"groundctl/pkg/ontology"
)

const (
	// EarthRadiusMeters is the mean Earth radius used for great-circle math.
	EarthRadiusMeters = 6371000.0

	// MetersPerDegree is the length of one degree of latitude. Longitude
	// degrees shrink by cos(latitude).
	MetersPerDegree = 111320.0
)

// Haversine returns the great-circle distance in meters between two points.
// Altitude is ignored.
func Haversine(a, b ontology.Location) float64 {
	lat1 := radians(a.Lat)
	lon1 := radians(a.Lon)
	lat2 := radians(b.Lat)
	lon2 := radians(b.Lon)

	dlat := lat2 - lat1
	dlon := lon2 - lon1

	h := math.Pow(math.Sin(dlat/2), 2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Pow(math.Sin(dlon/2), 2)
	return EarthRadiusMeters * 2 * math.Asin(math.Sqrt(h))
}

// Bearing returns the initial great-circle bearing from a to b in degrees,
// in the atan2 range (-180, 180].
func Bearing(a, b ontology.Location) float64 {
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)
	dlon := radians(b.Lon - a.Lon)

	y := math.Sin(dlon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dlon)

	return degrees(math.Atan2(y, x))
}

// PointInPolygon runs the ray-casting containment test against a closed ring.
// The ray runs from the point toward +infinity longitude; each qualifying edge
// crossing toggles containment. Horizontal edges never qualify (the strict
// lower-bound check excludes them), so they cannot produce spurious toggles.
// A point exactly on the top vertex of an edge counts as inside that edge's
// crossing band; points on a right-hand vertical edge test as inside.
func PointInPolygon(p ontology.Location, polygon []ontology.Location) bool {
	x, y := p.Lon, p.Lat
	n := len(polygon)
	if n < 3 {
		return false
	}

	inside := false
	p1x, p1y := polygon[0].Lon, polygon[0].Lat
	for i := 1; i <= n; i++ {
		p2x, p2y := polygon[i%n].Lon, polygon[i%n].Lat
		if y > math.Min(p1y, p2y) && y <= math.Max(p1y, p2y) && x <= math.Max(p1x, p2x) {
			crosses := p1x == p2x
			if p1y != p2y {
				xinters := (y-p1y)*(p2x-p1x)/(p2y-p1y) + p1x
				crosses = crosses || x <= xinters
			}
			if crosses {
				inside = !inside
			}
		}
		p1x, p1y = p2x, p2y
	}

	return inside
}

// PolygonArea returns the planar shoelace area of the polygon in square
// meters, using the flat 111320 m/degree approximation on both axes. Good
// enough for coverage statistics over survey-sized areas; not for navigation.
func PolygonArea(polygon []ontology.Location) float64 {
	n := len(polygon)
	area := 0.0
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		area += polygon[i].Lon * polygon[j].Lat
		area -= polygon[j].Lon * polygon[i].Lat
	}
	return math.Abs(area) / 2.0 * MetersPerDegree * MetersPerDegree
}

// PathDistance sums the consecutive great-circle legs of a waypoint sequence.
func PathDistance(waypoints []ontology.Waypoint) float64 {
	total := 0.0
	for i := 0; i+1 < len(waypoints); i++ {
		a := ontology.Location{Lat: waypoints[i].Lat, Lon: waypoints[i].Lon}
		b := ontology.Location{Lat: waypoints[i+1].Lat, Lon: waypoints[i+1].Lon}
		total += Haversine(a, b)
	}
	return total
}

// DistanceToBoundary approximates the distance from a point to the polygon
// boundary as the minimum haversine distance to each edge's first vertex.
// This under- or over-reports against the true point-to-segment distance but
// matches the tuning of the 50 m proximity threshold in the breach engine.
func DistanceToBoundary(p ontology.Location, polygon []ontology.Location) float64 {
	minDist := math.Inf(1)
	for i := 0; i+1 < len(polygon); i++ {
		if d := Haversine(p, polygon[i]); d < minDist {
			minDist = d
		}
	}
	return minDist
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }
func degrees(rad float64) float64 { return rad * 180 / math.Pi }
