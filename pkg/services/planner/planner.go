// Package planner generates waypoint sequences for the three geometric
// pattern types and validates missions against vehicle capabilities and the
// geofencing engine.
package planner

import (
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"groundctl/pkg/geo"
	"groundctl/pkg/ontology"
	"groundctl/pkg/services/geofence"
)

// BatterySafetyFactor is the margin applied on top of the raw range-derived
// battery requirement during validation.
const BatterySafetyFactor = 1.2

// Assumed planning speeds (m/s) for the time estimates stored in mission
// metadata. Validation uses the vehicle's actual cruise speed instead.
const (
	surveyPlanningSpeed   = 10.0
	corridorPlanningSpeed = 15.0
)

// ValidationResult is the structured outcome of ValidateMission. Issues make
// the mission invalid; warnings do not.
type ValidationResult struct {
	Valid            bool     `json:"valid"`
	Issues           []string `json:"issues"`
	Warnings         []string `json:"warnings"`
	TotalDistance    float64  `json:"total_distance"`
	RequiredBattery  float64  `json:"required_battery"`
	EstimatedSeconds float64  `json:"estimated_time"`
}

type Planner struct {
	geofencing *geofence.Engine
}

func New(geofencing *geofence.Engine) *Planner {
	return &Planner{geofencing: geofencing}
}

// CreateSurveyMission lays a boustrophedon grid over the AOI's bounding box.
// Effective line spacing is gridSpacing*(1-overlap); rows alternate scan
// direction to minimize turning.
func (p *Planner) CreateSurveyMission(aoi []ontology.Location, gridSpacing, altitude, overlap float64) *ontology.Mission {
	waypoints := generateGridPattern(aoi, gridSpacing, altitude, overlap)

	totalDistance := geo.PathDistance(waypoints)
	mission := &ontology.Mission{
		ID:        newMissionID(),
		Name:      "Survey Mission",
		Type:      ontology.MissionSurvey,
		Status:    ontology.MissionCreated,
		Waypoints: waypoints,
		CreatedAt: time.Now(),
		Metadata: map[string]any{
			"grid_spacing":   gridSpacing,
			"coverage_area":  geo.PolygonArea(aoi),
			"total_distance": totalDistance,
			"estimated_time": estimateFlightTime(totalDistance, surveyPlanningSpeed),
			"waypoint_count": len(waypoints),
			"overlap":        overlap,
		},
	}

	log.Printf("[Planner] Survey mission created: %s with %d waypoints", mission.ID, len(waypoints))
	return mission
}

// CreateCorridorMission generates three parallel lanes offset perpendicular
// to the start-end bearing at -width/2, 0 and +width/2: six waypoints in
// total. The segments parameter is recorded in metadata but does not
// subdivide the path.
func (p *Planner) CreateCorridorMission(start, end ontology.Location, width, altitude float64, segments int) *ontology.Mission {
	waypoints := generateCorridorPattern(start, end, width, altitude)

	distance := geo.Haversine(start, end)
	mission := &ontology.Mission{
		ID:        newMissionID(),
		Name:      "Corridor Mission",
		Type:      ontology.MissionCorridor,
		Status:    ontology.MissionCreated,
		Waypoints: waypoints,
		CreatedAt: time.Now(),
		Metadata: map[string]any{
			"corridor_width": width,
			"distance":       distance,
			"estimated_time": estimateFlightTime(distance, corridorPlanningSpeed),
			"segments":       segments,
		},
	}

	log.Printf("[Planner] Corridor mission created: %s", mission.ID)
	return mission
}

// CreateStructureScan generates concentric orbits around the center with the
// altitude stepped linearly from altitudeMin to altitudeMax across orbits.
func (p *Planner) CreateStructureScan(center ontology.Location, radius, altitudeMin, altitudeMax float64, orbits, pointsPerOrbit int) *ontology.Mission {
	var waypoints []ontology.Waypoint

	altitudeStep := 0.0
	if orbits > 1 {
		altitudeStep = (altitudeMax - altitudeMin) / float64(orbits-1)
	}

	for orbit := 0; orbit < orbits; orbit++ {
		orbitAltitude := altitudeMin + float64(orbit)*altitudeStep

		for i := 0; i < pointsPerOrbit; i++ {
			angle := (360.0 / float64(pointsPerOrbit)) * float64(i)
			rad := angle * math.Pi / 180

			latOffset := (radius / geo.MetersPerDegree) * math.Cos(rad)
			lonOffset := (radius / (geo.MetersPerDegree * math.Cos(center.Lat*math.Pi/180))) * math.Sin(rad)

			waypoints = append(waypoints, ontology.Waypoint{
				Lat:      center.Lat + latOffset,
				Lon:      center.Lon + lonOffset,
				Alt:      orbitAltitude,
				Command:  ontology.CommandWaypoint,
				Sequence: len(waypoints),
			})
		}
	}

	mission := &ontology.Mission{
		ID:        newMissionID(),
		Name:      "Structure Scan",
		Type:      ontology.MissionStructureScan,
		Status:    ontology.MissionCreated,
		Waypoints: waypoints,
		CreatedAt: time.Now(),
		Metadata: map[string]any{
			"orbits":           orbits,
			"radius":           radius,
			"altitude_range":   []float64{altitudeMin, altitudeMax},
			"points_per_orbit": pointsPerOrbit,
		},
	}

	log.Printf("[Planner] Structure scan created: %s with %d waypoints", mission.ID, len(waypoints))
	return mission
}

// ValidateMission checks the mission against the vehicle's flight envelope,
// battery with the safety margin, the geofencing engine, and the mission's
// required sensors. Critical breaches and envelope/battery shortfalls are
// issues; warning-zone breaches and missing sensors are warnings.
func (p *Planner) ValidateMission(mission *ontology.Mission, vehicle *ontology.Vehicle) *ValidationResult {
	issues := []string{}
	warnings := []string{}

	for _, wp := range mission.Waypoints {
		if wp.Alt > vehicle.Capabilities.MaxAltitude {
			issues = append(issues, fmt.Sprintf(
				"waypoint %d exceeds max altitude: %.1fm > %.1fm",
				wp.Sequence, wp.Alt, vehicle.Capabilities.MaxAltitude))
		}
	}

	totalDistance := geo.PathDistance(mission.Waypoints)
	requiredBattery := (totalDistance / vehicle.Capabilities.MaxRange) * 100
	if vehicle.Battery < requiredBattery*BatterySafetyFactor {
		issues = append(issues, fmt.Sprintf(
			"insufficient battery: %.1f%% < %.1f%% required",
			vehicle.Battery, requiredBattery*BatterySafetyFactor))
	}

	for _, wp := range mission.Waypoints {
		breaches := p.geofencing.CheckBreach(
			ontology.Location{Lat: wp.Lat, Lon: wp.Lon, Alt: wp.Alt}, vehicle.ID)
		for _, b := range breaches {
			if b.Severity == geofence.SeverityCritical {
				issues = append(issues, fmt.Sprintf(
					"waypoint %d violates geofence: %s", wp.Sequence, b.ZoneName))
			} else {
				warnings = append(warnings, fmt.Sprintf(
					"waypoint %d in warning zone: %s", wp.Sequence, b.ZoneName))
			}
		}
	}

	for _, sensor := range requiredSensors(mission) {
		if !hasSensor(vehicle, sensor) {
			warnings = append(warnings, "vehicle lacks required sensor: "+sensor)
		}
	}

	return &ValidationResult{
		Valid:            len(issues) == 0,
		Issues:           issues,
		Warnings:         warnings,
		TotalDistance:    totalDistance,
		RequiredBattery:  requiredBattery,
		EstimatedSeconds: estimateFlightTime(totalDistance, vehicle.Capabilities.CruiseSpeed),
	}
}

// generateGridPattern sweeps the AOI bounding box south to north, emitting a
// row of waypoints per line; even rows scan west→east, odd rows east→west.
func generateGridPattern(aoi []ontology.Location, spacing, altitude, overlap float64) []ontology.Waypoint {
	if len(aoi) == 0 {
		return nil
	}

	minLat, maxLat := aoi[0].Lat, aoi[0].Lat
	minLon, maxLon := aoi[0].Lon, aoi[0].Lon
	for _, p := range aoi[1:] {
		minLat = math.Min(minLat, p.Lat)
		maxLat = math.Max(maxLat, p.Lat)
		minLon = math.Min(minLon, p.Lon)
		maxLon = math.Max(maxLon, p.Lon)
	}

	effectiveSpacing := spacing * (1 - overlap)
	latSpacing := effectiveSpacing / geo.MetersPerDegree
	lonSpacing := effectiveSpacing / (geo.MetersPerDegree * math.Cos((minLat+maxLat)/2*math.Pi/180))

	var waypoints []ontology.Waypoint
	sequence := 0
	line := 0
	for lat := minLat; lat < maxLat; lat += latSpacing {
		if line%2 == 0 {
			for lon := minLon; lon < maxLon; lon += lonSpacing {
				waypoints = append(waypoints, ontology.Waypoint{
					Lat: lat, Lon: lon, Alt: altitude,
					Command: ontology.CommandWaypoint, Sequence: sequence,
				})
				sequence++
			}
		} else {
			for lon := maxLon; lon > minLon; lon -= lonSpacing {
				waypoints = append(waypoints, ontology.Waypoint{
					Lat: lat, Lon: lon, Alt: altitude,
					Command: ontology.CommandWaypoint, Sequence: sequence,
				})
				sequence++
			}
		}
		line++
	}

	return waypoints
}

func generateCorridorPattern(start, end ontology.Location, width, altitude float64) []ontology.Waypoint {
	bearing := geo.Bearing(start, end)
	perp := (bearing + 90) * math.Pi / 180

	var waypoints []ontology.Waypoint
	for _, offset := range []float64{-width / 2, 0, width / 2} {
		latOffset := (offset / geo.MetersPerDegree) * math.Cos(perp)
		lonOffset := (offset / (geo.MetersPerDegree * math.Cos(start.Lat*math.Pi/180))) * math.Sin(perp)

		waypoints = append(waypoints, ontology.Waypoint{
			Lat: start.Lat + latOffset, Lon: start.Lon + lonOffset, Alt: altitude,
			Command: ontology.CommandWaypoint, Sequence: len(waypoints),
		})
		waypoints = append(waypoints, ontology.Waypoint{
			Lat: end.Lat + latOffset, Lon: end.Lon + lonOffset, Alt: altitude,
			Command: ontology.CommandWaypoint, Sequence: len(waypoints),
		})
	}

	return waypoints
}

// requiredSensors reads the mission's required_sensors metadata, accepting
// either []string or the []any a JSON round trip produces.
func requiredSensors(mission *ontology.Mission) []string {
	raw, ok := mission.Metadata["required_sensors"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func hasSensor(vehicle *ontology.Vehicle, sensor string) bool {
	for _, s := range vehicle.Capabilities.Sensors {
		if s == sensor {
			return true
		}
	}
	return false
}

func estimateFlightTime(distance, speed float64) float64 {
	if speed <= 0 {
		return 0
	}
	return distance / speed
}

func newMissionID() string {
	return "M-" + strings.ToUpper(uuid.New().String()[:8])
}
