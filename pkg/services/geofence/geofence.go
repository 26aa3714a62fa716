// Package geofence owns the zone set and evaluates spatial breaches. Zones
// are validated and ring-closed on entry; breach checks walk every active
// zone (the bounding-box index is a coarse filter hint, not a spatial tree).
package geofence

import (
	"fmt"
	"log"
	"sort"
	"sync"

	"groundctl/pkg/geo"
	"groundctl/pkg/ontology"
	"groundctl/pkg/services/router"
	"groundctl/pkg/services/state"
	"groundctl/pkg/shared"
)

// ProximityWarningMeters is the boundary distance below which a warning zone
// reports a proximity warning.
const ProximityWarningMeters = 50.0

// Zone defaults applied on AddZone when the caller leaves the fields unset.
// A zone with no altitude band would otherwise be dead at every positive
// altitude.
const (
	DefaultZonePriority    = 1
	DefaultZoneMaxAltitude = 1000.0
)

// Breach classification
const (
	BreachEntry     = "entry_breach"
	BreachExit      = "exit_breach"
	BreachProximity = "proximity_warning"

	SeverityCritical = "critical"
	SeverityWarning  = "warning"

	ActionRTL   = "RTL"
	ActionAlert = "alert"
)

// Breach is one zone violation found for a location.
type Breach struct {
	ZoneID   string  `json:"zone_id"`
	ZoneName string  `json:"zone_name"`
	Type     string  `json:"type"`
	Severity string  `json:"severity"`
	Action   string  `json:"action"`
	Priority int     `json:"priority"`
	Distance float64 `json:"distance,omitempty"` // proximity warnings only
}

// BBox is the coarse per-zone index entry.
type BBox struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
}

type Engine struct {
	mu     sync.RWMutex
	zones  map[string]*ontology.Geofence
	index  map[string]BBox
	state  *state.Store
	router *router.Router
}

func NewEngine(st *state.Store, rt *router.Router) *Engine {
	return &Engine{
		zones:  make(map[string]*ontology.Geofence),
		index:  make(map[string]BBox),
		state:  st,
		router: rt,
	}
}

// AddZone validates the polygon, closes the ring when needed, fills in the
// zone defaults, stores the zone, and indexes its bounding box. Every zone
// starts active; deactivation goes through SetActive.
func (e *Engine) AddZone(z *ontology.Geofence) error {
	if err := normalizePolygon(z); err != nil {
		return fmt.Errorf("invalid geofence %s: %w", z.ID, err)
	}
	applyZoneDefaults(z)

	e.mu.Lock()
	e.zones[z.ID] = z
	e.index[z.ID] = boundingBox(z.Polygon)
	e.mu.Unlock()

	e.state.Set("geofences."+z.ID, shared.ToMap(z))
	e.router.Publish(shared.NewEvent(
		shared.EventGeofenceAdded,
		shared.PriorityMedium,
		"geofencing_engine",
		map[string]any{"zone_id": z.ID, "zone_type": string(z.Type)},
	))

	log.Printf("[Geofence] Zone added: %s (%s, %s)", z.ID, z.Name, z.Type)
	return nil
}

// applyZoneDefaults backfills the fields a minimal zone definition omits.
// JSON cannot distinguish an omitted Active from an explicit false, so a
// freshly added zone is always active.
func applyZoneDefaults(z *ontology.Geofence) {
	z.Active = true
	if z.Priority == 0 {
		z.Priority = DefaultZonePriority
	}
	if z.MaxAltitude == 0 {
		z.MaxAltitude = DefaultZoneMaxAltitude
	}
}

// normalizePolygon enforces ≥3 vertices and valid coordinate ranges, then
// appends the first vertex when the ring is not closed.
func normalizePolygon(z *ontology.Geofence) error {
	if len(z.Polygon) < 3 {
		return fmt.Errorf("polygon needs at least 3 vertices, got %d", len(z.Polygon))
	}
	for i, p := range z.Polygon {
		if p.Lat < -90 || p.Lat > 90 || p.Lon < -180 || p.Lon > 180 {
			return fmt.Errorf("vertex %d out of range: (%v, %v)", i, p.Lat, p.Lon)
		}
	}

	first := z.Polygon[0]
	last := z.Polygon[len(z.Polygon)-1]
	if first.Lat != last.Lat || first.Lon != last.Lon {
		z.Polygon = append(z.Polygon, first)
	}
	return nil
}

func boundingBox(polygon []ontology.Location) BBox {
	box := BBox{
		MinLat: polygon[0].Lat, MaxLat: polygon[0].Lat,
		MinLon: polygon[0].Lon, MaxLon: polygon[0].Lon,
	}
	for _, p := range polygon[1:] {
		if p.Lat < box.MinLat {
			box.MinLat = p.Lat
		}
		if p.Lat > box.MaxLat {
			box.MaxLat = p.Lat
		}
		if p.Lon < box.MinLon {
			box.MinLon = p.Lon
		}
		if p.Lon > box.MaxLon {
			box.MaxLon = p.Lon
		}
	}
	return box
}

// Zones returns every zone, active or not.
func (e *Engine) Zones() []*ontology.Geofence {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*ontology.Geofence, 0, len(e.zones))
	for _, z := range e.zones {
		out = append(out, z)
	}
	return out
}

// Get returns the zone by id.
func (e *Engine) Get(id string) (*ontology.Geofence, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	z, ok := e.zones[id]
	return z, ok
}

// Count reports the number of zones.
func (e *Engine) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.zones)
}

// SetActive toggles a zone's active flag; inactive zones are skipped by
// CheckBreach.
func (e *Engine) SetActive(id string, active bool) bool {
	e.mu.Lock()
	z, ok := e.zones[id]
	if !ok {
		e.mu.Unlock()
		return false
	}
	z.Active = active
	e.mu.Unlock()

	e.state.Update("geofences."+id, map[string]any{"active": active})
	return true
}

// CheckBreach evaluates the location against every active zone whose
// altitude band contains it. Each breach found also publishes a
// geofence.breach event at critical router priority; the payload's own
// severity field still distinguishes warnings from critical breaches.
// Results are ordered by zone priority, highest first.
func (e *Engine) CheckBreach(loc ontology.Location, vehicleID string) []Breach {
	e.mu.RLock()
	zones := make([]*ontology.Geofence, 0, len(e.zones))
	for _, z := range e.zones {
		zones = append(zones, z)
	}
	e.mu.RUnlock()

	var breaches []Breach
	for _, zone := range zones {
		if !zone.Active {
			continue
		}
		if loc.Alt < zone.MinAltitude || loc.Alt > zone.MaxAltitude {
			continue
		}

		inside := geo.PointInPolygon(loc, zone.Polygon)

		var breach *Breach
		switch {
		case zone.Type == ontology.ZoneKeepOut && inside:
			breach = &Breach{
				ZoneID:   zone.ID,
				ZoneName: zone.Name,
				Type:     BreachEntry,
				Severity: SeverityCritical,
				Action:   ActionRTL,
				Priority: zone.Priority,
			}
		case zone.Type == ontology.ZoneKeepIn && !inside:
			breach = &Breach{
				ZoneID:   zone.ID,
				ZoneName: zone.Name,
				Type:     BreachExit,
				Severity: SeverityCritical,
				Action:   ActionRTL,
				Priority: zone.Priority,
			}
		case zone.Type == ontology.ZoneWarning && inside:
			dist := geo.DistanceToBoundary(loc, zone.Polygon)
			if dist < ProximityWarningMeters {
				breach = &Breach{
					ZoneID:   zone.ID,
					ZoneName: zone.Name,
					Type:     BreachProximity,
					Severity: SeverityWarning,
					Action:   ActionAlert,
					Priority: zone.Priority,
					Distance: dist,
				}
			}
		}

		if breach == nil {
			continue
		}
		breaches = append(breaches, *breach)

		data := shared.ToMap(breach)
		if vehicleID != "" {
			data["vehicle_id"] = vehicleID
		}
		e.router.Publish(shared.NewEvent(
			shared.EventGeofenceBreach,
			shared.PriorityCritical,
			"geofencing_engine",
			data,
		))
	}

	sort.SliceStable(breaches, func(i, j int) bool {
		return breaches[i].Priority > breaches[j].Priority
	})
	return breaches
}
