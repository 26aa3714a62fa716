// Package fleet owns the vehicle records. Vehicles enter through Register
// and are mutated only through registry operations; every mutation publishes
// a corresponding event and refreshes the state-store mirror. The registry
// does not enforce the vehicle status machine; any requested transition is
// applied (see ontology.ValidVehicleTransitions for the advisory table).
package fleet

import (
	"log"
	"sync"
	"time"

	"groundctl/pkg/ontology"
	"groundctl/pkg/services/router"
	"groundctl/pkg/services/state"
	"groundctl/pkg/shared"
)

// Stats is the fleet-wide aggregate exposed on the engine status surface.
type Stats struct {
	Total          int            `json:"total"`
	ByStatus       map[string]int `json:"by_status"`
	ByType         map[string]int `json:"by_type"`
	AverageBattery float64        `json:"average_battery"`
	ActiveMissions int            `json:"active_missions"`
}

type Registry struct {
	mu       sync.RWMutex
	vehicles map[string]*ontology.Vehicle
	state    *state.Store
	router   *router.Router
}

func NewRegistry(st *state.Store, rt *router.Router) *Registry {
	r := &Registry{
		vehicles: make(map[string]*ontology.Vehicle),
		state:    st,
		router:   rt,
	}

	// Keep the system.fleet_stats mirror fresh whenever the fleet changes.
	refresh := router.HandlerFunc(func(*shared.Event) error {
		st.Set("system.fleet_stats", shared.ToMap(r.Stats()))
		return nil
	})
	rt.Subscribe(shared.EventVehicleRegistered, refresh)
	rt.Subscribe(shared.EventVehicleStatusChanged, refresh)
	rt.Subscribe(shared.EventVehicleLocationUpdate, refresh)

	return r
}

// Register adds the vehicle and returns false when the id is already taken.
func (r *Registry) Register(v *ontology.Vehicle) bool {
	r.mu.Lock()
	if _, exists := r.vehicles[v.ID]; exists {
		r.mu.Unlock()
		return false
	}
	r.vehicles[v.ID] = v
	r.mu.Unlock()

	r.state.Set("vehicles."+v.ID, shared.ToMap(v))
	r.router.Publish(shared.NewEvent(
		shared.EventVehicleRegistered,
		shared.PriorityHigh,
		"vehicle_registry",
		map[string]any{"vehicle_id": v.ID, "type": string(v.Type)},
	))

	log.Printf("[Fleet] Vehicle registered: %s (%s)", v.ID, v.Type)
	return true
}

// Get returns the vehicle by id.
func (r *Registry) Get(id string) (*ontology.Vehicle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.vehicles[id]
	return v, ok
}

// All returns every registered vehicle.
func (r *Registry) All() []*ontology.Vehicle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ontology.Vehicle, 0, len(r.vehicles))
	for _, v := range r.vehicles {
		out = append(out, v)
	}
	return out
}

// UpdateStatus applies the requested status and publishes the change.
func (r *Registry) UpdateStatus(id string, status ontology.VehicleStatus) bool {
	r.mu.Lock()
	v, ok := r.vehicles[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	old := v.Status
	v.Status = status
	v.LastUpdate = time.Now()
	r.mu.Unlock()

	r.state.Update("vehicles."+id, map[string]any{"status": string(status)})
	r.router.Publish(shared.NewEvent(
		shared.EventVehicleStatusChanged,
		shared.PriorityHigh,
		"vehicle_registry",
		map[string]any{
			"vehicle_id": id,
			"old_status": string(old),
			"new_status": string(status),
		},
	))
	return true
}

// UpdateLocation records a telemetry position fix.
func (r *Registry) UpdateLocation(id string, loc ontology.Location) bool {
	r.mu.Lock()
	v, ok := r.vehicles[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	v.Location = loc
	v.LastUpdate = time.Now()
	r.mu.Unlock()

	r.state.Update("vehicles."+id, map[string]any{"location": shared.ToMap(loc)})
	r.router.Publish(shared.NewEvent(
		shared.EventVehicleLocationUpdate,
		shared.PriorityLow,
		"vehicle_registry",
		map[string]any{"vehicle_id": id, "location": shared.ToMap(loc)},
	))
	return true
}

// UpdateBattery records the reported battery percentage, clamped to [0,100].
func (r *Registry) UpdateBattery(id string, percent float64) bool {
	if percent < 0 {
		percent = 0
	} else if percent > 100 {
		percent = 100
	}

	r.mu.Lock()
	v, ok := r.vehicles[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	v.Battery = percent
	v.LastUpdate = time.Now()
	r.mu.Unlock()

	r.state.Update("vehicles."+id, map[string]any{"battery": percent})
	return true
}

// UpdateProgress records mission progress for the vehicle.
func (r *Registry) UpdateProgress(id string, percent float64) bool {
	r.mu.Lock()
	v, ok := r.vehicles[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	v.MissionProgress = percent
	v.LastUpdate = time.Now()
	r.mu.Unlock()

	r.state.Update("vehicles."+id, map[string]any{"mission_progress": percent})
	return true
}

// SetMission assigns or clears (empty missionID) the vehicle's mission link.
// Used by the mission-execution workflow and its compensation.
func (r *Registry) SetMission(id, missionID string) bool {
	r.mu.Lock()
	v, ok := r.vehicles[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	v.MissionID = missionID
	v.LastUpdate = time.Now()
	r.mu.Unlock()

	r.state.Update("vehicles."+id, map[string]any{"mission_id": missionID})
	return true
}

// Stats aggregates the fleet: counts by status and type, average battery,
// and the number of vehicles with a mission assigned.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{
		Total:    len(r.vehicles),
		ByStatus: map[string]int{},
		ByType:   map[string]int{},
	}

	totalBattery := 0.0
	for _, v := range r.vehicles {
		stats.ByStatus[string(v.Status)]++
		stats.ByType[string(v.Type)]++
		totalBattery += v.Battery
		if v.MissionID != "" {
			stats.ActiveMissions++
		}
	}
	if len(r.vehicles) > 0 {
		stats.AverageBattery = totalBattery / float64(len(r.vehicles))
	}
	return stats
}
