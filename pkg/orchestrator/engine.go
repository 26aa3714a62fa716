// Package orchestrator composes the router, state store, fleet registry,
// geofencing engine, planner and workflow coordinator into one engine and
// owns the mission records and the mission-execution saga.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"groundctl/pkg/ontology"
	"groundctl/pkg/services/fleet"
	"groundctl/pkg/services/geofence"
	"groundctl/pkg/services/planner"
	"groundctl/pkg/services/router"
	"groundctl/pkg/services/state"
	"groundctl/pkg/services/workflow"
	"groundctl/pkg/shared"
)

type Engine struct {
	state      *state.Store
	router     *router.Router
	fleet      *fleet.Registry
	geofencing *geofence.Engine
	planner    *planner.Planner
	workflows  *workflow.Coordinator

	mu       sync.RWMutex
	missions map[string]*ontology.Mission

	running   bool
	startedAt time.Time
}

// New wires the full component graph over a fresh state store and router.
func New() *Engine {
	st := state.New()
	rt := router.New()
	gf := geofence.NewEngine(st, rt)

	e := &Engine{
		state:      st,
		router:     rt,
		fleet:      fleet.NewRegistry(st, rt),
		geofencing: gf,
		planner:    planner.New(gf),
		workflows:  workflow.NewCoordinator(st, rt),
		missions:   make(map[string]*ontology.Mission),
	}

	// Safety net: any breach event flags the vehicle. Planner validation
	// also produces breach events; those carry no vehicle assignment yet
	// unless the caller named one, and critical in-flight breaches must
	// ground the vehicle regardless of who detected them.
	rt.Subscribe(shared.EventGeofenceBreach, router.HandlerFunc(e.onBreach))

	rt.OnError(func(err error) {
		log.Printf("[Engine] Subscriber failure: %v", err)
	})

	return e
}

// onBreach escalates critical breaches: the named vehicle goes to emergency.
func (e *Engine) onBreach(ev *shared.Event) error {
	severity, _ := ev.Data["severity"].(string)
	zone, _ := ev.Data["zone_name"].(string)
	vehicleID, _ := ev.Data["vehicle_id"].(string)

	if severity != geofence.SeverityCritical {
		log.Printf("[Engine] Geofence warning: %s (vehicle=%s)", zone, vehicleID)
		return nil
	}

	log.Printf("[Engine] CRITICAL geofence breach: %s (vehicle=%s)", zone, vehicleID)
	if vehicleID != "" {
		e.fleet.UpdateStatus(vehicleID, ontology.VehicleEmergency)
	}
	return nil
}

// Start brings the router online and announces the system.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.startedAt = time.Now()
	e.mu.Unlock()

	e.router.Start()
	e.state.Set("system.status", "running")
	e.state.Set("system.started_at", e.startedAt.Format(time.RFC3339))
	e.router.Publish(shared.NewEvent(
		shared.EventSystemStarted,
		shared.PriorityHigh,
		"orchestrator",
		map[string]any{"started_at": e.startedAt.Format(time.RFC3339)},
	))

	log.Printf("[Engine] Started")
}

// Stop publishes the shutdown event, drains it, and halts the router.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.mu.Unlock()

	e.router.Publish(shared.NewEvent(
		shared.EventSystemStopped,
		shared.PriorityHigh,
		"orchestrator",
		nil,
	))
	e.router.Drain(2 * time.Second)
	e.router.Stop()
	e.state.Set("system.status", "stopped")

	log.Printf("[Engine] Stopped")
}

// Status is the live snapshot served on the status endpoint.
func (e *Engine) Status() map[string]any {
	e.mu.RLock()
	running := e.running
	startedAt := e.startedAt
	missionCount := len(e.missions)
	e.mu.RUnlock()

	status := "stopped"
	uptime := 0.0
	if running {
		status = "running"
		uptime = time.Since(startedAt).Seconds()
	}

	return map[string]any{
		"status":           status,
		"uptime_seconds":   uptime,
		"events_processed": e.router.DispatchedCount(),
		"active_workflows": e.workflows.ActiveCount(),
		"vehicles":         len(e.fleet.All()),
		"missions":         missionCount,
		"geofences":        e.geofencing.Count(),
		"fleet":            shared.ToMap(e.fleet.Stats()),
	}
}

// Component accessors for the API layer and the broker bridge.

func (e *Engine) Router() *router.Router           { return e.router }
func (e *Engine) State() *state.Store              { return e.state }
func (e *Engine) Fleet() *fleet.Registry           { return e.fleet }
func (e *Engine) Geofencing() *geofence.Engine     { return e.geofencing }
func (e *Engine) Workflows() *workflow.Coordinator { return e.workflows }

// CreateSurveyMission plans a grid survey over the AOI and registers it.
func (e *Engine) CreateSurveyMission(aoi []ontology.Location, gridSpacing, altitude, overlap float64) *ontology.Mission {
	return e.adopt(e.planner.CreateSurveyMission(aoi, gridSpacing, altitude, overlap))
}

// CreateCorridorMission plans a corridor inspection and registers it.
func (e *Engine) CreateCorridorMission(start, end ontology.Location, width, altitude float64, segments int) *ontology.Mission {
	return e.adopt(e.planner.CreateCorridorMission(start, end, width, altitude, segments))
}

// CreateStructureScan plans an orbital structure scan and registers it.
func (e *Engine) CreateStructureScan(center ontology.Location, radius, altMin, altMax float64, orbits, pointsPerOrbit int) *ontology.Mission {
	return e.adopt(e.planner.CreateStructureScan(center, radius, altMin, altMax, orbits, pointsPerOrbit))
}

// adopt stores a freshly planned mission, mirrors it, and announces it.
func (e *Engine) adopt(m *ontology.Mission) *ontology.Mission {
	e.mu.Lock()
	e.missions[m.ID] = m
	e.mu.Unlock()

	e.state.Set("missions."+m.ID, shared.ToMap(m))
	e.router.Publish(shared.NewEvent(
		shared.EventMissionCreated,
		shared.PriorityMedium,
		"orchestrator",
		map[string]any{
			"mission_id": m.ID,
			"type":       string(m.Type),
			"waypoints":  len(m.Waypoints),
		},
	))
	return m
}

// Mission returns a snapshot of the registered mission by id. The live
// record stays private so readers never race with the execution saga.
func (e *Engine) Mission(id string) (*ontology.Mission, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m, ok := e.missions[id]
	if !ok {
		return nil, false
	}
	cp := *m
	return &cp, true
}

// Missions returns a snapshot of every registered mission.
func (e *Engine) Missions() []*ontology.Mission {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*ontology.Mission, 0, len(e.missions))
	for _, m := range e.missions {
		cp := *m
		out = append(out, &cp)
	}
	return out
}

// mission returns the live record for internal mutation through the locked
// helpers below.
func (e *Engine) mission(id string) (*ontology.Mission, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m, ok := e.missions[id]
	return m, ok
}

// ValidateMission runs planner validation for the mission/vehicle pair.
func (e *Engine) ValidateMission(missionID, vehicleID string) (*planner.ValidationResult, error) {
	mission, ok := e.Mission(missionID)
	if !ok {
		return nil, fmt.Errorf("mission not found: %s", missionID)
	}
	vehicle, ok := e.fleet.Get(vehicleID)
	if !ok {
		return nil, fmt.Errorf("vehicle not found: %s", vehicleID)
	}
	return e.planner.ValidateMission(mission, vehicle), nil
}

// ExecuteMissionWorkflow runs the six-step mission-execution saga. Setup
// failures (unknown mission or vehicle) return an error; in-flight step
// failures come back inside the RunResult after compensation has run.
func (e *Engine) ExecuteMissionWorkflow(ctx context.Context, missionID, vehicleID string) (*workflow.RunResult, error) {
	mission, ok := e.mission(missionID)
	if !ok {
		return nil, fmt.Errorf("mission not found: %s", missionID)
	}
	if _, ok := e.fleet.Get(vehicleID); !ok {
		return nil, fmt.Errorf("vehicle not found: %s", vehicleID)
	}

	steps := []*workflow.Step{
		{
			Name: "validate_mission",
			Run: func(ctx context.Context, wfctx map[string]any) (any, error) {
				vehicle, _ := e.fleet.Get(vehicleID)
				res := e.planner.ValidateMission(mission, vehicle)
				if !res.Valid {
					return nil, fmt.Errorf("mission validation failed: %v", res.Issues)
				}
				e.setMissionStatus(mission, ontology.MissionValidated)
				return shared.ToMap(res), nil
			},
			Rollback: func(ctx context.Context, wfctx map[string]any) error {
				e.setMissionStatus(mission, ontology.MissionPlanned)
				return nil
			},
		},
		{
			Name: "assign_vehicle",
			Run: func(ctx context.Context, wfctx map[string]any) (any, error) {
				if !e.fleet.SetMission(vehicleID, mission.ID) {
					return nil, fmt.Errorf("vehicle not found: %s", vehicleID)
				}
				e.setMissionVehicle(mission, vehicleID)
				return map[string]any{"vehicle_id": vehicleID}, nil
			},
			Rollback: func(ctx context.Context, wfctx map[string]any) error {
				e.fleet.SetMission(vehicleID, "")
				e.setMissionVehicle(mission, "")
				return nil
			},
		},
		{
			Name: "check_geofences",
			Run: func(ctx context.Context, wfctx map[string]any) (any, error) {
				for _, wp := range mission.Waypoints {
					breaches := e.geofencing.CheckBreach(
						ontology.Location{Lat: wp.Lat, Lon: wp.Lon, Alt: wp.Alt}, vehicleID)
					for _, b := range breaches {
						if b.Severity == geofence.SeverityCritical {
							return nil, fmt.Errorf("waypoint %d breaches zone %s", wp.Sequence, b.ZoneID)
						}
					}
				}
				return map[string]any{"checked_waypoints": len(mission.Waypoints)}, nil
			},
		},
		{
			Name: "arm_vehicle",
			Run: func(ctx context.Context, wfctx map[string]any) (any, error) {
				if !e.fleet.UpdateStatus(vehicleID, ontology.VehicleArmed) {
					return nil, fmt.Errorf("vehicle not found: %s", vehicleID)
				}
				return map[string]any{"status": string(ontology.VehicleArmed)}, nil
			},
			Rollback: func(ctx context.Context, wfctx map[string]any) error {
				e.fleet.UpdateStatus(vehicleID, ontology.VehicleIdle)
				return nil
			},
		},
		{
			Name: "execute_mission",
			Run: func(ctx context.Context, wfctx map[string]any) (any, error) {
				now := time.Now()
				e.mu.Lock()
				mission.StartedAt = &now
				e.mu.Unlock()
				e.setMissionStatus(mission, ontology.MissionExecuting)
				e.fleet.UpdateStatus(vehicleID, ontology.VehicleFlying)
				return map[string]any{"started_at": now.Format(time.RFC3339)}, nil
			},
			Rollback: func(ctx context.Context, wfctx map[string]any) error {
				e.setMissionStatus(mission, ontology.MissionFailed)
				e.fleet.UpdateStatus(vehicleID, ontology.VehicleEmergency)
				return nil
			},
		},
		{
			Name: "monitor_progress",
			Run: func(ctx context.Context, wfctx map[string]any) (any, error) {
				e.fleet.UpdateProgress(vehicleID, 0)
				return map[string]any{"monitoring": true}, nil
			},
		},
	}

	wf := e.workflows.Create("mission_execution_"+mission.ID, steps, map[string]any{
		"mission_id": mission.ID,
		"vehicle_id": vehicleID,
	})
	return e.workflows.Execute(ctx, wf.ID)
}

// Every mission field mutation after adoption goes through these helpers
// under the engine lock; Mission/Missions snapshot under the same lock.

func (e *Engine) setMissionStatus(m *ontology.Mission, status ontology.MissionStatus) {
	e.mu.Lock()
	m.Status = status
	e.mu.Unlock()
	e.state.Update("missions."+m.ID, map[string]any{"status": string(status)})
}

func (e *Engine) setMissionVehicle(m *ontology.Mission, vehicleID string) {
	e.mu.Lock()
	m.VehicleID = vehicleID
	e.mu.Unlock()
	e.state.Update("missions."+m.ID, map[string]any{"vehicle_id": vehicleID})
}
