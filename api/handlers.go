// Package api is the HTTP boundary: thin handlers over the orchestrator
// engine using the query-parameter routing and response envelope conventions
// of a single net/http ServeMux.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"groundctl/api/middleware"
	"groundctl/pkg/ontology"
	"groundctl/pkg/orchestrator"
	"groundctl/pkg/shared"
)

// HealthChecker is anything with a pass/fail liveness probe (the embedded
// broker, the database service).
type HealthChecker interface {
	Health() error
}

type Handlers struct {
	engine *orchestrator.Engine
	checks map[string]HealthChecker
	auth   func(http.HandlerFunc) http.HandlerFunc
}

func NewHandlers(engine *orchestrator.Engine, token string) *Handlers {
	return &Handlers{
		engine: engine,
		checks: map[string]HealthChecker{},
		auth:   middleware.BearerAuth(token),
	}
}

// AddHealthCheck registers a named dependency on the /health probe.
func (h *Handlers) AddHealthCheck(name string, check HealthChecker) {
	h.checks[name] = check
}

func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := shared.HealthStatus{
		Status:    "healthy",
		Service:   "groundctl",
		Timestamp: time.Now(),
		Details:   make(map[string]string),
	}

	for name, check := range h.checks {
		if err := check.Health(); err != nil {
			health.Status = "unhealthy"
			health.Details[name] = "unhealthy: " + err.Error()
		} else {
			health.Details[name] = "healthy"
		}
	}

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}
	sendSuccess(w, statusCode, health)
}

func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	sendSuccess(w, http.StatusOK, h.engine.Status())
}

// Vehicle handlers

func (h *Handlers) RegisterVehicle(w http.ResponseWriter, r *http.Request) {
	var req ontology.RegisterVehicleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if req.ID == "" || req.Type == "" {
		sendError(w, http.StatusBadRequest, "MISSING_PARAMS", "id and type are required")
		return
	}

	v := ontology.NewVehicle(req.ID, req.Type, req.Location)
	if !h.engine.Fleet().Register(v) {
		sendError(w, http.StatusConflict, "DUPLICATE_ID", "vehicle already registered: "+req.ID)
		return
	}
	sendSuccess(w, http.StatusCreated, v)
}

func (h *Handlers) ListVehicles(w http.ResponseWriter, r *http.Request) {
	sendSuccess(w, http.StatusOK, h.engine.Fleet().All())
}

func (h *Handlers) GetVehicle(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("vehicle_id")
	v, ok := h.engine.Fleet().Get(id)
	if !ok {
		sendError(w, http.StatusNotFound, "NOT_FOUND", "vehicle not found: "+id)
		return
	}
	sendSuccess(w, http.StatusOK, v)
}

// UpdateVehicle applies partial updates: status, location, battery.
func (h *Handlers) UpdateVehicle(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("vehicle_id")
	if id == "" {
		sendError(w, http.StatusBadRequest, "MISSING_PARAMS", "vehicle_id is required")
		return
	}

	var updates struct {
		Status   *string            `json:"status,omitempty"`
		Location *ontology.Location `json:"location,omitempty"`
		Battery  *float64           `json:"battery,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		sendError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	fleet := h.engine.Fleet()
	if _, ok := fleet.Get(id); !ok {
		sendError(w, http.StatusNotFound, "NOT_FOUND", "vehicle not found: "+id)
		return
	}

	if updates.Status != nil {
		fleet.UpdateStatus(id, ontology.VehicleStatus(*updates.Status))
	}
	if updates.Location != nil {
		fleet.UpdateLocation(id, *updates.Location)
	}
	if updates.Battery != nil {
		fleet.UpdateBattery(id, *updates.Battery)
	}

	v, _ := fleet.Get(id)
	sendSuccess(w, http.StatusOK, v)
}

// Mission handlers

func (h *Handlers) CreateMission(w http.ResponseWriter, r *http.Request) {
	var req ontology.CreateMissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	var mission *ontology.Mission
	switch req.Type {
	case ontology.MissionSurvey:
		if len(req.AOI) < 3 {
			sendError(w, http.StatusBadRequest, "MISSING_PARAMS", "survey requires an aoi polygon")
			return
		}
		mission = h.engine.CreateSurveyMission(req.AOI, req.GridSpacing, req.Altitude, req.Overlap)
	case ontology.MissionCorridor:
		if req.Start == nil || req.End == nil {
			sendError(w, http.StatusBadRequest, "MISSING_PARAMS", "corridor requires start and end")
			return
		}
		mission = h.engine.CreateCorridorMission(*req.Start, *req.End, req.Width, req.Altitude, req.Segments)
	case ontology.MissionStructureScan:
		if req.Center == nil {
			sendError(w, http.StatusBadRequest, "MISSING_PARAMS", "structure scan requires a center")
			return
		}
		mission = h.engine.CreateStructureScan(*req.Center, req.Radius,
			req.AltitudeMin, req.AltitudeMax, req.Orbits, req.PointsPerOrbit)
	default:
		sendError(w, http.StatusBadRequest, "INVALID_TYPE", "unknown mission type: "+string(req.Type))
		return
	}

	sendSuccess(w, http.StatusCreated, mission)
}

func (h *Handlers) ListMissions(w http.ResponseWriter, r *http.Request) {
	sendSuccess(w, http.StatusOK, h.engine.Missions())
}

func (h *Handlers) GetMission(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("mission_id")
	m, ok := h.engine.Mission(id)
	if !ok {
		sendError(w, http.StatusNotFound, "NOT_FOUND", "mission not found: "+id)
		return
	}
	sendSuccess(w, http.StatusOK, m)
}

func (h *Handlers) ValidateMission(w http.ResponseWriter, r *http.Request) {
	var req ontology.MissionActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	result, err := h.engine.ValidateMission(req.MissionID, req.VehicleID)
	if err != nil {
		sendError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
		return
	}
	sendSuccess(w, http.StatusOK, result)
}

func (h *Handlers) ExecuteMission(w http.ResponseWriter, r *http.Request) {
	var req ontology.MissionActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	result, err := h.engine.ExecuteMissionWorkflow(r.Context(), req.MissionID, req.VehicleID)
	if err != nil {
		sendError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
		return
	}

	// A rolled-back workflow is a domain outcome, not a transport error.
	status := http.StatusOK
	if !result.Success {
		status = http.StatusConflict
	}
	sendSuccess(w, status, map[string]any{
		"success":     result.Success,
		"workflow_id": result.WorkflowID,
		"error":       result.Err,
		"rolled_back": result.RolledBack,
	})
}

// Geofence handlers

func (h *Handlers) AddGeofence(w http.ResponseWriter, r *http.Request) {
	var zone ontology.Geofence
	if err := json.NewDecoder(r.Body).Decode(&zone); err != nil {
		sendError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if zone.ID == "" {
		sendError(w, http.StatusBadRequest, "MISSING_PARAMS", "id is required")
		return
	}

	if err := h.engine.Geofencing().AddZone(&zone); err != nil {
		sendError(w, http.StatusBadRequest, "INVALID_ZONE", err.Error())
		return
	}
	sendSuccess(w, http.StatusCreated, zone)
}

func (h *Handlers) ListGeofences(w http.ResponseWriter, r *http.Request) {
	sendSuccess(w, http.StatusOK, h.engine.Geofencing().Zones())
}

func (h *Handlers) SetGeofenceActive(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ZoneID string `json:"zone_id"`
		Active bool   `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	if !h.engine.Geofencing().SetActive(req.ZoneID, req.Active) {
		sendError(w, http.StatusNotFound, "NOT_FOUND", "zone not found: "+req.ZoneID)
		return
	}
	sendSuccess(w, http.StatusOK, map[string]any{"zone_id": req.ZoneID, "active": req.Active})
}

// Event history

func (h *Handlers) RecentEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	sendSuccess(w, http.StatusOK, h.engine.Router().Recent(limit))
}

// Helpers

func sendSuccess(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(shared.Response{Success: true, Data: data})
}

func sendError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(shared.Response{
		Success: false,
		Error:   &shared.Error{Code: code, Message: message},
	})
}

// RegisterRoutes wires every endpoint onto the mux. Health is unauthenticated;
// everything else passes through bearer auth when a token is configured.
func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.HealthCheck)

	mux.HandleFunc("/api/v1/status", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.auth(h.GetStatus)(w, r)
		default:
			sendError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
		}
	})

	mux.HandleFunc("/api/v1/vehicles", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			h.auth(h.RegisterVehicle)(w, r)
		case http.MethodGet:
			if r.URL.Query().Get("vehicle_id") != "" {
				h.auth(h.GetVehicle)(w, r)
			} else {
				h.auth(h.ListVehicles)(w, r)
			}
		case http.MethodPut:
			h.auth(h.UpdateVehicle)(w, r)
		default:
			sendError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
		}
	})

	mux.HandleFunc("/api/v1/missions", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			h.auth(h.CreateMission)(w, r)
		case http.MethodGet:
			if r.URL.Query().Get("mission_id") != "" {
				h.auth(h.GetMission)(w, r)
			} else {
				h.auth(h.ListMissions)(w, r)
			}
		default:
			sendError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
		}
	})

	mux.HandleFunc("/api/v1/missions/validate", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			h.auth(h.ValidateMission)(w, r)
		default:
			sendError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
		}
	})

	mux.HandleFunc("/api/v1/missions/execute", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			h.auth(h.ExecuteMission)(w, r)
		default:
			sendError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
		}
	})

	mux.HandleFunc("/api/v1/geofences", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			h.auth(h.AddGeofence)(w, r)
		case http.MethodGet:
			h.auth(h.ListGeofences)(w, r)
		case http.MethodPut:
			h.auth(h.SetGeofenceActive)(w, r)
		default:
			sendError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
		}
	})

	mux.HandleFunc("/api/v1/events/recent", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.auth(h.RecentEvents)(w, r)
		default:
			sendError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
		}
	})
}
