package ontology

// Request payloads accepted by the HTTP API.

type RegisterVehicleRequest struct {
	ID       string      `json:"id"`
	Type     VehicleType `json:"type"`
	Location Location    `json:"location"`
}

// CreateMissionRequest is a union over the three planner patterns; Type
// selects which parameter group applies.
type CreateMissionRequest struct {
	Type MissionType `json:"type"`

	// survey
	AOI         []Location `json:"aoi,omitempty"`
	GridSpacing float64    `json:"grid_spacing,omitempty"`
	Overlap     float64    `json:"overlap,omitempty"`

	// corridor
	Start    *Location `json:"start,omitempty"`
	End      *Location `json:"end,omitempty"`
	Width    float64   `json:"width,omitempty"`
	Segments int       `json:"segments,omitempty"`

	// structure scan
	Center         *Location `json:"center,omitempty"`
	Radius         float64   `json:"radius,omitempty"`
	AltitudeMin    float64   `json:"altitude_min,omitempty"`
	AltitudeMax    float64   `json:"altitude_max,omitempty"`
	Orbits         int       `json:"orbits,omitempty"`
	PointsPerOrbit int       `json:"points_per_orbit,omitempty"`

	// shared
	Altitude float64 `json:"altitude,omitempty"`
}

// MissionActionRequest names the mission/vehicle pair for validation and
// execution calls.
type MissionActionRequest struct {
	MissionID string `json:"mission_id"`
	VehicleID string `json:"vehicle_id"`
}
