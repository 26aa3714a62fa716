package ontology

import (
	"time"
)

type MissionType string

const (
	MissionSurvey        MissionType = "survey"
	MissionCorridor      MissionType = "corridor"
	MissionStructureScan MissionType = "structure"
	MissionCustom        MissionType = "custom"
)

type MissionStatus string

const (
	MissionCreated    MissionStatus = "created"
	MissionPlanned    MissionStatus = "planned"
	MissionValidating MissionStatus = "validating"
	MissionValidated  MissionStatus = "validated"
	MissionExecuting  MissionStatus = "executing"
	MissionPaused     MissionStatus = "paused"
	MissionCompleted  MissionStatus = "completed"
	MissionFailed     MissionStatus = "failed"
	MissionCancelled  MissionStatus = "cancelled"
)

// Waypoint is immutable once generated by a planner. Params carries
// command-specific parameters (loiter radius, gimbal pitch, ...).
type Waypoint struct {
	Lat      float64            `json:"lat"`
	Lon      float64            `json:"lon"`
	Alt      float64            `json:"alt"`
	Command  string             `json:"command"`
	Params   map[string]float64 `json:"params,omitempty"`
	Sequence int                `json:"sequence"`
}

// CommandWaypoint is the default waypoint command tag.
const CommandWaypoint = "WAYPOINT"

type Mission struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Type        MissionType    `json:"type"`
	Status      MissionStatus  `json:"status"`
	Waypoints   []Waypoint     `json:"waypoints"`
	VehicleID   string         `json:"vehicle_id,omitempty"`
	Progress    float64        `json:"progress"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

func (m *Mission) Location(i int) Location {
	wp := m.Waypoints[i]
	return Location{Lat: wp.Lat, Lon: wp.Lon, Alt: wp.Alt}
}
