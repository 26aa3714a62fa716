package shared

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventPriority orders dispatch; lower rank dispatches first.
type EventPriority int

const (
	PriorityCritical EventPriority = 1
	PriorityHigh     EventPriority = 2
	PriorityMedium   EventPriority = 3
	PriorityLow      EventPriority = 4
	PriorityInfo     EventPriority = 5
)

func (p EventPriority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	case PriorityInfo:
		return "info"
	}
	return "unknown"
}

// Event is immutable after creation except for the Processed flag, which the
// router flips once every handler for the event has run.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Priority  EventPriority  `json:"priority"`
	Timestamp time.Time      `json:"timestamp"`
	Source    string         `json:"source"`
	Data      map[string]any `json:"data"`
	Processed bool           `json:"processed"`
}

func NewEvent(eventType string, priority EventPriority, source string, data map[string]any) *Event {
	if data == nil {
		data = map[string]any{}
	}
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Priority:  priority,
		Timestamp: time.Now(),
		Source:    source,
		Data:      data,
	}
}

// Event types
const (
	EventSystemStarted         = "system.started"
	EventSystemStopped         = "system.stopped"
	EventVehicleRegistered     = "vehicle.registered"
	EventVehicleStatusChanged  = "vehicle.status.changed"
	EventVehicleLocationUpdate = "vehicle.location.updated"
	EventMissionCreated        = "mission.created"
	EventGeofenceAdded         = "geofence.added"
	EventGeofenceBreach        = "geofence.breach"
	EventWorkflowStepCompleted = "workflow.step.completed"
	EventCommandReceived       = "command.received"
)

// ToMap flattens any JSON-serializable value into a generic map, the shape
// the state store keeps for snapshotting. Returns an empty map on marshal
// failure rather than erroring; state mirroring is best-effort.
func ToMap(v any) map[string]any {
	out := map[string]any{}
	data, err := json.Marshal(v)
	if err != nil {
		return out
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{}
	}
	return out
}
