package ontology

import (
	"time"
)

type VehicleType string

const (
	VehicleMultiRotor VehicleType = "multi-rotor"
	VehicleFixedWing  VehicleType = "fixed-wing"
	VehicleVTOL       VehicleType = "vtol"
)

type VehicleStatus string

const (
	VehicleIdle      VehicleStatus = "idle"
	VehicleArmed     VehicleStatus = "armed"
	VehicleFlying    VehicleStatus = "flying"
	VehicleLanding   VehicleStatus = "landing"
	VehicleEmergency VehicleStatus = "emergency"
	VehicleOffline   VehicleStatus = "offline"
)

// Location is a plain WGS84 coordinate. Altitude is meters above ground,
// zero when unknown.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
	Alt float64 `json:"alt"`
}

// VehicleCapabilities is derived from the vehicle type at registration time
// and never mutated afterwards.
type VehicleCapabilities struct {
	MaxSpeed        float64  `json:"max_speed"`        // m/s
	MaxAltitude     float64  `json:"max_altitude"`     // meters
	MaxRange        float64  `json:"max_range"`        // meters
	CruiseSpeed     float64  `json:"cruise_speed"`     // m/s
	Endurance       float64  `json:"endurance"`        // minutes
	PayloadCapacity float64  `json:"payload_capacity"` // kg
	Sensors         []string `json:"sensors"`
}

type Vehicle struct {
	ID              string              `json:"id"`
	Type            VehicleType         `json:"type"`
	Status          VehicleStatus       `json:"status"`
	Location        Location            `json:"location"`
	Battery         float64             `json:"battery"`
	Capabilities    VehicleCapabilities `json:"capabilities"`
	MissionID       string              `json:"mission_id,omitempty"`
	MissionProgress float64             `json:"mission_progress"`
	LastUpdate      time.Time           `json:"last_update"`
	Metadata        map[string]any      `json:"metadata,omitempty"`
}

// NewVehicle builds a vehicle record with type-specific capabilities.
// Unknown types get a conservative default envelope.
func NewVehicle(id string, vt VehicleType, loc Location) *Vehicle {
	var caps VehicleCapabilities

	switch vt {
	case VehicleMultiRotor:
		caps = VehicleCapabilities{
			MaxSpeed:        15.0,
			MaxAltitude:     400.0,
			MaxRange:        5000.0,
			CruiseSpeed:     10.0,
			Endurance:       25.0,
			PayloadCapacity: 2.0,
			Sensors:         []string{"RGB Camera", "Multispectral", "LiDAR"},
		}
	case VehicleFixedWing:
		caps = VehicleCapabilities{
			MaxSpeed:        25.0,
			MaxAltitude:     1000.0,
			MaxRange:        50000.0,
			CruiseSpeed:     20.0,
			Endurance:       90.0,
			PayloadCapacity: 3.0,
			Sensors:         []string{"RGB Camera", "Thermal", "Multispectral"},
		}
	case VehicleVTOL:
		caps = VehicleCapabilities{
			MaxSpeed:        20.0,
			MaxAltitude:     800.0,
			MaxRange:        30000.0,
			CruiseSpeed:     15.0,
			Endurance:       60.0,
			PayloadCapacity: 2.5,
			Sensors:         []string{"RGB Camera", "Thermal", "Multispectral", "LiDAR"},
		}
	default:
		caps = VehicleCapabilities{
			MaxSpeed:        15.0,
			MaxAltitude:     500.0,
			MaxRange:        10000.0,
			CruiseSpeed:     10.0,
			Endurance:       30.0,
			PayloadCapacity: 2.0,
		}
	}

	return &Vehicle{
		ID:           id,
		Type:         vt,
		Status:       VehicleIdle,
		Location:     loc,
		Battery:      100.0,
		Capabilities: caps,
		LastUpdate:   time.Now(),
		Metadata:     map[string]any{},
	}
}

// ValidVehicleTransitions documents the normal lifecycle loop plus the two
// fault transitions. The registry does not enforce it; callers that want a
// strict machine can consult this table before requesting a status change.
var ValidVehicleTransitions = map[VehicleStatus][]VehicleStatus{
	VehicleIdle:      {VehicleArmed, VehicleEmergency, VehicleOffline},
	VehicleArmed:     {VehicleFlying, VehicleIdle, VehicleEmergency, VehicleOffline},
	VehicleFlying:    {VehicleLanding, VehicleEmergency, VehicleOffline},
	VehicleLanding:   {VehicleIdle, VehicleEmergency, VehicleOffline},
	VehicleEmergency: {VehicleIdle, VehicleOffline},
	VehicleOffline:   {VehicleIdle},
}
