package ontology

type ZoneType string

const (
	ZoneKeepIn  ZoneType = "keep-in"
	ZoneKeepOut ZoneType = "keep-out"
	ZoneWarning ZoneType = "warning"
)

// Geofence is a polygonal zone with a containment rule. The polygon is a
// closed ring after normalization (first vertex repeated last). Priority
// orders breach reports when several zones trigger at once; higher wins.
// Zones enter the engine active with Priority 1 and a 0-1000 m altitude
// band unless the caller says otherwise; use SetActive to disable one.
type Geofence struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Type          ZoneType       `json:"type"`
	Polygon       []Location     `json:"polygon"`
	Priority      int            `json:"priority"`
	Active        bool           `json:"active"`
	MinAltitude   float64        `json:"min_altitude"`
	MaxAltitude   float64        `json:"max_altitude"`
	TemporalRules map[string]any `json:"temporal_rules,omitempty"` // reserved
}
