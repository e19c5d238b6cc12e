// pkg/core/logs.go
package core

import (
	"encoding/json"
	"time"
)

// OccupancyType is the direction of a zone occupancy transition.
type OccupancyType string

const (
	Occupied   OccupancyType = "occupied"
	Unoccupied OccupancyType = "unoccupied"
)

// ZoneLogEntry records a single occupancy transition of a zone.
type ZoneLogEntry struct {
	Timestamp   string        `json:"timestamp"`
	Type        OccupancyType `json:"type"`
	TargetCount int           `json:"targetCount"`
	Targets     []Target      `json:"targets"`
}

// Time parses the entry timestamp. The zero time is returned when the
// timestamp is not valid RFC 3339.
func (e ZoneLogEntry) Time() time.Time {
	t, err := time.Parse(time.RFC3339Nano, e.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}

// FormatTimestamp renders t the way log entries carry it.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// FallEvent is a fall detected by the sensor. The same shape is used for the
// live fall_event frame and for entries of the fall log history.
type FallEvent struct {
	Timestamp string  `json:"timestamp"`
	TargetID  ID      `json:"target_id,omitempty"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	ZoneID    string  `json:"zone_id,omitempty"`
}

// UnmarshalJSON accepts a string or numeric zone id.
func (e *FallEvent) UnmarshalJSON(data []byte) error {
	type plain FallEvent
	var w struct {
		plain
		ZoneID ID `json:"zone_id"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*e = FallEvent(w.plain)
	e.ZoneID = w.ZoneID.String()
	return nil
}

// ZoneEvent is an informational zone notification pushed by the server.
type ZoneEvent struct {
	ZoneID    string `json:"zone_id"`
	Event     string `json:"event"`
	Timestamp string `json:"timestamp,omitempty"`
}

// UnmarshalJSON accepts a string or numeric zone id.
func (e *ZoneEvent) UnmarshalJSON(data []byte) error {
	type plain ZoneEvent
	var w struct {
		plain
		ZoneID ID `json:"zone_id"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*e = ZoneEvent(w.plain)
	e.ZoneID = w.ZoneID.String()
	return nil
}
