// pkg/core/zone.go
package core

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// ID is an identifier that the server may encode either as a JSON string or
// as a number. It is always held as a string on the client.
type ID string

// UnmarshalJSON accepts "abc", 12 and 12.0.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if i, err := n.Int64(); err == nil {
		*id = ID(strconv.FormatInt(i, 10))
		return nil
	}
	*id = ID(n.String())
	return nil
}

// String returns the identifier as a plain string.
func (id ID) String() string { return string(id) }

// Point is a position on the radar plane, in meters.
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Target is a tracked object's instantaneous position.
type Target struct {
	ID ID      `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

// Position returns the target's location as a Point.
func (t Target) Position() Point {
	return Point{X: t.X, Y: t.Y}
}

// Zone is a user-defined polygon on the radar plane.
// Points are the polygon vertices in order; the last vertex connects back to
// the first.
type Zone struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Points []Point `json:"points"`
}

// UnmarshalJSON accepts a string or numeric id.
func (z *Zone) UnmarshalJSON(data []byte) error {
	type plain Zone
	var w struct {
		plain
		ID ID `json:"id"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*z = Zone(w.plain)
	z.ID = w.ID.String()
	return nil
}

// SameName reports whether two zone names collide. Names are unique
// case-insensitively.
func SameName(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// Clone returns a deep copy of the zone.
func (z Zone) Clone() Zone {
	pts := make([]Point, len(z.Points))
	copy(pts, z.Points)
	z.Points = pts
	return z
}
