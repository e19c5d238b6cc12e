// Package occupancy derives which zones contain targets and turns changes in
// that derived state into zone log entries.
package occupancy

import (
	"sort"
	"time"

	"github.com/radarzone/companion/internal/geo"
	"github.com/radarzone/companion/pkg/core"
)

// ActiveSet is the set of zone ids currently containing at least one target.
type ActiveSet map[string]struct{}

// Has reports whether zone id is active.
func (s ActiveSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// IDs returns the active zone ids in ascending order.
func (s ActiveSet) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clone returns an independent copy.
func (s ActiveSet) Clone() ActiveSet {
	out := make(ActiveSet, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}

// Transition is one zone flipping between occupied and unoccupied.
type Transition struct {
	ZoneID   string
	ZoneName string
	Entry    core.ZoneLogEntry
}

// Result is the outcome of one evaluation. When Evaluated is false the
// inputs were short-circuited and nothing else in the result is meaningful.
type Result struct {
	Evaluated   bool
	Active      ActiveSet
	Transitions []Transition
}

// Engine keeps the previous occupancy snapshot so it can detect edges.
// It is not safe for concurrent use; the session store serialises access.
type Engine struct {
	previous map[string]bool
	now      func() time.Time
}

// New creates an engine. now stamps log entries; nil means time.Now.
func New(now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{previous: make(map[string]bool), now: now}
}

// Contained returns the targets inside zone, in input order. Zones with
// fewer than three vertices contain nothing.
func Contained(zone core.Zone, targets []core.Target) []core.Target {
	if len(zone.Points) < geo.MinVertices {
		return nil
	}
	var inside []core.Target
	for _, t := range targets {
		if geo.PointInPolygon(t.Position(), zone.Points) {
			inside = append(inside, t)
		}
	}
	return inside
}

// Evaluate recomputes the active set from scratch and emits one transition
// per zone whose occupancy flipped since the last evaluation. If either
// input is empty nothing is computed and the previous snapshot is kept.
func (e *Engine) Evaluate(zones []core.Zone, targets []core.Target) Result {
	if len(zones) == 0 || len(targets) == 0 {
		return Result{}
	}

	stamp := core.FormatTimestamp(e.now())
	next := make(map[string]bool, len(zones))
	res := Result{Evaluated: true, Active: make(ActiveSet)}

	for _, z := range zones {
		inside := Contained(z, targets)
		active := len(inside) > 0
		next[z.ID] = active
		if active {
			res.Active[z.ID] = struct{}{}
		}
		if active == e.previous[z.ID] {
			continue
		}

		entry := core.ZoneLogEntry{
			Timestamp:   stamp,
			Type:        core.Unoccupied,
			TargetCount: len(inside),
			Targets:     append([]core.Target{}, inside...),
		}
		if active {
			entry.Type = core.Occupied
		}
		res.Transitions = append(res.Transitions, Transition{ZoneID: z.ID, ZoneName: z.Name, Entry: entry})
	}

	e.previous = next
	return res
}

// Forget drops the snapshot of a deleted zone.
func (e *Engine) Forget(zoneID string) {
	delete(e.previous, zoneID)
}

// Reset clears all snapshots.
func (e *Engine) Reset() {
	e.previous = make(map[string]bool)
}
