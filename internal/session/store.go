// Package session holds the authoritative in-memory state of one client
// session: zones, targets, logs, pending deletions and connection health.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/radarzone/companion/internal/occupancy"
	"github.com/radarzone/companion/pkg/core"
)

const (
	defaultTargetHistory    = 100
	defaultZoneEventHistory = 50
)

// ErrDuplicateName is returned by AddZoneUnique when another zone already
// uses the name.
var ErrDuplicateName = errors.New("zone name already in use")

// Options tunes the store.
type Options struct {
	// TargetHistory caps the number of retained target frames.
	TargetHistory int
	// ZoneEventHistory caps the number of retained zone_event notifications.
	ZoneEventHistory int
	// Now stamps frames and occupancy log entries. Defaults to time.Now.
	Now func() time.Time
}

// TargetFrame is one target_update as received.
type TargetFrame struct {
	ReceivedAt time.Time
	Targets    []core.Target
}

// Observer is told about occupancy transitions and fall alerts after the
// corresponding state is visible in the store. Observers run outside the
// store lock but must not block.
type Observer interface {
	OnTransition(tr occupancy.Transition)
	OnFall(ev core.FallEvent)
}

// Store is safe for concurrent use. Each exported mutator is one atomic
// transition; zone and target changes re-run the occupancy engine inside the
// same critical section, so readers never see targets without the matching
// active set and log entries.
type Store struct {
	mu  sync.RWMutex
	now func() time.Time

	engine *occupancy.Engine

	zones         []core.Zone
	targets       []core.Target
	targetHistory []TargetFrame
	historyCap    int
	active        occupancy.ActiveSet
	deleting      map[string]struct{}
	occupancyLogs map[string][]core.ZoneLogEntry
	zoneLogs      map[string][]core.ZoneLogEntry
	fallLogs      []core.FallEvent
	fallAlert     *core.FallEvent
	zoneEvents    []core.ZoneEvent
	eventsCap     int
	selectedZone  string
	lastError     string
	connection    core.ConnectionStatus

	zonesReceived    bool
	zoneLogsReceived bool
	fallLogsReceived bool
	zoneLists        uint64

	version uint64

	notifyMu  sync.Mutex
	observers []Observer
	subs      map[int]chan struct{}
	nextSub   int
}

// NewStore creates an empty store.
func NewStore(opts Options) *Store {
	if opts.TargetHistory <= 0 {
		opts.TargetHistory = defaultTargetHistory
	}
	if opts.ZoneEventHistory <= 0 {
		opts.ZoneEventHistory = defaultZoneEventHistory
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		now:           opts.Now,
		engine:        occupancy.New(opts.Now),
		historyCap:    opts.TargetHistory,
		eventsCap:     opts.ZoneEventHistory,
		active:        make(occupancy.ActiveSet),
		deleting:      make(map[string]struct{}),
		occupancyLogs: make(map[string][]core.ZoneLogEntry),
		zoneLogs:      make(map[string][]core.ZoneLogEntry),
		subs:          make(map[int]chan struct{}),
	}
}

// AddObserver registers o for transitions and fall alerts.
func (s *Store) AddObserver(o Observer) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.observers = append(s.observers, o)
}

// Subscribe returns a channel that receives a value after every state
// change. Notifications coalesce; a slow reader sees at least one pending
// signal, never a backlog. cancel releases the subscription.
func (s *Store) Subscribe() (ch <-chan struct{}, cancel func()) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	id := s.nextSub
	s.nextSub++
	c := make(chan struct{}, 1)
	s.subs[id] = c
	return c, func() {
		s.notifyMu.Lock()
		defer s.notifyMu.Unlock()
		delete(s.subs, id)
	}
}

type effects struct {
	changed     bool
	transitions []occupancy.Transition
	fall        *core.FallEvent
}

// apply runs fn under the write lock and publishes its effects afterwards.
func (s *Store) apply(fn func() effects) effects {
	s.mu.Lock()
	fx := fn()
	if fx.changed {
		s.version++
	}
	s.mu.Unlock()

	if !fx.changed {
		return fx
	}

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	for _, tr := range fx.transitions {
		for _, o := range s.observers {
			o.OnTransition(tr)
		}
	}
	if fx.fall != nil {
		for _, o := range s.observers {
			o.OnFall(*fx.fall)
		}
	}
	for _, c := range s.subs {
		select {
		case c <- struct{}{}:
		default:
		}
	}
	return fx
}

// reevaluateLocked runs the occupancy engine over the current zones and
// targets, replacing the active set and appending one log entry per flip.
func (s *Store) reevaluateLocked() []occupancy.Transition {
	res := s.engine.Evaluate(s.zones, s.targets)
	if !res.Evaluated {
		return nil
	}
	s.active = res.Active
	for _, tr := range res.Transitions {
		s.occupancyLogs[tr.ZoneID] = append(s.occupancyLogs[tr.ZoneID], tr.Entry)
	}
	return res.Transitions
}

func (s *Store) zoneIndexLocked(id string) int {
	for i, z := range s.zones {
		if z.ID == id {
			return i
		}
	}
	return -1
}

// ReplaceZones installs the authoritative zone list. The previous list is
// discarded; replaying the same payload yields the same collection.
func (s *Store) ReplaceZones(zones []core.Zone) []occupancy.Transition {
	fx := s.apply(func() effects {
		next := make([]core.Zone, 0, len(zones))
		seen := make(map[string]struct{}, len(zones))
		for _, z := range zones {
			if _, dup := seen[z.ID]; dup {
				continue
			}
			seen[z.ID] = struct{}{}
			next = append(next, z.Clone())
		}
		for _, old := range s.zones {
			if _, ok := seen[old.ID]; !ok {
				s.engine.Forget(old.ID)
			}
		}
		s.zones = next
		s.zonesReceived = true
		s.zoneLists++

		for id := range s.deleting {
			if _, ok := seen[id]; !ok {
				delete(s.deleting, id)
			}
		}
		for id := range s.active {
			if _, ok := seen[id]; !ok {
				delete(s.active, id)
			}
		}
		if _, ok := seen[s.selectedZone]; !ok {
			s.selectedZone = ""
		}
		return effects{changed: true, transitions: s.reevaluateLocked()}
	})
	return fx.transitions
}

// AddZone inserts a zone unless one with the same id already exists. It
// reports whether the zone was added.
func (s *Store) AddZone(z core.Zone) bool {
	added := false
	s.apply(func() effects {
		if s.zoneIndexLocked(z.ID) >= 0 {
			return effects{}
		}
		s.zones = append(s.zones, z.Clone())
		added = true
		return effects{changed: true, transitions: s.reevaluateLocked()}
	})
	return added
}

// AddZoneUnique inserts a zone unless another zone already uses its name
// (case-insensitively). A zone whose id is already present is left as is.
func (s *Store) AddZoneUnique(z core.Zone) error {
	var err error
	s.apply(func() effects {
		for _, other := range s.zones {
			if other.ID != z.ID && core.SameName(other.Name, z.Name) {
				err = fmt.Errorf("%w: %q", ErrDuplicateName, z.Name)
				return effects{}
			}
		}
		if s.zoneIndexLocked(z.ID) >= 0 {
			return effects{}
		}
		s.zones = append(s.zones, z.Clone())
		return effects{changed: true, transitions: s.reevaluateLocked()}
	})
	return err
}

// ReplaceTargets installs the current target list and records it in the
// bounded history.
func (s *Store) ReplaceTargets(targets []core.Target) []occupancy.Transition {
	fx := s.apply(func() effects {
		s.targets = append([]core.Target{}, targets...)
		s.targetHistory = append(s.targetHistory, TargetFrame{ReceivedAt: s.now(), Targets: s.targets})
		if over := len(s.targetHistory) - s.historyCap; over > 0 {
			s.targetHistory = append([]TargetFrame{}, s.targetHistory[over:]...)
		}
		return effects{changed: true, transitions: s.reevaluateLocked()}
	})
	return fx.transitions
}

// MarkDeleting flags a zone as awaiting server confirmation of deletion.
// It reports false for unknown zones.
func (s *Store) MarkDeleting(id string) bool {
	ok := false
	s.apply(func() effects {
		if s.zoneIndexLocked(id) < 0 {
			return effects{}
		}
		ok = true
		if _, already := s.deleting[id]; already {
			return effects{}
		}
		s.deleting[id] = struct{}{}
		return effects{changed: true}
	})
	return ok
}

// UnmarkDeleting clears the deleting flag, e.g. after the server refused.
func (s *Store) UnmarkDeleting(id string) {
	s.apply(func() effects {
		if _, ok := s.deleting[id]; !ok {
			return effects{}
		}
		delete(s.deleting, id)
		return effects{changed: true}
	})
}

// FinalizeDeletion removes a zone from every collection once the server
// confirmed the deletion. It reports whether anything was removed.
func (s *Store) FinalizeDeletion(id string) bool {
	removed := false
	s.apply(func() effects {
		if i := s.zoneIndexLocked(id); i >= 0 {
			s.zones = append(s.zones[:i:i], s.zones[i+1:]...)
			removed = true
		}
		if _, ok := s.deleting[id]; ok {
			delete(s.deleting, id)
			removed = true
		}
		delete(s.active, id)
		delete(s.zoneLogs, id)
		delete(s.occupancyLogs, id)
		s.engine.Forget(id)
		if s.selectedZone == id {
			s.selectedZone = ""
		}
		return effects{changed: removed}
	})
	return removed
}

// ReplaceZoneLogs replaces the server-side logs of every zone present in
// logs and marks zone logs as received.
func (s *Store) ReplaceZoneLogs(logs map[string][]core.ZoneLogEntry) {
	s.apply(func() effects {
		for id, entries := range logs {
			s.zoneLogs[id] = append([]core.ZoneLogEntry{}, entries...)
		}
		s.zoneLogsReceived = true
		return effects{changed: true}
	})
}

// ReplaceAllZoneLogs installs a complete set of server-side logs. Zones
// missing from logs lose any logs held for them.
func (s *Store) ReplaceAllZoneLogs(logs map[string][]core.ZoneLogEntry) {
	s.apply(func() effects {
		s.zoneLogs = make(map[string][]core.ZoneLogEntry, len(logs))
		for id, entries := range logs {
			s.zoneLogs[id] = append([]core.ZoneLogEntry{}, entries...)
		}
		s.zoneLogsReceived = true
		return effects{changed: true}
	})
}

// ReplaceFallLogs replaces the fall event history.
func (s *Store) ReplaceFallLogs(logs []core.FallEvent) {
	s.apply(func() effects {
		s.fallLogs = append([]core.FallEvent{}, logs...)
		s.fallLogsReceived = true
		return effects{changed: true}
	})
}

// RaiseFall sets the fall alert.
func (s *Store) RaiseFall(ev core.FallEvent) {
	s.apply(func() effects {
		cp := ev
		s.fallAlert = &cp
		return effects{changed: true, fall: &cp}
	})
}

// AcknowledgeFall clears the fall alert.
func (s *Store) AcknowledgeFall() {
	s.apply(func() effects {
		if s.fallAlert == nil {
			return effects{}
		}
		s.fallAlert = nil
		return effects{changed: true}
	})
}

// RecordZoneEvent keeps an informational zone_event in a bounded list.
func (s *Store) RecordZoneEvent(ev core.ZoneEvent) {
	s.apply(func() effects {
		s.zoneEvents = append(s.zoneEvents, ev)
		if over := len(s.zoneEvents) - s.eventsCap; over > 0 {
			s.zoneEvents = append([]core.ZoneEvent{}, s.zoneEvents[over:]...)
		}
		return effects{changed: true}
	})
}

// SetError records the last application error reported by the server.
func (s *Store) SetError(msg string) {
	s.apply(func() effects {
		s.lastError = msg
		return effects{changed: true}
	})
}

// SetConnection mirrors the connection manager's status.
func (s *Store) SetConnection(st core.ConnectionStatus) {
	s.apply(func() effects {
		if s.connection == st {
			return effects{}
		}
		s.connection = st
		return effects{changed: true}
	})
}

// SelectZone marks a zone as open in the UI. An empty id clears the
// selection; unknown ids are rejected.
func (s *Store) SelectZone(id string) bool {
	ok := false
	s.apply(func() effects {
		if id != "" && s.zoneIndexLocked(id) < 0 {
			return effects{}
		}
		ok = true
		s.selectedZone = id
		return effects{changed: true}
	})
	return ok
}
