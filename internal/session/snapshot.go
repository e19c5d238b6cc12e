package session

import (
	"sort"

	"github.com/radarzone/companion/internal/occupancy"
	"github.com/radarzone/companion/pkg/core"
)

// Snapshot is a consistent, independent copy of the store.
type Snapshot struct {
	Version uint64

	Zones         []core.Zone
	Targets       []core.Target
	TargetHistory []TargetFrame
	Active        occupancy.ActiveSet
	Deleting      []string
	OccupancyLogs map[string][]core.ZoneLogEntry
	ZoneLogs      map[string][]core.ZoneLogEntry
	FallLogs      []core.FallEvent
	FallAlert     *core.FallEvent
	ZoneEvents    []core.ZoneEvent
	SelectedZone  string
	LastError     string
	Connection    core.ConnectionStatus

	ZonesReceived    bool
	ZoneLogsReceived bool
	FallLogsReceived bool
	// ZoneLists counts authoritative zone lists applied so far.
	ZoneLists uint64
}

// Zone returns the zone with the given id.
func (s Snapshot) Zone(id string) (core.Zone, bool) {
	for _, z := range s.Zones {
		if z.ID == id {
			return z, true
		}
	}
	return core.Zone{}, false
}

// IsDeleting reports whether a zone awaits deletion confirmation.
func (s Snapshot) IsDeleting(id string) bool {
	for _, d := range s.Deleting {
		if d == id {
			return true
		}
	}
	return false
}

func copyLogs(in map[string][]core.ZoneLogEntry) map[string][]core.ZoneLogEntry {
	out := make(map[string][]core.ZoneLogEntry, len(in))
	for id, entries := range in {
		out[id] = append([]core.ZoneLogEntry{}, entries...)
	}
	return out
}

// Snapshot returns a copy of the whole store.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	zones := make([]core.Zone, len(s.zones))
	for i, z := range s.zones {
		zones[i] = z.Clone()
	}
	deleting := make([]string, 0, len(s.deleting))
	for id := range s.deleting {
		deleting = append(deleting, id)
	}
	sort.Strings(deleting)

	snap := Snapshot{
		Version:          s.version,
		Zones:            zones,
		Targets:          append([]core.Target{}, s.targets...),
		TargetHistory:    append([]TargetFrame{}, s.targetHistory...),
		Active:           s.active.Clone(),
		Deleting:         deleting,
		OccupancyLogs:    copyLogs(s.occupancyLogs),
		ZoneLogs:         copyLogs(s.zoneLogs),
		FallLogs:         append([]core.FallEvent{}, s.fallLogs...),
		ZoneEvents:       append([]core.ZoneEvent{}, s.zoneEvents...),
		SelectedZone:     s.selectedZone,
		LastError:        s.lastError,
		Connection:       s.connection,
		ZonesReceived:    s.zonesReceived,
		ZoneLogsReceived: s.zoneLogsReceived,
		FallLogsReceived: s.fallLogsReceived,
		ZoneLists:        s.zoneLists,
	}
	if s.fallAlert != nil {
		fa := *s.fallAlert
		snap.FallAlert = &fa
	}
	return snap
}

// Zones returns a copy of the zone list.
func (s *Store) Zones() []core.Zone {
	s.mu.RLock()
	defer s.mu.RUnlock()
	zones := make([]core.Zone, len(s.zones))
	for i, z := range s.zones {
		zones[i] = z.Clone()
	}
	return zones
}

// Zone returns one zone by id.
func (s *Store) Zone(id string) (core.Zone, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.zoneIndexLocked(id); i >= 0 {
		return s.zones[i].Clone(), true
	}
	return core.Zone{}, false
}

// Active returns a copy of the active zone set.
func (s *Store) Active() occupancy.ActiveSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active.Clone()
}

// OccupancyLog returns the client-derived transition log of a zone.
func (s *Store) OccupancyLog(zoneID string) []core.ZoneLogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]core.ZoneLogEntry{}, s.occupancyLogs[zoneID]...)
}

// IsDeleting reports whether a zone awaits deletion confirmation.
func (s *Store) IsDeleting(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.deleting[id]
	return ok
}

// ZonesReceived reports whether an authoritative zone list arrived.
func (s *Store) ZonesReceived() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.zonesReceived
}

// ZoneLogsReceived reports whether a zone_logs_response arrived.
func (s *Store) ZoneLogsReceived() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.zoneLogsReceived
}

// Connection returns the mirrored connection status.
func (s *Store) Connection() core.ConnectionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connection
}
