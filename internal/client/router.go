package client

import (
	"github.com/radarzone/companion/internal/dispatcher"
	"github.com/radarzone/companion/pkg/streaming"
)

// registerHandlers binds a handler to every inbound message type.
func (c *Client) registerHandlers() {
	d := c.dispatcher

	d.Register(streaming.TypeZonesResponse, dispatcher.Handle(func(m streaming.ZonesResponse, _ dispatcher.Event) error {
		c.store.ReplaceZones(m.Zones)
		return nil
	}), dispatcher.Logged())

	d.Register(streaming.TypeZonesData, dispatcher.Handle(func(m streaming.ZonesData, _ dispatcher.Event) error {
		c.store.ReplaceZones(m.Zones)
		return nil
	}), dispatcher.Logged())

	d.Register(streaming.TypeZoneDeleted, dispatcher.Handle(func(m streaming.ZoneDeleted, _ dispatcher.Event) error {
		id := m.ZoneID.String()
		if id == "" {
			c.logger.Warn("zone_deleted without zone id", "success", m.Success)
			return nil
		}
		if !m.Success {
			c.logger.Warn("Server refused zone deletion", "zone", id)
			c.store.UnmarkDeleting(id)
			return nil
		}
		if c.store.FinalizeDeletion(id) {
			c.logger.Info("Zone deleted", "zone", id)
		}
		return nil
	}), dispatcher.Logged())

	d.Register(streaming.TypeZoneLogsResponse, dispatcher.Handle(func(m streaming.ZoneLogsResponse, _ dispatcher.Event) error {
		if m.ZoneID == "" {
			c.store.ReplaceAllZoneLogs(m.Logs)
		} else {
			c.store.ReplaceZoneLogs(m.Logs)
		}
		return nil
	}), dispatcher.Logged())

	d.Register(streaming.TypeFallLogsResponse, dispatcher.Handle(func(m streaming.FallLogsResponse, _ dispatcher.Event) error {
		c.store.ReplaceFallLogs(m.Logs)
		return nil
	}), dispatcher.Logged())

	// Target updates arrive at frame rate; not logged.
	d.Register(streaming.TypeTargetUpdate, dispatcher.Handle(func(m streaming.TargetUpdate, _ dispatcher.Event) error {
		c.store.ReplaceTargets(m.Targets)
		return nil
	}))

	d.Register(streaming.TypeFallEvent, dispatcher.Handle(func(m streaming.FallEvent, _ dispatcher.Event) error {
		c.logger.Warn("Fall detected", "target", m.TargetID, "x", m.X, "y", m.Y, "zone", m.ZoneID)
		c.store.RaiseFall(m.FallEvent)
		return nil
	}))

	d.Register(streaming.TypeZoneEvent, dispatcher.Handle(func(m streaming.ZoneEvent, _ dispatcher.Event) error {
		c.store.RecordZoneEvent(m.ZoneEvent)
		return nil
	}), dispatcher.Logged())

	d.Register(streaming.TypePong, func(dispatcher.Event) error { return nil })

	d.Register(streaming.TypeError, dispatcher.Handle(func(m streaming.ServerError, _ dispatcher.Event) error {
		c.logger.Warn("Server reported error", "message", m.Message)
		c.store.SetError(m.Message)
		return nil
	}))
}
