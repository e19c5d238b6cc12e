package client

import (
	"log/slog"

	"github.com/radarzone/companion/internal/occupancy"
	"github.com/radarzone/companion/pkg/core"
)

// LogObserver writes occupancy transitions and fall alerts to a logger.
type LogObserver struct {
	Logger *slog.Logger
}

func (o LogObserver) OnTransition(tr occupancy.Transition) {
	o.Logger.Info("Zone occupancy changed",
		"zone", tr.ZoneID,
		"name", tr.ZoneName,
		"type", string(tr.Entry.Type),
		"targets", tr.Entry.TargetCount,
	)
}

func (o LogObserver) OnFall(ev core.FallEvent) {
	o.Logger.Warn("Fall alert raised", "target", ev.TargetID, "zone", ev.ZoneID)
}
