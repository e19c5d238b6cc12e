package client

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/radarzone/companion/internal/config"
	"github.com/radarzone/companion/internal/geo"
	"github.com/radarzone/companion/internal/session"
	"github.com/radarzone/companion/pkg/core"
	"github.com/radarzone/companion/pkg/streaming"
)

var (
	// ErrInvalidZone wraps every zone validation failure.
	ErrInvalidZone = errors.New("invalid zone")
	// ErrDuplicateName is returned when another zone already uses the name.
	ErrDuplicateName = session.ErrDuplicateName
	// ErrUnknownZone is returned for intents naming a zone the store lacks.
	ErrUnknownZone = errors.New("unknown zone")
	// ErrNotSent is returned when the transport refused the message.
	ErrNotSent = errors.New("message not sent")
)

type zoneRequest struct {
	Name   string       `validate:"required,max=64"`
	Points []core.Point `validate:"min=3,max=64"`
}

var validate = validator.New()

// CreateZone validates the polygon, assigns a fresh id, adds the zone
// locally and announces it to the server. The zone is kept locally even when
// the send fails; the next authoritative zone list decides its fate.
func (c *Client) CreateZone(name string, points []core.Point) (core.Zone, error) {
	name = strings.TrimSpace(name)
	req := zoneRequest{Name: name, Points: points}
	if err := validate.Struct(req); err != nil {
		return core.Zone{}, fmt.Errorf("%w: %v", ErrInvalidZone, err)
	}
	if err := geo.ValidatePolygon(points); err != nil {
		return core.Zone{}, fmt.Errorf("%w: %v", ErrInvalidZone, err)
	}

	zone := core.Zone{ID: uuid.NewString(), Name: name, Points: append([]core.Point(nil), points...)}
	if err := c.store.AddZoneUnique(zone); err != nil {
		return core.Zone{}, err
	}
	c.logger.Info("Zone created", "zone", zone.ID, "name", zone.Name, "vertices", len(points))

	if !c.manager.Send(streaming.NewZone{Zone: zone}) {
		return zone, ErrNotSent
	}
	return zone, nil
}

// DeleteZone asks the server to delete a zone and marks it as deleting. The
// zone disappears only once the server confirms.
func (c *Client) DeleteZone(id string) error {
	if _, ok := c.store.Zone(id); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownZone, id)
	}
	if !c.manager.Send(streaming.DeleteZone{ZoneID: id}) {
		return ErrNotSent
	}
	c.store.MarkDeleting(id)
	return nil
}

// RequestZones asks for the authoritative zone list.
func (c *Client) RequestZones() bool {
	return c.manager.Send(streaming.RequestZones{})
}

// RequestLogs asks for zone logs; an empty id means every zone.
func (c *Client) RequestLogs(zoneID string) bool {
	return c.manager.Send(streaming.RequestLogs{ZoneID: zoneID})
}

// RequestFallLogs asks for fall events between from and to.
func (c *Client) RequestFallLogs(from, to time.Time) bool {
	return c.manager.Send(streaming.NewFallLogs(from, to))
}

// UpdateConfig pushes device settings to the server.
func (c *Client) UpdateConfig(s config.Settings) bool {
	return c.manager.Send(streaming.UpdateConfig{Config: s.DeviceConfig()})
}

// SelectZone opens a zone for inspection; an empty id clears the selection.
func (c *Client) SelectZone(id string) error {
	if !c.store.SelectZone(id) {
		return fmt.Errorf("%w: %s", ErrUnknownZone, id)
	}
	return nil
}

// AcknowledgeFall clears the fall alert.
func (c *Client) AcknowledgeFall() {
	c.store.AcknowledgeFall()
}
