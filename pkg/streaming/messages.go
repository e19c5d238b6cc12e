package streaming

import (
	"time"

	"github.com/radarzone/companion/pkg/core"
)

// Inbound message types sent by the sensor server.
const (
	TypeZonesResponse    = "zones_response"
	TypeZonesData        = "zones_data"
	TypeZoneDeleted      = "zone_deleted"
	TypeZoneLogsResponse = "zone_logs_response"
	TypeFallLogsResponse = "fall_logs_response"
	TypeTargetUpdate     = "target_update"
	TypeFallEvent        = "fall_event"
	TypeZoneEvent        = "zone_event"
	TypePong             = "pong"
	TypeError            = "error"
	TypeUnknown          = "unknown"
)

// Outbound message types sent by the client.
const (
	TypeRequestZones = "request_zones"
	TypeRequestLogs  = "request_logs"
	TypeNewZone      = "new_zone"
	TypeDeleteZone   = "delete_zone"
	TypeFallLogs     = "fall_logs"
	TypePing         = "ping"
	TypeUpdateConfig = "update_config"
)

// InboundTypes lists every inbound type with a dedicated message struct.
var InboundTypes = []string{
	TypeZonesResponse,
	TypeZonesData,
	TypeZoneDeleted,
	TypeZoneLogsResponse,
	TypeFallLogsResponse,
	TypeTargetUpdate,
	TypeFallEvent,
	TypeZoneEvent,
	TypePong,
	TypeError,
}

// Inbound is a decoded server frame. The set of implementations is closed;
// Unknown carries any frame whose type is not recognised.
type Inbound interface {
	InboundType() string
	inbound()
}

// ZonesResponse replaces the whole zone list. Zones are ordered by ID.
type ZonesResponse struct {
	Zones []core.Zone
}

// ZonesData is the unsolicited form of ZonesResponse.
type ZonesData struct {
	Zones []core.Zone
}

// ZoneDeleted confirms (or refuses) a delete_zone request.
type ZoneDeleted struct {
	Success bool    `json:"success"`
	ZoneID  core.ID `json:"zoneId"`
}

// ZoneLogsResponse carries server-side zone logs keyed by zone id. ZoneID is
// set when the response answers a request for a single zone; otherwise Logs
// covers every zone.
type ZoneLogsResponse struct {
	ZoneID string
	Logs   map[string][]core.ZoneLogEntry
}

// FallLogsResponse carries the fall event history.
type FallLogsResponse struct {
	Logs []core.FallEvent `json:"logs"`
}

// TargetUpdate carries the full current target list.
type TargetUpdate struct {
	Targets []core.Target `json:"targets"`
}

// FallEvent signals a live fall detection.
type FallEvent struct {
	core.FallEvent
}

// ZoneEvent is informational only.
type ZoneEvent struct {
	core.ZoneEvent
}

// Pong acknowledges a ping.
type Pong struct{}

// ServerError is an application-level error reported by the server.
type ServerError struct {
	Message string `json:"message"`
}

// Unknown is any frame with an unrecognised or missing type.
type Unknown struct {
	Type string
	Raw  []byte
}

func (ZonesResponse) InboundType() string    { return TypeZonesResponse }
func (ZonesData) InboundType() string        { return TypeZonesData }
func (ZoneDeleted) InboundType() string      { return TypeZoneDeleted }
func (ZoneLogsResponse) InboundType() string { return TypeZoneLogsResponse }
func (FallLogsResponse) InboundType() string { return TypeFallLogsResponse }
func (TargetUpdate) InboundType() string     { return TypeTargetUpdate }
func (FallEvent) InboundType() string        { return TypeFallEvent }
func (ZoneEvent) InboundType() string        { return TypeZoneEvent }
func (Pong) InboundType() string             { return TypePong }
func (ServerError) InboundType() string      { return TypeError }
func (u Unknown) InboundType() string        { return u.Type }

func (ZonesResponse) inbound()    {}
func (ZonesData) inbound()        {}
func (ZoneDeleted) inbound()      {}
func (ZoneLogsResponse) inbound() {}
func (FallLogsResponse) inbound() {}
func (TargetUpdate) inbound()     {}
func (FallEvent) inbound()        {}
func (ZoneEvent) inbound()        {}
func (Pong) inbound()             {}
func (ServerError) inbound()      {}
func (Unknown) inbound()          {}

// Outbound is a client intent ready to be encoded.
type Outbound interface {
	MessageType() string
}

// RequestZones asks for the authoritative zone list.
type RequestZones struct{}

// RequestLogs asks for zone logs, optionally for a single zone.
type RequestLogs struct {
	ZoneID string `json:"zone_id,omitempty"`
}

// NewZone announces a locally created zone.
type NewZone struct {
	Zone core.Zone `json:"zone"`
}

// DeleteZone asks the server to delete a zone.
type DeleteZone struct {
	ZoneID string `json:"zoneId"`
}

// FallLogs asks for fall events between two instants, in epoch milliseconds.
type FallLogs struct {
	StartTime int64 `json:"start_time"`
	EndTime   int64 `json:"end_time"`
}

// NewFallLogs builds a FallLogs request for the window [from, to].
func NewFallLogs(from, to time.Time) FallLogs {
	return FallLogs{StartTime: from.UnixMilli(), EndTime: to.UnixMilli()}
}

// Ping is the heartbeat.
type Ping struct{}

// UpdateConfig pushes device configuration.
type UpdateConfig struct {
	Config core.DeviceConfig `json:"config"`
}

func (RequestZones) MessageType() string { return TypeRequestZones }
func (RequestLogs) MessageType() string  { return TypeRequestLogs }
func (NewZone) MessageType() string      { return TypeNewZone }
func (DeleteZone) MessageType() string   { return TypeDeleteZone }
func (FallLogs) MessageType() string     { return TypeFallLogs }
func (Ping) MessageType() string         { return TypePing }
func (UpdateConfig) MessageType() string { return TypeUpdateConfig }
