package streaming

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/radarzone/companion/pkg/core"
)

// ErrMalformedFrame is returned when a frame is not valid JSON.
var ErrMalformedFrame = errors.New("malformed frame")

// ErrBadPayload is returned when a frame of a known type carries a payload
// that does not fit the type.
var ErrBadPayload = errors.New("unexpected payload")

var jsonNull = []byte("null")

// Frame is a parsed but not yet typed inbound frame.
type Frame struct {
	Type string
	Raw  []byte
}

// Parse checks that data is JSON and reads its type. Anything that is not an
// object, or has no string type field, is typed "unknown".
func Parse(data []byte) (Frame, error) {
	trimmed := bytes.TrimSpace(data)
	if !json.Valid(trimmed) {
		return Frame{}, fmt.Errorf("%w: invalid JSON", ErrMalformedFrame)
	}
	raw := make([]byte, len(trimmed))
	copy(raw, trimmed)

	f := Frame{Type: TypeUnknown, Raw: raw}
	if raw[0] != '{' {
		return f, nil
	}
	var h struct {
		Type json.RawMessage `json:"type"`
	}
	if err := json.Unmarshal(raw, &h); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	var typ string
	if json.Unmarshal(h.Type, &typ) == nil && typ != "" {
		f.Type = typ
	}
	return f, nil
}

// Decode turns the frame into its typed message.
func (f Frame) Decode() (Inbound, error) {
	msg, err := decodeBody(f.Type, f.Raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBadPayload, f.Type, err)
	}
	return msg, nil
}

// Decode parses a raw text frame into its typed message.
func Decode(data []byte) (Inbound, error) {
	f, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return f.Decode()
}

func decodeBody(msgType string, data []byte) (Inbound, error) {
	switch msgType {
	case TypeZonesResponse:
		zones, err := decodeZones(data)
		return ZonesResponse{Zones: zones}, err
	case TypeZonesData:
		zones, err := decodeZones(data)
		return ZonesData{Zones: zones}, err
	case TypeZoneDeleted:
		var m ZoneDeleted
		err := json.Unmarshal(data, &m)
		return m, err
	case TypeZoneLogsResponse:
		return decodeZoneLogs(data)
	case TypeFallLogsResponse:
		var m FallLogsResponse
		err := json.Unmarshal(data, &m)
		return m, err
	case TypeTargetUpdate:
		var m TargetUpdate
		err := json.Unmarshal(data, &m)
		return m, err
	case TypeFallEvent:
		var m FallEvent
		err := json.Unmarshal(data, &m.FallEvent)
		return m, err
	case TypeZoneEvent:
		var m ZoneEvent
		err := json.Unmarshal(data, &m.ZoneEvent)
		return m, err
	case TypePong:
		return Pong{}, nil
	case TypeError:
		return decodeServerError(data)
	default:
		return Unknown{Type: msgType, Raw: data}, nil
	}
}

// decodeZones accepts the id-keyed object form and, for older servers, a
// plain array. Zones missing an id inherit their map key. The result is
// ordered by id with duplicates collapsed.
func decodeZones(data []byte) ([]core.Zone, error) {
	var p struct {
		Zones json.RawMessage `json:"zones"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	raw := bytes.TrimSpace(p.Zones)
	if len(raw) == 0 || bytes.Equal(raw, jsonNull) {
		return []core.Zone{}, nil
	}

	byID := make(map[string]core.Zone)
	if raw[0] == '[' {
		var list []core.Zone
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, err
		}
		for _, z := range list {
			byID[z.ID] = z
		}
	} else {
		var keyed map[string]core.Zone
		if err := json.Unmarshal(raw, &keyed); err != nil {
			return nil, err
		}
		for key, z := range keyed {
			if z.ID == "" {
				z.ID = key
			}
			byID[z.ID] = z
		}
	}

	zones := make([]core.Zone, 0, len(byID))
	for _, z := range byID {
		zones = append(zones, z)
	}
	sort.Slice(zones, func(i, j int) bool { return zones[i].ID < zones[j].ID })
	return zones, nil
}

func decodeZoneLogs(data []byte) (Inbound, error) {
	var p struct {
		ZoneID core.ID         `json:"zone_id"`
		Logs   json.RawMessage `json:"logs"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	resp := ZoneLogsResponse{ZoneID: p.ZoneID.String(), Logs: make(map[string][]core.ZoneLogEntry)}
	raw := bytes.TrimSpace(p.Logs)
	if len(raw) == 0 || bytes.Equal(raw, jsonNull) {
		if resp.ZoneID != "" {
			resp.Logs[resp.ZoneID] = nil
		}
		return resp, nil
	}
	if raw[0] == '[' {
		if resp.ZoneID == "" {
			return nil, errors.New("log list without zone_id")
		}
		var entries []core.ZoneLogEntry
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, err
		}
		resp.Logs[resp.ZoneID] = entries
		return resp, nil
	}
	if err := json.Unmarshal(raw, &resp.Logs); err != nil {
		return nil, err
	}
	return resp, nil
}

func decodeServerError(data []byte) (Inbound, error) {
	var p struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	if p.Message == "" {
		p.Message = p.Error
	}
	return ServerError{Message: p.Message}, nil
}

// Encode serialises an outbound message as a flat JSON object with the
// message type under "type".
func Encode(m Outbound) ([]byte, error) {
	if m == nil {
		return nil, errors.New("encode: nil message")
	}
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", m.MessageType(), err)
	}
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("flatten %s payload: %w", m.MessageType(), err)
	}
	fields["type"] = json.RawMessage(strconv.Quote(m.MessageType()))
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("marshal %s frame: %w", m.MessageType(), err)
	}
	return data, nil
}
