package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"lms-zabbix-sync/core/utils"
)

const (
	tableNetDevices = "netdevices"
	tableNodes      = "nodes"
)

// MalformedMessageError reports a trigger message that cannot be turned into a ChangeEvent.
// Redelivering such a message cannot fix it.
type MalformedMessageError struct {
	Reason string
	Err    error
}

func (e *MalformedMessageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed message: %s: %v", e.Reason, e.Err)
	}
	return "malformed message: " + e.Reason
}

func (e *MalformedMessageError) Unwrap() error {
	return e.Err
}

// IsMalformed reports whether err is (or wraps) a MalformedMessageError.
func IsMalformed(err error) bool {
	var target *MalformedMessageError
	return errors.As(err, &target)
}

func malformed(reason string, err error) error {
	return &MalformedMessageError{Reason: reason, Err: err}
}

// envelope is the message shape published by the LMS database triggers.
type envelope struct {
	Action  string          `json:"Action"`
	Table   string          `json:"Table"`
	ID      any             `json:"ID"`
	Payload json.RawMessage `json:"Payload"`
}

// Decode parses a raw trigger message. It has no side effects.
func Decode(raw []byte, receivedAt time.Time) (ChangeEvent, error) {
	var env envelope
	if err := unmarshalNumbers(raw, &env); err != nil {
		return ChangeEvent{}, malformed("invalid envelope", err)
	}

	payload, err := decodePayload(env.Payload)
	if err != nil {
		return ChangeEvent{}, malformed("invalid payload", err)
	}

	op := Op(strings.ToUpper(strings.TrimSpace(env.Action)))
	switch op {
	case OpInsert, OpUpdate, OpDelete:
	default:
		return ChangeEvent{}, malformed(fmt.Sprintf("unknown action %q", env.Action), nil)
	}

	ev := ChangeEvent{
		Op:         op,
		Table:      strings.ToLower(strings.TrimSpace(env.Table)),
		ReceivedAt: receivedAt,
	}

	switch ev.Table {
	case tableNetDevices:
		err = decodeNetDevice(&ev, env.ID, payload)
	case tableNodes:
		err = decodeNode(&ev, payload)
	default:
		return ChangeEvent{}, malformed(fmt.Sprintf("unknown table %q", env.Table), nil)
	}
	if err != nil {
		return ChangeEvent{}, err
	}
	return ev, nil
}

// decodePayload accepts the payload either as a JSON-encoded string (what the
// triggers emit) or as an inline object.
func decodePayload(raw json.RawMessage) (map[string]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return map[string]any{}, nil
	}

	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, err
		}
		if strings.TrimSpace(s) == "" {
			return map[string]any{}, nil
		}
		trimmed = []byte(s)
	}

	var payload map[string]any
	if err := unmarshalNumbers(trimmed, &payload); err != nil {
		return nil, err
	}
	if payload == nil {
		payload = map[string]any{}
	}
	return payload, nil
}

func unmarshalNumbers(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

func decodeNetDevice(ev *ChangeEvent, envelopeID any, payload map[string]any) error {
	idVal, ok := payload["id"]
	if !ok || idVal == nil {
		idVal = envelopeID
	}
	id, err := utils.ToInt64(idVal)
	if err != nil || id <= 0 {
		return malformed("netdevice message without device id", err)
	}
	ev.DeviceID = id

	if ev.Op == OpDelete {
		ev.Kind = KindDeviceDelete
		return nil
	}

	ev.Kind = KindDeviceUpsert
	ev.Replace = ev.Op == OpInsert

	if v, ok := payload["name"]; ok && v != nil {
		name := strings.TrimLeft(utils.ToString(v), "#")
		ev.Device.Name = &name
	}
	if v, ok := payload["description"]; ok {
		desc := utils.ToString(v)
		ev.Device.Description = &desc
	}
	if v, ok := payload["status"]; ok && v != nil {
		n, err := utils.ToInt64(v)
		if err != nil {
			return malformed("invalid netdevice status", err)
		}
		status := StatusMonitored
		if n != 0 {
			status = StatusUnmonitored
		}
		ev.Device.Status = &status
	}
	return nil
}

func decodeNode(ev *ChangeEvent, payload map[string]any) error {
	devVal, ok := payload["netdev"]
	if !ok || devVal == nil {
		return malformed("node message without netdev", nil)
	}
	deviceID, err := utils.ToInt64(devVal)
	if err != nil || deviceID <= 0 {
		return malformed("node message without netdev", err)
	}
	ev.DeviceID = deviceID

	if v, ok := payload["id"]; ok && v != nil {
		nodeID, err := utils.ToInt64(v)
		if err != nil {
			return malformed("invalid node id", err)
		}
		ev.NodeID = nodeID
	}

	ip, err := utils.ToIPv4(payload["ipaddr"])
	if err != nil && payload["ipaddr"] != nil {
		return malformed("invalid node ipaddr", err)
	}

	if ev.Op == OpDelete {
		ev.Kind = KindNodeDelete
		if ip != "" {
			ev.Node.IP = &ip
		}
		return nil
	}

	ev.Kind = KindNodeUpsert
	if ip == "" {
		// A node without an address cannot be monitored; its device fields stay untouched.
		return nil
	}

	name := strings.TrimSpace(utils.ToString(payload["name"]))
	if name == "" {
		name = fmt.Sprintf("node-%d", ev.NodeID)
	}
	ev.Node.IP = &ip
	ev.Node.Interfaces = []Interface{{NodeID: ev.NodeID, Name: name, IP: ip}}
	return nil
}
