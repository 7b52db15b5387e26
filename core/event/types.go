package event

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Kind classifies a decoded trigger message.
type Kind string

const (
	// KindDeviceUpsert carries device-level attributes (LMS netdevices INSERT/UPDATE).
	KindDeviceUpsert Kind = "device_upsert"
	// KindNodeUpsert carries interface-level attributes (LMS nodes INSERT/UPDATE).
	KindNodeUpsert Kind = "node_upsert"
	// KindDeviceDelete removes a device and its host.
	KindDeviceDelete Kind = "device_delete"
	// KindNodeDelete removes one interface of a device.
	KindNodeDelete Kind = "node_delete"
)

// Op is the upstream database operation that fired the trigger.
type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

// Field names one attribute of a device record.
// The set is closed: completeness is always evaluated against these names.
type Field string

const (
	FieldName        Field = "name"
	FieldDescription Field = "description"
	FieldStatus      Field = "status"
	FieldIP          Field = "ip"
	FieldInterface   Field = "iface"
	FieldGroup       Field = "group"
	FieldTemplate    Field = "template"
)

var knownFields = map[Field]struct{}{
	FieldName:        {},
	FieldDescription: {},
	FieldStatus:      {},
	FieldIP:          {},
	FieldInterface:   {},
	FieldGroup:       {},
	FieldTemplate:    {},
}

// ParseFields validates a configured list of field names.
// Blank entries are skipped and duplicates collapse.
func ParseFields(names []string) ([]Field, error) {
	seen := make(map[Field]struct{}, len(names))
	fields := make([]Field, 0, len(names))
	for _, raw := range names {
		name := Field(strings.ToLower(strings.TrimSpace(raw)))
		if name == "" {
			continue
		}
		if _, ok := knownFields[name]; !ok {
			return nil, fmt.Errorf("unknown field %q", raw)
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		fields = append(fields, name)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("required field set is empty")
	}
	return fields, nil
}

// HostStatus mirrors the Zabbix host status values.
type HostStatus int

const (
	StatusMonitored   HostStatus = 0
	StatusUnmonitored HostStatus = 1
)

// Interface is one monitored network interface of a device (an LMS node).
type Interface struct {
	NodeID int64  `json:"node_id"`
	Name   string `json:"name"`
	IP     string `json:"ip"`
}

// DeviceFields holds device-level attributes. Nil members are absent.
type DeviceFields struct {
	Name        *string     `json:"name,omitempty"`
	Description *string     `json:"description,omitempty"`
	Status      *HostStatus `json:"status,omitempty"`
	GroupID     *string     `json:"group_id,omitempty"`
	TemplateIDs []string    `json:"template_ids,omitempty"`
}

// NodeFields holds interface-level attributes. Nil members are absent.
type NodeFields struct {
	IP         *string     `json:"ip,omitempty"`
	Interfaces []Interface `json:"interfaces,omitempty"`
}

// Has reports whether the device side carries the field.
func (d DeviceFields) Has(f Field) bool {
	switch f {
	case FieldName:
		return d.Name != nil && *d.Name != ""
	case FieldDescription:
		return d.Description != nil
	case FieldStatus:
		return d.Status != nil
	case FieldGroup:
		return d.GroupID != nil && *d.GroupID != ""
	case FieldTemplate:
		return len(d.TemplateIDs) > 0
	}
	return false
}

// Has reports whether the node side carries the field.
func (n NodeFields) Has(f Field) bool {
	switch f {
	case FieldIP:
		return n.IP != nil && *n.IP != ""
	case FieldInterface:
		return len(n.Interfaces) > 0
	}
	return false
}

// Merge overlays other onto d. Fields present in other win; absent ones are kept.
func (d DeviceFields) Merge(other DeviceFields) DeviceFields {
	out := d
	if other.Name != nil {
		out.Name = other.Name
	}
	if other.Description != nil {
		out.Description = other.Description
	}
	if other.Status != nil {
		out.Status = other.Status
	}
	if other.GroupID != nil {
		out.GroupID = other.GroupID
	}
	if other.TemplateIDs != nil {
		out.TemplateIDs = append([]string(nil), other.TemplateIDs...)
	}
	return out
}

// Fill copies fields from other only where d has none.
func (d DeviceFields) Fill(other DeviceFields) DeviceFields {
	out := d
	if out.Name == nil {
		out.Name = other.Name
	}
	if out.Description == nil {
		out.Description = other.Description
	}
	if out.Status == nil {
		out.Status = other.Status
	}
	if out.GroupID == nil {
		out.GroupID = other.GroupID
	}
	if out.TemplateIDs == nil && other.TemplateIDs != nil {
		out.TemplateIDs = append([]string(nil), other.TemplateIDs...)
	}
	return out
}

// Merge overlays other onto n. The IP is last-write-wins; interfaces are
// combined by node ID so one node update never drops another node.
func (n NodeFields) Merge(other NodeFields) NodeFields {
	out := NodeFields{IP: n.IP, Interfaces: combineInterfaces(n.Interfaces, other.Interfaces)}
	if other.IP != nil {
		out.IP = other.IP
	}
	return out
}

// Fill copies fields from other only where n has none.
func (n NodeFields) Fill(other NodeFields) NodeFields {
	out := NodeFields{IP: n.IP, Interfaces: n.Interfaces}
	if out.IP == nil {
		out.IP = other.IP
	}
	if len(out.Interfaces) == 0 && len(other.Interfaces) > 0 {
		out.Interfaces = append([]Interface(nil), other.Interfaces...)
	}
	return out
}

// WithoutNode returns n with the interface of nodeID removed. When the removed
// interface carried the main IP, the IP moves to the next remaining interface.
func (n NodeFields) WithoutNode(nodeID int64) NodeFields {
	out := NodeFields{IP: n.IP}
	var removed *Interface
	for i := range n.Interfaces {
		if n.Interfaces[i].NodeID == nodeID {
			removed = &n.Interfaces[i]
			continue
		}
		out.Interfaces = append(out.Interfaces, n.Interfaces[i])
	}
	if removed != nil && out.IP != nil && *out.IP == removed.IP {
		out.IP = nil
		for _, iface := range out.Interfaces {
			if iface.IP != "" {
				ip := iface.IP
				out.IP = &ip
				break
			}
		}
	}
	return out
}

// interfaceKey identifies an interface by node ID, or by address for
// interfaces learned from the monitoring system (which carry no node ID).
type interfaceKey struct {
	nodeID int64
	ip     string
}

func keyOf(iface Interface) interfaceKey {
	if iface.NodeID != 0 {
		return interfaceKey{nodeID: iface.NodeID}
	}
	return interfaceKey{ip: iface.IP}
}

func combineInterfaces(base, incoming []Interface) []Interface {
	if len(base) == 0 && len(incoming) == 0 {
		return nil
	}
	byKey := make(map[interfaceKey]Interface, len(base)+len(incoming))
	for _, iface := range base {
		byKey[keyOf(iface)] = iface
	}
	for _, iface := range incoming {
		byKey[keyOf(iface)] = iface
	}
	out := make([]Interface, 0, len(byKey))
	for _, iface := range byKey {
		out = append(out, iface)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].NodeID != out[j].NodeID {
			return out[i].NodeID < out[j].NodeID
		}
		return out[i].IP < out[j].IP
	})
	return out
}

// ChangeEvent is one decoded trigger message. It is not modified after Decode.
type ChangeEvent struct {
	DeviceID   int64        `json:"device_id"`
	Kind       Kind         `json:"kind"`
	Op         Op           `json:"op"`
	Table      string       `json:"table"`
	NodeID     int64        `json:"node_id,omitempty"`
	Device     DeviceFields `json:"device"`
	Node       NodeFields   `json:"node"`
	Replace    bool         `json:"replace"`
	ReceivedAt time.Time    `json:"received_at"`
}

// Empty reports whether the event carries no device or node attributes.
func (e ChangeEvent) Empty() bool {
	d, n := e.Device, e.Node
	return d.Name == nil && d.Description == nil && d.Status == nil && d.GroupID == nil &&
		d.TemplateIDs == nil && n.IP == nil && len(n.Interfaces) == 0
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
