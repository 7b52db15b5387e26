package reconcile

import (
	"context"
	"sort"

	"lms-zabbix-sync/core/buffer"
	"lms-zabbix-sync/core/event"
	"lms-zabbix-sync/core/zabbix"
)

// HostLookup reads the current state of a host by technical name.
// It returns nil when the host does not exist.
type HostLookup interface {
	GetHost(ctx context.Context, name string) (*zabbix.Host, error)
}

// Option configures an Engine.
type Option func(*Engine)

// WithHostPrefix sets the technical host name prefix.
func WithHostPrefix(prefix string) Option {
	return func(e *Engine) {
		if prefix != "" {
			e.prefix = prefix
		}
	}
}

// WithInterfacePort sets the port of newly added agent interfaces.
func WithInterfacePort(port string) Option {
	return func(e *Engine) {
		if port != "" {
			e.port = port
		}
	}
}

// WithDefaultGroup sets the host group used when a record carries none.
func WithDefaultGroup(groupID string) Option {
	return func(e *Engine) {
		e.group = groupID
	}
}

// Engine turns completed records and delete events into decisions.
// It only reads host state; Apply performs the changes.
type Engine struct {
	hosts  HostLookup
	prefix string
	port   string
	group  string
}

// NewEngine creates an engine reading host state through hosts.
func NewEngine(hosts HostLookup, opts ...Option) *Engine {
	e := &Engine{
		hosts:  hosts,
		prefix: "device-",
		port:   zabbix.DefaultPort,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// HostName returns the technical host name of a device.
func (e *Engine) HostName(deviceID int64) string {
	return zabbix.TechnicalName(e.prefix, deviceID)
}

// Lookup returns the current host of a device, or nil.
func (e *Engine) Lookup(ctx context.Context, deviceID int64) (*zabbix.Host, error) {
	name := e.HostName(deviceID)
	host, err := e.hosts.GetHost(ctx, name)
	if err != nil {
		return nil, &LookupFailedError{DeviceID: deviceID, Host: name, Err: err}
	}
	return host, nil
}

// Reconcile decides how to bring the host of a completed record up to date.
func (e *Engine) Reconcile(ctx context.Context, rec buffer.PendingRecord) (Decision, error) {
	host, err := e.Lookup(ctx, rec.DeviceID)
	if err != nil {
		return Decision{}, err
	}

	payload := e.BuildPayload(rec, host)
	if host == nil {
		return Decision{Action: ActionCreate, DeviceID: rec.DeviceID, Payload: payload, Reason: "host not found"}, nil
	}
	if payload.Equal(host.HostPayload) {
		return Decision{Action: ActionNoop, DeviceID: rec.DeviceID, HostID: host.HostID, Payload: payload, Reason: "host up to date"}, nil
	}
	return Decision{Action: ActionUpdate, DeviceID: rec.DeviceID, HostID: host.HostID, Payload: payload, Reason: "host differs"}, nil
}

// ReconcileDelete decides what a device deletion means for its host.
func (e *Engine) ReconcileDelete(ctx context.Context, deviceID int64) (Decision, error) {
	host, err := e.Lookup(ctx, deviceID)
	if err != nil {
		return Decision{}, err
	}
	if host == nil {
		return Decision{Action: ActionNoop, DeviceID: deviceID, Reason: "host not found"}, nil
	}
	return Decision{Action: ActionDelete, DeviceID: deviceID, HostID: host.HostID, Payload: host.HostPayload, Reason: "device deleted"}, nil
}

// ReconcileNodeRemoval decides what removing one node means for the host.
// Removing the last interface deletes the host and hands the device fields
// back for buffering, so the device is recreated once a new node appears.
func (e *Engine) ReconcileNodeRemoval(ctx context.Context, ev event.ChangeEvent) (Decision, error) {
	host, err := e.Lookup(ctx, ev.DeviceID)
	if err != nil {
		return Decision{}, err
	}
	if host == nil {
		return Decision{Action: ActionNoop, DeviceID: ev.DeviceID, Reason: "host not found"}, nil
	}
	if ev.NodeID == 0 && (ev.Node.IP == nil || *ev.Node.IP == "") {
		return Decision{Action: ActionNoop, DeviceID: ev.DeviceID, HostID: host.HostID, Reason: "node address unknown"}, nil
	}

	remaining := make([]zabbix.HostInterface, 0, len(host.Interfaces))
	found := false
	for _, iface := range host.Interfaces {
		if nodeRemoved(iface, ev) {
			found = true
			continue
		}
		remaining = append(remaining, iface)
	}
	if !found {
		return Decision{Action: ActionNoop, DeviceID: ev.DeviceID, HostID: host.HostID, Reason: "interface not on host"}, nil
	}

	if len(remaining) == 0 {
		device, _ := FieldsFromHost(host)
		return Decision{
			Action:   ActionDelete,
			DeviceID: ev.DeviceID,
			HostID:   host.HostID,
			Payload:  host.HostPayload,
			Reason:   "last interface removed",
			Restore:  &buffer.PendingRecord{DeviceID: ev.DeviceID, Device: device},
		}, nil
	}

	payload := host.HostPayload
	payload.Interfaces = electMain(remaining, "")
	return Decision{Action: ActionUpdate, DeviceID: ev.DeviceID, HostID: host.HostID, Payload: payload, Reason: "interface removed"}, nil
}

// nodeRemoved reports whether iface belongs to the node a NodeDelete event
// removes. Interfaces recording their node match by node ID only; the rest
// match by address.
func nodeRemoved(iface zabbix.HostInterface, ev event.ChangeEvent) bool {
	if iface.NodeID != 0 {
		return iface.NodeID == ev.NodeID
	}
	return ev.Node.IP != nil && *ev.Node.IP != "" && iface.IP == *ev.Node.IP
}

// BuildPayload resolves the desired host state from a record. Attributes the
// record does not carry are taken from the current host, if any. Interfaces
// the host has but the record lacks are kept unless the record replaces them.
func (e *Engine) BuildPayload(rec buffer.PendingRecord, host *zabbix.Host) zabbix.HostPayload {
	var current zabbix.HostPayload
	if host != nil {
		current = host.HostPayload
	}
	name := e.HostName(rec.DeviceID)

	p := zabbix.HostPayload{
		Host:        name,
		Name:        name,
		Description: current.Description,
		Status:      int(event.StatusMonitored),
		GroupIDs:    current.GroupIDs,
		TemplateIDs: current.TemplateIDs,
	}
	if host != nil {
		p.Name = current.Name
		p.Status = current.Status
	}

	d := rec.Device
	if d.Name != nil && *d.Name != "" {
		p.Name = *d.Name
	}
	if d.Description != nil {
		p.Description = *d.Description
	}
	if d.Status != nil {
		p.Status = int(*d.Status)
	}
	if d.GroupID != nil && *d.GroupID != "" {
		p.GroupIDs = []string{*d.GroupID}
	}
	if len(p.GroupIDs) == 0 && e.group != "" {
		p.GroupIDs = []string{e.group}
	}
	if d.TemplateIDs != nil {
		p.TemplateIDs = append([]string(nil), d.TemplateIDs...)
	}

	p.Interfaces = e.buildInterfaces(rec, current.Interfaces)
	return p
}

func (e *Engine) buildInterfaces(rec buffer.PendingRecord, current []zabbix.HostInterface) []zabbix.HostInterface {
	byIP := make(map[string]zabbix.HostInterface, len(current))
	byNode := make(map[int64]zabbix.HostInterface, len(current))
	for _, iface := range current {
		byIP[iface.IP] = iface
		if iface.NodeID != 0 {
			byNode[iface.NodeID] = iface
		}
	}

	// Nodes the record knows own their interface: a host interface of such a
	// node at another address is the node's old address and is replaced.
	recordNodes := make(map[int64]struct{}, len(rec.Node.Interfaces))
	for _, iface := range rec.Node.Interfaces {
		if iface.NodeID != 0 {
			recordNodes[iface.NodeID] = struct{}{}
		}
	}

	var out []zabbix.HostInterface
	seen := make(map[string]struct{})
	claimed := make(map[string]struct{})
	add := func(ip string, nodeID int64) {
		if ip == "" {
			return
		}
		if _, ok := seen[ip]; ok {
			return
		}
		seen[ip] = struct{}{}

		existing, ok := byNode[nodeID]
		if !ok || nodeID == 0 {
			existing, ok = byIP[ip]
		}
		if !ok {
			out = append(out, zabbix.HostInterface{Type: zabbix.InterfaceTypeAgent, IP: ip, Port: e.port, NodeID: nodeID})
			return
		}
		existing.IP = ip
		if nodeID != 0 {
			existing.NodeID = nodeID
		}
		// An interface ID is reused by the first address claiming it only.
		if _, dup := claimed[existing.InterfaceID]; dup {
			existing.InterfaceID = ""
		} else if existing.InterfaceID != "" {
			claimed[existing.InterfaceID] = struct{}{}
		}
		out = append(out, existing)
	}

	for _, iface := range rec.Node.Interfaces {
		add(iface.IP, iface.NodeID)
	}
	mainIP := ""
	if rec.Node.IP != nil {
		mainIP = *rec.Node.IP
		add(mainIP, 0)
	}
	if !rec.Replace {
		for _, iface := range current {
			if _, moved := recordNodes[iface.NodeID]; moved && iface.NodeID != 0 {
				continue
			}
			add(iface.IP, iface.NodeID)
		}
	}

	return electMain(out, mainIP)
}

// electMain marks exactly one agent interface as main: the one at mainIP,
// else the current main, else the first by address.
func electMain(ifaces []zabbix.HostInterface, mainIP string) []zabbix.HostInterface {
	out := append([]zabbix.HostInterface(nil), ifaces...)
	sort.Slice(out, func(i, j int) bool { return out[i].IP < out[j].IP })

	chosen := ""
	for _, iface := range out {
		if iface.Type == zabbix.InterfaceTypeAgent && iface.IP == mainIP {
			chosen = iface.IP
		}
	}
	if chosen == "" {
		for _, iface := range out {
			if iface.Type == zabbix.InterfaceTypeAgent && iface.Main {
				chosen = iface.IP
				break
			}
		}
	}
	if chosen == "" {
		for _, iface := range out {
			if iface.Type == zabbix.InterfaceTypeAgent {
				chosen = iface.IP
				break
			}
		}
	}
	for i := range out {
		if out[i].Type == zabbix.InterfaceTypeAgent {
			out[i].Main = out[i].IP == chosen
		}
	}
	return out
}

// FieldsFromHost expresses a host's current state as record fields, used to
// backfill incomplete records and to restore a device whose host was removed.
func FieldsFromHost(host *zabbix.Host) (event.DeviceFields, event.NodeFields) {
	if host == nil {
		return event.DeviceFields{}, event.NodeFields{}
	}

	status := event.HostStatus(host.Status)
	device := event.DeviceFields{
		Status:      &status,
		Description: event.Ptr(host.Description),
	}
	if host.Name != "" {
		device.Name = event.Ptr(host.Name)
	}
	if groups := host.Normalize().GroupIDs; len(groups) > 0 {
		device.GroupID = event.Ptr(groups[0])
	}
	if len(host.TemplateIDs) > 0 {
		device.TemplateIDs = append([]string(nil), host.TemplateIDs...)
	}

	var node event.NodeFields
	if ip := host.MainIP(); ip != "" {
		node.IP = event.Ptr(ip)
	}
	for _, iface := range host.Interfaces {
		node.Interfaces = append(node.Interfaces, event.Interface{NodeID: iface.NodeID, IP: iface.IP})
	}
	return device, node
}
