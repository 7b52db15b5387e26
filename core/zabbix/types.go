package zabbix

import (
	"sort"
	"strconv"
	"strings"
)

// Interface types and defaults used for created hosts.
const (
	InterfaceTypeAgent = 1
	DefaultPort        = "10050"
)

// nodeDNSPrefix marks the DNS name that carries the LMS node of an interface.
// Interfaces connect by IP, so the DNS field is free to hold it.
const nodeDNSPrefix = "node-"

// NodeDNS returns the DNS name recording nodeID on an interface.
func NodeDNS(nodeID int64) string {
	if nodeID == 0 {
		return ""
	}
	return nodeDNSPrefix + strconv.FormatInt(nodeID, 10)
}

// ParseNodeDNS returns the node ID recorded by NodeDNS, or 0.
func ParseNodeDNS(dns string) int64 {
	rest, ok := strings.CutPrefix(dns, nodeDNSPrefix)
	if !ok {
		return 0
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id <= 0 {
		return 0
	}
	return id
}

// HostInterface is one interface of a host in the desired or current state.
type HostInterface struct {
	InterfaceID string `json:"interfaceid,omitempty"`
	Type        int    `json:"type"`
	Main        bool   `json:"main"`
	IP          string `json:"ip"`
	Port        string `json:"port"`

	// NodeID is the LMS node behind the interface, 0 when unknown.
	NodeID int64 `json:"node_id,omitempty"`
}

// HostPayload is the complete desired state of a host.
type HostPayload struct {
	Host        string          `json:"host"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Status      int             `json:"status"`
	GroupIDs    []string        `json:"group_ids"`
	TemplateIDs []string        `json:"template_ids"`
	Interfaces  []HostInterface `json:"interfaces"`
}

// Host is a host as currently known to Zabbix.
type Host struct {
	HostID string `json:"hostid"`
	HostPayload
}

// TechnicalName returns the Zabbix technical host name of a device.
func TechnicalName(prefix string, deviceID int64) string {
	return prefix + strconv.FormatInt(deviceID, 10)
}

// Normalize returns a copy with sorted, de-duplicated sets and without
// server-assigned interface IDs, suitable for comparison.
func (p HostPayload) Normalize() HostPayload {
	out := p
	out.GroupIDs = uniqueSorted(p.GroupIDs)
	out.TemplateIDs = uniqueSorted(p.TemplateIDs)
	out.Interfaces = make([]HostInterface, 0, len(p.Interfaces))
	seen := make(map[string]struct{}, len(p.Interfaces))
	for _, iface := range p.Interfaces {
		iface.InterfaceID = ""
		if _, dup := seen[iface.IP]; dup {
			continue
		}
		seen[iface.IP] = struct{}{}
		out.Interfaces = append(out.Interfaces, iface)
	}
	sort.Slice(out.Interfaces, func(i, j int) bool { return out.Interfaces[i].IP < out.Interfaces[j].IP })
	return out
}

// Equal compares two payloads after normalisation.
func (p HostPayload) Equal(other HostPayload) bool {
	a, b := p.Normalize(), other.Normalize()
	if a.Host != b.Host || a.Name != b.Name || a.Description != b.Description || a.Status != b.Status {
		return false
	}
	if !equalStrings(a.GroupIDs, b.GroupIDs) || !equalStrings(a.TemplateIDs, b.TemplateIDs) {
		return false
	}
	if len(a.Interfaces) != len(b.Interfaces) {
		return false
	}
	for i := range a.Interfaces {
		if a.Interfaces[i] != b.Interfaces[i] {
			return false
		}
	}
	return true
}

// MainIP returns the address of the main interface, or of the first one.
func (p HostPayload) MainIP() string {
	for _, iface := range p.Interfaces {
		if iface.Main {
			return iface.IP
		}
	}
	if len(p.Interfaces) > 0 {
		return p.Interfaces[0].IP
	}
	return ""
}

func uniqueSorted(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
