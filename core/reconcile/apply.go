package reconcile

import (
	"context"
	"fmt"

	"lms-zabbix-sync/core/zabbix"
)

// Mutator performs host changes. zabbix.Client satisfies it.
type Mutator interface {
	CreateHost(ctx context.Context, payload zabbix.HostPayload) (string, error)
	UpdateHost(ctx context.Context, hostID string, payload zabbix.HostPayload) error
	DeleteHost(ctx context.Context, hostID string) error
}

// Apply executes a decision and returns the ID of the affected host.
// Errors from the mutator are wrapped so their classification survives.
func Apply(ctx context.Context, m Mutator, d Decision) (string, error) {
	switch d.Action {
	case ActionNoop:
		return d.HostID, nil

	case ActionCreate:
		id, err := m.CreateHost(ctx, d.Payload)
		if err != nil {
			return "", fmt.Errorf("failed to create host %s: %w", d.Payload.Host, err)
		}
		return id, nil

	case ActionUpdate:
		if err := m.UpdateHost(ctx, d.HostID, d.Payload); err != nil {
			return "", fmt.Errorf("failed to update host %s: %w", d.HostID, err)
		}
		return d.HostID, nil

	case ActionDelete:
		if err := m.DeleteHost(ctx, d.HostID); err != nil {
			return "", fmt.Errorf("failed to delete host %s: %w", d.HostID, err)
		}
		return d.HostID, nil
	}

	return "", fmt.Errorf("unknown action %q for device %d", d.Action, d.DeviceID)
}
