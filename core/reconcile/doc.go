// Package reconcile decides how a Zabbix host must change to match an
// assembled LMS device record.
//
// The engine works in two steps, mirroring a plan and apply cycle:
//
//  1. Engine.Reconcile, ReconcileDelete and ReconcileNodeRemoval read the
//     current host through HostLookup and return a Decision (create, update,
//     delete or noop). Nothing is changed in this step.
//  2. Apply executes a Decision through a Mutator.
//
// Payload comparison is normalised (group, template and interface sets are
// order independent, server-assigned interface IDs are ignored), so applying
// the same record twice yields create followed by noop.
//
// Unless a record replaces the full device, interfaces the host already has
// are kept and combined with the record's interfaces by address.
//
// # Usage
//
//	engine := reconcile.NewEngine(client, reconcile.WithHostPrefix("device-"))
//	decision, err := engine.Reconcile(ctx, record)
//	if err != nil {
//	    return err // *LookupFailedError, retry later
//	}
//	hostID, err := reconcile.Apply(ctx, client, decision)
package reconcile
