// Package overlay implements the order status overlay state machine.
//
// A shop can flag an order as "preparing" or "ready for pickup" before the
// server reflects it. These overrides are presentation-only: they are layered
// on top of the server-authoritative status, persisted locally, and never
// written back to the server as status values. Every transition request also
// sends the matching authoritative status update; the server call decides
// whether the action took.
//
// A rejected status write leaves the optimistic override in place. The next
// reconcile pass against fresh server data corrects it. This mirrors the
// shipped behavior; rollback-on-failure was considered and deliberately not
// added.
package overlay
