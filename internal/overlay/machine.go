package overlay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/chowlane/ordersync/internal/model"
	"github.com/chowlane/ordersync/internal/store"
)

// ErrActionNotAllowed is returned when a transition is requested outside the
// action table.
var ErrActionNotAllowed = errors.New("action not allowed for current status")

// StatusWriter sends authoritative status-update requests.
type StatusWriter interface {
	UpdateOrderStatus(ctx context.Context, orderID string, status model.Status) error
}

// Machine owns the override set: it is the only component that reads or
// mutates it. Everything else goes through this contract.
type Machine struct {
	store  store.OverrideStore
	writer StatusWriter
	logger *slog.Logger

	mu        sync.Mutex
	preparing map[string]struct{}
	ready     map[string]struct{}
}

// NewMachine creates an overlay machine over the given store and writer.
func NewMachine(st store.OverrideStore, writer StatusWriter, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		store:     st,
		writer:    writer,
		logger:    logger,
		preparing: make(map[string]struct{}),
		ready:     make(map[string]struct{}),
	}
}

// Load restores persisted overrides. Call once at startup before first use.
func (m *Machine) Load(ctx context.Context) error {
	sets, err := m.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load overrides: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.preparing = make(map[string]struct{}, len(sets.Preparing))
	for _, id := range sets.Preparing {
		m.preparing[id] = struct{}{}
	}
	m.ready = make(map[string]struct{}, len(sets.ReadyForPickup))
	for _, id := range sets.ReadyForPickup {
		m.ready[id] = struct{}{}
	}
	return nil
}

// Override returns the current override for an order.
func (m *Machine) Override(orderID string) Override {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.overrideLocked(orderID)
}

func (m *Machine) overrideLocked(orderID string) Override {
	if _, ok := m.ready[orderID]; ok {
		return OverrideReadyForPickup
	}
	if _, ok := m.preparing[orderID]; ok {
		return OverridePreparing
	}
	return OverrideNone
}

// Actions returns the transitions currently offered for an order.
func (m *Machine) Actions(order model.Order) []Action {
	return ActionsFor(order.Status, m.Override(order.ID))
}

// Effective merges the authoritative status with any override for display.
// The override is never sent anywhere; it only changes what is rendered.
func (m *Machine) Effective(order model.Order) model.Status {
	if !order.Status.Awaiting() {
		return order.Status
	}
	switch m.Override(order.ID) {
	case OverrideReadyForPickup:
		return model.StatusReadyForPickup
	case OverridePreparing:
		return model.StatusPreparing
	}
	return order.Status
}

// RequestTransition applies an action: it persists the optimistic override
// synchronously, then issues the authoritative status update. On a rejected
// write the override stays; the error tells the caller the action did not
// take and reconciliation will settle the rest.
func (m *Machine) RequestTransition(ctx context.Context, order model.Order, action Action) error {
	effect, ok := effects[action]
	if !ok {
		return ErrActionNotAllowed
	}

	m.mu.Lock()
	if !allowed(order.Status, m.overrideLocked(order.ID), action) {
		m.mu.Unlock()
		return ErrActionNotAllowed
	}
	m.applyOverrideLocked(order.ID, effect.override)
	sets := m.snapshotLocked()
	m.mu.Unlock()

	if err := m.store.Save(ctx, sets); err != nil {
		// Persistence failure only costs crash-safety; the in-memory
		// override is live and the server call still proceeds.
		m.logger.Error("persist overrides failed", "order_id", order.ID, "error", err)
	}

	if err := m.writer.UpdateOrderStatus(ctx, order.ID, effect.serverStatus); err != nil {
		m.logger.Warn("status update rejected, keeping optimistic override",
			"order_id", order.ID,
			"status", effect.serverStatus,
			"error", err,
		)
		return fmt.Errorf("update order status: %w", err)
	}

	return nil
}

// CancelOverride removes any override for an order and persists the change.
func (m *Machine) CancelOverride(ctx context.Context, orderID string) error {
	m.mu.Lock()
	if m.overrideLocked(orderID) == OverrideNone {
		m.mu.Unlock()
		return nil
	}
	m.applyOverrideLocked(orderID, OverrideNone)
	sets := m.snapshotLocked()
	m.mu.Unlock()

	return m.store.Save(ctx, sets)
}

// Reconcile garbage-collects overrides against a fresh order fetch: an
// override survives only if its order is present and still awaiting. Runs on
// every poll result and pushed order-set refresh.
func (m *Machine) Reconcile(ctx context.Context, orders []model.Order) {
	current := make(map[string]model.Status, len(orders))
	for _, o := range orders {
		current[o.ID] = o.Status
	}

	m.mu.Lock()
	changed := false
	for _, set := range []map[string]struct{}{m.preparing, m.ready} {
		for id := range set {
			status, exists := current[id]
			if exists && status.Awaiting() {
				continue
			}
			delete(set, id)
			changed = true
			m.logger.Debug("override garbage-collected",
				"order_id", id,
				"status", status,
				"present", exists,
			)
		}
	}
	var sets store.OverrideSets
	if changed {
		sets = m.snapshotLocked()
	}
	m.mu.Unlock()

	if changed {
		if err := m.store.Save(ctx, sets); err != nil {
			m.logger.Error("persist overrides after reconcile failed", "error", err)
		}
	}
}

// applyOverrideLocked moves an order between override sets. Setting
// preparing or ready clears the other set for that id.
func (m *Machine) applyOverrideLocked(orderID string, override Override) {
	delete(m.preparing, orderID)
	delete(m.ready, orderID)
	switch override {
	case OverridePreparing:
		m.preparing[orderID] = struct{}{}
	case OverrideReadyForPickup:
		m.ready[orderID] = struct{}{}
	}
}

// snapshotLocked builds the persistable whole-set view.
func (m *Machine) snapshotLocked() store.OverrideSets {
	return store.OverrideSets{
		Preparing:      sortedKeys(m.preparing),
		ReadyForPickup: sortedKeys(m.ready),
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
