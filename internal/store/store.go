package store

import (
	"context"
	"errors"
)

// Storage keys for the two override sets.
const (
	KeyPreparing      = "orders:preparing"
	KeyReadyForPickup = "orders:ready_for_pickup"
)

// ErrClosed is returned for operations after Close.
var ErrClosed = errors.New("store closed")

// OverrideSets holds the persisted order ids for each local display status.
type OverrideSets struct {
	Preparing      []string `json:"preparing"`
	ReadyForPickup []string `json:"readyForPickup"`
}

// Clone returns a deep copy, so callers can mutate without aliasing.
func (s OverrideSets) Clone() OverrideSets {
	out := OverrideSets{}
	if s.Preparing != nil {
		out.Preparing = append([]string(nil), s.Preparing...)
	}
	if s.ReadyForPickup != nil {
		out.ReadyForPickup = append([]string(nil), s.ReadyForPickup...)
	}
	return out
}

// OverrideStore loads and replaces the override sets.
type OverrideStore interface {
	// Load reads both sets. Missing keys yield empty sets, not an error.
	Load(ctx context.Context) (OverrideSets, error)

	// Save replaces both sets wholesale. Saves are serialized internally.
	Save(ctx context.Context, sets OverrideSets) error

	// Close flushes pending saves and releases resources. Idempotent.
	Close() error
}
