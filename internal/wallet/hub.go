package wallet

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/chowlane/ordersync/internal/model"
)

// Fetcher reads the authoritative balance for one account.
type Fetcher interface {
	Wallet(ctx context.Context, userID string, accountType model.Role) (model.WalletSnapshot, error)
}

// Hub fans wallet snapshots out to subscribers.
type Hub struct {
	fetcher     Fetcher
	settleDelay time.Duration
	logger      *slog.Logger

	mu     sync.Mutex
	nextID int
	subs   map[int]func(model.WalletSnapshot)
}

// NewHub creates a wallet hub. fetcher may be nil when only push delivery is
// used (FetchAndPublish then returns an error).
func NewHub(fetcher Fetcher, settleDelay time.Duration, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		fetcher:     fetcher,
		settleDelay: settleDelay,
		logger:      logger,
		subs:        make(map[int]func(model.WalletSnapshot)),
	}
}

// Subscribe registers a callback for every snapshot published after this call.
// The returned function deregisters it and is safe to call more than once.
func (h *Hub) Subscribe(fn func(model.WalletSnapshot)) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = fn
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
}

// Publish delivers a snapshot to all current subscribers. A panicking
// subscriber does not prevent delivery to the rest.
func (h *Hub) Publish(snapshot model.WalletSnapshot) {
	h.mu.Lock()
	fns := make([]func(model.WalletSnapshot), 0, len(h.subs))
	for _, fn := range h.subs {
		fns = append(fns, fn)
	}
	h.mu.Unlock()

	for _, fn := range fns {
		h.notify(fn, snapshot)
	}
}

// notify invokes one subscriber, isolating panics.
func (h *Hub) notify(fn func(model.WalletSnapshot), snapshot model.WalletSnapshot) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Warn("wallet subscriber panicked", "panic", r)
		}
	}()
	fn(snapshot)
}

// FetchAndPublish reads the authoritative balance and publishes it, whatever
// the source of truth says. A short settle delay runs first so a balance read
// immediately after a transaction sees the server's committed value.
func (h *Hub) FetchAndPublish(ctx context.Context, userID string, accountType model.Role) error {
	if h.fetcher == nil {
		return ErrNoFetcher
	}

	if h.settleDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(h.settleDelay):
		}
	}

	snapshot, err := h.fetcher.Wallet(ctx, userID, accountType)
	if err != nil {
		return err
	}

	h.Publish(snapshot)
	return nil
}

// SubscriberCount returns the number of active subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
