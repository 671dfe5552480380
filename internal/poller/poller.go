package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chowlane/ordersync/internal/api"
	"github.com/chowlane/ordersync/internal/model"
)

// Fetcher retrieves the full order collection for an identity.
type Fetcher interface {
	Orders(ctx context.Context, userID string, role model.Role) ([]model.Order, error)
}

// Handler receives each successfully fetched order set.
type Handler interface {
	HandleOrders(orders []model.Order)
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func([]model.Order)

func (f HandlerFunc) HandleOrders(orders []model.Order) {
	f(orders)
}

// Config holds poller configuration.
type Config struct {
	Interval time.Duration // Refresh interval (default: 10s)
	Timeout  time.Duration // Per-fetch timeout (default: 5s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: 10 * time.Second,
		Timeout:  5 * time.Second,
	}
}

// Stats is a snapshot of poller counters.
type Stats struct {
	Ticks   int64
	Skipped int64
	Fetches int64
	Errors  int64
	Failing bool // last fetch failed; cleared on next success
}

// Poller periodically re-fetches the order set via REST.
type Poller struct {
	cfg     Config
	fetcher Fetcher
	handler Handler
	logger  *slog.Logger

	// onAuthError fires when a fetch fails with a 401/403. The session is
	// no longer valid at that point and the owner should tear down.
	onAuthError func(error)

	mu       sync.Mutex
	running  bool
	gen      uint64
	identity model.Identity
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	inFlight  atomic.Bool
	suspended atomic.Bool

	statsMu sync.Mutex
	stats   Stats
}

// New creates a new Poller.
func New(cfg Config, fetcher Fetcher, handler Handler, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		cfg:     cfg,
		fetcher: fetcher,
		handler: handler,
		logger:  logger,
	}
}

// OnAuthError registers the session-expiry callback. Must be called before
// Start.
func (p *Poller) OnAuthError(fn func(error)) {
	p.onAuthError = fn
}

// Start begins the polling loop for the given identity. The first fetch
// happens one full interval after Start; the caller is expected to have
// loaded the initial order set already.
func (p *Poller) Start(ctx context.Context, identity model.Identity) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return errors.New("poller: already running")
	}

	p.gen++
	p.identity = identity
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.running = true

	p.wg.Add(1)
	go p.run(p.gen)

	p.logger.Info("order poller started",
		"user_id", identity.UserID,
		"role", identity.Role,
		"interval", p.cfg.Interval,
	)

	return nil
}

// Stop cancels the loop and its timer. In-flight fetch results from before
// Stop are discarded. Safe to call when never started or already stopped.
func (p *Poller) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.gen++
	p.cancel()
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("order poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Suspend makes subsequent ticks skip their fetch, for while a caller-driven
// refresh is in progress. Resume re-enables fetching.
func (p *Poller) Suspend() { p.suspended.Store(true) }

// Resume undoes Suspend.
func (p *Poller) Resume() { p.suspended.Store(false) }

// Stats returns a copy of the current counters.
func (p *Poller) Stats() Stats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.stats
}

func (p *Poller) run(gen uint64) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	ctx := p.ctx

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx, gen)
		}
	}
}

// tick runs one poll cycle, skipping it entirely when a previous fetch has
// not resolved yet or fetching is suspended.
func (p *Poller) tick(ctx context.Context, gen uint64) {
	p.statsMu.Lock()
	p.stats.Ticks++
	p.statsMu.Unlock()

	if p.suspended.Load() || !p.inFlight.CompareAndSwap(false, true) {
		p.statsMu.Lock()
		p.stats.Skipped++
		p.statsMu.Unlock()
		p.logger.Debug("skipping poll tick", "reason", "fetch in flight or suspended")
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.inFlight.Store(false)
		p.fetch(ctx, gen)
	}()
}

func (p *Poller) fetch(ctx context.Context, gen uint64) {
	p.mu.Lock()
	identity := p.identity
	p.mu.Unlock()

	fctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	orders, err := p.fetcher.Orders(fctx, identity.UserID, identity.Role)

	// The identity may have changed or the poller stopped while the request
	// was in flight; a stale result must not reach the handler.
	p.mu.Lock()
	stale := gen != p.gen
	p.mu.Unlock()
	if stale {
		p.logger.Debug("discarding stale poll result", "user_id", identity.UserID)
		return
	}

	if err != nil {
		p.statsMu.Lock()
		p.stats.Errors++
		p.stats.Failing = true
		p.statsMu.Unlock()

		p.logger.Warn("order fetch failed", "user_id", identity.UserID, "err", err)

		var apiErr *api.Error
		if errors.As(err, &apiErr) && apiErr.IsAuth() && p.onAuthError != nil {
			p.onAuthError(err)
		}
		return
	}

	p.statsMu.Lock()
	p.stats.Fetches++
	p.stats.Failing = false
	p.statsMu.Unlock()

	if p.handler != nil {
		p.handler.HandleOrders(orders)
	}
}
