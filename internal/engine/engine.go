package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chowlane/ordersync/internal/api"
	"github.com/chowlane/ordersync/internal/broadcast"
	"github.com/chowlane/ordersync/internal/config"
	"github.com/chowlane/ordersync/internal/connection"
	"github.com/chowlane/ordersync/internal/feed"
	"github.com/chowlane/ordersync/internal/model"
	"github.com/chowlane/ordersync/internal/overlay"
	"github.com/chowlane/ordersync/internal/poller"
	"github.com/chowlane/ordersync/internal/router"
	"github.com/chowlane/ordersync/internal/store"
	"github.com/chowlane/ordersync/internal/wallet"
)

// ErrNotStarted is returned by operations that need a live session.
var ErrNotStarted = errors.New("engine not started")

// ErrUnknownOrder is returned when an order id is not in the current set.
var ErrUnknownOrder = errors.New("unknown order")

// Connector is the slice of the connection manager the engine depends on.
type Connector interface {
	SetBinder(b connection.Binder)
	Connect(ctx context.Context, identity model.Identity)
	Disconnect()
	Messages() <-chan connection.TimestampedMessage
	State() connection.State
	Stats() connection.ManagerStats
}

// Stats aggregates the counters of every component.
type Stats struct {
	Connection connection.ManagerStats
	Router     router.Stats
	Poller     poller.Stats
}

// Option customizes engine construction.
type Option func(*Engine)

// WithLogger sets the logger for the engine and every component it builds.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithEmitter sets the app-wide broadcast emitter. Defaults to broadcast.Nop.
func WithEmitter(emitter broadcast.Emitter) Option {
	return func(e *Engine) { e.emitter = emitter }
}

// WithStore overrides the override store. Defaults to SQLite at the
// configured path. The engine closes whatever store it ends up with.
func WithStore(st store.OverrideStore) Option {
	return func(e *Engine) { e.store = st }
}

// WithConnector overrides the connection manager.
func WithConnector(conn Connector) Option {
	return func(e *Engine) { e.conn = conn }
}

// Engine is the constructed-once realtime sync service.
type Engine struct {
	cfg     *config.Config
	logger  *slog.Logger
	emitter broadcast.Emitter

	api     *api.Client
	store   store.OverrideStore
	hub     *wallet.Hub
	feed    *feed.Feed
	machine *overlay.Machine
	conn    Connector
	router  *router.Router
	poller  *poller.Poller

	// lifecycle serializes Start, Stop, and Close end to end so two
	// callers can never interleave session setup and teardown.
	lifecycle sync.Mutex

	mu       sync.Mutex
	running  bool
	closed   bool
	gen      uint64
	identity model.Identity
	orders   map[string]model.Order
	ctx      context.Context
	cancel   context.CancelFunc

	refreshing atomic.Bool

	expiredMu sync.Mutex
	onExpired func(error)
}

// New builds an engine from configuration. The config should already have
// defaults applied and be validated.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("engine: nil config")
	}

	e := &Engine{
		cfg:     cfg,
		logger:  slog.Default(),
		emitter: broadcast.Nop{},
		orders:  make(map[string]model.Order),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.api = api.NewClient(cfg.Server.RESTURL, cfg.Server.Token,
		api.WithTimeout(cfg.Poller.Timeout),
		api.WithLogger(e.logger),
	)

	if e.store == nil {
		st, err := store.OpenSQLite(cfg.Store.Path, e.logger)
		if err != nil {
			return nil, err
		}
		e.store = st
	}

	e.hub = wallet.NewHub(e.api, cfg.Wallet.SettleDelay, e.logger)
	e.feed = feed.New(cfg.Feed.MaxItems)
	e.machine = overlay.NewMachine(e.store, e.api, e.logger)

	if e.conn == nil {
		e.conn = connection.NewManager(connection.ManagerConfig{
			WSURL:             cfg.Server.WSURL,
			Token:             cfg.Server.Token,
			ReconnectBaseWait: cfg.Connection.ReconnectBaseDelay,
			ReconnectMaxWait:  cfg.Connection.ReconnectMaxDelay,
			MaxReconnects:     cfg.Connection.MaxReconnects,
			HeartbeatInterval: cfg.Connection.HeartbeatInterval,
			PingTimeout:       cfg.Connection.PingTimeout,
			WriteTimeout:      cfg.Connection.WriteTimeout,
		}, nil, e.logger)
	}

	e.router = router.New(e.conn.Messages(), e.hub, e.feed, e.emitter, e.logger)
	e.conn.SetBinder(e.router)

	e.poller = poller.New(poller.Config{
		Interval: cfg.Poller.Interval,
		Timeout:  cfg.Poller.Timeout,
	}, e.api, poller.HandlerFunc(e.handleOrders), e.logger)
	e.poller.OnAuthError(e.sessionExpired)

	// A pushed order update means the cached set is stale; refresh it out
	// of band instead of waiting for the next poll tick.
	e.router.RegisterOrderConsumer(func(router.OrderEvent) {
		go e.refreshOrders()
	})

	return e, nil
}

// Start loads persisted overrides, performs the initial order and wallet
// fetch, then brings up the router, the connection, and the poller. Starting
// an already-running engine with the same identity is a no-op; a different
// identity tears the old session down first.
func (e *Engine) Start(ctx context.Context, identity model.Identity) error {
	if identity.UserID == "" || !identity.Role.Valid() {
		return errors.New("engine: invalid identity")
	}

	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return errors.New("engine: closed")
	}
	if e.running {
		same := e.identity.UserID == identity.UserID && e.identity.Role == identity.Role
		e.mu.Unlock()
		if same {
			return nil
		}
		if err := e.stopSession(); err != nil {
			return err
		}
		e.mu.Lock()
	}

	e.gen++
	gen := e.gen
	e.identity = identity
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.running = true
	runCtx := e.ctx
	e.mu.Unlock()

	if err := e.machine.Load(runCtx); err != nil {
		e.logger.Warn("failed to load persisted overrides", "err", err)
	}

	if err := e.initialLoad(runCtx, gen, identity); err != nil {
		// Nothing is running yet, so unwind here rather than through the
		// async expiry path.
		e.mu.Lock()
		e.running = false
		e.gen++
		e.identity = model.Identity{}
		e.mu.Unlock()
		e.cancel()
		e.notifyExpired(err)
		return err
	}

	if err := e.router.Start(runCtx); err != nil {
		return err
	}
	e.conn.Connect(runCtx, identity)

	if err := e.poller.Start(runCtx, identity); err != nil {
		return err
	}

	e.logger.Info("engine started", "user_id", identity.UserID, "role", identity.Role)
	return nil
}

// initialLoad fetches the first order set and wallet snapshot. Transient
// failures are logged and left for the poller to repair; only an invalid
// credential aborts startup.
func (e *Engine) initialLoad(ctx context.Context, gen uint64, identity model.Identity) error {
	orders, err := e.api.Orders(ctx, identity.UserID, identity.Role)
	if err != nil {
		e.logger.Warn("initial order fetch failed", "err", err)
		var apiErr *api.Error
		if errors.As(err, &apiErr) && apiErr.IsAuth() {
			return err
		}
	} else {
		e.applyOrders(ctx, gen, orders)
	}

	snap, err := e.api.Wallet(ctx, identity.UserID, identity.Role)
	if err != nil {
		e.logger.Warn("initial wallet fetch failed", "err", err)
	} else {
		e.hub.Publish(snap)
	}
	return nil
}

// Stop tears the session down: poller first, then the connection, then the
// router. Safe to call repeatedly or before Start. The store stays open so
// the engine can be started again.
func (e *Engine) Stop() error {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()
	return e.stopSession()
}

// stopSession does the teardown. Caller holds e.lifecycle.
func (e *Engine) stopSession() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	e.gen++
	e.identity = model.Identity{}
	e.orders = make(map[string]model.Order)
	cancel := e.cancel
	e.mu.Unlock()

	ctx, cancelWait := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelWait()

	err := e.poller.Stop(ctx)
	e.conn.Disconnect()
	if rerr := e.router.Stop(ctx); err == nil {
		err = rerr
	}
	cancel()

	e.logger.Info("engine stopped")
	return err
}

// Close stops the engine and releases the override store.
func (e *Engine) Close() error {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()
	err := e.stopSession()
	e.mu.Lock()
	closed := e.closed
	e.closed = true
	e.mu.Unlock()
	if closed {
		return err
	}
	if cerr := e.store.Close(); err == nil {
		err = cerr
	}
	return err
}

// handleOrders receives each order set fetched by the poller.
func (e *Engine) handleOrders(orders []model.Order) {
	e.mu.Lock()
	gen := e.gen
	ctx := e.ctx
	running := e.running
	e.mu.Unlock()
	if !running {
		return
	}
	e.applyOrders(ctx, gen, orders)
}

// applyOrders replaces the cached order set and reconciles overrides against
// it, unless the session has moved on since the fetch began.
func (e *Engine) applyOrders(ctx context.Context, gen uint64, orders []model.Order) {
	e.mu.Lock()
	if gen != e.gen {
		e.mu.Unlock()
		return
	}
	e.orders = make(map[string]model.Order, len(orders))
	for _, o := range orders {
		e.orders[o.ID] = o
	}
	e.mu.Unlock()

	e.machine.Reconcile(ctx, orders)
}

// refreshOrders performs an out-of-band order fetch, deduplicating against
// both itself and the poller.
func (e *Engine) refreshOrders() {
	if !e.refreshing.CompareAndSwap(false, true) {
		return
	}
	defer e.refreshing.Store(false)

	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	gen := e.gen
	ctx := e.ctx
	identity := e.identity
	e.mu.Unlock()

	e.poller.Suspend()
	defer e.poller.Resume()

	fctx, cancel := context.WithTimeout(ctx, e.cfg.Poller.Timeout)
	defer cancel()

	orders, err := e.api.Orders(fctx, identity.UserID, identity.Role)
	if err != nil {
		e.logger.Warn("order refresh failed", "err", err)
		return
	}
	e.applyOrders(ctx, gen, orders)
}

// Orders returns a copy of the most recently fetched order set.
func (e *Engine) Orders() []model.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.Order, 0, len(e.orders))
	for _, o := range e.orders {
		out = append(out, o)
	}
	return out
}

// DisplayStatus returns the status the rendering layer should show for an
// order: the authoritative status combined with any local override.
func (e *Engine) DisplayStatus(orderID string) (model.Status, bool) {
	e.mu.Lock()
	order, ok := e.orders[orderID]
	e.mu.Unlock()
	if !ok {
		return "", false
	}
	return e.machine.Effective(order), true
}

// Actions returns the transitions currently offered for an order.
func (e *Engine) Actions(orderID string) ([]overlay.Action, error) {
	e.mu.Lock()
	order, ok := e.orders[orderID]
	e.mu.Unlock()
	if !ok {
		return nil, ErrUnknownOrder
	}
	return e.machine.Actions(order), nil
}

// RequestTransition applies a user-initiated transition to an order and
// schedules a refresh so the authoritative status catches up.
func (e *Engine) RequestTransition(ctx context.Context, orderID string, action overlay.Action) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return ErrNotStarted
	}
	order, ok := e.orders[orderID]
	e.mu.Unlock()
	if !ok {
		return ErrUnknownOrder
	}

	err := e.machine.RequestTransition(ctx, order, action)
	go e.refreshOrders()
	return err
}

// CancelOverride drops the local override for an order.
func (e *Engine) CancelOverride(ctx context.Context, orderID string) error {
	return e.machine.CancelOverride(ctx, orderID)
}

// SubscribeWallet registers a wallet snapshot callback and returns its
// deregistration function.
func (e *Engine) SubscribeWallet(fn func(model.WalletSnapshot)) func() {
	return e.hub.Subscribe(fn)
}

// RefreshWallet fetches the balance after the configured settle delay and
// publishes it to all subscribers.
func (e *Engine) RefreshWallet(ctx context.Context) error {
	e.mu.Lock()
	running := e.running
	identity := e.identity
	e.mu.Unlock()
	if !running {
		return ErrNotStarted
	}
	return e.hub.FetchAndPublish(ctx, identity.UserID, identity.Role)
}

// Feed returns the notification feed.
func (e *Engine) Feed() *feed.Feed {
	return e.feed
}

// ConnectionState reports the manager's current state.
func (e *Engine) ConnectionState() connection.State {
	return e.conn.State()
}

// Stats returns a point-in-time view across components.
func (e *Engine) Stats() Stats {
	return Stats{
		Connection: e.conn.Stats(),
		Router:     e.router.Stats(),
		Poller:     e.poller.Stats(),
	}
}

// OnSessionExpired registers the callback fired when the backend reports the
// credential invalid. The engine stops itself before invoking it.
func (e *Engine) OnSessionExpired(fn func(error)) {
	e.expiredMu.Lock()
	e.onExpired = fn
	e.expiredMu.Unlock()
}

// sessionExpired handles a 401/403 reported while running. Runs the teardown
// on a fresh goroutine because the reporting component is itself waited on
// during shutdown.
func (e *Engine) sessionExpired(err error) {
	e.logger.Warn("session expired, shutting down", "err", err)
	go func() {
		if serr := e.Stop(); serr != nil {
			e.logger.Warn("shutdown after session expiry failed", "err", serr)
		}
		e.notifyExpired(err)
	}()
}

func (e *Engine) notifyExpired(err error) {
	e.expiredMu.Lock()
	fn := e.onExpired
	e.expiredMu.Unlock()
	if fn != nil {
		fn(err)
	}
}
