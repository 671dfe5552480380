package connection

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/chowlane/ordersync/internal/model"
)

// Sender writes raw frames to the current connection.
type Sender interface {
	Send(data []byte) error
}

// Binder (re)establishes topic subscriptions for an identity. The manager
// calls Bind after every successful connect or reconnect and Unbind on
// teardown.
type Binder interface {
	Bind(sender Sender, identity model.Identity) error
	Unbind()
	Active() int
}

// Manager owns the single logical pub/sub connection. Nothing else mutates
// the connection or its subscription handles.
type Manager struct {
	cfg       ManagerConfig
	binder    Binder
	logger    *slog.Logger
	newClient func(ClientConfig, *slog.Logger) Client

	out chan TimestampedMessage

	mu       sync.Mutex
	state    State
	identity model.Identity
	retries  int
	gen      int
	client   Client
	done     chan struct{}
}

// nopBinder stands in until a real binder is installed.
type nopBinder struct{}

func (nopBinder) Bind(Sender, model.Identity) error { return nil }
func (nopBinder) Unbind()                           {}
func (nopBinder) Active() int                       { return 0 }

// NewManager creates a connection manager. A nil binder may be replaced via
// SetBinder before the first Connect.
func NewManager(cfg ManagerConfig, binder Binder, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if binder == nil {
		binder = nopBinder{}
	}
	return &Manager{
		cfg:       cfg,
		binder:    binder,
		logger:    logger,
		newClient: NewClient,
		out:       make(chan TimestampedMessage, cfg.MessageBufferSize),
		state:     StateDisconnected,
	}
}

// SetBinder installs the subscription binder. Must be called before Connect;
// the binder and the manager are built in sequence, so neither constructor
// can take the other.
func (m *Manager) SetBinder(b Binder) {
	m.mu.Lock()
	m.binder = b
	m.mu.Unlock()
}

// Messages returns the channel of inbound frames for the router.
func (m *Manager) Messages() <-chan TimestampedMessage {
	return m.out
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Stats returns a point-in-time view.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	state, retries := m.state, m.retries
	m.mu.Unlock()
	return ManagerStats{
		State:         state,
		Retries:       retries,
		Subscriptions: m.binder.Active(),
	}
}

// Connect opens the connection for the given identity. It is a no-op while a
// connection or attempt for the same identity is live; a different identity
// tears the old session down first. A missing credential is logged and
// tolerated. Transport failures are not returned: they feed the reconnect
// policy, and after the retry budget the polling fallback is the delivery
// path.
func (m *Manager) Connect(ctx context.Context, identity model.Identity) {
	m.mu.Lock()
	if m.state != StateDisconnected {
		if m.identity.UserID == identity.UserID && m.identity.Role == identity.Role {
			m.mu.Unlock()
			m.logger.Debug("connect ignored, session already live", "user_id", identity.UserID)
			return
		}
		m.teardownLocked()
	}

	if identity.Token == "" {
		m.logger.Info("no credential available, proceeding with limited session",
			"user_id", identity.UserID,
		)
	}

	m.identity = identity
	m.state = StateConnecting
	m.retries = 0
	m.gen++
	gen := m.gen
	m.done = make(chan struct{})
	m.mu.Unlock()

	cli := m.dial()
	if err := cli.Connect(ctx); err != nil {
		m.logger.Warn("initial connect failed", "user_id", identity.UserID, "error", err)
		cli.Close()
		m.mu.Lock()
		if m.gen == gen {
			m.state = StateReconnecting
		}
		m.mu.Unlock()
		go m.reconnectLoop(gen)
		return
	}

	m.adopt(gen, cli)
}

// Disconnect tears everything down: subscriptions, the underlying connection,
// retry counters, and the bound identity. Safe to call when never connected,
// and safe to call twice.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.teardownLocked()
	m.mu.Unlock()
}

// teardownLocked invalidates the current session. Callers hold m.mu.
func (m *Manager) teardownLocked() {
	m.gen++
	if m.done != nil {
		close(m.done)
		m.done = nil
	}
	if m.client != nil {
		m.client.Close()
		m.client = nil
	}
	m.binder.Unbind()
	m.state = StateDisconnected
	m.identity = model.Identity{}
	m.retries = 0
}

// dial builds a client for the current config.
func (m *Manager) dial() Client {
	return m.newClient(ClientConfig{
		URL:               m.cfg.WSURL,
		Token:             m.cfg.Token,
		HeartbeatInterval: m.cfg.HeartbeatInterval,
		PingTimeout:       m.cfg.PingTimeout,
		WriteTimeout:      m.cfg.WriteTimeout,
		BufferSize:        m.cfg.MessageBufferSize,
	}, m.logger)
}

// adopt installs a freshly connected client, resets the retry budget, rebinds
// subscriptions, and starts forwarding its frames.
func (m *Manager) adopt(gen int, cli Client) {
	m.mu.Lock()
	if m.gen != gen {
		// Session was torn down while we were connecting.
		m.mu.Unlock()
		cli.Close()
		return
	}
	m.client = cli
	m.state = StateConnected
	m.retries = 0
	identity := m.identity
	done := m.done
	m.mu.Unlock()

	if err := m.binder.Bind(cli, identity); err != nil {
		m.logger.Warn("subscription bind failed", "user_id", identity.UserID, "error", err)
	}

	m.logger.Info("connected", "user_id", identity.UserID, "role", identity.Role)

	go m.supervise(gen, cli, done)
}

// supervise forwards frames from one client until it fails, the session is
// replaced, or the session's done channel closes. Exactly one supervise
// goroutine is live per adopted client, which keeps reconnect attempts
// strictly sequential.
func (m *Manager) supervise(gen int, cli Client, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return

		case msg, ok := <-cli.Messages():
			if !ok {
				return
			}
			if !m.isCurrent(gen) {
				return
			}
			select {
			case m.out <- msg:
			default:
				m.logger.Warn("message buffer full, dropping frame")
			}

		case err := <-cli.Errors():
			if !m.isCurrent(gen) {
				return
			}
			m.logger.Warn("connection lost", "error", err)
			cli.Close()
			m.mu.Lock()
			if m.gen == gen {
				m.state = StateReconnecting
				m.client = nil
			}
			m.mu.Unlock()
			m.reconnectLoop(gen)
			return
		}
	}
}

// reconnectLoop runs the backoff sequence: attempt k waits
// min(base * 2^(k-1), cap), then dials. A new attempt is only scheduled once
// the previous one's outcome is known. After MaxReconnects failures the
// manager stays disconnected.
func (m *Manager) reconnectLoop(gen int) {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done == nil || !m.isCurrent(gen) {
		return
	}

	for attempt := 1; attempt <= m.cfg.MaxReconnects; attempt++ {
		wait := BackoffDelay(m.cfg.ReconnectBaseWait, m.cfg.ReconnectMaxWait, attempt)
		m.logger.Info("scheduling reconnect", "attempt", attempt, "wait", wait)

		select {
		case <-done:
			return
		case <-time.After(wait):
		}

		if !m.isCurrent(gen) {
			return
		}

		m.mu.Lock()
		m.retries = attempt
		m.mu.Unlock()

		cli := m.dial()
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			select {
			case <-done:
				cancel()
			case <-ctx.Done():
			}
		}()
		err := cli.Connect(ctx)
		cancel()

		if err == nil {
			m.adopt(gen, cli)
			return
		}

		// Auth rejections are permanent for this attempt; they still burn a
		// slot in the backoff sequence rather than retrying immediately.
		m.logger.Warn("reconnect failed", "attempt", attempt, "error", err)
		cli.Close()
	}

	m.mu.Lock()
	if m.gen == gen {
		m.state = StateDisconnected
	}
	m.mu.Unlock()
	m.logger.Error("reconnect budget exhausted, relying on polling",
		"attempts", m.cfg.MaxReconnects,
	)
}

// isCurrent reports whether gen is still the live session.
func (m *Manager) isCurrent(gen int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen == gen
}
