package connection

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/chowlane/ordersync/internal/model"
)

// fakeClient is a scriptable Client for manager tests.
type fakeClient struct {
	connectErr error

	mu        sync.Mutex
	connected bool
	closed    bool

	messages chan TimestampedMessage
	errs     chan error
}

func newFakeClient(connectErr error) *fakeClient {
	return &fakeClient{
		connectErr: connectErr,
		messages:   make(chan TimestampedMessage, 16),
		errs:       make(chan error, 1),
	}
}

func (f *fakeClient) Connect(ctx context.Context) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) Close() error {
	f.mu.Lock()
	f.connected = false
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) Send(data []byte) error { return nil }

func (f *fakeClient) Messages() <-chan TimestampedMessage { return f.messages }
func (f *fakeClient) Errors() <-chan error                { return f.errs }

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// fakeBinder records bind/unbind calls.
type fakeBinder struct {
	mu      sync.Mutex
	binds   []model.Identity
	unbinds int
	active  int
}

func (b *fakeBinder) Bind(sender Sender, identity model.Identity) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.binds = append(b.binds, identity)
	b.active = 3
	return nil
}

func (b *fakeBinder) Unbind() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unbinds++
	b.active = 0
}

func (b *fakeBinder) Active() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

func (b *fakeBinder) bindCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.binds)
}

func (b *fakeBinder) lastBind() model.Identity {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.binds) == 0 {
		return model.Identity{}
	}
	return b.binds[len(b.binds)-1]
}

// clientScript hands out fake clients in order; dial k gets script[k] as its
// connect error (nil connects). Extra dials connect successfully.
type clientScript struct {
	mu      sync.Mutex
	errs    []error
	clients []*fakeClient
}

func (s *clientScript) factory(cfg ClientConfig, logger *slog.Logger) Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if len(s.clients) < len(s.errs) {
		err = s.errs[len(s.clients)]
	}
	cli := newFakeClient(err)
	s.clients = append(s.clients, cli)
	return cli
}

func (s *clientScript) dials() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *clientScript) client(i int) *fakeClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clients[i]
}

func testManager(binder *fakeBinder, script *clientScript) *Manager {
	cfg := DefaultManagerConfig()
	cfg.ReconnectBaseWait = time.Millisecond
	cfg.ReconnectMaxWait = 4 * time.Millisecond

	m := NewManager(cfg, binder, nil)
	m.newClient = script.factory
	return m
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestBackoffDelay(t *testing.T) {
	base := time.Second
	max := 30 * time.Second

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second, // 32s capped
		30 * time.Second,
	}

	for i, w := range want {
		if got := BackoffDelay(base, max, i+1); got != w {
			t.Errorf("BackoffDelay(attempt=%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestManager_ConnectBinds(t *testing.T) {
	binder := &fakeBinder{}
	script := &clientScript{}
	m := testManager(binder, script)
	defer m.Disconnect()

	identity := model.Identity{UserID: "S1", Role: model.RoleShop, Token: "tok"}
	m.Connect(context.Background(), identity)

	if m.State() != StateConnected {
		t.Errorf("State = %q, want connected", m.State())
	}
	if binder.bindCount() != 1 {
		t.Fatalf("bind count = %d, want 1", binder.bindCount())
	}
	if got := binder.lastBind(); got.UserID != "S1" || got.Role != model.RoleShop {
		t.Errorf("bound identity = %+v", got)
	}
}

func TestManager_ConnectIdempotentSameIdentity(t *testing.T) {
	binder := &fakeBinder{}
	script := &clientScript{}
	m := testManager(binder, script)
	defer m.Disconnect()

	identity := model.Identity{UserID: "S1", Role: model.RoleShop}
	m.Connect(context.Background(), identity)
	m.Connect(context.Background(), identity)
	m.Connect(context.Background(), identity)

	if script.dials() != 1 {
		t.Errorf("dials = %d, want 1 (no duplicate connections)", script.dials())
	}
	if binder.bindCount() != 1 {
		t.Errorf("bind count = %d, want 1 (no duplicate subscriptions)", binder.bindCount())
	}
}

func TestManager_ConnectWithoutCredential(t *testing.T) {
	binder := &fakeBinder{}
	script := &clientScript{}
	m := testManager(binder, script)
	defer m.Disconnect()

	// No token: logged, not fatal.
	m.Connect(context.Background(), model.Identity{UserID: "C1", Role: model.RoleCustomer})

	if m.State() != StateConnected {
		t.Errorf("State = %q, want connected", m.State())
	}
}

func TestManager_IdentitySwitch(t *testing.T) {
	binder := &fakeBinder{}
	script := &clientScript{}
	m := testManager(binder, script)
	defer m.Disconnect()

	m.Connect(context.Background(), model.Identity{UserID: "A", Role: model.RoleShop})
	m.Connect(context.Background(), model.Identity{UserID: "B", Role: model.RoleDasher})

	if script.dials() != 2 {
		t.Errorf("dials = %d, want 2", script.dials())
	}
	if !script.client(0).closed {
		t.Error("first session's client not closed on identity switch")
	}
	if got := binder.lastBind(); got.UserID != "B" {
		t.Errorf("bound identity = %q, want B", got.UserID)
	}
	if binder.unbinds == 0 {
		t.Error("old subscriptions not unbound on identity switch")
	}
}

func TestManager_DisconnectIdempotent(t *testing.T) {
	binder := &fakeBinder{}
	script := &clientScript{}
	m := testManager(binder, script)

	m.Connect(context.Background(), model.Identity{UserID: "S1", Role: model.RoleShop})
	m.Disconnect()
	m.Disconnect()

	if m.State() != StateDisconnected {
		t.Errorf("State = %q, want disconnected", m.State())
	}
	if binder.Active() != 0 {
		t.Errorf("active subscriptions = %d, want 0", binder.Active())
	}
	if !script.client(0).closed {
		t.Error("client not closed")
	}
}

func TestManager_DisconnectNeverConnected(t *testing.T) {
	m := testManager(&fakeBinder{}, &clientScript{})
	m.Disconnect() // must not panic or error
	if m.State() != StateDisconnected {
		t.Errorf("State = %q, want disconnected", m.State())
	}
}

func TestManager_ReconnectsAfterAbnormalClose(t *testing.T) {
	binder := &fakeBinder{}
	script := &clientScript{}
	m := testManager(binder, script)
	defer m.Disconnect()

	m.Connect(context.Background(), model.Identity{UserID: "S1", Role: model.RoleShop})

	// Abnormal close: push an error into the live client.
	script.client(0).errs <- errors.New("socket dropped")

	waitFor(t, "rebind after reconnect", func() bool { return binder.bindCount() == 2 })
	waitFor(t, "connected state", func() bool { return m.State() == StateConnected })

	// Success resets the retry counter.
	if stats := m.Stats(); stats.Retries != 0 {
		t.Errorf("Retries = %d, want 0 after successful reconnect", stats.Retries)
	}
}

func TestManager_GivesUpAfterMaxReconnects(t *testing.T) {
	binder := &fakeBinder{}
	// First dial succeeds; every reconnect dial fails.
	script := &clientScript{errs: []error{
		nil,
		errors.New("refused"), errors.New("refused"), errors.New("refused"),
		errors.New("refused"), errors.New("refused"), errors.New("refused"),
	}}
	m := testManager(binder, script)
	defer m.Disconnect()

	m.Connect(context.Background(), model.Identity{UserID: "S1", Role: model.RoleShop})
	script.client(0).errs <- errors.New("socket dropped")

	waitFor(t, "manager to give up", func() bool { return m.State() == StateDisconnected })

	// Initial dial + exactly MaxReconnects attempts, not more.
	if got := script.dials(); got != 1+m.cfg.MaxReconnects {
		t.Errorf("dials = %d, want %d", got, 1+m.cfg.MaxReconnects)
	}
}

func TestManager_ForwardsMessages(t *testing.T) {
	binder := &fakeBinder{}
	script := &clientScript{}
	m := testManager(binder, script)
	defer m.Disconnect()

	m.Connect(context.Background(), model.Identity{UserID: "S1", Role: model.RoleShop})

	script.client(0).messages <- TimestampedMessage{
		Data:       []byte(`{"topic":"order/S1","payload":{}}`),
		ReceivedAt: time.Now(),
	}

	select {
	case msg := <-m.Messages():
		if len(msg.Data) == 0 {
			t.Error("empty frame forwarded")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("frame not forwarded")
	}
}

func TestManager_NoGoroutineLeakAcrossSessions(t *testing.T) {
	binder := &fakeBinder{}
	script := &clientScript{}
	m := testManager(binder, script)

	before := runtime.NumGoroutine()
	for i := 0; i < 50; i++ {
		m.Connect(context.Background(), model.Identity{UserID: "S1", Role: model.RoleShop})
		m.Disconnect()
	}

	// Each session's supervise goroutine must exit once its done channel
	// closes; allow a small margin for unrelated runtime goroutines.
	waitFor(t, "supervise goroutines to drain", func() bool {
		return runtime.NumGoroutine() <= before+2
	})
}

func TestManager_StopsReconnectingOnDisconnect(t *testing.T) {
	binder := &fakeBinder{}
	script := &clientScript{errs: []error{
		nil,
		errors.New("refused"), errors.New("refused"),
	}}
	m := testManager(binder, script)

	m.Connect(context.Background(), model.Identity{UserID: "S1", Role: model.RoleShop})
	script.client(0).errs <- errors.New("socket dropped")
	waitFor(t, "reconnecting", func() bool { return m.State() != StateConnected })

	m.Disconnect()
	dials := script.dials()
	time.Sleep(20 * time.Millisecond)

	if script.dials() != dials {
		t.Error("reconnect attempts continued after Disconnect")
	}
}
