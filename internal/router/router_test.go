package router

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chowlane/ordersync/internal/broadcast"
	"github.com/chowlane/ordersync/internal/connection"
	"github.com/chowlane/ordersync/internal/feed"
	"github.com/chowlane/ordersync/internal/model"
	"github.com/chowlane/ordersync/internal/wallet"
)

// recordingSender captures frames sent on the connection.
type recordingSender struct {
	mu   sync.Mutex
	sent []connection.Command
}

func (s *recordingSender) Send(data []byte) error {
	var cmd connection.Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return err
	}
	s.mu.Lock()
	s.sent = append(s.sent, cmd)
	s.mu.Unlock()
	return nil
}

func (s *recordingSender) commands(action string) []connection.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []connection.Command
	for _, c := range s.sent {
		if c.Action == action {
			out = append(out, c)
		}
	}
	return out
}

type routerFixture struct {
	router  *Router
	input   chan connection.TimestampedMessage
	hub     *wallet.Hub
	feed    *feed.Feed
	emitter *broadcast.ChannelEmitter
	sender  *recordingSender
}

func newFixture(t *testing.T) *routerFixture {
	t.Helper()

	input := make(chan connection.TimestampedMessage, 16)
	hub := wallet.NewHub(nil, 0, nil)
	fd := feed.New(10)
	emitter := broadcast.NewChannelEmitter(16)
	r := New(input, hub, fd, emitter, nil)

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		r.Stop(ctx)
	})

	return &routerFixture{
		router:  r,
		input:   input,
		hub:     hub,
		feed:    fd,
		emitter: emitter,
		sender:  &recordingSender{},
	}
}

func (f *routerFixture) bind(t *testing.T, userID string, role model.Role) {
	t.Helper()
	if err := f.router.Bind(f.sender, model.Identity{UserID: userID, Role: role}); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
}

func (f *routerFixture) push(t *testing.T, topic string, payload any) {
	t.Helper()
	data, err := json.Marshal(map[string]any{"topic": topic, "payload": payload})
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	f.input <- connection.TimestampedMessage{Data: data, ReceivedAt: time.Now()}
}

func waitStats(t *testing.T, r *Router, cond func(Stats) bool) Stats {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s := r.Stats(); cond(s) {
			return s
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("stats condition not met: %+v", r.Stats())
	return Stats{}
}

func TestBind_SubscribesPerRole(t *testing.T) {
	f := newFixture(t)

	f.bind(t, "D1", model.RoleDasher)
	if got := f.router.Active(); got != 3 {
		t.Errorf("dasher subscriptions = %d, want 3", got)
	}

	f2 := newFixture(t)
	f2.bind(t, "S1", model.RoleShop)
	if got := f2.router.Active(); got != 4 {
		t.Errorf("shop subscriptions = %d, want 4 (incl. shop notification topic)", got)
	}

	subs := f2.sender.commands("subscribe")
	var hasUsers bool
	for _, c := range subs {
		if c.Topic == "/topic/users/S1" {
			hasUsers = true
		}
	}
	if !hasUsers {
		t.Error("shop bind missing /topic/users/S1 subscription")
	}
}

func TestBind_RebindDropsPriorSubscriptions(t *testing.T) {
	f := newFixture(t)

	f.bind(t, "A", model.RoleShop)
	f.bind(t, "B", model.RoleDasher)

	unsubs := f.sender.commands("unsubscribe")
	if len(unsubs) != 4 {
		t.Errorf("unsubscribes on rebind = %d, want 4", len(unsubs))
	}
	if got := f.router.Active(); got != 3 {
		t.Errorf("active after rebind = %d, want 3", got)
	}
}

func TestUnbind_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.bind(t, "A", model.RoleCustomer)

	f.router.Unbind()
	f.router.Unbind()

	if got := f.router.Active(); got != 0 {
		t.Errorf("active after unbind = %d, want 0", got)
	}
}

func TestRoute_WalletPushReachesSubscriber(t *testing.T) {
	f := newFixture(t)
	f.bind(t, "A", model.RoleDasher)

	var mu sync.Mutex
	var got []model.WalletSnapshot
	f.hub.Subscribe(func(s model.WalletSnapshot) {
		mu.Lock()
		got = append(got, s)
		mu.Unlock()
	})

	f.push(t, "/topic/wallet/A", map[string]any{"userId": "A", "newBalance": 150.00})

	waitStats(t, f.router, func(s Stats) bool { return s.Routed == 1 })

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("subscriber received %d snapshots, want 1", len(got))
	}
	snap := got[0]
	if snap.Balance != 150.00 || snap.UserID != "A" || snap.AccountType != model.RoleDasher {
		t.Errorf("snapshot = %+v, want {A dasher 150}", snap)
	}
}

func TestRoute_IdentityIsolation(t *testing.T) {
	f := newFixture(t)
	f.bind(t, "A", model.RoleDasher)

	var published atomic.Bool
	f.hub.Subscribe(func(model.WalletSnapshot) { published.Store(true) })

	// Topic-level mismatch.
	f.push(t, "/topic/wallet/B", map[string]any{"userId": "B", "newBalance": 10.0})
	// Payload-level mismatch on the bound topic.
	f.push(t, "/topic/wallet/A", map[string]any{"userId": "B", "newBalance": 10.0})

	waitStats(t, f.router, func(s Stats) bool { return s.IdentityDropped == 2 })

	if published.Load() {
		t.Error("snapshot for another identity reached a subscriber")
	}
	if f.feed.Unread() != 0 {
		t.Error("notification for another identity reached the feed")
	}
}

func TestRoute_ParseFailureDropsFrame(t *testing.T) {
	f := newFixture(t)
	f.bind(t, "A", model.RoleShop)

	f.input <- connection.TimestampedMessage{Data: []byte("{not json"), ReceivedAt: time.Now()}
	f.push(t, "/topic/wallet/A", map[string]any{"userId": "A"}) // no balance field

	waitStats(t, f.router, func(s Stats) bool { return s.ParseErrors == 2 })

	// The router keeps running after parse failures.
	f.push(t, "/topic/wallet/A", map[string]any{"wallet": 5.0})
	waitStats(t, f.router, func(s Stats) bool { return s.Routed == 1 })
}

func TestRoute_OrderEventForwardedAndBroadcast(t *testing.T) {
	f := newFixture(t)
	f.bind(t, "S1", model.RoleShop)

	var mu sync.Mutex
	var events []OrderEvent
	remove := f.router.RegisterOrderConsumer(func(e OrderEvent) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})
	defer remove()

	f.push(t, "/topic/order/S1", map[string]any{"userId": "S1", "orderId": "O1"})

	waitStats(t, f.router, func(s Stats) bool { return s.Routed == 1 })

	mu.Lock()
	if len(events) != 1 || events[0].UserID != "S1" {
		t.Errorf("consumer events = %+v", events)
	}
	mu.Unlock()

	select {
	case ev := <-f.emitter.Events():
		if ev.Topic != TopicOrder {
			t.Errorf("broadcast topic = %q", ev.Topic)
		}
	default:
		t.Error("order update not re-broadcast")
	}
}

func TestRoute_NotificationGoesToFeed(t *testing.T) {
	f := newFixture(t)
	f.bind(t, "S1", model.RoleShop)

	f.push(t, "/topic/users/S1", map[string]any{"userId": "S1", "message": "Order O7 was cancelled"})

	waitStats(t, f.router, func(s Stats) bool { return s.Routed == 1 })

	items := f.feed.Items()
	if len(items) != 1 {
		t.Fatalf("feed has %d items, want 1", len(items))
	}
	if items[0].Kind != feed.KindError {
		t.Errorf("kind = %q, want error (cancelled keyword)", items[0].Kind)
	}
	if f.feed.Unread() != 1 {
		t.Errorf("unread = %d, want 1", f.feed.Unread())
	}
}

func TestSplitTopic(t *testing.T) {
	tests := []struct {
		topic  string
		kind   string
		userID string
		ok     bool
	}{
		{"/topic/wallet/u1", "wallet", "u1", true},
		{"/topic/users/s9", "users", "s9", true},
		{"/topic/wallet", "", "", false},
		{"/other/wallet/u1", "", "", false},
		{"", "", "", false},
	}

	for _, tt := range tests {
		kind, userID, ok := splitTopic(tt.topic)
		if kind != tt.kind || userID != tt.userID || ok != tt.ok {
			t.Errorf("splitTopic(%q) = %q,%q,%v", tt.topic, kind, userID, ok)
		}
	}
}
