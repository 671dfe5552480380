package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"github.com/chowlane/ordersync/internal/broadcast"
	"github.com/chowlane/ordersync/internal/connection"
	"github.com/chowlane/ordersync/internal/feed"
	"github.com/chowlane/ordersync/internal/model"
	"github.com/chowlane/ordersync/internal/wallet"
)

// Router parses raw pub/sub frames and routes them to typed handlers. It also
// implements connection.Binder: the manager drives subscription setup and
// teardown through it.
type Router struct {
	logger  *slog.Logger
	input   <-chan connection.TimestampedMessage
	hub     *wallet.Hub
	feed    *feed.Feed
	emitter broadcast.Emitter

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Bound identity and live subscriptions
	mu       sync.Mutex
	sender   connection.Sender
	identity model.Identity
	topics   []string

	consumersMu sync.Mutex
	nextID      int
	consumers   map[int]OrderConsumer

	statsMu         sync.Mutex
	received        int64
	routed          int64
	parseErrors     int64
	identityDropped int64
}

// New creates a router over the manager's frame channel.
func New(input <-chan connection.TimestampedMessage, hub *wallet.Hub, fd *feed.Feed, emitter broadcast.Emitter, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if emitter == nil {
		emitter = broadcast.Nop{}
	}
	return &Router{
		logger:    logger,
		input:     input,
		hub:       hub,
		feed:      fd,
		emitter:   emitter,
		consumers: make(map[int]OrderConsumer),
	}
}

// Start begins routing frames.
func (r *Router) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.routeLoop()

	r.logger.Info("subscription router started")
	return nil
}

// Stop shuts the router down.
func (r *Router) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("subscription router stopped")
	case <-ctx.Done():
		r.logger.Warn("subscription router stop timed out")
	}

	return nil
}

// Bind drops any prior subscriptions and subscribes the identity's topics.
func (r *Router) Bind(sender connection.Sender, identity model.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.unbindLocked()

	r.sender = sender
	r.identity = identity

	for _, topic := range topicsFor(identity) {
		if err := r.send(connection.Command{Action: "subscribe", Topic: topic}); err != nil {
			r.logger.Warn("subscribe failed", "topic", topic, "error", err)
			continue
		}
		r.topics = append(r.topics, topic)
	}

	r.logger.Debug("bound subscriptions",
		"user_id", identity.UserID,
		"role", identity.Role,
		"topics", len(r.topics),
	)
	return nil
}

// Unbind drops all subscriptions and the bound identity.
func (r *Router) Unbind() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unbindLocked()
}

func (r *Router) unbindLocked() {
	for _, topic := range r.topics {
		if err := r.send(connection.Command{Action: "unsubscribe", Topic: topic}); err != nil {
			// The connection may already be gone; the server drops the
			// subscription with it.
			r.logger.Debug("unsubscribe failed", "topic", topic, "error", err)
		}
	}
	r.topics = nil
	r.sender = nil
	r.identity = model.Identity{}
}

// Active returns the number of live subscriptions.
func (r *Router) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.topics)
}

// send writes one command frame. Callers hold r.mu.
func (r *Router) send(cmd connection.Command) error {
	if r.sender == nil {
		return connection.ErrNotConnected
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return r.sender.Send(data)
}

// RegisterOrderConsumer adds a consumer for order update events. The returned
// function removes it.
func (r *Router) RegisterOrderConsumer(fn OrderConsumer) func() {
	r.consumersMu.Lock()
	id := r.nextID
	r.nextID++
	r.consumers[id] = fn
	r.consumersMu.Unlock()

	return func() {
		r.consumersMu.Lock()
		delete(r.consumers, id)
		r.consumersMu.Unlock()
	}
}

// Stats returns current statistics.
func (r *Router) Stats() Stats {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	return Stats{
		Received:        r.received,
		Routed:          r.routed,
		ParseErrors:     r.parseErrors,
		IdentityDropped: r.identityDropped,
	}
}

// routeLoop is the main routing goroutine.
func (r *Router) routeLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case raw, ok := <-r.input:
			if !ok {
				r.logger.Info("frame channel closed")
				return
			}
			r.route(raw)
		}
	}
}

// route parses and dispatches a single frame.
func (r *Router) route(raw connection.TimestampedMessage) {
	r.count(&r.received)

	var frame connection.Frame
	if err := json.Unmarshal(raw.Data, &frame); err != nil {
		r.logger.Warn("failed to parse frame", "error", err)
		r.count(&r.parseErrors)
		return
	}

	kind, topicUser, ok := splitTopic(frame.Topic)
	if !ok {
		r.logger.Debug("skipping frame with unknown topic", "topic", frame.Topic)
		return
	}

	r.mu.Lock()
	identity := r.identity
	r.mu.Unlock()

	// A frame for anyone but the bound user is dropped without a log line:
	// it is an expected race during identity switches, not a fault.
	if identity.UserID == "" || topicUser != identity.UserID {
		r.count(&r.identityDropped)
		return
	}

	switch kind {
	case TopicWallet:
		r.routeWallet(frame.Payload, identity)
	case TopicOrder:
		r.routeOrder(frame.Payload, raw, identity)
	case TopicProfile, TopicUsers:
		r.routeNotification(frame.Payload, identity)
	default:
		r.logger.Debug("skipping topic kind", "kind", kind)
	}
}

// routeWallet normalizes a wallet payload and feeds the hub.
func (r *Router) routeWallet(payload json.RawMessage, identity model.Identity) {
	var p wallet.Payload
	if err := json.Unmarshal(payload, &p); err != nil {
		r.logger.Warn("failed to parse wallet payload", "error", err)
		r.count(&r.parseErrors)
		return
	}

	if p.UserID != "" && p.UserID != identity.UserID {
		r.count(&r.identityDropped)
		return
	}
	if p.UserID == "" {
		p.UserID = identity.UserID
	}
	if p.AccountType == "" {
		p.AccountType = identity.Role
	}

	snap, ok := wallet.Normalize(p)
	if !ok {
		r.logger.Warn("wallet payload without balance field", "user_id", p.UserID)
		r.count(&r.parseErrors)
		return
	}

	r.hub.Publish(snap)
	r.count(&r.routed)
}

// routeOrder forwards an order update to consumers and re-broadcasts it.
func (r *Router) routeOrder(payload json.RawMessage, raw connection.TimestampedMessage, identity model.Identity) {
	var p orderPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		r.logger.Warn("failed to parse order payload", "error", err)
		r.count(&r.parseErrors)
		return
	}
	if p.UserID != "" && p.UserID != identity.UserID {
		r.count(&r.identityDropped)
		return
	}

	event := OrderEvent{
		UserID:     identity.UserID,
		Payload:    payload,
		ReceivedAt: raw.ReceivedAt,
	}

	r.consumersMu.Lock()
	consumers := make([]OrderConsumer, 0, len(r.consumers))
	for _, fn := range r.consumers {
		consumers = append(consumers, fn)
	}
	r.consumersMu.Unlock()

	for _, fn := range consumers {
		fn(event)
	}

	// App-wide re-emission so other screens can react without importing the
	// router.
	r.emitter.Emit(broadcast.Event{Topic: TopicOrder, Payload: payload})

	r.count(&r.routed)
}

// routeNotification pushes a profile or shop notification into the feed.
func (r *Router) routeNotification(payload json.RawMessage, identity model.Identity) {
	var p notificationPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		r.logger.Warn("failed to parse notification payload", "error", err)
		r.count(&r.parseErrors)
		return
	}
	if p.UserID != "" && p.UserID != identity.UserID {
		r.count(&r.identityDropped)
		return
	}
	if p.Message == "" {
		return
	}

	r.feed.Push(p.Message)
	r.count(&r.routed)
}

func (r *Router) count(field *int64) {
	r.statsMu.Lock()
	*field++
	r.statsMu.Unlock()
}

// splitTopic extracts kind and user id from "/topic/<kind>/<userId>".
func splitTopic(topic string) (kind, userID string, ok bool) {
	parts := strings.Split(strings.TrimPrefix(topic, "/"), "/")
	if len(parts) != 3 || parts[0] != "topic" || parts[1] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}
