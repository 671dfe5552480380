package router

import (
	"encoding/json"
	"time"

	"github.com/chowlane/ordersync/internal/model"
)

// Topic kinds carried by the pub/sub endpoint.
const (
	TopicWallet  = "wallet"
	TopicProfile = "profile"
	TopicOrder   = "order"
	TopicUsers   = "users" // shop-wide generic notifications
)

// topicPath builds the full topic path for a kind and user.
func topicPath(kind, userID string) string {
	return "/topic/" + kind + "/" + userID
}

// topicsFor returns the subscriptions for an identity: the three per-user
// topics, plus the shop notification topic for shops.
func topicsFor(identity model.Identity) []string {
	topics := []string{
		topicPath(TopicWallet, identity.UserID),
		topicPath(TopicProfile, identity.UserID),
		topicPath(TopicOrder, identity.UserID),
	}
	if identity.Role == model.RoleShop {
		topics = append(topics, topicPath(TopicUsers, identity.UserID))
	}
	return topics
}

// OrderEvent is a raw order update handed to registered consumers.
type OrderEvent struct {
	UserID     string
	Payload    json.RawMessage
	ReceivedAt time.Time
}

// OrderConsumer receives order update events.
type OrderConsumer func(OrderEvent)

// notificationPayload is the wire shape of profile and shop notifications.
type notificationPayload struct {
	UserID  string `json:"userId"`
	Message string `json:"message"`
}

// orderPayload is the minimal order-update envelope; the full order set is
// re-fetched rather than patched from pushes.
type orderPayload struct {
	UserID  string `json:"userId"`
	OrderID string `json:"orderId"`
}

// Stats contains runtime statistics.
type Stats struct {
	Received        int64
	Routed          int64
	ParseErrors     int64
	IdentityDropped int64
}
