package model

import "time"

// -----------------------------------------------------------------------------
// Identity
// -----------------------------------------------------------------------------

// Role identifies which side of the marketplace a user is on.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleShop     Role = "shop"
	RoleDasher   Role = "dasher"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleShop, RoleDasher:
		return true
	}
	return false
}

// Identity is the user context supplied by the (out of scope) auth layer.
type Identity struct {
	UserID string
	Role   Role
	Token  string // Bearer credential; may be empty (limited subscriptions)
}

// -----------------------------------------------------------------------------
// Orders
// -----------------------------------------------------------------------------

// Status is a server-owned order status value.
type Status string

const (
	StatusConfirmed        Status = "active_confirmed"
	StatusToShop           Status = "active_toShop"
	StatusWaitingForDasher Status = "active_waiting_for_dasher"
	StatusPreparing        Status = "active_preparing"
	StatusReadyForPickup   Status = "active_readyForPickup"
	StatusPickedUp         Status = "active_pickedUp"
	StatusToCustomer       Status = "active_toCustomer"
	StatusCompleted        Status = "completed"
	StatusCancelled        Status = "cancelled"
)

// Awaiting reports whether the order is still at the shop awaiting a dasher or
// being prepared. Local display overrides are only meaningful in this window;
// outside it they are garbage-collected.
func (s Status) Awaiting() bool {
	switch s {
	case StatusToShop, StatusWaitingForDasher, StatusPreparing:
		return true
	}
	return false
}

// Terminal reports whether the order has reached a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// OrderItem is a single line item on an order.
type OrderItem struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
}

// Order is the server-owned order record. The client never mutates Status
// directly; it requests transitions through the status-update endpoint.
type Order struct {
	ID         string      `json:"id"`
	Status     Status      `json:"status"`
	ShopID     string      `json:"shopId"`
	DasherID   string      `json:"dasherId,omitempty"`
	CustomerID string      `json:"customerId"`
	Items      []OrderItem `json:"items"`
	Total      float64     `json:"total"`
	CreatedAt  time.Time   `json:"createdAt"`
	UpdatedAt  time.Time   `json:"updatedAt"`
}

// -----------------------------------------------------------------------------
// Wallet
// -----------------------------------------------------------------------------

// WalletSnapshot is a complete point-in-time balance for one account. It is
// published whole on every change; consumers never apply partial deltas.
type WalletSnapshot struct {
	UserID      string  `json:"userId"`
	AccountType Role    `json:"accountType"`
	Balance     float64 `json:"wallet"`
}
