package api

import (
	"context"
	"fmt"

	"github.com/chowlane/ordersync/internal/model"
)

// ordersResponse is the wire shape for order collection fetches.
type ordersResponse struct {
	Orders []model.Order `json:"orders"`
}

// Orders fetches the full order collection for the given identity. The fetch
// is role-scoped: shops see their shop's orders, dashers their assignments,
// customers their own orders.
func (c *Client) Orders(ctx context.Context, userID string, role model.Role) ([]model.Order, error) {
	var resp ordersResponse
	path := fmt.Sprintf("/api/orders/%s/%s", role, userID)
	if err := c.get(ctx, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Orders, nil
}

// statusUpdateRequest is the wire shape for the status-update write.
type statusUpdateRequest struct {
	OrderID string       `json:"orderId"`
	Status  model.Status `json:"status"`
}

// UpdateOrderStatus requests an authoritative status transition. The server
// owns the status; a non-error return means the server accepted the request,
// not that the new status is already visible in fetches.
func (c *Client) UpdateOrderStatus(ctx context.Context, orderID string, status model.Status) error {
	return c.put(ctx, "/api/orders/status", statusUpdateRequest{
		OrderID: orderID,
		Status:  status,
	})
}
