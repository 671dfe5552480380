package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/chowlane/ordersync/internal/model"
	"github.com/chowlane/ordersync/internal/wallet"
)

// Wallet fetches the authoritative balance for one account. The response is
// normalized into a full snapshot; the server's balance field name varies.
func (c *Client) Wallet(ctx context.Context, userID string, accountType model.Role) (model.WalletSnapshot, error) {
	query := url.Values{}
	query.Set("accountType", string(accountType))

	body, err := c.doRequest(ctx, "GET", "/api/wallet/"+userID, cacheBust(query), nil)
	if err != nil {
		return model.WalletSnapshot{}, err
	}

	var payload wallet.Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		return model.WalletSnapshot{}, fmt.Errorf("unmarshal wallet response: %w", err)
	}
	if payload.UserID == "" {
		payload.UserID = userID
	}
	if payload.AccountType == "" {
		payload.AccountType = accountType
	}

	snap, ok := wallet.Normalize(payload)
	if !ok {
		return model.WalletSnapshot{}, fmt.Errorf("wallet response for %s has no balance field", userID)
	}

	return snap, nil
}
