package wallet

import "github.com/chowlane/ordersync/internal/model"

// Payload is the wire shape of a wallet update. Server payloads carry the
// balance under either "newBalance" (transaction notifications) or "wallet"
// (account fetches); some carry both.
type Payload struct {
	UserID      string     `json:"userId"`
	AccountType model.Role `json:"accountType"`
	NewBalance  *float64   `json:"newBalance"`
	Wallet      *float64   `json:"wallet"`
}

// Normalize converts a wire payload into a complete snapshot.
//
// Precedence: newBalance wins over wallet when both are present, since it is
// the more specific post-transaction value. Returns ok=false when neither
// balance field is set; such payloads carry nothing publishable.
func Normalize(p Payload) (model.WalletSnapshot, bool) {
	var balance float64
	switch {
	case p.NewBalance != nil:
		balance = *p.NewBalance
	case p.Wallet != nil:
		balance = *p.Wallet
	default:
		return model.WalletSnapshot{}, false
	}

	return model.WalletSnapshot{
		UserID:      p.UserID,
		AccountType: p.AccountType,
		Balance:     balance,
	}, true
}
