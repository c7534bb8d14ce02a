package models

import (
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Balances and costs are numbers on the wire.
	decimal.MarshalJSONWithoutQuotes = true
}

// Error codes written to api_keys.error_code by the health checker
const (
	ErrorCodeUnauthorized      = "UNAUTHORIZED"
	ErrorCodeRateLimit         = "RATE_LIMIT"
	ErrorCodeInsufficientQuota = "INSUFFICIENT_QUOTA"
	ErrorCodeTimeout           = "TIMEOUT"
	ErrorCodeCheckFailed       = "CHECK_FAILED"
)

// DefaultImportBalance is the balance and credit limit assigned to imported keys
var DefaultImportBalance = decimal.NewFromInt(10)

// APIKey is an upstream provider credential in the pool.
type APIKey struct {
	ID                int64               `db:"id" json:"id"`
	Name              string              `db:"name" json:"name"`
	Secret            string              `db:"api_key" json:"api_key"`
	UserAgent         string              `db:"ua" json:"ua"`
	Proxy             *string             `db:"proxy" json:"proxy"`
	Enabled           bool                `db:"enabled" json:"enabled"`
	Balance           decimal.NullDecimal `db:"balance" json:"balance"`
	TotalBalance      decimal.NullDecimal `db:"total_balance" json:"total_balance"`
	BalanceLastUpdate *time.Time          `db:"balance_last_update" json:"balance_last_update"`
	ErrorCode         *string             `db:"error_code" json:"error_code"`
	Memo              *string             `db:"memo" json:"memo"`
	CreatedAt         time.Time           `db:"create_time" json:"create_time"`
	UpdatedAt         time.Time           `db:"update_time" json:"update_time"`
}

// ProxyAddress returns the proxy URL or "" when the key connects directly
func (k *APIKey) ProxyAddress() string {
	if k.Proxy == nil {
		return ""
	}
	return *k.Proxy
}

// IsSelectable reports whether the key may be handed out for outbound traffic
func (k *APIKey) IsSelectable() bool {
	return k.Enabled
}

// APIKeyUpdate carries the operator-editable fields of a key; nil means unchanged.
// The secret is deliberately absent.
type APIKeyUpdate struct {
	Name         *string
	UserAgent    *string
	Proxy        *string // "" clears the proxy
	Enabled      *bool
	Balance      *decimal.Decimal
	TotalBalance *decimal.Decimal
	Memo         *string
}

// IsEmpty reports whether the update changes nothing
func (u APIKeyUpdate) IsEmpty() bool {
	return u.Name == nil && u.UserAgent == nil && u.Proxy == nil && u.Enabled == nil &&
		u.Balance == nil && u.TotalBalance == nil && u.Memo == nil
}

// KeyBalanceStats summarizes pool credit for the dashboard
type KeyBalanceStats struct {
	TotalKeys       int             `db:"total_keys" json:"total_keys"`
	EnabledKeys     int             `db:"enabled_keys" json:"enabled_keys"`
	TotalBalance    decimal.Decimal `db:"total_balance" json:"total_balance"`
	KeysWithBalance int             `db:"keys_with_balance" json:"keys_with_balance"`
}
