package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// DailyVolume aggregates settlement activity for one UTC day, feeding the
// report command.
type DailyVolume struct {
	Day         time.Time
	Settlements int64
	Volume      decimal.Decimal
	Refunds     int64
}

// PayoutRow is one prize payout as read back for history listings.
type PayoutRow struct {
	PoolID     string          `json:"poolId"`
	Game       string          `json:"game"`
	Day        time.Time       `json:"day"`
	Rank       int             `json:"rank"`
	Recipient  string          `json:"recipient"`
	Amount     decimal.Decimal `json:"amount"`
	Percentage decimal.Decimal `json:"percentage"`
	CreatedAt  time.Time       `json:"createdAt"`
}
