package prizepool

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Default payout tiers: rank 1 takes half, then 30/20. Ranks beyond the
// table receive nothing.
var DefaultTable = []decimal.Decimal{
	decimal.NewFromInt(50),
	decimal.NewFromInt(30),
	decimal.NewFromInt(20),
}

// DefaultFeePercent is the platform fee taken before distribution.
var DefaultFeePercent = decimal.NewFromInt(30)

var (
	hundred      = decimal.NewFromInt(100)
	sumTolerance = decimal.RequireFromString("0.01")
)

// ErrTableSum indicates a custom percentage table does not sum to 100.
var ErrTableSum = errors.New("percentage table must sum to 100")

// Distribution is one winner's share of a distributable pool.
type Distribution struct {
	Rank       int
	Recipient  string
	Amount     decimal.Decimal
	Percentage decimal.Decimal
}

// ExtractFee splits a gross pool into platform fee and distributable amount,
// both rounded half-up to 2 decimal places so downstream sums reconcile.
func ExtractFee(total, feePercent decimal.Decimal) (fee, distributable decimal.Decimal) {
	fee = total.Mul(feePercent).Div(hundred).Round(2)
	distributable = total.Sub(fee).Round(2)
	return fee, distributable
}

// ValidateTable checks that a custom table sums to 100 within tolerance.
func ValidateTable(table []decimal.Decimal) error {
	if len(table) == 0 {
		return errors.New("percentage table is empty")
	}
	sum := decimal.Zero
	for _, pct := range table {
		sum = sum.Add(pct)
	}
	if sum.Sub(hundred).Abs().GreaterThan(sumTolerance) {
		return fmt.Errorf("%w, got %s", ErrTableSum, sum.String())
	}
	return nil
}

// Distribute splits distributable across ranked winners. Winner i (0-based)
// is rank i+1 and maps positionally to table[i]; winners beyond the table
// get no share. The table is validated before any amount is computed.
func Distribute(distributable decimal.Decimal, rankedWinners []string, table []decimal.Decimal) ([]Distribution, error) {
	if table == nil {
		table = DefaultTable
	}
	if err := ValidateTable(table); err != nil {
		return nil, err
	}

	count := len(rankedWinners)
	if count > len(table) {
		count = len(table)
	}

	out := make([]Distribution, 0, count)
	for i := 0; i < count; i++ {
		pct := table[i]
		amount := distributable.Mul(pct).Div(hundred).Round(2)
		out = append(out, Distribution{
			Rank:       i + 1,
			Recipient:  rankedWinners[i],
			Amount:     amount,
			Percentage: pct,
		})
	}
	return out, nil
}
