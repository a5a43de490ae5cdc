package settlement

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"x402arcade/internal/x402"
)

// HashGenerator produces refund transaction hashes. Injected so tests can
// pin hashes and so no package-level counter exists.
type HashGenerator func() string

// DefaultHashGenerator derives a fresh 32-byte hash from a UUID.
func DefaultHashGenerator() string {
	return hexutil.Encode(crypto.Keccak256([]byte(uuid.NewString())))
}

// RefundOutcome is the tagged result of a refund attempt.
type RefundOutcome struct {
	Success        bool
	RefundTxHash   string
	AmountRefunded string
	Failure        *x402.Failure
}

// Processor issues at most one refund per settled transaction.
type Processor struct {
	store  RecordStore
	hashes HashGenerator
	logger zerolog.Logger
	now    func() time.Time
}

// NewProcessor constructs a refund processor over the shared record store.
func NewProcessor(store RecordStore, hashes HashGenerator, logger zerolog.Logger) *Processor {
	if hashes == nil {
		hashes = DefaultHashGenerator
	}
	return &Processor{
		store:  store,
		hashes: hashes,
		logger: logger.With().Str("component", "refund").Logger(),
		now:    time.Now,
	}
}

// Refund reverses a recorded settlement. The amount defaults to the original
// authorization's value; an explicit override is taken as-is, including
// amounts above the original (upstream behaviour, kept deliberately — see
// DESIGN.md).
func (p *Processor) Refund(ctx context.Context, originalTxHash, reason, amountOverride string) RefundOutcome {
	rec, err := p.store.GetSettlement(ctx, originalTxHash)
	if err != nil {
		return RefundOutcome{Failure: x402.NewFailure(x402.CodeInternalError, "settlement store unavailable")}
	}
	if rec == nil {
		return RefundOutcome{Failure: x402.NewFailure(x402.CodeTransactionNotFound, "no settlement recorded for transaction")}
	}

	amount := rec.Authorization.Value
	if amountOverride != "" {
		amount = amountOverride
	}

	refund := RefundRecord{
		RefundTxHash:   p.hashes(),
		OriginalTxHash: rec.TxHash,
		AmountRefunded: amount,
		Reason:         reason,
		Timestamp:      p.now().UTC(),
	}

	inserted, err := p.store.InsertRefund(ctx, refund)
	if err != nil {
		return RefundOutcome{Failure: x402.NewFailure(x402.CodeInternalError, "refund could not be recorded")}
	}
	if !inserted {
		return RefundOutcome{Failure: x402.NewFailure(x402.CodeRefundAlreadyProcessed, "settlement has already been refunded")}
	}

	p.logger.Info().
		Str("original_tx", rec.TxHash).
		Str("refund_tx", refund.RefundTxHash).
		Str("amount", amount).
		Str("reason", reason).
		Msg("refund recorded")

	return RefundOutcome{
		Success:        true,
		RefundTxHash:   refund.RefundTxHash,
		AmountRefunded: amount,
	}
}
