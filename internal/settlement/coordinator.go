package settlement

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"x402arcade/internal/ledger"
	"x402arcade/internal/x402"
)

// ValidateFunc is a caller-supplied validation override. When set on a
// coordinator it fully replaces the built-in validator rather than
// augmenting it.
type ValidateFunc func(ctx context.Context, rawHeader string, req x402.Requirements) (*x402.PaymentAuthorization, *x402.Failure)

// BalanceChecker optionally pre-checks the payer's token balance before a
// nonce is burned. Implemented by the chain package.
type BalanceChecker interface {
	HasBalance(ctx context.Context, account, amount string) (bool, error)
}

// SettleRequest carries a raw payment header and the resource's
// requirements.
type SettleRequest struct {
	RawHeader    string
	Requirements x402.Requirements
}

// SettleOutcome is the tagged result of a settlement attempt.
type SettleOutcome struct {
	Success     bool
	TxHash      string
	BlockNumber uint64
	Timestamp   time.Time
	Failure     *x402.Failure
}

// CoordinatorOptions configure a Coordinator.
type CoordinatorOptions struct {
	Override ValidateFunc
	Balances BalanceChecker
	Now      func() time.Time
}

// Coordinator orchestrates validate, consume-nonce, submit, and record.
type Coordinator struct {
	validator *x402.Validator
	override  ValidateFunc
	nonces    ledger.NonceLedger
	store     RecordStore
	submitter Submitter
	balances  BalanceChecker
	logger    zerolog.Logger
	now       func() time.Time
}

// NewCoordinator wires the settlement pipeline together.
func NewCoordinator(validator *x402.Validator, nonces ledger.NonceLedger, store RecordStore, submitter Submitter, logger zerolog.Logger, opts CoordinatorOptions) *Coordinator {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Coordinator{
		validator: validator,
		override:  opts.Override,
		nonces:    nonces,
		store:     store,
		submitter: submitter,
		balances:  opts.Balances,
		logger:    logger.With().Str("component", "settlement").Logger(),
		now:       now,
	}
}

// Settle validates the payment header, consumes its nonce, submits the
// transfer, and records the settlement. Validation failures leave no trace:
// no nonce is consumed and no record is created. Once the nonce is consumed
// a broadcast failure still burns it; replay protection is chosen over
// retry convenience, and callers must sign a fresh nonce to try again.
func (c *Coordinator) Settle(ctx context.Context, req SettleRequest) SettleOutcome {
	auth, failure := c.validate(ctx, req)
	if failure != nil {
		return SettleOutcome{Failure: failure}
	}

	if c.balances != nil {
		funded, err := c.balances.HasBalance(ctx, auth.From, auth.Value)
		if err != nil {
			c.logger.Warn().Err(err).Str("from", auth.From).Msg("balance pre-check unavailable, continuing")
		} else if !funded {
			return SettleOutcome{Failure: x402.NewFailure(x402.CodeInsufficientFunds, "payer balance below authorized amount")}
		}
	}

	won, err := c.nonces.Consume(ctx, auth.From, auth.Nonce, "")
	if err != nil {
		return SettleOutcome{Failure: x402.NewFailure(x402.CodeInternalError, "nonce ledger unavailable")}
	}
	if !won {
		return SettleOutcome{Failure: x402.NewFailure(x402.CodeNonceAlreadyUsed, "nonce has already been used by this address")}
	}

	txHash, blockNumber, err := c.submitter.Submit(ctx, *auth)
	if err != nil {
		c.logger.Error().Err(err).Str("from", auth.From).Msg("settlement broadcast failed")
		return SettleOutcome{Failure: x402.NewFailure(x402.CodeTransactionFailed, "settlement could not be broadcast")}
	}

	rec := Record{
		TxHash:        txHash,
		BlockNumber:   blockNumber,
		Timestamp:     c.now().UTC(),
		Authorization: *auth,
	}
	if err := c.store.InsertSettlement(ctx, rec); err != nil {
		c.logger.Error().Err(err).Str("tx_hash", txHash).Msg("failed to persist settlement record")
		return SettleOutcome{Failure: x402.NewFailure(x402.CodeInternalError, "settlement could not be recorded")}
	}

	c.logger.Info().
		Str("tx_hash", txHash).
		Uint64("block", blockNumber).
		Str("from", auth.From).
		Str("value", auth.Value).
		Msg("settlement recorded")

	return SettleOutcome{
		Success:     true,
		TxHash:      txHash,
		BlockNumber: blockNumber,
		Timestamp:   rec.Timestamp,
	}
}

func (c *Coordinator) validate(ctx context.Context, req SettleRequest) (*x402.PaymentAuthorization, *x402.Failure) {
	if c.override != nil {
		return c.override(ctx, req.RawHeader, req.Requirements)
	}
	return c.validator.Validate(ctx, req.RawHeader, req.Requirements)
}
