package settlement

import (
	"context"

	"github.com/rs/zerolog"

	"x402arcade/internal/x402"
)

// Confirmation depth reported for recorded settlements. The simulated chain
// has no real depth, so a fixed stand-in is reported, mirroring the upstream
// facilitator.
const reportedConfirmations = 12

// Expectations optionally cross-check a verified transaction.
type Expectations struct {
	From   string
	To     string
	Amount string
}

// TransactionDetails is the snapshot returned for a verified settlement.
type TransactionDetails struct {
	TxHash        string `json:"txHash"`
	From          string `json:"from"`
	To            string `json:"to"`
	Amount        string `json:"amount"`
	BlockNumber   uint64 `json:"blockNumber"`
	Timestamp     int64  `json:"timestamp"`
	Confirmations int    `json:"confirmations"`
}

// VerifyOutcome is the tagged result of a verification.
type VerifyOutcome struct {
	Verified    bool
	Transaction *TransactionDetails
	Failure     *x402.Failure
}

// Verifier confirms previously recorded settlements.
type Verifier struct {
	store  RecordStore
	logger zerolog.Logger
}

// NewVerifier constructs a Verifier over the shared record store.
func NewVerifier(store RecordStore, logger zerolog.Logger) *Verifier {
	return &Verifier{store: store, logger: logger.With().Str("component", "verifier").Logger()}
}

// Verify looks up a settlement by tx hash and cross-checks any supplied
// expectations. A from/to mismatch is reported generically so the response
// does not reveal which field disagreed.
func (v *Verifier) Verify(ctx context.Context, txHash string, exp Expectations) VerifyOutcome {
	rec, err := v.store.GetSettlement(ctx, txHash)
	if err != nil {
		return VerifyOutcome{Failure: x402.NewFailure(x402.CodeInternalError, "settlement store unavailable")}
	}
	if rec == nil {
		return VerifyOutcome{Failure: x402.NewFailure(x402.CodeTransactionNotFound, "no settlement recorded for transaction")}
	}

	auth := rec.Authorization
	if exp.Amount != "" && exp.Amount != auth.Value {
		return VerifyOutcome{Failure: x402.NewFailure(x402.CodeWrongAmount, "transaction amount does not match expectation")}
	}
	if exp.From != "" && !x402.SameAddress(exp.From, auth.From) {
		return VerifyOutcome{Failure: x402.NewFailure(x402.CodeTransactionFailed, "transaction does not match expectations")}
	}
	if exp.To != "" && !x402.SameAddress(exp.To, auth.To) {
		return VerifyOutcome{Failure: x402.NewFailure(x402.CodeTransactionFailed, "transaction does not match expectations")}
	}

	return VerifyOutcome{
		Verified: true,
		Transaction: &TransactionDetails{
			TxHash:        rec.TxHash,
			From:          auth.From,
			To:            auth.To,
			Amount:        auth.Value,
			BlockNumber:   rec.BlockNumber,
			Timestamp:     rec.Timestamp.Unix(),
			Confirmations: reportedConfirmations,
		},
	}
}
