package app

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"x402arcade/internal/ledger"
	"x402arcade/internal/settlement"
	"x402arcade/internal/x402"
)

// Simulate drives the settlement pipeline end to end with a throwaway
// wallet: sign real EIP-712 authorizations, push them through the
// validator, nonce ledger, and simulated submitter, and print the tally.
// Everything stays in memory; nothing touches the configured database.
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	if opts.Count <= 0 {
		opts.Count = 1
	}

	amount := opts.Amount
	if amount == "" {
		amount = a.Config.Payment.Amount
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		return fmt.Errorf("generate wallet: %w", err)
	}
	payer := crypto.PubkeyToAddress(key.PublicKey)

	domain := a.Config.Payment.Domain
	nonces := ledger.NewMemory()
	validator := x402.NewValidator(nonces, x402.ValidatorOptions{Domain: &domain})
	records := settlement.NewMemoryStore()
	submitter := settlement.NewSimulated(settlement.SimulatedOptions{
		Latency:     a.Config.Settlement.Latency,
		Jitter:      a.Config.Settlement.Jitter,
		FailureRate: opts.FailureRate,
	}, a.Logger)
	coordinator := settlement.NewCoordinator(validator, nonces, records, submitter, a.Logger, settlement.CoordinatorOptions{})

	requirements := x402.Requirements{
		Token:     a.Config.Payment.Token,
		Recipient: a.Config.Payment.Recipient,
		Amount:    amount,
		Network:   a.Config.Payment.Network,
	}

	settled := 0
	failed := 0
	for i := 0; i < opts.Count; i++ {
		rawHeader, signErr := signedHeader(key, payer.Hex(), requirements, domain)
		if signErr != nil {
			return signErr
		}

		outcome := coordinator.Settle(ctx, settlement.SettleRequest{
			RawHeader:    rawHeader,
			Requirements: requirements,
		})
		if outcome.Success {
			settled++
			a.Logger.Info().Int("attempt", i+1).Str("tx_hash", outcome.TxHash).Msg("simulated settlement succeeded")
		} else {
			failed++
			a.Logger.Warn().Int("attempt", i+1).Str("code", outcome.Failure.Code).Msg("simulated settlement failed")
		}
	}

	fmt.Fprintf(os.Stdout, "payer: %s\nattempts: %d\nsettled: %d\nfailed: %d\n", payer.Hex(), opts.Count, settled, failed)
	return nil
}

// signedHeader builds one freshly-nonced, properly signed payment header.
func signedHeader(key *ecdsa.PrivateKey, payer string, req x402.Requirements, domain x402.Domain) (string, error) {
	now := time.Now().UTC()
	auth := x402.PaymentAuthorization{
		From:        payer,
		To:          req.Recipient,
		Value:       req.Amount,
		ValidAfter:  now.Add(-time.Minute).Unix(),
		ValidBefore: now.Add(5 * time.Minute).Unix(),
		Nonce:       hexutil.Encode(crypto.Keccak256([]byte(uuid.NewString()))),
	}

	digest, err := x402.SigningDigest(domain, auth)
	if err != nil {
		return "", fmt.Errorf("compute signing digest: %w", err)
	}

	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return "", fmt.Errorf("sign authorization: %w", err)
	}
	// Wallet convention carries v as 27/28.
	sig[64] += 27
	auth.Signature = hexutil.Encode(sig)

	header := x402.PaymentHeader{
		Version:       x402.ProtocolVersion,
		Scheme:        "exact",
		Network:       req.Network,
		Authorization: auth,
	}
	return x402.EncodePaymentHeader(header), nil
}
