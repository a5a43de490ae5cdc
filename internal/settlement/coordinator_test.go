package settlement

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"x402arcade/internal/ledger"
	"x402arcade/internal/x402"
)

var txHashPattern = regexp.MustCompile(`^0x[0-9a-f]{64}$`)

func testClock() func() time.Time {
	return func() time.Time { return time.Unix(1_700_000_000, 0) }
}

func testAuth() x402.PaymentAuthorization {
	return x402.PaymentAuthorization{
		From:        "0x1111111111111111111111111111111111111111",
		To:          "0x2222222222222222222222222222222222222222",
		Value:       "10000",
		ValidAfter:  0,
		ValidBefore: 1_700_000_600,
		Nonce:       "0xdeadbeef",
		Signature:   "0x" + strings.Repeat("ab", 65),
	}
}

func encodeHeader(auth x402.PaymentAuthorization) string {
	return x402.EncodePaymentHeader(x402.PaymentHeader{
		Version:       x402.ProtocolVersion,
		Scheme:        "exact",
		Network:       "cronos-testnet",
		Authorization: auth,
	})
}

func reqFor(auth x402.PaymentAuthorization) x402.Requirements {
	return x402.Requirements{Recipient: auth.To, Amount: auth.Value}
}

type pipeline struct {
	nonces      *ledger.Memory
	store       *MemoryStore
	coordinator *Coordinator
}

func newPipeline(t *testing.T, submitterOpts SimulatedOptions, coordOpts CoordinatorOptions) *pipeline {
	t.Helper()

	nonces := ledger.NewMemory()
	store := NewMemoryStore()
	validator := x402.NewValidator(nonces, x402.ValidatorOptions{Now: testClock()})
	submitter := NewSimulated(submitterOpts, zerolog.Nop())
	if coordOpts.Now == nil {
		coordOpts.Now = testClock()
	}
	coordinator := NewCoordinator(validator, nonces, store, submitter, zerolog.Nop(), coordOpts)
	return &pipeline{nonces: nonces, store: store, coordinator: coordinator}
}

func TestSettleSuccess(t *testing.T) {
	p := newPipeline(t, SimulatedOptions{}, CoordinatorOptions{})
	auth := testAuth()

	outcome := p.coordinator.Settle(context.Background(), SettleRequest{
		RawHeader:    encodeHeader(auth),
		Requirements: reqFor(auth),
	})
	if !outcome.Success {
		t.Fatalf("expected success, got %v", outcome.Failure)
	}
	if !txHashPattern.MatchString(outcome.TxHash) {
		t.Fatalf("tx hash %q does not look like a 32-byte hash", outcome.TxHash)
	}
	if outcome.BlockNumber == 0 {
		t.Fatal("block number should be assigned")
	}

	rec, err := p.store.GetSettlement(context.Background(), outcome.TxHash)
	if err != nil || rec == nil {
		t.Fatalf("settlement should be recorded: rec=%v err=%v", rec, err)
	}
	if rec.Authorization.Value != "10000" {
		t.Fatalf("recorded value: got %q", rec.Authorization.Value)
	}
}

func TestSettleReplayIsRejected(t *testing.T) {
	p := newPipeline(t, SimulatedOptions{}, CoordinatorOptions{})
	auth := testAuth()
	req := SettleRequest{RawHeader: encodeHeader(auth), Requirements: reqFor(auth)}

	if outcome := p.coordinator.Settle(context.Background(), req); !outcome.Success {
		t.Fatalf("first settle should succeed, got %v", outcome.Failure)
	}

	outcome := p.coordinator.Settle(context.Background(), req)
	if outcome.Success {
		t.Fatal("replay should be rejected")
	}
	if outcome.Failure.Code != x402.CodeNonceAlreadyUsed {
		t.Fatalf("expected NONCE_ALREADY_USED, got %s", outcome.Failure.Code)
	}
}

func TestSettleValidationFailureLeavesNoTrace(t *testing.T) {
	p := newPipeline(t, SimulatedOptions{}, CoordinatorOptions{})
	auth := testAuth()
	auth.ValidBefore = 1

	outcome := p.coordinator.Settle(context.Background(), SettleRequest{
		RawHeader:    encodeHeader(auth),
		Requirements: reqFor(auth),
	})
	if outcome.Success {
		t.Fatal("expired authorization should not settle")
	}
	if outcome.Failure.Code != x402.CodeExpiredAuthorization {
		t.Fatalf("expected EXPIRED_AUTHORIZATION, got %s", outcome.Failure.Code)
	}
	if p.nonces.Len() != 0 {
		t.Fatal("validation failure must not consume a nonce")
	}
	if records, _ := p.store.ListRecentSettlements(context.Background(), 10); len(records) != 0 {
		t.Fatal("validation failure must not create records")
	}
}

// A broadcast failure after the nonce is consumed burns the nonce: replay
// protection wins over retry convenience.
func TestSettleBroadcastFailureBurnsNonce(t *testing.T) {
	p := newPipeline(t, SimulatedOptions{FailureRate: 1}, CoordinatorOptions{})
	auth := testAuth()
	req := SettleRequest{RawHeader: encodeHeader(auth), Requirements: reqFor(auth)}

	outcome := p.coordinator.Settle(context.Background(), req)
	if outcome.Success {
		t.Fatal("injected failure should fail the settlement")
	}
	if outcome.Failure.Code != x402.CodeTransactionFailed {
		t.Fatalf("expected TRANSACTION_FAILED, got %s", outcome.Failure.Code)
	}
	if p.nonces.Len() != 1 {
		t.Fatal("broadcast failure should still burn the nonce")
	}

	retry := p.coordinator.Settle(context.Background(), req)
	if retry.Success || retry.Failure.Code != x402.CodeNonceAlreadyUsed {
		t.Fatalf("retry with the same nonce should be rejected, got %v", retry)
	}
}

type stubBalances struct {
	funded bool
	err    error
}

func (s *stubBalances) HasBalance(context.Context, string, string) (bool, error) {
	return s.funded, s.err
}

func TestSettleInsufficientFunds(t *testing.T) {
	p := newPipeline(t, SimulatedOptions{}, CoordinatorOptions{Balances: &stubBalances{funded: false}})
	auth := testAuth()

	outcome := p.coordinator.Settle(context.Background(), SettleRequest{
		RawHeader:    encodeHeader(auth),
		Requirements: reqFor(auth),
	})
	if outcome.Success || outcome.Failure.Code != x402.CodeInsufficientFunds {
		t.Fatalf("expected INSUFFICIENT_FUNDS, got %v", outcome)
	}
	if p.nonces.Len() != 0 {
		t.Fatal("balance rejection happens before the nonce is consumed")
	}
}

func TestSettleBalanceCheckerErrorIsNonFatal(t *testing.T) {
	p := newPipeline(t, SimulatedOptions{}, CoordinatorOptions{Balances: &stubBalances{err: errors.New("rpc down")}})
	auth := testAuth()

	outcome := p.coordinator.Settle(context.Background(), SettleRequest{
		RawHeader:    encodeHeader(auth),
		Requirements: reqFor(auth),
	})
	if !outcome.Success {
		t.Fatalf("an unavailable balance checker must not block settlement, got %v", outcome.Failure)
	}
}

func TestSettleValidationOverride(t *testing.T) {
	override := func(context.Context, string, x402.Requirements) (*x402.PaymentAuthorization, *x402.Failure) {
		auth := testAuth()
		return &auth, nil
	}
	p := newPipeline(t, SimulatedOptions{}, CoordinatorOptions{Override: override})

	// The override fully replaces validation, so even garbage settles.
	outcome := p.coordinator.Settle(context.Background(), SettleRequest{RawHeader: "garbage"})
	if !outcome.Success {
		t.Fatalf("override should bypass validation, got %v", outcome.Failure)
	}
}
