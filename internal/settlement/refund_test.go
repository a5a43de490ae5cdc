package settlement

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"x402arcade/internal/x402"
)

func fixedHashes(hash string) HashGenerator {
	return func() string { return hash }
}

func TestRefundUnknownTransaction(t *testing.T) {
	p := NewProcessor(NewMemoryStore(), nil, zerolog.Nop())

	outcome := p.Refund(context.Background(), "0xmissing", "test", "")
	if outcome.Success || outcome.Failure.Code != x402.CodeTransactionNotFound {
		t.Fatalf("expected TRANSACTION_NOT_FOUND, got %v", outcome)
	}
}

func TestRefundDefaultsToOriginalAmount(t *testing.T) {
	store, rec := storeWithSettlement(t)
	p := NewProcessor(store, fixedHashes("0xrefund"), zerolog.Nop())

	outcome := p.Refund(context.Background(), rec.TxHash, "player complaint", "")
	if !outcome.Success {
		t.Fatalf("expected refund, got %v", outcome.Failure)
	}
	if outcome.AmountRefunded != "10000" {
		t.Fatalf("amount refunded: got %q, want the original 10000", outcome.AmountRefunded)
	}
	if outcome.RefundTxHash != "0xrefund" {
		t.Fatalf("refund tx hash: got %q", outcome.RefundTxHash)
	}

	stored, err := store.GetRefund(context.Background(), rec.TxHash)
	if err != nil || stored == nil {
		t.Fatalf("refund should be recorded: rec=%v err=%v", stored, err)
	}
	if stored.Reason != "player complaint" {
		t.Fatalf("stored reason: got %q", stored.Reason)
	}
}

func TestRefundAmountOverride(t *testing.T) {
	store, rec := storeWithSettlement(t)
	p := NewProcessor(store, nil, zerolog.Nop())

	outcome := p.Refund(context.Background(), rec.TxHash, "partial", "5000")
	if !outcome.Success || outcome.AmountRefunded != "5000" {
		t.Fatalf("override amount should be used verbatim, got %v", outcome)
	}
}

func TestRefundIsIdempotencyGuarded(t *testing.T) {
	store, rec := storeWithSettlement(t)
	p := NewProcessor(store, nil, zerolog.Nop())

	if outcome := p.Refund(context.Background(), rec.TxHash, "first", ""); !outcome.Success {
		t.Fatalf("first refund should succeed, got %v", outcome.Failure)
	}

	outcome := p.Refund(context.Background(), rec.TxHash, "second", "")
	if outcome.Success {
		t.Fatal("second refund should be rejected")
	}
	if outcome.Failure.Code != x402.CodeRefundAlreadyProcessed {
		t.Fatalf("expected REFUND_ALREADY_PROCESSED, got %s", outcome.Failure.Code)
	}
}

func TestDefaultHashGeneratorShape(t *testing.T) {
	first := DefaultHashGenerator()
	second := DefaultHashGenerator()

	if !txHashPattern.MatchString(first) {
		t.Fatalf("generated hash %q is not a 32-byte hex hash", first)
	}
	if first == second {
		t.Fatal("consecutive hashes should differ")
	}
}
