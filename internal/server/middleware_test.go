package server

import (
	"net/http"
	"testing"
	"time"

	"x402arcade/internal/x402"
)

func TestAddressLimiterKeyedByPayer(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.Enabled = true
	cfg.RateLimit.Requests = 1
	cfg.RateLimit.Window = time.Minute
	s := newTestServer(t, cfg)

	// First request from the payer consumes the budget.
	rec, _ := doJSON(t, s, http.MethodPost, "/settle", map[string]string{
		"paymentHeader": paymentHeaderFor("10000"),
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request: got %d", rec.Code)
	}

	// A fresh nonce does not help; the limit follows the wallet.
	rec, body := doJSON(t, s, http.MethodPost, "/settle", map[string]string{
		"paymentHeader": paymentHeaderFor("10000"),
	}, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: got %d", rec.Code)
	}
	if body["errorCode"] != x402.CodeRateLimited {
		t.Fatalf("errorCode: %v", body["errorCode"])
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("Retry-After header should be set")
	}
}

func TestAddressLimiterAllow(t *testing.T) {
	l := NewAddressLimiter(2, time.Minute)

	if !l.Allow("wallet-a") || !l.Allow("wallet-a") {
		t.Fatal("burst of two should pass")
	}
	if l.Allow("wallet-a") {
		t.Fatal("third request inside the window should be limited")
	}
	if !l.Allow("wallet-b") {
		t.Fatal("a different wallet has its own budget")
	}
}

func TestPendingPaymentsDeduplicates(t *testing.T) {
	p := NewPendingPayments()

	key, ok := p.Begin("header-a")
	if !ok {
		t.Fatal("first begin should win")
	}
	if _, ok := p.Begin("header-a"); ok {
		t.Fatal("duplicate in-flight payment must be rejected")
	}
	if _, ok := p.Begin("header-b"); !ok {
		t.Fatal("a different payment is unaffected")
	}

	p.End(key)
	if _, ok := p.Begin("header-a"); !ok {
		t.Fatal("finished payment should be retryable")
	}
}

func TestSettleConflictWhilePending(t *testing.T) {
	s := newTestServer(t, nil)
	header := paymentHeaderFor("10000")

	// Simulate a concurrent in-flight settlement of the same header.
	key, ok := s.pending.Begin(header)
	if !ok {
		t.Fatal("begin should win")
	}
	defer s.pending.End(key)

	rec, body := doJSON(t, s, http.MethodPost, "/settle", map[string]string{"paymentHeader": header}, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status: got %d", rec.Code)
	}
	if body["errorCode"] != x402.CodeTransactionPending {
		t.Fatalf("errorCode: %v", body["errorCode"])
	}
}

func TestRequirePaymentInvalidHeader(t *testing.T) {
	s := newTestServer(t, nil)

	rec, body := doJSON(t, s, http.MethodPost, "/api/games/snake/session", nil, map[string]string{
		x402.HeaderPayment: "garbage",
	})
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status: got %d", rec.Code)
	}
	if body["errorCode"] != x402.CodeInvalidSignature {
		t.Fatalf("errorCode: %v", body["errorCode"])
	}
	if body["retryable"] != false {
		t.Fatalf("retryable: %v", body)
	}
}

func TestRequirePaymentExpiredAuthorization(t *testing.T) {
	s := newTestServer(t, nil)

	header := x402.EncodePaymentHeader(x402.PaymentHeader{
		Version: x402.ProtocolVersion,
		Scheme:  "exact",
		Network: "cronos-testnet",
		Authorization: x402.PaymentAuthorization{
			From:        testPayer,
			To:          testRecipient,
			Value:       "10000",
			ValidBefore: time.Now().Add(-time.Minute).Unix(),
			Nonce:       "0xdead",
			Signature:   "0x",
		},
	})

	rec, body := doJSON(t, s, http.MethodPost, "/api/games/snake/session", nil, map[string]string{
		x402.HeaderPayment: header,
	})
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status: got %d", rec.Code)
	}
	if body["errorCode"] != x402.CodeExpiredAuthorization {
		t.Fatalf("errorCode: %v", body["errorCode"])
	}
}
