package x402

import (
	"encoding/base64"
	"strings"
	"testing"
)

func samplePaymentHeader() PaymentHeader {
	return PaymentHeader{
		Version: ProtocolVersion,
		Scheme:  "exact",
		Network: "cronos-testnet",
		Authorization: PaymentAuthorization{
			From:        "0x1111111111111111111111111111111111111111",
			To:          "0x2222222222222222222222222222222222222222",
			Value:       "10000",
			ValidAfter:  0,
			ValidBefore: 4102444800,
			Nonce:       "0xabc123",
			Signature:   "0x" + strings.Repeat("ab", 65),
		},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	original := samplePaymentHeader()

	encoded := EncodePaymentHeader(original)
	if encoded == "" {
		t.Fatal("encoded header should not be empty")
	}

	decoded, ok := DecodePaymentHeader(encoded)
	if !ok {
		t.Fatal("decode should succeed for a well-formed header")
	}
	if *decoded != original {
		t.Fatalf("round trip mismatch: got %+v, want %+v", *decoded, original)
	}
}

func TestDecodeRejectsMalformedInput(t *testing.T) {
	cases := map[string]string{
		"empty":      "",
		"not base64": "!!not-base64!!",
		"not json":   base64.StdEncoding.EncodeToString([]byte("hello")),
		"json array": base64.StdEncoding.EncodeToString([]byte("[1,2,3]")),
		"empty json": base64.StdEncoding.EncodeToString([]byte("{}")),
		"missing to": base64.StdEncoding.EncodeToString([]byte(`{"authorization":{"from":"0x1"}}`)),
	}

	for name, input := range cases {
		if header, ok := DecodePaymentHeader(input); ok {
			t.Fatalf("%s: expected decode failure, got %+v", name, header)
		}
	}
}

func TestDecodeUsesEnvelopeFields(t *testing.T) {
	encoded := EncodePaymentHeader(samplePaymentHeader())
	decoded, ok := DecodePaymentHeader(encoded)
	if !ok {
		t.Fatal("decode should succeed")
	}
	if decoded.Version != ProtocolVersion {
		t.Fatalf("version: got %d, want %d", decoded.Version, ProtocolVersion)
	}
	if decoded.Scheme != "exact" {
		t.Fatalf("scheme: got %q", decoded.Scheme)
	}
}

func TestSameAddress(t *testing.T) {
	a := "0xAbCd111111111111111111111111111111111111"
	b := strings.ToLower(a)
	if !SameAddress(a, b) {
		t.Fatal("checksummed and lowercase forms should compare equal")
	}
	if SameAddress(a, "0x2222222222222222222222222222222222222222") {
		t.Fatal("different addresses should not compare equal")
	}
}
