package x402

import (
	"encoding/base64"
	"encoding/json"
)

// EncodePaymentHeader serializes a payment header to base64(JSON), the wire
// form carried in X-Payment.
func EncodePaymentHeader(header PaymentHeader) string {
	raw, err := json.Marshal(header)
	if err != nil {
		// PaymentHeader contains only marshalable fields.
		return ""
	}
	return base64.StdEncoding.EncodeToString(raw)
}

// DecodePaymentHeader reverses EncodePaymentHeader. Malformed base64 or JSON
// yields (nil, false) rather than an error so callers can branch without
// ceremony; the validator maps the sentinel to INVALID_SIGNATURE.
func DecodePaymentHeader(encoded string) (*PaymentHeader, bool) {
	if encoded == "" {
		return nil, false
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, false
	}

	var header PaymentHeader
	if err := json.Unmarshal(raw, &header); err != nil {
		return nil, false
	}

	if header.Authorization.From == "" || header.Authorization.To == "" {
		return nil, false
	}

	return &header, true
}
