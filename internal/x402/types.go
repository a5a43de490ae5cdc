package x402

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Protocol version carried in the X-Payment header envelope.
const ProtocolVersion = 1

// HeaderPayment is the client-facing payment header name.
const HeaderPayment = "X-Payment"

// PaymentAuthorization is a single signed EIP-3009 transferWithAuthorization
// intent. Value is kept as a decimal string in the token's atomic units;
// the protocol requires byte-exact agreement, so it is never parsed into a
// float.
type PaymentAuthorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  int64  `json:"validAfter"`
	ValidBefore int64  `json:"validBefore"`
	Nonce       string `json:"nonce"`
	Signature   string `json:"signature"`
}

// PaymentHeader is the envelope serialized into the X-Payment header.
type PaymentHeader struct {
	Version       int                  `json:"x402Version"`
	Scheme        string               `json:"scheme"`
	Network       string               `json:"network"`
	Authorization PaymentAuthorization `json:"authorization"`
}

// Requirements describe what a protected resource expects a payment to be.
type Requirements struct {
	Token     string
	Recipient string
	Amount    string
	Network   string
}

// SameAddress compares two hex account identifiers case-insensitively.
func SameAddress(a, b string) bool {
	if common.IsHexAddress(a) && common.IsHexAddress(b) {
		return common.HexToAddress(a) == common.HexToAddress(b)
	}
	return strings.EqualFold(a, b)
}
