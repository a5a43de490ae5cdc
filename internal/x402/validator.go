package x402

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Minimum lexical shape of a 65-byte hex signature: "0x" + 130 hex chars.
const minSignatureLength = 132

// NonceChecker answers whether a (from, nonce) pair has been consumed.
// Implemented by the ledger package; declared here so validation does not
// depend on a concrete store.
type NonceChecker interface {
	Used(ctx context.Context, from, nonce string) (bool, error)
}

// ValidatorOptions parameterise a Validator.
type ValidatorOptions struct {
	// Domain enables strict EIP-712 signer recovery when non-nil. Without
	// it only the lexical signature shape is checked, matching the
	// trust-the-caller posture of the upstream facilitator.
	Domain *Domain
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Validator checks a raw payment header against expected requirements.
type Validator struct {
	nonces NonceChecker
	domain *Domain
	now    func() time.Time
}

// NewValidator constructs a Validator backed by the given nonce checker.
func NewValidator(nonces NonceChecker, opts ValidatorOptions) *Validator {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Validator{nonces: nonces, domain: opts.Domain, now: now}
}

// Validate runs the ordered checks over rawHeader. The first failing check
// wins and nothing later runs; on failure no state is touched anywhere.
func (v *Validator) Validate(ctx context.Context, rawHeader string, req Requirements) (*PaymentAuthorization, *Failure) {
	if rawHeader == "" {
		return nil, NewFailure(CodeMissingHeader, "payment header is required")
	}

	header, ok := DecodePaymentHeader(rawHeader)
	if !ok {
		// The facilitator taxonomy uses INVALID_SIGNATURE as the generic
		// decode-failure code.
		return nil, NewFailure(CodeInvalidSignature, "payment header could not be decoded")
	}
	auth := header.Authorization

	now := v.now().Unix()
	if auth.ValidBefore < now {
		return nil, NewFailure(CodeExpiredAuthorization, fmt.Sprintf("authorization expired at %d", auth.ValidBefore))
	}

	if v.nonces != nil {
		used, err := v.nonces.Used(ctx, auth.From, auth.Nonce)
		if err != nil {
			return nil, NewFailure(CodeInternalError, "nonce ledger unavailable")
		}
		if used {
			return nil, NewFailure(CodeNonceAlreadyUsed, "nonce has already been used by this address")
		}
	}

	if req.Recipient != "" && !SameAddress(auth.To, req.Recipient) {
		return nil, NewFailure(CodeWrongRecipient, "authorization recipient does not match requirements")
	}

	// Amounts are atomic-unit strings; the protocol requires byte-exact
	// agreement, so this is deliberately not a numeric comparison.
	if req.Amount != "" && auth.Value != req.Amount {
		return nil, NewFailure(CodeWrongAmount, fmt.Sprintf("expected amount %s, got %s", req.Amount, auth.Value))
	}

	if !strings.HasPrefix(auth.Signature, "0x") || len(auth.Signature) < minSignatureLength {
		return nil, NewFailure(CodeInvalidSignature, "signature is malformed")
	}

	if v.domain != nil {
		signer, err := RecoverSigner(*v.domain, auth)
		if err != nil {
			return nil, NewFailure(CodeInvalidSignature, "signature could not be recovered")
		}
		if !SameAddress(signer.Hex(), auth.From) {
			return nil, NewFailure(CodeInvalidSignature, "signature does not match sender")
		}
	}

	return &auth, nil
}
