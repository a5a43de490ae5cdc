package x402

// Error codes shared between the validator, the facilitator endpoints, and
// the payment middleware. The taxonomy mirrors the facilitator wire format,
// so codes are SCREAMING_SNAKE rather than Go-style sentinel errors.
const (
	CodePaymentRequired        = "PAYMENT_REQUIRED"
	CodeMissingHeader          = "MISSING_HEADER"
	CodeInvalidSignature       = "INVALID_SIGNATURE"
	CodeExpiredAuthorization   = "EXPIRED_AUTHORIZATION"
	CodeExpiredPayment         = "EXPIRED_PAYMENT"
	CodeNonceAlreadyUsed       = "NONCE_ALREADY_USED"
	CodeWrongRecipient         = "WRONG_RECIPIENT"
	CodeWrongAmount            = "WRONG_AMOUNT"
	CodeWrongToken             = "WRONG_TOKEN"
	CodeTransactionNotFound    = "TRANSACTION_NOT_FOUND"
	CodeTransactionPending     = "TRANSACTION_PENDING"
	CodeTransactionFailed      = "TRANSACTION_FAILED"
	CodeRefundAlreadyProcessed = "REFUND_ALREADY_PROCESSED"
	CodeRefundWindowExpired    = "REFUND_WINDOW_EXPIRED"
	CodeInsufficientBalance    = "INSUFFICIENT_BALANCE"
	CodeInsufficientFunds      = "INSUFFICIENT_FUNDS"
	CodeUnsupportedNetwork     = "UNSUPPORTED_NETWORK"
	CodeUnsupportedToken       = "UNSUPPORTED_TOKEN"
	CodeInternalError          = "INTERNAL_ERROR"
	CodeRateLimited            = "RATE_LIMITED"
	CodeServiceUnavailable     = "SERVICE_UNAVAILABLE"
)

// Failure is a tagged validation or settlement failure. It crosses component
// boundaries as a value; callers branch on Code instead of unwrapping error
// chains.
type Failure struct {
	Code    string
	Message string
}

// Error satisfies the error interface for logging convenience; components
// still pass *Failure explicitly rather than as an error.
func (f *Failure) Error() string {
	return f.Code + ": " + f.Message
}

// NewFailure builds a tagged failure.
func NewFailure(code, message string) *Failure {
	return &Failure{Code: code, Message: message}
}

// Retryable reports whether resubmitting the same request can ever succeed.
// Consumed nonces and expired authorizations fail closed; transient
// infrastructure codes are worth a retry.
func Retryable(code string) bool {
	switch code {
	case CodeTransactionPending, CodeInternalError, CodeRateLimited, CodeServiceUnavailable:
		return true
	default:
		return false
	}
}
