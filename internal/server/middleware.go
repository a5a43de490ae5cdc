package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"x402arcade/internal/settlement"
	"x402arcade/internal/x402"
)

// Context keys for values attached by the payment middleware.
const (
	ctxKeyPaymentHeader = "payment_header"
	ctxKeyPaymentTxHash = "payment_tx_hash"
	ctxKeyPaymentFrom   = "payment_from"
	ctxKeyRequestID     = "request_id"
)

const headerRequestID = "X-Request-ID"

// pendingTTL bounds how long an in-flight payment blocks duplicates.
const pendingTTL = 60 * time.Second

// RequestID assigns or propagates a request ID and echoes it back.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ctxKeyRequestID, id)
		c.Writer.Header().Set(headerRequestID, id)
		c.Next()
	}
}

// RequestLogger emits one structured line per request.
func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	logger = logger.With().Str("component", "http").Logger()
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		event := logger.Info()
		if c.Writer.Status() >= http.StatusInternalServerError {
			event = logger.Error()
		}
		event.
			Str("request_id", c.GetString(ctxKeyRequestID)).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request handled")
	}
}

// AddressLimiter enforces a per-wallet request budget on payment endpoints.
// The key is the payer address when the header decodes, the client IP
// otherwise, so malformed headers cannot dodge the limit.
type AddressLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	limit    rate.Limit
	burst    int
	window   time.Duration
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewAddressLimiter builds a limiter allowing requests per window per key.
func NewAddressLimiter(requests int, window time.Duration) *AddressLimiter {
	return &AddressLimiter{
		limiters: make(map[string]*limiterEntry),
		limit:    rate.Every(window / time.Duration(requests)),
		burst:    requests,
		window:   window,
	}
}

// Allow reports whether key may proceed.
func (l *AddressLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	entry, ok := l.limiters[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[key] = entry
	}
	entry.lastSeen = now

	// Opportunistic sweep of idle keys.
	if len(l.limiters) > 1024 {
		for k, e := range l.limiters {
			if now.Sub(e.lastSeen) > l.window {
				delete(l.limiters, k)
			}
		}
	}

	return entry.limiter.Allow()
}

// Middleware returns the gin handler enforcing the limit.
func (l *AddressLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if header, ok := x402.DecodePaymentHeader(c.GetHeader(x402.HeaderPayment)); ok {
			key = strings.ToLower(header.Authorization.From)
		}

		if !l.Allow(key) {
			c.Header("Retry-After", strconv.Itoa(int(l.window.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":     "too many payment requests",
				"errorCode": x402.CodeRateLimited,
			})
			return
		}
		c.Next()
	}
}

// PendingPayments deduplicates concurrent submissions of the same signed
// payment, keyed by the signature hash. Entries expire so a crashed request
// cannot wedge a payer.
type PendingPayments struct {
	mu      sync.Mutex
	pending map[string]time.Time
}

// NewPendingPayments constructs an empty dedup cache.
func NewPendingPayments() *PendingPayments {
	return &PendingPayments{pending: make(map[string]time.Time)}
}

// Begin registers the payment as in flight; false means a duplicate is
// already being processed.
func (p *PendingPayments) Begin(rawHeader string) (key string, ok bool) {
	key = hexutil.Encode(crypto.Keccak256([]byte(rawHeader)))

	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	if started, exists := p.pending[key]; exists && now.Sub(started) < pendingTTL {
		return key, false
	}
	p.pending[key] = now
	return key, true
}

// End clears the in-flight entry.
func (p *PendingPayments) End(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.pending, key)
}

// RequirePayment gates a route behind a settled x402 payment. A missing
// header produces 402 with the resource's requirements; an invalid or
// failed payment produces 402 with the specific error code; a settled one
// attaches the header and tx hash to the request context and proceeds.
func (s *Server) RequirePayment(requirements x402.Requirements) gin.HandlerFunc {
	return func(c *gin.Context) {
		rawHeader := c.GetHeader(x402.HeaderPayment)
		if rawHeader == "" {
			s.metrics.PaymentDenied.WithLabelValues(x402.CodePaymentRequired).Inc()
			c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{
				"error": "payment required",
				"code":  x402.CodePaymentRequired,
				"requirements": gin.H{
					"token":     requirements.Token,
					"recipient": requirements.Recipient,
					"amount":    requirements.Amount,
					"network":   requirements.Network,
				},
			})
			return
		}

		key, fresh := s.pending.Begin(rawHeader)
		if !fresh {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{
				"error":     "payment already in progress",
				"errorCode": x402.CodeTransactionPending,
			})
			return
		}
		defer s.pending.End(key)

		outcome := s.coordinator.Settle(c.Request.Context(), settlement.SettleRequest{
			RawHeader:    rawHeader,
			Requirements: requirements,
		})
		if !outcome.Success {
			s.metrics.PaymentDenied.WithLabelValues(outcome.Failure.Code).Inc()
			c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{
				"error":     outcome.Failure.Message,
				"errorCode": outcome.Failure.Code,
				"retryable": x402.Retryable(outcome.Failure.Code),
			})
			return
		}

		header, _ := x402.DecodePaymentHeader(rawHeader)
		c.Set(ctxKeyPaymentHeader, rawHeader)
		c.Set(ctxKeyPaymentTxHash, outcome.TxHash)
		if header != nil {
			c.Set(ctxKeyPaymentFrom, header.Authorization.From)
		}
		c.Next()
	}
}

// recoverPanics keeps a handler panic from killing the process; the request
// fails with INTERNAL_ERROR and everything else keeps serving.
func recoverPanics(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error().Str("panic", fmt.Sprint(r)).Str("path", c.Request.URL.Path).Msg("handler panicked")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":     "internal error",
					"errorCode": x402.CodeInternalError,
				})
			}
		}()
		c.Next()
	}
}
