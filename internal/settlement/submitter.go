package settlement

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"x402arcade/internal/x402"
)

// Submitter broadcasts a validated authorization and returns the resulting
// transaction hash and block number. The hash is opaque to this layer; a
// production submitter relays transferWithAuthorization on-chain, the
// simulated one below fabricates receipts.
type Submitter interface {
	Submit(ctx context.Context, auth x402.PaymentAuthorization) (txHash string, blockNumber uint64, err error)
}

// SimulatedOptions tune the simulated submitter. Latency and FailureRate
// model real facilitator jitter for tests and the simulate CLI command.
type SimulatedOptions struct {
	Latency     time.Duration
	Jitter      time.Duration
	FailureRate float64
	StartBlock  uint64
}

// Simulated fabricates settlement receipts without touching a chain.
type Simulated struct {
	opts   SimulatedOptions
	logger zerolog.Logger

	mu    sync.Mutex
	block uint64
	rng   *rand.Rand
}

// NewSimulated constructs a simulated submitter.
func NewSimulated(opts SimulatedOptions, logger zerolog.Logger) *Simulated {
	start := opts.StartBlock
	if start == 0 {
		start = 18_000_000
	}
	return &Simulated{
		opts:   opts,
		logger: logger.With().Str("component", "submitter").Logger(),
		block:  start,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Submit waits out the configured latency, rolls the failure dice, and
// returns a fabricated receipt. The hash is keccak256 over the authorization
// identity plus a fresh UUID, so two settlements never collide.
func (s *Simulated) Submit(ctx context.Context, auth x402.PaymentAuthorization) (string, uint64, error) {
	if delay := s.delay(); delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", 0, ctx.Err()
		case <-timer.C:
		}
	}

	if s.roll() {
		s.logger.Warn().Str("from", auth.From).Msg("injected settlement failure")
		return "", 0, errInjectedFailure
	}

	seed := auth.From + "|" + auth.Nonce + "|" + uuid.NewString()
	hash := hexutil.Encode(crypto.Keccak256([]byte(seed)))

	s.mu.Lock()
	s.block++
	block := s.block
	s.mu.Unlock()

	return hash, block, nil
}

func (s *Simulated) delay() time.Duration {
	base := s.opts.Latency
	if s.opts.Jitter <= 0 {
		return base
	}
	s.mu.Lock()
	jitter := time.Duration(s.rng.Int63n(int64(s.opts.Jitter)))
	s.mu.Unlock()
	return base + jitter
}

func (s *Simulated) roll() bool {
	if s.opts.FailureRate <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64() < s.opts.FailureRate
}

type submitError string

func (e submitError) Error() string { return string(e) }

const errInjectedFailure = submitError("simulated broadcast failure")

var _ Submitter = (*Simulated)(nil)
