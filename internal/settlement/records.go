package settlement

import (
	"context"
	"strings"
	"sync"
	"time"

	"x402arcade/internal/x402"
)

// Record is the persisted result of a successful settlement. Immutable once
// written; at most one record per (from, nonce) pair ever exists because the
// nonce ledger gates creation.
type Record struct {
	TxHash        string
	BlockNumber   uint64
	Timestamp     time.Time
	Authorization x402.PaymentAuthorization
}

// RefundRecord is the result of a refund request against a settlement.
type RefundRecord struct {
	RefundTxHash   string
	OriginalTxHash string
	AmountRefunded string
	Reason         string
	Timestamp      time.Time
}

// RecordStore persists settlement and refund records. InsertRefund must be an
// atomic first-writer-wins per original hash so at most one refund exists per
// settlement.
type RecordStore interface {
	InsertSettlement(ctx context.Context, rec Record) error
	GetSettlement(ctx context.Context, txHash string) (*Record, error)
	ListRecentSettlements(ctx context.Context, limit int) ([]Record, error)
	InsertRefund(ctx context.Context, rec RefundRecord) (bool, error)
	GetRefund(ctx context.Context, originalTxHash string) (*RefundRecord, error)
}

// MemoryStore keeps records in mutex-guarded maps.
type MemoryStore struct {
	mu          sync.Mutex
	settlements map[string]Record
	order       []string
	refunds     map[string]RefundRecord
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		settlements: make(map[string]Record),
		refunds:     make(map[string]RefundRecord),
	}
}

// InsertSettlement stores a settlement record keyed by tx hash.
func (s *MemoryStore) InsertSettlement(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(rec.TxHash)
	if _, ok := s.settlements[key]; !ok {
		s.order = append(s.order, key)
	}
	s.settlements[key] = rec
	return nil
}

// GetSettlement looks a record up by tx hash; nil when unknown.
func (s *MemoryStore) GetSettlement(_ context.Context, txHash string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.settlements[strings.ToLower(txHash)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// ListRecentSettlements returns the newest records first.
func (s *MemoryStore) ListRecentSettlements(_ context.Context, limit int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit > len(s.order) {
		limit = len(s.order)
	}

	out := make([]Record, 0, limit)
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.settlements[s.order[i]])
	}
	return out, nil
}

// InsertRefund records a refund unless one already exists for the original
// transaction.
func (s *MemoryStore) InsertRefund(_ context.Context, rec RefundRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(rec.OriginalTxHash)
	if _, ok := s.refunds[key]; ok {
		return false, nil
	}
	s.refunds[key] = rec
	return true, nil
}

// GetRefund looks up the refund for a settlement; nil when none exists.
func (s *MemoryStore) GetRefund(_ context.Context, originalTxHash string) (*RefundRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.refunds[strings.ToLower(originalTxHash)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

var _ RecordStore = (*MemoryStore)(nil)
