package ledger

import (
	"context"
	"strings"
	"sync"
	"time"
)

// NonceLedger tracks consumed (from, nonce) pairs. Consume must behave as an
// atomic check-then-set per key: of any number of concurrent callers for the
// same pair, exactly one observes consumed=true.
type NonceLedger interface {
	// Used reports whether the pair has been consumed.
	Used(ctx context.Context, from, nonce string) (bool, error)
	// Consume marks the pair consumed and reports whether this call won.
	Consume(ctx context.Context, from, nonce, txHash string) (bool, error)
}

type nonceEntry struct {
	txHash string
	usedAt time.Time
}

// Memory is a mutex-guarded in-process ledger. Suitable for single-instance
// deployments and tests; the storage package provides the durable variant.
type Memory struct {
	mu    sync.Mutex
	used  map[string]nonceEntry
	clock func() time.Time
}

// NewMemory constructs an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{used: make(map[string]nonceEntry), clock: time.Now}
}

// Used reports whether the pair has been consumed.
func (m *Memory) Used(_ context.Context, from, nonce string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.used[nonceKey(from, nonce)]
	return ok, nil
}

// Consume marks the pair consumed, returning false if another caller won.
func (m *Memory) Consume(_ context.Context, from, nonce, txHash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := nonceKey(from, nonce)
	if _, ok := m.used[key]; ok {
		return false, nil
	}
	m.used[key] = nonceEntry{txHash: txHash, usedAt: m.clock()}
	return true, nil
}

// Len reports the number of consumed pairs.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.used)
}

// PruneBefore drops entries consumed before the cutoff. Expired
// authorizations cannot be replayed anyway, so old pairs are safe to forget.
func (m *Memory) PruneBefore(cutoff time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, entry := range m.used {
		if entry.usedAt.Before(cutoff) {
			delete(m.used, key)
			removed++
		}
	}
	return removed
}

func nonceKey(from, nonce string) string {
	return strings.ToLower(from) + ":" + strings.ToLower(nonce)
}

var _ NonceLedger = (*Memory)(nil)
