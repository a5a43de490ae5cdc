package prizepool

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// State tags a pool's position in its lifecycle. Transitions are enforced:
// accumulating → locked → distributing → distributed, with distributed
// terminal.
type State string

const (
	StateAccumulating State = "accumulating"
	StateLocked       State = "locked"
	StateDistributing State = "distributing"
	StateDistributed  State = "distributed"
)

var nextState = map[State]State{
	StateAccumulating: StateLocked,
	StateLocked:       StateDistributing,
	StateDistributing: StateDistributed,
}

// ErrInvalidTransition rejects out-of-order lifecycle moves.
type ErrInvalidTransition struct {
	From, To State
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("prizepool: cannot transition %s -> %s", e.From, e.To)
}

// Pool accumulates platform revenue for one game and day.
type Pool struct {
	ID        string
	Game      string
	Day       time.Time
	Total     decimal.Decimal
	State     State
	UpdatedAt time.Time
}

// Advance moves the pool to the requested state, enforcing lifecycle order.
func (p *Pool) Advance(to State) error {
	if nextState[p.State] != to {
		return &ErrInvalidTransition{From: p.State, To: to}
	}
	p.State = to
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// ManagerOptions tune the pool manager.
type ManagerOptions struct {
	FeePercent       decimal.Decimal
	Table            []decimal.Decimal
	MinDistributable decimal.Decimal
}

// Manager owns the in-flight pools, keyed by game and UTC day.
type Manager struct {
	mu    sync.Mutex
	pools map[string]*Pool
	opts  ManagerOptions
}

// NewManager constructs a Manager. Zero options fall back to the default
// 30% fee and 50/30/20 table.
func NewManager(opts ManagerOptions) *Manager {
	if opts.FeePercent.IsZero() {
		opts.FeePercent = DefaultFeePercent
	}
	if opts.Table == nil {
		opts.Table = DefaultTable
	}
	return &Manager{pools: make(map[string]*Pool), opts: opts}
}

// Contribute adds an amount to the accumulating pool for (game, day),
// creating the pool on first contribution. Locked or later pools reject
// contributions.
func (m *Manager) Contribute(game string, day time.Time, amount decimal.Decimal) (*Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := poolKey(game, day)
	pool, ok := m.pools[key]
	if !ok {
		pool = &Pool{
			ID:    uuid.NewString(),
			Game:  game,
			Day:   day.UTC().Truncate(24 * time.Hour),
			Total: decimal.Zero,
			State: StateAccumulating,
		}
		m.pools[key] = pool
	}

	if pool.State != StateAccumulating {
		return nil, fmt.Errorf("prizepool: pool %s is %s, not accepting contributions", pool.ID, pool.State)
	}

	pool.Total = pool.Total.Add(amount)
	pool.UpdatedAt = time.Now().UTC()

	snapshot := *pool
	return &snapshot, nil
}

// Get returns a snapshot of the pool for (game, day), or nil.
func (m *Manager) Get(game string, day time.Time) *Pool {
	m.mu.Lock()
	defer m.mu.Unlock()

	pool, ok := m.pools[poolKey(game, day)]
	if !ok {
		return nil
	}
	snapshot := *pool
	return &snapshot
}

// Snapshot returns copies of all tracked pools.
func (m *Manager) Snapshot() []Pool {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Pool, 0, len(m.pools))
	for _, pool := range m.pools {
		out = append(out, *pool)
	}
	return out
}

// Finalize walks the pool through its remaining lifecycle and returns the
// payouts. Pools below the minimum distributable threshold are locked but
// not paid out; the threshold gate lives here, not in Distribute.
func (m *Manager) Finalize(game string, day time.Time, rankedWinners []string) (*Pool, []Distribution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pool, ok := m.pools[poolKey(game, day)]
	if !ok {
		return nil, nil, fmt.Errorf("prizepool: no pool for %s on %s", game, day.UTC().Format("2006-01-02"))
	}

	if err := pool.Advance(StateLocked); err != nil {
		return nil, nil, err
	}

	_, distributable := ExtractFee(pool.Total, m.opts.FeePercent)
	if distributable.LessThan(m.opts.MinDistributable) {
		snapshot := *pool
		return &snapshot, nil, nil
	}

	if err := pool.Advance(StateDistributing); err != nil {
		return nil, nil, err
	}

	payouts, err := Distribute(distributable, rankedWinners, m.opts.Table)
	if err != nil {
		return nil, nil, err
	}

	if err := pool.Advance(StateDistributed); err != nil {
		return nil, nil, err
	}

	snapshot := *pool
	return &snapshot, payouts, nil
}

func poolKey(game string, day time.Time) string {
	return game + ":" + day.UTC().Format("2006-01-02")
}
