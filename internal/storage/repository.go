package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"x402arcade/internal/prizepool"
	"x402arcade/internal/settlement"
	"x402arcade/internal/x402"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	consumeNonceSQL = `INSERT INTO used_nonces (from_address, nonce, tx_hash)
    VALUES ($1, $2, NULLIF($3, ''))
    ON CONFLICT (from_address, nonce) DO NOTHING;`

	nonceUsedSQL = `SELECT EXISTS (
        SELECT 1 FROM used_nonces WHERE from_address = $1 AND nonce = $2
    );`

	pruneNoncesSQL = `DELETE FROM used_nonces WHERE used_at < $1;`

	insertSettlementSQL = `INSERT INTO settlement_records (
        tx_hash,
        block_number,
        settled_at,
        from_address,
        to_address,
        value,
        valid_after,
        valid_before,
        nonce,
        signature
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
    );`

	getSettlementSQL = `SELECT
        tx_hash,
        block_number,
        settled_at,
        from_address,
        to_address,
        value,
        valid_after,
        valid_before,
        nonce,
        signature
    FROM settlement_records
    WHERE tx_hash = $1;`

	listRecentSettlementsSQL = `SELECT
        tx_hash,
        block_number,
        settled_at,
        from_address,
        to_address,
        value,
        valid_after,
        valid_before,
        nonce,
        signature
    FROM settlement_records
    ORDER BY settled_at DESC
    LIMIT $1;`

	insertRefundSQL = `INSERT INTO refund_records (
        original_tx_hash,
        refund_tx_hash,
        amount_refunded,
        reason,
        created_at
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    ON CONFLICT (original_tx_hash) DO NOTHING;`

	getRefundSQL = `SELECT
        original_tx_hash,
        refund_tx_hash,
        amount_refunded,
        reason,
        created_at
    FROM refund_records
    WHERE original_tx_hash = $1;`

	upsertPoolSQL = `INSERT INTO prize_pools (
        id,
        game,
        day,
        total,
        state,
        updated_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    )
    ON CONFLICT (game, day) DO UPDATE
    SET total      = EXCLUDED.total,
        state      = EXCLUDED.state,
        updated_at = EXCLUDED.updated_at;`

	insertPayoutSQL = `INSERT INTO prize_payouts (
        pool_id,
        game,
        day,
        rank,
        recipient,
        amount,
        percentage
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    );`

	listPayoutsSQL = `SELECT
        pool_id,
        game,
        day,
        rank,
        recipient,
        amount,
        percentage,
        created_at
    FROM prize_payouts
    ORDER BY created_at DESC, rank
    LIMIT $1;`

	dailyVolumeSQL = `SELECT
        date_trunc('day', s.settled_at) AS day,
        COUNT(*) AS settlements,
        COALESCE(SUM(s.value::numeric), 0) AS volume,
        COUNT(r.original_tx_hash) AS refunds
    FROM settlement_records s
    LEFT JOIN refund_records r ON r.original_tx_hash = s.tx_hash
    WHERE s.settled_at >= $1
      AND s.settled_at < $2
    GROUP BY 1
    ORDER BY 1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// AdvisoryLocker exposes advisory lock helpers so only one instance runs the
// finalization job.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store provides durable nonce, settlement, refund, and prize persistence
// over a pgx pool. It satisfies ledger.NonceLedger and
// settlement.RecordStore.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// Used reports whether a (from, nonce) pair has been consumed.
func (s *Store) Used(ctx context.Context, from, nonce string) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}

	var used bool
	if scanErr := pool.QueryRow(ctx, nonceUsedSQL, strings.ToLower(from), strings.ToLower(nonce)).Scan(&used); scanErr != nil {
		return false, fmt.Errorf("query nonce: %w", scanErr)
	}
	return used, nil
}

// Consume marks a (from, nonce) pair consumed. The ON CONFLICT DO NOTHING
// insert is the atomic check-then-set; the command tag tells us who won.
func (s *Store) Consume(ctx context.Context, from, nonce, txHash string) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}

	tag, execErr := pool.Exec(ctx, consumeNonceSQL, strings.ToLower(from), strings.ToLower(nonce), txHash)
	if execErr != nil {
		return false, fmt.Errorf("consume nonce: %w", execErr)
	}
	return tag.RowsAffected() == 1, nil
}

// PruneNoncesBefore drops nonce rows older than the cutoff. Expired
// authorizations cannot be replayed, so old rows are safe to remove.
func (s *Store) PruneNoncesBefore(ctx context.Context, cutoff time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, pruneNoncesSQL, cutoff); execErr != nil {
		return fmt.Errorf("prune nonces: %w", execErr)
	}
	return nil
}

// InsertSettlement persists a settlement record.
func (s *Store) InsertSettlement(ctx context.Context, rec settlement.Record) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	auth := rec.Authorization
	_, execErr := pool.Exec(ctx, insertSettlementSQL,
		strings.ToLower(rec.TxHash),
		rec.BlockNumber,
		rec.Timestamp,
		auth.From,
		auth.To,
		auth.Value,
		auth.ValidAfter,
		auth.ValidBefore,
		auth.Nonce,
		auth.Signature,
	)
	if execErr != nil {
		return fmt.Errorf("insert settlement: %w", execErr)
	}
	return nil
}

// GetSettlement looks a settlement up by tx hash; nil when unknown.
func (s *Store) GetSettlement(ctx context.Context, txHash string) (*settlement.Record, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	row := pool.QueryRow(ctx, getSettlementSQL, strings.ToLower(txHash))
	rec, scanErr := scanSettlement(row)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, scanErr
	}
	return rec, nil
}

// ListRecentSettlements lists the most recent settlements first.
func (s *Store) ListRecentSettlements(ctx context.Context, limit int) ([]settlement.Record, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSettlementsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list settlements: %w", queryErr)
	}
	defer rows.Close()

	records := make([]settlement.Record, 0, limit)
	for rows.Next() {
		rec, scanErr := scanSettlement(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, *rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// InsertRefund records a refund unless the settlement is already refunded.
func (s *Store) InsertRefund(ctx context.Context, rec settlement.RefundRecord) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}

	tag, execErr := pool.Exec(ctx, insertRefundSQL,
		strings.ToLower(rec.OriginalTxHash),
		strings.ToLower(rec.RefundTxHash),
		rec.AmountRefunded,
		rec.Reason,
		rec.Timestamp,
	)
	if execErr != nil {
		return false, fmt.Errorf("insert refund: %w", execErr)
	}
	return tag.RowsAffected() == 1, nil
}

// GetRefund looks up the refund for a settlement; nil when none exists.
func (s *Store) GetRefund(ctx context.Context, originalTxHash string) (*settlement.RefundRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var rec settlement.RefundRecord
	row := pool.QueryRow(ctx, getRefundSQL, strings.ToLower(originalTxHash))
	if scanErr := row.Scan(
		&rec.OriginalTxHash,
		&rec.RefundTxHash,
		&rec.AmountRefunded,
		&rec.Reason,
		&rec.Timestamp,
	); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get refund: %w", scanErr)
	}
	return &rec, nil
}

// UpsertPool persists a prize pool snapshot.
func (s *Store) UpsertPool(ctx context.Context, pool prizepool.Pool) error {
	db, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := db.Exec(ctx, upsertPoolSQL,
		pool.ID,
		pool.Game,
		pool.Day,
		pool.Total.String(),
		string(pool.State),
		pool.UpdatedAt,
	)
	if execErr != nil {
		return fmt.Errorf("upsert pool: %w", execErr)
	}
	return nil
}

// InsertPayouts persists the payouts of a finalized pool.
func (s *Store) InsertPayouts(ctx context.Context, pool prizepool.Pool, payouts []prizepool.Distribution) error {
	db, err := s.getPool()
	if err != nil {
		return err
	}

	for _, payout := range payouts {
		if _, execErr := db.Exec(ctx, insertPayoutSQL,
			pool.ID,
			pool.Game,
			pool.Day,
			payout.Rank,
			payout.Recipient,
			payout.Amount.String(),
			payout.Percentage.String(),
		); execErr != nil {
			return fmt.Errorf("insert payout: %w", execErr)
		}
	}
	return nil
}

// ListPayoutHistory lists the most recent prize payouts.
func (s *Store) ListPayoutHistory(ctx context.Context, limit int) ([]PayoutRow, error) {
	db, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := db.Query(ctx, listPayoutsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list payouts: %w", queryErr)
	}
	defer rows.Close()

	payouts := make([]PayoutRow, 0, limit)
	for rows.Next() {
		var row PayoutRow
		var amountStr, percentageStr string
		if scanErr := rows.Scan(
			&row.PoolID,
			&row.Game,
			&row.Day,
			&row.Rank,
			&row.Recipient,
			&amountStr,
			&percentageStr,
			&row.CreatedAt,
		); scanErr != nil {
			return nil, scanErr
		}

		var convErr error
		row.Amount, convErr = decimal.NewFromString(amountStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse payout amount: %w", convErr)
		}
		row.Percentage, convErr = decimal.NewFromString(percentageStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse payout percentage: %w", convErr)
		}

		payouts = append(payouts, row)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return payouts, nil
}

// DailyVolumes aggregates settlements per UTC day within a window.
func (s *Store) DailyVolumes(ctx context.Context, from, to time.Time) ([]DailyVolume, error) {
	db, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := db.Query(ctx, dailyVolumeSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("daily volumes: %w", queryErr)
	}
	defer rows.Close()

	volumes := make([]DailyVolume, 0)
	for rows.Next() {
		var vol DailyVolume
		var volumeStr string
		if scanErr := rows.Scan(&vol.Day, &vol.Settlements, &volumeStr, &vol.Refunds); scanErr != nil {
			return nil, scanErr
		}

		var convErr error
		vol.Volume, convErr = decimal.NewFromString(volumeStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse volume: %w", convErr)
		}
		volumes = append(volumes, vol)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return volumes, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a
// release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// Best-effort unlock; the session drop releases the lock anyway.
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

type settlementScanner interface {
	Scan(dest ...any) error
}

func scanSettlement(row settlementScanner) (*settlement.Record, error) {
	var (
		rec  settlement.Record
		auth x402.PaymentAuthorization
	)

	if err := row.Scan(
		&rec.TxHash,
		&rec.BlockNumber,
		&rec.Timestamp,
		&auth.From,
		&auth.To,
		&auth.Value,
		&auth.ValidAfter,
		&auth.ValidBefore,
		&auth.Nonce,
		&auth.Signature,
	); err != nil {
		return nil, err
	}

	rec.Authorization = auth
	return &rec, nil
}
