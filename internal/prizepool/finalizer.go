package prizepool

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"x402arcade/internal/arcade"
	"x402arcade/internal/notify"
)

// poolPeriod is the accumulation window of a pool. Pools are daily; the
// finalization job fires shortly after midnight UTC for the day that just
// closed.
const poolPeriod = 24 * time.Hour

// winnersPerPool bounds how many ranked players are pulled from the board;
// only as many as the payout table covers can be paid.
const winnersPerPool = 3

// PayoutSink persists finalized pools and their payouts. Implemented by the
// storage package; nil disables persistence.
type PayoutSink interface {
	UpsertPool(ctx context.Context, pool Pool) error
	InsertPayouts(ctx context.Context, pool Pool, payouts []Distribution) error
}

// Locker serialises finalization across instances. Implemented by the
// storage package's advisory lock; nil skips locking.
type Locker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Finalizer closes out daily pools: rank the day's scores, lock the pool,
// extract the fee, distribute, persist, notify.
type Finalizer struct {
	manager  *Manager
	boards   *arcade.Leaderboard
	games    []arcade.Game
	sink     PayoutSink
	locker   Locker
	lockKey  int64
	notifier notify.Notifier
	logger   zerolog.Logger
}

// NewFinalizer constructs a Finalizer.
func NewFinalizer(manager *Manager, boards *arcade.Leaderboard, games []arcade.Game, sink PayoutSink, locker Locker, lockKey int64, notifier notify.Notifier, logger zerolog.Logger) *Finalizer {
	return &Finalizer{
		manager:  manager,
		boards:   boards,
		games:    games,
		sink:     sink,
		locker:   locker,
		lockKey:  lockKey,
		notifier: notifier,
		logger:   logger.With().Str("component", "finalizer").Logger(),
	}
}

// Run satisfies scheduler.JobFunc; window is the start of the new day, so
// the pool being finalized belongs to the day before it.
func (f *Finalizer) Run(ctx context.Context, window time.Time) error {
	unlock, proceed, err := f.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		f.logger.Debug().Time("window", window).Msg("skip finalization, advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	day := window.Add(-poolPeriod)
	return f.FinalizeDay(ctx, day)
}

// FinalizeDay closes every game's pool for the given day.
func (f *Finalizer) FinalizeDay(ctx context.Context, day time.Time) error {
	var firstErr error
	for _, game := range f.games {
		if err := f.finalizeGame(ctx, game.ID, day); err != nil {
			f.logger.Error().Err(err).Str("game", game.ID).Msg("pool finalization failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (f *Finalizer) finalizeGame(ctx context.Context, game string, day time.Time) error {
	if f.manager.Get(game, day) == nil {
		f.logger.Debug().Str("game", game).Time("day", day).Msg("no pool accumulated, nothing to finalize")
		return nil
	}

	winners := f.boards.TopPlayers(game, day, winnersPerPool)

	pool, payouts, err := f.manager.Finalize(game, day, winners)
	if err != nil {
		return fmt.Errorf("finalize pool: %w", err)
	}

	if f.sink != nil {
		if err := f.sink.UpsertPool(ctx, *pool); err != nil {
			return fmt.Errorf("persist pool: %w", err)
		}
		if len(payouts) > 0 {
			if err := f.sink.InsertPayouts(ctx, *pool, payouts); err != nil {
				return fmt.Errorf("persist payouts: %w", err)
			}
		}
	}

	f.logger.Info().
		Str("game", game).
		Time("day", day).
		Str("total", pool.Total.String()).
		Int("payouts", len(payouts)).
		Str("state", string(pool.State)).
		Msg("pool finalized")

	if f.notifier != nil {
		note := notify.PrizeNotification{
			Game:      game,
			Day:       day,
			PoolTotal: pool.Total,
		}
		for _, payout := range payouts {
			note.Payouts = append(note.Payouts, notify.Payout{
				Rank:      payout.Rank,
				Recipient: payout.Recipient,
				Amount:    payout.Amount,
			})
		}
		if err := f.notifier.Notify(ctx, note); err != nil {
			f.logger.Error().Err(err).Str("game", game).Msg("failed to send prize notification")
		}
	}

	return nil
}

func (f *Finalizer) acquireLock(ctx context.Context) (func(), bool, error) {
	if f.lockKey == 0 || f.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := f.locker.TryAdvisoryLock(ctx, f.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
