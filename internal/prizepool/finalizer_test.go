package prizepool

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"x402arcade/internal/arcade"
	"x402arcade/internal/notify"
)

type recordingSink struct {
	pools   []Pool
	payouts []Distribution
}

func (s *recordingSink) UpsertPool(_ context.Context, pool Pool) error {
	s.pools = append(s.pools, pool)
	return nil
}

func (s *recordingSink) InsertPayouts(_ context.Context, _ Pool, payouts []Distribution) error {
	s.payouts = append(s.payouts, payouts...)
	return nil
}

type recordingNotifier struct {
	notes []notify.PrizeNotification
}

func (n *recordingNotifier) Notify(_ context.Context, note notify.PrizeNotification) error {
	n.notes = append(n.notes, note)
	return nil
}

type stubLocker struct {
	acquired bool
	unlocked bool
}

func (l *stubLocker) TryAdvisoryLock(context.Context, int64) (func(), bool, error) {
	if !l.acquired {
		return nil, false, nil
	}
	return func() { l.unlocked = true }, true, nil
}

func finalizerFixture(t *testing.T, sink PayoutSink, locker Locker, notifier notify.Notifier) (*Finalizer, *Manager, *arcade.Leaderboard) {
	t.Helper()

	manager := NewManager(ManagerOptions{})
	boards := arcade.NewLeaderboard()
	games := []arcade.Game{{ID: "snake", Name: "Snake", Price: "10000"}}
	f := NewFinalizer(manager, boards, games, sink, locker, 42, notifier, zerolog.Nop())
	return f, manager, boards
}

func TestFinalizeDayPersistsAndNotifies(t *testing.T) {
	sink := &recordingSink{}
	notifier := &recordingNotifier{}
	f, manager, boards := finalizerFixture(t, sink, nil, notifier)

	if _, err := manager.Contribute("snake", testDay, dec("100")); err != nil {
		t.Fatalf("contribute: %v", err)
	}
	boards.Record("snake", "0xAlice", 300, testDay)
	boards.Record("snake", "0xBob", 200, testDay)
	boards.Record("snake", "0xCarol", 100, testDay)

	if err := f.FinalizeDay(context.Background(), testDay); err != nil {
		t.Fatalf("finalize day: %v", err)
	}

	if len(sink.pools) != 1 || sink.pools[0].State != StateDistributed {
		t.Fatalf("pool should be persisted distributed, got %+v", sink.pools)
	}
	if len(sink.payouts) != 3 {
		t.Fatalf("payouts persisted: got %d", len(sink.payouts))
	}
	if sink.payouts[0].Recipient != "0xAlice" {
		t.Fatalf("rank 1: got %s, want the top scorer", sink.payouts[0].Recipient)
	}

	if len(notifier.notes) != 1 {
		t.Fatalf("notifications: got %d", len(notifier.notes))
	}
	if len(notifier.notes[0].Payouts) != 3 {
		t.Fatalf("notified payouts: got %d", len(notifier.notes[0].Payouts))
	}
}

func TestFinalizeDaySkipsGamesWithoutPools(t *testing.T) {
	sink := &recordingSink{}
	f, _, _ := finalizerFixture(t, sink, nil, nil)

	if err := f.FinalizeDay(context.Background(), testDay); err != nil {
		t.Fatalf("finalize day without pools should be a no-op: %v", err)
	}
	if len(sink.pools) != 0 {
		t.Fatal("nothing should be persisted")
	}
}

func TestRunRespectsAdvisoryLock(t *testing.T) {
	sink := &recordingSink{}
	locker := &stubLocker{acquired: false}
	f, manager, _ := finalizerFixture(t, sink, locker, nil)

	if _, err := manager.Contribute("snake", testDay, dec("100")); err != nil {
		t.Fatalf("contribute: %v", err)
	}

	window := testDay.AddDate(0, 0, 1)
	if err := f.Run(context.Background(), window); err != nil {
		t.Fatalf("run without lock should skip quietly: %v", err)
	}
	if len(sink.pools) != 0 {
		t.Fatal("another instance holds the lock; nothing may be finalized")
	}

	locker.acquired = true
	if err := f.Run(context.Background(), window); err != nil {
		t.Fatalf("run with lock: %v", err)
	}
	if len(sink.pools) != 1 {
		t.Fatalf("pool should be finalized once the lock is held, got %d", len(sink.pools))
	}
	if !locker.unlocked {
		t.Fatal("advisory lock must be released")
	}
}

// Run receives the start of the new day and finalizes the day before it.
func TestRunFinalizesPreviousDay(t *testing.T) {
	sink := &recordingSink{}
	f, manager, _ := finalizerFixture(t, sink, nil, nil)

	if _, err := manager.Contribute("snake", testDay, dec("100")); err != nil {
		t.Fatalf("contribute: %v", err)
	}

	if err := f.Run(context.Background(), testDay.Add(24*time.Hour)); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(sink.pools) != 1 {
		t.Fatalf("previous day's pool should be finalized, got %d", len(sink.pools))
	}
}
