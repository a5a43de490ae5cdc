package ledger

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestConsumeIsFirstWriterWins(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	won, err := m.Consume(ctx, "0xAA", "0x01", "0xtx")
	if err != nil || !won {
		t.Fatalf("first consume should win: won=%v err=%v", won, err)
	}

	won, err = m.Consume(ctx, "0xaa", "0x01", "0xtx2")
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if won {
		t.Fatal("case-insensitive duplicate should not win")
	}

	used, err := m.Used(ctx, "0xAA", "0x01")
	if err != nil || !used {
		t.Fatalf("pair should be used: used=%v err=%v", used, err)
	}
}

func TestConsumeConcurrentSingleWinner(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	const goroutines = 64
	var wg sync.WaitGroup
	wins := make(chan bool, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := m.Consume(ctx, "0xAA", "0xFF", "")
			if err != nil {
				t.Errorf("consume: %v", err)
				return
			}
			wins <- won
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for won := range wins {
		if won {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("exactly one concurrent consumer should win, got %d", winners)
	}
}

func TestDistinctPairsAreIndependent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	pairs := [][2]string{
		{"0xAA", "0x01"},
		{"0xAA", "0x02"},
		{"0xBB", "0x01"},
	}
	for _, pair := range pairs {
		won, err := m.Consume(ctx, pair[0], pair[1], "")
		if err != nil || !won {
			t.Fatalf("pair %v should consume independently: won=%v err=%v", pair, won, err)
		}
	}
	if m.Len() != len(pairs) {
		t.Fatalf("ledger size: got %d, want %d", m.Len(), len(pairs))
	}
}

func TestPruneBefore(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	base := time.Unix(1_700_000_000, 0)
	m.clock = func() time.Time { return base }
	if _, err := m.Consume(ctx, "0xAA", "0x01", ""); err != nil {
		t.Fatalf("consume: %v", err)
	}

	m.clock = func() time.Time { return base.Add(time.Hour) }
	if _, err := m.Consume(ctx, "0xAA", "0x02", ""); err != nil {
		t.Fatalf("consume: %v", err)
	}

	removed := m.PruneBefore(base.Add(time.Minute))
	if removed != 1 {
		t.Fatalf("prune should remove the older entry, removed %d", removed)
	}
	if used, _ := m.Used(ctx, "0xAA", "0x02"); !used {
		t.Fatal("newer entry should survive pruning")
	}
}
