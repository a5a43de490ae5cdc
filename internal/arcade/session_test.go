package arcade

import (
	"errors"
	"testing"
	"time"
)

func TestOpenAndGetSession(t *testing.T) {
	sessions := NewSessions(time.Minute)

	opened := sessions.Open("snake", "0xPlayer", "0xtx")
	if opened.ID == "" {
		t.Fatal("session should get an ID")
	}
	if opened.Status != SessionActive {
		t.Fatalf("status: got %s", opened.Status)
	}
	if !opened.ExpiresAt.After(opened.StartedAt) {
		t.Fatal("expiry must be after start")
	}

	got, err := sessions.Get(opened.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Game != "snake" || got.Player != "0xPlayer" || got.TxHash != "0xtx" {
		t.Fatalf("unexpected session: %+v", got)
	}

	if _, err := sessions.Get("missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSubmitScoreClosesSession(t *testing.T) {
	sessions := NewSessions(time.Minute)
	opened := sessions.Open("snake", "0xPlayer", "0xtx")

	done, err := sessions.SubmitScore(opened.ID, 123)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if done.Status != SessionDone || done.Score != 123 {
		t.Fatalf("unexpected closed session: %+v", done)
	}

	if _, err := sessions.SubmitScore(opened.ID, 456); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("second submission should fail with ErrSessionClosed, got %v", err)
	}
}

func TestSubmitScoreAfterExpiry(t *testing.T) {
	sessions := NewSessions(time.Minute)
	opened := sessions.Open("snake", "0xPlayer", "0xtx")

	sessions.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	if _, err := sessions.SubmitScore(opened.ID, 1); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expired session should reject scores, got %v", err)
	}
	got, err := sessions.Get(opened.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != SessionExpired {
		t.Fatalf("status after late submission: got %s", got.Status)
	}
}

func TestExpireStale(t *testing.T) {
	sessions := NewSessions(time.Minute)
	sessions.Open("snake", "0xA", "0xtx1")
	sessions.Open("tetris", "0xB", "0xtx2")
	closed := sessions.Open("snake", "0xC", "0xtx3")
	if _, err := sessions.SubmitScore(closed.ID, 9); err != nil {
		t.Fatalf("submit: %v", err)
	}

	sessions.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	if expired := sessions.ExpireStale(); expired != 2 {
		t.Fatalf("expired: got %d, want 2 (done sessions are left alone)", expired)
	}
	if expired := sessions.ExpireStale(); expired != 0 {
		t.Fatalf("second sweep should find nothing, got %d", expired)
	}
}

func TestDefaultGamesCatalogue(t *testing.T) {
	games := DefaultGames()
	if len(games) == 0 {
		t.Fatal("catalogue should not be empty")
	}
	for _, game := range games {
		if game.ID == "" || game.Price == "" {
			t.Fatalf("incomplete game entry: %+v", game)
		}
	}
}
