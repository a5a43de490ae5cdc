package arcade

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Entry is a player's best score for one game and day.
type Entry struct {
	Player   string    `json:"player"`
	Score    int64     `json:"score"`
	ScoredAt time.Time `json:"scoredAt"`
}

// Leaderboard keeps per-game, per-day best scores. Ranking is by score
// descending; ties break toward the earlier submission.
type Leaderboard struct {
	mu   sync.Mutex
	best map[string]map[string]Entry
	now  func() time.Time
}

// NewLeaderboard constructs an empty leaderboard.
func NewLeaderboard() *Leaderboard {
	return &Leaderboard{best: make(map[string]map[string]Entry), now: time.Now}
}

// Record folds a finished session's score into the board. Lower scores than
// the player's existing best are ignored.
func (l *Leaderboard) Record(game, player string, score int64, day time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := boardKey(game, day)
	board, ok := l.best[key]
	if !ok {
		board = make(map[string]Entry)
		l.best[key] = board
	}

	id := strings.ToLower(player)
	existing, ok := board[id]
	if ok && existing.Score >= score {
		return
	}
	board[id] = Entry{Player: player, Score: score, ScoredAt: l.now().UTC()}
}

// Top returns up to n entries for (game, day), ranked.
func (l *Leaderboard) Top(game string, day time.Time, n int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	board := l.best[boardKey(game, day)]
	entries := make([]Entry, 0, len(board))
	for _, entry := range board {
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].ScoredAt.Before(entries[j].ScoredAt)
	})

	if n > 0 && len(entries) > n {
		entries = entries[:n]
	}
	return entries
}

// TopPlayers returns the ranked player addresses, ready for the prize
// distributor's positional table.
func (l *Leaderboard) TopPlayers(game string, day time.Time, n int) []string {
	entries := l.Top(game, day, n)
	players := make([]string, 0, len(entries))
	for _, entry := range entries {
		players = append(players, entry.Player)
	}
	return players
}

func boardKey(game string, day time.Time) string {
	return game + ":" + day.UTC().Format("2006-01-02")
}
