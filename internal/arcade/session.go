package arcade

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session statuses.
const (
	SessionActive  = "active"
	SessionDone    = "done"
	SessionExpired = "expired"
)

var (
	// ErrSessionNotFound is returned for unknown session IDs.
	ErrSessionNotFound = errors.New("arcade: session not found")
	// ErrSessionClosed is returned when scoring a non-active session.
	ErrSessionClosed = errors.New("arcade: session is not active")
)

// Game describes a playable title and its entry price in atomic token units.
type Game struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Price string `json:"price"`
}

// DefaultGames is the launch catalogue.
func DefaultGames() []Game {
	return []Game{
		{ID: "snake", Name: "Snake", Price: "10000"},
		{ID: "tetris", Name: "Tetris", Price: "10000"},
	}
}

// Session is one paid play, opened by a settled payment.
type Session struct {
	ID        string    `json:"id"`
	Game      string    `json:"game"`
	Player    string    `json:"player"`
	TxHash    string    `json:"txHash"`
	Status    string    `json:"status"`
	Score     int64     `json:"score"`
	StartedAt time.Time `json:"startedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Sessions tracks paid play sessions in memory.
type Sessions struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time
}

// NewSessions constructs a session tracker. ttl bounds how long an opened
// session may stay active before the cleanup job expires it.
func NewSessions(ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Sessions{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Open creates an active session for a settled payment.
func (s *Sessions) Open(game, player, txHash string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	session := &Session{
		ID:        uuid.NewString(),
		Game:      game,
		Player:    player,
		TxHash:    txHash,
		Status:    SessionActive,
		StartedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	s.sessions[session.ID] = session

	snapshot := *session
	return &snapshot
}

// Get returns a snapshot of the session, or ErrSessionNotFound.
func (s *Sessions) Get(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	snapshot := *session
	return &snapshot, nil
}

// SubmitScore records the final score and closes the session.
func (s *Sessions) SubmitScore(id string, score int64) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if session.Status != SessionActive {
		return nil, ErrSessionClosed
	}
	if s.now().After(session.ExpiresAt) {
		session.Status = SessionExpired
		return nil, ErrSessionClosed
	}

	session.Score = score
	session.Status = SessionDone

	snapshot := *session
	return &snapshot, nil
}

// ExpireStale marks overdue active sessions expired and reports how many.
func (s *Sessions) ExpireStale() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	expired := 0
	for _, session := range s.sessions {
		if session.Status == SessionActive && now.After(session.ExpiresAt) {
			session.Status = SessionExpired
			expired++
		}
	}
	return expired
}
