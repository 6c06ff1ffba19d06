// Package session keeps per-sender conversation state in memory for the
// lifetime of the process.
package session

import (
	"log/slog"
	"sync"

	"relaybot/internal/domain"
)

// Session is the state remembered for one sender.
type Session struct {
	mu         sync.Mutex
	transcript []domain.Turn
	lastImage  string
}

// Store maps sender ids to sessions. Sessions are created lazily and never removed.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	maxTurns int // 0 keeps the whole transcript
	logger   *slog.Logger
	onCreate func(count int)
}

type StoreConfig struct {
	MaxTurns int
	Logger   *slog.Logger
	// OnCreate is called with the new session count whenever a session is created.
	OnCreate func(count int)
}

func NewStore(cfg StoreConfig) *Store {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxTurns < 0 {
		cfg.MaxTurns = 0
	}
	return &Store{
		sessions: make(map[string]*Session),
		maxTurns: cfg.MaxTurns,
		logger:   cfg.Logger,
		onCreate: cfg.OnCreate,
	}
}

// GetOrCreate returns the sender's session, creating it on first contact.
func (s *Store) GetOrCreate(senderID string) *Session {
	// Fast path: read lock
	s.mu.RLock()
	sess, ok := s.sessions[senderID]
	s.mu.RUnlock()
	if ok {
		return sess
	}

	// Slow path: write lock, double-check
	s.mu.Lock()
	sess, ok = s.sessions[senderID]
	if ok {
		s.mu.Unlock()
		return sess
	}
	sess = &Session{}
	s.sessions[senderID] = sess
	count := len(s.sessions)
	s.mu.Unlock()

	s.logger.Info("created new session", "sender", senderID, "sessions", count)
	if s.onCreate != nil {
		s.onCreate(count)
	}
	return sess
}

// RecordTurn appends a turn to the sender's transcript.
func (s *Store) RecordTurn(senderID string, role domain.Role, content string) {
	sess := s.GetOrCreate(senderID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	sess.transcript = append(sess.transcript, domain.Turn{Role: role, Content: content})
	if s.maxTurns > 0 && len(sess.transcript) > s.maxTurns {
		dropped := len(sess.transcript) - s.maxTurns
		sess.transcript = append([]domain.Turn(nil), sess.transcript[dropped:]...)
	}
}

// Transcript returns a copy of the sender's turns in insertion order.
func (s *Store) Transcript(senderID string) []domain.Turn {
	sess := s.GetOrCreate(senderID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	out := make([]domain.Turn, len(sess.transcript))
	copy(out, sess.transcript)
	return out
}

// SetLastImage remembers the most recent image the sender sent.
func (s *Store) SetLastImage(senderID, url string) {
	sess := s.GetOrCreate(senderID)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.lastImage = url
}

// LastImage returns the sender's remembered image, if any.
func (s *Store) LastImage(senderID string) (string, bool) {
	sess := s.GetOrCreate(senderID)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.lastImage, sess.lastImage != ""
}

// Len returns the number of known senders.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
