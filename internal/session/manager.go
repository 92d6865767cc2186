package session

import (
	"log/slog"
	"sync"
	"time"
)

// Manager hands out sessions under per-conversation mutual exclusion.
// Holding a session (between Acquire and its release func) serializes
// all handling for that conversation, which is what guarantees
// in-order responses per conversation while unrelated conversations
// interleave freely.
type Manager struct {
	inactivity time.Duration
	logger     *slog.Logger

	mu       sync.Mutex
	sessions map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	sess *Session
}

// NewManager creates a manager whose sessions reset to Idle after the
// given inactivity window.
func NewManager(inactivity time.Duration, logger *slog.Logger) *Manager {
	return &Manager{
		inactivity: inactivity,
		logger:     logger,
		sessions:   make(map[string]*entry),
	}
}

// Acquire returns the conversation's session with its lock held; the
// returned release func must be called when handling of the current
// message is done. A session whose pending flow outlived the
// inactivity window is reset to Idle before being returned.
func (m *Manager) Acquire(conversationID string) (*Session, func()) {
	m.mu.Lock()
	e, ok := m.sessions[conversationID]
	if !ok {
		e = &entry{sess: newSession(conversationID)}
		m.sessions[conversationID] = e
	}
	m.mu.Unlock()

	e.mu.Lock()

	now := time.Now()
	if !e.sess.Idle() && !e.sess.LastActivity.IsZero() && now.Sub(e.sess.LastActivity) > m.inactivity {
		m.logger.Info("pending flow expired", "conversation_id", conversationID, "pending", e.sess.Pending)
		e.sess.Reset()
	}
	e.sess.LastActivity = now

	return e.sess, e.mu.Unlock
}
