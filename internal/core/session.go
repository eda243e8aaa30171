package core

import (
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"diagnosure/pkg"
)

// Session binds a conversation to the patient who started it.
type Session struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
	*Conversation
}

// SessionManager keeps the live sessions of the process.  Sessions are
// independent of each other; the registry is bounded and idle sessions
// expire.
type SessionManager struct {
	sessions   *expirable.LRU[string, *Session]
	oracle     Analyzer
	defaultKey string
	log        *logrus.Logger
}

// NewSessionManager constructs a registry holding at most size sessions, each
// dropped after ttl without use.  defaultKey is the oracle credential given
// to new sessions; it may be empty.
func NewSessionManager(oracle Analyzer, defaultKey string, size int, ttl time.Duration, logger *logrus.Logger) *SessionManager {
	onEvict := func(id string, s *Session) {
		logger.WithFields(logrus.Fields{"session_id": id, "owner_id": s.OwnerID}).Debug("Session evicted")
	}
	return &SessionManager{
		sessions:   expirable.NewLRU[string, *Session](size, onEvict, ttl),
		oracle:     oracle,
		defaultKey: defaultKey,
		log:        logger,
	}
}

// Create starts a new session for user and returns it with its greeting.
func (m *SessionManager) Create(user pkg.User) (*Session, *Turn) {
	id := uuid.NewString()
	s := &Session{
		ID:           id,
		OwnerID:      user.ID,
		CreatedAt:    time.Now(),
		Conversation: NewConversation(id, m.oracle, m.defaultKey, m.log),
	}
	m.sessions.Add(id, s)
	m.log.WithFields(logrus.Fields{"session_id": id, "owner_id": user.ID}).Info("Session started")
	return s, s.Start(user.Name)
}

// Get returns the session with id if it belongs to ownerID.
func (m *SessionManager) Get(id, ownerID string) (*Session, error) {
	s, ok := m.sessions.Get(id)
	if !ok || s.OwnerID != ownerID {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// SetCredential sets the oracle key of a session.  An empty key restores the
// configured default.
func (m *SessionManager) SetCredential(id, ownerID, key string) error {
	s, err := m.Get(id, ownerID)
	if err != nil {
		return err
	}
	if key == "" {
		key = m.defaultKey
	}
	s.SetCredential(key)
	return nil
}

// Delete resets a session and forgets it.  Bookings made from it are not
// affected.
func (m *SessionManager) Delete(id, ownerID string) error {
	s, err := m.Get(id, ownerID)
	if err != nil {
		return err
	}
	s.Reset()
	m.sessions.Remove(id)
	return nil
}

// Len returns the number of live sessions.
func (m *SessionManager) Len() int { return m.sessions.Len() }
