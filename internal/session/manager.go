package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/sepsis-sentinel/dashboard/internal/domain"
)

// Backends
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Page is the prediction tab's current view.
type Page string

const (
	PageForm   Page = "form"
	PageResult Page = "result"
)

// Session is the state owned by one browser session. Its history is never
// shared with another session.
type Session struct {
	ID        string
	CreatedAt time.Time

	history domain.HistoryStore
	limiter *rate.Limiter

	mu   sync.Mutex
	page Page
}

// History returns the session's append-only prediction history.
func (s *Session) History() domain.HistoryStore {
	return s.history
}

// AllowPredict reports whether another prediction may be submitted now.
func (s *Session) AllowPredict() bool {
	return s.limiter.Allow()
}

// Page returns the prediction tab's current view.
func (s *Session) Page() Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.page
}

// SetPage switches the prediction tab's view.
func (s *Session) SetPage(p Page) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.page = p
}

// Manager maps session identities to sessions. Sessions expire after the
// configured idle TTL and the least recently used one is evicted once
// MaxSessions is reached; either way its history is discarded.
//
// m.mu only guards the LRU itself. Redis round trips for TTL refresh and
// discard run after it is released.
type Manager struct {
	config    domain.SessionConfig
	keyPrefix string
	redis     *redis.Client
	logger    *logrus.Logger

	mu       sync.Mutex
	sessions *expirable.LRU[string, *Session]

	evictMu sync.Mutex
	evicted []*Session
}

// NewManager creates a session manager. redisClient is required only for
// the redis backend.
func NewManager(config domain.SessionConfig, keyPrefix string, redisClient *redis.Client, logger *logrus.Logger) *Manager {
	if config.TTL <= 0 {
		config.TTL = 12 * time.Hour
	}
	if config.MaxSessions <= 0 {
		config.MaxSessions = 1000
	}
	if config.PredictRate <= 0 {
		config.PredictRate = 1
	}
	if config.PredictBurst <= 0 {
		config.PredictBurst = 5
	}
	if config.Backend == "" {
		config.Backend = BackendMemory
	}

	m := &Manager{
		config:    config,
		keyPrefix: keyPrefix,
		redis:     redisClient,
		logger:    logger,
	}
	m.sessions = expirable.NewLRU[string, *Session](config.MaxSessions, m.onEvict, config.TTL)
	return m
}

// GetOrCreate returns the live session for id, creating a new one when id
// is empty, malformed or unknown. The boolean is true for a new session.
// Every call refreshes the session's idle TTL.
func (m *Manager) GetOrCreate(id string) (*Session, bool) {
	if _, err := uuid.Parse(id); err == nil {
		if s, ok := m.Get(id); ok {
			return s, false
		}
	}

	s := m.newSession(uuid.New().String())
	m.mu.Lock()
	m.sessions.Add(s.ID, s)
	m.mu.Unlock()
	m.discardEvicted()

	m.logger.WithFields(logrus.Fields{
		"session_id": s.ID,
		"backend":    m.config.Backend,
	}).Info("Created new dashboard session")

	return s, true
}

// Get returns a live session without creating one, refreshing its idle TTL.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	s, ok := m.sessions.Get(id)
	if ok {
		m.sessions.Add(id, s)
	}
	m.mu.Unlock()
	m.discardEvicted()

	if ok {
		m.touch(s)
	}
	return s, ok
}

// End terminates a session and discards its history.
func (m *Manager) End(id string) {
	m.mu.Lock()
	m.sessions.Remove(id)
	m.mu.Unlock()
	m.discardEvicted()
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	return m.sessions.Len()
}

// Backend returns the configured history backend name.
func (m *Manager) Backend() string {
	return m.config.Backend
}

// Ping checks the history backend. The memory backend is always healthy.
func (m *Manager) Ping(ctx context.Context) error {
	if m.config.Backend != BackendRedis || m.redis == nil {
		return nil
	}
	return m.redis.Ping(ctx).Err()
}

func (m *Manager) newSession(id string) *Session {
	var history domain.HistoryStore
	if m.config.Backend == BackendRedis && m.redis != nil {
		history = NewRedisHistory(m.redis, m.keyPrefix+id, m.config.TTL)
	} else {
		history = NewMemoryHistory()
	}

	return &Session{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		history:   history,
		limiter:   rate.NewLimiter(rate.Limit(m.config.PredictRate), m.config.PredictBurst),
		page:      PageForm,
	}
}

func (m *Manager) touch(s *Session) {
	rh, ok := s.history.(*RedisHistory)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rh.Touch(ctx); err != nil {
		m.logger.WithError(err).WithField("session_id", s.ID).Warn("Failed to refresh session history TTL")
	}
}

// onEvict runs under the LRU's own lock, either from a Manager call or
// from the expiry ticker, so it only queues the session.
func (m *Manager) onEvict(id string, s *Session) {
	m.logger.WithField("session_id", id).Info("Session ended, discarding history")

	if _, ok := s.history.(*RedisHistory); !ok {
		return
	}
	m.evictMu.Lock()
	m.evicted = append(m.evicted, s)
	m.evictMu.Unlock()
}

// discardEvicted deletes the stored history of every queued session. Call
// it without holding m.mu.
func (m *Manager) discardEvicted() {
	m.evictMu.Lock()
	evicted := m.evicted
	m.evicted = nil
	m.evictMu.Unlock()

	for _, s := range evicted {
		rh := s.history.(*RedisHistory)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := rh.Discard(ctx); err != nil {
			m.logger.WithError(err).WithField("session_id", s.ID).Warn("Failed to discard session history")
		}
		cancel()
	}
}
