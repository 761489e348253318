package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/room4-2/ordercall/config"
	"github.com/room4-2/ordercall/dialogue"
	"github.com/room4-2/ordercall/logging"
	"github.com/room4-2/ordercall/metrics"
	"github.com/room4-2/ordercall/order"
)

var (
	// ErrSessionNotFound is returned for unknown or ended session ids
	ErrSessionNotFound = errors.New("session not found")

	// ErrTooManySessions is returned when MaxSessions calls are live
	ErrTooManySessions = errors.New("maximum sessions reached")
)

const (
	activeSessionsKey = "active_sessions"
	sessionKeyPrefix  = "session:"
)

// Recorder receives the persistence side effects of the registry. Failures
// are logged and counted; they never change a turn's outcome.
type Recorder interface {
	StartSession(ctx context.Context, sessionID string, rec *order.Record, startedAt time.Time) error
	Record(ctx context.Context, ev dialogue.Event) error
	EndSession(ctx context.Context, sessionID string, endedAt time.Time) error
}

// Reply is what a caller gets back from a turn
type Reply struct {
	SessionID  string
	Response   string
	Checkpoint dialogue.Checkpoint
	Language   dialogue.Language
	Transcript []dialogue.Message
}

// Description is the inspection view of a live session
type Description struct {
	SessionID string `json:"session_id"`
	OrderID   string `json:"order_id"`
	dialogue.Snapshot
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Manager owns every live call
type Manager struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	redis    *redis.Client
	config   *config.Config
	engine   *dialogue.Engine
	recorder Recorder
	logger   zerolog.Logger
	now      func() time.Time
}

// Option configures a Manager
type Option func(*Manager)

// WithRecorder attaches durable call history
func WithRecorder(r Recorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// WithRedis mirrors live sessions to an already connected client
func WithRedis(c *redis.Client) Option {
	return func(m *Manager) { m.redis = c }
}

// WithLogger sets the registry logger
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock overrides the activity clock
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a session manager. When cfg.RedisURL is set and no
// client was given, it connects to Redis; an unreachable Redis disables the
// mirror instead of failing.
func NewManager(cfg *config.Config, engine *dialogue.Engine, opts ...Option) (*Manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("session manager: config is required")
	}
	if engine == nil {
		return nil, fmt.Errorf("session manager: engine is required")
	}

	m := &Manager{
		sessions: make(map[string]*Session),
		config:   cfg,
		engine:   engine,
		logger:   zerolog.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.redis == nil && cfg.RedisURL != "" {
		m.redis = connectRedis(cfg, m.logger)
	}
	return m, nil
}

func connectRedis(cfg *config.Config, logger zerolog.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Str("addr", cfg.RedisURL).Msg("redis unavailable, session mirror disabled")
		_ = client.Close()
		return nil
	}
	return client
}

// Start registers a new call for rec and returns its session id
func (m *Manager) Start(ctx context.Context, rec *order.Record) (string, error) {
	if rec == nil {
		return "", fmt.Errorf("%w: order is required", order.ErrInvalid)
	}
	if err := rec.Validate(); err != nil {
		return "", err
	}

	now := m.now()
	m.mu.Lock()
	if len(m.sessions) >= m.config.MaxSessions {
		m.mu.Unlock()
		return "", ErrTooManySessions
	}
	s := newSession(uuid.New().String(), rec, now)
	m.sessions[s.ID] = s
	count := len(m.sessions)
	m.mu.Unlock()

	metrics.RecordSessionStarted()
	metrics.SetActiveSessions(count)

	if m.recorder != nil {
		if err := m.recorder.StartSession(ctx, s.ID, rec, now); err != nil {
			m.persistenceFailed(err, "start_session", s.ID)
		}
	}
	m.mirror(ctx, s)

	m.logger.Info().
		Str(logging.FieldSessionID, s.ID).
		Str(logging.FieldOrderID, rec.ID).
		Msg("session started")
	return s.ID, nil
}

// Lookup returns the live session with id
func (m *Manager) Lookup(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Greet runs the opening step of a call. Calling it again repeats the
// latest assistant line without changing anything.
func (m *Manager) Greet(ctx context.Context, id string) (Reply, error) {
	return m.run(ctx, id, func(s *Session) (dialogue.Turn, error) {
		return m.engine.Greet(s.State()), nil
	})
}

// Turn processes one customer utterance. Turns on the same session run one
// at a time in arrival order; a waiting turn gives up when ctx ends.
func (m *Manager) Turn(ctx context.Context, id, utterance string) (Reply, error) {
	return m.run(ctx, id, func(s *Session) (dialogue.Turn, error) {
		return m.engine.Process(ctx, s.State(), s.Order, utterance)
	})
}

func (m *Manager) run(ctx context.Context, id string, step func(*Session) (dialogue.Turn, error)) (Reply, error) {
	s, err := m.Lookup(id)
	if err != nil {
		return Reply{}, err
	}

	if err := s.acquire(ctx); err != nil {
		return Reply{}, err
	}
	defer s.release()

	if s.IsEnded() {
		return Reply{}, ErrSessionNotFound
	}

	before := s.State().Checkpoint
	turn, err := step(s)
	if err != nil {
		metrics.RecordTurn(string(before), "rejected")
		return Reply{}, err
	}

	s.commit(turn.State, m.now())
	metrics.RecordTurn(string(before), "ok")

	m.record(ctx, turn.Events)
	m.mirror(ctx, s)

	return Reply{
		SessionID:  s.ID,
		Response:   turn.Response,
		Checkpoint: turn.State.Checkpoint,
		Language:   turn.State.Language,
		Transcript: turn.State.Clone().Transcript,
	}, nil
}

// Describe returns the current flags of a live session
func (m *Manager) Describe(id string) (Description, error) {
	s, err := m.Lookup(id)
	if err != nil {
		return Description{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return Description{
		SessionID:    s.ID,
		OrderID:      s.Order.ID,
		Snapshot:     s.state.Snapshot(),
		MessageCount: len(s.state.Transcript),
		CreatedAt:    s.CreatedAt,
		LastActivity: s.lastActivity,
	}, nil
}

// Transcript returns a copy of the live transcript
func (m *Manager) Transcript(id string) ([]dialogue.Message, error) {
	s, err := m.Lookup(id)
	if err != nil {
		return nil, err
	}
	return s.State().Transcript, nil
}

// End evicts a live session. Its persisted history is kept.
func (m *Manager) End(ctx context.Context, id string) error {
	return m.end(ctx, id, "ended")
}

func (m *Manager) end(ctx context.Context, id, reason string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	count := len(m.sessions)
	m.mu.Unlock()

	if !ok || !s.markEnded() {
		return ErrSessionNotFound
	}

	metrics.RecordSessionEnded(reason)
	metrics.SetActiveSessions(count)

	if m.redis != nil {
		s.mirrorMu.Lock()
		m.redis.Del(ctx, sessionKeyPrefix+id)
		m.redis.SRem(ctx, activeSessionsKey, id)
		s.mirrorMu.Unlock()
	}
	if m.recorder != nil {
		if err := m.recorder.EndSession(ctx, id, m.now()); err != nil {
			m.persistenceFailed(err, "end_session", id)
		}
	}

	m.logger.Info().
		Str(logging.FieldSessionID, id).
		Str("reason", reason).
		Msg("session ended")
	return nil
}

// GetActiveSessionCount returns current session count
func (m *Manager) GetActiveSessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CleanupInactiveSessions ends sessions idle for longer than SessionTimeout
func (m *Manager) CleanupInactiveSessions(ctx context.Context) int {
	cutoff := m.now().Add(-m.config.SessionTimeout)

	m.mu.RLock()
	var stale []string
	for id, s := range m.sessions {
		if s.LastActivity().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	ended := 0
	for _, id := range stale {
		if err := m.end(ctx, id, "timeout"); err == nil {
			ended++
		}
	}
	return ended
}

// StartCleanupRoutine starts periodic cleanup of inactive sessions
func (m *Manager) StartCleanupRoutine(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.CleanupInactiveSessions(ctx); n > 0 {
				m.logger.Info().Int("count", n).Msg("cleaned up inactive sessions")
			}
		}
	}
}

// Shutdown ends all sessions and closes the Redis client
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		_ = m.end(ctx, id, "shutdown")
	}

	if m.redis != nil {
		_ = m.redis.Close()
	}
}

// RedisEnabled reports whether sessions are mirrored to Redis
func (m *Manager) RedisEnabled() bool {
	return m.redis != nil
}

func (m *Manager) record(ctx context.Context, events []dialogue.Event) {
	if m.recorder == nil {
		return
	}
	for _, ev := range events {
		if err := m.recorder.Record(ctx, ev); err != nil {
			m.persistenceFailed(err, "record_"+string(ev.Kind), ev.SessionID)
		}
	}
}

// mirror writes the session snapshot to Redis and refreshes its TTL. An
// ended session is never written back.
func (m *Manager) mirror(ctx context.Context, s *Session) {
	if m.redis == nil {
		return
	}
	s.mirrorMu.Lock()
	defer s.mirrorMu.Unlock()
	if s.IsEnded() {
		return
	}

	st := s.State()
	key := sessionKeyPrefix + s.ID
	_, err := m.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]interface{}{
			"order_id":               s.Order.ID,
			"state":                  string(st.Checkpoint),
			"language":               string(st.Language),
			"customer_authenticated": st.Authenticated,
			"order_confirmed":        st.OrderConfirmed,
			"order_modified":         st.OrderModified,
			"customer_name":          st.CustomerName,
			"created_at":             s.CreatedAt.Format(time.RFC3339),
			"last_activity":          s.LastActivity().Format(time.RFC3339),
			"status":                 "active",
		})
		pipe.SAdd(ctx, activeSessionsKey, s.ID)
		pipe.Expire(ctx, key, m.config.SessionTimeout)
		return nil
	})
	if err != nil {
		m.persistenceFailed(err, "redis_mirror", s.ID)
	}
}

func (m *Manager) persistenceFailed(err error, operation, sessionID string) {
	metrics.RecordPersistenceFailure(operation)
	m.logger.Warn().
		Err(err).
		Str(logging.FieldSessionID, sessionID).
		Str("operation", operation).
		Msg("persistence failed")
}
