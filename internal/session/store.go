package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/partsflow/partsflow/internal/conversation"
)

// Sentinel errors, checked with errors.Is.
var (
	// ErrNotFound indicates the session does not exist or has expired.
	ErrNotFound = errors.New("session not found")

	// ErrSessionEnded indicates a write was discarded because the session
	// was concurrently ended.
	ErrSessionEnded = errors.New("session ended")

	// ErrTurnInFlight indicates a turn for this session is still being
	// processed; the new turn is rejected rather than queued.
	ErrTurnInFlight = errors.New("turn in progress")
)

// KV is the storage contract the Store needs. Implemented by RedisKV in
// production and by an in-memory fake in tests. Get returns ErrNotFound for
// missing keys.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Touch(ctx context.Context, key string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// Store persists sessions and bounded chat history with a shared TTL.
// Safe for concurrent use.
type Store struct {
	kv         KV
	ttl        time.Duration
	maxHistory int
	logger     *slog.Logger
}

// NewStore creates a Store. ttl bounds session lifetime; maxHistory bounds
// the retained chat history per session.
func NewStore(kv KV, ttl time.Duration, maxHistory int, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if maxHistory <= 0 {
		maxHistory = 20
	}
	return &Store{kv: kv, ttl: ttl, maxHistory: maxHistory, logger: logger}
}

func sessionKey(id string) string { return "conversation:" + id }
func historyKey(id string) string { return "chat:" + id }

// Get retrieves a session by id.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	data, err := s.kv.Get(ctx, sessionKey(id))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &sess, nil
}

// GetOrCreate retrieves the session or creates a fresh one in the initial
// state with the given language.
func (s *Store) GetOrCreate(ctx context.Context, id, customerID, channel, language string) (*Session, error) {
	sess, err := s.Get(ctx, id)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	sess = &Session{
		ID:             id,
		CustomerID:     customerID,
		Channel:        channel,
		State:          conversation.Initial,
		Language:       language,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if err := s.Put(ctx, sess); err != nil {
		return nil, err
	}
	s.logger.Info("created session", "session_id", id, "customer_id", customerID, "language", language)
	return sess, nil
}

// Put persists the session, refreshing its TTL. If the stored copy was
// concurrently ended, the write is discarded and ErrSessionEnded returned so
// an in-flight turn cannot resurrect a terminated session.
func (s *Store) Put(ctx context.Context, sess *Session) error {
	if !sess.Ended() {
		stored, err := s.Get(ctx, sess.ID)
		if err == nil && stored.Ended() {
			return fmt.Errorf("put session %s: %w", sess.ID, ErrSessionEnded)
		}
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
	}

	sess.Version++
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sess.ID, err)
	}
	if err := s.kv.Set(ctx, sessionKey(sess.ID), data, s.ttl); err != nil {
		return fmt.Errorf("put session %s: %w", sess.ID, err)
	}
	return nil
}

// Touch refreshes the TTL of the session and its history.
func (s *Store) Touch(ctx context.Context, id string) error {
	if err := s.kv.Touch(ctx, sessionKey(id), s.ttl); err != nil {
		return fmt.Errorf("touch session %s: %w", id, err)
	}
	// History expiring before the session would lose context mid-conversation.
	if err := s.kv.Touch(ctx, historyKey(id), s.ttl); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("touch history %s: %w", id, err)
	}
	return nil
}

// End marks the session terminated. Idempotent.
func (s *Store) End(ctx context.Context, id string) error {
	sess, err := s.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if sess.Ended() {
		return nil
	}

	now := time.Now().UTC()
	sess.EndedAt = &now
	sess.Version++
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", id, err)
	}
	if err := s.kv.Set(ctx, sessionKey(id), data, s.ttl); err != nil {
		return fmt.Errorf("end session %s: %w", id, err)
	}
	s.logger.Info("ended session", "session_id", id)
	return nil
}

// AppendMessages appends chat history entries, trimming to the configured
// bound (most recent kept).
func (s *Store) AppendMessages(ctx context.Context, sessionID string, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}

	history, err := s.History(ctx, sessionID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	now := time.Now().UTC()
	for i := range msgs {
		if msgs[i].ID == "" {
			msgs[i].ID = uuid.NewString()
		}
		msgs[i].SessionID = sessionID
		if msgs[i].CreatedAt.IsZero() {
			msgs[i].CreatedAt = now
		}
	}
	history = append(history, msgs...)
	if len(history) > s.maxHistory {
		history = history[len(history)-s.maxHistory:]
	}

	data, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("encode history %s: %w", sessionID, err)
	}
	if err := s.kv.Set(ctx, historyKey(sessionID), data, s.ttl); err != nil {
		return fmt.Errorf("append history %s: %w", sessionID, err)
	}
	return nil
}

// History returns the retained chat history for a session, oldest first.
func (s *Store) History(ctx context.Context, sessionID string) ([]Message, error) {
	data, err := s.kv.Get(ctx, historyKey(sessionID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get history %s: %w", sessionID, err)
	}
	var history []Message
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("decode history %s: %w", sessionID, err)
	}
	return history, nil
}

// ClearHistory drops the chat history, used on language reset.
func (s *Store) ClearHistory(ctx context.Context, sessionID string) error {
	if err := s.kv.Del(ctx, historyKey(sessionID)); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("clear history %s: %w", sessionID, err)
	}
	return nil
}

// Locks serializes turns per session id. A turn acquires the lock for its
// whole duration; a second inbound turn for the same session is rejected
// with ErrTurnInFlight instead of queued, bounding latency.
type Locks struct {
	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewLocks creates a Locks.
func NewLocks() *Locks {
	return &Locks{inFlight: make(map[string]struct{})}
}

// TryAcquire claims the turn lock for a session.
func (l *Locks) TryAcquire(sessionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.inFlight[sessionID]; busy {
		return fmt.Errorf("session %s: %w", sessionID, ErrTurnInFlight)
	}
	l.inFlight[sessionID] = struct{}{}
	return nil
}

// Release frees the turn lock. Safe to call for a non-held lock.
func (l *Locks) Release(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.inFlight, sessionID)
}
