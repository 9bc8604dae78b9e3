package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/intake/internal/intakes"
)

var ErrNotFound = errors.New("session not found")

// DefaultTTL bounds how long an unpersisted interview is kept.
const DefaultTTL = 24 * time.Hour

type Session struct {
	ID                string             `json:"session_id"`
	CreatedAt         time.Time          `json:"created_at"`
	ExpiresAt         time.Time          `json:"expires_at"`
	History           []intakes.Message  `json:"history"`
	CoveredCategories []string           `json:"covered_categories"`
	Confidence        map[string]float64 `json:"confidence"`
	TurnCount         int                `json:"turn_count"`
	ClientName        string             `json:"client_name"`
	IsComplete        bool               `json:"is_complete"`
}

// Update describes one mutation after an AI turn. Nil/empty fields are left
// untouched; Confidence is merged key by key.
type Update struct {
	Append            []intakes.Message
	CoveredCategories []string
	Confidence        map[string]float64
	TurnCount         *int
	ClientName        string
	IsComplete        *bool
}

// Persister is the durable write used by Persist.
type Persister interface {
	Save(ctx context.Context, in intakes.Intake) (intakes.Intake, bool, error)
}

type entry struct {
	session *Session
	timer   *time.Timer
}

// Manager is the live registry of interviews. A session leaves the registry
// exactly once: by Persist, Delete or TTL expiry.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*entry
	ttl      time.Duration
	store    Persister
	logger   *slog.Logger
	onExpire func(Session)
	now      func() time.Time
}

func NewManager(ttl time.Duration, store Persister, logger *slog.Logger) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions: make(map[string]*entry),
		ttl:      ttl,
		store:    store,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (m *Manager) SetExpireHook(hook func(Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

// Create registers a fresh session. An empty id gets a generated uuid.
func (m *Manager) Create(id string) Session {
	if id == "" {
		id = uuid.NewString()
	}
	now := m.now()
	s := &Session{
		ID:                id,
		CreatedAt:         now,
		ExpiresAt:         now.Add(m.ttl),
		History:           []intakes.Message{},
		CoveredCategories: []string{},
		Confidence:        map[string]float64{},
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.sessions[id]; ok {
		old.timer.Stop()
	}
	m.insertLocked(s, m.ttl)
	return clone(s)
}

func (m *Manager) Get(id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return clone(e.session), nil
}

func (m *Manager) Update(id string, u Update) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	s := e.session
	if len(u.Append) > 0 {
		s.History = append(s.History, u.Append...)
	}
	if u.CoveredCategories != nil {
		s.CoveredCategories = append([]string(nil), u.CoveredCategories...)
	}
	for key, value := range u.Confidence {
		if prev, had := s.Confidence[key]; had && value < prev {
			m.logger.Warn("confidence regressed",
				"session_id", id, "category", key, "previous", prev, "next", value)
		}
		s.Confidence[key] = value
	}
	if u.TurnCount != nil {
		s.TurnCount = *u.TurnCount
	}
	if u.ClientName != "" {
		s.ClientName = u.ClientName
	}
	if u.IsComplete != nil {
		s.IsComplete = *u.IsComplete
	}
	return clone(s), nil
}

// Persist removes the session from the registry and writes it to the store.
// The session is not fetchable while the write runs; it is restored only when
// the write fails.
func (m *Manager) Persist(ctx context.Context, id, markdown string) (intakes.Intake, error) {
	m.mu.Lock()
	e, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
		e.timer.Stop()
	}
	m.mu.Unlock()
	if !ok {
		return intakes.Intake{}, ErrNotFound
	}
	if m.store == nil {
		return intakes.Intake{}, fmt.Errorf("persist session %s: no store configured", id)
	}

	s := e.session
	completed := m.now()
	record := intakes.Intake{
		SessionID:    s.ID,
		ClientName:   s.ClientName,
		Conversation: append([]intakes.Message(nil), s.History...),
		Markdown:     markdown,
		TurnCount:    s.TurnCount,
		Confidence:   copyConfidence(s.Confidence),
		DurationMS:   completed.Sub(s.CreatedAt).Milliseconds(),
		CreatedAt:    s.CreatedAt,
		CompletedAt:  completed,
	}
	saved, inserted, err := m.store.Save(ctx, record)
	if err != nil {
		m.restore(s)
		return intakes.Intake{}, fmt.Errorf("persist session %s: %w", id, err)
	}
	if !inserted {
		m.logger.Info("session already persisted", "session_id", id, "intake_id", saved.ID)
	}
	return saved, nil
}

func (m *Manager) Delete(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(m.sessions, id)
	return true
}

func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// restore reinserts a session whose write failed, keeping its original deadline.
func (m *Manager) restore(s *Session) {
	remaining := s.ExpiresAt.Sub(m.now())
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.sessions[s.ID]; taken {
		return
	}
	if remaining <= 0 {
		return
	}
	m.insertLocked(s, remaining)
}

func (m *Manager) insertLocked(s *Session, after time.Duration) {
	e := &entry{session: s}
	e.timer = time.AfterFunc(after, func() { m.expire(s.ID, e) })
	m.sessions[s.ID] = e
}

func (m *Manager) expire(id string, e *entry) {
	m.mu.Lock()
	current, ok := m.sessions[id]
	if !ok || current != e {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, id)
	hook := m.onExpire
	snapshot := clone(e.session)
	m.mu.Unlock()

	m.logger.Info("session expired", "session_id", id, "turns", snapshot.TurnCount)
	if hook != nil {
		hook(snapshot)
	}
}

func clone(s *Session) Session {
	c := *s
	c.History = make([]intakes.Message, len(s.History))
	copy(c.History, s.History)
	c.CoveredCategories = make([]string, len(s.CoveredCategories))
	copy(c.CoveredCategories, s.CoveredCategories)
	c.Confidence = copyConfidence(s.Confidence)
	return c
}

func copyConfidence(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
