package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ascend/internal/config"
	"ascend/internal/content"
	"ascend/internal/engine"
)

var ErrNotFound = errors.New("session not found")

// Manager owns the live sessions of one process.
type Manager struct {
	cfg       *config.Config
	store     Store
	log       *zap.Logger
	now       func() time.Time
	newID     func() string
	scheduler func(*Loop) engine.Scheduler

	mu       sync.RWMutex
	content  *content.Store
	sessions map[string]*Session
}

type Option func(*Manager)

func WithStore(s Store) Option {
	return func(m *Manager) { m.store = s }
}

func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithIDGenerator(fn func() string) Option {
	return func(m *Manager) { m.newID = fn }
}

// WithScheduler replaces the wall-clock timers new sessions use.
func WithScheduler(fn func(*Loop) engine.Scheduler) Option {
	return func(m *Manager) { m.scheduler = fn }
}

func NewManager(cfg *config.Config, store *content.Store, opts ...Option) *Manager {
	if cfg == nil {
		cfg = config.Default()
	}
	m := &Manager{
		cfg:      cfg,
		log:      zap.NewNop(),
		now:      time.Now,
		newID:    uuid.NewString,
		content:  store,
		sessions: map[string]*Session{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Content returns the pack new sessions are built from.
func (m *Manager) Content() *content.Store {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.content
}

// SetContent swaps the pack for sessions created from now on. Running
// sessions keep the pack they started with.
func (m *Manager) SetContent(store *content.Store) {
	m.mu.Lock()
	m.content = store
	m.mu.Unlock()
	m.log.Info("content pack replaced", zap.Int("trees", len(store.Trees())))
}

// Create starts a new session for playerID.
func (m *Manager) Create(ctx context.Context, playerID string) (*Session, error) {
	if playerID == "" {
		playerID = "anonymous"
	}
	store := m.Content()
	if store == nil {
		return nil, fmt.Errorf("no content pack loaded")
	}
	d := m.cfg.Dialogue
	s := newSession(params{
		id:       m.newID(),
		playerID: playerID,
		cfg: Settings{
			Delay:                  d.Scale,
			AutoAdvanceDelay:       d.AutoAdvanceDelay(),
			NotificationDurationMs: d.NotificationDurationMs,
			Strict:                 d.Strict,
		},
		content:   store,
		seed:      Seed(m.cfg, store),
		store:     m.store,
		log:       m.log,
		now:       m.now,
		newID:     m.newID,
		scheduler: m.scheduler,
	})
	if m.store != nil {
		if err := m.store.InsertSession(ctx, s.Info()); err != nil {
			s.Close()
			return nil, fmt.Errorf("persist session: %w", err)
		}
	}
	if err := s.loop.Do(ctx, func() {
		s.record(EventCreated, "", "", map[string]any{"player_id": playerID})
	}); err != nil {
		s.Close()
		return nil, err
	}
	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()
	m.log.Info("session created", zap.String("session", s.id), zap.String("player", playerID))
	return s, nil
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// List returns live sessions ordered by creation time.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].createdAt.Equal(out[j].createdAt) {
			return out[i].id < out[j].id
		}
		return out[i].createdAt.Before(out[j].createdAt)
	})
	return out
}

// Close ends one session.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.Close()
	m.log.Info("session closed", zap.String("session", id))
	return nil
}

// Shutdown closes every session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = map[string]*Session{}
	m.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
}
