package db

import (
	"context"
	"sync"
	"time"

	"github.com/DmitryPavl/hackreality-main-bot/internal/models"
)

// MemoryStore keeps sessions in a map. It backs local runs without a
// database and the test suites.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[int64]*models.UserSession
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[int64]*models.UserSession)}
}

func (m *MemoryStore) Get(ctx context.Context, userID int64) (*models.UserSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[userID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryStore) CreateIfAbsent(ctx context.Context, userID, chatID int64) (*models.UserSession, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[userID]; ok {
		return s.Clone(), false, nil
	}

	s := models.NewUserSession(userID, chatID, time.Now().UTC())
	m.sessions[userID] = s
	return s.Clone(), true, nil
}

func (m *MemoryStore) Update(ctx context.Context, userID int64, fn Mutator) (*models.UserSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[userID]
	if !ok {
		return nil, models.ErrNotFound
	}

	next := s.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}

	m.sessions[userID] = next
	return next.Clone(), nil
}

func (m *MemoryStore) ActiveSessions(ctx context.Context) ([]*models.UserSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.UserSession
	for _, s := range m.sessions {
		if s.State == models.StateActive {
			out = append(out, s.Clone())
		}
	}
	return out, nil
}

func (m *MemoryStore) Close() {}
