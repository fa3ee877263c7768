package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MemoryStore keeps sessions in process memory. Sessions do not expire.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[int64]Session
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[int64]Session)}
}

func (m *MemoryStore) Load(ctx context.Context, chatID int64) (Session, error) {
	if ctx == nil {
		return Session{}, errors.New("context is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[chatID]
	if !ok {
		return Idle(0), nil
	}
	s.ReferralIDs = append([]int64(nil), s.ReferralIDs...)
	return s, nil
}

func (m *MemoryStore) Save(ctx context.Context, chatID int64, s Session) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now().UTC()
	}
	s.ReferralIDs = append([]int64(nil), s.ReferralIDs...)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[chatID] = s
	return nil
}
