package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/travelmate-poc/server/internal/chat/model"
	"github.com/travelmate-poc/server/internal/core/errx"
)

// InMemoryStore is a simple in-process turn store for local/dev use and tests.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*model.Session
	turns    map[string][]model.Turn
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[string]*model.Session),
		turns:    make(map[string][]model.Turn),
	}
}

func (s *InMemoryStore) CreateSession(_ context.Context, id string, metadata map[string]string) (*model.Session, error) {
	if id == "" {
		id = uuid.NewString()
	} else if err := validateSessionID(id); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sessions[id]; ok {
		return existing, nil
	}
	sess := &model.Session{ID: id, CreatedAt: time.Now().UTC(), Metadata: metadata}
	s.sessions[id] = sess
	return sess, nil
}

func (s *InMemoryStore) GetSession(_ context.Context, id string) (*model.Session, error) {
	if err := validateSessionID(id); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, errx.NotFound(id)
	}
	return sess, nil
}

func (s *InMemoryStore) AppendTurn(_ context.Context, turn model.Turn) (string, error) {
	if err := validateSessionID(turn.SessionID); err != nil {
		return "", err
	}
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns[turn.SessionID] = append(s.turns[turn.SessionID], turn)
	return turn.ID, nil
}

func (s *InMemoryStore) RecentTurns(_ context.Context, sessionID string, limit int) ([]model.Turn, error) {
	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []model.Turn{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.turns[sessionID]
	if limit > len(arr) {
		limit = len(arr)
	}
	out := make([]model.Turn, limit)
	copy(out, arr[len(arr)-limit:])
	return out, nil
}

func (s *InMemoryStore) ClearSession(_ context.Context, sessionID string) (bool, error) {
	if err := validateSessionID(sessionID); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return false, nil
	}
	delete(s.turns, sessionID)
	return true, nil
}

func (s *InMemoryStore) Close() error { return nil }

var _ Store = (*InMemoryStore)(nil)
