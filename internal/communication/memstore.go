package communication

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory message store for tests and local demos
type MemoryStore struct {
	mu     sync.RWMutex
	system map[uuid.UUID]*SystemMessage
	user   []UserMessage
}

// NewMemoryStore creates an empty in-memory message store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{system: make(map[uuid.UUID]*SystemMessage)}
}

func (s *MemoryStore) InsertSystemMessage(ctx context.Context, msg *SystemMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *msg
	s.system[msg.ID] = &clone
	return nil
}

func (s *MemoryStore) GetSystemMessage(ctx context.Context, id uuid.UUID) (*SystemMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.system[id]
	if !ok {
		return nil, fmt.Errorf("message %s: %w", id, ErrMessageNotFound)
	}
	clone := *msg
	return &clone, nil
}

func (s *MemoryStore) UpdateSystemMessage(ctx context.Context, msg *SystemMessage, expected DeliveryStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.system[msg.ID]
	if !ok {
		return fmt.Errorf("message %s: %w", msg.ID, ErrMessageNotFound)
	}
	if stored.DeliveryStatus != expected {
		return &InvalidDeliveryTransitionError{
			MessageID: msg.ID, From: stored.DeliveryStatus, To: msg.DeliveryStatus,
		}
	}
	clone := *msg
	s.system[msg.ID] = &clone
	return nil
}

func (s *MemoryStore) InsertUserMessage(ctx context.Context, msg *UserMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = append(s.user, *msg)
	return nil
}

func (s *MemoryStore) ListByProcess(ctx context.Context, processID uuid.UUID) ([]SystemMessage, []UserMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var system []SystemMessage
	for _, msg := range s.system {
		if msg.ProcessID == processID {
			system = append(system, *msg)
		}
	}
	sort.Slice(system, func(i, j int) bool {
		return system[i].CreatedAt.Before(system[j].CreatedAt)
	})

	var user []UserMessage
	for _, msg := range s.user {
		if msg.ProcessID == processID {
			user = append(user, msg)
		}
	}

	return system, user, nil
}
