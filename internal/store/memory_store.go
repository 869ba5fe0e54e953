package store

import (
	"strings"
	"sync"

	"github.com/weiawesome/peace-chat/internal/domain"
)

const DefaultCapacity = 1000

// MemoryStore keeps the most recent messages in insertion order. The id
// index covers exactly the retained messages, so an id evicted by capacity
// is accepted again.
type MemoryStore struct {
	mu       sync.RWMutex
	messages []domain.Message
	byID     map[string]domain.Message
	capacity int
}

func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryStore{
		messages: make([]domain.Message, 0, capacity),
		byID:     make(map[string]domain.Message, capacity),
		capacity: capacity,
	}
}

func (s *MemoryStore) Append(msg domain.Message) (domain.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byID[msg.ID]; ok {
		return existing, false
	}

	s.messages = append(s.messages, msg)
	s.byID[msg.ID] = msg

	if over := len(s.messages) - s.capacity; over > 0 {
		for _, evicted := range s.messages[:over] {
			delete(s.byID, evicted.ID)
		}
		s.messages = s.messages[over:]
	}

	return msg, true
}

func (s *MemoryStore) Get(id string) (domain.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.byID[id]
	return msg, ok
}

func (s *MemoryStore) Query(q Query) []domain.Message {
	viewer := strings.TrimSpace(q.Viewer)
	counterpart := strings.TrimSpace(q.Counterpart)

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Message, 0)
	if viewer == "" {
		return result
	}

	for i := range s.messages {
		msg := &s.messages[i]
		if msg.Timestamp <= q.ClearedBefore {
			continue
		}
		if counterpart != "" {
			if !msg.Between(viewer, counterpart) {
				continue
			}
		} else if !msg.Involves(viewer) {
			continue
		}
		result = append(result, *msg)
	}
	return result
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

func (s *MemoryStore) Capacity() int {
	return s.capacity
}
