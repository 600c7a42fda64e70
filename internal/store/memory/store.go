package memory

import (
	"context"
	"sync"
	"time"

	"chatrelay-backend/internal/models"
	"chatrelay-backend/internal/store"

	"github.com/google/uuid"
)

// Compile-time check to ensure MemoryStore implements store.Store
var _ store.Store = (*MemoryStore)(nil)

// MemoryStore keeps conversations, messages and sources in process memory.
// Everything is lost when the process exits.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations []models.Conversation          // newest created first
	messages      map[uuid.UUID][]models.Message // conversation id -> messages in insertion order
	sources       map[uuid.UUID][]models.Source  // message id -> sources
	current       *uuid.UUID
	now           func() time.Time
}

// New creates an empty MemoryStore.
func New() *MemoryStore {
	return NewWithClock(time.Now)
}

// NewWithClock creates an empty MemoryStore that reads time from now.
func NewWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{
		messages: make(map[uuid.UUID][]models.Message),
		sources:  make(map[uuid.UUID][]models.Source),
		now:      now,
	}
}

func (s *MemoryStore) CreateConversation(_ context.Context, title string) (models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	conv := models.Conversation{
		ID:          uuid.New(),
		Title:       title,
		CreatedAt:   now,
		LastUpdated: now,
	}

	s.conversations = append([]models.Conversation{conv}, s.conversations...)
	s.messages[conv.ID] = []models.Message{}
	id := conv.ID
	s.current = &id

	return conv, nil
}

func (s *MemoryStore) SetCurrentConversation(_ context.Context, id *uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == nil {
		s.current = nil
		return nil
	}
	v := *id
	s.current = &v
	return nil
}

func (s *MemoryStore) AddMessage(_ context.Context, conversationID uuid.UUID, msg models.Message) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now
	}
	msg.ConversationID = conversationID

	s.messages[conversationID] = append(s.messages[conversationID], msg)

	for i := range s.conversations {
		if s.conversations[i].ID == conversationID {
			s.conversations[i].LastUpdated = bump(s.conversations[i].LastUpdated, now)
			break
		}
	}

	return msg, nil
}

func (s *MemoryStore) SetSources(_ context.Context, messageID uuid.UUID, sources []models.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.findMessage(messageID)
	if !ok {
		return store.ErrNotFound
	}
	if msg.Role != models.RoleAssistant {
		return store.ErrNotAssistant
	}

	s.sources[messageID] = append([]models.Source(nil), sources...)
	return nil
}

func (s *MemoryStore) DeleteConversation(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.conversations[:0:0]
	for _, c := range s.conversations {
		if c.ID != id {
			kept = append(kept, c)
		}
	}
	s.conversations = kept

	for _, m := range s.messages[id] {
		delete(s.sources, m.ID)
	}
	delete(s.messages, id)

	if s.current != nil && *s.current == id {
		s.current = nil
	}
	return nil
}

func (s *MemoryStore) ClearCurrentConversation(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = nil
	return nil
}

func (s *MemoryStore) ListConversations(_ context.Context) ([]models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]models.Conversation{}, s.conversations...), nil
}

func (s *MemoryStore) GetConversation(_ context.Context, id uuid.UUID) (models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.conversations {
		if c.ID == id {
			return c, nil
		}
	}
	return models.Conversation{}, store.ErrNotFound
}

func (s *MemoryStore) ListMessages(_ context.Context, conversationID uuid.UUID) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]models.Message{}, s.messages[conversationID]...), nil
}

func (s *MemoryStore) GetMessage(_ context.Context, id uuid.UUID) (models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.findMessage(id)
	if !ok {
		return models.Message{}, store.ErrNotFound
	}
	return msg, nil
}

func (s *MemoryStore) GetSources(_ context.Context, messageID uuid.UUID) ([]models.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]models.Source{}, s.sources[messageID]...), nil
}

func (s *MemoryStore) CurrentConversation(_ context.Context) (*uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.current == nil {
		return nil, nil
	}
	id := *s.current
	return &id, nil
}

// findMessage must be called with the lock held.
func (s *MemoryStore) findMessage(id uuid.UUID) (models.Message, bool) {
	for _, seq := range s.messages {
		for _, m := range seq {
			if m.ID == id {
				return m, true
			}
		}
	}
	return models.Message{}, false
}

// bump returns now, or prev plus one nanosecond when the clock has not moved past prev.
func bump(prev, now time.Time) time.Time {
	if now.After(prev) {
		return now
	}
	return prev.Add(time.Nanosecond)
}
