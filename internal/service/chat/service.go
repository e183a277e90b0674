package chat

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zhouzirui/llmpot/internal/model/chat"
)

var (
	ErrUsernameRequired = errors.New("username is required")
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionExists    = errors.New("session already exists")
	ErrInvalidRole      = errors.New("only user and assistant turns may be appended")
)

// CreateParams describes a session to register.
type CreateParams struct {
	ID           string
	Username     string
	PersonaID    string
	RemoteAddr   string
	SystemPrompt string
}

// entry owns one session's transcript. Its mutex is the per-key lock; the
// registry lock only guards the map itself.
type entry struct {
	mu       sync.Mutex
	session  chat.Session
	messages []chat.Message
}

// Service is the session registry: id → transcript, created once per
// connection and dropped when the connection closes.
type Service struct {
	mu       sync.RWMutex
	sessions map[string]*entry
}

// NewService returns an empty registry.
func NewService() *Service {
	return &Service{
		sessions: make(map[string]*entry),
	}
}

// CreateSession registers a session and seeds its transcript with the system
// turn. An empty ID is replaced by a fresh UUID.
func (s *Service) CreateSession(_ context.Context, params CreateParams) (chat.Session, error) {
	if params.Username == "" {
		return chat.Session{}, ErrUsernameRequired
	}

	id := params.ID
	if id == "" {
		id = uuid.NewString()
	}

	now := time.Now().UTC()
	session := chat.Session{
		ID:         id,
		Username:   params.Username,
		PersonaID:  params.PersonaID,
		RemoteAddr: params.RemoteAddr,
		CreatedAt:  now,
	}

	e := &entry{
		session:  session,
		messages: make([]chat.Message, 0, 16),
	}
	e.messages = append(e.messages, chat.Message{
		ID:        uuid.NewString(),
		SessionID: id,
		Role:      chat.RoleSystem,
		Content:   params.SystemPrompt,
		CreatedAt: now,
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[id]; exists {
		return chat.Session{}, ErrSessionExists
	}
	s.sessions[id] = e

	return session, nil
}

// SaveMessage appends a user or assistant turn to the session transcript and
// returns the stored message.
func (s *Service) SaveMessage(_ context.Context, message chat.Message) (chat.Message, error) {
	if message.Role != chat.RoleUser && message.Role != chat.RoleAssistant {
		return chat.Message{}, ErrInvalidRole
	}

	e, err := s.lookup(message.SessionID)
	if err != nil {
		return chat.Message{}, err
	}

	message.ID = uuid.NewString()
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}

	e.mu.Lock()
	e.messages = append(e.messages, message)
	e.mu.Unlock()

	return message, nil
}

// GetSession retrieves a session by identifier.
func (s *Service) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	e, err := s.lookup(sessionID)
	if err != nil {
		return chat.Session{}, err
	}
	return e.session, nil
}

// LoadTranscript returns a copy of the session's turns, system turn first.
func (s *Service) LoadTranscript(_ context.Context, sessionID string) ([]chat.Message, error) {
	e, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	copied := make([]chat.Message, len(e.messages))
	copy(copied, e.messages)
	return copied, nil
}

// ListSessions returns the active sessions, oldest first.
func (s *Service) ListSessions(_ context.Context) []chat.Session {
	s.mu.RLock()
	sessions := make([]chat.Session, 0, len(s.sessions))
	for _, e := range s.sessions {
		sessions = append(sessions, e.session)
	}
	s.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	return sessions
}

// CloseSession discards the session and its transcript.
func (s *Service) CloseSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, sessionID)
	return nil
}

// Count returns the number of active sessions.
func (s *Service) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Service) lookup(sessionID string) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return e, nil
}
