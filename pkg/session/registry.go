package session

import (
	"sync"

	"github.com/samber/lo"
)

// Registry активные сессии по идентификатору. Изменяется только при
// создании сессии и при достижении терминального состояния.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	byCallID map[string]string
}

// NewRegistry создает пустой реестр
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		byCallID: make(map[string]string),
	}
}

// Add регистрирует сессию. false, если идентификатор уже занят.
func (r *Registry) Add(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[s.ID()]; exists {
		return false
	}
	r.sessions[s.ID()] = s
	r.byCallID[s.Path().CallID()] = s.ID()
	return true
}

// Get сессия по идентификатору
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// GetByCallID сессия по Call-ID диалога
func (r *Registry) GetByCallID(callID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byCallID[callID]
	if !ok {
		return nil, false
	}
	s, ok := r.sessions[id]
	return s, ok
}

// Remove удаляет сессию
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return
	}
	delete(r.sessions, id)
	delete(r.byCallID, s.Path().CallID())
}

// Len число активных сессий
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// IDs идентификаторы активных сессий
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Keys(r.sessions)
}

// Sessions снимок активных сессий
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Values(r.sessions)
}
