package websocket

import (
	"sync"

	"github.com/agrovision/advisory-chat/internal/observability"
)

type Registry struct {
	mu       sync.RWMutex
	sessions map[string]map[string]*Session // participant -> slot -> session
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]map[string]*Session),
	}
}

func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	if r.sessions[s.ParticipantID] == nil {
		r.sessions[s.ParticipantID] = make(map[string]*Session)
	}
	old := r.sessions[s.ParticipantID][s.Slot]
	r.sessions[s.ParticipantID][s.Slot] = s
	r.mu.Unlock()

	if old == nil {
		observability.WebSocketConnections.Inc()
		return
	}
	if old.ID != s.ID {
		old.CloseWithReason(CloseSessionReplace, "session_replaced")
	}
}

// Remove drops s unless its slot has already been taken by a newer session.
func (r *Registry) Remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	slots, ok := r.sessions[s.ParticipantID]
	if !ok {
		return
	}
	if current, ok := slots[s.Slot]; ok && current.ID == s.ID {
		delete(slots, s.Slot)
		if len(slots) == 0 {
			delete(r.sessions, s.ParticipantID)
		}
		observability.WebSocketConnections.Dec()
	}
}

func (r *Registry) ParticipantSessions(participantID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*Session
	for _, s := range r.sessions[participantID] {
		result = append(result, s)
	}
	return result
}

func (r *Registry) CloseAll() {
	r.mu.RLock()
	var all []*Session
	for _, slots := range r.sessions {
		for _, s := range slots {
			all = append(all, s)
		}
	}
	r.mu.RUnlock()

	for _, s := range all {
		s.CloseWithReason(1001, "server shutting down")
	}
}
