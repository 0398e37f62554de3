package session

import "sync"

// Registry tracks the open sessions of one client so cross-cutting
// consumers (periodic resync, the notification router's "is this
// conversation open" check) can reach them without owning them.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	focused  string
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Add registers an open session, replacing any prior session for the
// same conversation.
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.Conversation()] = s
}

// Remove deregisters the session for a conversation.
func (r *Registry) Remove(conv string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, conv)
	if r.focused == conv {
		r.focused = ""
	}
}

// SetFocused records which conversation is the active viewport.
func (r *Registry) SetFocused(conv string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.focused = conv
}

// Focused returns the conversation currently in the active viewport;
// empty when none is.
func (r *Registry) Focused() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.focused
}

// Each calls fn for every open session.
func (r *Registry) Each(fn func(*Session)) {
	r.mu.Lock()
	list := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s)
	}
	r.mu.Unlock()
	for _, s := range list {
		fn(s)
	}
}
