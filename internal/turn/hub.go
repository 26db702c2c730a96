package turn

import (
	"sort"
	"sync"
)

// Hub owns the sessions of one process. Sessions share only the read-only
// Config.
type Hub struct {
	mu       sync.Mutex
	cfg      Config
	sessions map[string]*Session
}

// NewHub returns an empty hub using cfg for every session it opens.
func NewHub(cfg Config) *Hub {
	return &Hub{cfg: cfg.withDefaults(), sessions: make(map[string]*Session)}
}

// Open returns the session for id, creating it on log if needed. persist,
// when non-nil, overrides Config.Persist for a new session.
func (h *Hub) Open(id string, log Log, persist func() error) *Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.sessions[id]; ok {
		return s
	}
	cfg := h.cfg
	if persist != nil {
		cfg.Persist = persist
	}
	s := NewSession(id, log, cfg)
	h.sessions[id] = s
	return s
}

// Get returns the session for id.
func (h *Hub) Get(id string) (*Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[id]
	return s, ok
}

// Close cancels and forgets the session for id.
func (h *Hub) Close(id string) {
	h.mu.Lock()
	s, ok := h.sessions[id]
	delete(h.sessions, id)
	h.mu.Unlock()
	if ok {
		s.Cancel()
	}
}

// IDs lists open sessions in order.
func (h *Hub) IDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.sessions))
	for id := range h.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Views returns the state of every open session.
func (h *Hub) Views() []View {
	ids := h.IDs()
	views := make([]View, 0, len(ids))
	for _, id := range ids {
		if s, ok := h.Get(id); ok {
			views = append(views, s.Snapshot())
		}
	}
	return views
}
