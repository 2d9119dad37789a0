package services

import (
	"sync"

	"github.com/NoahRocket/X/internal/core/domain"
	"github.com/NoahRocket/X/internal/core/ports"
)

var _ ports.Distributor = (*Registry)(nil)

// Registry tracks the live sessions, one per connected view. A viewer with
// two open clients gets two independent sessions; both converge on store
// truth through the realtime stream.
type Registry struct {
	store     ports.PostStore
	tracker   *RateTracker
	responder ports.Responder
	publisher ports.EventPublisher

	mu       sync.Mutex
	sessions map[*Session]struct{}
}

func NewRegistry(store ports.PostStore, tracker *RateTracker, responder ports.Responder, publisher ports.EventPublisher) *Registry {
	return &Registry{
		store:     store,
		tracker:   tracker,
		responder: responder,
		publisher: publisher,
		sessions:  make(map[*Session]struct{}),
	}
}

// NewSession builds a session without registering it. Used for one-shot
// request handling where no realtime delivery is needed.
func (r *Registry) NewSession(viewerID string) *Session {
	return NewSession(viewerID, r.store, r.tracker, r.responder, r.publisher)
}

// Attach creates and registers a session; it will receive realtime inserts
// until Detach.
func (r *Registry) Attach(viewerID string) *Session {
	s := r.NewSession(viewerID)
	r.mu.Lock()
	r.sessions[s] = struct{}{}
	r.mu.Unlock()
	return s
}

func (r *Registry) Detach(s *Session) {
	r.mu.Lock()
	delete(r.sessions, s)
	r.mu.Unlock()
}

// Lookup returns an attached session for the viewer, if any. Mutating REST
// calls prefer the live session so optimistic state and pushes line up.
func (r *Registry) Lookup(viewerID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for s := range r.sessions {
		if s.viewerID == viewerID {
			return s, true
		}
	}
	return nil, false
}

// Broadcast fans a newly created post into every live session. Each session
// dedups by id, so the author's own optimistic insert is not doubled.
func (r *Registry) Broadcast(post domain.Post) {
	r.mu.Lock()
	targets := make([]*Session, 0, len(r.sessions))
	for s := range r.sessions {
		targets = append(targets, s)
	}
	r.mu.Unlock()

	for _, s := range targets {
		s.ApplyInsert(post)
	}
}
