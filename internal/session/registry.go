package session

import (
	cmap "github.com/orcaman/concurrent-map/v2"
)

// Registry maps bound system ids to their live session.
type Registry struct {
	sessions cmap.ConcurrentMap[string, Session]
}

func NewRegistry() *Registry {
	return &Registry{sessions: cmap.New[Session]()}
}

// Register stores s under its system id and returns the session it replaced,
// if any. The caller decides what to do with the replaced session.
func (r *Registry) Register(s Session) Session {
	var previous Session
	r.sessions.Upsert(s.SystemID(), s, func(exists bool, current Session, next Session) Session {
		if exists && current != next {
			previous = current
		}
		return next
	})
	return previous
}

// Remove deletes the entry for s only if it is still the registered session.
func (r *Registry) Remove(s Session) bool {
	return r.sessions.RemoveCb(s.SystemID(), func(_ string, v Session, exists bool) bool {
		return exists && v == s
	})
}

func (r *Registry) Get(systemID string) (Session, bool) {
	return r.sessions.Get(systemID)
}

func (r *Registry) Count() int {
	return r.sessions.Count()
}

// Snapshot returns the sessions registered at the time of the call.
func (r *Registry) Snapshot() []Session {
	items := r.sessions.Items()
	out := make([]Session, 0, len(items))
	for _, s := range items {
		out = append(out, s)
	}
	return out
}
