package attendance

import (
	"sync"
	"time"
)

// Registry is the process-wide, in-memory map of classes currently taking
// attendance. It is the authoritative answer to "is attendance currently being
// taken for this class, and with which token". All operations are in-memory
// and never block on I/O.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]Session
	ttl      time.Duration    // 0 = sessions never expire
	nowFunc  func() time.Time // mockable
}

func NewRegistry(ttl time.Duration) *Registry {
	return &Registry{
		sessions: make(map[string]Session),
		ttl:      ttl,
		nowFunc:  time.Now,
	}
}

// Start unconditionally installs sess for its class, replacing any prior
// session. Scans already in flight with the old token will be rejected as
// "invalid token", not as "no session".
func (r *Registry) Start(sess Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sess.ClassID] = sess
}

// Stop removes the session for classID if present. Stopping a class with no
// session is a no-op, not an error.
func (r *Registry) Stop(classID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, classID)
}

// Get is a pure lookup with no side effects. An expired entry (TTL enabled)
// reads as absent; the stale map entry is overwritten by the next Start.
func (r *Registry) Get(classID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[classID]
	if !ok {
		return Session{}, false
	}
	if r.ttl > 0 && r.nowFunc().Sub(sess.StartedAt) > r.ttl {
		return Session{}, false
	}
	return sess, true
}

// Len reports the number of installed sessions, expired ones included.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
