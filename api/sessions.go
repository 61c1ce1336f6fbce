/*
sessions.go - In-process registry of open edit sessions

Each open session belongs to one edit surface (one browser tab). The
registry hands out opaque ids and serializes every operation on a session
with a per-entry mutex, so a session never sees two requests at once while
different sessions proceed in parallel.

Sessions are not persisted: a restart discards unsaved edits, the same as
closing the tab. Idle sessions are dropped by Expire.
*/
package api

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warp/parcela-engine/parcela"
)

// ErrSessionNotFound is returned for an unknown or expired session id.
var ErrSessionNotFound = errors.New("edit session not found")

type sessionEntry struct {
	policyID parcela.PolicyID

	mu      sync.Mutex
	policy  parcela.Policy
	session *parcela.Session
	touched time.Time
}

// SessionRegistry holds open sessions by id.
type SessionRegistry struct {
	mu      sync.RWMutex
	entries map[string]*sessionEntry
	now     func() time.Time
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		entries: make(map[string]*sessionEntry),
		now:     time.Now,
	}
}

// Open registers a session and returns its id. p is the policy the session
// was derived from, used for summaries.
func (r *SessionRegistry) Open(p parcela.Policy, s *parcela.Session) string {
	id := uuid.NewString()
	r.mu.Lock()
	r.entries[id] = &sessionEntry{policyID: p.ID, policy: p, session: s, touched: r.now()}
	r.mu.Unlock()
	return id
}

// With runs fn with exclusive access to the session. fn may replace the
// policy snapshot, e.g. after a save changed its monthly cost.
func (r *SessionRegistry) With(id string, fn func(p *parcela.Policy, s *parcela.Session) error) error {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return ErrSessionNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.touched = r.now()
	return fn(&e.policy, e.session)
}

// Close discards a session and its unsaved edits.
func (r *SessionRegistry) Close(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[id]
	delete(r.entries, id)
	return ok
}

// CloseForPolicy discards every session on a policy.
func (r *SessionRegistry) CloseForPolicy(policyID parcela.PolicyID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, e := range r.entries {
		if e.policyID == policyID {
			delete(r.entries, id)
			n++
		}
	}
	return n
}

// CloseAll discards every session.
func (r *SessionRegistry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]*sessionEntry)
}

// Expire drops sessions idle for longer than ttl.
func (r *SessionRegistry) Expire(ttl time.Duration) int {
	cutoff := r.now().Add(-ttl)
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, e := range r.entries {
		if e.mu.TryLock() {
			if e.touched.Before(cutoff) {
				delete(r.entries, id)
				n++
			}
			e.mu.Unlock()
		}
	}
	return n
}

// Len returns the number of open sessions.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
