// Package session keeps the single live negotiation session.
package session

import (
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"
)

var ErrNoActiveSession = errors.New("no active session")

// Registry holds at most one Session. Every access to the slot is mutually
// exclusive.
type Registry struct {
	mutex   sync.Mutex
	current *Session
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Replace installs s and retires the session it displaces, if any. The
// previous session is returned.
func (r *Registry) Replace(s *Session) *Session {
	r.mutex.Lock()
	prev := r.current
	r.current = s
	r.mutex.Unlock()

	if prev != nil {
		log.WithField("src", "registry").Infof("session %s replaced by %s", prev.ID, s.ID)
		prev.Retire()
	}
	return prev
}

// WithCurrent runs fn on the current session while holding the registry
// lock.
func WithCurrent[T any](r *Registry, fn func(*Session) (T, error)) (T, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.current == nil {
		var zero T
		return zero, ErrNoActiveSession
	}
	return fn(r.current)
}

// IsCurrent reports whether id names the session in the slot.
func (r *Registry) IsCurrent(id string) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.current != nil && r.current.ID == id
}

// Remove empties the slot if it holds id and retires that session.
func (r *Registry) Remove(id string) bool {
	r.mutex.Lock()
	s := r.current
	if s == nil || s.ID != id {
		r.mutex.Unlock()
		return false
	}
	r.current = nil
	r.mutex.Unlock()

	s.Retire()
	return true
}

// Close retires whatever session is current.
func (r *Registry) Close() {
	r.mutex.Lock()
	s := r.current
	r.current = nil
	r.mutex.Unlock()
	if s != nil {
		s.Retire()
	}
}
