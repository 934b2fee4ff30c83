package trailbase

import "sync"

// TokenStore is the single owner of the current session. Every other
// component reads and writes tokens exclusively through it.
//
// The generation counter advances on every mutation. Writers that went
// over the network capture the generation before the call and write back
// with SetIfCurrent, so a refresh that completes after a logout (or after
// a competing refresh) is dropped instead of resurrecting stale tokens.
type TokenStore struct {
	mu         sync.Mutex
	session    *Session
	generation uint64
}

func NewTokenStore() *TokenStore {
	return &TokenStore{}
}

// Get returns a copy of the current session, or nil when logged out.
func (s *TokenStore) Get() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil
	}

	cp := *s.session
	return &cp
}

func (s *TokenStore) Set(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.setLocked(sess)
}

// SetIfCurrent writes sess only when the store has not been mutated since
// the caller observed generation gen. It reports whether the write took.
func (s *TokenStore) SetIfCurrent(sess *Session, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generation != gen {
		return false
	}

	s.setLocked(sess)
	return true
}

func (s *TokenStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.session = nil
	s.generation++
}

func (s *TokenStore) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.generation
}

func (s *TokenStore) setLocked(sess *Session) {
	if sess == nil {
		s.session = nil
	} else {
		cp := *sess
		s.session = &cp
	}
	s.generation++
}
