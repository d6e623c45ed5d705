// Package session keeps short-lived per-user conversational state: the
// multi-step parameter collection for a generation and the recharge
// amount prompt. State lives in an in-process map behind a store type so
// the backing can change without touching call sites.
package session

import (
	"sync"
	"time"
)

type Mode int

const (
	ModeIdle Mode = iota
	ModeCollecting
	ModeAwaitingRechargeAmount
	ModeAwaitingRechargeProof
)

type Session struct {
	Mode         Mode
	ModelID      string
	Params       map[string]any
	Step         int
	LastActivity time.Time

	lastSubmit time.Time
}

type Store struct {
	mu       sync.RWMutex
	sessions map[int64]*Session
	ttl      time.Duration
	debounce time.Duration
	now      func() time.Time
}

func NewStore(ttl, debounce time.Duration) *Store {
	return &Store{
		sessions: make(map[int64]*Session),
		ttl:      ttl,
		debounce: debounce,
		now:      time.Now,
	}
}

// Get returns the live session for a chat, or nil. A session idle past
// the TTL is treated as absent even before the sweep removes it, so the
// user's next message starts fresh instead of resuming stale parameters.
func (s *Store) Get(chatID int64) *Session {
	s.mu.RLock()
	sess, ok := s.sessions[chatID]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	if s.now().Sub(sess.LastActivity) > s.ttl {
		s.Clear(chatID)
		return nil
	}
	return sess
}

func (s *Store) Set(chatID int64, sess *Session) {
	sess.LastActivity = s.now()
	s.mu.Lock()
	s.sessions[chatID] = sess
	s.mu.Unlock()
}

// Touch refreshes the activity timestamp of an existing session.
func (s *Store) Touch(chatID int64) {
	s.mu.Lock()
	if sess, ok := s.sessions[chatID]; ok {
		sess.LastActivity = s.now()
	}
	s.mu.Unlock()
}

func (s *Store) Clear(chatID int64) {
	s.mu.Lock()
	delete(s.sessions, chatID)
	s.mu.Unlock()
}

// AllowSubmit guards against double-submission from a flaky client: the
// first call inside the debounce window wins, repeats are ignored.
func (s *Store) AllowSubmit(chatID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[chatID]
	if !ok {
		return true
	}
	now := s.now()
	if now.Sub(sess.lastSubmit) < s.debounce {
		return false
	}
	sess.lastSubmit = now
	return true
}

// Sweep removes sessions idle past the TTL. Runs on the same periodic
// timer as the rate limiter sweep.
func (s *Store) Sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.ttl)
	for chatID, sess := range s.sessions {
		if sess.LastActivity.Before(cutoff) {
			delete(s.sessions, chatID)
		}
	}
}
