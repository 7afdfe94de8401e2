// Package session holds the process-wide state shared between the
// background loops and whatever presents it.
//
// All fields live behind one RWMutex. Every accessor holds the lock only for
// the read or write itself; no method performs I/O and callers must never
// keep a value obtained here "locked" across a network call.
package session

import (
	"slices"
	"sync"

	"github.com/Amorter/bili-ticket/internal/remote"
)

// State is the shared session container. The zero value is an
// unauthenticated, empty session ready for use.
type State struct {
	mu            sync.RWMutex
	cookie        string
	authenticated bool
	identity      remote.NavIdentity
	orders        []remote.Order
	cycle         uint64
}

// New returns an empty State.
func New() *State {
	return &State{}
}

// Restore seeds a State from a persisted cookie. A non-empty cookie is
// treated as an authenticated session until the platform says otherwise.
func Restore(cookie string) *State {
	s := New()
	if cookie != "" {
		s.cookie = cookie
		s.authenticated = true
	}
	return s
}

// Authenticate records a successful login made during cycle. It returns
// false without changing anything if the cycle has since been reset or is
// already authenticated, so the false→true transition happens exactly once
// per cycle.
func (s *State) Authenticate(cycle uint64, cookie string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cycle != cycle || s.authenticated {
		return false
	}
	s.cookie = cookie
	s.authenticated = true
	return true
}

// Reset ends the current login cycle (for example when switching account).
// It clears credentials, identity and the order snapshot.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cookie = ""
	s.authenticated = false
	s.identity = remote.NavIdentity{}
	s.orders = nil
	s.cycle++
}

// Cycle identifies the current login cycle; it changes on every Reset.
func (s *State) Cycle() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cycle
}

func (s *State) Cookie() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cookie
}

func (s *State) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated
}

func (s *State) SetIdentity(identity remote.NavIdentity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = identity
}

func (s *State) Identity() remote.NavIdentity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

// ReplaceOrders swaps in the result of one complete poll made during cycle.
// The slice is copied so later mutation by the caller cannot leak into the
// snapshot. A poll from a cycle that has since been reset is dropped and
// ReplaceOrders returns false.
func (s *State) ReplaceOrders(cycle uint64, orders []remote.Order) bool {
	snapshot := slices.Clone(orders)
	if snapshot == nil {
		snapshot = []remote.Order{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cycle != cycle {
		return false
	}
	s.orders = snapshot
	return true
}

// Orders returns a copy of the most recently completed poll, or nil when no
// poll has completed in this cycle.
func (s *State) Orders() []remote.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.orders)
}

// Snapshot is a consistent copy of every field, for presentation.
type Snapshot struct {
	Authenticated bool
	Cookie        string
	Identity      remote.NavIdentity
	Orders        []remote.Order
}

// Snapshot copies the whole state under one read lock.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Authenticated: s.authenticated,
		Cookie:        s.cookie,
		Identity:      s.identity,
		Orders:        slices.Clone(s.orders),
	}
}
