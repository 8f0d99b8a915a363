package analysis

import (
	"sync"
	"time"
)

// Status texts published outside the funnel itself.
const (
	StatusIdle     = "💤 Idle"
	StatusStarted  = "🚀 Analysis started"
	StatusFetching = "📡 Fetching candles"
	StatusChecking = "🔍 Checking trend"
	StatusStopped  = "🛑 Analysis stopped"
	StatusInternal = "⚠️ Internal error, retrying"
)

// State is the running flag and status text shared between the loop
// goroutine and the command surface. Only the loop mutates it.
type State struct {
	mu        sync.RWMutex
	running   bool
	status    string
	updatedAt time.Time
}

// NewState returns an idle state.
func NewState() *State {
	return &State{status: StatusIdle, updatedAt: time.Now()}
}

// Running reports whether a loop is active.
func (s *State) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Status returns the last published status text.
func (s *State) Status() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// UpdatedAt returns when the status last changed.
func (s *State) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

func (s *State) set(running bool, status string) {
	s.mu.Lock()
	s.running = running
	s.status = status
	s.updatedAt = time.Now()
	s.mu.Unlock()
}

func (s *State) setStatus(status string) {
	s.mu.Lock()
	s.status = status
	s.updatedAt = time.Now()
	s.mu.Unlock()
}
