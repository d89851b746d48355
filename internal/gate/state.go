package gate

import (
	"sync"
	"time"
)

// PositionState is the bot-local memory the gate reads: when the current
// position was opened and whether its profit lock was last seen active.
type PositionState struct {
	mu      sync.RWMutex
	entries map[string]entry
}

type entry struct {
	openedAt   time.Time
	profitLock bool
}

// NewPositionState creates empty state
func NewPositionState() *PositionState {
	return &PositionState{entries: make(map[string]entry)}
}

// RecordOpen stores the entry time of a freshly opened position
func (s *PositionState) RecordOpen(symbol string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[symbol] = entry{openedAt: at}
}

// Clear forgets the symbol after its position closes
func (s *PositionState) Clear(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, symbol)
}

// EntryTime returns the recorded entry time, false when unknown
// (for example a position that predates this process)
func (s *PositionState) EntryTime(symbol string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[symbol]
	if !ok || e.openedAt.IsZero() {
		return time.Time{}, false
	}
	return e.openedAt, true
}

// SetProfitLock records the latest profit-lock evaluation
func (s *PositionState) SetProfitLock(symbol string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[symbol]
	e.profitLock = active
	s.entries[symbol] = e
}

// ProfitLock returns the latest profit-lock evaluation
func (s *PositionState) ProfitLock(symbol string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[symbol].profitLock
}
