package decision

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"perp-trading-agent/internal/exchange"
)

// DefaultLogCapacity bounds the in-memory decision log
const DefaultLogCapacity = 1000

// LogEntry is one decision with the context it was made in
type LogEntry struct {
	ID         string              `json:"id"`
	Bot        string              `json:"bot"`
	Timestamp  time.Time           `json:"timestamp"`
	Decision   Decision            `json:"decision"`
	Price      float64             `json:"price"`
	Change24h  float64             `json:"change_24h"`
	Positions  []exchange.Position `json:"positions"`
	Executed   bool                `json:"executed"`
	SkipReason string              `json:"skip_reason,omitempty"`
}

// Store persists the decision log
type Store interface {
	Append(ctx context.Context, entry LogEntry) error
	Recent(ctx context.Context, bot string, limit int) ([]LogEntry, error)
}

// MemoryStore keeps the most recent entries per bot in a bounded ring
type MemoryStore struct {
	mu       sync.RWMutex
	capacity int
	entries  map[string][]LogEntry
}

// NewMemoryStore creates a store holding capacity entries per bot
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &MemoryStore{
		capacity: capacity,
		entries:  make(map[string][]LogEntry),
	}
}

// Append adds an entry, dropping the oldest beyond capacity
func (s *MemoryStore) Append(ctx context.Context, entry LogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	log := append(s.entries[entry.Bot], entry)
	if len(log) > s.capacity {
		log = append([]LogEntry(nil), log[len(log)-s.capacity:]...)
	}
	s.entries[entry.Bot] = log
	return nil
}

// Recent returns up to limit entries for bot, newest first. limit <= 0 returns all.
func (s *MemoryStore) Recent(ctx context.Context, bot string, limit int) ([]LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.entries[bot]
	out := make([]LogEntry, 0, len(log))
	for i := len(log) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, log[i])
	}
	return out, nil
}

// Len returns the number of entries kept for bot
func (s *MemoryStore) Len(bot string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries[bot])
}
