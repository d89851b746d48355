package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"perp-trading-agent/internal/decision"
	"perp-trading-agent/internal/logging"
	"perp-trading-agent/internal/tracker"
)

var (
	ErrUnknownBot   = errors.New("unknown bot")
	ErrDuplicateBot = errors.New("duplicate bot name")
	ErrNoBreaker    = errors.New("circuit breaker not configured")
)

// Manager owns every trader of the process
type Manager struct {
	mu      sync.RWMutex
	traders []*Trader
	byName  map[string]*Trader
	stagger time.Duration
	ctx     context.Context
	logger  *logging.Logger
}

// NewManager creates a manager that delays bot i by i*stagger at start
func NewManager(stagger time.Duration, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Default()
	}
	return &Manager{
		byName:  make(map[string]*Trader),
		stagger: stagger,
		ctx:     context.Background(),
		logger:  logger.WithComponent("bot_manager"),
	}
}

// Add registers a trader. Names must be unique.
func (m *Manager) Add(t *Trader) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byName[t.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateBot, t.Name())
	}
	m.traders = append(m.traders, t)
	m.byName[t.Name()] = t
	return nil
}

// Start launches every trader with a staggered delay
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	m.ctx = ctx
	traders := append([]*Trader(nil), m.traders...)
	m.mu.Unlock()

	for i, t := range traders {
		delay := StartDelay(i, m.stagger)
		m.logger.Info("Scheduling bot", "bot", t.Name(), "symbol", t.Symbol(), "delay", delay.String())
		t.Start(ctx, delay)
	}
	m.logger.Info("All bots scheduled", "count", len(traders))
}

// StartDelay is the fixed stagger for the bot at index
func StartDelay(index int, stagger time.Duration) time.Duration {
	if index <= 0 || stagger <= 0 {
		return 0
	}
	return time.Duration(index) * stagger
}

// Stop stops every trader. Running cycles finish first.
func (m *Manager) Stop() {
	var wg sync.WaitGroup
	for _, t := range m.Traders() {
		wg.Add(1)
		go func(t *Trader) {
			defer wg.Done()
			t.Stop()
		}(t)
	}
	wg.Wait()
	m.logger.Info("All bots stopped")
}

// StartBot restarts a single stopped trader without delay
func (m *Manager) StartBot(name string) error {
	t, ok := m.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBot, name)
	}
	m.mu.RLock()
	ctx := m.ctx
	m.mu.RUnlock()
	t.Start(ctx, 0)
	return nil
}

// StopBot stops a single trader
func (m *Manager) StopBot(name string) error {
	t, ok := m.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBot, name)
	}
	t.Stop()
	return nil
}

// Get returns the trader called name
func (m *Manager) Get(name string) (*Trader, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.byName[name]
	return t, ok
}

// Traders returns the traders in registration order
func (m *Manager) Traders() []*Trader {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*Trader(nil), m.traders...)
}

// Statuses returns every trader's status in registration order
func (m *Manager) Statuses() []Status {
	traders := m.Traders()
	out := make([]Status, 0, len(traders))
	for _, t := range traders {
		out = append(out, t.Status())
	}
	return out
}

// Status returns the status of the trader called name
func (m *Manager) Status(name string) (Status, error) {
	t, ok := m.Get(name)
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrUnknownBot, name)
	}
	return t.Status(), nil
}

// Decisions returns the newest decision log entries of one trader
func (m *Manager) Decisions(ctx context.Context, name string, limit int) ([]decision.LogEntry, error) {
	t, ok := m.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBot, name)
	}
	return t.Decisions(ctx, limit)
}

// Trades returns the newest trade records of one trader
func (m *Manager) Trades(name string, limit int) ([]tracker.TradeRecord, error) {
	t, ok := m.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBot, name)
	}
	return t.Tracker().Trades(limit), nil
}

// ResetBreaker closes the circuit breaker of one trader
func (m *Manager) ResetBreaker(name string) error {
	t, ok := m.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBot, name)
	}
	if !t.ResetBreaker() {
		return fmt.Errorf("%w: %s", ErrNoBreaker, name)
	}
	return nil
}
