// Package circuit halts new entries for a bot after a losing streak or once
// its hourly or daily loss budget is spent. Closing a position is never
// blocked.
package circuit

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"perp-trading-agent/internal/events"
	"perp-trading-agent/internal/logging"
	"perp-trading-agent/internal/portfolio"
)

// ErrTripped is returned by CheckOpen while the breaker refuses entries
var ErrTripped = errors.New("circuit breaker open")

// BreakerState represents the circuit breaker state
type BreakerState string

const (
	StateClosed   BreakerState = "closed"    // Normal operation
	StateOpen     BreakerState = "open"      // Entries halted
	StateHalfOpen BreakerState = "half_open" // Cooldown over, waiting for a winner
)

// Config holds circuit breaker limits. Loss limits are sums of losing trade
// percentages.
type Config struct {
	Enabled              bool
	MaxConsecutiveLosses int
	MaxLossPerHour       float64
	MaxDailyLoss         float64
	MaxDailyTrades       int
	Cooldown             time.Duration
}

// DefaultConfig returns safe defaults
func DefaultConfig() Config {
	return Config{
		Enabled:              true,
		MaxConsecutiveLosses: 5,
		MaxLossPerHour:       3.0,
		MaxDailyLoss:         5.0,
		MaxDailyTrades:       100,
		Cooldown:             30 * time.Minute,
	}
}

// Stats is a snapshot of the breaker counters
type Stats struct {
	State             BreakerState `json:"state"`
	ConsecutiveLosses int          `json:"consecutive_losses"`
	HourlyLoss        float64      `json:"hourly_loss"`
	DailyLoss         float64      `json:"daily_loss"`
	DailyTrades       int          `json:"daily_trades"`
	TripReason        string       `json:"trip_reason,omitempty"`
	LastTripTime      *time.Time   `json:"last_trip_time,omitempty"`
}

// Option configures a Breaker
type Option func(*Breaker)

// WithEvents publishes trips and resets on bus
func WithEvents(bus *events.EventBus) Option {
	return func(b *Breaker) { b.events = bus }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// Breaker implements the trading circuit breaker for one bot
type Breaker struct {
	bot    string
	cfg    Config
	events *events.EventBus
	logger *logging.Logger
	now    func() time.Time

	mu                sync.Mutex
	state             BreakerState
	consecutiveLosses int
	hourlyLoss        float64
	dailyLoss         float64
	dailyTrades       int
	lastTripTime      time.Time
	tripReason        string
	hourlyResetTime   time.Time
	dailyResetTime    time.Time
}

// New creates a closed breaker
func New(bot string, cfg Config, logger *logging.Logger, opts ...Option) *Breaker {
	if logger == nil {
		logger = logging.Nop()
	}
	b := &Breaker{
		bot:    bot,
		cfg:    cfg,
		logger: logger.WithComponent("circuit_breaker"),
		now:    time.Now,
		state:  StateClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	now := b.now()
	b.hourlyResetTime = now.Add(time.Hour)
	b.dailyResetTime = now.Truncate(24 * time.Hour).Add(24 * time.Hour)
	return b
}

// CanTrade checks if a new entry is allowed
func (b *Breaker) CanTrade() (bool, string) {
	if !b.cfg.Enabled {
		return true, ""
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.resetCountersIfNeeded()

	if b.state == StateOpen {
		elapsed := b.now().Sub(b.lastTripTime)
		if elapsed < b.cfg.Cooldown {
			remaining := b.cfg.Cooldown - elapsed
			return false, fmt.Sprintf("cooldown remaining %v (reason: %s)", remaining.Round(time.Second), b.tripReason)
		}
		b.state = StateHalfOpen
		b.consecutiveLosses = 0
		b.logger.Info("Circuit breaker half-open", "bot", b.bot)
	}

	if b.cfg.MaxLossPerHour > 0 && b.hourlyLoss >= b.cfg.MaxLossPerHour {
		return false, fmt.Sprintf("hourly loss limit reached: %.2f%% >= %.2f%%", b.hourlyLoss, b.cfg.MaxLossPerHour)
	}
	if b.cfg.MaxDailyLoss > 0 && b.dailyLoss >= b.cfg.MaxDailyLoss {
		return false, fmt.Sprintf("daily loss limit reached: %.2f%% >= %.2f%%", b.dailyLoss, b.cfg.MaxDailyLoss)
	}
	if b.cfg.MaxDailyTrades > 0 && b.dailyTrades >= b.cfg.MaxDailyTrades {
		return false, fmt.Sprintf("daily trade limit reached: %d trades", b.dailyTrades)
	}
	return true, ""
}

// CheckOpen vetoes an entry while the breaker refuses trading
func (b *Breaker) CheckOpen(_ *portfolio.Snapshot, _ float64) error {
	if ok, reason := b.CanTrade(); !ok {
		return fmt.Errorf("%w: %s", ErrTripped, reason)
	}
	return nil
}

// RecordTrade records a closed trade's result in percent
func (b *Breaker) RecordTrade(pnlPercent float64) {
	if !b.cfg.Enabled || math.IsNaN(pnlPercent) || math.IsInf(pnlPercent, 0) {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.resetCountersIfNeeded()
	b.dailyTrades++

	if pnlPercent < 0 {
		b.consecutiveLosses++
		b.hourlyLoss += -pnlPercent
		b.dailyLoss += -pnlPercent
	} else {
		b.consecutiveLosses = 0
		if b.state == StateHalfOpen {
			b.state = StateClosed
			b.logger.Info("Circuit breaker recovered", "bot", b.bot)
			b.publish("recovered", "winning_trade_after_cooldown")
		}
	}

	if b.state == StateOpen {
		return
	}
	switch {
	case b.cfg.MaxConsecutiveLosses > 0 && b.consecutiveLosses >= b.cfg.MaxConsecutiveLosses:
		b.trip(fmt.Sprintf("consecutive losses: %d", b.consecutiveLosses))
	case b.cfg.MaxLossPerHour > 0 && b.hourlyLoss >= b.cfg.MaxLossPerHour:
		b.trip(fmt.Sprintf("hourly loss: %.2f%%", b.hourlyLoss))
	case b.cfg.MaxDailyLoss > 0 && b.dailyLoss >= b.cfg.MaxDailyLoss:
		b.trip(fmt.Sprintf("daily loss: %.2f%%", b.dailyLoss))
	}
}

func (b *Breaker) trip(reason string) {
	b.state = StateOpen
	b.lastTripTime = b.now()
	b.tripReason = reason
	b.logger.Warn("Circuit breaker tripped", "bot", b.bot, "reason", reason, "cooldown", b.cfg.Cooldown.String())
	b.publish("tripped", reason)
}

// publish must be called with mu held
func (b *Breaker) publish(action, reason string) {
	b.events.Publish(events.Event{Type: events.EventCircuitBreaker, Bot: b.bot,
		Data: events.Data{
			"state":              string(b.state),
			"action":             action,
			"reason":             reason,
			"consecutive_losses": b.consecutiveLosses,
			"hourly_loss":        b.hourlyLoss,
			"daily_loss":         b.dailyLoss,
		}})
}

func (b *Breaker) resetCountersIfNeeded() {
	now := b.now()
	if now.After(b.hourlyResetTime) {
		b.hourlyLoss = 0
		b.hourlyResetTime = now.Add(time.Hour)
	}
	if now.After(b.dailyResetTime) {
		b.dailyLoss = 0
		b.dailyTrades = 0
		b.dailyResetTime = now.Truncate(24 * time.Hour).Add(24 * time.Hour)
	}
}

// Reset closes the breaker and clears the losing streak
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.consecutiveLosses = 0
	b.tripReason = ""
	b.publish("reset", "manual_reset")
}

// State returns the current breaker state
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns the current counters
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := Stats{
		State:             b.state,
		ConsecutiveLosses: b.consecutiveLosses,
		HourlyLoss:        b.hourlyLoss,
		DailyLoss:         b.dailyLoss,
		DailyTrades:       b.dailyTrades,
		TripReason:        b.tripReason,
	}
	if !b.lastTripTime.IsZero() {
		at := b.lastTripTime
		s.LastTripTime = &at
	}
	return s
}

// IsEnabled returns if circuit breaker is enabled
func (b *Breaker) IsEnabled() bool {
	return b.cfg.Enabled
}
