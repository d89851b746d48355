// Package risk holds the portfolio-level advisories around the trading cycle:
// heat, daily drawdown, adaptive sizing and trailing stops.
package risk

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"perp-trading-agent/internal/logging"
	"perp-trading-agent/internal/portfolio"
)

// ErrLimitExceeded is returned when an open would breach a portfolio limit
var ErrLimitExceeded = errors.New("risk limit exceeded")

// Config holds risk management configuration
type Config struct {
	MaxPortfolioHeat float64 // max fraction of balance at risk, 0.15 = 15%
	StopDistance     float64 // assumed stop distance per position, 0.02 = 2%
	MaxDailyDrawdown float64 // percent of balance lost in a day before opens stop; 0 disables
	MaxOpenPositions int     // 0 disables
}

// DefaultConfig returns the stock limits
func DefaultConfig() Config {
	return Config{
		MaxPortfolioHeat: 0.15,
		StopDistance:     0.02,
		MaxDailyDrawdown: 10,
		MaxOpenPositions: 0,
	}
}

// Manager checks opens against portfolio limits and tracks daily PnL
type Manager struct {
	config        Config
	dailyPnL      float64
	dailyPnLReset time.Time
	mu            sync.RWMutex
	logger        *logging.Logger
	now           func() time.Time
}

// NewManager creates a new risk manager
func NewManager(cfg Config, logger *logging.Logger) *Manager {
	def := DefaultConfig()
	if cfg.MaxPortfolioHeat <= 0 {
		cfg.MaxPortfolioHeat = def.MaxPortfolioHeat
	}
	if cfg.StopDistance <= 0 {
		cfg.StopDistance = def.StopDistance
	}
	if logger == nil {
		logger = logging.Nop()
	}
	m := &Manager{
		config: cfg,
		logger: logger.WithComponent("risk"),
		now:    time.Now,
	}
	m.dailyPnLReset = m.now().Truncate(24 * time.Hour)
	return m
}

// PortfolioHeat estimates the fraction of balance at risk across positions
func (m *Manager) PortfolioHeat(p *portfolio.Snapshot) float64 {
	if p == nil || p.Balance.Total <= 0 {
		return 0
	}
	var risk float64
	for _, pos := range p.Positions {
		if !pos.IsOpen() {
			continue
		}
		notional := math.Abs(pos.Notional)
		if notional == 0 {
			notional = pos.Quantity() * pos.EntryPrice
		}
		risk += notional * m.config.StopDistance
	}
	return risk / p.Balance.Total
}

// ProjectedHeat is the heat after adding an open of notional
func (m *Manager) ProjectedHeat(p *portfolio.Snapshot, notional float64) float64 {
	if p == nil || p.Balance.Total <= 0 {
		return 0
	}
	return m.PortfolioHeat(p) + notional*m.config.StopDistance/p.Balance.Total
}

// CheckOpen vetoes an open of notional that would breach a limit
func (m *Manager) CheckOpen(p *portfolio.Snapshot, notional float64) error {
	if p == nil {
		return fmt.Errorf("%w: no portfolio snapshot", ErrLimitExceeded)
	}

	if m.config.MaxOpenPositions > 0 {
		open := 0
		for _, pos := range p.Positions {
			if pos.IsOpen() {
				open++
			}
		}
		if open >= m.config.MaxOpenPositions {
			return fmt.Errorf("%w: max positions reached (%d/%d)", ErrLimitExceeded, open, m.config.MaxOpenPositions)
		}
	}

	if dd := m.DailyDrawdownPercent(p.Balance.Total); m.config.MaxDailyDrawdown > 0 && dd <= -m.config.MaxDailyDrawdown {
		return fmt.Errorf("%w: daily drawdown limit reached (%.2f%%)", ErrLimitExceeded, dd)
	}

	current := m.PortfolioHeat(p)
	projected := m.ProjectedHeat(p, notional)
	if projected > m.config.MaxPortfolioHeat {
		return fmt.Errorf("%w: portfolio heat %.1f%% > %.1f%%", ErrLimitExceeded, projected*100, m.config.MaxPortfolioHeat*100)
	}

	m.logger.Debug("Portfolio heat acceptable",
		"current_pct", current*100, "projected_pct", projected*100, "max_pct", m.config.MaxPortfolioHeat*100)
	return nil
}

// RegisterClose adds realized PnL to today's total
func (m *Manager) RegisterClose(pnl float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkDailyReset()
	m.dailyPnL += pnl
}

// DailyPnL returns today's realized PnL
func (m *Manager) DailyPnL() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkDailyReset()
	return m.dailyPnL
}

// DailyDrawdownPercent is today's PnL as a percent of balance
func (m *Manager) DailyDrawdownPercent(balance float64) float64 {
	if balance <= 0 {
		return 0
	}
	return m.DailyPnL() / balance * 100
}

func (m *Manager) checkDailyReset() {
	today := m.now().Truncate(24 * time.Hour)
	if today.After(m.dailyPnLReset) {
		m.dailyPnL = 0
		m.dailyPnLReset = today
	}
}

// AdaptiveMultiplier scales risk by recent performance, 0.5x to 1.3x
func AdaptiveMultiplier(winRate, recentPnL float64) float64 {
	switch {
	case winRate > 0.60 && recentPnL > 50:
		return 1.3
	case winRate > 0.55 && recentPnL > 0:
		return 1.15
	case winRate < 0.40 || recentPnL < -100:
		return 0.5
	case winRate < 0.45 || recentPnL < -50:
		return 0.7
	}
	return 1
}

// ShouldReduceExposure flags drawdowns, poor win rates and extreme volatility
func ShouldReduceExposure(p *portfolio.Snapshot, volatilityPercentile float64) (bool, string) {
	if p != nil {
		perf := p.Performance
		if perf.RecentPnL < -200 {
			return true, fmt.Sprintf("significant drawdown: $%.2f", perf.RecentPnL)
		}
		if perf.TotalTrades > 10 && perf.WinRate < 0.35 {
			return true, fmt.Sprintf("low win rate: %.1f%%", perf.WinRate*100)
		}
	}
	if volatilityPercentile > 90 {
		return true, fmt.Sprintf("extreme volatility: %.0fth percentile", volatilityPercentile)
	}
	return false, ""
}

// Metrics returns current risk metrics
func (m *Manager) Metrics(p *portfolio.Snapshot) map[string]interface{} {
	balance := 0.0
	if p != nil {
		balance = p.Balance.Total
	}
	return map[string]interface{}{
		"portfolio_heat":         m.PortfolioHeat(p),
		"max_portfolio_heat":     m.config.MaxPortfolioHeat,
		"daily_pnl":              m.DailyPnL(),
		"daily_drawdown_percent": m.DailyDrawdownPercent(balance),
		"max_daily_drawdown":     m.config.MaxDailyDrawdown,
	}
}
