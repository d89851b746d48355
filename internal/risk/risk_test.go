package risk

import (
	"errors"
	"math"
	"testing"
	"time"

	"perp-trading-agent/internal/exchange"
	"perp-trading-agent/internal/portfolio"
)

func snapshot(balance float64, notionals ...float64) *portfolio.Snapshot {
	p := &portfolio.Snapshot{Balance: portfolio.Balance{Total: balance, Available: balance}}
	for _, n := range notionals {
		p.Positions = append(p.Positions, exchange.Position{Symbol: "BTCUSDT", PositionAmt: 1, EntryPrice: n, Notional: n})
	}
	return p
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

// ===== TEST CASES: PORTFOLIO HEAT =====

func TestPortfolioHeat(t *testing.T) {
	m := NewManager(Config{}, nil)

	if got := m.PortfolioHeat(snapshot(1000, 2500)); !approx(got, 0.05) {
		t.Errorf("Expected heat 0.05, got %v", got)
	}
	if got := m.PortfolioHeat(snapshot(0, 2500)); got != 0 {
		t.Errorf("Expected 0 heat without balance, got %v", got)
	}

	p := snapshot(1000)
	p.Positions = []exchange.Position{{Symbol: "ETHUSDT", PositionAmt: -2, EntryPrice: 500}}
	if got := m.PortfolioHeat(p); !approx(got, 0.02) {
		t.Errorf("Expected heat from qty x entry 0.02, got %v", got)
	}
}

func TestCheckOpen(t *testing.T) {
	tests := []struct {
		name     string
		p        *portfolio.Snapshot
		notional float64
		ok       bool
	}{
		{"flat small open", snapshot(1000), 1200, true},
		{"just under limit", snapshot(1000, 5000), 2400, true},
		{"projected above limit", snapshot(1000, 5000), 2600, false},
		{"nil snapshot", nil, 100, false},
	}
	m := NewManager(Config{}, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.CheckOpen(tt.p, tt.notional)
			if tt.ok && err != nil {
				t.Errorf("Expected open allowed, got %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrLimitExceeded) {
				t.Errorf("Expected ErrLimitExceeded, got %v", err)
			}
		})
	}
}

func TestCheckOpenMaxPositions(t *testing.T) {
	m := NewManager(Config{MaxOpenPositions: 1}, nil)
	if err := m.CheckOpen(snapshot(100000, 100), 100); !errors.Is(err, ErrLimitExceeded) {
		t.Errorf("Expected position cap, got %v", err)
	}
}

func TestDailyDrawdown(t *testing.T) {
	day := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	m := NewManager(Config{MaxDailyDrawdown: 5}, nil)
	m.now = func() time.Time { return day }
	m.dailyPnLReset = day.Truncate(24 * time.Hour)

	m.RegisterClose(-30)
	if err := m.CheckOpen(snapshot(1000), 100); err != nil {
		t.Errorf("Expected open allowed at -3%%, got %v", err)
	}
	m.RegisterClose(-25)
	if err := m.CheckOpen(snapshot(1000), 100); !errors.Is(err, ErrLimitExceeded) {
		t.Errorf("Expected drawdown veto at -5.5%%, got %v", err)
	}

	day = day.Add(24 * time.Hour)
	if got := m.DailyPnL(); got != 0 {
		t.Errorf("Expected reset on a new day, got %v", got)
	}
}

// ===== TEST CASES: ADVISORIES =====

func TestAdaptiveMultiplier(t *testing.T) {
	tests := []struct {
		winRate, pnl, want float64
	}{
		{0.65, 60, 1.3},
		{0.58, 10, 1.15},
		{0.50, 0, 1},
		{0.38, 20, 0.5},
		{0.50, -150, 0.5},
		{0.44, 0, 0.7},
		{0.50, -60, 0.7},
	}
	for _, tt := range tests {
		if got := AdaptiveMultiplier(tt.winRate, tt.pnl); got != tt.want {
			t.Errorf("AdaptiveMultiplier(%v, %v): expected %v, got %v", tt.winRate, tt.pnl, tt.want, got)
		}
	}
}

func TestShouldReduceExposure(t *testing.T) {
	p := snapshot(1000)
	if reduce, _ := ShouldReduceExposure(p, 50); reduce {
		t.Error("Expected no reduction for a healthy portfolio")
	}

	p.Performance.RecentPnL = -250
	if reduce, reason := ShouldReduceExposure(p, 50); !reduce || reason == "" {
		t.Error("Expected drawdown flagged")
	}

	p.Performance = portfolio.Performance{TotalTrades: 11, WinRate: 0.3}
	if reduce, _ := ShouldReduceExposure(p, 50); !reduce {
		t.Error("Expected low win rate flagged")
	}

	p.Performance = portfolio.Performance{TotalTrades: 5, WinRate: 0.3}
	if reduce, _ := ShouldReduceExposure(p, 50); reduce {
		t.Error("Expected small samples ignored")
	}
	if reduce, _ := ShouldReduceExposure(p, 95); !reduce {
		t.Error("Expected extreme volatility flagged")
	}
}

// ===== TEST CASES: TRAILING STOP =====

func TestTrailingStop(t *testing.T) {
	cfg := DefaultTrailingConfig()

	if _, ok := TrailingStop(cfg, 100, 100.5, 2, true); ok {
		t.Error("Expected inactive below activation")
	}
	if stop, ok := TrailingStop(cfg, 100, 105, 2, true); !ok || stop != 102 {
		t.Errorf("Expected long stop 102, got %v %v", stop, ok)
	}
	if stop, ok := TrailingStop(cfg, 100, 95, 2, false); !ok || stop != 98 {
		t.Errorf("Expected short stop 98, got %v %v", stop, ok)
	}
	if _, ok := TrailingStop(cfg, 100, 105, 0, true); ok {
		t.Error("Expected inactive without ATR")
	}
}

func TestTrailingStopManagerOnlyTightens(t *testing.T) {
	tsm := NewTrailingStopManager(TrailingConfig{}, nil)

	if u := tsm.Update("BTCUSDT", true, 100, 100.5, 2); u != nil {
		t.Errorf("Expected no update before activation, got %+v", u)
	}
	u := tsm.Update("BTCUSDT", true, 100, 105, 2)
	if u == nil || u.NewStopLoss != 102 {
		t.Fatalf("Expected stop 102, got %+v", u)
	}
	if u := tsm.Update("BTCUSDT", true, 100, 104, 2); u != nil {
		t.Errorf("Expected stop never loosened, got %+v", u)
	}
	u = tsm.Update("BTCUSDT", true, 100, 108, 2)
	if u == nil || u.OldStopLoss != 102 || u.NewStopLoss != 105 {
		t.Errorf("Expected 102 -> 105, got %+v", u)
	}

	pos, ok := tsm.Position("BTCUSDT")
	if !ok || !pos.IsActivated || pos.HighWaterMark != 108 {
		t.Errorf("Unexpected tracked state %+v", pos)
	}

	// a new entry resets tracking
	if u := tsm.Update("BTCUSDT", false, 110, 109.5, 2); u != nil {
		t.Errorf("Expected fresh short inactive, got %+v", u)
	}
	tsm.Remove("BTCUSDT")
	if _, ok := tsm.Position("BTCUSDT"); ok {
		t.Error("Expected position removed")
	}
}
