// Package portfolio assembles the per-cycle portfolio snapshot: balance,
// positions, open orders and the trade-history performance the sizer adapts to.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"perp-trading-agent/internal/account"
	"perp-trading-agent/internal/exchange"
	"perp-trading-agent/internal/logging"
	"perp-trading-agent/internal/tracker"
)

// ErrBalanceUnavailable means account equity could not be determined; the cycle must not trade
var ErrBalanceUnavailable = errors.New("balance unavailable")

// Balance is the USDT equity view
type Balance struct {
	Total     float64 `json:"total"`
	Available float64 `json:"available"`
}

// Performance is the trade-history feedback consumed by the sizer
type Performance struct {
	WinRate     float64             `json:"win_rate"` // fraction 0-1
	AvgWin      float64             `json:"avg_win"`  // percent
	AvgLoss     float64             `json:"avg_loss"` // percent magnitude
	RecentPnL   float64             `json:"recent_pnl"`
	TotalTrades int                 `json:"total_trades"`
	Daily       tracker.Performance `json:"daily"`
}

// Snapshot is the portfolio view for one bot's cycle
type Snapshot struct {
	Balance         Balance             `json:"balance"`
	Positions       []exchange.Position `json:"positions"`
	OpenOrders      []exchange.Order    `json:"open_orders"`
	OrdersErr       error               `json:"-"` // open-order read failed, OpenOrders unknown
	TotalExposure   float64             `json:"total_exposure"`
	AvailableMargin float64             `json:"available_margin"`
	UnrealizedPnL   float64             `json:"unrealized_pnl"`
	Performance     Performance         `json:"performance"`
	FetchedAt       time.Time           `json:"fetched_at"`
}

// Position returns the open position for symbol
func (s *Snapshot) Position(symbol string) (exchange.Position, bool) {
	return exchange.FindOpenPosition(s.Positions, symbol)
}

// AccountSource is the shared account cache
type AccountSource interface {
	Get(ctx context.Context) (*account.Snapshot, error)
	Refresh(ctx context.Context) (*account.Snapshot, error)
}

// OrderSource lists open orders
type OrderSource interface {
	GetOpenOrders(ctx context.Context, symbol string) ([]exchange.Order, error)
}

// StatsSource is the trade log read contract
type StatsSource interface {
	Stats() tracker.Stats
	RecentPerformance(hours int) tracker.Performance
}

// Provider builds portfolio snapshots for one bot
type Provider struct {
	accounts AccountSource
	orders   OrderSource
	stats    StatsSource
	logger   *logging.Logger
}

// NewProvider creates a portfolio provider
func NewProvider(accounts AccountSource, orders OrderSource, stats StatsSource, logger *logging.Logger) *Provider {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Provider{
		accounts: accounts,
		orders:   orders,
		stats:    stats,
		logger:   logger.WithComponent("portfolio"),
	}
}

// Snapshot reads through the shared account cache
func (p *Provider) Snapshot(ctx context.Context, symbol string) (*Snapshot, error) {
	acct, err := p.accounts.Get(ctx)
	return p.build(ctx, symbol, acct, err)
}

// Fresh bypasses the cache TTL; used immediately before placing orders
func (p *Provider) Fresh(ctx context.Context, symbol string) (*Snapshot, error) {
	acct, err := p.accounts.Refresh(ctx)
	return p.build(ctx, symbol, acct, err)
}

func (p *Provider) build(ctx context.Context, symbol string, acct *account.Snapshot, err error) (*Snapshot, error) {
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBalanceUnavailable, err)
	}
	if acct == nil || acct.Account == nil {
		return nil, fmt.Errorf("%w: empty account data", ErrBalanceUnavailable)
	}

	balance := acct.Account.USDTBalance()
	if balance <= 0 || math.IsNaN(balance) {
		return nil, fmt.Errorf("%w: no USDT balance (got %.2f)", ErrBalanceUnavailable, balance)
	}

	snap := &Snapshot{
		Balance:   Balance{Total: balance, Available: balance},
		Positions: acct.Positions,
		FetchedAt: acct.FetchedAt,
	}

	for _, pos := range acct.Positions {
		if !pos.IsOpen() {
			continue
		}
		snap.TotalExposure += math.Abs(pos.Notional)
		snap.UnrealizedPnL += pos.UnrealizedProfit
	}
	snap.AvailableMargin = math.Max(0, balance-snap.TotalExposure)

	orders, err := p.orders.GetOpenOrders(ctx, symbol)
	if err != nil {
		p.logger.Warn("Could not fetch open orders", "symbol", symbol, "error", err)
		snap.OrdersErr = err
	} else {
		snap.OpenOrders = orders
	}

	if p.stats != nil {
		stats := p.stats.Stats()
		snap.Performance = Performance{
			WinRate:     stats.WinRate,
			AvgWin:      stats.AvgWinPercent,
			AvgLoss:     stats.AvgLossPercent,
			RecentPnL:   stats.TotalPnLUSD,
			TotalTrades: stats.TotalTrades,
			Daily:       p.stats.RecentPerformance(24),
		}
	}

	return snap, nil
}
