// Package tracker follows each trade from open to close, labels the outcome
// and aggregates the statistics the position sizer adapts to.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrNoOpenTrade is returned when closing a symbol with no open record
var ErrNoOpenTrade = errors.New("no open trade")

// Repository persists trade records. SaveTrade is an upsert keyed by ID.
type Repository interface {
	SaveTrade(ctx context.Context, trade *TradeRecord) error
	LoadTrades(ctx context.Context, bot string) ([]TradeRecord, error)
}

// Tracker owns the append-only trade history of one bot
type Tracker struct {
	mu     sync.RWMutex
	bot    string
	trades []*TradeRecord
	repo   Repository
	logger zerolog.Logger
	now    func() time.Time
}

// Option configures a Tracker
type Option func(*Tracker)

// WithRepository persists every start and close
func WithRepository(repo Repository) Option {
	return func(t *Tracker) {
		t.repo = repo
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// New creates a tracker for one bot
func New(bot string, logger zerolog.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		bot:    bot,
		logger: logger.With().Str("component", "tracker").Str("bot", bot).Logger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Load replaces the in-memory history with the persisted one
func (t *Tracker) Load(ctx context.Context) error {
	if t.repo == nil {
		return nil
	}
	records, err := t.repo.LoadTrades(ctx, t.bot)
	if err != nil {
		return fmt.Errorf("failed to load trades for %s: %w", t.bot, err)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].OpenedAt.Before(records[j].OpenedAt)
	})

	t.mu.Lock()
	t.trades = make([]*TradeRecord, 0, len(records))
	for i := range records {
		t.trades = append(t.trades, &records[i])
	}
	t.mu.Unlock()

	t.logger.Info().Int("trades", len(records)).Msg("Loaded tracked trades")
	return nil
}

// StartTrade records a newly opened position. A record still open for the
// symbol is finalized first as superseded at the new entry price.
func (t *Tracker) StartTrade(ctx context.Context, p StartParams) TradeRecord {
	now := t.now()

	predicted := DirectionDown
	if p.Action == "long" {
		predicted = DirectionUp
	}

	trade := &TradeRecord{
		ID:                 uuid.New().String(),
		Bot:                t.bot,
		Symbol:             p.Symbol,
		OpenedAt:           now,
		Action:             p.Action,
		Reasoning:          p.Reasoning,
		Confidence:         p.Confidence,
		PredictedDirection: predicted,
		StopLoss:           p.StopLoss,
		TakeProfit:         p.TakeProfit,
		EntryPrice:         p.EntryPrice,
		Size:               p.Size,
		Leverage:           p.Leverage,
		PriceChange24h:     p.PriceChange24h,
	}

	t.mu.Lock()
	var superseded *TradeRecord
	if open := t.openLocked(p.Symbol); open != nil {
		finalize(open, p.EntryPrice, ExitSuperseded, now)
		superseded = open
	}
	t.trades = append(t.trades, trade)
	saved := *trade
	t.mu.Unlock()

	if superseded != nil {
		t.logger.Warn().Str("trade_id", superseded.ID).Str("symbol", p.Symbol).
			Msg("Open trade superseded by a new entry")
		t.persist(ctx, superseded)
	}
	t.persist(ctx, &saved)

	t.logger.Info().
		Str("trade_id", trade.ID).
		Str("symbol", p.Symbol).
		Str("action", p.Action).
		Float64("entry_price", p.EntryPrice).
		Float64("size", p.Size).
		Msg("Started tracking trade")

	return saved
}

// CloseTrade finalizes the most recent open record for symbol
func (t *Tracker) CloseTrade(ctx context.Context, symbol string, exitPrice float64, reason string) (TradeRecord, error) {
	t.mu.Lock()
	trade := t.openLocked(symbol)
	if trade == nil {
		t.mu.Unlock()
		return TradeRecord{}, fmt.Errorf("%w for %s", ErrNoOpenTrade, symbol)
	}
	finalize(trade, exitPrice, reason, t.now())
	closed := *trade
	t.mu.Unlock()

	t.persist(ctx, &closed)

	t.logger.Info().
		Str("trade_id", closed.ID).
		Str("symbol", symbol).
		Bool("was_correct", closed.WasCorrect).
		Float64("pnl_usd", closed.PnLUSD).
		Float64("pnl_percent", closed.PnLPercent).
		Str("quality", string(closed.Quality)).
		Str("exit_reason", reason).
		Msg("Closed trade")

	return closed, nil
}

// OpenTrade returns the open record for symbol, if any
func (t *Tracker) OpenTrade(symbol string) (TradeRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if trade := t.openLocked(symbol); trade != nil {
		return *trade, true
	}
	return TradeRecord{}, false
}

// Stats aggregates every closed trade
func (t *Tracker) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := Stats{QualityDistribution: make(map[Quality]int)}
	var winSum, lossSum float64
	var wins, losses int

	for _, trade := range t.trades {
		if trade.IsOpen() {
			stats.OpenTrades++
			continue
		}
		stats.TotalTrades++
		stats.TotalPnLUSD += trade.PnLUSD
		if trade.WasCorrect {
			stats.CorrectPredictions++
		}
		stats.QualityDistribution[trade.Quality]++

		switch {
		case trade.PnLPercent > 0:
			winSum += trade.PnLPercent
			wins++
		case trade.PnLPercent < 0:
			lossSum += -trade.PnLPercent
			losses++
		}
	}

	if stats.TotalTrades > 0 {
		stats.WinRate = float64(stats.CorrectPredictions) / float64(stats.TotalTrades)
		stats.AvgPnLPerTrade = stats.TotalPnLUSD / float64(stats.TotalTrades)
	}
	if wins > 0 {
		stats.AvgWinPercent = winSum / float64(wins)
	}
	if losses > 0 {
		stats.AvgLossPercent = lossSum / float64(losses)
	}
	return stats
}

// RecentPerformance summarizes trades closed within the last hours
func (t *Tracker) RecentPerformance(hours int) Performance {
	t.mu.RLock()
	defer t.mu.RUnlock()

	perf := Performance{Hours: hours}
	cutoff := t.now().Add(-time.Duration(hours) * time.Hour)

	for _, trade := range t.trades {
		if trade.IsOpen() || trade.ClosedAt.Before(cutoff) {
			continue
		}
		perf.Trades++
		perf.PnLUSD += trade.PnLUSD
		if trade.WasCorrect {
			perf.Wins++
		}
	}
	if perf.Trades > 0 {
		perf.WinRate = float64(perf.Wins) / float64(perf.Trades)
	}
	return perf
}

// Trades returns up to limit records, newest first. limit <= 0 returns all.
func (t *Tracker) Trades(limit int) []TradeRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]TradeRecord, 0, len(t.trades))
	for i := len(t.trades) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, *t.trades[i])
	}
	return out
}

// TrainingData returns closed trades, optionally filtered by quality label
func (t *Tracker) TrainingData(qualities ...Quality) []TradeRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()

	want := make(map[Quality]bool, len(qualities))
	for _, q := range qualities {
		want[q] = true
	}

	var out []TradeRecord
	for _, trade := range t.trades {
		if trade.IsOpen() {
			continue
		}
		if len(want) > 0 && !want[trade.Quality] {
			continue
		}
		out = append(out, *trade)
	}
	return out
}

// Bot returns the owning bot name
func (t *Tracker) Bot() string {
	return t.bot
}

func (t *Tracker) openLocked(symbol string) *TradeRecord {
	for i := len(t.trades) - 1; i >= 0; i-- {
		if t.trades[i].Symbol == symbol && t.trades[i].IsOpen() {
			return t.trades[i]
		}
	}
	return nil
}

func (t *Tracker) persist(ctx context.Context, trade *TradeRecord) {
	if t.repo == nil {
		return
	}
	if err := t.repo.SaveTrade(ctx, trade); err != nil {
		t.logger.Error().Err(err).Str("trade_id", trade.ID).Msg("Failed to persist trade")
	}
}
