// Package execution performs the exchange-facing sequence for an approved
// decision: sizing, the market order, protective orders and trade tracking.
package execution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"perp-trading-agent/internal/decision"
	"perp-trading-agent/internal/exchange"
	"perp-trading-agent/internal/gate"
	"perp-trading-agent/internal/logging"
	"perp-trading-agent/internal/market"
	"perp-trading-agent/internal/portfolio"
	"perp-trading-agent/internal/sizing"
	"perp-trading-agent/internal/tracker"
)

// Skip reasons reported when nothing was sent to the exchange
const (
	SkipNotActionable = "not_actionable"
	SkipNoPosition    = "no_position"
	SkipNoPrice       = "no_price"
	SkipRisk          = "risk_limit"
	SkipZeroSize      = "zero_size"
)

const (
	StopATRMultiple           = 2.0
	TargetATRMultiple         = 4.0
	FallbackATRPercentOfPrice = 0.02
)

// Client is the exchange surface the orchestrator drives
type Client interface {
	PlaceOrder(ctx context.Context, params exchange.OrderParams) (*exchange.OrderResponse, error)
	SetStopLoss(ctx context.Context, symbol string, stopPrice, quantity float64, side exchange.OrderSide) (*exchange.OrderResponse, error)
	SetTakeProfit(ctx context.Context, symbol string, targetPrice, quantity float64, side exchange.OrderSide) (*exchange.OrderResponse, error)
	CancelAllOrders(ctx context.Context, symbol string) error
	ClosePosition(ctx context.Context, symbol string) (*exchange.OrderResponse, error)
	GetTicker(ctx context.Context, symbol string) (*exchange.Ticker, error)
}

// PortfolioSource re-reads the account right before acting
type PortfolioSource interface {
	Fresh(ctx context.Context, symbol string) (*portfolio.Snapshot, error)
}

// TradeLog records round trips
type TradeLog interface {
	StartTrade(ctx context.Context, p tracker.StartParams) tracker.TradeRecord
	CloseTrade(ctx context.Context, symbol string, exitPrice float64, reason string) (tracker.TradeRecord, error)
}

// RiskGuard vetoes an open that would breach a portfolio limit
type RiskGuard interface {
	CheckOpen(p *portfolio.Snapshot, notional float64) error
}

// Config holds execution settings
type Config struct {
	Bot      string
	Leverage int
}

// Input is one approved decision with the market view it was made on
type Input struct {
	Decision decision.Decision
	Market   *market.Snapshot
}

// Levels are the protective prices chosen for an open
type Levels struct {
	StopLoss     float64 `json:"stop_loss"`
	TakeProfit   float64 `json:"take_profit"`
	StopFromAI   bool    `json:"stop_from_ai"`
	TargetFromAI bool    `json:"target_from_ai"`
}

// Outcome describes what Execute did. Exchange failures land in Err rather
// than the returned error.
type Outcome struct {
	Symbol       string               `json:"symbol"`
	Action       decision.Action      `json:"action"`
	Executed     bool                 `json:"executed"`
	Skipped      string               `json:"skipped,omitempty"`
	Sizing       *sizing.Result       `json:"sizing,omitempty"`
	Quantity     float64              `json:"quantity,omitempty"`
	Price        float64              `json:"price,omitempty"`
	Levels       Levels               `json:"levels"`
	OrderID      int64                `json:"order_id,omitempty"`
	StopPlaced   bool                 `json:"stop_placed"`
	TargetPlaced bool                 `json:"target_placed"`
	Trade        *tracker.TradeRecord `json:"trade,omitempty"`
	Err          error                `json:"-"`
	Warnings     []string             `json:"warnings,omitempty"`
}

func (o *Outcome) warn(format string, args ...interface{}) {
	o.Warnings = append(o.Warnings, fmt.Sprintf(format, args...))
}

// Orchestrator executes approved decisions for one bot
type Orchestrator struct {
	cfg       Config
	client    Client
	portfolio PortfolioSource
	sizer     *sizing.Sizer
	trades    TradeLog
	positions *gate.PositionState
	gate      *gate.Gate
	risk      RiskGuard
	logger    *logging.Logger
	now       func() time.Time
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithGate re-evaluates the decision against the fresh portfolio read
func WithGate(g *gate.Gate) Option {
	return func(o *Orchestrator) { o.gate = g }
}

// WithRiskGuard installs a pre-open portfolio check
func WithRiskGuard(r RiskGuard) Option {
	return func(o *Orchestrator) { o.risk = r }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an orchestrator
func New(cfg Config, client Client, pf PortfolioSource, sizer *sizing.Sizer, trades TradeLog, positions *gate.PositionState, logger *logging.Logger, opts ...Option) *Orchestrator {
	if cfg.Leverage < 1 {
		cfg.Leverage = 1
	}
	if logger == nil {
		logger = logging.Nop()
	}
	if positions == nil {
		positions = gate.NewPositionState()
	}
	o := &Orchestrator{
		cfg:       cfg,
		client:    client,
		portfolio: pf,
		sizer:     sizer,
		trades:    trades,
		positions: positions,
		logger:    logger.WithComponent("execution"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Execute runs the decision. The only returned error is a wrapped
// portfolio.ErrBalanceUnavailable; everything else is reported in the Outcome.
func (o *Orchestrator) Execute(ctx context.Context, in Input) (Outcome, error) {
	d := in.Decision
	out := Outcome{Symbol: d.Symbol, Action: d.Action}

	if d.Action != decision.ActionClose && !d.Action.IsDirectional() {
		out.Skipped = SkipNotActionable
		return out, nil
	}

	snap, err := o.portfolio.Fresh(ctx, d.Symbol)
	if err != nil {
		if errors.Is(err, portfolio.ErrBalanceUnavailable) {
			return out, err
		}
		return out, fmt.Errorf("%w: %v", portfolio.ErrBalanceUnavailable, err)
	}

	pos, hasPosition := snap.Position(d.Symbol)

	if o.gate != nil {
		entryTime, _ := o.positions.EntryTime(d.Symbol)
		gateIn := gate.Input{Decision: d, Balance: snap.Balance.Total, EntryTime: entryTime, Now: o.now()}
		if hasPosition {
			gateIn.Position = &pos
		}
		verdict := o.gate.Evaluate(gateIn)
		if !verdict.Execute {
			o.logger.Info("Decision no longer approved on fresh portfolio",
				"symbol", d.Symbol, "action", d.Action, "reason", verdict.Reason, "detail", verdict.Detail)
			out.Skipped = verdict.Reason
			return out, nil
		}
		d = verdict.Decision
		out.Action = d.Action
	}

	if d.Action == decision.ActionClose {
		if !hasPosition {
			out.Skipped = SkipNoPosition
			return out, nil
		}
		o.close(ctx, d, pos, in.Market, &out)
		return out, nil
	}

	if hasPosition {
		// one position per symbol
		out.Skipped = SkipNotActionable
		return out, nil
	}
	o.open(ctx, d, snap, in.Market, &out)
	return out, nil
}

func (o *Orchestrator) open(ctx context.Context, d decision.Decision, snap *portfolio.Snapshot, m *market.Snapshot, out *Outcome) {
	price := o.currentPrice(ctx, d.Symbol, m)
	if price <= 0 {
		out.Skipped = SkipNoPrice
		out.Err = fmt.Errorf("no price for %s", d.Symbol)
		return
	}
	out.Price = price

	sizeIn := sizing.Input{
		Confidence:      d.Confidence,
		Balance:         snap.Balance.Total,
		AvailableMargin: snap.AvailableMargin,
		WinRate:         snap.Performance.WinRate,
		RecentPnL:       snap.Performance.RecentPnL,
		AvgWin:          snap.Performance.AvgWin,
		AvgLoss:         snap.Performance.AvgLoss,
		TotalTrades:     snap.Performance.TotalTrades,
	}
	if m != nil && m.Analysis != nil {
		sizeIn.ATRPercent = m.Analysis.ATRPercent
		sizeIn.QualityScore = m.Analysis.TradeQualityScore
	}
	sized := o.sizer.Size(sizeIn)
	out.Sizing = &sized

	o.logger.Info("Position sized", "symbol", d.Symbol, "breakdown", sized.String())

	if sized.Size <= 0 {
		out.Skipped = SkipZeroSize
		return
	}

	if o.risk != nil {
		if err := o.risk.CheckOpen(snap, sized.Size); err != nil {
			o.logger.Warn("Open rejected by risk check", "symbol", d.Symbol, "error", err)
			out.Skipped = SkipRisk
			out.Err = err
			return
		}
	}

	qty := Quantity(d.Symbol, sized.Size, price)
	out.Quantity = qty

	atr := m.ATR()
	if atr <= 0 || math.IsNaN(atr) {
		atr = price * FallbackATRPercentOfPrice
	}
	levels := ChooseLevels(d, price, atr)
	out.Levels = levels
	if d.StopLoss != nil && d.TakeProfit != nil && (!levels.StopFromAI || !levels.TargetFromAI) {
		o.logger.Info("Replaced proposed protective levels with ATR fallback",
			"symbol", d.Symbol, "action", d.Action, "price", price,
			"proposed_stop", *d.StopLoss, "proposed_target", *d.TakeProfit,
			"stop", levels.StopLoss, "target", levels.TakeProfit)
	}

	side := exchange.SideBuy
	if d.Action == decision.ActionShort {
		side = exchange.SideSell
	}

	resp, err := o.client.PlaceOrder(ctx, exchange.OrderParams{
		Symbol:           d.Symbol,
		Side:             side,
		PositionSide:     exchange.PositionSideBoth,
		Type:             exchange.OrderTypeMarket,
		Quantity:         qty,
		NewClientOrderId: ClientOrderID(o.cfg.Bot),
	})
	if err != nil {
		o.logger.Error("Market order failed", "symbol", d.Symbol, "side", side, "quantity", qty, "error", err)
		out.Err = fmt.Errorf("place %s market order: %w", side, err)
		return
	}

	out.Executed = true
	out.OrderID = resp.OrderId
	entry := price
	if resp.AvgPrice > 0 {
		entry = resp.AvgPrice
	}
	o.positions.RecordOpen(d.Symbol, o.now())

	var change24h float64
	if m != nil {
		change24h = m.PriceChange24h
	}
	trade := o.trades.StartTrade(ctx, tracker.StartParams{
		Bot:            o.cfg.Bot,
		Symbol:         d.Symbol,
		Action:         string(d.Action),
		Reasoning:      d.Reasoning,
		Confidence:     d.Confidence,
		StopLoss:       levels.StopLoss,
		TakeProfit:     levels.TakeProfit,
		EntryPrice:     entry,
		Size:           sized.Size,
		Leverage:       o.cfg.Leverage,
		PriceChange24h: change24h,
	})
	out.Trade = &trade

	o.logger.Info("Position opened",
		"symbol", d.Symbol, "side", side, "quantity", qty, "entry", entry,
		"notional", sized.Size, "stop", levels.StopLoss, "target", levels.TakeProfit)

	closing := side.Opposite()
	if _, err := o.client.SetStopLoss(ctx, d.Symbol, levels.StopLoss, qty, closing); err != nil {
		o.logger.Error("Stop loss placement failed, reconciler will retry", "symbol", d.Symbol, "error", err)
		out.warn("stop loss: %v", err)
	} else {
		out.StopPlaced = true
	}
	if _, err := o.client.SetTakeProfit(ctx, d.Symbol, levels.TakeProfit, qty, closing); err != nil {
		o.logger.Error("Take profit placement failed, reconciler will retry", "symbol", d.Symbol, "error", err)
		out.warn("take profit: %v", err)
	} else {
		out.TargetPlaced = true
	}
}

func (o *Orchestrator) close(ctx context.Context, d decision.Decision, pos exchange.Position, m *market.Snapshot, out *Outcome) {
	out.Quantity = pos.Quantity()

	resp, err := o.client.ClosePosition(ctx, d.Symbol)
	if err != nil {
		o.logger.Error("Close order failed", "symbol", d.Symbol, "quantity", pos.Quantity(), "error", err)
		out.Err = fmt.Errorf("close position: %w", err)
		return
	}
	out.Executed = true
	out.OrderID = resp.OrderId

	exit := 0.0
	if ticker, err := o.client.GetTicker(ctx, d.Symbol); err == nil {
		exit = ticker.LastPrice
	} else {
		out.warn("ticker: %v", err)
	}
	if exit <= 0 {
		exit = resp.AvgPrice
	}
	if exit <= 0 && m != nil {
		exit = m.Price
	}
	out.Price = exit

	trade, err := o.trades.CloseTrade(ctx, d.Symbol, exit, tracker.ExitAIClose)
	if err != nil {
		o.logger.Warn("No tracked trade to finalize", "symbol", d.Symbol, "error", err)
		out.warn("tracker: %v", err)
	} else {
		out.Trade = &trade
	}

	if err := o.client.CancelAllOrders(ctx, d.Symbol); err != nil {
		o.logger.Error("Could not cancel remaining orders, reconciler will retry", "symbol", d.Symbol, "error", err)
		out.warn("cancel orders: %v", err)
	}
	o.positions.Clear(d.Symbol)

	o.logger.Info("Position closed",
		"symbol", d.Symbol, "quantity", pos.Quantity(), "entry", pos.EntryPrice, "exit", exit,
		"confidence", d.Confidence)
}

func (o *Orchestrator) currentPrice(ctx context.Context, symbol string, m *market.Snapshot) float64 {
	if m != nil && m.Price > 0 {
		return m.Price
	}
	ticker, err := o.client.GetTicker(ctx, symbol)
	if err != nil {
		o.logger.Warn("Ticker unavailable", "symbol", symbol, "error", err)
		return 0
	}
	return ticker.LastPrice
}

// Quantity converts a USD notional to a lot-rounded quantity, never below the
// symbol's minimum
func Quantity(symbol string, notional, price float64) float64 {
	if price <= 0 {
		return 0
	}
	qty := exchange.RoundQuantity(symbol, notional/price)
	if minQty := exchange.MinQuantity(symbol); qty < minQty {
		qty = minQty
	}
	return qty
}

// FallbackLevels is 2 ATR stop and 4 ATR target around price
func FallbackLevels(action decision.Action, price, atr float64) (stop, target float64) {
	if action == decision.ActionShort {
		return price + atr*StopATRMultiple, price - atr*TargetATRMultiple
	}
	return price - atr*StopATRMultiple, price + atr*TargetATRMultiple
}

// ChooseLevels uses the decision's stop and target only when both are set.
// Each is then checked against price on its own and replaced by the ATR
// fallback when it sits on the wrong side.
func ChooseLevels(d decision.Decision, price, atr float64) Levels {
	stop, target := FallbackLevels(d.Action, price, atr)
	lv := Levels{StopLoss: stop, TakeProfit: target}
	if d.StopLoss == nil || d.TakeProfit == nil {
		return lv
	}

	long := d.Action != decision.ActionShort
	if s := *d.StopLoss; valid(s) && ((long && s < price) || (!long && s > price)) {
		lv.StopLoss = s
		lv.StopFromAI = true
	}
	if t := *d.TakeProfit; valid(t) && ((long && t > price) || (!long && t < price)) {
		lv.TakeProfit = t
		lv.TargetFromAI = true
	}
	return lv
}

func valid(p float64) bool {
	return p > 0 && !math.IsNaN(p) && !math.IsInf(p, 0)
}

// ClientOrderID builds a 32 character client order id tagged with the bot name.
func ClientOrderID(bot string) string {
	prefix := strings.ToLower(strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return -1
	}, bot))
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	if prefix == "" {
		return id
	}
	return prefix + "-" + id[:31-len(prefix)]
}
