// Package bot runs the trading loop. A Trader owns one symbol and cycles
// through protective-order reconciliation, decision, gating and execution;
// the Manager launches traders with a staggered start.
package bot

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"perp-trading-agent/internal/circuit"
	"perp-trading-agent/internal/decision"
	"perp-trading-agent/internal/events"
	"perp-trading-agent/internal/exchange"
	"perp-trading-agent/internal/execution"
	"perp-trading-agent/internal/gate"
	"perp-trading-agent/internal/logging"
	"perp-trading-agent/internal/market"
	"perp-trading-agent/internal/metrics"
	"perp-trading-agent/internal/portfolio"
	"perp-trading-agent/internal/protection"
	"perp-trading-agent/internal/risk"
	"perp-trading-agent/internal/sizing"
	"perp-trading-agent/internal/tracker"
)

var errNotPlaced = errors.New("order not placed")

// MarketSource builds the per-cycle market view
type MarketSource interface {
	Snapshot(ctx context.Context, symbol string) (*market.Snapshot, error)
}

// PortfolioSource reads the account, cached or fresh
type PortfolioSource interface {
	Snapshot(ctx context.Context, symbol string) (*portfolio.Snapshot, error)
	Fresh(ctx context.Context, symbol string) (*portfolio.Snapshot, error)
}

// EntryStore persists position entry times across restarts
type EntryStore interface {
	SaveEntry(ctx context.Context, bot, symbol string, openedAt time.Time) error
	LoadEntry(ctx context.Context, bot, symbol string) (time.Time, bool, error)
	DeleteEntry(ctx context.Context, bot, symbol string) error
}

// TraderConfig identifies the bot and its loop settings
type TraderConfig struct {
	Name     string
	Symbol   string
	Leverage int
	Interval time.Duration
	Trailing risk.TrailingConfig
}

// Deps are the collaborators a Trader drives. Risk, Breaker, Entries,
// Decisions and Events are optional.
type Deps struct {
	Client    exchange.FuturesClient
	Market    MarketSource
	Portfolio PortfolioSource
	Source    decision.Source
	Tracker   *tracker.Tracker
	Sizer     *sizing.Sizer
	Gate      *gate.Gate
	Risk      *risk.Manager
	Breaker   *circuit.Breaker
	Entries   EntryStore
	Decisions decision.Store
	Events    *events.EventBus
	Logger    *logging.Logger
	Now       func() time.Time
}

// CycleResult summarizes one pass of the loop
type CycleResult struct {
	Result        string               `json:"result"`
	StartedAt     time.Time            `json:"started_at"`
	Duration      time.Duration        `json:"duration"`
	Repair        protection.Report    `json:"repair"`
	Decision      *decision.Decision   `json:"decision,omitempty"`
	Verdict       *gate.Verdict        `json:"verdict,omitempty"`
	Outcome       *execution.Outcome   `json:"outcome,omitempty"`
	ExternalClose *tracker.TradeRecord `json:"external_close,omitempty"`
	Err           error                `json:"-"`
	Error         string               `json:"error,omitempty"`
}

// Status is the externally visible state of a trader
type Status struct {
	Name       string             `json:"name"`
	Symbol     string             `json:"symbol"`
	Source     string             `json:"source"`
	Running    bool               `json:"running"`
	Cycles     int                `json:"cycles"`
	Errors     int                `json:"errors"`
	Position   *exchange.Position `json:"position,omitempty"`
	EntryTime  *time.Time         `json:"entry_time,omitempty"`
	ProfitLock bool               `json:"profit_lock"`
	LastCycle  *CycleResult       `json:"last_cycle,omitempty"`
	Stats      tracker.Stats      `json:"stats"`
	Breaker    *circuit.Stats     `json:"circuit_breaker,omitempty"`
}

// guards runs every pre-open check in order, the first veto wins
type guards []execution.RiskGuard

func (g guards) CheckOpen(p *portfolio.Snapshot, notional float64) error {
	for _, guard := range g {
		if err := guard.CheckOpen(p, notional); err != nil {
			return err
		}
	}
	return nil
}

// Trader runs the trading loop for one symbol
type Trader struct {
	cfg          TraderConfig
	deps         Deps
	positions    *gate.PositionState
	reconciler   *protection.Reconciler
	orchestrator *execution.Orchestrator
	trailing     *risk.TrailingStopManager
	logger       *logging.Logger
	now          func() time.Time

	mu           sync.RWMutex
	running      bool
	stopChan     chan struct{}
	wg           sync.WaitGroup
	cycles       int
	errors       int
	lastCycle    *CycleResult
	lastPosition *exchange.Position
}

// NewTrader wires a trader from its collaborators
func NewTrader(cfg TraderConfig, deps Deps) (*Trader, error) {
	switch {
	case cfg.Name == "" || cfg.Symbol == "":
		return nil, fmt.Errorf("trader needs a name and a symbol")
	case deps.Client == nil || deps.Market == nil || deps.Portfolio == nil:
		return nil, fmt.Errorf("trader %s: exchange, market and portfolio sources are required", cfg.Name)
	case deps.Source == nil || deps.Tracker == nil || deps.Sizer == nil || deps.Gate == nil:
		return nil, fmt.Errorf("trader %s: decision source, tracker, sizer and gate are required", cfg.Name)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Leverage < 1 {
		cfg.Leverage = 1
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	if deps.Decisions == nil {
		deps.Decisions = decision.NewMemoryStore(decision.DefaultLogCapacity)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	logger := logging.BotLogger(deps.Logger.WithComponent("trader"), cfg.Name, cfg.Symbol)
	positions := gate.NewPositionState()

	var checks guards
	if deps.Breaker != nil {
		checks = append(checks, deps.Breaker)
	}
	if deps.Risk != nil {
		checks = append(checks, deps.Risk)
	}
	opts := []execution.Option{execution.WithGate(deps.Gate), execution.WithClock(deps.Now)}
	if len(checks) > 0 {
		opts = append(opts, execution.WithRiskGuard(checks))
	}
	botLogger := logging.BotLogger(deps.Logger, cfg.Name, cfg.Symbol)

	return &Trader{
		cfg:        cfg,
		deps:       deps,
		positions:  positions,
		reconciler: protection.NewReconciler(deps.Client, botLogger),
		orchestrator: execution.New(
			execution.Config{Bot: cfg.Name, Leverage: cfg.Leverage},
			deps.Client, deps.Portfolio, deps.Sizer, deps.Tracker, positions, botLogger, opts...,
		),
		trailing: risk.NewTrailingStopManager(cfg.Trailing, botLogger),
		logger:   logger,
		now:      deps.Now,
	}, nil
}

// Name returns the bot name
func (t *Trader) Name() string { return t.cfg.Name }

// Symbol returns the traded symbol
func (t *Trader) Symbol() string { return t.cfg.Symbol }

// Tracker returns the bot's trade history
func (t *Trader) Tracker() *tracker.Tracker { return t.deps.Tracker }

// Positions exposes the gate state, mainly for tests and status
func (t *Trader) Positions() *gate.PositionState { return t.positions }

// ResetBreaker closes a tripped circuit breaker. It reports false when the
// bot runs without one.
func (t *Trader) ResetBreaker() bool {
	if t.deps.Breaker == nil {
		return false
	}
	t.deps.Breaker.Reset()
	t.logger.Info("Circuit breaker reset")
	return true
}

// Decisions returns the latest logged decisions, newest first
func (t *Trader) Decisions(ctx context.Context, limit int) ([]decision.LogEntry, error) {
	return t.deps.Decisions.Recent(ctx, t.cfg.Name, limit)
}

// IsRunning reports whether the loop is active
func (t *Trader) IsRunning() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.running
}

// Start launches the loop after delay. The first cycle runs immediately
// after the delay, then every Interval.
func (t *Trader) Start(ctx context.Context, delay time.Duration) {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return
	}
	t.running = true
	stop := make(chan struct{})
	t.stopChan = stop
	t.mu.Unlock()

	t.wg.Add(1)
	go t.run(ctx, delay, stop)
}

// Stop prevents the next cycle from starting and waits for the current one
func (t *Trader) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	close(t.stopChan)
	t.mu.Unlock()

	t.wg.Wait()
	t.logger.Info("Trader stopped")
	t.deps.Events.Publish(events.Event{Type: events.EventBotStopped, Bot: t.cfg.Name,
		Data: events.Data{"symbol": t.cfg.Symbol}})
}

func (t *Trader) run(ctx context.Context, delay time.Duration, stop chan struct{}) {
	defer t.wg.Done()
	defer func() {
		t.mu.Lock()
		if t.stopChan == stop {
			t.running = false
		}
		t.mu.Unlock()
	}()

	if delay > 0 {
		t.logger.Info("Waiting before first cycle", "delay", delay.String())
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}

	t.Prepare(ctx)
	t.deps.Events.Publish(events.Event{Type: events.EventBotStarted, Bot: t.cfg.Name,
		Data: events.Data{"symbol": t.cfg.Symbol, "source": t.deps.Source.Name()}})

	// a running cycle is never cancelled, stopping only skips the next one
	t.RunCycle(context.WithoutCancel(ctx))

	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.RunCycle(context.WithoutCancel(ctx))
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Prepare sets leverage and restores the entry time of a position that
// predates this process. Failures are logged only.
func (t *Trader) Prepare(ctx context.Context) {
	t.logger.Info("Trader starting",
		"source", t.deps.Source.Name(), "leverage", t.cfg.Leverage, "interval", t.cfg.Interval.String())

	if err := t.deps.Client.SetLeverage(ctx, t.cfg.Symbol, t.cfg.Leverage); err != nil {
		t.logger.Error("Failed to set leverage", "leverage", t.cfg.Leverage, "error", err)
	}

	if err := t.deps.Tracker.Load(ctx); err != nil {
		t.logger.Warn("Trade history not loaded", "error", err)
	}

	if t.deps.Entries != nil {
		at, ok, err := t.deps.Entries.LoadEntry(ctx, t.cfg.Name, t.cfg.Symbol)
		if err != nil {
			t.logger.Warn("Could not load entry time", "error", err)
		}
		if ok {
			t.positions.RecordOpen(t.cfg.Symbol, at)
			t.logger.Info("Restored position entry time", "opened_at", at)
			return
		}
	}
	if open, ok := t.deps.Tracker.OpenTrade(t.cfg.Symbol); ok {
		t.positions.RecordOpen(t.cfg.Symbol, open.OpenedAt)
		t.logger.Info("Entry time taken from open trade record", "opened_at", open.OpenedAt)
	}
}

// RunCycle runs one full pass. It never panics and never returns an error;
// the result says how far the cycle got.
func (t *Trader) RunCycle(ctx context.Context) (res CycleResult) {
	res.StartedAt = t.now()
	start := time.Now()
	ctx, log := logging.WithCycleContext(ctx, t.logger)

	defer func() {
		if r := recover(); r != nil {
			log.Error("Trading cycle panicked", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			res.Result = metrics.CyclePanic
			res.Err = fmt.Errorf("cycle panic: %v", r)
		}
		res.Duration = time.Since(start)
		if res.Err != nil {
			res.Error = res.Err.Error()
		}
		metrics.IncCycle(t.cfg.Name, res.Result)
		metrics.ObserveCycle(t.cfg.Name, res.Duration.Seconds())
		t.record(res)
	}()

	p, err := t.deps.Portfolio.Snapshot(ctx, t.cfg.Symbol)
	if err != nil {
		log.Warn("Portfolio unavailable, skipping cycle", "error", err)
		t.deps.Events.PublishError(t.cfg.Name, "portfolio", err.Error())
		res.Result = metrics.CycleSkipped
		res.Err = err
		return res
	}
	metrics.SetBalance(t.cfg.Name, p.Balance.Total)
	t.deps.Events.PublishBalanceUpdate(t.cfg.Name, p.Balance.Total, p.AvailableMargin)

	m, marketErr := t.deps.Market.Snapshot(ctx, t.cfg.Symbol)
	if marketErr != nil {
		log.Warn("Market snapshot failed", "error", marketErr)
	}

	pos, hasPosition := p.Position(t.cfg.Symbol)
	var posPtr *exchange.Position
	if hasPosition {
		posPtr = &pos
	}
	t.setPosition(posPtr)

	res.ExternalClose = t.syncExternalClose(ctx, log, hasPosition, m)
	if p.OrdersErr != nil {
		log.Warn("Open orders unknown, skipping protection pass", "error", p.OrdersErr)
	} else {
		res.Repair = t.reconcile(ctx, log, posPtr, p.OpenOrders, m)
	}

	if marketErr != nil {
		res.Result = metrics.CycleError
		res.Err = marketErr
		return res
	}

	t.advise(log, p, m, posPtr)

	d, err := t.deps.Source.Decide(ctx, m, p)
	if err != nil {
		log.Warn("Decision source failed, holding", "source", t.deps.Source.Name(), "error", err)
		d = decision.Hold(t.cfg.Symbol, err.Error())
	}
	if d.Symbol == "" {
		d.Symbol = t.cfg.Symbol
	}
	if d.Source == "" {
		d.Source = t.deps.Source.Name()
	}
	res.Decision = &d
	metrics.IncDecision(t.cfg.Name, string(d.Action))
	t.deps.Events.PublishDecision(t.cfg.Name, d.Symbol, string(d.Action), d.Confidence, d.Reasoning, d.Source)
	log.Info("Decision received", "action", d.Action, "confidence", d.Confidence, "source", d.Source)

	entryTime, _ := t.positions.EntryTime(t.cfg.Symbol)
	verdict := t.deps.Gate.Evaluate(gate.Input{
		Decision:  d,
		Position:  posPtr,
		Balance:   p.Balance.Total,
		EntryTime: entryTime,
		Now:       t.now(),
	})
	res.Verdict = &verdict
	if hasPosition {
		t.positions.SetProfitLock(t.cfg.Symbol, verdict.ProfitLock)
	}
	if verdict.CoercedToClose {
		metrics.IncGateCoercion(t.cfg.Name, verdict.Reason)
	}

	if !verdict.Execute {
		log.Info("Decision not executed", "action", d.Action, "reason", verdict.Reason, "detail", verdict.Detail)
		if d.Action != decision.ActionHold {
			t.deps.Events.PublishGateRejected(t.cfg.Name, d.Symbol, string(d.Action), verdict.Reason, verdict.Detail)
		}
		t.logDecision(ctx, log, d, p, m, false, verdict.Reason)
		res.Result = metrics.CycleOK
		return res
	}

	out, err := t.orchestrator.Execute(ctx, execution.Input{Decision: verdict.Decision, Market: m})
	res.Outcome = &out
	if err != nil {
		log.Warn("Balance unavailable at execution, skipping", "error", err)
		t.logDecision(ctx, log, verdict.Decision, p, m, false, "balance_unavailable")
		res.Result = metrics.CycleSkipped
		res.Err = err
		return res
	}

	t.afterExecute(ctx, log, out)
	t.logDecision(ctx, log, verdict.Decision, p, m, out.Executed, out.Skipped)

	res.Result = metrics.CycleOK
	if out.Err != nil && out.Skipped == "" {
		res.Result = metrics.CycleError
		res.Err = out.Err
	}
	return res
}

// syncExternalClose finalizes the open trade record when the exchange closed
// the position on its own (stop or target filled, liquidation)
func (t *Trader) syncExternalClose(ctx context.Context, log *logging.Logger, hasPosition bool, m *market.Snapshot) *tracker.TradeRecord {
	if hasPosition {
		return nil
	}
	open, ok := t.deps.Tracker.OpenTrade(t.cfg.Symbol)
	if !ok {
		if _, known := t.positions.EntryTime(t.cfg.Symbol); known {
			t.clearPosition(ctx, log)
		}
		return nil
	}

	exit := 0.0
	if m != nil {
		exit = m.Price
	}
	if exit <= 0 {
		if ticker, err := t.deps.Client.GetTicker(ctx, t.cfg.Symbol); err == nil {
			exit = ticker.LastPrice
		}
	}
	if exit <= 0 {
		exit = open.EntryPrice
	}

	reason := ExitReason(open, exit)
	trade, err := t.deps.Tracker.CloseTrade(ctx, t.cfg.Symbol, exit, reason)
	if err != nil {
		log.Warn("Could not finalize externally closed trade", "error", err)
		return nil
	}
	log.Info("Position closed on exchange", "exit", exit, "reason", reason, "pnl_usd", trade.PnLUSD)
	t.afterClose(ctx, log, trade)
	return &trade
}

// ExitReason infers which protective order closed a position: a close on the
// profitable side of entry is the target, anything else the stop
func ExitReason(trade tracker.TradeRecord, exit float64) string {
	profitable := exit > trade.EntryPrice
	if trade.Action == string(decision.ActionShort) {
		profitable = exit < trade.EntryPrice
	}
	if profitable {
		return tracker.ExitTakeProfit
	}
	return tracker.ExitStopLoss
}

func (t *Trader) reconcile(ctx context.Context, log *logging.Logger, pos *exchange.Position, orders []exchange.Order, m *market.Snapshot) protection.Report {
	in := protection.Input{Symbol: t.cfg.Symbol, Position: pos, Orders: orders}
	if m != nil {
		in.Price = m.Price
		in.ATR = m.ATR()
	}
	report := t.reconciler.Reconcile(ctx, in)

	if report.StopPlaced {
		metrics.IncOrder(metrics.OrderStop, nil)
	}
	if report.TargetPlaced {
		metrics.IncOrder(metrics.OrderTarget, nil)
	}
	if report.OrphansCancelled > 0 {
		metrics.IncOrder(metrics.OrderCancel, nil)
	}
	if report.Failures > 0 {
		log.Warn("Protective order repair incomplete, retrying next cycle",
			"state", report.State, "failures", report.Failures, "errors", report.Errors)
	}
	if report.State != protection.StateFlat && report.State != protection.StateProtected {
		metrics.IncRepair(t.cfg.Name, string(report.State))
	}
	if report.Repaired() {
		t.deps.Events.PublishProtectionRepair(t.cfg.Name, t.cfg.Symbol, string(report.State),
			report.StopPlaced, report.TargetPlaced, report.OrphansCancelled)
	}
	return report
}

// advise logs the trailing stop and exposure advisories. Neither moves orders.
func (t *Trader) advise(log *logging.Logger, p *portfolio.Snapshot, m *market.Snapshot, pos *exchange.Position) {
	if pos != nil && m.Price > 0 {
		if update := t.trailing.Update(t.cfg.Symbol, pos.IsLong(), pos.EntryPrice, m.Price, m.ATR()); update != nil {
			log.Info("Trailing stop advisory", "old_stop", update.OldStopLoss, "new_stop", update.NewStopLoss, "price", m.Price)
			t.deps.Events.Publish(events.Event{Type: events.EventTrailingStop, Bot: t.cfg.Name,
				Data: events.Data{
					"symbol":   t.cfg.Symbol,
					"old_stop": update.OldStopLoss,
					"new_stop": update.NewStopLoss,
					"price":    m.Price,
				}})
		}
	}

	volPercentile := 50.0
	if m.Analysis != nil {
		volPercentile = m.Analysis.Volatility.Percentile
	}
	if reduce, reason := risk.ShouldReduceExposure(p, volPercentile); reduce {
		log.Warn("Exposure reduction advised", "reason", reason)
		t.deps.Events.Publish(events.Event{Type: events.EventExposureAdvisory, Bot: t.cfg.Name,
			Data: events.Data{"symbol": t.cfg.Symbol, "reason": reason}})
	}
}

func (t *Trader) afterExecute(ctx context.Context, log *logging.Logger, out execution.Outcome) {
	kind := metrics.OrderEntry
	if out.Action == decision.ActionClose {
		kind = metrics.OrderClose
	}

	if !out.Executed {
		if out.Err != nil && out.Skipped == "" {
			metrics.IncOrder(kind, out.Err)
		}
		return
	}
	metrics.IncOrder(kind, nil)

	if out.Action == decision.ActionClose {
		if out.Trade != nil {
			t.afterClose(ctx, log, *out.Trade)
		} else {
			t.clearPosition(ctx, log)
		}
		return
	}

	metrics.IncOrder(metrics.OrderStop, placed(out.StopPlaced))
	metrics.IncOrder(metrics.OrderTarget, placed(out.TargetPlaced))
	if out.Sizing != nil {
		metrics.ObserveSize(t.cfg.Name, out.Sizing.Size)
	}

	if t.deps.Entries != nil {
		if at, ok := t.positions.EntryTime(t.cfg.Symbol); ok {
			if err := t.deps.Entries.SaveEntry(ctx, t.cfg.Name, t.cfg.Symbol, at); err != nil {
				log.Warn("Could not persist entry time", "error", err)
			}
		}
	}

	entry, notional := out.Price, 0.0
	if out.Trade != nil {
		entry = out.Trade.EntryPrice
		notional = out.Trade.Size
	}
	t.deps.Events.PublishTradeOpened(t.cfg.Name, t.cfg.Symbol, string(out.Action), entry, out.Quantity,
		notional, out.Levels.StopLoss, out.Levels.TakeProfit)
}

func (t *Trader) afterClose(ctx context.Context, log *logging.Logger, trade tracker.TradeRecord) {
	if t.deps.Risk != nil {
		t.deps.Risk.RegisterClose(trade.PnLUSD)
	}
	if t.deps.Breaker != nil {
		t.deps.Breaker.RecordTrade(trade.PnLPercent)
	}
	metrics.AddRealizedPnL(t.cfg.Name, trade.PnLUSD)
	t.deps.Events.PublishTradeClosed(t.cfg.Name, t.cfg.Symbol, trade.EntryPrice, trade.ExitPrice,
		trade.PnLUSD, trade.PnLPercent, trade.ExitReason)
	t.clearPosition(ctx, log)
}

func (t *Trader) clearPosition(ctx context.Context, log *logging.Logger) {
	t.positions.Clear(t.cfg.Symbol)
	t.trailing.Remove(t.cfg.Symbol)
	if t.deps.Entries == nil {
		return
	}
	if err := t.deps.Entries.DeleteEntry(ctx, t.cfg.Name, t.cfg.Symbol); err != nil {
		log.Warn("Could not delete persisted entry time", "error", err)
	}
}

func (t *Trader) logDecision(ctx context.Context, log *logging.Logger, d decision.Decision, p *portfolio.Snapshot, m *market.Snapshot, executed bool, skip string) {
	entry := decision.LogEntry{
		Bot:        t.cfg.Name,
		Timestamp:  t.now(),
		Decision:   d,
		Executed:   executed,
		SkipReason: skip,
	}
	if m != nil {
		entry.Price = m.Price
		entry.Change24h = m.PriceChange24h
	}
	for _, pos := range p.Positions {
		if pos.IsOpen() {
			entry.Positions = append(entry.Positions, pos)
		}
	}
	if err := t.deps.Decisions.Append(ctx, entry); err != nil {
		log.Warn("Failed to log decision", "error", err)
	}
}

func (t *Trader) record(res CycleResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cycles++
	if res.Result == metrics.CycleError || res.Result == metrics.CyclePanic {
		t.errors++
	}
	t.lastCycle = &res
}

func (t *Trader) setPosition(pos *exchange.Position) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if pos == nil {
		t.lastPosition = nil
		return
	}
	cp := *pos
	t.lastPosition = &cp
}

// Status returns a copy of the trader's visible state
func (t *Trader) Status() Status {
	t.mu.RLock()
	s := Status{
		Name:     t.cfg.Name,
		Symbol:   t.cfg.Symbol,
		Source:   t.deps.Source.Name(),
		Running:  t.running,
		Cycles:   t.cycles,
		Errors:   t.errors,
		Position: t.lastPosition,
	}
	if t.lastCycle != nil {
		last := *t.lastCycle
		s.LastCycle = &last
	}
	t.mu.RUnlock()

	if at, ok := t.positions.EntryTime(t.cfg.Symbol); ok {
		s.EntryTime = &at
	}
	s.ProfitLock = t.positions.ProfitLock(t.cfg.Symbol)
	s.Stats = t.deps.Tracker.Stats()
	if t.deps.Breaker != nil {
		stats := t.deps.Breaker.Stats()
		s.Breaker = &stats
	}
	return s
}

func placed(ok bool) error {
	if ok {
		return nil
	}
	return errNotPlaced
}
