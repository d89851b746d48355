// Package events fans bot activity out to in-process subscribers such as the
// websocket stream.
package events

import (
	"sync"
	"time"
)

// EventType names what happened
type EventType string

const (
	EventBotStarted       EventType = "BOT_STARTED"
	EventBotStopped       EventType = "BOT_STOPPED"
	EventCycleCompleted   EventType = "CYCLE_COMPLETED"
	EventDecision         EventType = "DECISION"
	EventGateRejected     EventType = "GATE_REJECTED"
	EventTradeOpened      EventType = "TRADE_OPENED"
	EventTradeClosed      EventType = "TRADE_CLOSED"
	EventProtectionRepair EventType = "PROTECTION_REPAIR"
	EventBalanceUpdate    EventType = "BALANCE_UPDATE"
	EventTrailingStop     EventType = "TRAILING_STOP"
	EventExposureAdvisory EventType = "EXPOSURE_ADVISORY"
	EventCircuitBreaker   EventType = "CIRCUIT_BREAKER"
	EventError            EventType = "ERROR"
)

// Data is the free-form payload of an event
type Data = map[string]interface{}

// Event is one notification about a bot
type Event struct {
	Type      EventType `json:"type"`
	Bot       string    `json:"bot,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Data      Data      `json:"data"`
}

// Subscriber handles one event. It runs on its own goroutine.
type Subscriber func(Event)

// EventBus fans events out to subscribers. A nil *EventBus drops everything,
// so components can be built without one.
type EventBus struct {
	mu       sync.RWMutex
	byType   map[EventType][]Subscriber
	wildcard []Subscriber
}

// NewEventBus returns an empty bus
func NewEventBus() *EventBus {
	return &EventBus{byType: make(map[EventType][]Subscriber)}
}

// Subscribe delivers events of one type to fn
func (eb *EventBus) Subscribe(t EventType, fn Subscriber) {
	eb.mu.Lock()
	eb.byType[t] = append(eb.byType[t], fn)
	eb.mu.Unlock()
}

// SubscribeAll delivers every event to fn
func (eb *EventBus) SubscribeAll(fn Subscriber) {
	eb.mu.Lock()
	eb.wildcard = append(eb.wildcard, fn)
	eb.mu.Unlock()
}

// Publish stamps the event if needed and hands it to every matching
// subscriber without waiting for them
func (eb *EventBus) Publish(e Event) {
	if eb == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	eb.mu.RLock()
	targets := make([]Subscriber, 0, len(eb.byType[e.Type])+len(eb.wildcard))
	targets = append(targets, eb.byType[e.Type]...)
	targets = append(targets, eb.wildcard...)
	eb.mu.RUnlock()

	for _, fn := range targets {
		go fn(e)
	}
}

func (eb *EventBus) emit(t EventType, bot string, data Data) {
	eb.Publish(Event{Type: t, Bot: bot, Data: data})
}

// PublishDecision reports what the decision source returned this cycle
func (eb *EventBus) PublishDecision(bot, symbol, action string, confidence float64, reasoning, source string) {
	eb.emit(EventDecision, bot, Data{
		"symbol": symbol, "action": action, "confidence": confidence,
		"reasoning": reasoning, "source": source,
	})
}

// PublishGateRejected reports a decision coerced to hold
func (eb *EventBus) PublishGateRejected(bot, symbol, action, reason, detail string) {
	eb.emit(EventGateRejected, bot, Data{
		"symbol": symbol, "action": action, "reason": reason, "detail": detail,
	})
}

// PublishTradeOpened reports a filled entry with its protection levels
func (eb *EventBus) PublishTradeOpened(bot, symbol, side string, entryPrice, quantity, notional, stopLoss, takeProfit float64) {
	eb.emit(EventTradeOpened, bot, Data{
		"symbol": symbol, "side": side,
		"entry_price": entryPrice, "quantity": quantity, "notional": notional,
		"stop_loss": stopLoss, "take_profit": takeProfit,
	})
}

// PublishTradeClosed reports a finished trade
func (eb *EventBus) PublishTradeClosed(bot, symbol string, entryPrice, exitPrice, pnl, pnlPercent float64, reason string) {
	eb.emit(EventTradeClosed, bot, Data{
		"symbol": symbol, "entry_price": entryPrice, "exit_price": exitPrice,
		"pnl": pnl, "pnl_percent": pnlPercent, "exit_reason": reason,
	})
}

// PublishProtectionRepair reports what the reconciler fixed
func (eb *EventBus) PublishProtectionRepair(bot, symbol, state string, stopPlaced, targetPlaced bool, orphansCancelled int) {
	eb.emit(EventProtectionRepair, bot, Data{
		"symbol": symbol, "state": state,
		"stop_placed": stopPlaced, "target_placed": targetPlaced,
		"orphans_cancelled": orphansCancelled,
	})
}

// PublishBalanceUpdate reports the balance read at the start of a cycle
func (eb *EventBus) PublishBalanceUpdate(bot string, total, available float64) {
	eb.emit(EventBalanceUpdate, bot, Data{"total": total, "available": available})
}

// PublishError reports a failure in one stage of a cycle
func (eb *EventBus) PublishError(bot, stage, message string) {
	eb.emit(EventError, bot, Data{"source": stage, "message": message})
}
