package risk

import (
	"sync"
	"time"

	"perp-trading-agent/internal/logging"
)

// TrailingConfig holds trailing stop configuration
type TrailingConfig struct {
	ActivationPercent float64 // profit fraction that activates trailing, 0.01 = 1%
	ATRMultiplier     float64 // trailing distance in ATRs
}

// DefaultTrailingConfig trails 1.5 ATR once 1% in profit
func DefaultTrailingConfig() TrailingConfig {
	return TrailingConfig{ActivationPercent: 0.01, ATRMultiplier: 1.5}
}

// TrailingStop returns the trailing stop for a position, false until the
// position is far enough in profit to activate
func TrailingStop(cfg TrailingConfig, entry, price, atr float64, long bool) (float64, bool) {
	if entry <= 0 || price <= 0 || atr <= 0 {
		return 0, false
	}
	if long {
		if (price-entry)/entry > cfg.ActivationPercent {
			return price - atr*cfg.ATRMultiplier, true
		}
		return 0, false
	}
	if (entry-price)/entry > cfg.ActivationPercent {
		return price + atr*cfg.ATRMultiplier, true
	}
	return 0, false
}

// TrailingPosition tracks a position with trailing stop
type TrailingPosition struct {
	Symbol        string    `json:"symbol"`
	Long          bool      `json:"long"`
	EntryPrice    float64   `json:"entry_price"`
	Stop          float64   `json:"stop"`
	HighWaterMark float64   `json:"high_water_mark"`
	LowWaterMark  float64   `json:"low_water_mark"`
	IsActivated   bool      `json:"is_activated"`
	LastUpdate    time.Time `json:"last_update"`
}

// StopUpdate represents a stop loss update
type StopUpdate struct {
	Symbol      string
	OldStopLoss float64
	NewStopLoss float64
}

// TrailingStopManager keeps the advised trailing stop per symbol. The stop
// only ever tightens.
type TrailingStopManager struct {
	positions map[string]*TrailingPosition
	config    TrailingConfig
	mu        sync.RWMutex
	logger    *logging.Logger
}

// NewTrailingStopManager creates a new trailing stop manager
func NewTrailingStopManager(cfg TrailingConfig, logger *logging.Logger) *TrailingStopManager {
	def := DefaultTrailingConfig()
	if cfg.ActivationPercent <= 0 {
		cfg.ActivationPercent = def.ActivationPercent
	}
	if cfg.ATRMultiplier <= 0 {
		cfg.ATRMultiplier = def.ATRMultiplier
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &TrailingStopManager{
		positions: make(map[string]*TrailingPosition),
		config:    cfg,
		logger:    logger.WithComponent("trailing_stop"),
	}
}

// Update feeds the latest price. It starts tracking on first sight of the
// symbol and returns an update when the advised stop tightens.
func (tsm *TrailingStopManager) Update(symbol string, long bool, entry, price, atr float64) *StopUpdate {
	tsm.mu.Lock()
	defer tsm.mu.Unlock()

	pos, ok := tsm.positions[symbol]
	if !ok || pos.Long != long || pos.EntryPrice != entry {
		pos = &TrailingPosition{
			Symbol:        symbol,
			Long:          long,
			EntryPrice:    entry,
			HighWaterMark: entry,
			LowWaterMark:  entry,
		}
		tsm.positions[symbol] = pos
	}
	pos.LastUpdate = time.Now()
	if price > pos.HighWaterMark {
		pos.HighWaterMark = price
	}
	if price < pos.LowWaterMark {
		pos.LowWaterMark = price
	}

	stop, active := TrailingStop(tsm.config, entry, price, atr, long)
	if !active {
		return nil
	}
	if !pos.IsActivated {
		pos.IsActivated = true
		tsm.logger.Info("Trailing stop activated", "symbol", symbol, "price", price)
	}

	tighter := pos.Stop == 0 || (long && stop > pos.Stop) || (!long && stop < pos.Stop)
	if !tighter {
		return nil
	}
	update := &StopUpdate{Symbol: symbol, OldStopLoss: pos.Stop, NewStopLoss: stop}
	pos.Stop = stop
	return update
}

// Remove stops tracking symbol
func (tsm *TrailingStopManager) Remove(symbol string) {
	tsm.mu.Lock()
	defer tsm.mu.Unlock()
	delete(tsm.positions, symbol)
}

// Position returns a copy of the tracked state
func (tsm *TrailingStopManager) Position(symbol string) (TrailingPosition, bool) {
	tsm.mu.RLock()
	defer tsm.mu.RUnlock()
	if pos, ok := tsm.positions[symbol]; ok {
		return *pos, true
	}
	return TrailingPosition{}, false
}
