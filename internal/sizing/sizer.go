// Package sizing converts a decision's confidence and the market/portfolio
// context into a bounded USD notional.
package sizing

import (
	"fmt"
	"math"
)

// Config holds the sizing limits
type Config struct {
	MaxPositionSize float64 // USD notional cap
	BalanceFraction float64 // share of balance usable as base size
	MinConfidence   float64 // confidence at which the ramp starts
	MinTradesKelly  int     // closed trades required before Kelly applies
}

// DefaultConfig returns the stock sizing limits
func DefaultConfig() Config {
	return Config{
		MaxPositionSize: 1200,
		BalanceFraction: 0.6,
		MinConfidence:   60,
		MinTradesKelly:  10,
	}
}

const (
	confidenceFloor = 0.7
	confidenceSpan  = 1.8 // floor + span = 2.5x at 100 confidence
	floorFraction   = 0.25
	marginFraction  = 0.8

	winStreakRate  = 0.55
	lossStreakRate = 0.45
	lossStreakPnL  = -50.0
	winMultiplier  = 1.3
	lossMultiplier = 0.7

	kellyMin = 0.5
	kellyMax = 1.5

	defaultWinRate = 0.5
)

// Input is everything the sizer needs for one decision
type Input struct {
	Confidence      float64 // 0-100
	ATRPercent      float64 // ATR as percent of price
	QualityScore    float64 // 0-100
	Balance         float64
	AvailableMargin float64
	WinRate         float64 // fraction 0-1
	RecentPnL       float64
	AvgWin          float64
	AvgLoss         float64
	TotalTrades     int
}

// Result carries the final size plus every factor for the caller's log line
type Result struct {
	Size                  float64 `json:"size"`
	Base                  float64 `json:"base"`
	ConfidenceMultiplier  float64 `json:"confidence_multiplier"`
	VolatilityMultiplier  float64 `json:"volatility_multiplier"`
	QualityMultiplier     float64 `json:"quality_multiplier"`
	PerformanceMultiplier float64 `json:"performance_multiplier"`
	KellyMultiplier       float64 `json:"kelly_multiplier"`
	Raw                   float64 `json:"raw"`
	MarginCapped          bool    `json:"margin_capped"`
}

// String renders the breakdown for logs
func (r Result) String() string {
	return fmt.Sprintf("base=$%.2f conf=%.2fx vol=%.2fx quality=%.2fx perf=%.2fx kelly=%.2fx -> $%.2f",
		r.Base, r.ConfidenceMultiplier, r.VolatilityMultiplier, r.QualityMultiplier,
		r.PerformanceMultiplier, r.KellyMultiplier, r.Size)
}

// Sizer computes position notionals. It is stateless and safe for concurrent use.
type Sizer struct {
	cfg Config
}

// New creates a sizer, filling unset limits from DefaultConfig
func New(cfg Config) *Sizer {
	def := DefaultConfig()
	if cfg.MaxPositionSize <= 0 {
		cfg.MaxPositionSize = def.MaxPositionSize
	}
	if cfg.BalanceFraction <= 0 {
		cfg.BalanceFraction = def.BalanceFraction
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = def.MinConfidence
	}
	if cfg.MinTradesKelly <= 0 {
		cfg.MinTradesKelly = def.MinTradesKelly
	}
	return &Sizer{cfg: cfg}
}

// Size returns a notional within [25% of max, max] and at most 80% of
// available margin. The margin cap is applied last and wins over the floor.
func (s *Sizer) Size(in Input) Result {
	maxSize := s.cfg.MaxPositionSize
	floor := maxSize * floorFraction

	r := Result{
		Base:                  math.Min(maxSize, finiteOr(in.Balance, 0)*s.cfg.BalanceFraction),
		ConfidenceMultiplier:  s.confidenceMultiplier(in.Confidence),
		VolatilityMultiplier:  volatilityMultiplier(in.ATRPercent),
		QualityMultiplier:     0.5 + clamp(finiteOr(in.QualityScore, 0), 0, 100)/100,
		PerformanceMultiplier: performanceMultiplier(in),
		KellyMultiplier:       s.kellyMultiplier(in),
	}

	r.Raw = r.Base * r.ConfidenceMultiplier * r.VolatilityMultiplier *
		r.QualityMultiplier * r.PerformanceMultiplier * r.KellyMultiplier

	size := r.Raw
	if math.IsNaN(size) || math.IsInf(size, 0) {
		size = floor
	}
	size = clamp(size, floor, maxSize)

	marginCap := math.Max(0, finiteOr(in.AvailableMargin, 0)*marginFraction)
	if size > marginCap {
		size = marginCap
		r.MarginCapped = true
	}

	r.Size = size
	return r
}

// confidenceMultiplier ramps linearly from 0.7x at MinConfidence to 2.5x at 100
func (s *Sizer) confidenceMultiplier(confidence float64) float64 {
	c := clamp(finiteOr(confidence, 0), 0, 100)
	span := 100 - s.cfg.MinConfidence
	if span <= 0 {
		return confidenceFloor
	}
	return math.Max(confidenceFloor, (c-s.cfg.MinConfidence)/span*confidenceSpan+confidenceFloor)
}

func volatilityMultiplier(atrPercent float64) float64 {
	v := finiteOr(atrPercent, 0)
	if v < 0 {
		v = 0
	}
	return 1 / (1 + v/2)
}

func performanceMultiplier(in Input) float64 {
	winRate := in.WinRate
	if in.TotalTrades == 0 {
		winRate = defaultWinRate
	}
	switch {
	case winRate > winStreakRate && in.RecentPnL > 0:
		return winMultiplier
	case winRate < lossStreakRate || in.RecentPnL < lossStreakPnL:
		return lossMultiplier
	default:
		return 1
	}
}

// kellyMultiplier applies the Kelly fraction once enough trades have closed
func (s *Sizer) kellyMultiplier(in Input) float64 {
	if in.TotalTrades <= s.cfg.MinTradesKelly || in.AvgWin <= 0 || in.AvgLoss <= 0 {
		return 1
	}
	wr := clamp(in.WinRate, 0, 1)
	kelly := (wr*in.AvgWin - (1-wr)*in.AvgLoss) / in.AvgWin
	return clamp(finiteOr(kelly, 1), kellyMin, kellyMax)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func finiteOr(v, fallback float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fallback
	}
	return v
}
