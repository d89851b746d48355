// Package analysis computes the technical-indicator bundle handed to decision
// sources and the position sizer.
package analysis

import (
	"perp-trading-agent/internal/exchange"
)

// Result is the full indicator bundle for one candle series
type Result struct {
	CurrentPrice      float64         `json:"current_price"`
	RSI               float64         `json:"rsi"`
	MACD              MACD            `json:"macd"`
	Bollinger         Bollinger       `json:"bollinger_bands"`
	ATR               float64         `json:"atr"`
	ATRPercent        float64         `json:"atr_percent"`
	Volume            VolumeProfile   `json:"volume_profile"`
	Momentum          float64         `json:"momentum"`
	Trend             Trend           `json:"trend"`
	Volatility        Volatility      `json:"volatility"`
	Structure         MarketStructure `json:"market_structure"`
	TradeQualityScore float64         `json:"trade_quality_score"`
}

// Analyzer combines the individual indicators
type Analyzer struct {
	trend  *TrendAnalyzer
	volume *VolumeAnalyzer
}

// NewAnalyzer creates an analyzer with the standard periods
func NewAnalyzer() *Analyzer {
	return &Analyzer{
		trend:  NewTrendAnalyzer(20, 50),
		volume: NewVolumeAnalyzer(20),
	}
}

// Analyze computes every indicator; returns nil with fewer than 2 candles
func (a *Analyzer) Analyze(candles []exchange.Kline) *Result {
	if len(candles) < 2 {
		return nil
	}

	closes := make([]float64, len(candles))
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
	}

	r := &Result{
		CurrentPrice: closes[len(closes)-1],
		RSI:          RSI(closes, 14),
		MACD:         CalculateMACD(closes, 12, 26, 9),
		Bollinger:    CalculateBollinger(closes, 20, 2),
		ATR:          ATR(highs, lows, closes, 14),
		Volume:       a.volume.AnalyzeVolume(candles),
		Momentum:     Momentum(closes, 10),
		Trend:        a.trend.DetectTrend(closes),
		Volatility:   CalculateVolatility(closes, 20),
		Structure:    a.trend.AnalyzeStructure(closes, highs, lows),
	}
	if r.CurrentPrice > 0 {
		r.ATRPercent = r.ATR / r.CurrentPrice * 100
	}
	r.TradeQualityScore = TradeQualityScore(r)

	return r
}

// TradeQualityScore rates the setup 0-100 starting from a neutral 50
func TradeQualityScore(r *Result) float64 {
	score := 50.0

	switch {
	case (r.RSI >= 30 && r.RSI <= 40) || (r.RSI >= 60 && r.RSI <= 70):
		score += 10
	case r.RSI < 20 || r.RSI > 80:
		score -= 5
	}

	if abs(r.MACD.Histogram) > abs(r.MACD.MACD)*0.1 {
		score += 10
	}

	if r.Bollinger.Position < 0.2 || r.Bollinger.Position > 0.8 {
		score += 5
	}
	if r.Bollinger.Width > 0.05 {
		score += 5
	}

	if r.Volume.VolumeRatio > 1.5 {
		score += 10
	}

	if r.Trend.Strength > 0.02 {
		score += 15
	}

	if r.Structure.BreakoutProbability > 0.6 {
		score += 10
	}

	return clamp(score, 0, 100)
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
