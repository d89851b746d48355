// Package market assembles the per-cycle market snapshot: ticker, multi-timeframe
// candles and the indicator bundle computed on the 5m series.
package market

import (
	"context"
	"errors"
	"fmt"
	"time"

	"perp-trading-agent/internal/analysis"
	"perp-trading-agent/internal/exchange"
)

// ErrInsufficientData is returned when the analysis timeframe has too few candles
var ErrInsufficientData = errors.New("insufficient candle data")

// AnalysisTimeframe is the series the indicator bundle is computed on
const AnalysisTimeframe = TF5m

// Snapshot is everything a decision source sees about one symbol
type Snapshot struct {
	Symbol          string                                `json:"symbol"`
	Price           float64                               `json:"current_price"`
	PriceChange24h  float64                               `json:"price_change_24h"` // percent
	Volume24h       float64                               `json:"volume_24h"`
	High24h         float64                               `json:"high_24h"`
	Low24h          float64                               `json:"low_24h"`
	Candles         map[Timeframe][]exchange.Kline        `json:"-"`
	Analysis        *analysis.Result                      `json:"technical_analysis"`
	TimeframeTrends map[Timeframe]analysis.TrendDirection `json:"timeframe_trends"`
	Timestamp       time.Time                             `json:"timestamp"`
}

// ATR returns the analysis ATR or 0 when unavailable
func (s *Snapshot) ATR() float64 {
	if s == nil || s.Analysis == nil {
		return 0
	}
	return s.Analysis.ATR
}

// Provider builds market snapshots from an exchange market-data source
type Provider struct {
	client     exchange.MarketData
	timeframes *TimeframeManager
	analyzer   *analysis.Analyzer
	trend      *analysis.TrendAnalyzer
	limits     map[Timeframe]int
	now        func() time.Time
}

// NewProvider creates a provider gathering the default 1m/5m/15m windows
func NewProvider(client exchange.MarketData) *Provider {
	return &Provider{
		client:     client,
		timeframes: NewTimeframeManager(client),
		analyzer:   analysis.NewAnalyzer(),
		trend:      analysis.NewTrendAnalyzer(20, 50),
		limits:     DefaultLimits,
		now:        time.Now,
	}
}

// Snapshot fetches the ticker and candles for symbol and runs the analysis
func (p *Provider) Snapshot(ctx context.Context, symbol string) (*Snapshot, error) {
	ticker, err := p.client.GetTicker(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to get ticker for %s: %w", symbol, err)
	}

	candles, err := p.timeframes.FetchAll(ctx, symbol, p.limits)
	if err != nil {
		return nil, err
	}
	p.timeframes.cache.Clear(p.now())

	result := p.analyzer.Analyze(candles[AnalysisTimeframe])
	if result == nil {
		return nil, fmt.Errorf("%w: %s %s has %d candles", ErrInsufficientData, symbol, AnalysisTimeframe, len(candles[AnalysisTimeframe]))
	}

	snap := &Snapshot{
		Symbol:          symbol,
		Price:           ticker.LastPrice,
		PriceChange24h:  ticker.PriceChangePercent,
		Volume24h:       ticker.Volume,
		High24h:         ticker.HighPrice,
		Low24h:          ticker.LowPrice,
		Candles:         candles,
		Analysis:        result,
		TimeframeTrends: make(map[Timeframe]analysis.TrendDirection, len(candles)),
		Timestamp:       p.now(),
	}
	if snap.Price <= 0 {
		snap.Price = result.CurrentPrice
	}

	for tf, series := range candles {
		closes := make([]float64, len(series))
		for i, c := range series {
			closes[i] = c.Close
		}
		snap.TimeframeTrends[tf] = p.trend.DetectTrend(closes).Direction
	}

	return snap, nil
}
