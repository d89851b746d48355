package market

import (
	"context"
	"fmt"
	"sync"
	"time"

	"perp-trading-agent/internal/exchange"
)

// Timeframe represents a kline interval
type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
)

// DefaultLimits are the candle counts gathered per timeframe (6h of 1m, 24h of 5m and 15m)
var DefaultLimits = map[Timeframe]int{
	TF1m:  360,
	TF5m:  288,
	TF15m: 96,
}

// TimeframeManager fetches candlesticks for several intervals with a short-lived cache
type TimeframeManager struct {
	client exchange.MarketData
	cache  *CandleCache
	now    func() time.Time
}

// CandleCache provides caching for candle data
type CandleCache struct {
	data map[string]*cacheEntry
	mu   sync.RWMutex
}

type cacheEntry struct {
	candles   []exchange.Kline
	expiresAt time.Time
}

// NewTimeframeManager creates a new multi-timeframe data manager
func NewTimeframeManager(client exchange.MarketData) *TimeframeManager {
	return &TimeframeManager{
		client: client,
		cache:  NewCandleCache(),
		now:    time.Now,
	}
}

// NewCandleCache creates a new candle cache
func NewCandleCache() *CandleCache {
	return &CandleCache{
		data: make(map[string]*cacheEntry),
	}
}

// FetchAll fetches every requested timeframe in parallel; the first error wins
func (tm *TimeframeManager) FetchAll(ctx context.Context, symbol string, limits map[Timeframe]int) (map[Timeframe][]exchange.Kline, error) {
	result := make(map[Timeframe][]exchange.Kline, len(limits))

	var wg sync.WaitGroup
	var mu sync.Mutex
	errChan := make(chan error, len(limits))

	for tf, limit := range limits {
		wg.Add(1)
		go func(timeframe Timeframe, limit int) {
			defer wg.Done()

			candles, err := tm.GetCandles(ctx, symbol, timeframe, limit)
			if err != nil {
				errChan <- fmt.Errorf("failed to fetch %s %s: %w", symbol, timeframe, err)
				return
			}

			mu.Lock()
			result[timeframe] = candles
			mu.Unlock()
		}(tf, limit)
	}

	wg.Wait()
	close(errChan)

	if err := <-errChan; err != nil {
		return nil, err
	}

	return result, nil
}

// GetCandles fetches candles with caching
func (tm *TimeframeManager) GetCandles(ctx context.Context, symbol string, tf Timeframe, limit int) ([]exchange.Kline, error) {
	cacheKey := fmt.Sprintf("%s:%s:%d", symbol, tf, limit)

	if cached := tm.cache.Get(cacheKey, tm.now()); cached != nil {
		return cached, nil
	}

	candles, err := tm.client.GetKlines(ctx, symbol, string(tf), limit)
	if err != nil {
		return nil, err
	}

	tm.cache.Set(cacheKey, candles, tm.now().Add(cacheTTL(tf)))
	return candles, nil
}

// cacheTTL keeps candles for a fraction of their interval so the forming candle stays fresh
func cacheTTL(tf Timeframe) time.Duration {
	switch tf {
	case TF1m:
		return 10 * time.Second
	case TF5m:
		return 30 * time.Second
	case TF15m:
		return time.Minute
	default:
		return 10 * time.Second
	}
}

// Get retrieves cached candles if not expired
func (c *CandleCache) Get(key string, now time.Time) []exchange.Kline {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.data[key]
	if !exists || now.After(entry.expiresAt) {
		return nil
	}
	return entry.candles
}

// Set stores candles until expiresAt
func (c *CandleCache) Set(key string, candles []exchange.Kline, expiresAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[key] = &cacheEntry{
		candles:   candles,
		expiresAt: expiresAt,
	}
}

// Clear removes expired entries from cache
func (c *CandleCache) Clear(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, entry := range c.data {
		if now.After(entry.expiresAt) {
			delete(c.data, key)
		}
	}
}
