// Package account holds the account-data cache shared by every bot trading one exchange account.
package account

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"perp-trading-agent/internal/exchange"
)

// Snapshot is one read of balances and positions
type Snapshot struct {
	Account   *exchange.AccountInfo `json:"account"`
	Positions []exchange.Position   `json:"positions"`
	FetchedAt time.Time             `json:"fetched_at"`
}

// Age returns how long ago the snapshot was fetched
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.FetchedAt)
}

// Fetcher is the exchange surface the cache reads through
type Fetcher interface {
	GetAccount(ctx context.Context) (*exchange.AccountInfo, error)
	GetPositions(ctx context.Context, symbol string) ([]exchange.Position, error)
}

// Store is a second cache tier shared across processes (Redis)
type Store interface {
	GetJSON(ctx context.Context, key string, dest interface{}) error
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// Stats counts cache effectiveness
type Stats struct {
	Hits        int64 `json:"hits"`
	StoreHits   int64 `json:"store_hits"`
	Fetches     int64 `json:"fetches"`
	StaleServed int64 `json:"stale_served"`
}

// SharedCache deduplicates account reads across bots. The mutex is held for
// the whole check-and-fetch so concurrent callers inside the TTL share one result.
type SharedCache struct {
	mu       sync.Mutex
	client   Fetcher
	ttl      time.Duration
	snapshot *Snapshot
	store    Store
	storeKey string
	logger   zerolog.Logger
	now      func() time.Time
	stats    Stats
}

// Option configures a SharedCache
type Option func(*SharedCache)

// WithStore mirrors snapshots into a shared store under key
func WithStore(store Store, key string) Option {
	return func(c *SharedCache) {
		c.store = store
		c.storeKey = key
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(c *SharedCache) {
		c.now = now
	}
}

// NewSharedCache builds the cache; construct once and pass to every bot
func NewSharedCache(client Fetcher, ttl time.Duration, logger zerolog.Logger, opts ...Option) *SharedCache {
	c := &SharedCache{
		client: client,
		ttl:    ttl,
		logger: logger.With().Str("component", "account_cache").Logger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns a snapshot no older than the TTL, fetching when needed.
// When the fetch fails and an older snapshot exists, the stale snapshot is returned.
func (c *SharedCache) Get(ctx context.Context) (*Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.snapshot != nil && c.snapshot.Age(now) < c.ttl {
		c.stats.Hits++
		return c.snapshot, nil
	}

	if snap := c.loadFromStoreLocked(ctx, now); snap != nil {
		c.snapshot = snap
		c.stats.StoreHits++
		return snap, nil
	}

	snap, err := c.fetchLocked(ctx)
	if err != nil {
		if c.snapshot != nil {
			c.stats.StaleServed++
			c.logger.Warn().
				Err(err).
				Dur("age", c.snapshot.Age(now)).
				Msg("Account refresh failed, serving stale snapshot")
			return c.snapshot, nil
		}
		return nil, err
	}
	return snap, nil
}

// Refresh forces a fresh exchange read regardless of TTL
func (c *SharedCache) Refresh(ctx context.Context) (*Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetchLocked(ctx)
}

// Invalidate drops the in-process snapshot so the next Get fetches
func (c *SharedCache) Invalidate() {
	c.mu.Lock()
	c.snapshot = nil
	c.mu.Unlock()
}

// Stats returns a copy of the counters
func (c *SharedCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *SharedCache) fetchLocked(ctx context.Context) (*Snapshot, error) {
	c.stats.Fetches++

	acct, err := c.client.GetAccount(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch account: %w", err)
	}
	positions, err := c.client.GetPositions(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("fetch positions: %w", err)
	}

	snap := &Snapshot{Account: acct, Positions: positions, FetchedAt: c.now()}
	c.snapshot = snap

	if c.store != nil {
		if err := c.store.SetJSON(ctx, c.storeKey, snap, c.ttl); err != nil {
			c.logger.Debug().Err(err).Msg("Account snapshot not mirrored to store")
		}
	}

	c.logger.Debug().
		Float64("balance", acct.USDTBalance()).
		Int("positions", len(positions)).
		Msg("Account snapshot fetched")
	return snap, nil
}

func (c *SharedCache) loadFromStoreLocked(ctx context.Context, now time.Time) *Snapshot {
	if c.store == nil {
		return nil
	}
	var snap Snapshot
	if err := c.store.GetJSON(ctx, c.storeKey, &snap); err != nil {
		return nil
	}
	if snap.Account == nil || snap.Age(now) >= c.ttl {
		return nil
	}
	return &snap
}
