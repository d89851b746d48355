package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"perp-trading-agent/internal/logging"
)

const (
	// PositionKeyPrefix formats as agent:position:{bot}:{symbol}
	PositionKeyPrefix = "agent:position"

	// PositionStateTTL bounds how long an entry outlives a missed close
	PositionStateTTL = 7 * 24 * time.Hour
)

// PositionEntry is the part of a position the exchange does not report
type PositionEntry struct {
	Bot      string    `json:"bot"`
	Symbol   string    `json:"symbol"`
	OpenedAt time.Time `json:"opened_at"`
	SavedAt  time.Time `json:"saved_at"`
}

// PositionStateRepository keeps position entry times in Redis so the
// minimum-hold clock survives a restart. Without Redis it runs in memory.
type PositionStateRepository struct {
	client         *redis.Client
	inMemoryCache  map[string]PositionEntry
	cacheMu        sync.RWMutex
	redisAvailable atomic.Bool
	logger         *logging.Logger
}

// NewPositionStateRepository creates the repository. A nil client means memory-only mode.
func NewPositionStateRepository(client *redis.Client, logger *logging.Logger) *PositionStateRepository {
	if logger == nil {
		logger = logging.Default()
	}
	repo := &PositionStateRepository{
		client:        client,
		inMemoryCache: make(map[string]PositionEntry),
		logger:        logger.WithComponent("position_state"),
	}

	if client == nil {
		repo.logger.Info("No Redis client provided, using in-memory position state")
		return repo
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		repo.logger.Warn("Redis unavailable at startup, using in-memory position state", "error", err)
		return repo
	}
	repo.redisAvailable.Store(true)
	return repo
}

// IsRedisAvailable reports whether writes currently reach Redis
func (r *PositionStateRepository) IsRedisAvailable() bool {
	return r.client != nil && r.redisAvailable.Load()
}

func positionKey(bot, symbol string) string {
	return fmt.Sprintf("%s:%s:%s", PositionKeyPrefix, bot, symbol)
}

// SaveEntry records when bot opened symbol
func (r *PositionStateRepository) SaveEntry(ctx context.Context, bot, symbol string, openedAt time.Time) error {
	entry := PositionEntry{Bot: bot, Symbol: symbol, OpenedAt: openedAt, SavedAt: time.Now()}

	r.cacheMu.Lock()
	r.inMemoryCache[positionKey(bot, symbol)] = entry
	r.cacheMu.Unlock()

	if !r.IsRedisAvailable() {
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal position entry: %w", err)
	}
	if err := r.client.Set(ctx, positionKey(bot, symbol), data, PositionStateTTL).Err(); err != nil {
		// in-memory copy already updated
		r.logger.Warn("Failed to save position entry to Redis", "bot", bot, "symbol", symbol, "error", err)
		r.redisAvailable.Store(false)
	}
	return nil
}

// LoadEntry returns the recorded entry time, false when none exists
func (r *PositionStateRepository) LoadEntry(ctx context.Context, bot, symbol string) (time.Time, bool, error) {
	if r.IsRedisAvailable() {
		data, err := r.client.Get(ctx, positionKey(bot, symbol)).Bytes()
		switch {
		case err == nil:
			var entry PositionEntry
			if err := json.Unmarshal(data, &entry); err != nil {
				return time.Time{}, false, fmt.Errorf("failed to unmarshal position entry: %w", err)
			}
			r.cacheMu.Lock()
			r.inMemoryCache[positionKey(bot, symbol)] = entry
			r.cacheMu.Unlock()
			return entry.OpenedAt, !entry.OpenedAt.IsZero(), nil
		case errors.Is(err, redis.Nil):
		default:
			r.logger.Warn("Redis read error, using in-memory position state", "error", err)
			r.redisAvailable.Store(false)
		}
	}

	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	entry, ok := r.inMemoryCache[positionKey(bot, symbol)]
	if !ok || entry.OpenedAt.IsZero() {
		return time.Time{}, false, nil
	}
	return entry.OpenedAt, true, nil
}

// DeleteEntry forgets symbol once its position is flat
func (r *PositionStateRepository) DeleteEntry(ctx context.Context, bot, symbol string) error {
	r.cacheMu.Lock()
	delete(r.inMemoryCache, positionKey(bot, symbol))
	r.cacheMu.Unlock()

	if !r.IsRedisAvailable() {
		return nil
	}
	if err := r.client.Del(ctx, positionKey(bot, symbol)).Err(); err != nil {
		r.redisAvailable.Store(false)
		return fmt.Errorf("failed to delete position entry: %w", err)
	}
	return nil
}

// Ping re-checks Redis and restores writes after an outage
func (r *PositionStateRepository) Ping(ctx context.Context) error {
	if r.client == nil {
		return errors.New("no redis client")
	}
	if err := r.client.Ping(ctx).Err(); err != nil {
		r.redisAvailable.Store(false)
		return err
	}
	r.redisAvailable.Store(true)
	return nil
}
