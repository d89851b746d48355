// Package cache mirrors account snapshots and bot status into Redis so that
// several agent processes can share them. Redis is optional: while it is
// unreachable every call fails fast with ErrUnavailable and callers go to the
// exchange instead.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"perp-trading-agent/config"
	"perp-trading-agent/internal/logging"
)

var (
	// ErrUnavailable means Redis is considered down and the call was not attempted
	ErrUnavailable = errors.New("redis unavailable")
	// ErrMiss means the key is absent
	ErrMiss = redis.Nil
)

const (
	accountKeyFormat   = "agent:account:%s"
	botStatusKeyFormat = "agent:bot:%s:status"

	failuresBeforeDown = 3
	probeEvery         = 30 * time.Second
)

// AccountSnapshotKey is where the shared snapshot of one exchange account lives
func AccountSnapshotKey(accountID string) string {
	return fmt.Sprintf(accountKeyFormat, accountID)
}

// BotStatusKey is where the scheduler mirrors a bot's status
func BotStatusKey(botName string) string {
	return fmt.Sprintf(botStatusKeyFormat, botName)
}

// health counts consecutive Redis failures. After failuresBeforeDown of them
// the store is marked down and only a periodic probe can bring it back.
type health struct {
	mu        sync.Mutex
	up        bool
	failures  int
	lastProbe time.Time
	limit     int
	every     time.Duration
	now       func() time.Time
	logger    *logging.Logger
}

func (h *health) isUp() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.up
}

func (h *health) fail() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures++
	if h.up && h.failures >= h.limit {
		h.up = false
		h.logger.Warn("Redis marked down", "failures", h.failures)
	}
}

func (h *health) ok() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.up {
		h.logger.Info("Redis back up")
	}
	h.up = true
	h.failures = 0
	h.lastProbe = h.now()
}

// probeDue reports whether a down store should be probed now, and claims the
// probe slot if so
func (h *health) probeDue() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.up || h.now().Sub(h.lastProbe) < h.every {
		return false
	}
	h.lastProbe = h.now()
	return true
}

// Store is the Redis-backed shared cache
type Store struct {
	client *redis.Client
	addr   string
	pool   int
	logger *logging.Logger
	health *health
}

// New dials Redis. An unreachable server is not an error: the store starts
// down and recovers once a probe succeeds.
func New(cfg config.RedisConfig, logger *logging.Logger) (*Store, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("redis is disabled")
	}
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.WithComponent("cache")

	s := &Store{
		client: redis.NewClient(&redis.Options{
			Addr:         cfg.Address,
			Password:     cfg.Password,
			DB:           cfg.DB,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: 2,
			MaxRetries:   3,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		}),
		addr:   cfg.Address,
		pool:   cfg.PoolSize,
		logger: logger,
		health: &health{limit: failuresBeforeDown, every: probeEvery, now: time.Now, logger: logger},
	}
	s.health.lastProbe = time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.client.Ping(ctx).Err(); err != nil {
		logger.Warn("Redis unreachable, starting without shared cache", "address", cfg.Address, "error", err)
		return s, nil
	}
	s.health.up = true
	logger.Info("Redis connected", "address", cfg.Address)
	return s, nil
}

// IsHealthy reports whether calls currently reach Redis
func (s *Store) IsHealthy() bool {
	return s.health.isUp()
}

// guard runs op against Redis unless the store is down. A miss counts as
// success.
func (s *Store) guard(op func() error) error {
	if s.health.probeDue() {
		go s.probe()
	}
	if !s.health.isUp() {
		return ErrUnavailable
	}
	err := op()
	if err != nil && !errors.Is(err, redis.Nil) {
		s.health.fail()
		return err
	}
	s.health.ok()
	return err
}

func (s *Store) probe() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if s.client.Ping(ctx).Err() == nil {
		s.health.ok()
	}
}

// Get returns the raw value at key
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var val string
	err := s.guard(func() error {
		v, err := s.client.Get(ctx, key).Result()
		val = v
		return err
	})
	switch {
	case errors.Is(err, redis.Nil):
		return "", ErrMiss
	case errors.Is(err, ErrUnavailable):
		return "", err
	case err != nil:
		return "", fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, nil
}

// Set stores value at key. Strings and byte slices are stored as is,
// anything else as JSON.
func (s *Store) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	payload, err := encode(value)
	if err != nil {
		return err
	}
	err = s.guard(func() error {
		return s.client.Set(ctx, key, payload, ttl).Err()
	})
	if err != nil && !errors.Is(err, ErrUnavailable) {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return err
}

func encode(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	}
	b, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode cache value: %w", err)
	}
	return b, nil
}

// Delete removes key
func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.guard(func() error {
		return s.client.Del(ctx, key).Err()
	})
	if err != nil && !errors.Is(err, ErrUnavailable) {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return err
}

// GetJSON decodes the JSON value at key into dest
func (s *Store) GetJSON(ctx context.Context, key string, dest interface{}) error {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return fmt.Errorf("decode cached %s: %w", key, err)
	}
	return nil
}

// SetJSON stores value at key as JSON
func (s *Store) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return s.Set(ctx, key, value, ttl)
}

// HealthCheck pings Redis directly, bypassing the down state, so the health
// endpoint reports the truth and a success revives the store.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		s.health.fail()
		return err
	}
	s.health.ok()
	return nil
}

// Client exposes the pool to repositories that share it
func (s *Store) Client() *redis.Client {
	return s.client
}

// Close releases the pool
func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Stats is the store state shown on the status endpoint
type Stats struct {
	Healthy      bool   `json:"healthy"`
	FailureCount int    `json:"failure_count"`
	Address      string `json:"address"`
	PoolSize     int    `json:"pool_size"`
}

// GetStats returns the current store state
func (s *Store) GetStats() Stats {
	s.health.mu.Lock()
	defer s.health.mu.Unlock()
	return Stats{
		Healthy:      s.health.up,
		FailureCount: s.health.failures,
		Address:      s.addr,
		PoolSize:     s.pool,
	}
}
