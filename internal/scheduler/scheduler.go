// Package scheduler runs the maintenance jobs: an hourly statistics snapshot
// of every bot and the daily decision-log pruning.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"perp-trading-agent/internal/bot"
	"perp-trading-agent/internal/database"
	"perp-trading-agent/internal/logging"
	"perp-trading-agent/internal/metrics"
)

// Job names
const (
	JobStatsSnapshot = "stats_snapshot"
	JobDecisionPrune = "decision_prune"
)

// Config holds the cron expressions (with a seconds field) and retention
type Config struct {
	StatsSnapshotSpec  string
	DecisionPruneSpec  string
	DecisionRetainDays int
}

// DefaultConfig runs the snapshot hourly and pruning at 03:30
func DefaultConfig() Config {
	return Config{
		StatsSnapshotSpec:  "0 0 * * * *",
		DecisionPruneSpec:  "0 30 3 * * *",
		DecisionRetainDays: 30,
	}
}

// BotSource lists the bots to snapshot
type BotSource interface {
	Statuses() []bot.Status
}

// Pruner deletes decision log rows older than cutoff
type Pruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// StatusStore receives a copy of each bot status on every snapshot
type StatusStore interface {
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithStatusStore mirrors snapshots into store under keyFn(bot), kept for ttl
func WithStatusStore(store StatusStore, keyFn func(bot string) string, ttl time.Duration) Option {
	return func(s *Scheduler) {
		s.store = store
		s.storeKey = keyFn
		s.storeTTL = ttl
	}
}

// Scheduler wraps a cron runner. The prune job is registered only when a
// Pruner is provided.
type Scheduler struct {
	cfg    Config
	bots   BotSource
	pruner Pruner
	logger *logging.Logger
	now    func() time.Time

	store    StatusStore
	storeKey func(bot string) string
	storeTTL time.Duration

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
	entries map[string]cron.EntryID
}

// New creates a scheduler
func New(cfg Config, bots BotSource, pruner Pruner, logger *logging.Logger, opts ...Option) *Scheduler {
	def := DefaultConfig()
	if cfg.StatsSnapshotSpec == "" {
		cfg.StatsSnapshotSpec = def.StatsSnapshotSpec
	}
	if cfg.DecisionPruneSpec == "" {
		cfg.DecisionPruneSpec = def.DecisionPruneSpec
	}
	if cfg.DecisionRetainDays <= 0 {
		cfg.DecisionRetainDays = def.DecisionRetainDays
	}
	if logger == nil {
		logger = logging.Default()
	}
	s := &Scheduler{
		cfg:     cfg,
		bots:    bots,
		pruner:  pruner,
		logger:  logger.WithComponent("scheduler"),
		now:     time.Now,
		entries: make(map[string]cron.EntryID),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start registers the jobs and starts the cron runner
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	c := cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	entries := make(map[string]cron.EntryID)

	id, err := c.AddFunc(s.cfg.StatsSnapshotSpec, func() { s.SnapshotStats() })
	if err != nil {
		return fmt.Errorf("invalid stats snapshot schedule %q: %w", s.cfg.StatsSnapshotSpec, err)
	}
	entries[JobStatsSnapshot] = id

	if s.pruner != nil {
		id, err = c.AddFunc(s.cfg.DecisionPruneSpec, func() {
			if _, err := s.PruneDecisions(context.Background()); err != nil {
				s.logger.Error("Decision log pruning failed", "error", err)
			}
		})
		if err != nil {
			return fmt.Errorf("invalid decision prune schedule %q: %w", s.cfg.DecisionPruneSpec, err)
		}
		entries[JobDecisionPrune] = id
	}

	c.Start()
	s.cron = c
	s.entries = entries
	s.running = true

	s.logger.Info("Scheduler started", "jobs", len(entries),
		"stats_spec", s.cfg.StatsSnapshotSpec, "prune_spec", s.cfg.DecisionPruneSpec)
	return nil
}

// Stop stops the runner and waits for running jobs
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler not running")
	}
	c := s.cron
	s.running = false
	s.mu.Unlock()

	<-c.Stop().Done()
	s.logger.Info("Scheduler stopped")
	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Jobs returns the registered job names with their next run time
func (s *Scheduler) Jobs() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]time.Time, len(s.entries))
	if s.cron == nil {
		return out
	}
	for name, id := range s.entries {
		out[name] = s.cron.Entry(id).Next
	}
	return out
}

// SnapshotStats logs each bot's trade statistics and refreshes the trade gauges
func (s *Scheduler) SnapshotStats() []bot.Status {
	statuses := s.bots.Statuses()
	for _, st := range statuses {
		s.logger.Info("Bot statistics",
			"bot", st.Name,
			"symbol", st.Symbol,
			"running", st.Running,
			"cycles", st.Cycles,
			"errors", st.Errors,
			"trades", st.Stats.TotalTrades,
			"open_trades", st.Stats.OpenTrades,
			"win_rate", st.Stats.WinRate,
			"total_pnl_usd", st.Stats.TotalPnLUSD)
		metrics.SetTradeStats(st.Name, st.Stats.WinRate, st.Stats.TotalTrades)

		if s.store != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.store.SetJSON(ctx, s.storeKey(st.Name), st, s.storeTTL); err != nil {
				s.logger.Warn("Failed to mirror bot status", "bot", st.Name, "error", err)
			}
			cancel()
		}
	}
	return statuses
}

// PruneDecisions deletes decision log rows past the retention window
func (s *Scheduler) PruneDecisions(ctx context.Context) (int64, error) {
	if s.pruner == nil {
		return 0, nil
	}
	cutoff := database.RetentionCutoff(s.now(), s.cfg.DecisionRetainDays)
	n, err := s.pruner.Prune(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	s.logger.Info("Pruned decision log", "deleted", n, "cutoff", cutoff)
	return n, nil
}
