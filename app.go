package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"perp-trading-agent/config"
	"perp-trading-agent/internal/account"
	"perp-trading-agent/internal/api"
	"perp-trading-agent/internal/auth"
	"perp-trading-agent/internal/bot"
	"perp-trading-agent/internal/cache"
	"perp-trading-agent/internal/circuit"
	"perp-trading-agent/internal/database"
	"perp-trading-agent/internal/decision"
	"perp-trading-agent/internal/events"
	"perp-trading-agent/internal/exchange"
	"perp-trading-agent/internal/gate"
	"perp-trading-agent/internal/logging"
	"perp-trading-agent/internal/market"
	"perp-trading-agent/internal/notification"
	"perp-trading-agent/internal/portfolio"
	"perp-trading-agent/internal/risk"
	"perp-trading-agent/internal/scheduler"
	"perp-trading-agent/internal/sizing"
	"perp-trading-agent/internal/tracker"
	"perp-trading-agent/internal/vault"
)

// app holds every long-lived service of the agent process
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	bus       *events.EventBus
	db        *database.DB
	cache     *cache.Store
	vault     *vault.Client
	manager   *bot.Manager
	scheduler *scheduler.Scheduler
	server    *api.Server
}

// newApp connects the backing services and builds one trader per configured bot
func newApp(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, bus: events.NewEventBus()}

	if cfg.VaultConfig.Enabled {
		vc, err := vault.NewClient(cfg.VaultConfig)
		if err != nil {
			return nil, err
		}
		if err := vc.ApplyTo(ctx, cfg); err != nil {
			return nil, fmt.Errorf("failed to load credentials from vault: %w", err)
		}
		a.vault = vc
		logger.Info("Credentials loaded from Vault", "address", cfg.VaultConfig.Address)
	}
	if !cfg.ExchangeConfig.MockMode && (cfg.ExchangeConfig.APIKey == "" || cfg.ExchangeConfig.SecretKey == "") {
		return nil, fmt.Errorf("exchange credentials missing")
	}

	if cfg.DatabaseConfig.Enabled {
		db, err := database.NewDB(ctx, cfg.DatabaseConfig, logger)
		if err != nil {
			return nil, err
		}
		if err := db.RunMigrations(ctx); err != nil {
			db.Close()
			return nil, err
		}
		a.db = db
	}

	if cfg.RedisConfig.Enabled {
		cs, err := cache.New(cfg.RedisConfig, logger)
		if err != nil {
			logger.Warn("Redis unavailable, continuing without shared cache", "error", err)
		} else {
			a.cache = cs
		}
	}

	client := newExchangeClient(cfg.ExchangeConfig, logger)

	var cacheOpts []account.Option
	if a.cache != nil {
		cacheOpts = append(cacheOpts, account.WithStore(a.cache, cache.AccountSnapshotKey(accountID(cfg.ExchangeConfig))))
	}
	accounts := account.NewSharedCache(client, cfg.TradingConfig.AccountCacheTTL(), logger.Zerolog(), cacheOpts...)

	entries := database.NewPositionStateRepository(a.redisClient(), logger)
	riskManager := risk.NewManager(bot.RiskConfig(cfg.TradingConfig), logger)
	marketProvider := market.NewProvider(client)

	var decisions decision.Store
	var trades *database.TradeRepository
	if a.db != nil {
		decisions = database.NewDecisionRepository(a.db)
		trades = database.NewTradeRepository(a.db)
	}

	a.manager = bot.NewManager(cfg.TradingConfig.Stagger(), logger)
	for _, bc := range cfg.Bots {
		source, err := bot.NewSource(cfg.LLMConfig, cfg.TradingConfig, bc, logger)
		if err != nil {
			a.Close()
			return nil, err
		}

		var trackerOpts []tracker.Option
		if trades != nil {
			trackerOpts = append(trackerOpts, tracker.WithRepository(trades))
		}
		tr := tracker.New(bc.Name, logger.Zerolog(), trackerOpts...)
		breaker := circuit.New(bc.Name, bot.CircuitConfig(cfg.CircuitBreakerConfig), logger, circuit.WithEvents(a.bus))

		trader, err := bot.NewTrader(bot.TraderConfig{
			Name:     bc.Name,
			Symbol:   bc.Symbol,
			Leverage: cfg.TradingConfig.Leverage,
			Interval: cfg.TradingConfig.Interval(),
			Trailing: bot.TrailingConfig(cfg.TradingConfig),
		}, bot.Deps{
			Client:    client,
			Market:    marketProvider,
			Portfolio: portfolio.NewProvider(accounts, client, tr, logger),
			Source:    source,
			Tracker:   tr,
			Sizer:     sizing.New(bot.SizingConfig(cfg.TradingConfig)),
			Gate:      gate.New(bot.GateConfig(cfg.TradingConfig)),
			Risk:      riskManager,
			Breaker:   breaker,
			Entries:   entries,
			Decisions: decisions,
			Events:    a.bus,
			Logger:    logger,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		if err := a.manager.Add(trader); err != nil {
			a.Close()
			return nil, err
		}
		logger.Info("Bot configured", "bot", bc.Name, "symbol", bc.Symbol, "source", source.Name())
	}

	a.setupNotifications()

	if cfg.SchedulerConfig.Enabled {
		a.scheduler = a.newScheduler(decisions)
	}

	if cfg.ServerConfig.Enabled {
		server, err := a.newServer()
		if err != nil {
			a.Close()
			return nil, err
		}
		a.server = server
	}

	return a, nil
}

func newExchangeClient(cfg config.ExchangeConfig, logger *logging.Logger) exchange.FuturesClient {
	live := exchange.NewFuturesClient(cfg.APIKey, cfg.SecretKey, exchange.ClientOptions{
		BaseURL:        cfg.BaseURL,
		TestNet:        cfg.TestNet,
		RecvWindowMs:   cfg.RecvWindowMs,
		Timeout:        time.Duration(cfg.TimeoutSeconds) * time.Second,
		RequestsPerSec: int(cfg.RequestsPerSec),
		Logger:         logger,
	})
	if cfg.MockMode {
		logger.Warn("Mock mode: orders are simulated, market data is live", "balance", cfg.MockBalance)
		return exchange.NewMockClient(cfg.MockBalance, live)
	}
	return live
}

// accountID is a stable, non-secret name for the exchange account
func accountID(cfg config.ExchangeConfig) string {
	if cfg.MockMode {
		return "mock"
	}
	sum := sha256.Sum256([]byte(cfg.BaseURL + "|" + cfg.APIKey))
	return hex.EncodeToString(sum[:6])
}

func (a *app) redisClient() *redis.Client {
	if a.cache == nil {
		return nil
	}
	return a.cache.Client()
}

func (a *app) setupNotifications() {
	nc := a.cfg.NotificationConfig
	if !nc.Enabled {
		return
	}
	notifier := notification.NewManager(a.logger)
	notifier.AddNotifier(notification.NewTelegramNotifier(notification.TelegramConfig{
		BotToken: nc.Telegram.BotToken,
		ChatID:   nc.Telegram.ChatID,
		Enabled:  nc.Telegram.Enabled,
	}))
	notifier.AddNotifier(notification.NewDiscordNotifier(notification.DiscordConfig{
		WebhookURL: nc.Discord.WebhookURL,
		Enabled:    nc.Discord.Enabled,
	}))
	notifier.Subscribe(a.bus)
}

func (a *app) newScheduler(decisions decision.Store) *scheduler.Scheduler {
	sc := a.cfg.SchedulerConfig

	var pruner scheduler.Pruner
	if repo, ok := decisions.(*database.DecisionRepository); ok && repo != nil {
		pruner = repo
	}

	var opts []scheduler.Option
	if a.cache != nil {
		opts = append(opts, scheduler.WithStatusStore(a.cache, cache.BotStatusKey, 2*time.Hour))
	}

	return scheduler.New(scheduler.Config{
		StatsSnapshotSpec:  sc.StatsSnapshotSpec,
		DecisionPruneSpec:  sc.DecisionPruneSpec,
		DecisionRetainDays: sc.DecisionRetainDays,
	}, a.manager, pruner, a.logger, opts...)
}

func (a *app) newServer() (*api.Server, error) {
	sc := a.cfg.ServerConfig

	var jwtManager *auth.JWTManager
	if sc.JWTSecret != "" {
		m, err := auth.NewJWTManager(sc.JWTSecret, 24*time.Hour)
		if err != nil {
			return nil, err
		}
		jwtManager = m
	}

	var opts []api.Option
	if a.db != nil {
		opts = append(opts, api.WithHealthCheck("database", a.db))
	}
	if a.cache != nil {
		opts = append(opts, api.WithHealthCheck("redis", a.cache))
	}
	if a.vault != nil {
		opts = append(opts, api.WithHealthCheck("vault", a.vault))
	}

	return api.NewServer(sc, a.manager, a.bus, jwtManager, a.logger, opts...), nil
}

// Start launches the bots, the scheduler and the HTTP server
func (a *app) Start(ctx context.Context) error {
	a.manager.Start(ctx)

	if a.scheduler != nil {
		if err := a.scheduler.Start(); err != nil {
			return err
		}
	}

	if a.server != nil {
		go func() {
			if err := a.server.Start(); err != nil {
				a.logger.Error("HTTP server stopped", "error", err)
			}
		}()
	}
	return nil
}

// Shutdown stops the bots first so no cycle starts against closed services
func (a *app) Shutdown(timeout time.Duration) {
	a.manager.Stop()

	if a.scheduler != nil && a.scheduler.IsRunning() {
		a.scheduler.Stop()
	}

	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := a.server.Shutdown(ctx); err != nil {
			a.logger.Error("Error shutting down web server", "error", err)
		}
	}

	a.Close()
}

// Close releases the backing connections
func (a *app) Close() {
	if a.cache != nil {
		a.cache.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}
