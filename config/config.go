package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Decision source kinds a bot can be configured with.
const (
	SourceLLM      = "llm"
	SourceMomentum = "momentum"
	SourceLunar    = "lunar"
)

type Config struct {
	ExchangeConfig  ExchangeConfig  `json:"exchange"`
	LLMConfig       LLMConfig       `json:"llm"`
	TradingConfig   TradingConfig   `json:"trading"`
	Bots            []BotConfig     `json:"bots"`
	LoggingConfig   LoggingConfig   `json:"logging"`
	DatabaseConfig  DatabaseConfig  `json:"database"`
	RedisConfig     RedisConfig     `json:"redis"`
	VaultConfig     VaultConfig     `json:"vault"`
	ServerConfig    ServerConfig    `json:"server"`
	SchedulerConfig SchedulerConfig `json:"scheduler"`

	NotificationConfig   NotificationConfig   `json:"notifications"`
	CircuitBreakerConfig CircuitBreakerConfig `json:"circuit_breaker"`
}

// ExchangeConfig holds the Binance-compatible futures endpoint settings
type ExchangeConfig struct {
	BaseURL        string  `json:"base_url"`
	APIKey         string  `json:"api_key"`
	SecretKey      string  `json:"secret_key"`
	TestNet        bool    `json:"testnet"`
	MockMode       bool    `json:"mock_mode"` // Simulate orders locally, market data stays live
	RecvWindowMs   int     `json:"recv_window_ms"`
	TimeoutSeconds int     `json:"timeout_seconds"`
	RequestsPerSec float64 `json:"requests_per_sec"`
	MockBalance    float64 `json:"mock_balance"`
}

// LLMConfig holds language model provider settings
type LLMConfig struct {
	Provider        string  `json:"provider"` // openai, anthropic, deepseek, qwen
	OpenAIAPIKey    string  `json:"openai_api_key"`
	AnthropicAPIKey string  `json:"anthropic_api_key"`
	DeepSeekAPIKey  string  `json:"deepseek_api_key"`
	QwenAPIKey      string  `json:"qwen_api_key"`
	Model           string  `json:"model"`
	Temperature     float64 `json:"temperature"`
	MaxTokens       int     `json:"max_tokens"`
	TimeoutSeconds  int     `json:"timeout_seconds"`
}

// TradingConfig holds sizing, gating and loop settings shared by every bot
type TradingConfig struct {
	MaxPositionSize             float64 `json:"max_position_size"` // USD notional
	BalanceFraction             float64 `json:"balance_fraction"`
	Leverage                    int     `json:"leverage"`
	IntervalSeconds             int     `json:"interval_seconds"`
	MinTradeConfidence          float64 `json:"min_trade_confidence"`
	CloseConfidenceCeiling      float64 `json:"close_confidence_ceiling"`
	CloseConfidenceFloor        float64 `json:"close_confidence_floor"`
	CloseConfidenceDecayMinutes int     `json:"close_confidence_decay_minutes"`
	MinHoldSeconds              int     `json:"min_hold_seconds"`
	ProfitLockRatio             float64 `json:"profit_lock_ratio"`
	MaxPortfolioHeat            float64 `json:"max_portfolio_heat"`
	TrailingStopActivation      float64 `json:"trailing_stop_activation"`
	StaggerSeconds              int     `json:"stagger_seconds"`
	AccountCacheTTLSeconds      int     `json:"account_cache_ttl_seconds"`
}

// BotConfig describes one trading bot instance (one symbol each)
type BotConfig struct {
	Name                string `json:"name"`
	Symbol              string `json:"symbol"`
	Source              string `json:"source"`       // llm, momentum, lunar
	LLMProvider         string `json:"llm_provider"` // overrides LLMConfig.Provider
	LLMModel            string `json:"llm_model"`    // overrides LLMConfig.Model
	CalibrateConfidence bool   `json:"calibrate_confidence"`
}

type LoggingConfig struct {
	Level       string `json:"level"`        // DEBUG, INFO, WARN, ERROR
	Output      string `json:"output"`       // stdout, stderr, or file path
	JSONFormat  bool   `json:"json_format"`  // Output as JSON
	IncludeFile bool   `json:"include_file"` // Include file and line number
}

// DatabaseConfig holds PostgreSQL settings for trade and decision logs
type DatabaseConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
	MaxConns int    `json:"max_conns"`
}

// RedisConfig holds Redis configuration for the shared account snapshot
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// VaultConfig holds HashiCorp Vault configuration
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`  // KV secrets engine mount path
	SecretPath string `json:"secret_path"` // Path prefix for credentials
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

// ServerConfig holds HTTP status server configuration
type ServerConfig struct {
	Enabled         bool   `json:"enabled"`
	Port            int    `json:"port"`
	Host            string `json:"host"`
	AllowedOrigins  string `json:"allowed_origins"` // Comma separated CORS origins
	JWTSecret       string `json:"jwt_secret"`
	ProductionMode  bool   `json:"production_mode"`
	ShutdownTimeout int    `json:"shutdown_timeout"` // Seconds
}

// SchedulerConfig holds cron expressions for maintenance jobs
type SchedulerConfig struct {
	Enabled            bool   `json:"enabled"`
	StatsSnapshotSpec  string `json:"stats_snapshot_spec"`
	DecisionPruneSpec  string `json:"decision_prune_spec"`
	DecisionRetainDays int    `json:"decision_retain_days"`
}

// NotificationConfig holds notification settings
type NotificationConfig struct {
	Enabled  bool           `json:"enabled"`
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
}

// TelegramConfig holds Telegram notification settings
type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
}

// DiscordConfig holds Discord notification settings
type DiscordConfig struct {
	Enabled    bool   `json:"enabled"`
	WebhookURL string `json:"webhook_url"`
}

// CircuitBreakerConfig holds the per-bot loss breaker limits. Loss limits are
// sums of losing trade percentages.
type CircuitBreakerConfig struct {
	Enabled              bool    `json:"enabled"`
	MaxConsecutiveLosses int     `json:"max_consecutive_losses"`
	MaxLossPerHour       float64 `json:"max_loss_per_hour"`
	MaxDailyLoss         float64 `json:"max_daily_loss"`
	MaxDailyTrades       int     `json:"max_daily_trades"`
	CooldownMinutes      int     `json:"cooldown_minutes"`
}

// Cooldown returns how long a tripped breaker refuses entries
func (c CircuitBreakerConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownMinutes) * time.Minute
}

// Interval returns the sleep between trading cycles
func (t TradingConfig) Interval() time.Duration {
	return time.Duration(t.IntervalSeconds) * time.Second
}

// MinHold returns the minimum holding duration before a close is allowed
func (t TradingConfig) MinHold() time.Duration {
	return time.Duration(t.MinHoldSeconds) * time.Second
}

// CloseConfidenceDecay returns the window over which the close threshold decays
func (t TradingConfig) CloseConfidenceDecay() time.Duration {
	return time.Duration(t.CloseConfidenceDecayMinutes) * time.Minute
}

// Stagger returns the start delay applied per bot index
func (t TradingConfig) Stagger() time.Duration {
	return time.Duration(t.StaggerSeconds) * time.Second
}

// AccountCacheTTL returns the shared account cache freshness window
func (t TradingConfig) AccountCacheTTL() time.Duration {
	return time.Duration(t.AccountCacheTTLSeconds) * time.Second
}

// Load reads .env, config file and environment overrides, in that order of precedence (lowest first)
func Load() (*Config, error) {
	// A missing .env is normal outside development
	_ = godotenv.Load()

	// First try to load base config from file
	cfg, err := loadFromFile(getEnvOrDefault("CONFIG_FILE", "config.json"))
	if err != nil {
		// If no config file, start with defaults
		cfg = &Config{}
	}

	applyDefaults(cfg)

	// Apply environment variable overrides (these take precedence)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyDefaults fills zero values with the agent's stock settings
func applyDefaults(cfg *Config) {
	ex := &cfg.ExchangeConfig
	if ex.BaseURL == "" {
		ex.BaseURL = "https://fapi.asterdex.com"
	}
	if ex.RecvWindowMs == 0 {
		ex.RecvWindowMs = 10000
	}
	if ex.TimeoutSeconds == 0 {
		ex.TimeoutSeconds = 15
	}
	if ex.RequestsPerSec == 0 {
		ex.RequestsPerSec = 10
	}
	if ex.MockBalance == 0 {
		ex.MockBalance = 1000
	}

	llm := &cfg.LLMConfig
	if llm.Provider == "" {
		llm.Provider = "openai"
	}
	if llm.Model == "" {
		llm.Model = "gpt-4o-mini"
	}
	if llm.Temperature == 0 {
		llm.Temperature = 0.7
	}
	if llm.MaxTokens == 0 {
		llm.MaxTokens = 4000
	}
	if llm.TimeoutSeconds == 0 {
		llm.TimeoutSeconds = 60
	}

	tc := &cfg.TradingConfig
	if tc.MaxPositionSize == 0 {
		tc.MaxPositionSize = 1200
	}
	if tc.BalanceFraction == 0 {
		tc.BalanceFraction = 0.6
	}
	if tc.Leverage == 0 {
		tc.Leverage = 5
	}
	if tc.IntervalSeconds == 0 {
		tc.IntervalSeconds = 300
	}
	if tc.MinTradeConfidence == 0 {
		tc.MinTradeConfidence = 60
	}
	if tc.CloseConfidenceCeiling == 0 {
		tc.CloseConfidenceCeiling = 75
	}
	if tc.CloseConfidenceFloor == 0 {
		tc.CloseConfidenceFloor = 60
	}
	if tc.CloseConfidenceDecayMinutes == 0 {
		tc.CloseConfidenceDecayMinutes = 30
	}
	if tc.MinHoldSeconds == 0 {
		tc.MinHoldSeconds = 300
	}
	if tc.ProfitLockRatio == 0 {
		tc.ProfitLockRatio = 0.01
	}
	if tc.MaxPortfolioHeat == 0 {
		tc.MaxPortfolioHeat = 0.15
	}
	if tc.TrailingStopActivation == 0 {
		tc.TrailingStopActivation = 0.015
	}
	if tc.StaggerSeconds == 0 {
		tc.StaggerSeconds = 60
	}
	if tc.AccountCacheTTLSeconds == 0 {
		tc.AccountCacheTTLSeconds = 30
	}

	for i := range cfg.Bots {
		if cfg.Bots[i].Source == "" {
			cfg.Bots[i].Source = SourceLLM
		}
		if cfg.Bots[i].Name == "" {
			cfg.Bots[i].Name = strings.TrimSuffix(cfg.Bots[i].Symbol, "USDT") + "-BOT"
		}
	}

	// An absent section means the breaker runs with stock limits
	if cfg.CircuitBreakerConfig == (CircuitBreakerConfig{}) {
		cfg.CircuitBreakerConfig = CircuitBreakerConfig{
			Enabled:              true,
			MaxConsecutiveLosses: 5,
			MaxLossPerHour:       3,
			MaxDailyLoss:         5,
			MaxDailyTrades:       100,
			CooldownMinutes:      30,
		}
	}

	db := &cfg.DatabaseConfig
	if db.Port == 0 {
		db.Port = 5432
	}
	if db.SSLMode == "" {
		db.SSLMode = "disable"
	}
	if db.MaxConns == 0 {
		db.MaxConns = 10
	}

	if cfg.RedisConfig.PoolSize == 0 {
		cfg.RedisConfig.PoolSize = 10
	}
	if cfg.VaultConfig.MountPath == "" {
		cfg.VaultConfig.MountPath = "secret"
	}
	if cfg.VaultConfig.SecretPath == "" {
		cfg.VaultConfig.SecretPath = "perp-agent"
	}

	if cfg.ServerConfig.Port == 0 {
		cfg.ServerConfig.Port = 8000
	}
	if cfg.ServerConfig.ShutdownTimeout == 0 {
		cfg.ServerConfig.ShutdownTimeout = 10
	}

	sc := &cfg.SchedulerConfig
	if sc.StatsSnapshotSpec == "" {
		sc.StatsSnapshotSpec = "0 0 * * * *"
	}
	if sc.DecisionPruneSpec == "" {
		sc.DecisionPruneSpec = "0 30 3 * * *"
	}
	if sc.DecisionRetainDays == 0 {
		sc.DecisionRetainDays = 30
	}

	if cfg.LoggingConfig.Level == "" {
		cfg.LoggingConfig.Level = "INFO"
	}
	if cfg.LoggingConfig.Output == "" {
		cfg.LoggingConfig.Output = "stdout"
	}
}

// applyEnvOverrides applies environment variable overrides to the config
func applyEnvOverrides(cfg *Config) {
	// Exchange
	ex := &cfg.ExchangeConfig
	ex.BaseURL = getEnvOrDefault("EXCHANGE_BASE_URL", ex.BaseURL)
	ex.APIKey = getEnvOrDefault("EXCHANGE_API_KEY", ex.APIKey)
	ex.SecretKey = getEnvOrDefault("EXCHANGE_SECRET_KEY", ex.SecretKey)
	ex.TestNet = getEnvBoolOrDefault("EXCHANGE_TESTNET", ex.TestNet)
	ex.MockMode = getEnvBoolOrDefault("MOCK_MODE", ex.MockMode)
	ex.TimeoutSeconds = getEnvIntOrDefault("EXCHANGE_TIMEOUT_SECONDS", ex.TimeoutSeconds)
	ex.MockBalance = getEnvFloatOrDefault("MOCK_BALANCE", ex.MockBalance)

	// LLM
	llm := &cfg.LLMConfig
	llm.Provider = getEnvOrDefault("LLM_PROVIDER", llm.Provider)
	llm.Model = getEnvOrDefault("LLM_MODEL", llm.Model)
	llm.OpenAIAPIKey = getEnvOrDefault("OPENAI_API_KEY", llm.OpenAIAPIKey)
	llm.AnthropicAPIKey = getEnvOrDefault("ANTHROPIC_API_KEY", llm.AnthropicAPIKey)
	llm.DeepSeekAPIKey = getEnvOrDefault("DEEPSEEK_API_KEY", llm.DeepSeekAPIKey)
	llm.QwenAPIKey = getEnvOrDefault("QWEN_API_KEY", llm.QwenAPIKey)
	llm.Temperature = getEnvFloatOrDefault("LLM_TEMPERATURE", llm.Temperature)
	llm.MaxTokens = getEnvIntOrDefault("LLM_MAX_TOKENS", llm.MaxTokens)

	// Trading
	tc := &cfg.TradingConfig
	tc.MaxPositionSize = getEnvFloatOrDefault("MAX_POSITION_SIZE", tc.MaxPositionSize)
	tc.Leverage = getEnvIntOrDefault("LEVERAGE", tc.Leverage)
	tc.IntervalSeconds = getEnvIntOrDefault("TRADING_INTERVAL_SECONDS", tc.IntervalSeconds)
	tc.MinHoldSeconds = getEnvIntOrDefault("MIN_HOLD_SECONDS", tc.MinHoldSeconds)
	tc.ProfitLockRatio = getEnvFloatOrDefault("PNL_LOCK_PERCENT", tc.ProfitLockRatio)
	tc.MaxPortfolioHeat = getEnvFloatOrDefault("MAX_PORTFOLIO_HEAT", tc.MaxPortfolioHeat)
	tc.StaggerSeconds = getEnvIntOrDefault("BOT_STAGGER_SECONDS", tc.StaggerSeconds)

	// TRADING_SYMBOLS=BTCUSDT,ETHUSDT replaces the bot list with one LLM bot per symbol
	if symbols := os.Getenv("TRADING_SYMBOLS"); symbols != "" {
		cfg.Bots = nil
		for _, s := range strings.Split(symbols, ",") {
			s = strings.ToUpper(strings.TrimSpace(s))
			if s == "" {
				continue
			}
			cfg.Bots = append(cfg.Bots, BotConfig{
				Name:   strings.TrimSuffix(s, "USDT") + "-BOT",
				Symbol: s,
				Source: getEnvOrDefault("DECISION_SOURCE", SourceLLM),
			})
		}
	}

	// Circuit breaker
	cb := &cfg.CircuitBreakerConfig
	cb.Enabled = getEnvBoolOrDefault("CIRCUIT_BREAKER_ENABLED", cb.Enabled)
	cb.MaxConsecutiveLosses = getEnvIntOrDefault("CB_MAX_CONSECUTIVE_LOSSES", cb.MaxConsecutiveLosses)
	cb.MaxDailyLoss = getEnvFloatOrDefault("CB_MAX_DAILY_LOSS", cb.MaxDailyLoss)
	cb.CooldownMinutes = getEnvIntOrDefault("CB_COOLDOWN_MINUTES", cb.CooldownMinutes)

	// Logging
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level)
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", cfg.LoggingConfig.Output)
	cfg.LoggingConfig.JSONFormat = getEnvBoolOrDefault("LOG_JSON", cfg.LoggingConfig.JSONFormat)
	cfg.LoggingConfig.IncludeFile = getEnvBoolOrDefault("LOG_INCLUDE_FILE", cfg.LoggingConfig.IncludeFile)

	// Database
	db := &cfg.DatabaseConfig
	db.Enabled = getEnvBoolOrDefault("DB_ENABLED", db.Enabled)
	db.Host = getEnvOrDefault("DB_HOST", db.Host)
	db.Port = getEnvIntOrDefault("DB_PORT", db.Port)
	db.User = getEnvOrDefault("DB_USER", db.User)
	db.Password = getEnvOrDefault("DB_PASSWORD", db.Password)
	db.Database = getEnvOrDefault("DB_NAME", db.Database)
	db.SSLMode = getEnvOrDefault("DB_SSLMODE", db.SSLMode)

	// Redis
	cfg.RedisConfig.Enabled = getEnvBoolOrDefault("REDIS_ENABLED", cfg.RedisConfig.Enabled)
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.RedisConfig.Address)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)

	// Vault
	cfg.VaultConfig.Enabled = getEnvBoolOrDefault("VAULT_ENABLED", cfg.VaultConfig.Enabled)
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", cfg.VaultConfig.Address)
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)

	// Server
	cfg.ServerConfig.Enabled = getEnvBoolOrDefault("API_ENABLED", cfg.ServerConfig.Enabled)
	cfg.ServerConfig.Port = getEnvIntOrDefault("API_PORT", cfg.ServerConfig.Port)
	cfg.ServerConfig.JWTSecret = getEnvOrDefault("JWT_SECRET", cfg.ServerConfig.JWTSecret)
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("CORS_ALLOWED_ORIGINS", cfg.ServerConfig.AllowedOrigins)

	cfg.SchedulerConfig.Enabled = getEnvBoolOrDefault("SCHEDULER_ENABLED", cfg.SchedulerConfig.Enabled)

	// Notifications
	nc := &cfg.NotificationConfig
	nc.Enabled = getEnvBoolOrDefault("NOTIFICATIONS_ENABLED", nc.Enabled)
	nc.Telegram.BotToken = getEnvOrDefault("TELEGRAM_BOT_TOKEN", nc.Telegram.BotToken)
	nc.Telegram.ChatID = getEnvOrDefault("TELEGRAM_CHAT_ID", nc.Telegram.ChatID)
	nc.Telegram.Enabled = getEnvBoolOrDefault("TELEGRAM_ENABLED", nc.Telegram.Enabled || nc.Telegram.BotToken != "")
	nc.Discord.WebhookURL = getEnvOrDefault("DISCORD_WEBHOOK_URL", nc.Discord.WebhookURL)
	nc.Discord.Enabled = getEnvBoolOrDefault("DISCORD_ENABLED", nc.Discord.Enabled || nc.Discord.WebhookURL != "")
}

// Validate reports every setting that would make the agent unsafe to start
func (c *Config) Validate() error {
	var problems []string

	if len(c.Bots) == 0 {
		problems = append(problems, "no bots configured")
	}
	seen := make(map[string]bool)
	for _, b := range c.Bots {
		if b.Symbol == "" {
			problems = append(problems, fmt.Sprintf("bot %q has no symbol", b.Name))
		}
		if seen[b.Name] {
			problems = append(problems, fmt.Sprintf("duplicate bot name %q", b.Name))
		}
		seen[b.Name] = true
		switch b.Source {
		case SourceLLM, SourceMomentum, SourceLunar:
		default:
			problems = append(problems, fmt.Sprintf("bot %q has unknown source %q", b.Name, b.Source))
		}
	}

	tc := c.TradingConfig
	if tc.MaxPositionSize <= 0 {
		problems = append(problems, "max_position_size must be positive")
	}
	if tc.CloseConfidenceFloor > tc.CloseConfidenceCeiling {
		problems = append(problems, "close_confidence_floor exceeds close_confidence_ceiling")
	}
	if tc.BalanceFraction <= 0 || tc.BalanceFraction > 1 {
		problems = append(problems, "balance_fraction must be in (0, 1]")
	}
	if tc.Leverage < 1 {
		problems = append(problems, "leverage must be at least 1")
	}

	if !c.ExchangeConfig.MockMode && !c.VaultConfig.Enabled &&
		(c.ExchangeConfig.APIKey == "" || c.ExchangeConfig.SecretKey == "") {
		problems = append(problems, "exchange credentials missing (set EXCHANGE_API_KEY/EXCHANGE_SECRET_KEY, enable vault, or MOCK_MODE)")
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.New("invalid configuration: " + strings.Join(problems, "; "))
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// LLMTimeout returns the per-request deadline for language model calls
func (l LLMConfig) LLMTimeout() time.Duration {
	return getEnvDurationOrDefault("LLM_TIMEOUT", time.Duration(l.TimeoutSeconds)*time.Second)
}

// APIKeyFor returns the configured key for a provider name
func (l LLMConfig) APIKeyFor(provider string) string {
	switch provider {
	case "openai":
		return l.OpenAIAPIKey
	case "anthropic", "claude":
		return l.AnthropicAPIKey
	case "deepseek":
		return l.DeepSeekAPIKey
	case "qwen":
		return l.QwenAPIKey
	}
	return ""
}

// GenerateSampleConfig creates a sample configuration file
func GenerateSampleConfig(filename string) error {
	config := Config{
		ExchangeConfig: ExchangeConfig{
			BaseURL:   "https://fapi.asterdex.com",
			APIKey:    "your_api_key_here",
			SecretKey: "your_secret_key_here",
			MockMode:  true,
		},
		LLMConfig: LLMConfig{
			Provider:     "openai",
			OpenAIAPIKey: "your_openai_key_here",
			Model:        "gpt-4o-mini",
		},
		Bots: []BotConfig{
			{Name: "BTC-BOT", Symbol: "BTCUSDT", Source: SourceLLM},
			{Name: "ETH-BOT", Symbol: "ETHUSDT", Source: SourceLLM, CalibrateConfidence: true},
			{Name: "ASTER-BOT", Symbol: "ASTERUSDT", Source: SourceMomentum},
		},
		LoggingConfig: LoggingConfig{
			Level:      "INFO",
			Output:     "stdout",
			JSONFormat: true,
		},
		ServerConfig: ServerConfig{
			Enabled:        true,
			Port:           8000,
			AllowedOrigins: "http://localhost:3000",
		},
	}
	applyDefaults(&config)

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}
