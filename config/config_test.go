package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{Bots: []BotConfig{{Symbol: "SOLUSDT"}}}
	applyDefaults(cfg)

	tc := cfg.TradingConfig
	if tc.CloseConfidenceCeiling != 75 || tc.CloseConfidenceFloor != 60 {
		t.Errorf("Expected close confidence 75/60, got %v/%v", tc.CloseConfidenceCeiling, tc.CloseConfidenceFloor)
	}
	if tc.MinHold() != 300*time.Second {
		t.Errorf("Expected min hold 300s, got %v", tc.MinHold())
	}
	if tc.CloseConfidenceDecay() != 30*time.Minute {
		t.Errorf("Expected decay 30m, got %v", tc.CloseConfidenceDecay())
	}
	if tc.ProfitLockRatio != 0.01 {
		t.Errorf("Expected profit lock 0.01, got %v", tc.ProfitLockRatio)
	}
	if tc.AccountCacheTTL() != 30*time.Second {
		t.Errorf("Expected account cache TTL 30s, got %v", tc.AccountCacheTTL())
	}
	if cfg.Bots[0].Name != "SOL-BOT" {
		t.Errorf("Expected derived bot name SOL-BOT, got %s", cfg.Bots[0].Name)
	}
	if cfg.Bots[0].Source != SourceLLM {
		t.Errorf("Expected default source llm, got %s", cfg.Bots[0].Source)
	}
}

func TestApplyDefaultsKeepsExplicitValues(t *testing.T) {
	cfg := &Config{TradingConfig: TradingConfig{MaxPositionSize: 50, Leverage: 2}}
	applyDefaults(cfg)

	if cfg.TradingConfig.MaxPositionSize != 50 {
		t.Errorf("Expected max position size 50, got %v", cfg.TradingConfig.MaxPositionSize)
	}
	if cfg.TradingConfig.Leverage != 2 {
		t.Errorf("Expected leverage 2, got %d", cfg.TradingConfig.Leverage)
	}
}

func TestCircuitBreakerDefaults(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)

	cb := cfg.CircuitBreakerConfig
	if !cb.Enabled || cb.MaxConsecutiveLosses != 5 || cb.Cooldown() != 30*time.Minute {
		t.Errorf("Expected enabled breaker with 5 losses and 30m cooldown, got %+v", cb)
	}

	explicit := &Config{CircuitBreakerConfig: CircuitBreakerConfig{MaxDailyLoss: 2}}
	applyDefaults(explicit)
	if explicit.CircuitBreakerConfig.Enabled {
		t.Error("Expected an explicit section to keep enabled=false")
	}
	if explicit.CircuitBreakerConfig.MaxDailyLoss != 2 {
		t.Errorf("Expected max daily loss 2, got %v", explicit.CircuitBreakerConfig.MaxDailyLoss)
	}
}

func TestTradingSymbolsOverride(t *testing.T) {
	t.Setenv("TRADING_SYMBOLS", "btcusdt, ethusdt,")
	t.Setenv("DECISION_SOURCE", SourceMomentum)

	cfg := &Config{Bots: []BotConfig{{Name: "OLD", Symbol: "XRPUSDT"}}}
	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	if len(cfg.Bots) != 2 {
		t.Fatalf("Expected 2 bots, got %d", len(cfg.Bots))
	}
	if cfg.Bots[0].Symbol != "BTCUSDT" || cfg.Bots[0].Name != "BTC-BOT" {
		t.Errorf("Expected BTC-BOT/BTCUSDT, got %s/%s", cfg.Bots[0].Name, cfg.Bots[0].Symbol)
	}
	if cfg.Bots[1].Source != SourceMomentum {
		t.Errorf("Expected source momentum, got %s", cfg.Bots[1].Source)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{
			ExchangeConfig: ExchangeConfig{MockMode: true},
			Bots:           []BotConfig{{Name: "BTC-BOT", Symbol: "BTCUSDT", Source: SourceLLM}},
		}
		applyDefaults(cfg)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "no bots", mutate: func(c *Config) { c.Bots = nil }, wantErr: "no bots"},
		{name: "duplicate names", mutate: func(c *Config) { c.Bots = append(c.Bots, c.Bots[0]) }, wantErr: "duplicate"},
		{name: "unknown source", mutate: func(c *Config) { c.Bots[0].Source = "astrology" }, wantErr: "unknown source"},
		{name: "inverted thresholds", mutate: func(c *Config) { c.TradingConfig.CloseConfidenceFloor = 90 }, wantErr: "floor"},
		{name: "missing credentials", mutate: func(c *Config) { c.ExchangeConfig.MockMode = false }, wantErr: "credentials"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Expected no error, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestGenerateSampleConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := GenerateSampleConfig(path); err != nil {
		t.Fatalf("GenerateSampleConfig failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("Expected sample file to exist: %v", err)
	}

	cfg, err := loadFromFile(path)
	if err != nil {
		t.Fatalf("loadFromFile failed: %v", err)
	}
	if len(cfg.Bots) != 3 {
		t.Errorf("Expected 3 sample bots, got %d", len(cfg.Bots))
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected sample config to validate, got %v", err)
	}
}
