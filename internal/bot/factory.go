package bot

import (
	"fmt"
	"strings"

	"perp-trading-agent/config"
	"perp-trading-agent/internal/circuit"
	"perp-trading-agent/internal/decision"
	"perp-trading-agent/internal/gate"
	"perp-trading-agent/internal/logging"
	"perp-trading-agent/internal/risk"
	"perp-trading-agent/internal/sizing"
)

// NewSource builds the decision source a bot is configured with, wrapped in
// confidence calibration when the bot asks for it
func NewSource(llm config.LLMConfig, trading config.TradingConfig, b config.BotConfig, logger *logging.Logger) (decision.Source, error) {
	var src decision.Source

	switch b.Source {
	case config.SourceMomentum:
		src = decision.NewMomentumSource(decision.DefaultMomentumConfig())
	case config.SourceLunar:
		src = decision.NewLunarSource()
	case config.SourceLLM, "":
		cfg := LLMSourceConfig(llm, trading, b)
		s, err := decision.NewLLMSource(cfg, logging.BotLogger(logger, b.Name, b.Symbol))
		if err != nil {
			return nil, fmt.Errorf("bot %s: %w", b.Name, err)
		}
		src = s
	default:
		return nil, fmt.Errorf("bot %s: unknown decision source %q", b.Name, b.Source)
	}

	if b.CalibrateConfidence {
		return decision.Calibrated(src), nil
	}
	return src, nil
}

// LLMSourceConfig resolves the provider binding for one bot, applying the
// bot's provider and model overrides
func LLMSourceConfig(llm config.LLMConfig, trading config.TradingConfig, b config.BotConfig) decision.LLMConfig {
	provider := strings.ToLower(llm.Provider)
	if b.LLMProvider != "" {
		provider = strings.ToLower(b.LLMProvider)
	}
	model := llm.Model
	if b.LLMModel != "" {
		model = b.LLMModel
	}

	cfg := decision.DefaultLLMConfig()
	cfg.Provider = decision.Provider(provider)
	cfg.APIKey = ProviderKey(llm, provider)
	cfg.Model = model
	if llm.Temperature > 0 {
		cfg.Temperature = llm.Temperature
	}
	if llm.MaxTokens > 0 {
		cfg.MaxTokens = llm.MaxTokens
	}
	if timeout := llm.LLMTimeout(); timeout > 0 {
		cfg.Timeout = timeout
	}
	cfg.Prompt.MaxPositionSize = trading.MaxPositionSize
	cfg.Prompt.MinTradeConfidence = trading.MinTradeConfidence
	cfg.Prompt.CloseConfidence = trading.CloseConfidenceCeiling
	return cfg
}

// ProviderKey picks the API key configured for provider
func ProviderKey(llm config.LLMConfig, provider string) string {
	switch strings.ToLower(provider) {
	case string(decision.ProviderAnthropic), "claude":
		return llm.AnthropicAPIKey
	case string(decision.ProviderDeepSeek):
		return llm.DeepSeekAPIKey
	case string(decision.ProviderQwen):
		return llm.QwenAPIKey
	default:
		return llm.OpenAIAPIKey
	}
}

// GateConfig maps trading settings onto gate thresholds
func GateConfig(tc config.TradingConfig) gate.Config {
	cfg := gate.DefaultConfig()
	if tc.MinTradeConfidence > 0 {
		cfg.MinTradeConfidence = tc.MinTradeConfidence
	}
	if tc.CloseConfidenceCeiling > 0 {
		cfg.CloseConfidenceCeiling = tc.CloseConfidenceCeiling
	}
	if tc.CloseConfidenceFloor > 0 {
		cfg.CloseConfidenceFloor = tc.CloseConfidenceFloor
	}
	if d := tc.CloseConfidenceDecay(); d > 0 {
		cfg.DecayWindow = d
	}
	if d := tc.MinHold(); d > 0 {
		cfg.MinHold = d
	}
	if tc.ProfitLockRatio > 0 {
		cfg.ProfitLockRatio = tc.ProfitLockRatio
	}
	return cfg
}

// SizingConfig maps trading settings onto sizer limits
func SizingConfig(tc config.TradingConfig) sizing.Config {
	cfg := sizing.DefaultConfig()
	if tc.MaxPositionSize > 0 {
		cfg.MaxPositionSize = tc.MaxPositionSize
	}
	if tc.BalanceFraction > 0 {
		cfg.BalanceFraction = tc.BalanceFraction
	}
	if tc.MinTradeConfidence > 0 {
		cfg.MinConfidence = tc.MinTradeConfidence
	}
	return cfg
}

// RiskConfig maps trading settings onto portfolio limits
func RiskConfig(tc config.TradingConfig) risk.Config {
	cfg := risk.DefaultConfig()
	if tc.MaxPortfolioHeat > 0 {
		cfg.MaxPortfolioHeat = tc.MaxPortfolioHeat
	}
	return cfg
}

// TrailingConfig maps trading settings onto the trailing stop advisory
func TrailingConfig(tc config.TradingConfig) risk.TrailingConfig {
	cfg := risk.DefaultTrailingConfig()
	if tc.TrailingStopActivation > 0 {
		cfg.ActivationPercent = tc.TrailingStopActivation
	}
	return cfg
}

// CircuitConfig maps breaker settings onto circuit limits
func CircuitConfig(cb config.CircuitBreakerConfig) circuit.Config {
	cfg := circuit.DefaultConfig()
	cfg.Enabled = cb.Enabled
	if cb.MaxConsecutiveLosses > 0 {
		cfg.MaxConsecutiveLosses = cb.MaxConsecutiveLosses
	}
	if cb.MaxLossPerHour > 0 {
		cfg.MaxLossPerHour = cb.MaxLossPerHour
	}
	if cb.MaxDailyLoss > 0 {
		cfg.MaxDailyLoss = cb.MaxDailyLoss
	}
	if cb.MaxDailyTrades > 0 {
		cfg.MaxDailyTrades = cb.MaxDailyTrades
	}
	if d := cb.Cooldown(); d > 0 {
		cfg.Cooldown = d
	}
	return cfg
}
