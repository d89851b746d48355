package decision

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"perp-trading-agent/internal/logging"
	"perp-trading-agent/internal/market"
	"perp-trading-agent/internal/portfolio"
)

// Provider is a language model vendor
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderDeepSeek  Provider = "deepseek"
	ProviderQwen      Provider = "qwen"
)

// DefaultBaseURLs per provider. DeepSeek and Qwen speak the OpenAI chat-completions shape.
var DefaultBaseURLs = map[Provider]string{
	ProviderOpenAI:    "https://api.openai.com/v1",
	ProviderAnthropic: "https://api.anthropic.com/v1",
	ProviderDeepSeek:  "https://api.deepseek.com",
	ProviderQwen:      "https://dashscope-intl.aliyuncs.com/compatible-mode/v1",
}

const anthropicVersion = "2023-06-01"

// LLMConfig holds one model binding
type LLMConfig struct {
	Provider    Provider
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	BaseURL     string // overrides DefaultBaseURLs
	Prompt      PromptOptions
}

// DefaultLLMConfig returns the stock sampling settings
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider:    ProviderOpenAI,
		Model:       "gpt-4o-mini",
		Temperature: 0.7,
		MaxTokens:   4000,
		Timeout:     60 * time.Second,
		Prompt: PromptOptions{
			MaxPositionSize:    1200,
			MinTradeConfidence: 60,
			CloseConfidence:    75,
		},
	}
}

// Message is a chat message
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// LLMSource asks a language model for the decision
type LLMSource struct {
	cfg    LLMConfig
	client *resty.Client
	logger *logging.Logger
}

// NewLLMSource validates the binding and builds the HTTP client
func NewLLMSource(cfg LLMConfig, logger *logging.Logger) (*LLMSource, error) {
	def := DefaultLLMConfig()
	cfg.Provider = Provider(strings.ToLower(string(cfg.Provider)))
	if cfg.Provider == "claude" {
		cfg.Provider = ProviderAnthropic
	}
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURLs[cfg.Provider]
	}
	if base == "" {
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("no API key configured for %s", cfg.Provider)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("no model configured for %s", cfg.Provider)
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Prompt == (PromptOptions{}) {
		cfg.Prompt = def.Prompt
	}
	if logger == nil {
		logger = logging.Nop()
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(base, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")

	if cfg.Provider == ProviderAnthropic {
		client.SetHeader("x-api-key", cfg.APIKey).SetHeader("anthropic-version", anthropicVersion)
	} else {
		client.SetAuthToken(cfg.APIKey)
	}

	return &LLMSource{
		cfg:    cfg,
		client: client,
		logger: logger.WithComponent("llm").WithField("provider", string(cfg.Provider)),
	}, nil
}

// Name identifies the source in logs and the decision log
func (s *LLMSource) Name() string {
	return fmt.Sprintf("llm:%s/%s", s.cfg.Provider, s.cfg.Model)
}

// Decide builds the prompt, calls the model and parses the reply. On any
// failure it returns a zero-confidence hold together with the error.
func (s *LLMSource) Decide(ctx context.Context, m *market.Snapshot, p *portfolio.Snapshot) (Decision, error) {
	if m == nil || p == nil {
		d := Hold("", "missing market or portfolio snapshot")
		d.Source = s.Name()
		return d, fmt.Errorf("%w: missing snapshot", ErrMalformedResponse)
	}

	prompt := BuildTradingPrompt(m, p, s.cfg.Prompt)

	start := time.Now()
	raw, err := s.Complete(ctx, SystemPromptTrader, prompt)
	if err != nil {
		s.logger.Error("Model call failed", "symbol", m.Symbol, "error", err)
		d := Hold(m.Symbol, fmt.Sprintf("Model error: %v", err))
		d.Source = s.Name()
		return d, err
	}
	s.logger.WithDuration(time.Since(start)).Debug("Model replied", "symbol", m.Symbol, "chars", len(raw))

	d, err := ParseOrHold(raw, m.Symbol)
	d.Source = s.Name()
	if err != nil {
		s.logger.Warn("Could not parse model reply, holding", "symbol", m.Symbol, "error", err)
		return d, err
	}
	return d, nil
}

// Complete sends one system + user exchange and returns the text reply
func (s *LLMSource) Complete(ctx context.Context, system, user string) (string, error) {
	if s.cfg.Provider == ProviderAnthropic {
		return s.completeMessages(ctx, system, user)
	}
	return s.completeChat(ctx, system, user)
}

func (s *LLMSource) completeChat(ctx context.Context, system, user string) (string, error) {
	req := chatRequest{
		Model:       s.cfg.Model,
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: s.cfg.Temperature,
		Messages: []Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}

	var out chatResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		SetError(&out).
		Post("/chat/completions")
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("API error: %s - %s", out.Error.Type, out.Error.Message)
	}
	if resp.IsError() {
		return "", fmt.Errorf("API error: status %d", resp.StatusCode())
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("empty response from %s", s.cfg.Provider)
	}
	return out.Choices[0].Message.Content, nil
}

func (s *LLMSource) completeMessages(ctx context.Context, system, user string) (string, error) {
	req := messagesRequest{
		Model:       s.cfg.Model,
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: s.cfg.Temperature,
		System:      system,
		Messages:    []Message{{Role: "user", Content: user}},
	}

	var out messagesResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		SetError(&out).
		Post("/messages")
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("API error: %s - %s", out.Error.Type, out.Error.Message)
	}
	if resp.IsError() {
		return "", fmt.Errorf("API error: status %d", resp.StatusCode())
	}
	for _, block := range out.Content {
		if block.Type == "" || block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("empty response from %s", s.cfg.Provider)
}
