package decision

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"perp-trading-agent/internal/analysis"
	"perp-trading-agent/internal/market"
	"perp-trading-agent/internal/portfolio"
)

const validReply = `{"action":"long","symbol":"BTCUSDT","stop_loss":96,"take_profit":108,"reasoning":"trend","confidence":77}`

func testSnapshots() (*market.Snapshot, *portfolio.Snapshot) {
	m := &market.Snapshot{
		Symbol:         "BTCUSDT",
		Price:          100,
		PriceChange24h: 1.5,
		Analysis:       &analysis.Result{CurrentPrice: 100, RSI: 55, ATR: 2, ATRPercent: 2, TradeQualityScore: 70},
	}
	p := &portfolio.Snapshot{Balance: portfolio.Balance{Total: 1000, Available: 1000}, AvailableMargin: 1000}
	return m, p
}

func newTestSource(t *testing.T, provider Provider, url string) *LLMSource {
	t.Helper()
	cfg := DefaultLLMConfig()
	cfg.Provider = provider
	cfg.APIKey = "sk-test"
	cfg.Model = "test-model"
	cfg.BaseURL = url
	cfg.Timeout = 5 * time.Second
	src, err := NewLLMSource(cfg, nil)
	if err != nil {
		t.Fatalf("NewLLMSource failed: %v", err)
	}
	return src
}

// ===== TEST CASES: CHAT COMPLETIONS =====

func TestChatCompletionsProvider(t *testing.T) {
	for _, provider := range []Provider{ProviderOpenAI, ProviderDeepSeek, ProviderQwen} {
		t.Run(string(provider), func(t *testing.T) {
			var got chatRequest
			var auth string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/chat/completions" {
					t.Errorf("Expected /chat/completions, got %s", r.URL.Path)
				}
				auth = r.Header.Get("Authorization")
				if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
					t.Errorf("Failed to decode request: %v", err)
				}
				w.Header().Set("Content-Type", "application/json")
				json.NewEncoder(w).Encode(map[string]interface{}{
					"choices": []map[string]interface{}{
						{"message": map[string]string{"role": "assistant", "content": "```json\n" + validReply + "\n```"}},
					},
				})
			}))
			defer srv.Close()

			src := newTestSource(t, provider, srv.URL)
			m, p := testSnapshots()
			d, err := src.Decide(context.Background(), m, p)
			if err != nil {
				t.Fatalf("Decide failed: %v", err)
			}
			if auth != "Bearer sk-test" {
				t.Errorf("Expected bearer auth, got %q", auth)
			}
			if got.Model != "test-model" || got.Temperature != 0.7 || got.MaxTokens != 4000 {
				t.Errorf("Unexpected request settings: %+v", got)
			}
			if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Role != "user" {
				t.Fatalf("Expected system and user messages, got %+v", got.Messages)
			}
			if !strings.Contains(got.Messages[1].Content, "BTCUSDT") {
				t.Error("Expected prompt to mention the symbol")
			}
			if d.Action != ActionLong || d.Confidence != 77 {
				t.Errorf("Expected long/77, got %s/%v", d.Action, d.Confidence)
			}
			if !strings.HasPrefix(d.Source, "llm:"+string(provider)) {
				t.Errorf("Expected source tagged with provider, got %s", d.Source)
			}
		})
	}
}

// ===== TEST CASES: MESSAGES API =====

func TestAnthropicProvider(t *testing.T) {
	var got messagesRequest
	var key, version string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			t.Errorf("Expected /messages, got %s", r.URL.Path)
		}
		key = r.Header.Get("x-api-key")
		version = r.Header.Get("anthropic-version")
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"content": []map[string]string{{"type": "text", "text": validReply}},
		})
	}))
	defer srv.Close()

	src := newTestSource(t, "claude", srv.URL)
	m, p := testSnapshots()
	d, err := src.Decide(context.Background(), m, p)
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if key != "sk-test" || version != anthropicVersion {
		t.Errorf("Expected api key and version headers, got %q %q", key, version)
	}
	if got.System != SystemPromptTrader {
		t.Error("Expected system prompt in the system field")
	}
	if len(got.Messages) != 1 || got.Messages[0].Role != "user" {
		t.Errorf("Expected a single user message, got %+v", got.Messages)
	}
	if d.Action != ActionLong {
		t.Errorf("Expected long, got %s", d.Action)
	}
}

// ===== TEST CASES: FAILURES =====

func TestProviderErrorHolds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limited","type":"rate_limit_error"}}`))
	}))
	defer srv.Close()

	src := newTestSource(t, ProviderOpenAI, srv.URL)
	m, p := testSnapshots()
	d, err := src.Decide(context.Background(), m, p)
	if err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Errorf("Expected provider error, got %v", err)
	}
	if d.Action != ActionHold || d.Confidence != 0 {
		t.Errorf("Expected hold/0, got %s/%v", d.Action, d.Confidence)
	}
}

func TestMalformedReplyHolds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"buy buy buy"}}]}`))
	}))
	defer srv.Close()

	src := newTestSource(t, ProviderDeepSeek, srv.URL)
	m, p := testSnapshots()
	d, err := src.Decide(context.Background(), m, p)
	if !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("Expected ErrMalformedResponse, got %v", err)
	}
	if d.Action != ActionHold || d.Confidence != 0 {
		t.Errorf("Expected hold/0, got %s/%v", d.Action, d.Confidence)
	}
}

func TestEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	src := newTestSource(t, ProviderQwen, srv.URL)
	if _, err := src.Complete(context.Background(), "s", "u"); err == nil {
		t.Error("Expected error for empty choices")
	}
}

func TestNewLLMSourceValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  LLMConfig
	}{
		{"unknown provider", LLMConfig{Provider: "bard", APIKey: "k", Model: "m"}},
		{"missing key", LLMConfig{Provider: ProviderOpenAI, Model: "m"}},
		{"missing model", LLMConfig{Provider: ProviderOpenAI, APIKey: "k"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewLLMSource(tt.cfg, nil); err == nil {
				t.Error("Expected configuration error")
			}
		})
	}
}
