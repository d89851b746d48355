// Package notification forwards trade and error events to chat webhooks.
package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"perp-trading-agent/internal/events"
	"perp-trading-agent/internal/logging"
)

// NotificationType groups notifications by what triggered them
type NotificationType string

const (
	NotifyTradeOpen  NotificationType = "trade_open"
	NotifyTradeClose NotificationType = "trade_close"
	NotifyRepair     NotificationType = "protection_repair"
	NotifyError      NotificationType = "error"
	NotifyBreaker    NotificationType = "circuit_breaker"
)

// Notification is one message handed to every notifier
type Notification struct {
	Type       NotificationType
	Bot        string
	Title      string
	Message    string
	Symbol     string
	Price      float64
	PnL        float64
	PnLPercent float64
	Timestamp  time.Time
}

// Notifier delivers a notification over one channel
type Notifier interface {
	Send(ctx context.Context, n *Notification) error
	Name() string
	IsEnabled() bool
}

// Manager turns bus events into notifications and fans them out
type Manager struct {
	notifiers []Notifier
	timeout   time.Duration
	logger    *logging.Logger
}

// NewManager returns a manager without notifiers
func NewManager(logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Default()
	}
	return &Manager{
		timeout: 10 * time.Second,
		logger:  logger.WithComponent("notification"),
	}
}

// AddNotifier adds a notification provider. Disabled providers are skipped.
func (m *Manager) AddNotifier(n Notifier) {
	if !n.IsEnabled() {
		return
	}
	m.notifiers = append(m.notifiers, n)
	m.logger.Info("Notifier enabled", "notifier", n.Name())
}

// Enabled reports whether any provider is active
func (m *Manager) Enabled() bool {
	return len(m.notifiers) > 0
}

// Send sends a notification to all providers and returns the last error
func (m *Manager) Send(ctx context.Context, n *Notification) error {
	var lastErr error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(ctx, n); err != nil {
			m.logger.Warn("Notification failed", "notifier", notifier.Name(), "type", n.Type, "error", err)
			lastErr = err
		}
	}
	return lastErr
}

// Subscribe forwards trade, repair and error events from bus
func (m *Manager) Subscribe(bus *events.EventBus) {
	if bus == nil || !m.Enabled() {
		return
	}
	handler := func(e events.Event) {
		n := FromEvent(e)
		if n == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()
		m.Send(ctx, n)
	}
	bus.Subscribe(events.EventTradeOpened, handler)
	bus.Subscribe(events.EventTradeClosed, handler)
	bus.Subscribe(events.EventProtectionRepair, handler)
	bus.Subscribe(events.EventError, handler)
	bus.Subscribe(events.EventCircuitBreaker, handler)
}

// FromEvent renders a bus event. Events without a rendering return nil.
func FromEvent(e events.Event) *Notification {
	symbol := str(e.Data, "symbol")
	n := &Notification{Bot: e.Bot, Symbol: symbol, Timestamp: e.Timestamp}

	switch e.Type {
	case events.EventTradeOpened:
		n.Type = NotifyTradeOpen
		n.Price = num(e.Data, "entry_price")
		n.Title = fmt.Sprintf("Trade Opened: %s %s", str(e.Data, "side"), symbol)
		n.Message = fmt.Sprintf("%s entry %.4f qty %.6f\nSL: %.4f | TP: %.4f",
			e.Bot, n.Price, num(e.Data, "quantity"), num(e.Data, "stop_loss"), num(e.Data, "take_profit"))

	case events.EventTradeClosed:
		n.Type = NotifyTradeClose
		n.Price = num(e.Data, "exit_price")
		n.PnL = num(e.Data, "pnl")
		n.PnLPercent = num(e.Data, "pnl_percent")
		n.Title = fmt.Sprintf("Trade Closed: %s", symbol)
		n.Message = fmt.Sprintf("%s entry %.4f exit %.4f\nP&L: %.2f USD (%.2f%%)\nReason: %s",
			e.Bot, num(e.Data, "entry_price"), n.Price, n.PnL, n.PnLPercent, str(e.Data, "exit_reason"))

	case events.EventProtectionRepair:
		n.Type = NotifyRepair
		n.Title = fmt.Sprintf("Protection Repaired: %s", symbol)
		n.Message = fmt.Sprintf("%s state %s\nstop placed: %v | target placed: %v | orphans cancelled: %v",
			e.Bot, str(e.Data, "state"), e.Data["stop_placed"], e.Data["target_placed"], e.Data["orphans_cancelled"])

	case events.EventError:
		n.Type = NotifyError
		n.Title = fmt.Sprintf("Error in %s", e.Bot)
		n.Message = fmt.Sprintf("%s: %s", str(e.Data, "source"), str(e.Data, "message"))

	case events.EventCircuitBreaker:
		n.Type = NotifyBreaker
		n.Title = fmt.Sprintf("Circuit Breaker %s: %s", str(e.Data, "action"), e.Bot)
		n.Message = fmt.Sprintf("state %s\nreason: %s\ndaily loss: %.2f%%",
			str(e.Data, "state"), str(e.Data, "reason"), num(e.Data, "daily_loss"))

	default:
		return nil
	}
	return n
}

func str(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func num(data map[string]interface{}, key string) float64 {
	switch v := data[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

// Telegram

// TelegramBaseURL is the Bot API endpoint
const TelegramBaseURL = "https://api.telegram.org"

// TelegramConfig is the bot token and target chat
type TelegramConfig struct {
	BotToken string
	ChatID   string
	Enabled  bool
	BaseURL  string
}

// TelegramNotifier posts to the Bot API sendMessage method
type TelegramNotifier struct {
	botToken string
	chatID   string
	enabled  bool
	client   *resty.Client
}

// NewTelegramNotifier is enabled only with both token and chat id
func NewTelegramNotifier(config TelegramConfig) *TelegramNotifier {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = TelegramBaseURL
	}
	return &TelegramNotifier{
		botToken: config.BotToken,
		chatID:   config.ChatID,
		enabled:  config.Enabled && config.BotToken != "" && config.ChatID != "",
		client:   resty.New().SetBaseURL(baseURL).SetTimeout(10 * time.Second),
	}
}

func (t *TelegramNotifier) Name() string {
	return "telegram"
}

func (t *TelegramNotifier) IsEnabled() bool {
	return t.enabled
}

func (t *TelegramNotifier) Send(ctx context.Context, n *Notification) error {
	if !t.enabled {
		return nil
	}

	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"chat_id":    t.chatID,
			"text":       fmt.Sprintf("*%s*\n\n%s", n.Title, n.Message),
			"parse_mode": "Markdown",
		}).
		Post("/bot" + t.botToken + "/sendMessage")
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode())
	}
	return nil
}

// Discord

// DiscordConfig is the webhook to post to
type DiscordConfig struct {
	WebhookURL string
	Enabled    bool
}

// DiscordNotifier posts embeds to a webhook
type DiscordNotifier struct {
	webhookURL string
	enabled    bool
	client     *resty.Client
}

// NewDiscordNotifier is enabled only with a webhook URL
func NewDiscordNotifier(config DiscordConfig) *DiscordNotifier {
	return &DiscordNotifier{
		webhookURL: config.WebhookURL,
		enabled:    config.Enabled && config.WebhookURL != "",
		client:     resty.New().SetTimeout(10 * time.Second),
	}
}

func (d *DiscordNotifier) Name() string {
	return "discord"
}

func (d *DiscordNotifier) IsEnabled() bool {
	return d.enabled
}

func (d *DiscordNotifier) Send(ctx context.Context, n *Notification) error {
	if !d.enabled {
		return nil
	}

	resp, err := d.client.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"embeds": []map[string]interface{}{DiscordEmbed(n)},
		}).
		Post(d.webhookURL)
	if err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("discord API returned status %d", resp.StatusCode())
	}
	return nil
}

// DiscordEmbed renders n as a webhook embed. Losses and errors are red.
func DiscordEmbed(n *Notification) map[string]interface{} {
	color := 0x00FF00
	if n.Type == NotifyError || n.Type == NotifyBreaker || (n.Type == NotifyTradeClose && n.PnL < 0) {
		color = 0xFF0000
	}

	embed := map[string]interface{}{
		"title":       n.Title,
		"description": n.Message,
		"color":       color,
		"timestamp":   n.Timestamp.Format(time.RFC3339),
	}

	if n.Symbol != "" {
		fields := []map[string]interface{}{
			{"name": "Symbol", "value": n.Symbol, "inline": true},
		}
		if n.Price > 0 {
			fields = append(fields, map[string]interface{}{
				"name": "Price", "value": fmt.Sprintf("%.4f", n.Price), "inline": true,
			})
		}
		if n.PnL != 0 {
			fields = append(fields, map[string]interface{}{
				"name": "P&L", "value": fmt.Sprintf("%.2f (%.2f%%)", n.PnL, n.PnLPercent), "inline": true,
			})
		}
		embed["fields"] = fields
	}
	return embed
}
