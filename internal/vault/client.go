// Package vault loads exchange and LLM credentials from a HashiCorp Vault
// KV v2 engine.
package vault

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/vault/api"

	"perp-trading-agent/config"
)

// Secret names under the configured secret path
const (
	SecretExchange = "exchange"
	SecretLLM      = "llm"
)

// Client wraps the HashiCorp Vault client
type Client struct {
	client *api.Client
	config config.VaultConfig
	mu     sync.RWMutex
	cache  map[string]map[string]string // secret name -> fields
}

// NewClient creates a new Vault client. A disabled config yields a client
// backed only by its in-memory cache.
func NewClient(cfg config.VaultConfig) (*Client, error) {
	c := &Client{
		config: cfg,
		cache:  make(map[string]map[string]string),
	}
	if !cfg.Enabled {
		return c, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		tlsConfig := &api.TLSConfig{
			CACert: cfg.CACert,
		}
		if err := vaultConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	c.client = client
	return c, nil
}

// NewMockClient creates a disabled client for testing
func NewMockClient() *Client {
	c, _ := NewClient(config.VaultConfig{Enabled: false})
	return c
}

// StoreSecret writes the fields of secret name
func (c *Client) StoreSecret(ctx context.Context, name string, fields map[string]string) error {
	if c.config.Enabled {
		data := make(map[string]interface{}, len(fields))
		for k, v := range fields {
			data[k] = v
		}
		_, err := c.client.Logical().WriteWithContext(ctx, c.secretPath(name), map[string]interface{}{"data": data})
		if err != nil {
			return fmt.Errorf("failed to store secret %s in vault: %w", name, err)
		}
	}

	cp := make(map[string]string, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	c.mu.Lock()
	c.cache[name] = cp
	c.mu.Unlock()
	return nil
}

// GetSecret reads the fields of secret name. A missing secret returns an
// empty map.
func (c *Client) GetSecret(ctx context.Context, name string) (map[string]string, error) {
	c.mu.RLock()
	if cached, ok := c.cache[name]; ok {
		c.mu.RUnlock()
		return cached, nil
	}
	c.mu.RUnlock()

	if !c.config.Enabled {
		return map[string]string{}, nil
	}

	secret, err := c.client.Logical().ReadWithContext(ctx, c.secretPath(name))
	if err != nil {
		return nil, fmt.Errorf("failed to read secret %s from vault: %w", name, err)
	}

	fields := make(map[string]string)
	if secret != nil && secret.Data != nil {
		data, ok := secret.Data["data"].(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("invalid secret format for %s", name)
		}
		for k := range data {
			fields[k] = getString(data, k)
		}
	}

	c.mu.Lock()
	c.cache[name] = fields
	c.mu.Unlock()
	return fields, nil
}

// ApplyTo overwrites credentials in cfg with the non-empty values held in
// Vault. Values missing from Vault keep what the environment provided.
func (c *Client) ApplyTo(ctx context.Context, cfg *config.Config) error {
	ex, err := c.GetSecret(ctx, SecretExchange)
	if err != nil {
		return err
	}
	override(&cfg.ExchangeConfig.APIKey, ex["api_key"])
	override(&cfg.ExchangeConfig.SecretKey, ex["secret_key"])

	llm, err := c.GetSecret(ctx, SecretLLM)
	if err != nil {
		return err
	}
	override(&cfg.LLMConfig.OpenAIAPIKey, llm["openai_api_key"])
	override(&cfg.LLMConfig.AnthropicAPIKey, llm["anthropic_api_key"])
	override(&cfg.LLMConfig.DeepSeekAPIKey, llm["deepseek_api_key"])
	override(&cfg.LLMConfig.QwenAPIKey, llm["qwen_api_key"])
	return nil
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// ClearCache clears the in-memory cache
func (c *Client) ClearCache() {
	c.mu.Lock()
	c.cache = make(map[string]map[string]string)
	c.mu.Unlock()
}

// IsEnabled returns whether Vault is enabled
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// HealthCheck checks the Vault connection
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	health, err := c.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}
	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}
	return nil
}

// secretPath returns the KV v2 data path of a secret
func (c *Client) secretPath(name string) string {
	return fmt.Sprintf("%s/data/%s/%s", c.config.MountPath, c.config.SecretPath, name)
}

func getString(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}
