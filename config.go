package oneclaw

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zalando/go-keyring"
	"gopkg.in/yaml.v3"

	"github.com/1clawAI/1claw-sdk/x402"
)

// Environment variables read by ConfigFromEnv
const (
	EnvBaseURL       = "ONECLAW_BASE_URL"
	EnvToken         = "ONECLAW_TOKEN"
	EnvAPIKey        = "ONECLAW_API_KEY"
	EnvAgentID       = "ONECLAW_AGENT_ID"
	EnvMaxAutoPayUSD = "ONECLAW_MAX_AUTO_PAY_USD"
	EnvNetwork       = "ONECLAW_NETWORK"
)

// Config holds the client settings. Use Validate to fill implicit defaults
// and check that exactly one credential is configured.
type Config struct {
	// BaseURL is the API root. Default: https://api.1claw.xyz
	BaseURL string `json:"base_url" yaml:"base_url"`

	// Token is a pre-authenticated bearer token. Mutually exclusive with APIKey.
	Token string `json:"token" yaml:"token"`
	// APIKey is exchanged for short-lived bearer tokens.
	APIKey string `json:"api_key" yaml:"api_key"`
	// AgentID makes APIKey an agent key. Requires APIKey.
	AgentID string `json:"agent_id" yaml:"agent_id"`

	// MaxAutoPayUSD is the largest x402 price paid without asking.
	// The zero value disables automatic payment.
	MaxAutoPayUSD decimal.Decimal `json:"max_auto_pay_usd" yaml:"max_auto_pay_usd"`
	// Network is the payment network offers must match. Default: eip155:8453
	Network x402.Network `json:"network" yaml:"network"`

	// Timeout bounds each HTTP round-trip. Default: 30s
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
	// SignerTimeout bounds each signer call. Default: 60s
	SignerTimeout time.Duration `json:"signer_timeout" yaml:"signer_timeout"`
	// TokenSkew is how long before its declared expiry a token is refreshed. Default: 30s
	TokenSkew time.Duration `json:"token_skew" yaml:"token_skew"`

	UserAgent string `json:"user_agent" yaml:"user_agent"`
}

// Validate applies defaults and verifies the credential settings. It returns
// a *ConfigError naming the offending field.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return &ConfigError{Field: "base_url", Message: fmt.Sprintf("%q is not an absolute URL", c.BaseURL)}
	}

	if c.Network == "" {
		c.Network = x402.DefaultNetwork
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.SignerTimeout == 0 {
		c.SignerTimeout = DefaultSignerTimeout
	}
	if c.TokenSkew == 0 {
		c.TokenSkew = DefaultTokenSkew
	}
	if c.UserAgent == "" {
		c.UserAgent = "1claw-go/" + Version
	}

	switch {
	case c.Token == "" && c.APIKey == "":
		return &ConfigError{Field: "api_key", Message: "one of token or api_key is required"}
	case c.Token != "" && c.APIKey != "":
		return &ConfigError{Field: "token", Message: "token and api_key are mutually exclusive"}
	case c.AgentID != "" && c.APIKey == "":
		return &ConfigError{Field: "agent_id", Message: "agent_id requires api_key"}
	}

	if c.MaxAutoPayUSD.IsNegative() {
		return &ConfigError{Field: "max_auto_pay_usd", Message: "must not be negative"}
	}
	if c.Timeout < 0 || c.SignerTimeout < 0 || c.TokenSkew < 0 {
		return &ConfigError{Field: "timeout", Message: "durations must not be negative"}
	}
	return nil
}

// Credential returns the credential the config describes
func (c *Config) Credential() Credential {
	switch {
	case c.Token != "":
		return PreAuthenticatedToken{Token: c.Token}
	case c.AgentID != "":
		return AgentAPIKey{Key: c.APIKey, AgentID: c.AgentID}
	default:
		return UserAPIKey{Key: c.APIKey}
	}
}

// LoadConfig reads a YAML config file. Defaults are applied by Validate.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return &cfg, nil
}

// ConfigFromEnv builds a Config from ONECLAW_* environment variables.
func ConfigFromEnv() (*Config, error) {
	cfg := &Config{
		BaseURL: os.Getenv(EnvBaseURL),
		Token:   os.Getenv(EnvToken),
		APIKey:  os.Getenv(EnvAPIKey),
		AgentID: os.Getenv(EnvAgentID),
		Network: x402.Network(os.Getenv(EnvNetwork)),
	}
	if v := os.Getenv(EnvMaxAutoPayUSD); v != "" {
		limit, err := decimal.NewFromString(strings.TrimPrefix(strings.TrimSpace(v), "$"))
		if err != nil {
			return nil, &ConfigError{Field: "max_auto_pay_usd", Message: fmt.Sprintf("%s: %v", EnvMaxAutoPayUSD, err)}
		}
		cfg.MaxAutoPayUSD = limit
	}
	return cfg, nil
}

// APIKeyFromKeyring loads an API key stored in the OS keychain.
func APIKeyFromKeyring(service, account string) (string, error) {
	secret, err := keyring.Get(service, account)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", &ConfigError{Field: "api_key", Message: fmt.Sprintf("no keychain entry for %s/%s", service, account)}
		}
		return "", fmt.Errorf("failed to read keychain: %w", err)
	}
	return secret, nil
}
