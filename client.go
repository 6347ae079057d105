package oneclaw

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/1clawAI/1claw-sdk/x402"
)

const tracerName = "github.com/1clawAI/1claw-sdk"

// Signer signs x402 payment offers; see package signers for implementations
type Signer = x402.Signer

// Client sends requests to the 1claw API. It is safe for concurrent use;
// the only state shared between calls is the cached bearer token.
type Client struct {
	baseURL   string
	userAgent string
	policy    x402.Policy
	creds     *credentialStore

	httpClient *http.Client
	signer     x402.Signer
	logger     *zap.Logger
	metrics    *Metrics
	tracer     trace.Tracer
	now        func() time.Time
	newID      func() string
}

// New validates cfg and creates a client
func New(cfg Config, opts ...ClientOption) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		baseURL:   cfg.BaseURL,
		userAgent: cfg.UserAgent,
		policy: x402.Policy{
			Network:       cfg.Network,
			MaxAutoPayUSD: cfg.MaxAutoPayUSD,
			SignerTimeout: cfg.SignerTimeout,
		},
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     zap.NewNop(),
		tracer:     noop.NewTracerProvider().Tracer(tracerName),
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = NewMetrics(nil)
	}

	cred := cfg.Credential()
	c.creds = newCredentialStore(cred, c.exchangeToken, cfg.TokenSkew, c.now, c.logger, c.metrics)
	c.logger.Debug("client created",
		zap.String("baseURL", c.baseURL),
		zap.String("credential", cred.Masked()),
		zap.String("network", string(c.policy.Network)),
		zap.String("maxAutoPayUsd", c.policy.MaxAutoPayUSD.String()),
		zap.Bool("signer", c.signer != nil))
	return c, nil
}

// InvalidateToken discards the cached bearer token. The next call
// exchanges the API key again.
func (c *Client) InvalidateToken() {
	c.creds.Invalidate()
}

// Logout discards the cached bearer token
func (c *Client) Logout(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.creds.Invalidate()
	c.logger.Debug("logged out")
	return nil
}

// Close discards the token and the sealed API key. Calls made after Close
// fail with a Network error.
func (c *Client) Close() error {
	c.creds.close()
	return nil
}

// SignerAddress returns the address of the configured payment signer
func (c *Client) SignerAddress(ctx context.Context) (string, error) {
	if c.signer == nil {
		return "", x402.NewPaymentError(x402.ErrCodeNoSigner, "no payment signer configured", nil)
	}
	return c.signer.GetAddress(ctx)
}

// exchangeToken posts an exchange request. Non-2xx answers become Auth
// errors; transport failures become Network errors.
func (c *Client) exchangeToken(ctx context.Context, path string, body any) (*tokenResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal exchange request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, NewNetworkError(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.request(http.MethodPost, 0)
		return nil, NewNetworkError(err)
	}
	defer resp.Body.Close()
	c.metrics.request(http.MethodPost, resp.StatusCode)

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, NewNetworkError(fmt.Errorf("failed to read exchange response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		classified := Classify(resp.StatusCode, resp.Header, respBody)
		return nil, &Error{
			Kind:    KindAuth,
			Status:  resp.StatusCode,
			Message: "token exchange failed: " + classified.Message,
			Detail:  classified.Detail,
		}
	}

	token, err := decodeTokenResponse(respBody)
	if err != nil {
		return nil, &Error{Kind: KindAuth, Status: resp.StatusCode, Message: "unreadable token response", Cause: err}
	}
	return token, nil
}

// decodeTokenResponse accepts the token bare or wrapped in "data"
func decodeTokenResponse(body []byte) (*tokenResponse, error) {
	var bare tokenResponse
	if err := json.Unmarshal(body, &bare); err != nil {
		return nil, err
	}
	if bare.AccessToken != "" {
		return &bare, nil
	}

	var wrapped struct {
		Data *tokenResponse `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, err
	}
	if wrapped.Data == nil {
		return nil, errors.New("no access_token in response")
	}
	return wrapped.Data, nil
}
