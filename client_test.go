package oneclaw

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/1clawAI/1claw-sdk/internal/testserver"
	"github.com/1clawAI/1claw-sdk/x402"
)

const vaultsPath = "/v1/vaults"

// mockSigner signs with a fixed signature and counts invocations
type mockSigner struct {
	address   string
	signature []byte
	err       error
	calls     atomic.Int32
}

func (m *mockSigner) GetAddress(ctx context.Context) (string, error) {
	return m.address, nil
}

func (m *mockSigner) SignPayment(ctx context.Context, offer x402.PaymentOffer) ([]byte, error) {
	m.calls.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	return m.signature, nil
}

func newMockSigner() *mockSigner {
	return &mockSigner{address: "0xPayer", signature: []byte{0xde, 0xad, 0xbe, 0xef}}
}

func paywall(version int, price string) testserver.Paywall {
	return testserver.Paywall{
		Required: x402.PaymentRequired{
			X402Version: version,
			Accepts: []x402.PaymentOffer{{
				Scheme:          "exact",
				Network:         "eip155:8453",
				PayTo:           "0xPayTo",
				Price:           x402.Price(price),
				Asset:           "0xUSDC",
				DeadlineSeconds: 60,
			}},
		},
	}
}

func newTestClient(t *testing.T, srv *testserver.Server, cfg Config, opts ...ClientOption) *Client {
	t.Helper()
	cfg.BaseURL = srv.URL
	c, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func decodeData(t *testing.T, env *Envelope[json.RawMessage]) map[string]interface{} {
	t.Helper()
	require.Nil(t, env.Error)
	require.NotNil(t, env.Data)
	var data map[string]interface{}
	require.NoError(t, json.Unmarshal(*env.Data, &data))
	return data
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	_, err := New(Config{})
	var cfgErr *ConfigError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestNew_IgnoresNilCollaborators(t *testing.T) {
	srv := testserver.New(t, testserver.WithStaticToken("static"))
	client := newTestClient(t, srv, Config{Token: "static"},
		WithLogger(nil), WithTracerProvider(nil))

	env := client.Execute(context.Background(), http.MethodGet, vaultsPath)
	require.Nil(t, env.Error)
	assert.NotNil(t, client.logger)
	assert.NotNil(t, client.tracer)
}

func TestExecute_ExchangesOnceAndCaches(t *testing.T) {
	srv := testserver.New(t, testserver.WithAPIKey("k1"))
	client := newTestClient(t, srv, Config{APIKey: "k1"})

	for i := 0; i < 3; i++ {
		env := client.Execute(context.Background(), http.MethodGet, vaultsPath)
		data := decodeData(t, env)
		assert.Equal(t, vaultsPath, data["path"])
		require.NotNil(t, env.Meta)
		assert.Equal(t, http.StatusOK, env.Meta.Status)
		assert.NotEmpty(t, env.Meta.RequestID)
	}

	assert.Equal(t, 1, srv.Exchanges())
	requests := srv.Requests(http.MethodGet, vaultsPath)
	require.Len(t, requests, 3)
	for _, r := range requests {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("X-Request-Id"))
		assert.Contains(t, r.Header.Get("User-Agent"), "1claw-go/")
	}
}

func TestExecute_RequestIDFromResponseMeta(t *testing.T) {
	srv := testserver.New(t, testserver.WithStaticToken("static"))
	client := newTestClient(t, srv, Config{Token: "static"})

	env := client.Execute(context.Background(), http.MethodGet, vaultsPath)
	require.Nil(t, env.Error)
	sent := srv.Requests(http.MethodGet, vaultsPath)[0].Header.Get("X-Request-Id")
	assert.Equal(t, sent, env.Meta.RequestID)
}

func TestExecute_AgentKey(t *testing.T) {
	srv := testserver.New(t, testserver.WithAgentKey("agent-1", "ak"), testserver.WithWrappedTokens())
	client := newTestClient(t, srv, Config{APIKey: "ak", AgentID: "agent-1"})

	env := client.Execute(context.Background(), http.MethodGet, vaultsPath)
	require.Nil(t, env.Error)

	exchanges := srv.Requests(http.MethodPost, "/v1/auth/agent-token")
	require.Len(t, exchanges, 1)
	assert.JSONEq(t, `{"agent_id":"agent-1","api_key":"ak"}`, string(exchanges[0].Body))
}

func TestExecute_ReauthenticatesOnceOn401(t *testing.T) {
	srv := testserver.New(t, testserver.WithAPIKey("k1"))
	srv.Script(http.MethodGet, vaultsPath, testserver.Reply{
		Status: http.StatusUnauthorized,
		Body:   map[string]interface{}{"error": map[string]string{"message": "token expired"}},
	})
	metrics := NewMetrics(prometheus.NewRegistry())
	client := newTestClient(t, srv, Config{APIKey: "k1"}, WithMetrics(metrics))

	env := client.Execute(context.Background(), http.MethodGet, vaultsPath)
	data := decodeData(t, env)
	assert.Equal(t, vaultsPath, data["path"])

	// exchange, 401, exchange, retry
	assert.Equal(t, 4, srv.Total())
	assert.Equal(t, 2, srv.Exchanges())
	requests := srv.Requests(http.MethodGet, vaultsPath)
	require.Len(t, requests, 2)
	assert.Equal(t, "Bearer tok-1", requests[0].Header.Get("Authorization"))
	assert.Equal(t, "Bearer tok-2", requests[1].Header.Get("Authorization"))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.retries.WithLabelValues(retryReauth)))
}

func TestExecute_Second401IsTerminal(t *testing.T) {
	srv := testserver.New(t, testserver.WithAPIKey("k1"))
	unauthorized := testserver.Reply{Status: http.StatusUnauthorized, Body: `{"error":"unauthorized"}`}
	srv.Script(http.MethodGet, vaultsPath, unauthorized, unauthorized, unauthorized)
	client := newTestClient(t, srv, Config{APIKey: "k1"})

	env := client.Execute(context.Background(), http.MethodGet, vaultsPath)
	require.NotNil(t, env.Error)
	assert.Nil(t, env.Data)
	assert.Equal(t, KindAuth, env.Error.Kind)
	assert.Equal(t, http.StatusUnauthorized, env.Meta.Status)
	assert.Equal(t, 2, srv.Count(http.MethodGet, vaultsPath))
	assert.Equal(t, 2, srv.Exchanges())
}

func TestExecute_PreAuthenticatedTokenIsNotRetried(t *testing.T) {
	srv := testserver.New(t)
	client := newTestClient(t, srv, Config{Token: "revoked"})

	env := client.Execute(context.Background(), http.MethodGet, vaultsPath)
	require.NotNil(t, env.Error)
	assert.Equal(t, KindAuth, env.Error.Kind)
	assert.Equal(t, 1, srv.Total())
}

func TestExecute_PaysWithinPolicy(t *testing.T) {
	srv := testserver.New(t, testserver.WithAPIKey("k1"),
		testserver.WithPaywall("/v1/secrets/db", paywall(1, "0.01")))
	signer := newMockSigner()
	client := newTestClient(t, srv, Config{APIKey: "k1", MaxAutoPayUSD: decimal.RequireFromString("0.05")},
		WithSigner(signer))

	env := client.Execute(context.Background(), http.MethodGet, "/v1/secrets/db")
	data := decodeData(t, env)
	assert.Equal(t, "/v1/secrets/db", data["path"])

	requests := srv.Requests(http.MethodGet, "/v1/secrets/db")
	require.Len(t, requests, 2)
	assert.Empty(t, requests[0].Header.Get(x402.HeaderPayment))

	payload, err := x402.DecodePaymentHeader(requests[1].Header.Get(x402.HeaderPayment))
	require.NoError(t, err)
	assert.Equal(t, x402.PaymentPayload{
		X402Version: 1,
		Scheme:      "exact",
		Network:     "eip155:8453",
		Payload:     "0xdeadbeef",
	}, payload)
	assert.Equal(t, requests[0].Header.Get("X-Request-Id"), requests[1].Header.Get("X-Request-Id"))

	assert.Equal(t, int32(1), signer.calls.Load())
	require.NotNil(t, env.Meta.Payment)
	assert.True(t, env.Meta.Payment.Success)
	assert.Equal(t, "0xsettled", env.Meta.Payment.Transaction)
}

func TestExecute_PaysV2WithHeaders(t *testing.T) {
	p := paywall(2, "0.01")
	p.InHeader = true
	srv := testserver.New(t, testserver.WithStaticToken("static"), testserver.WithPaywall("/v1/secrets/db", p))
	signer := newMockSigner()
	client := newTestClient(t, srv, Config{Token: "static", MaxAutoPayUSD: decimal.RequireFromString("1")},
		WithSigner(signer))

	env := client.Execute(context.Background(), http.MethodGet, "/v1/secrets/db")
	require.Nil(t, env.Error)

	requests := srv.Requests(http.MethodGet, "/v1/secrets/db")
	require.Len(t, requests, 2)
	assert.Empty(t, requests[1].Header.Get(x402.HeaderPayment))
	payload, err := x402.DecodePaymentHeader(requests[1].Header.Get(x402.HeaderPaymentSignature))
	require.NoError(t, err)
	assert.Equal(t, 2, payload.X402Version)
	require.NotNil(t, env.Meta.Payment)
}

func TestExecute_PriceOverLimitIsNotPaid(t *testing.T) {
	srv := testserver.New(t, testserver.WithAPIKey("k1"),
		testserver.WithPaywall("/v1/secrets/db", paywall(1, "0.50")))
	signer := newMockSigner()
	client := newTestClient(t, srv, Config{APIKey: "k1", MaxAutoPayUSD: decimal.RequireFromString("0.05")},
		WithSigner(signer))

	env := client.Execute(context.Background(), http.MethodGet, "/v1/secrets/db")
	require.NotNil(t, env.Error)
	assert.Nil(t, env.Data)
	assert.Equal(t, KindPaymentRequired, env.Error.Kind)
	require.NotNil(t, env.Error.Requirement)
	assert.Equal(t, "0.50", string(env.Error.Requirement.Accepts[0].Price))
	assert.Contains(t, env.Error.Detail, x402.ErrCodePolicyRejected)

	var payErr *x402.PaymentError
	require.True(t, errors.As(env.Error, &payErr))
	assert.Equal(t, x402.ErrCodePolicyRejected, payErr.Code)

	assert.Equal(t, int32(0), signer.calls.Load())
	assert.Equal(t, 1, srv.Count(http.MethodGet, "/v1/secrets/db"))
	assert.Equal(t, http.StatusPaymentRequired, env.Meta.Status)
}

func TestExecute_DefaultPolicyNeverPays(t *testing.T) {
	srv := testserver.New(t, testserver.WithAPIKey("k1"),
		testserver.WithPaywall("/v1/secrets/db", paywall(1, "0.000001")))
	signer := newMockSigner()
	client := newTestClient(t, srv, Config{APIKey: "k1"}, WithSigner(signer))

	_, err := Call[map[string]interface{}](context.Background(), client, http.MethodGet, "/v1/secrets/db")
	assert.ErrorIs(t, err, ErrPaymentRequired)
	assert.Equal(t, int32(0), signer.calls.Load())
}

func TestExecute_NoSigner(t *testing.T) {
	srv := testserver.New(t, testserver.WithAPIKey("k1"),
		testserver.WithPaywall("/v1/secrets/db", paywall(1, "0.01")))
	client := newTestClient(t, srv, Config{APIKey: "k1", MaxAutoPayUSD: decimal.RequireFromString("1")})

	env := client.Execute(context.Background(), http.MethodGet, "/v1/secrets/db")
	require.NotNil(t, env.Error)
	assert.Equal(t, KindPaymentRequired, env.Error.Kind)
	assert.Contains(t, env.Error.Detail, x402.ErrCodeNoSigner)
}

func TestExecute_SignerFailureIsPaymentRequired(t *testing.T) {
	srv := testserver.New(t, testserver.WithAPIKey("k1"),
		testserver.WithPaywall("/v1/secrets/db", paywall(1, "0.01")))
	signer := newMockSigner()
	signer.err = errors.New("user rejected")
	client := newTestClient(t, srv, Config{APIKey: "k1", MaxAutoPayUSD: decimal.RequireFromString("1")},
		WithSigner(signer))

	env := client.Execute(context.Background(), http.MethodGet, "/v1/secrets/db")
	require.NotNil(t, env.Error)
	assert.Equal(t, KindPaymentRequired, env.Error.Kind)
	assert.ErrorIs(t, env.Error, signer.err)
	assert.Equal(t, int32(1), signer.calls.Load())
	assert.Equal(t, 1, srv.Count(http.MethodGet, "/v1/secrets/db"))
}

func TestExecute_Second402IsTerminal(t *testing.T) {
	p := paywall(1, "0.01")
	p.Verify = func(x402.PaymentPayload) error { return errors.New("insufficient funds") }
	srv := testserver.New(t, testserver.WithAPIKey("k1"), testserver.WithPaywall("/v1/secrets/db", p))
	signer := newMockSigner()
	client := newTestClient(t, srv, Config{APIKey: "k1", MaxAutoPayUSD: decimal.RequireFromString("1")},
		WithSigner(signer))

	env := client.Execute(context.Background(), http.MethodGet, "/v1/secrets/db")
	require.NotNil(t, env.Error)
	assert.Equal(t, KindPaymentRequired, env.Error.Kind)
	require.NotNil(t, env.Error.Requirement)
	assert.Equal(t, "insufficient funds", env.Error.Requirement.Error)
	assert.Equal(t, int32(1), signer.calls.Load())
	assert.Equal(t, 2, srv.Count(http.MethodGet, "/v1/secrets/db"))
}

func TestExecute_NoPaymentAfterReauth(t *testing.T) {
	srv := testserver.New(t, testserver.WithAPIKey("k1"),
		testserver.WithPaywall("/v1/secrets/db", paywall(1, "0.01")))
	srv.Script(http.MethodGet, "/v1/secrets/db", testserver.Reply{Status: http.StatusUnauthorized})
	signer := newMockSigner()
	client := newTestClient(t, srv, Config{APIKey: "k1", MaxAutoPayUSD: decimal.RequireFromString("1")},
		WithSigner(signer))

	env := client.Execute(context.Background(), http.MethodGet, "/v1/secrets/db")
	require.NotNil(t, env.Error)
	assert.Equal(t, KindPaymentRequired, env.Error.Kind)
	assert.Equal(t, int32(0), signer.calls.Load())
	assert.Equal(t, 2, srv.Count(http.MethodGet, "/v1/secrets/db"))
	assert.LessOrEqual(t, srv.Total(), 4)
}

func TestExecute_NoReauthAfterPayment(t *testing.T) {
	srv := testserver.New(t, testserver.WithAPIKey("k1"))
	srv.Script(http.MethodGet, "/v1/secrets/db",
		testserver.Reply{Status: http.StatusPaymentRequired, Body: paywall(1, "0.01").Required},
		testserver.Reply{Status: http.StatusUnauthorized},
	)
	signer := newMockSigner()
	client := newTestClient(t, srv, Config{APIKey: "k1", MaxAutoPayUSD: decimal.RequireFromString("1")},
		WithSigner(signer))

	env := client.Execute(context.Background(), http.MethodGet, "/v1/secrets/db")
	require.NotNil(t, env.Error)
	assert.Equal(t, KindAuth, env.Error.Kind)
	assert.Equal(t, 1, srv.Exchanges())
	assert.Equal(t, 2, srv.Count(http.MethodGet, "/v1/secrets/db"))
}

func TestExecute_UnreadableReceiptStillSucceeds(t *testing.T) {
	p := paywall(1, "0.01")
	p.ReceiptHeader = "%%%not-base64"
	srv := testserver.New(t, testserver.WithAPIKey("k1"), testserver.WithPaywall("/v1/secrets/db", p))
	core, logs := observer.New(zapcore.WarnLevel)
	client := newTestClient(t, srv, Config{APIKey: "k1", MaxAutoPayUSD: decimal.RequireFromString("1")},
		WithSigner(newMockSigner()), WithLogger(zap.New(core)))

	env := client.Execute(context.Background(), http.MethodGet, "/v1/secrets/db")
	require.Nil(t, env.Error)
	assert.Nil(t, env.Meta.Payment)
	assert.Equal(t, 1, logs.FilterMessage("unreadable settlement receipt").Len())
}

func TestExecute_ClassifiesTerminalErrors(t *testing.T) {
	tests := []struct {
		name  string
		reply testserver.Reply
		kind  Kind
		check func(t *testing.T, e *Error)
	}{
		{
			name:  "approval required",
			reply: testserver.Reply{Status: 403, Body: `{"error":{"type":"approval_required","message":"awaiting approval","approval_id":"apr_9"}}`},
			kind:  KindApprovalRequired,
			check: func(t *testing.T, e *Error) { assert.Equal(t, "apr_9", e.ApprovalID) },
		},
		{
			name:  "not found",
			reply: testserver.Reply{Status: 404, Body: `{"error":{"message":"no such vault"}}`},
			kind:  KindNotFound,
			check: func(t *testing.T, e *Error) { assert.Equal(t, "no such vault", e.Message) },
		},
		{
			name:  "rate limit",
			reply: testserver.Reply{Status: 429, Header: map[string]string{"Retry-After": "12"}, Body: `{}`},
			kind:  KindRateLimit,
			check: func(t *testing.T, e *Error) {
				d, ok := e.RetryAfterDuration(time.Now())
				assert.True(t, ok)
				assert.Equal(t, 12*time.Second, d)
			},
		},
		{
			name:  "validation",
			reply: testserver.Reply{Status: 422, Body: `{"error":{"message":"invalid","detail":"name too long"}}`},
			kind:  KindValidation,
			check: func(t *testing.T, e *Error) { assert.Equal(t, "name too long", e.Detail) },
		},
		{
			name:  "server",
			reply: testserver.Reply{Status: 503, Body: `upstream down`},
			kind:  KindServer,
			check: func(t *testing.T, e *Error) { assert.Equal(t, "upstream down", e.Detail) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testserver.New(t, testserver.WithStaticToken("static"))
			srv.Script(http.MethodGet, vaultsPath, tt.reply)
			client := newTestClient(t, srv, Config{Token: "static"})

			env := client.Execute(context.Background(), http.MethodGet, vaultsPath)
			require.NotNil(t, env.Error)
			assert.Nil(t, env.Data)
			require.NotNil(t, env.Meta)
			assert.Equal(t, tt.reply.Status, env.Meta.Status)
			assert.Equal(t, tt.kind, env.Error.Kind)
			tt.check(t, env.Error)
			assert.Equal(t, 1, srv.Total())
		})
	}
}

func TestExecute_EnvelopeHasExactlyOneOfDataOrError(t *testing.T) {
	statuses := []int{200, 201, 204, 400, 401, 402, 403, 404, 409, 422, 429, 500, 502}
	for _, status := range statuses {
		srv := testserver.New(t, testserver.WithStaticToken("static"))
		reply := testserver.Reply{Status: status}
		if status != http.StatusNoContent {
			reply.Body = `{"data":{"ok":true},"error":null}`
			if status >= 300 {
				reply.Body = `{"error":{"message":"failed"}}`
			}
		}
		srv.Script(http.MethodGet, vaultsPath, reply)
		client := newTestClient(t, srv, Config{Token: "static"})

		env := client.Execute(context.Background(), http.MethodGet, vaultsPath)
		assert.True(t, (env.Data == nil) != (env.Error == nil), "status %d", status)
		require.NotNil(t, env.Meta, "status %d", status)
		assert.Equal(t, status, env.Meta.Status)
	}
}

func TestExecute_EmptySuccessBody(t *testing.T) {
	srv := testserver.New(t, testserver.WithStaticToken("static"))
	srv.Script(http.MethodDelete, "/v1/vaults/v1", testserver.Reply{Status: http.StatusNoContent})
	client := newTestClient(t, srv, Config{Token: "static"})

	type deleted struct {
		ID string `json:"id"`
	}
	env := Do[deleted](context.Background(), client, http.MethodDelete, "/v1/vaults/v1")
	require.Nil(t, env.Error)
	require.NotNil(t, env.Data)
	assert.Equal(t, deleted{}, *env.Data)
}

func TestExecute_RequestOptions(t *testing.T) {
	srv := testserver.New(t, testserver.WithAPIKey("k1"))
	srv.Script(http.MethodPost, "/v1/vaults", testserver.Reply{Status: http.StatusUnauthorized})
	client := newTestClient(t, srv, Config{APIKey: "k1"})

	env := client.Execute(context.Background(), http.MethodPost, "/v1/vaults",
		WithBody(map[string]string{"name": "prod"}),
		WithQuery(url.Values{"dry_run": []string{"true"}}),
		WithHeader("X-Trace", "abc"),
		WithIdempotent(true),
	)
	require.Nil(t, env.Error)

	requests := srv.Requests(http.MethodPost, "/v1/vaults")
	require.Len(t, requests, 2)
	for _, r := range requests {
		assert.JSONEq(t, `{"name":"prod"}`, string(r.Body))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "abc", r.Header.Get("X-Trace"))
	}
	key := requests[0].Header.Get("Idempotency-Key")
	assert.NotEmpty(t, key)
	assert.Equal(t, key, requests[1].Header.Get("Idempotency-Key"))
	assert.Equal(t, key, requests[0].Header.Get("X-Request-Id"))
}

func TestExecute_UnencodableBody(t *testing.T) {
	srv := testserver.New(t, testserver.WithStaticToken("static"))
	client := newTestClient(t, srv, Config{Token: "static"})

	env := client.Execute(context.Background(), http.MethodPost, vaultsPath, WithBody(make(chan int)))
	require.NotNil(t, env.Error)
	assert.Equal(t, KindValidation, env.Error.Kind)
	assert.Nil(t, env.Meta)
	assert.Equal(t, 0, srv.Total())
}

func TestExecute_NetworkFailure(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	dead.Close()

	client, err := New(Config{BaseURL: dead.URL, Token: "static"})
	require.NoError(t, err)

	env := client.Execute(context.Background(), http.MethodGet, vaultsPath)
	require.NotNil(t, env.Error)
	assert.Equal(t, KindNetwork, env.Error.Kind)
	assert.Nil(t, env.Meta)
	assert.NotNil(t, env.Error.Cause)
}

func TestExecute_ExchangeFailures(t *testing.T) {
	srv := testserver.New(t, testserver.WithAPIKey("k1"))
	client := newTestClient(t, srv, Config{APIKey: "wrong"})

	env := client.Execute(context.Background(), http.MethodGet, vaultsPath)
	require.NotNil(t, env.Error)
	assert.Equal(t, KindAuth, env.Error.Kind)
	assert.Equal(t, http.StatusUnauthorized, env.Error.Status)
	assert.Contains(t, env.Error.Message, "token exchange failed")
	assert.Equal(t, 0, srv.Count(http.MethodGet, vaultsPath))

	srv.Script(http.MethodPost, "/v1/auth/api-key-token", testserver.Reply{Status: http.StatusServiceUnavailable})
	client = newTestClient(t, srv, Config{APIKey: "k1"})
	env = client.Execute(context.Background(), http.MethodGet, vaultsPath)
	require.NotNil(t, env.Error)
	assert.Equal(t, KindAuth, env.Error.Kind)

	dead := httptest.NewServer(http.NotFoundHandler())
	dead.Close()
	offline, err := New(Config{BaseURL: dead.URL, APIKey: "k1"})
	require.NoError(t, err)
	env = offline.Execute(context.Background(), http.MethodGet, vaultsPath)
	require.NotNil(t, env.Error)
	assert.Equal(t, KindNetwork, env.Error.Kind)
}

func TestExecute_CancelledContext(t *testing.T) {
	srv := testserver.New(t, testserver.WithAPIKey("k1"), testserver.WithExchangeDelay(time.Second))
	client := newTestClient(t, srv, Config{APIKey: "k1"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	env := client.Execute(ctx, http.MethodGet, vaultsPath)
	require.NotNil(t, env.Error)
	assert.Equal(t, KindNetwork, env.Error.Kind)
	assert.ErrorIs(t, env.Error, context.DeadlineExceeded)
	assert.Equal(t, 0, srv.Count(http.MethodGet, vaultsPath))
}

func TestExecute_ConcurrentCallsShareOneExchange(t *testing.T) {
	srv := testserver.New(t, testserver.WithAPIKey("k1"), testserver.WithExchangeDelay(50*time.Millisecond))
	client := newTestClient(t, srv, Config{APIKey: "k1"})

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan *Error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if env := client.Execute(context.Background(), http.MethodGet, vaultsPath); env.Error != nil {
				errs <- env.Error
			}
		}()
	}
	wg.Wait()
	close(errs)

	for e := range errs {
		t.Errorf("unexpected error: %v", e)
	}
	assert.Equal(t, 1, srv.Exchanges())
	assert.Equal(t, n, srv.Count(http.MethodGet, vaultsPath))
}

func TestDoAndCall(t *testing.T) {
	srv := testserver.New(t, testserver.WithStaticToken("static"))
	srv.Script(http.MethodGet, "/v1/vaults/v1", testserver.Reply{
		Status: http.StatusOK,
		Body:   `{"data":{"id":"v1","name":"prod"},"meta":{"request_id":"req_42"}}`,
	})
	srv.Script(http.MethodGet, "/v1/vaults/missing", testserver.Reply{Status: http.StatusNotFound})
	srv.Script(http.MethodGet, "/v1/vaults/odd", testserver.Reply{Status: http.StatusOK, Body: `{"data":"not an object"}`})
	client := newTestClient(t, srv, Config{Token: "static"})

	type vault struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}

	env := Do[vault](context.Background(), client, http.MethodGet, "/v1/vaults/v1")
	require.Nil(t, env.Error)
	assert.Equal(t, vault{ID: "v1", Name: "prod"}, *env.Data)
	assert.Equal(t, "req_42", env.Meta.RequestID)

	_, err := Call[vault](context.Background(), client, http.MethodGet, "/v1/vaults/missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, errors.Is(err, ErrAuth))

	odd := Do[vault](context.Background(), client, http.MethodGet, "/v1/vaults/odd")
	require.NotNil(t, odd.Error)
	assert.Equal(t, KindServer, odd.Error.Kind)
	assert.Nil(t, odd.Data)
}

func TestClient_InvalidateLogoutAndClose(t *testing.T) {
	srv := testserver.New(t, testserver.WithAPIKey("k1"))
	client := newTestClient(t, srv, Config{APIKey: "k1"})
	ctx := context.Background()

	require.Nil(t, client.Execute(ctx, http.MethodGet, vaultsPath).Error)
	client.InvalidateToken()
	require.Nil(t, client.Execute(ctx, http.MethodGet, vaultsPath).Error)
	require.NoError(t, client.Logout(ctx))
	require.Nil(t, client.Execute(ctx, http.MethodGet, vaultsPath).Error)
	assert.Equal(t, 3, srv.Exchanges())

	require.NoError(t, client.Close())
	env := client.Execute(ctx, http.MethodGet, vaultsPath)
	require.NotNil(t, env.Error)
	assert.Equal(t, KindNetwork, env.Error.Kind)
	assert.ErrorIs(t, env.Error, errClientClosed)
	assert.Equal(t, 3, srv.Count(http.MethodGet, vaultsPath))
}

func TestClient_SignerAddress(t *testing.T) {
	srv := testserver.New(t, testserver.WithStaticToken("static"))

	client := newTestClient(t, srv, Config{Token: "static"})
	_, err := client.SignerAddress(context.Background())
	var payErr *x402.PaymentError
	require.True(t, errors.As(err, &payErr))
	assert.Equal(t, x402.ErrCodeNoSigner, payErr.Code)

	client = newTestClient(t, srv, Config{Token: "static"}, WithSigner(newMockSigner()))
	addr, err := client.SignerAddress(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0xPayer", addr)
}

func TestExecute_TracesCallAndAttempts(t *testing.T) {
	srv := testserver.New(t, testserver.WithAPIKey("k1"))
	srv.Script(http.MethodGet, vaultsPath, testserver.Reply{Status: http.StatusUnauthorized})
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	client := newTestClient(t, srv, Config{APIKey: "k1"}, WithTracerProvider(tp))

	env := client.Execute(context.Background(), http.MethodGet, vaultsPath)
	require.Nil(t, env.Error)

	var calls, attempts int
	for _, span := range recorder.Ended() {
		switch span.Name() {
		case "oneclaw GET":
			calls++
		case "oneclaw.attempt":
			attempts++
		}
	}
	assert.Equal(t, 1, calls)
	assert.Equal(t, 2, attempts)
}

func TestExecute_LogsReauthAndPayment(t *testing.T) {
	srv := testserver.New(t, testserver.WithAPIKey("k1"),
		testserver.WithPaywall("/v1/secrets/db", paywall(1, "0.01")))
	srv.Script(http.MethodGet, vaultsPath, testserver.Reply{Status: http.StatusUnauthorized})
	core, logs := observer.New(zapcore.InfoLevel)
	client := newTestClient(t, srv, Config{APIKey: "k1", MaxAutoPayUSD: decimal.RequireFromString("1")},
		WithSigner(newMockSigner()), WithLogger(zap.New(core)))

	require.Nil(t, client.Execute(context.Background(), http.MethodGet, vaultsPath).Error)
	require.Nil(t, client.Execute(context.Background(), http.MethodGet, "/v1/secrets/db").Error)

	assert.Equal(t, 1, logs.FilterMessage("bearer token rejected, re-authenticating").Len())
	paid := logs.FilterMessage("payment negotiated, retrying").All()
	require.Len(t, paid, 1)
	fields := paid[0].ContextMap()
	assert.Equal(t, "0.01", fields["priceUsd"])
	assert.Equal(t, "0xPayTo", fields["payTo"])

	for _, entry := range logs.All() {
		for _, v := range entry.ContextMap() {
			assert.NotEqual(t, "k1", v)
		}
	}
}

func TestExecute_RecordsMetrics(t *testing.T) {
	srv := testserver.New(t, testserver.WithAPIKey("k1"),
		testserver.WithPaywall("/v1/secrets/db", paywall(1, "0.01")))
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	client := newTestClient(t, srv, Config{APIKey: "k1", MaxAutoPayUSD: decimal.RequireFromString("1")},
		WithSigner(newMockSigner()), WithMetrics(metrics))

	require.Nil(t, client.Execute(context.Background(), http.MethodGet, "/v1/secrets/db").Error)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.calls.WithLabelValues("GET", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.retries.WithLabelValues(retryPayment)))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.payments.WithLabelValues("signed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.exchanges.WithLabelValues("success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.requests.WithLabelValues("GET", "402")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.requests.WithLabelValues("GET", "200")))

	count, err := testutil.GatherAndCount(reg, "oneclaw_calls_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
