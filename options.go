package oneclaw

import (
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ClientOption configures a Client's collaborators
type ClientOption func(*Client)

// WithHTTPClient replaces the HTTP client. Its Timeout takes precedence
// over Config.Timeout.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithSigner sets the wallet used to sign x402 payments. Without one,
// payment-gated calls end in PaymentRequired.
func WithSigner(signer Signer) ClientOption {
	return func(c *Client) {
		c.signer = signer
	}
}

// WithLogger sets the logger. Default: zap.NewNop(); nil is ignored
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics records pipeline metrics into m
func WithMetrics(m *Metrics) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithTracerProvider enables tracing. Default: no-op; nil is ignored
func WithTracerProvider(tp trace.TracerProvider) ClientOption {
	return func(c *Client) {
		if tp != nil {
			c.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithClock overrides time.Now, for tests
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		c.now = now
	}
}

// RequestOption configures one logical call
type RequestOption func(*request)

// WithBody sets the JSON request body
func WithBody(body any) RequestOption {
	return func(r *request) {
		r.body = body
		r.hasBody = true
	}
}

// WithIdempotent marks the call as safe to repeat. Such calls carry an
// Idempotency-Key that stays the same across the call's retry.
func WithIdempotent(idempotent bool) RequestOption {
	return func(r *request) {
		r.idempotent = idempotent
	}
}

// WithQuery adds query parameters
func WithQuery(q url.Values) RequestOption {
	return func(r *request) {
		if r.query == nil {
			r.query = url.Values{}
		}
		for k, vs := range q {
			for _, v := range vs {
				r.query.Add(k, v)
			}
		}
	}
}

// WithHeader sets an extra request header
func WithHeader(key, value string) RequestOption {
	return func(r *request) {
		if r.header == nil {
			r.header = http.Header{}
		}
		r.header.Set(key, value)
	}
}
