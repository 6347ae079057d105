package oneclaw

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/1clawAI/1claw-sdk/x402"
)

// request is one logical call. It is immutable once Execute starts, so
// a retry resends exactly the same method, path, query and body.
type request struct {
	method     string
	path       string
	query      url.Values
	header     http.Header
	body       any
	hasBody    bool
	idempotent bool

	id      string
	payload []byte
}

// response is what came back from one wire attempt
type response struct {
	status int
	header http.Header
	body   []byte
}

// retry reasons; a call retries at most once, for one of them
const (
	retryReauth  = "reauth"
	retryPayment = "payment"
)

// Execute sends one logical call and returns its result. It re-authenticates
// once on 401 and pays once on 402 when the payment policy allows, but never
// both. Execute never returns nil.
func (c *Client) Execute(ctx context.Context, method, path string, opts ...RequestOption) *Envelope[json.RawMessage] {
	req := &request{method: method, path: path, id: c.newID()}
	for _, opt := range opts {
		opt(req)
	}

	ctx, span := c.tracer.Start(ctx, "oneclaw "+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("oneclaw.path", path),
			attribute.String("oneclaw.request_id", req.id),
		))
	defer span.End()

	start := c.now()
	env := c.execute(ctx, req)

	outcome := "ok"
	if env.Error != nil {
		outcome = string(env.Error.Kind)
		span.RecordError(env.Error)
		span.SetStatus(codes.Error, string(env.Error.Kind))
		c.logger.Debug("call failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.String("requestId", req.id),
			zap.String("kind", string(env.Error.Kind)),
			zap.Int("status", env.Error.Status),
			zap.String("message", env.Error.Message))
	}
	if env.Meta != nil {
		span.SetAttributes(attribute.Int("http.response.status_code", env.Meta.Status))
	}
	c.metrics.call(method, outcome, c.now().Sub(start))
	return env
}

func (c *Client) execute(ctx context.Context, req *request) *Envelope[json.RawMessage] {
	if req.hasBody {
		payload, err := json.Marshal(req.body)
		if err != nil {
			e := NewValidationError(0, "request body cannot be encoded", err.Error())
			e.Cause = err
			return failure[json.RawMessage](e, nil)
		}
		req.payload = payload
	}

	var (
		retried bool
		payment *x402.PaymentPayload
	)
	for {
		token, err := c.creds.AcquireToken(ctx)
		if err != nil {
			return failure[json.RawMessage](asError(err), nil)
		}

		resp, err := c.send(ctx, req, token, payment)
		if err != nil {
			return failure[json.RawMessage](NewNetworkError(err), nil)
		}
		requestID := resp.header.Get(headerRequestID)
		if requestID == "" {
			requestID = req.id
		}
		meta := &Meta{Status: resp.status, RequestID: requestID}

		switch {
		case resp.status >= 200 && resp.status < 300:
			return c.succeed(resp, meta, payment != nil)

		case resp.status == http.StatusUnauthorized && !retried && c.creds.refreshable():
			retried = true
			c.creds.invalidateIfCurrent(token)
			c.metrics.retry(retryReauth)
			c.logger.Info("bearer token rejected, re-authenticating",
				zap.String("path", req.path),
				zap.String("requestId", req.id))

		case resp.status == http.StatusPaymentRequired && !retried:
			required, err := x402.ParsePaymentRequired(resp.header, resp.body)
			if err != nil {
				return failure[json.RawMessage](Classify(resp.status, resp.header, resp.body), meta)
			}
			p, err := c.negotiate(ctx, req, required)
			if err != nil {
				return failure[json.RawMessage](NewPaymentRequiredError(&required, err.Error(), err), meta)
			}
			retried = true
			payment = &p
			c.metrics.retry(retryPayment)

		default:
			return failure[json.RawMessage](c.classify(resp, meta), meta)
		}
	}
}

func (c *Client) negotiate(ctx context.Context, req *request, required x402.PaymentRequired) (x402.PaymentPayload, error) {
	payload, err := x402.Negotiate(ctx, required, c.policy, c.signer)
	if err != nil {
		c.metrics.payment("refused")
		c.logger.Warn("payment not made",
			zap.String("path", req.path),
			zap.String("requestId", req.id),
			zap.Error(err))
		return x402.PaymentPayload{}, err
	}

	c.metrics.payment("signed")
	fields := []zap.Field{
		zap.String("path", req.path),
		zap.String("requestId", req.id),
		zap.String("network", string(payload.Network)),
		zap.String("scheme", payload.Scheme),
	}
	if offer, err := x402.SelectOffer(required, c.policy.Network); err == nil {
		if price, err := offer.USDPrice(); err == nil {
			fields = append(fields, zap.String("priceUsd", price.String()))
		}
		fields = append(fields, zap.String("payTo", offer.PayTo))
	}
	c.logger.Info("payment negotiated, retrying", fields...)
	return payload, nil
}

func (c *Client) succeed(resp *response, meta *Meta, paid bool) *Envelope[json.RawMessage] {
	data, bodyRequestID, derr := decodeSuccess(resp.status, resp.body)
	if bodyRequestID != "" {
		meta.RequestID = bodyRequestID
	}
	if derr != nil {
		return failure[json.RawMessage](derr, meta)
	}

	if paid {
		receipt, err := x402.DecodeSettleReceipt(resp.header)
		if err != nil {
			c.logger.Warn("unreadable settlement receipt",
				zap.String("requestId", meta.RequestID),
				zap.Error(err))
		}
		meta.Payment = receipt
		if receipt != nil {
			c.logger.Debug("payment settled",
				zap.String("transaction", receipt.Transaction),
				zap.Bool("success", receipt.Success))
		}
	}
	return &Envelope[json.RawMessage]{Data: &data, Meta: meta}
}

func (c *Client) classify(resp *response, meta *Meta) *Error {
	e := Classify(resp.status, resp.header, resp.body)
	if _, bodyRequestID, _ := decodeSuccess(resp.status, resp.body); bodyRequestID != "" {
		meta.RequestID = bodyRequestID
	}
	return e
}

// send performs one wire attempt
func (c *Client) send(ctx context.Context, req *request, token string, payment *x402.PaymentPayload) (*response, error) {
	ctx, span := c.tracer.Start(ctx, "oneclaw.attempt", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	target := c.baseURL + req.path
	if len(req.query) > 0 {
		target += "?" + req.query.Encode()
	}

	var body io.Reader
	if req.payload != nil {
		body = bytes.NewReader(req.payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for k, vs := range req.header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.userAgent)
	httpReq.Header.Set(headerRequestID, req.id)
	httpReq.Header.Set(headerAuthorization, "Bearer "+token)
	if req.payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.idempotent {
		httpReq.Header.Set(headerIdempotencyKey, req.id)
	}
	if payment != nil {
		encoded, err := x402.EncodePaymentHeader(*payment)
		if err != nil {
			return nil, fmt.Errorf("failed to encode payment header: %w", err)
		}
		httpReq.Header.Set(x402.PaymentHeaderName(payment.X402Version), encoded)
		span.SetAttributes(attribute.Bool("oneclaw.paid", true))
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.metrics.request(req.method, 0)
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport failure")
		return nil, err
	}
	defer resp.Body.Close()
	c.metrics.request(req.method, resp.StatusCode)
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return &response{status: resp.StatusCode, header: resp.Header, body: respBody}, nil
}

// asError turns a token acquisition failure into a classified error
func asError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return NewNetworkError(err)
}
