package oneclaw

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/1clawAI/1claw-sdk/x402"
)

// Meta describes the response that ended a call. It is nil when no
// response arrived at all.
type Meta struct {
	Status    int    `json:"status"`
	RequestID string `json:"request_id,omitempty"`

	// Payment is the settlement receipt of a paid call
	Payment *x402.SettleReceipt `json:"payment,omitempty"`
}

// Envelope is the result of a logical call. Exactly one of Data and Error
// is non-nil.
type Envelope[T any] struct {
	Data  *T     `json:"data"`
	Error *Error `json:"error"`
	Meta  *Meta  `json:"meta"`
}

// Unwrap converts the envelope to a value and a Go error
func (e *Envelope[T]) Unwrap() (T, error) {
	var zero T
	if e.Error != nil {
		return zero, e.Error
	}
	if e.Data == nil {
		return zero, nil
	}
	return *e.Data, nil
}

// OK reports whether the call succeeded
func (e *Envelope[T]) OK() bool {
	return e.Error == nil
}

func failure[T any](err *Error, meta *Meta) *Envelope[T] {
	return &Envelope[T]{Error: err, Meta: meta}
}

// Do runs Execute and decodes the data into T
func Do[T any](ctx context.Context, c *Client, method, path string, opts ...RequestOption) *Envelope[T] {
	env := c.Execute(ctx, method, path, opts...)
	if env.Error != nil {
		return failure[T](env.Error, env.Meta)
	}

	var v T
	if env.Data != nil && !isNull(*env.Data) {
		if err := json.Unmarshal(*env.Data, &v); err != nil {
			e := NewServerError(env.Meta.Status, "response data does not match the expected type", rawDetail(*env.Data))
			e.Cause = err
			return failure[T](e, env.Meta)
		}
	}
	return &Envelope[T]{Data: &v, Meta: env.Meta}
}

// Call runs Do and returns the data or the classified error
func Call[T any](ctx context.Context, c *Client, method, path string, opts ...RequestOption) (T, error) {
	return Do[T](ctx, c, method, path, opts...).Unwrap()
}

// wireEnvelope is the {data, error, meta} body the API wraps results in
type wireEnvelope struct {
	Data  json.RawMessage `json:"data"`
	Error json.RawMessage `json:"error"`
	Meta  *wireMeta       `json:"meta"`
}

type wireMeta struct {
	RequestID string `json:"request_id"`
}

var jsonNull = json.RawMessage("null")

// decodeSuccess extracts the data of a 2xx body. An empty body yields null
// data. A JSON value that is not an envelope is taken as the data itself.
func decodeSuccess(status int, body []byte) (json.RawMessage, string, *Error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return jsonNull, "", nil
	}
	if !json.Valid(trimmed) {
		return nil, "", NewServerError(status, "response body is not JSON", rawDetail(body))
	}
	if trimmed[0] != '{' {
		return json.RawMessage(trimmed), "", nil
	}

	var keys map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &keys); err != nil {
		return nil, "", NewServerError(status, "response body is not JSON", rawDetail(body))
	}
	_, hasData := keys["data"]
	_, hasError := keys["error"]
	_, hasMeta := keys["meta"]
	if !hasData && !hasError && !hasMeta {
		return json.RawMessage(trimmed), "", nil
	}

	var env wireEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, "", NewServerError(status, "malformed response envelope", rawDetail(body))
	}
	requestID := ""
	if env.Meta != nil {
		requestID = env.Meta.RequestID
	}
	if len(env.Error) > 0 && !isNull(env.Error) && (len(env.Data) == 0 || isNull(env.Data)) {
		info, _ := parseErrorBody(trimmed)
		msg := info.message
		if msg == "" {
			msg = "response carried an error"
		}
		return nil, requestID, NewServerError(status, msg, info.detail)
	}
	if len(env.Data) == 0 {
		return jsonNull, requestID, nil
	}
	return env.Data, requestID, nil
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}
