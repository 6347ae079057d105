package oneclaw

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeSuccess(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		data      string
		requestID string
		kind      Kind
	}{
		{name: "envelope", body: `{"data":{"id":"v1"},"error":null,"meta":{"request_id":"r1"}}`, data: `{"id":"v1"}`, requestID: "r1"},
		{name: "empty body", body: "", data: "null"},
		{name: "whitespace body", body: "  \n", data: "null"},
		{name: "meta without data", body: `{"meta":{"request_id":"r2"}}`, data: "null", requestID: "r2"},
		{name: "bare object", body: `{"id":"v1"}`, data: `{"id":"v1"}`},
		{name: "bare array", body: `[1,2]`, data: `[1,2]`},
		{name: "error inside 2xx", body: `{"data":null,"error":{"message":"partial failure"}}`, kind: KindServer},
		{name: "not json", body: `<html>`, kind: KindServer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, requestID, err := decodeSuccess(200, []byte(tt.body))
			if tt.kind != "" {
				require.NotNil(t, err)
				assert.Equal(t, tt.kind, err.Kind)
				return
			}
			require.Nil(t, err)
			assert.JSONEq(t, tt.data, string(data))
			assert.Equal(t, tt.requestID, requestID)
		})
	}
}

func TestEnvelope_Unwrap(t *testing.T) {
	value := 7
	ok := &Envelope[int]{Data: &value, Meta: &Meta{Status: 200}}
	got, err := ok.Unwrap()
	require.NoError(t, err)
	assert.Equal(t, 7, got)
	assert.True(t, ok.OK())

	failed := failure[int](NewNotFoundError("gone"), &Meta{Status: 404})
	got, err = failed.Unwrap()
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, got)
	assert.False(t, failed.OK())
}

func TestEnvelope_JSON(t *testing.T) {
	env := failure[json.RawMessage](NewRateLimitError("5", "slow down"), &Meta{Status: 429, RequestID: "r"})
	out, err := json.Marshal(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"data": null,
		"error": {"type": "RateLimit", "status": 429, "message": "slow down", "retry_after": "5"},
		"meta": {"status": 429, "request_id": "r"}
	}`, string(out))
}

func TestDecodeTokenResponse(t *testing.T) {
	bare, err := decodeTokenResponse([]byte(`{"access_token":"a","token_type":"Bearer","expires_in":60}`))
	require.NoError(t, err)
	assert.Equal(t, "a", bare.AccessToken)
	assert.Equal(t, int64(60), bare.ExpiresIn)

	wrapped, err := decodeTokenResponse([]byte(`{"data":{"access_token":"b","refresh_token":"r"}}`))
	require.NoError(t, err)
	assert.Equal(t, "b", wrapped.AccessToken)
	assert.Equal(t, "r", wrapped.RefreshToken)

	_, err = decodeTokenResponse([]byte(`{"ok":true}`))
	assert.Error(t, err)
	_, err = decodeTokenResponse([]byte(`nope`))
	assert.Error(t, err)
}
