package x402

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
)

// PaymentHeaderName returns the request header that carries a payload of
// the given protocol version.
func PaymentHeaderName(version int) string {
	if version >= ProtocolVersion {
		return HeaderPaymentSignature
	}
	return HeaderPayment
}

// EncodePaymentHeader encodes a payment payload as base64 JSON.
// The struct field order fixes the JSON layout, so equal payloads always
// encode to the same header value.
func EncodePaymentHeader(payload PaymentPayload) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodePaymentHeader decodes a base64 payment header
func DecodePaymentHeader(header string) (PaymentPayload, error) {
	data, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return PaymentPayload{}, fmt.Errorf("invalid base64 encoding: %w", err)
	}

	var payload PaymentPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return PaymentPayload{}, fmt.Errorf("invalid payment payload JSON: %w", err)
	}

	return payload, nil
}

// ParsePaymentRequired extracts the payment requirement from a 402 response.
// A v2 PAYMENT-REQUIRED header wins over the body; the body is otherwise the
// raw requirement, not wrapped in the usual response envelope.
func ParsePaymentRequired(header http.Header, body []byte) (PaymentRequired, error) {
	raw := body
	if encoded := header.Get(HeaderPaymentRequired); encoded != "" {
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return PaymentRequired{}, NewPaymentError(ErrCodeInvalidRequirement, fmt.Sprintf("invalid base64 in %s header: %v", HeaderPaymentRequired, err), nil)
		}
		raw = decoded
	}

	if len(raw) == 0 {
		return PaymentRequired{}, NewPaymentError(ErrCodeInvalidRequirement, "no payment required information found in response", nil)
	}

	if err := ValidatePaymentRequired(raw); err != nil {
		return PaymentRequired{}, err
	}

	var required PaymentRequired
	if err := json.Unmarshal(raw, &required); err != nil {
		return PaymentRequired{}, NewPaymentError(ErrCodeInvalidRequirement, fmt.Sprintf("invalid payment required JSON: %v", err), nil)
	}

	return required, nil
}

// DecodeSettleReceipt reads the settlement receipt from a paid response.
// It returns nil, nil when the server sent no receipt.
func DecodeSettleReceipt(header http.Header) (*SettleReceipt, error) {
	encoded := header.Get(HeaderPaymentResponseV2)
	if encoded == "" {
		encoded = header.Get(HeaderPaymentResponse)
	}
	if encoded == "" {
		return nil, nil
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, NewPaymentError(ErrCodeInvalidReceipt, fmt.Sprintf("invalid base64 encoding: %v", err), nil)
	}

	var receipt SettleReceipt
	if err := json.Unmarshal(data, &receipt); err != nil {
		return nil, NewPaymentError(ErrCodeInvalidReceipt, fmt.Sprintf("invalid settle response JSON: %v", err), nil)
	}

	return &receipt, nil
}

// EncodeSettleReceipt encodes a receipt the way servers send it.
func EncodeSettleReceipt(receipt SettleReceipt) (string, error) {
	data, err := json.Marshal(receipt)
	if err != nil {
		return "", fmt.Errorf("failed to marshal settle receipt: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
