package x402

import "fmt"

// PaymentError represents a payment-specific error
type PaymentError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

func (e *PaymentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PaymentError) Unwrap() error {
	return e.Err
}

// Common error codes
const (
	ErrCodeInvalidRequirement = "invalid_requirement"
	ErrCodeUnsupportedNetwork = "unsupported_network"
	ErrCodeInvalidPrice       = "invalid_price"
	ErrCodePolicyRejected     = "policy_rejected"
	ErrCodeNoSigner           = "no_signer"
	ErrCodeSignerFailed       = "signer_failed"
	ErrCodeInvalidReceipt     = "invalid_receipt"
)

// NewPaymentError creates a new payment error
func NewPaymentError(code, message string, details map[string]interface{}) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: message,
		Details: details,
	}
}
