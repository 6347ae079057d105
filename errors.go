package oneclaw

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/1clawAI/1claw-sdk/x402"
)

// Kind is the closed set of failure categories a call can end in
type Kind string

const (
	KindAuth             Kind = "Auth"
	KindPaymentRequired  Kind = "PaymentRequired"
	KindApprovalRequired Kind = "ApprovalRequired"
	KindNotFound         Kind = "NotFound"
	KindRateLimit        Kind = "RateLimit"
	KindValidation       Kind = "Validation"
	KindServer           Kind = "Server"
	KindNetwork          Kind = "Network"
)

// Error is the classified failure of a logical call. Which of the optional
// fields are set depends on Kind.
type Error struct {
	Kind    Kind   `json:"type"`
	Status  int    `json:"status,omitempty"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`

	// ApprovalID identifies the pending human approval (ApprovalRequired)
	ApprovalID string `json:"approval_id,omitempty"`

	// RetryAfter is the raw Retry-After header value (RateLimit)
	RetryAfter string `json:"retry_after,omitempty"`

	// Requirement is the latest payment requirement (PaymentRequired)
	Requirement *x402.PaymentRequired `json:"requirement,omitempty"`

	Cause error `json:"-"`
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("oneclaw: ")
	b.WriteString(string(e.Kind))
	if e.Status != 0 {
		fmt.Fprintf(&b, " (%d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same Kind, so that
// errors.Is(err, ErrRateLimit) matches any rate-limit failure.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// RetryAfterDuration interprets RetryAfter as delta-seconds or an HTTP date.
// It returns false when the header was absent or unparseable.
func (e *Error) RetryAfterDuration(now time.Time) (time.Duration, bool) {
	if e.RetryAfter == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(e.RetryAfter)); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(e.RetryAfter); err == nil {
		d := at.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

// Sentinels for errors.Is. Only Kind is compared.
var (
	ErrAuth             = &Error{Kind: KindAuth, Message: "authentication failed"}
	ErrPaymentRequired  = &Error{Kind: KindPaymentRequired, Message: "payment required"}
	ErrApprovalRequired = &Error{Kind: KindApprovalRequired, Message: "approval required"}
	ErrNotFound         = &Error{Kind: KindNotFound, Message: "not found"}
	ErrRateLimit        = &Error{Kind: KindRateLimit, Message: "rate limited"}
	ErrValidation       = &Error{Kind: KindValidation, Message: "invalid request"}
	ErrServer           = &Error{Kind: KindServer, Message: "server error"}
	ErrNetwork          = &Error{Kind: KindNetwork, Message: "network failure"}
)

// NewAuthError creates an Auth error
func NewAuthError(status int, message string) *Error {
	return &Error{Kind: KindAuth, Status: status, Message: message}
}

// NewPaymentRequiredError creates a PaymentRequired error carrying the
// requirement the server sent and, when auto-payment was refused or
// failed, the reason.
func NewPaymentRequiredError(required *x402.PaymentRequired, detail string, cause error) *Error {
	message := "payment required"
	if required != nil && required.Error != "" {
		message = required.Error
	}
	return &Error{
		Kind:        KindPaymentRequired,
		Status:      http.StatusPaymentRequired,
		Message:     message,
		Detail:      detail,
		Requirement: required,
		Cause:       cause,
	}
}

// NewApprovalRequiredError creates an ApprovalRequired error
func NewApprovalRequiredError(approvalID, message string) *Error {
	return &Error{
		Kind:       KindApprovalRequired,
		Status:     http.StatusForbidden,
		Message:    message,
		ApprovalID: approvalID,
	}
}

// NewNotFoundError creates a NotFound error
func NewNotFoundError(message string) *Error {
	return &Error{Kind: KindNotFound, Status: http.StatusNotFound, Message: message}
}

// NewRateLimitError creates a RateLimit error
func NewRateLimitError(retryAfter, message string) *Error {
	return &Error{
		Kind:       KindRateLimit,
		Status:     http.StatusTooManyRequests,
		Message:    message,
		RetryAfter: retryAfter,
	}
}

// NewValidationError creates a Validation error
func NewValidationError(status int, message, detail string) *Error {
	return &Error{Kind: KindValidation, Status: status, Message: message, Detail: detail}
}

// NewServerError creates a Server error
func NewServerError(status int, message, detail string) *Error {
	return &Error{Kind: KindServer, Status: status, Message: message, Detail: detail}
}

// NewNetworkError wraps a transport failure
func NewNetworkError(cause error) *Error {
	message := "request failed"
	if cause != nil {
		message = cause.Error()
	}
	return &Error{Kind: KindNetwork, Message: message, Cause: cause}
}

// ConfigError reports an invalid Config field
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("oneclaw: invalid config %s: %s", e.Field, e.Message)
}
