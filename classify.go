package oneclaw

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/1clawAI/1claw-sdk/x402"
)

// maxDetailLen truncates raw bodies copied into Error.Detail
const maxDetailLen = 2048

const approvalRequired = "approval_required"

// errorBody is the subset of an API error response the classifier reads.
// "error" is either a string or an object.
type errorBody struct {
	Error            json.RawMessage `json:"error"`
	Message          string          `json:"message"`
	Detail           json.RawMessage `json:"detail"`
	ApprovalRequired bool            `json:"approval_required"`
	ApprovalID       string          `json:"approval_id"`
}

type errorObject struct {
	Type             string          `json:"type"`
	Code             string          `json:"code"`
	Message          string          `json:"message"`
	Detail           json.RawMessage `json:"detail"`
	ApprovalRequired bool            `json:"approval_required"`
	ApprovalID       string          `json:"approval_id"`
}

type errorInfo struct {
	message    string
	detail     string
	approval   bool
	approvalID string
}

// Classify maps a non-2xx response to an *Error. It never fails: bodies
// that do not parse are kept as raw detail.
func Classify(status int, header http.Header, body []byte) *Error {
	info, parsed := parseErrorBody(body)
	message := info.message
	if message == "" {
		message = http.StatusText(status)
	}

	switch {
	case status == http.StatusUnauthorized:
		return NewAuthError(status, message)

	case status == http.StatusForbidden:
		if info.approval {
			return NewApprovalRequiredError(info.approvalID, message)
		}
		return NewAuthError(status, message)

	case status == http.StatusPaymentRequired:
		required, err := x402.ParsePaymentRequired(header, body)
		if err != nil {
			e := NewServerError(status, "unreadable payment requirement", rawDetail(body))
			e.Cause = err
			return e
		}
		return NewPaymentRequiredError(&required, "", nil)

	case status == http.StatusNotFound:
		return NewNotFoundError(message)

	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return NewValidationError(status, message, info.detail)

	case status == http.StatusTooManyRequests:
		return NewRateLimitError(header.Get(headerRetryAfter), message)

	case status >= 500:
		detail := info.detail
		if !parsed {
			detail = rawDetail(body)
		}
		return NewServerError(status, message, detail)
	}

	return NewServerError(status, message, rawDetail(body))
}

// parseErrorBody extracts what it can from an error response. The second
// result is false when the body is not a JSON object.
func parseErrorBody(body []byte) (errorInfo, bool) {
	var info errorInfo
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return info, false
	}

	var eb errorBody
	if err := json.Unmarshal(trimmed, &eb); err != nil {
		return info, false
	}

	info.message = eb.Message
	info.detail = detailString(eb.Detail)
	info.approval = eb.ApprovalRequired
	info.approvalID = eb.ApprovalID

	if len(eb.Error) > 0 {
		var s string
		var obj errorObject
		switch {
		case json.Unmarshal(eb.Error, &s) == nil:
			if info.message == "" {
				info.message = s
			}
			if s == approvalRequired {
				info.approval = true
			}
		case json.Unmarshal(eb.Error, &obj) == nil:
			if obj.Message != "" {
				info.message = obj.Message
			}
			if d := detailString(obj.Detail); d != "" {
				info.detail = d
			}
			if obj.Type == approvalRequired || obj.Code == approvalRequired || obj.ApprovalRequired {
				info.approval = true
			}
			if obj.ApprovalID != "" {
				info.approvalID = obj.ApprovalID
			}
		}
	}
	return info, true
}

// detailString renders a detail field: strings as-is, anything else as
// compact JSON.
func detailString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

func rawDetail(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxDetailLen {
		s = s[:maxDetailLen]
	}
	return s
}
