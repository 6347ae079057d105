package oneclaw

import "time"

// Version is the SDK version
const Version = "0.4.0"

// DefaultBaseURL is the public 1claw API
const DefaultBaseURL = "https://api.1claw.xyz"

const (
	// DefaultTimeout bounds a single HTTP round-trip
	DefaultTimeout = 30 * time.Second

	// DefaultSignerTimeout bounds a single signer invocation
	DefaultSignerTimeout = 60 * time.Second

	// DefaultTokenSkew is subtracted from a token's declared lifetime so it
	// is refreshed before the server starts rejecting it
	DefaultTokenSkew = 30 * time.Second
)

// Token exchange endpoints
const (
	apiKeyTokenPath = "/v1/auth/api-key-token"
	agentTokenPath  = "/v1/auth/agent-token"
)

const (
	headerAuthorization  = "Authorization"
	headerRequestID      = "X-Request-Id"
	headerIdempotencyKey = "Idempotency-Key"
	headerRetryAfter     = "Retry-After"

	// maxResponseBody caps how much of a response body is read into memory
	maxResponseBody = 10 << 20
)
