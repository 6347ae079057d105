// Package oneclaw is the request pipeline of the 1claw Go SDK.
//
// Every resource call goes through one entry point, Client.Execute, which
// turns a logical call into at most a handful of wire requests while
// handling three protocols on the caller's behalf:
//
//   - bearer tokens: long-lived API keys are exchanged for short-lived
//     tokens, cached, and refreshed when they expire or are rejected
//   - x402 payments: a 402 response is paid automatically when the
//     configured policy and signer allow it, then the call is retried once
//   - error classification: every failure becomes an *Error with a Kind
//     callers can branch on
//
// # Usage
//
//	client, err := oneclaw.New(oneclaw.Config{APIKey: os.Getenv("ONECLAW_API_KEY")})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	env := client.Execute(ctx, http.MethodGet, "/v1/vaults")
//	if env.Error != nil {
//	    // branch on env.Error.Kind
//	}
//
// Callers that prefer plain Go errors use Call:
//
//	vaults, err := oneclaw.Call[VaultList](ctx, client, http.MethodGet, "/v1/vaults")
//	if errors.Is(err, oneclaw.ErrPaymentRequired) {
//	    // present err.(*oneclaw.Error).Requirement to a human
//	}
package oneclaw
