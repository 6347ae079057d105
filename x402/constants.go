// Package x402 implements the client half of the x402 payment protocol as
// spoken by the 1claw API: parsing 402 payment requirements, deciding whether
// an offer may be paid automatically, and framing the signed payment proof
// that accompanies the retried request.
package x402

const (
	// ProtocolVersion is the current x402 protocol version
	ProtocolVersion = 2

	// ProtocolVersionV1 is the legacy x402 protocol version
	ProtocolVersionV1 = 1
)

// HTTP header names used on the wire.
const (
	// HeaderPayment carries a v1 payment payload on the retried request
	HeaderPayment = "X-PAYMENT"
	// HeaderPaymentSignature carries a v2 payment payload on the retried request
	HeaderPaymentSignature = "PAYMENT-SIGNATURE"
	// HeaderPaymentRequired may carry the v2 requirement on a 402 response
	HeaderPaymentRequired = "PAYMENT-REQUIRED"
	// HeaderPaymentResponse carries the v1 settlement receipt
	HeaderPaymentResponse = "X-PAYMENT-RESPONSE"
	// HeaderPaymentResponseV2 carries the v2 settlement receipt
	HeaderPaymentResponseV2 = "PAYMENT-RESPONSE"
)

// DefaultNetwork is Base mainnet, where 1claw settles USDC payments.
const DefaultNetwork Network = "eip155:8453"

// USDCDecimals is the scale between a USD price and the atomic amount the
// signer authorizes. It is never taken from the offer.
const USDCDecimals = 6
