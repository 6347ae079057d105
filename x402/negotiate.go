package x402

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
)

// Signer produces payment proofs. Wallet integrations implement it; the
// negotiator never looks past the returned signature.
type Signer interface {
	// GetAddress returns the paying wallet's address
	GetAddress(ctx context.Context) (string, error)
	// SignPayment signs the offer's terms. It may block on a network or
	// hardware wallet.
	SignPayment(ctx context.Context, offer PaymentOffer) ([]byte, error)
}

// Policy is the client's auto-pay policy.
type Policy struct {
	// Network is the only network the client pays on
	Network Network
	// MaxAutoPayUSD is the largest price paid without a human. Zero disables
	// auto-pay for anything that costs money.
	MaxAutoPayUSD decimal.Decimal
	// SignerTimeout bounds one signer invocation. Zero leaves only ctx.
	SignerTimeout time.Duration
}

// SelectOffer returns the first offer on the given network. Offers that
// name only a namespace ("eip155:*") are never selected.
func SelectOffer(required PaymentRequired, network Network) (PaymentOffer, error) {
	for _, offer := range required.Accepts {
		if !offer.Network.IsWildcard() && offer.Network.Match(network) {
			return offer, nil
		}
	}

	offered := make([]string, 0, len(required.Accepts))
	for _, offer := range required.Accepts {
		offered = append(offered, string(offer.Network))
	}
	return PaymentOffer{}, NewPaymentError(
		ErrCodeUnsupportedNetwork,
		fmt.Sprintf("no payment offer on network %s", network),
		map[string]interface{}{
			"network": string(network),
			"offered": offered,
		},
	)
}

// CheckPolicy prices the exact amount the signer will authorize and
// rejects it when it exceeds the auto-pay limit.
func CheckPolicy(offer PaymentOffer, policy Policy) (decimal.Decimal, error) {
	price, err := offer.USDPrice()
	if err != nil {
		return decimal.Zero, &PaymentError{
			Code:    ErrCodeInvalidPrice,
			Message: "cannot read offer price",
			Err:     err,
		}
	}

	if price.GreaterThan(policy.MaxAutoPayUSD) {
		return price, NewPaymentError(
			ErrCodePolicyRejected,
			fmt.Sprintf("price $%s exceeds auto-pay limit $%s", price.String(), policy.MaxAutoPayUSD.String()),
			map[string]interface{}{
				"price":         price.String(),
				"maxAutoPayUsd": policy.MaxAutoPayUSD.String(),
			},
		)
	}

	return price, nil
}

// Negotiate turns a payment requirement into a signed payload, or explains
// why it will not pay. Network selection and the price policy both run
// before the signer is touched.
func Negotiate(ctx context.Context, required PaymentRequired, policy Policy, signer Signer) (PaymentPayload, error) {
	offer, err := SelectOffer(required, policy.Network)
	if err != nil {
		return PaymentPayload{}, err
	}

	if _, err := CheckPolicy(offer, policy); err != nil {
		return PaymentPayload{}, err
	}

	if signer == nil {
		return PaymentPayload{}, NewPaymentError(ErrCodeNoSigner, "payment is within policy but no signer is configured", nil)
	}

	signCtx := ctx
	if policy.SignerTimeout > 0 {
		var cancel context.CancelFunc
		signCtx, cancel = context.WithTimeout(ctx, policy.SignerTimeout)
		defer cancel()
	}

	signature, err := signer.SignPayment(signCtx, offer)
	if err != nil {
		return PaymentPayload{}, &PaymentError{
			Code:    ErrCodeSignerFailed,
			Message: "signer did not produce a payment signature",
			Err:     err,
		}
	}
	if len(signature) == 0 {
		return PaymentPayload{}, NewPaymentError(ErrCodeSignerFailed, "signer returned an empty signature", nil)
	}

	return BuildPayload(required.X402Version, offer, signature), nil
}

// BuildPayload frames a signature as a payment payload.
func BuildPayload(version int, offer PaymentOffer, signature []byte) PaymentPayload {
	return PaymentPayload{
		X402Version: version,
		Scheme:      offer.Scheme,
		Network:     offer.Network,
		Payload:     hexutil.Encode(signature),
	}
}
