package x402

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// AtomicAmount returns the amount the signer authorizes, in USDC atomic
// units. A USD Price is scaled by USDCDecimals and must come out whole;
// otherwise MaxAmountRequired is used verbatim.
//
// The scale is fixed on the client. Servers cannot widen it through Extra,
// so the amount checked by the policy is the amount signed.
func (o PaymentOffer) AtomicAmount() (*big.Int, error) {
	if o.Price != "" {
		raw := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(string(o.Price)), "$"))
		price, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid price %q: %w", o.Price, err)
		}
		if price.IsNegative() {
			return nil, fmt.Errorf("invalid price %q: negative", o.Price)
		}
		scaled := price.Shift(USDCDecimals)
		if !scaled.Equal(scaled.Truncate(0)) {
			return nil, fmt.Errorf("price %s has more precision than USDC's %d decimals", price, USDCDecimals)
		}
		return scaled.BigInt(), nil
	}

	if o.MaxAmountRequired != "" {
		amount, ok := new(big.Int).SetString(strings.TrimSpace(o.MaxAmountRequired), 10)
		if !ok || amount.Sign() < 0 {
			return nil, fmt.Errorf("invalid maxAmountRequired %q", o.MaxAmountRequired)
		}
		return amount, nil
	}

	return nil, fmt.Errorf("offer has neither price nor maxAmountRequired")
}

// USDPrice is AtomicAmount expressed in dollars.
func (o PaymentOffer) USDPrice() (decimal.Decimal, error) {
	amount, err := o.AtomicAmount()
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromBigInt(amount, -USDCDecimals), nil
}
