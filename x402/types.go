package x402

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Network represents a blockchain network identifier in CAIP-2 format
// Format: namespace:reference (e.g., "eip155:8453" for Base mainnet)
type Network string

// legacyNetworks maps v1 network names to their CAIP-2 identifiers.
var legacyNetworks = map[string]Network{
	"ethereum":       "eip155:1",
	"sepolia":        "eip155:11155111",
	"base":           "eip155:8453",
	"base-sepolia":   "eip155:84532",
	"polygon":        "eip155:137",
	"polygon-amoy":   "eip155:80002",
	"avalanche":      "eip155:43114",
	"avalanche-fuji": "eip155:43113",
	"solana":         "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp",
	"solana-devnet":  "solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1",
}

// Canonical returns the CAIP-2 form of n. Legacy v1 names are translated,
// anything else is returned unchanged.
func (n Network) Canonical() Network {
	if caip, ok := legacyNetworks[strings.ToLower(string(n))]; ok {
		return caip
	}
	return n
}

// Parse splits the network into namespace and reference components
func (n Network) Parse() (namespace, reference string, err error) {
	parts := strings.Split(string(n.Canonical()), ":")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("invalid network format: %s", n)
	}
	return parts[0], parts[1], nil
}

// Match checks if this concrete network matches a pattern (supports wildcards)
// e.g., "eip155:8453" matches "eip155:*" and "base" matches "eip155:8453".
// Only the pattern may be a wildcard; "eip155:*" matches nothing but itself.
func (n Network) Match(pattern Network) bool {
	nStr := string(n.Canonical())
	patternStr := string(pattern.Canonical())

	if nStr == patternStr {
		return true
	}

	if n.IsWildcard() {
		return false
	}
	if strings.HasSuffix(patternStr, ":*") {
		prefix := strings.TrimSuffix(patternStr, "*")
		return strings.HasPrefix(nStr, prefix)
	}

	return false
}

// IsWildcard reports whether n names a whole namespace rather than a chain
func (n Network) IsWildcard() bool {
	return strings.HasSuffix(string(n), ":*")
}

// Price is a decimal USD amount, optionally prefixed with "$". Servers send
// it either as a JSON string or as a bare number.
type Price string

// UnmarshalJSON accepts both "0.01" and 0.01.
func (p *Price) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = Price(s)
		return nil
	}
	if bytes.Equal(data, []byte("null")) {
		*p = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("price must be a string or number: %w", err)
	}
	*p = Price(n.String())
	return nil
}

// PaymentOffer is one acceptable way to pay for a resource.
type PaymentOffer struct {
	Scheme  string  `json:"scheme"`
	Network Network `json:"network"`
	PayTo   string  `json:"payTo"`
	Price   Price   `json:"price,omitempty"`
	// MaxAmountRequired is the v1 atomic-unit amount, used when Price is empty
	MaxAmountRequired string                 `json:"maxAmountRequired,omitempty"`
	Asset             string                 `json:"asset,omitempty"`
	DeadlineSeconds   int                    `json:"deadlineSeconds,omitempty"`
	MaxTimeoutSeconds int                    `json:"maxTimeoutSeconds,omitempty"`
	Resource          string                 `json:"resource,omitempty"`
	Description       string                 `json:"description,omitempty"`
	Extra             map[string]interface{} `json:"extra,omitempty"`
}

// Deadline returns how long the signed payment stays valid, in seconds.
func (o PaymentOffer) Deadline() int {
	if o.DeadlineSeconds > 0 {
		return o.DeadlineSeconds
	}
	return o.MaxTimeoutSeconds
}

// PaymentRequired is the body of a 402 response
type PaymentRequired struct {
	X402Version int            `json:"x402Version"`
	Accepts     []PaymentOffer `json:"accepts"`
	Description string         `json:"description,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// PaymentPayload is the signed proof attached to the retried request
type PaymentPayload struct {
	X402Version int     `json:"x402Version"`
	Scheme      string  `json:"scheme"`
	Network     Network `json:"network"`
	// Payload is the 0x-prefixed hex encoding of the signer's output
	Payload string `json:"payload"`
}

// SettleReceipt is the settlement result the server returns after a paid call
type SettleReceipt struct {
	Success     bool    `json:"success"`
	ErrorReason string  `json:"errorReason,omitempty"`
	Payer       string  `json:"payer,omitempty"`
	Transaction string  `json:"transaction"`
	Network     Network `json:"network"`
}
