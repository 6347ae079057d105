// Package evm signs x402 payments on EVM networks as EIP-3009
// TransferWithAuthorization messages.
package evm

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/1clawAI/1claw-sdk/x402"
)

// Signer implements x402.Signer using an ECDSA private key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	now        func() time.Time
	rand       io.Reader
}

// Option configures a Signer
type Option func(*Signer)

// WithClock overrides the clock used for the validity window
func WithClock(now func() time.Time) Option {
	return func(s *Signer) {
		s.now = now
	}
}

// WithNonceSource overrides the source of authorization nonces
func WithNonceSource(r io.Reader) Option {
	return func(s *Signer) {
		s.rand = r
	}
}

// NewSignerFromPrivateKey creates a signer from a hex-encoded private key,
// with or without the "0x" prefix.
//
// Example:
//
//	signer, err := evm.NewSignerFromPrivateKey(os.Getenv("WALLET_KEY"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	client, err := oneclaw.New(cfg, oneclaw.WithSigner(signer))
func NewSignerFromPrivateKey(privateKeyHex string, opts ...Option) (*Signer, error) {
	privateKeyHex = strings.TrimPrefix(privateKeyHex, "0x")

	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	s := &Signer{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
		now:        time.Now,
		rand:       rand.Reader,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Address returns the checksummed address of the signer
func (s *Signer) Address() common.Address {
	return s.address
}

// GetAddress implements x402.Signer
func (s *Signer) GetAddress(ctx context.Context) (string, error) {
	return s.address.Hex(), nil
}

// SignPayment authorizes a transfer of the offer's amount to its payTo
// address and returns the ABI-encoded authorization with its signature.
func (s *Signer) SignPayment(ctx context.Context, offer x402.PaymentOffer) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	chainID, err := ChainID(offer.Network)
	if err != nil {
		return nil, err
	}
	if !common.IsHexAddress(offer.PayTo) {
		return nil, fmt.Errorf("invalid payTo address: %q", offer.PayTo)
	}
	if !common.IsHexAddress(offer.Asset) {
		return nil, fmt.Errorf("invalid asset address: %q", offer.Asset)
	}

	value, err := offer.AtomicAmount()
	if err != nil {
		return nil, err
	}

	var nonce [32]byte
	if _, err := io.ReadFull(s.rand, nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to create nonce: %w", err)
	}

	window := time.Duration(offer.Deadline()) * time.Second
	if window <= 0 {
		window = time.Hour
	}
	now := s.now()

	auth := Authorization{
		From:        s.address,
		To:          common.HexToAddress(offer.PayTo),
		Value:       value,
		ValidAfter:  big.NewInt(now.Add(-10 * time.Minute).Unix()),
		ValidBefore: big.NewInt(now.Add(window).Unix()),
		Nonce:       nonce,
	}
	domain := DomainFor(offer, chainID)

	digest, err := auth.Digest(domain)
	if err != nil {
		return nil, err
	}

	signature, err := crypto.Sign(digest, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}

	// recovery id 0/1 becomes v 27/28
	signature[64] += 27

	return auth.Encode(signature)
}

// ChainID extracts the EIP-155 chain id from a network identifier,
// resolving legacy names such as "base".
func ChainID(network x402.Network) (*big.Int, error) {
	namespace, reference, err := network.Canonical().Parse()
	if err != nil {
		return nil, err
	}
	if namespace != "eip155" {
		return nil, fmt.Errorf("unsupported network: %s", network)
	}
	chainID, ok := new(big.Int).SetString(reference, 10)
	if !ok {
		return nil, fmt.Errorf("invalid chain id in network %s", network)
	}
	return chainID, nil
}
