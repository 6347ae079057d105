// Package svm signs x402 payments on Solana networks. The payer signs a
// borsh-encoded transfer authorization with its ed25519 key.
package svm

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"time"

	bin "github.com/gagliardetto/binary"
	solana "github.com/gagliardetto/solana-go"

	"github.com/1clawAI/1claw-sdk/x402"
)

// SignMessageFunc signs raw message bytes, e.g. through a wallet adapter
type SignMessageFunc func(ctx context.Context, message []byte) (solana.Signature, error)

// Signer implements x402.Signer for Solana.
type Signer struct {
	publicKey   solana.PublicKey
	signMessage SignMessageFunc
	now         func() time.Time
	rand        io.Reader
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

// NewSigner creates a signer from a public key and signing callback.
func NewSigner(publicKey solana.PublicKey, signFunc SignMessageFunc, opts ...Option) (*Signer, error) {
	if publicKey.IsZero() {
		return nil, fmt.Errorf("public key is required")
	}
	if signFunc == nil {
		return nil, fmt.Errorf("sign callback is required")
	}

	s := &Signer{
		publicKey:   publicKey,
		signMessage: signFunc,
		now:         time.Now,
		rand:        rand.Reader,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NewSignerFromPrivateKey creates a signer from a base58-encoded private key.
//
// Example:
//
//	signer, err := svm.NewSignerFromPrivateKey("5J7W...")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	client, err := oneclaw.New(oneclaw.Config{APIKey: key, Network: "solana"}, oneclaw.WithSigner(signer))
func NewSignerFromPrivateKey(privateKeyBase58 string, opts ...Option) (*Signer, error) {
	privateKey, err := solana.PrivateKeyFromBase58(privateKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	signFunc := func(_ context.Context, message []byte) (solana.Signature, error) {
		return privateKey.Sign(message)
	}
	return NewSigner(privateKey.PublicKey(), signFunc, opts...)
}

// Address returns the Solana public key of the signer.
func (s *Signer) Address() solana.PublicKey {
	return s.publicKey
}

// GetAddress implements x402.Signer
func (s *Signer) GetAddress(ctx context.Context) (string, error) {
	return s.publicKey.String(), nil
}

// SignPayment implements x402.Signer. The output is the borsh encoding of
// a SignedAuthorization.
func (s *Signer) SignPayment(ctx context.Context, offer x402.PaymentOffer) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	auth, err := s.authorize(offer)
	if err != nil {
		return nil, err
	}

	message, err := auth.Marshal()
	if err != nil {
		return nil, err
	}

	signature, err := s.signMessage(ctx, message)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}

	return SignedAuthorization{Authorization: auth, Signature: signature}.Marshal()
}

func (s *Signer) authorize(offer x402.PaymentOffer) (Authorization, error) {
	namespace, _, err := offer.Network.Canonical().Parse()
	if err != nil {
		return Authorization{}, err
	}
	if namespace != "solana" {
		return Authorization{}, fmt.Errorf("unsupported network: %s", offer.Network)
	}

	payTo, err := solana.PublicKeyFromBase58(offer.PayTo)
	if err != nil {
		return Authorization{}, fmt.Errorf("invalid payTo address: %w", err)
	}
	mint, err := solana.PublicKeyFromBase58(offer.Asset)
	if err != nil {
		return Authorization{}, fmt.Errorf("invalid asset address: %w", err)
	}

	amount, err := offer.AtomicAmount()
	if err != nil {
		return Authorization{}, err
	}
	if !amount.IsUint64() {
		return Authorization{}, fmt.Errorf("amount %s does not fit in u64", amount)
	}

	window := time.Duration(offer.Deadline()) * time.Second
	if window <= 0 {
		window = time.Hour
	}

	auth := Authorization{
		Network:     string(offer.Network.Canonical()),
		Payer:       s.publicKey,
		PayTo:       payTo,
		Mint:        mint,
		Amount:      amount.Uint64(),
		ValidBefore: s.now().Add(window).Unix(),
	}
	if _, err := io.ReadFull(s.rand, auth.Nonce[:]); err != nil {
		return Authorization{}, fmt.Errorf("failed to create nonce: %w", err)
	}
	return auth, nil
}

// Authorization is the message a Solana payer signs
type Authorization struct {
	Network     string
	Payer       solana.PublicKey
	PayTo       solana.PublicKey
	Mint        solana.PublicKey
	Amount      uint64
	ValidBefore int64
	Nonce       [32]byte
}

// Marshal returns the borsh encoding that is signed
func (a Authorization) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	if err := bin.NewBorshEncoder(&buf).Encode(a); err != nil {
		return nil, fmt.Errorf("failed to encode authorization: %w", err)
	}
	return buf.Bytes(), nil
}

// SignedAuthorization is the signer's output
type SignedAuthorization struct {
	Authorization Authorization
	Signature     solana.Signature
}

// Marshal returns the borsh encoding
func (s SignedAuthorization) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	if err := bin.NewBorshEncoder(&buf).Encode(s); err != nil {
		return nil, fmt.Errorf("failed to encode signed authorization: %w", err)
	}
	return buf.Bytes(), nil
}

// Verify decodes signer output and checks it is signed by the payer and
// matches offer.
func Verify(data []byte, offer x402.PaymentOffer) (Authorization, error) {
	var signed SignedAuthorization
	if err := bin.NewBorshDecoder(data).Decode(&signed); err != nil {
		return Authorization{}, fmt.Errorf("failed to decode authorization: %w", err)
	}
	auth := signed.Authorization

	message, err := auth.Marshal()
	if err != nil {
		return Authorization{}, err
	}
	if !signed.Signature.Verify(auth.Payer, message) {
		return Authorization{}, fmt.Errorf("signature does not match payer %s", auth.Payer)
	}

	if auth.Network != string(offer.Network.Canonical()) {
		return Authorization{}, fmt.Errorf("authorization is for %s, offer is on %s", auth.Network, offer.Network)
	}
	if auth.PayTo.String() != offer.PayTo {
		return Authorization{}, fmt.Errorf("authorization pays %s, offer pays %s", auth.PayTo, offer.PayTo)
	}
	want, err := offer.AtomicAmount()
	if err != nil {
		return Authorization{}, err
	}
	if !want.IsUint64() || auth.Amount != want.Uint64() {
		return Authorization{}, fmt.Errorf("authorization amount %d, offer requires %s", auth.Amount, want)
	}
	return auth, nil
}
