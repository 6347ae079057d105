package evm

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/1clawAI/1claw-sdk/x402"
)

// Default EIP-712 domain of USDC; offers override it through
// Extra["name"] and Extra["version"].
const (
	DefaultTokenName    = "USD Coin"
	DefaultTokenVersion = "2"
)

// Authorization is an EIP-3009 TransferWithAuthorization message
type Authorization struct {
	From        common.Address
	To          common.Address
	Value       *big.Int
	ValidAfter  *big.Int
	ValidBefore *big.Int
	Nonce       [32]byte
}

// Domain is the EIP-712 domain the authorization is signed under
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// DomainFor builds the signing domain for an offer
func DomainFor(offer x402.PaymentOffer, chainID *big.Int) Domain {
	domain := Domain{
		Name:              DefaultTokenName,
		Version:           DefaultTokenVersion,
		ChainID:           chainID,
		VerifyingContract: common.HexToAddress(offer.Asset),
	}
	if offer.Extra != nil {
		if name, ok := offer.Extra["name"].(string); ok {
			domain.Name = name
		}
		if version, ok := offer.Extra["version"].(string); ok {
			domain.Version = version
		}
	}
	return domain
}

var eip712Types = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"TransferWithAuthorization": {
		{Name: "from", Type: "address"},
		{Name: "to", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "validAfter", Type: "uint256"},
		{Name: "validBefore", Type: "uint256"},
		{Name: "nonce", Type: "bytes32"},
	},
}

// Digest returns the EIP-712 hash that gets signed
func (a Authorization) Digest(domain Domain) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types:       eip712Types,
		PrimaryType: "TransferWithAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           (*math.HexOrDecimal256)(domain.ChainID),
			VerifyingContract: domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"from":        a.From.Hex(),
			"to":          a.To.Hex(),
			"value":       a.Value,
			"validAfter":  a.ValidAfter,
			"validBefore": a.ValidBefore,
			"nonce":       a.Nonce[:],
		},
	}

	dataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash struct: %w", err)
	}
	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	// 0x19 0x01 <domainSeparator> <dataHash>
	rawData := []byte{0x19, 0x01}
	rawData = append(rawData, domainSeparator...)
	rawData = append(rawData, dataHash...)
	return crypto.Keccak256(rawData), nil
}

var signedArguments = abi.Arguments{
	{Name: "from", Type: mustType("address")},
	{Name: "to", Type: mustType("address")},
	{Name: "value", Type: mustType("uint256")},
	{Name: "validAfter", Type: mustType("uint256")},
	{Name: "validBefore", Type: mustType("uint256")},
	{Name: "nonce", Type: mustType("bytes32")},
	{Name: "signature", Type: mustType("bytes")},
}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// Encode ABI-encodes the authorization followed by its signature
func (a Authorization) Encode(signature []byte) ([]byte, error) {
	out, err := signedArguments.Pack(a.From, a.To, a.Value, a.ValidAfter, a.ValidBefore, a.Nonce, signature)
	if err != nil {
		return nil, fmt.Errorf("failed to encode authorization: %w", err)
	}
	return out, nil
}

// Decode splits signer output into the authorization and its signature
func Decode(data []byte) (Authorization, []byte, error) {
	values, err := signedArguments.Unpack(data)
	if err != nil {
		return Authorization{}, nil, fmt.Errorf("failed to decode authorization: %w", err)
	}
	if len(values) != len(signedArguments) {
		return Authorization{}, nil, fmt.Errorf("decoded %d values, want %d", len(values), len(signedArguments))
	}

	var (
		auth Authorization
		ok   bool
		sig  []byte
	)
	if auth.From, ok = values[0].(common.Address); !ok {
		return Authorization{}, nil, fmt.Errorf("from is %T", values[0])
	}
	if auth.To, ok = values[1].(common.Address); !ok {
		return Authorization{}, nil, fmt.Errorf("to is %T", values[1])
	}
	if auth.Value, ok = values[2].(*big.Int); !ok {
		return Authorization{}, nil, fmt.Errorf("value is %T", values[2])
	}
	if auth.ValidAfter, ok = values[3].(*big.Int); !ok {
		return Authorization{}, nil, fmt.Errorf("validAfter is %T", values[3])
	}
	if auth.ValidBefore, ok = values[4].(*big.Int); !ok {
		return Authorization{}, nil, fmt.Errorf("validBefore is %T", values[4])
	}
	if auth.Nonce, ok = values[5].([32]byte); !ok {
		return Authorization{}, nil, fmt.Errorf("nonce is %T", values[5])
	}
	if sig, ok = values[6].([]byte); !ok {
		return Authorization{}, nil, fmt.Errorf("signature is %T", values[6])
	}
	return auth, sig, nil
}

// Verify checks that data is a well-formed authorization for offer, signed
// by its From address, and returns it.
func Verify(data []byte, offer x402.PaymentOffer) (Authorization, error) {
	auth, sig, err := Decode(data)
	if err != nil {
		return Authorization{}, err
	}
	if len(sig) != crypto.SignatureLength {
		return Authorization{}, fmt.Errorf("signature is %d bytes, want %d", len(sig), crypto.SignatureLength)
	}

	chainID, err := ChainID(offer.Network)
	if err != nil {
		return Authorization{}, err
	}
	digest, err := auth.Digest(DomainFor(offer, chainID))
	if err != nil {
		return Authorization{}, err
	}

	sigCopy := bytes.Clone(sig)
	if sigCopy[64] >= 27 {
		sigCopy[64] -= 27
	}
	pubKey, err := crypto.SigToPub(digest, sigCopy)
	if err != nil {
		return Authorization{}, fmt.Errorf("failed to recover signer: %w", err)
	}
	if recovered := crypto.PubkeyToAddress(*pubKey); recovered != auth.From {
		return Authorization{}, fmt.Errorf("signature is from %s, authorization is from %s", recovered.Hex(), auth.From.Hex())
	}

	if auth.To != common.HexToAddress(offer.PayTo) {
		return Authorization{}, fmt.Errorf("authorization pays %s, offer pays %s", auth.To.Hex(), offer.PayTo)
	}
	want, err := offer.AtomicAmount()
	if err != nil {
		return Authorization{}, err
	}
	if auth.Value.Cmp(want) != 0 {
		return Authorization{}, fmt.Errorf("authorization value %s, offer requires %s", auth.Value, want)
	}
	return auth, nil
}
