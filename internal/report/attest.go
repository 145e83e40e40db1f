package report

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrInvalidSignature indicates an attestation that cannot be verified.
var ErrInvalidSignature = errors.New("report: invalid attestation signature")

// Digest is the keccak256 hash that attestations sign.
func Digest(encoded []byte) common.Hash {
	return crypto.Keccak256Hash(encoded)
}

// Attestor signs canonical reports with a single secp256k1 key. In production
// the signature stands in for the oracle network's consensus signature.
type Attestor struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewAttestor loads a hex-encoded private key.
func NewAttestor(hexKey string) (*Attestor, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse attestation key: %w", err)
	}
	return NewAttestorFromKey(key), nil
}

// NewAttestorFromKey wraps an existing key.
func NewAttestorFromKey(key *ecdsa.PrivateKey) *Attestor {
	return &Attestor{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

// Address returns the signer address.
func (a *Attestor) Address() common.Address {
	return a.address
}

// Attest returns a 65-byte [R || S || V] signature over Digest(encoded).
func (a *Attestor) Attest(encoded []byte) ([]byte, error) {
	sig, err := crypto.Sign(Digest(encoded).Bytes(), a.key)
	if err != nil {
		return nil, fmt.Errorf("sign report: %w", err)
	}
	return sig, nil
}

// RecoverSigner returns the address that produced sig over encoded.
func RecoverSigner(encoded, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: length %d", ErrInvalidSignature, len(sig))
	}
	pub, err := crypto.SigToPub(Digest(encoded).Bytes(), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
