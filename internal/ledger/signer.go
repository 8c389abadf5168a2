package ledger

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer holds the issuer's ECDSA secp256k1 key. Ledger signatures are the
// 64-byte r||s form over keccak256 of the transaction body bytes.
type Signer struct {
	key *ecdsa.PrivateKey
}

// NewSigner parses a hex private key, with or without 0x prefix.
func NewSigner(hexKey string) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse issuer private key: %w", err)
	}
	return &Signer{key: key}, nil
}

// PublicKey returns the compressed public key, hex encoded.
func (s *Signer) PublicKey() string {
	return hex.EncodeToString(crypto.CompressPubkey(&s.key.PublicKey))
}

// Address returns the key's EVM address.
func (s *Signer) Address() common.Address {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

// Sign signs keccak256(body).
func (s *Signer) Sign(body []byte) ([]byte, error) {
	if len(body) == 0 {
		return nil, errors.New("empty transaction body")
	}
	digest := crypto.Keccak256(body)
	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return nil, err
	}
	// Drop the recovery id.
	return sig[:64], nil
}

// VerifySignature checks a 64-byte signature against a hex compressed public key.
func VerifySignature(pubKeyHex string, body, sig []byte) bool {
	pub, err := hex.DecodeString(strings.TrimPrefix(pubKeyHex, "0x"))
	if err != nil || len(sig) != 64 {
		return false
	}
	return crypto.VerifySignature(pub, crypto.Keccak256(body), sig)
}
