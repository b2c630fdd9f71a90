// Package keygen creates and parses the secp256k1 keys that control deposit
// addresses and operator wallets.
package keygen

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

var ErrEmptyKey = errors.New("private key is empty")

// Keypair holds a generated address and the raw 32-byte private key.
type Keypair struct {
	Address    string `json:"address"`
	PrivateKey []byte `json:"-"`
}

// Hex returns the private key as 64 lowercase hex characters without a 0x prefix.
func (k Keypair) Hex() string {
	return hexutil.Encode(k.PrivateKey)[2:]
}

// Wipe zeroes the private key bytes.
func (k *Keypair) Wipe() {
	for i := range k.PrivateKey {
		k.PrivateKey[i] = 0
	}
}

// Generate creates a keypair from the operating system CSPRNG.
func Generate() (Keypair, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return Keypair{}, fmt.Errorf("generate secp256k1 key: %w", err)
	}
	defer Wipe(key)

	return Keypair{
		Address:    DeriveAddress(&key.PublicKey),
		PrivateKey: crypto.FromECDSA(key),
	}, nil
}

// DeriveAddress hashes the uncompressed public key (without its 0x04 prefix)
// with Keccak-256 and keeps the low 20 bytes.
func DeriveAddress(pub *ecdsa.PublicKey) string {
	raw := crypto.FromECDSAPub(pub)
	hash := crypto.Keccak256(raw[1:])
	return hexutil.Encode(hash[12:])
}

// ParsePrivateKey accepts a hex key with or without the 0x prefix.
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, ErrEmptyKey
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

// AddressFromPrivateKey derives the address controlled by hexKey.
func AddressFromPrivateKey(hexKey string) (string, error) {
	key, err := ParsePrivateKey(hexKey)
	if err != nil {
		return "", err
	}
	defer Wipe(key)
	return DeriveAddress(&key.PublicKey), nil
}

// Wipe zeroes the scalar of key in place.
func Wipe(key *ecdsa.PrivateKey) {
	if key == nil || key.D == nil {
		return
	}
	words := key.D.Bits()
	for i := range words {
		words[i] = 0
	}
}
