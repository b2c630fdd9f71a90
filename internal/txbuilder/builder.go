// Package txbuilder builds and signs legacy EIP-155 transactions for token and
// native coin transfers.
package txbuilder

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ayo6706/stablecoin-gateway/internal/domain"
	"github.com/ayo6706/stablecoin-gateway/internal/keygen"
	"github.com/ayo6706/stablecoin-gateway/internal/token"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
)

var ErrNonPositiveAmount = errors.New("transfer amount must be positive")

// InvalidKeyError is returned when a signing key cannot be parsed. The message
// never contains key material.
type InvalidKeyError struct {
	Err error
}

func (e *InvalidKeyError) Error() string { return "invalid signing key" }

func (e *InvalidKeyError) Unwrap() error { return e.Err }

// GasParams is a fixed gas limit and legacy gas price in wei.
type GasParams struct {
	Limit uint64
	Price *big.Int
}

// Cost returns Limit * Price.
func (g GasParams) Cost() *big.Int {
	return domain.GasCost(g.Limit, g.Price)
}

// RawTransaction is an unsigned legacy transaction.
type RawTransaction struct {
	Nonce    uint64
	To       common.Address
	Value    *big.Int
	Data     []byte
	GasLimit uint64
	GasPrice *big.Int
	ChainID  *big.Int
}

// SignedTransaction is the RLP encoding ready for eth_sendRawTransaction.
type SignedTransaction struct {
	Raw  []byte
	Hash common.Hash
}

// Builder produces transactions for one chain and one token contract.
type Builder struct {
	chainID       *big.Int
	tokenContract common.Address
}

func New(chainID *big.Int, tokenContract common.Address) *Builder {
	return &Builder{chainID: new(big.Int).Set(chainID), tokenContract: tokenContract}
}

// ChainID returns the EIP-155 chain id transactions are bound to.
func (b *Builder) ChainID() *big.Int {
	return new(big.Int).Set(b.chainID)
}

// TokenTransfer encodes transfer(to, amount) against the token contract. The
// amount is truncated, not rounded half-up, to 6 decimal places before scaling
// to 18 decimals, so the encoded value never exceeds the balance it was read
// from.
func (b *Builder) TokenTransfer(to common.Address, amount decimal.Decimal, nonce uint64, gas GasParams) (RawTransaction, error) {
	scaled := domain.ToBaseUnits(domain.TruncateAmount(amount), domain.TokenDecimals)
	if scaled.Sign() <= 0 {
		return RawTransaction{}, ErrNonPositiveAmount
	}
	data, err := token.PackTransfer(to, scaled)
	if err != nil {
		return RawTransaction{}, err
	}
	return RawTransaction{
		Nonce:    nonce,
		To:       b.tokenContract,
		Value:    new(big.Int),
		Data:     data,
		GasLimit: gas.Limit,
		GasPrice: new(big.Int).Set(gas.Price),
		ChainID:  b.ChainID(),
	}, nil
}

// NativeTransfer moves wei of the native coin to to.
func (b *Builder) NativeTransfer(to common.Address, wei *big.Int, nonce uint64, gas GasParams) (RawTransaction, error) {
	if wei == nil || wei.Sign() <= 0 {
		return RawTransaction{}, ErrNonPositiveAmount
	}
	return RawTransaction{
		Nonce:    nonce,
		To:       to,
		Value:    new(big.Int).Set(wei),
		GasLimit: gas.Limit,
		GasPrice: new(big.Int).Set(gas.Price),
		ChainID:  b.ChainID(),
	}, nil
}

// Sign signs raw with the hex-encoded private key. The parsed key is wiped
// before returning.
func Sign(raw RawTransaction, privateKeyHex string) (SignedTransaction, error) {
	key, err := keygen.ParsePrivateKey(privateKeyHex)
	if err != nil {
		return SignedTransaction{}, &InvalidKeyError{Err: err}
	}
	defer keygen.Wipe(key)

	to := raw.To
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    raw.Nonce,
		GasPrice: raw.GasPrice,
		Gas:      raw.GasLimit,
		To:       &to,
		Value:    raw.Value,
		Data:     raw.Data,
	})
	signed, err := types.SignTx(tx, types.NewEIP155Signer(raw.ChainID), key)
	if err != nil {
		return SignedTransaction{}, fmt.Errorf("sign transaction: %w", err)
	}
	encoded, err := signed.MarshalBinary()
	if err != nil {
		return SignedTransaction{}, fmt.Errorf("encode transaction: %w", err)
	}
	return SignedTransaction{Raw: encoded, Hash: signed.Hash()}, nil
}

// Sender recovers the address that signed st.
func Sender(st SignedTransaction, chainID *big.Int) (common.Address, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(st.Raw); err != nil {
		return common.Address{}, fmt.Errorf("decode transaction: %w", err)
	}
	return types.Sender(types.NewEIP155Signer(chainID), tx)
}
