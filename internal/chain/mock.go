package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ayo6706/stablecoin-gateway/internal/token"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// MockBackend is an in-memory chain that executes signed legacy transactions
// against native and token balances. It backs tests and the "simulated" RPC
// mode used for local development.
type MockBackend struct {
	mu       sync.Mutex
	signer   types.Signer
	token    common.Address
	native   map[common.Address]*big.Int
	tokens   map[common.Address]*big.Int
	nonces   map[common.Address]uint64
	receipts map[common.Hash]*types.Receipt
	hidden   map[common.Hash]int
	sent     []*types.Transaction
	block    int64

	// SendHook runs before a transaction is executed; a non-nil error rejects it.
	SendHook func(tx *types.Transaction) error
	// BalanceErr makes balance and balanceOf reads fail.
	BalanceErr error
	// RevertTokenTransfers mines token transfers with a failed status.
	RevertTokenTransfers bool
	// ReceiptDelay hides each receipt for this many polls.
	ReceiptDelay int
	// NeverMine hides every receipt.
	NeverMine bool
}

func NewMockBackend(chainID *big.Int, tokenContract common.Address) *MockBackend {
	return &MockBackend{
		signer:   types.LatestSignerForChainID(chainID),
		token:    tokenContract,
		native:   make(map[common.Address]*big.Int),
		tokens:   make(map[common.Address]*big.Int),
		nonces:   make(map[common.Address]uint64),
		receipts: make(map[common.Hash]*types.Receipt),
		hidden:   make(map[common.Hash]int),
	}
}

// SetNative sets the native balance of addr in wei.
func (m *MockBackend) SetNative(addr common.Address, wei *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.native[addr] = new(big.Int).Set(wei)
}

// SetToken sets the token balance of addr in base units.
func (m *MockBackend) SetToken(addr common.Address, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[addr] = new(big.Int).Set(amount)
}

func (m *MockBackend) NativeOf(addr common.Address) *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return new(big.Int).Set(valueOrZero(m.native[addr]))
}

func (m *MockBackend) TokenOf(addr common.Address) *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return new(big.Int).Set(valueOrZero(m.tokens[addr]))
}

// Sent returns every transaction accepted so far, in order.
func (m *MockBackend) Sent() []*types.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.Transaction, len(m.sent))
	copy(out, m.sent)
	return out
}

// SenderOf recovers the signer of tx.
func (m *MockBackend) SenderOf(tx *types.Transaction) (common.Address, error) {
	return types.Sender(m.signer, tx)
}

func (m *MockBackend) BalanceAt(_ context.Context, account common.Address, _ *big.Int) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BalanceErr != nil {
		return nil, m.BalanceErr
	}
	return new(big.Int).Set(valueOrZero(m.native[account])), nil
}

func (m *MockBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BalanceErr != nil {
		return nil, m.BalanceErr
	}
	if msg.To == nil || *msg.To != m.token {
		return nil, errors.New("execution reverted")
	}
	owner, err := token.UnpackBalanceOfInput(msg.Data)
	if err != nil {
		return nil, errors.New("execution reverted")
	}
	return token.PackBalanceOfResult(valueOrZero(m.tokens[owner]))
}

func (m *MockBackend) NonceAt(_ context.Context, account common.Address, _ *big.Int) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nonces[account], nil
}

func (m *MockBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	if m.SendHook != nil {
		if err := m.SendHook(tx); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	from, err := types.Sender(m.signer, tx)
	if err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}
	switch expected := m.nonces[from]; {
	case tx.Nonce() < expected:
		return errors.New("nonce too low")
	case tx.Nonce() > expected:
		return errors.New("nonce too high")
	}

	fee := new(big.Int).Mul(new(big.Int).SetUint64(tx.Gas()), tx.GasPrice())
	cost := new(big.Int).Add(fee, tx.Value())
	balance := valueOrZero(m.native[from])
	if balance.Cmp(cost) < 0 {
		return errors.New("insufficient funds for gas * price + value")
	}

	m.native[from] = new(big.Int).Sub(balance, cost)
	m.nonces[from]++
	m.block++

	status := types.ReceiptStatusSuccessful
	to := tx.To()
	switch {
	case to != nil && *to == m.token:
		if !m.applyTokenTransfer(from, tx.Data()) {
			status = types.ReceiptStatusFailed
		}
	case to != nil:
		m.native[*to] = new(big.Int).Add(valueOrZero(m.native[*to]), tx.Value())
	}

	m.sent = append(m.sent, tx)
	m.receipts[tx.Hash()] = &types.Receipt{
		Status:      status,
		TxHash:      tx.Hash(),
		GasUsed:     tx.Gas(),
		BlockNumber: big.NewInt(m.block),
	}
	m.hidden[tx.Hash()] = m.ReceiptDelay
	return nil
}

func (m *MockBackend) applyTokenTransfer(from common.Address, data []byte) bool {
	if m.RevertTokenTransfers {
		return false
	}
	recipient, amount, err := token.UnpackTransfer(data)
	if err != nil {
		return false
	}
	balance := valueOrZero(m.tokens[from])
	if balance.Cmp(amount) < 0 {
		return false
	}
	m.tokens[from] = new(big.Int).Sub(balance, amount)
	m.tokens[recipient] = new(big.Int).Add(valueOrZero(m.tokens[recipient]), amount)
	return true
}

func (m *MockBackend) TransactionReceipt(_ context.Context, txHash common.Hash) (*types.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	receipt, ok := m.receipts[txHash]
	if !ok || m.NeverMine {
		return nil, ethereum.NotFound
	}
	if m.hidden[txHash] > 0 {
		m.hidden[txHash]--
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

func valueOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
