// Package token encodes the two ERC-20 calls the gateway needs.
package token

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const erc20JSON = `[
	{"constant":false,"inputs":[{"name":"_to","type":"address"},{"name":"_value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"_owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"balance","type":"uint256"}],"type":"function"}
]`

var ErrNotTransfer = errors.New("calldata is not an ERC-20 transfer")

var erc20 = mustParse()

func mustParse() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(erc20JSON))
	if err != nil {
		panic(fmt.Sprintf("parse erc20 abi: %v", err))
	}
	return parsed
}

// TransferSelector is the 4-byte selector of transfer(address,uint256).
func TransferSelector() []byte {
	return erc20.Methods["transfer"].ID
}

// PackTransfer encodes transfer(to, amount).
func PackTransfer(to common.Address, amount *big.Int) ([]byte, error) {
	data, err := erc20.Pack("transfer", to, amount)
	if err != nil {
		return nil, fmt.Errorf("pack transfer: %w", err)
	}
	return data, nil
}

// UnpackTransfer decodes calldata produced by PackTransfer.
func UnpackTransfer(data []byte) (common.Address, *big.Int, error) {
	if len(data) < 4 || !bytes.Equal(data[:4], TransferSelector()) {
		return common.Address{}, nil, ErrNotTransfer
	}
	args, err := erc20.Methods["transfer"].Inputs.Unpack(data[4:])
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("unpack transfer: %w", err)
	}
	to, ok := args[0].(common.Address)
	if !ok {
		return common.Address{}, nil, ErrNotTransfer
	}
	amount, ok := args[1].(*big.Int)
	if !ok {
		return common.Address{}, nil, ErrNotTransfer
	}
	return to, amount, nil
}

// PackBalanceOf encodes balanceOf(owner).
func PackBalanceOf(owner common.Address) ([]byte, error) {
	data, err := erc20.Pack("balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("pack balanceOf: %w", err)
	}
	return data, nil
}

// UnpackBalanceOfInput returns the owner encoded in balanceOf calldata.
func UnpackBalanceOfInput(data []byte) (common.Address, error) {
	method := erc20.Methods["balanceOf"]
	if len(data) < 4 || !bytes.Equal(data[:4], method.ID) {
		return common.Address{}, errors.New("calldata is not balanceOf")
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return common.Address{}, fmt.Errorf("unpack balanceOf input: %w", err)
	}
	owner, ok := args[0].(common.Address)
	if !ok {
		return common.Address{}, errors.New("unexpected balanceOf argument")
	}
	return owner, nil
}

// PackBalanceOfResult encodes a balanceOf return value.
func PackBalanceOfResult(balance *big.Int) ([]byte, error) {
	return erc20.Methods["balanceOf"].Outputs.Pack(balance)
}

// UnpackBalanceOf decodes the eth_call result of balanceOf.
func UnpackBalanceOf(out []byte) (*big.Int, error) {
	values, err := erc20.Unpack("balanceOf", out)
	if err != nil {
		return nil, fmt.Errorf("unpack balanceOf: %w", err)
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, errors.New("unexpected balanceOf result type")
	}
	return balance, nil
}
