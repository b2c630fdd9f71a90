package token

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransferSelector(t *testing.T) {
	assert.Equal(t, "0xa9059cbb", hexutil.Encode(TransferSelector()))
}

func TestPackTransfer(t *testing.T) {
	to := common.HexToAddress("0x90F79bf6EB2c4f870365E785982E1f101E93b906")
	amount, _ := new(big.Int).SetString("12345678000000000000", 10)

	data, err := PackTransfer(to, amount)
	require.NoError(t, err)
	assert.Len(t, data, 4+32+32)

	gotTo, gotAmount, err := UnpackTransfer(data)
	require.NoError(t, err)
	assert.Equal(t, to, gotTo)
	assert.Equal(t, 0, amount.Cmp(gotAmount))
}

func TestUnpackTransferRejectsOtherCalls(t *testing.T) {
	data, err := PackBalanceOf(common.HexToAddress("0x01"))
	require.NoError(t, err)
	_, _, err = UnpackTransfer(data)
	assert.ErrorIs(t, err, ErrNotTransfer)

	_, _, err = UnpackTransfer(nil)
	assert.ErrorIs(t, err, ErrNotTransfer)
}

func TestBalanceOf(t *testing.T) {
	owner := common.HexToAddress("0x70997970c51812dc3a010c7d01b50e0d17dc79c8")
	data, err := PackBalanceOf(owner)
	require.NoError(t, err)
	assert.Equal(t, "0x70a08231", hexutil.Encode(data[:4]))

	decodedOwner, err := UnpackBalanceOfInput(data)
	require.NoError(t, err)
	assert.Equal(t, owner, decodedOwner)

	out, err := PackBalanceOfResult(big.NewInt(42))
	require.NoError(t, err)
	balance, err := UnpackBalanceOf(out)
	require.NoError(t, err)
	assert.Equal(t, int64(42), balance.Int64())

	_, err = UnpackBalanceOf([]byte{0x01})
	assert.Error(t, err)
}
