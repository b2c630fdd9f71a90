package sweep

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// State is a step of the sweep state machine.
type State string

const (
	StateIdle              State = "idle"
	StateObserving         State = "observing"
	StateGasTopUp          State = "gas_top_up"
	StateTransferring      State = "transferring"
	StateVerifyingTransfer State = "verifying_transfer"
	StateSweepingGas       State = "sweeping_gas"
	StateDone              State = "done"
)

const (
	ReasonNoSignificantBalance = "no significant balance"
	ReasonGasTopUpFailed       = "gas top-up failed"
	ReasonTokenTransferFailed  = "token transfer failed"
	ReasonVerificationFailed   = "transfer verification failed"
	ReasonNotConfigured        = "operator credentials not configured"
	ReasonInvalidDeposit       = "invalid deposit address"
	ReasonCancelled            = "sweep cancelled"
)

var errGasWalletUnderfunded = errors.New("gas wallet balance below top-up requirement")

// Outcome is the terminal result of a sweep.
type Outcome struct {
	State    State
	Success  bool
	Amount   decimal.Decimal
	Currency string
	// TxHash is the confirmed token transfer; set only on success.
	TxHash common.Hash
	Reason string

	FailedAt           State
	ObservedBalance    decimal.Decimal
	TransferHash       common.Hash
	GasTopUpHash       common.Hash
	SweepBackHash      common.Hash
	CredentialsVersion uint64
}

// GasSpentWithoutTransfer reports the case where the gas wallet funded the
// deposit address but no token transfer was confirmed.
func (o Outcome) GasSpentWithoutTransfer() bool {
	return !o.Success && o.GasTopUpHash != (common.Hash{})
}
