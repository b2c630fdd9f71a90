package chain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// RPCTransientError wraps a failed node call that may succeed when repeated.
type RPCTransientError struct {
	Op  string
	Err error
}

func (e *RPCTransientError) Error() string {
	return fmt.Sprintf("rpc %s: %v", e.Op, e.Err)
}

func (e *RPCTransientError) Unwrap() error { return e.Err }

// BroadcastError means the node refused a signed transaction. Broadcasts are
// never retried.
type BroadcastError struct {
	Message string
	Err     error
}

func (e *BroadcastError) Error() string {
	return "broadcast rejected: " + e.Message
}

func (e *BroadcastError) Unwrap() error { return e.Err }

// VerificationError means a broadcast transaction was not confirmed as
// successful within the receipt poll budget.
type VerificationError struct {
	TxHash common.Hash
	Reason string
}

const (
	ReasonReceiptTimeout = "receipt not found within poll budget"
	ReasonReverted       = "transaction reverted"
)

func (e *VerificationError) Error() string {
	return fmt.Sprintf("verify %s: %s", e.TxHash.Hex(), e.Reason)
}
