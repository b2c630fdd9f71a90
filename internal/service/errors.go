package service

import "errors"

var (
	ErrEntryNotFound        = errors.New("ledger entry not found")
	ErrNotPending           = errors.New("ledger entry is not pending")
	ErrNotWithdrawal        = errors.New("ledger entry is not a withdrawal")
	ErrSweepInProgress      = errors.New("a sweep is already running for this deposit address")
	ErrNoDepositAddress     = errors.New("no deposit address for owner")
	ErrDepositAddressExists = errors.New("deposit address already exists for owner")
	ErrInvalidOwnerRef      = errors.New("owner_ref is required")
	ErrInvalidAddress       = errors.New("invalid destination address")
	ErrRegistryClosed       = errors.New("task registry is shut down")
)

// ErrSettingsConflict means another writer persisted a newer settings version.
var ErrSettingsConflict = errors.New("operator settings were updated concurrently")
