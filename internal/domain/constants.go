package domain

const (
	LedgerKindDeposit    = "deposit"
	LedgerKindWithdrawal = "withdrawal"

	LedgerStatusPending   = "pending"
	LedgerStatusCompleted = "completed"
	LedgerStatusFailed    = "failed"
	LedgerStatusCancelled = "cancelled"

	DefaultTokenSymbol = "USDT"

	// Both the token contract and the native coin use 18 decimals on the target chain.
	TokenDecimals  = 18
	NativeDecimals = 18

	// Ledger amounts are tracked with at most 6 fractional digits.
	AmountPrecision = 6

	RoleAdmin = "admin"
	RoleUser  = "user"

	AuditEntityLedgerEntry      = "ledger_entry"
	AuditEntityOperatorSettings = "operator_settings"
	AuditEntityDepositAddress   = "deposit_address"
)
