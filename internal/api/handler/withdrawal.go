package handler

import (
	"errors"
	"net/http"

	"github.com/ayo6706/stablecoin-gateway/internal/domain"
	"github.com/ayo6706/stablecoin-gateway/internal/service"
	"github.com/ayo6706/stablecoin-gateway/internal/settlement"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// WithdrawalHandler handles withdrawal requests and their admin settlement.
type WithdrawalHandler struct {
	withdrawals *service.WithdrawalService
}

func NewWithdrawalHandler(withdrawals *service.WithdrawalService) *WithdrawalHandler {
	return &WithdrawalHandler{withdrawals: withdrawals}
}

// CreateWithdrawalRequest is the body of POST /v1/withdrawals. Amount accepts a
// JSON string or number.
type CreateWithdrawalRequest struct {
	OwnerRef string          `json:"owner_ref"`
	Amount   decimal.Decimal `json:"amount"`
	Address  string          `json:"address"`
}

// CancelWithdrawalRequest is the optional body of the cancel endpoint.
type CancelWithdrawalRequest struct {
	Reason string `json:"reason"`
}

// SettleWithdrawalResponse reports the confirmed transfer.
type SettleWithdrawalResponse struct {
	EntryID string `json:"entry_id"`
	TxHash  string `json:"tx_hash"`
	Status  string `json:"status"`
}

// Create handles POST /v1/withdrawals.
func (h *WithdrawalHandler) Create(w http.ResponseWriter, r *http.Request) {
	caller, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	var req CreateWithdrawalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}
	ownerRef, err := caller.resolveOwner(req.OwnerRef)
	if err != nil {
		RespondError(w, r, http.StatusForbidden, "auth/insufficient-permissions", "insufficient permissions")
		return
	}

	entry, err := h.withdrawals.RequestWithdrawal(r.Context(), ownerRef, req.Amount, req.Address, caller.idPtr())
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidAmount):
			RespondError(w, r, http.StatusBadRequest, "request/invalid-amount", err.Error())
		case errors.Is(err, service.ErrInvalidAddress):
			RespondError(w, r, http.StatusBadRequest, "request/invalid-address", "address must be 0x followed by 40 hex characters")
		case errors.Is(err, service.ErrInvalidOwnerRef):
			RespondError(w, r, http.StatusBadRequest, "request/invalid-owner", err.Error())
		default:
			if status, problemType, msg, ok := mapDBError(err); ok {
				RespondError(w, r, status, problemType, msg)
				return
			}
			zap.L().Error("create withdrawal failed", zap.Error(err), zap.String("owner_ref", ownerRef))
			RespondError(w, r, http.StatusInternalServerError, "withdrawal/create-failed", "Failed to create withdrawal")
		}
		return
	}

	RespondJSON(w, http.StatusCreated, entry)
}

// Settle handles POST /v1/admin/withdrawals/{id}/settle (admin only).
// The call blocks until the transfer is confirmed or has failed.
func (h *WithdrawalHandler) Settle(w http.ResponseWriter, r *http.Request) {
	caller, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	id, err := uuidParam(r, "id")
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-entry-id", "Invalid withdrawal ID")
		return
	}

	txHash, err := h.withdrawals.SettleWithdrawal(r.Context(), id, caller.idPtr())
	if err != nil {
		var se *settlement.SettlementError
		switch {
		case errors.Is(err, service.ErrEntryNotFound):
			RespondError(w, r, http.StatusNotFound, "withdrawal/not-found", "Withdrawal not found")
		case errors.Is(err, service.ErrNotWithdrawal):
			RespondError(w, r, http.StatusConflict, "withdrawal/wrong-kind", "ledger entry is not a withdrawal")
		case errors.Is(err, service.ErrNotPending):
			RespondError(w, r, http.StatusConflict, "withdrawal/not-pending", "withdrawal is not pending")
		case errors.As(err, &se):
			h.writeSettlementError(w, r, id.String(), se)
		case txHash != "":
			zap.L().Error("settled withdrawal not recorded", zap.Error(err), zap.String("entry_id", id.String()), zap.String("tx_hash", txHash))
			RespondError(w, r, http.StatusInternalServerError, "withdrawal/record-failed", "transfer "+txHash+" confirmed but the ledger was not updated")
		default:
			zap.L().Error("settle withdrawal failed", zap.Error(err), zap.String("entry_id", id.String()))
			RespondError(w, r, http.StatusInternalServerError, "withdrawal/settle-failed", "Failed to settle withdrawal")
		}
		return
	}

	RespondJSON(w, http.StatusOK, SettleWithdrawalResponse{
		EntryID: id.String(),
		TxHash:  txHash,
		Status:  domain.LedgerStatusCompleted,
	})
}

func (h *WithdrawalHandler) writeSettlementError(w http.ResponseWriter, r *http.Request, entryID string, se *settlement.SettlementError) {
	zap.L().Warn("withdrawal settlement failed",
		zap.String("entry_id", entryID),
		zap.String("reason", se.Reason),
		zap.Bool("broadcasted", se.Broadcasted()),
		zap.Error(se.Err),
	)
	switch se.Reason {
	case settlement.ReasonSignerMissing, settlement.ReasonInvalidSignerKey:
		RespondError(w, r, http.StatusServiceUnavailable, "withdrawal/signer-unavailable", se.Reason)
	case settlement.ReasonInvalidAddress, settlement.ReasonInvalidAmount:
		RespondError(w, r, http.StatusUnprocessableEntity, "withdrawal/invalid", se.Reason)
	default:
		RespondError(w, r, http.StatusBadGateway, "withdrawal/settlement-failed", se.Reason)
	}
}

// Cancel handles POST /v1/admin/withdrawals/{id}/cancel (admin only).
func (h *WithdrawalHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	caller, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	id, err := uuidParam(r, "id")
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-entry-id", "Invalid withdrawal ID")
		return
	}
	var req CancelWithdrawalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	entry, err := h.withdrawals.CancelWithdrawal(r.Context(), id, req.Reason, caller.idPtr())
	if err != nil {
		switch {
		case errors.Is(err, service.ErrEntryNotFound):
			RespondError(w, r, http.StatusNotFound, "withdrawal/not-found", "Withdrawal not found")
		case errors.Is(err, service.ErrNotWithdrawal):
			RespondError(w, r, http.StatusConflict, "withdrawal/wrong-kind", "ledger entry is not a withdrawal")
		case errors.Is(err, service.ErrNotPending):
			RespondError(w, r, http.StatusConflict, "withdrawal/not-pending", "withdrawal is not pending")
		default:
			zap.L().Error("cancel withdrawal failed", zap.Error(err), zap.String("entry_id", id.String()))
			RespondError(w, r, http.StatusInternalServerError, "withdrawal/cancel-failed", "Failed to cancel withdrawal")
		}
		return
	}
	RespondJSON(w, http.StatusOK, entry)
}
