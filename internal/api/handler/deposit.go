package handler

import (
	"errors"
	"net/http"

	"github.com/ayo6706/stablecoin-gateway/internal/operator"
	"github.com/ayo6706/stablecoin-gateway/internal/service"
	"go.uber.org/zap"
)

// DepositHandler exposes deposit address assignment and sweeps.
type DepositHandler struct {
	deposits *service.DepositService
}

func NewDepositHandler(deposits *service.DepositService) *DepositHandler {
	return &DepositHandler{deposits: deposits}
}

type ownerRequest struct {
	OwnerRef string `json:"owner_ref"`
}

// CreateAddress handles POST /v1/deposit-address.
func (h *DepositHandler) CreateAddress(w http.ResponseWriter, r *http.Request) {
	caller, ownerRef, ok := h.owner(w, r)
	if !ok {
		return
	}

	addr, err := h.deposits.GenerateDepositAddress(r.Context(), ownerRef, caller.idPtr())
	if err != nil {
		switch {
		case errors.Is(err, service.ErrDepositAddressExists):
			RespondError(w, r, http.StatusConflict, "deposit/address-exists", "a deposit address already exists for this owner")
		case errors.Is(err, service.ErrInvalidOwnerRef):
			RespondError(w, r, http.StatusBadRequest, "request/invalid-owner", err.Error())
		default:
			zap.L().Error("create deposit address failed", zap.Error(err), zap.String("owner_ref", ownerRef))
			RespondError(w, r, http.StatusInternalServerError, "deposit/address-failed", "failed to create deposit address")
		}
		return
	}

	RespondJSON(w, http.StatusCreated, addr)
}

// GetAddress handles GET /v1/deposit-address.
func (h *DepositHandler) GetAddress(w http.ResponseWriter, r *http.Request) {
	caller, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	ownerRef, err := caller.resolveOwner(r.URL.Query().Get("owner_ref"))
	if err != nil {
		RespondError(w, r, http.StatusForbidden, "auth/insufficient-permissions", "insufficient permissions")
		return
	}

	addr, err := h.deposits.GetDepositAddress(r.Context(), ownerRef)
	if err != nil {
		if errors.Is(err, service.ErrNoDepositAddress) {
			RespondError(w, r, http.StatusNotFound, "deposit/address-not-found", "no deposit address for this owner")
			return
		}
		zap.L().Error("get deposit address failed", zap.Error(err), zap.String("owner_ref", ownerRef))
		RespondError(w, r, http.StatusInternalServerError, "deposit/address-read-failed", "failed to read deposit address")
		return
	}
	RespondJSON(w, http.StatusOK, addr)
}

// StartSweep handles POST /v1/deposits.
// It records a pending deposit and returns 202 while the sweep runs.
func (h *DepositHandler) StartSweep(w http.ResponseWriter, r *http.Request) {
	caller, ownerRef, ok := h.owner(w, r)
	if !ok {
		return
	}

	entry, err := h.deposits.StartDepositSweep(r.Context(), ownerRef, caller.idPtr())
	if err != nil {
		var cfgErr *operator.ConfigurationError
		switch {
		case errors.As(err, &cfgErr):
			zap.L().Error("deposit sweep refused", zap.Error(err))
			RespondError(w, r, http.StatusServiceUnavailable, "deposit/not-configured", "operator settings are incomplete")
		case errors.Is(err, service.ErrNoDepositAddress):
			RespondError(w, r, http.StatusNotFound, "deposit/address-not-found", "no deposit address for this owner")
		case errors.Is(err, service.ErrSweepInProgress):
			RespondError(w, r, http.StatusConflict, "deposit/sweep-in-progress", "a sweep is already running for this deposit address")
		case errors.Is(err, service.ErrRegistryClosed):
			RespondError(w, r, http.StatusServiceUnavailable, "deposit/shutting-down", "service is shutting down")
		default:
			zap.L().Error("start deposit sweep failed", zap.Error(err), zap.String("owner_ref", ownerRef))
			RespondError(w, r, http.StatusInternalServerError, "deposit/sweep-failed", "failed to start deposit sweep")
		}
		return
	}

	RespondJSON(w, http.StatusAccepted, entry)
}

func (h *DepositHandler) owner(w http.ResponseWriter, r *http.Request) (actor, string, bool) {
	caller, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return actor{}, "", false
	}
	var req ownerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return actor{}, "", false
	}
	ownerRef, err := caller.resolveOwner(req.OwnerRef)
	if err != nil {
		RespondError(w, r, http.StatusForbidden, "auth/insufficient-permissions", "insufficient permissions")
		return actor{}, "", false
	}
	return caller, ownerRef, true
}
