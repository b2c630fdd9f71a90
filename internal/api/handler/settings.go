package handler

import (
	"errors"
	"net/http"

	"github.com/ayo6706/stablecoin-gateway/internal/operator"
	"github.com/ayo6706/stablecoin-gateway/internal/service"
	"go.uber.org/zap"
)

// SettingsHandler reads and replaces operator credentials (admin only).
type SettingsHandler struct {
	settings *service.SettingsService
}

func NewSettingsHandler(settings *service.SettingsService) *SettingsHandler {
	return &SettingsHandler{settings: settings}
}

// UpdateSettingsRequest replaces every operator field at once.
type UpdateSettingsRequest struct {
	TreasuryAddress     string `json:"treasury_address"`
	GasWalletAddress    string `json:"gas_wallet_address"`
	GasWalletPrivateKey string `json:"gas_wallet_private_key"`
	SignerPrivateKey    string `json:"signer_private_key"`
}

// Get handles GET /v1/admin/settings. Private keys are never returned.
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, h.settings.Get())
}

// Update handles PUT /v1/admin/settings.
func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	caller, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	var req UpdateSettingsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	view, err := h.settings.Update(r.Context(), operator.Credentials{
		TreasuryAddress:     req.TreasuryAddress,
		GasWalletAddress:    req.GasWalletAddress,
		GasWalletPrivateKey: req.GasWalletPrivateKey,
		SignerPrivateKey:    req.SignerPrivateKey,
	}, caller.idPtr())
	if err != nil {
		var cfgErr *operator.ConfigurationError
		switch {
		case errors.As(err, &cfgErr):
			RespondError(w, r, http.StatusBadRequest, "settings/invalid", cfgErr.Error())
		case errors.Is(err, service.ErrSettingsConflict):
			RespondError(w, r, http.StatusConflict, "settings/conflict", err.Error())
		default:
			zap.L().Error("update operator settings failed", zap.Error(err))
			RespondError(w, r, http.StatusInternalServerError, "settings/update-failed", "Failed to update settings")
		}
		return
	}
	RespondJSON(w, http.StatusOK, view)
}
