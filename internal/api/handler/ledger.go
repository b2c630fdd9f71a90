package handler

import (
	"errors"
	"net/http"

	"github.com/ayo6706/stablecoin-gateway/internal/service"
	"go.uber.org/zap"
)

// LedgerHandler serves ledger reads.
type LedgerHandler struct {
	ledger *service.LedgerService
}

func NewLedgerHandler(ledger *service.LedgerService) *LedgerHandler {
	return &LedgerHandler{ledger: ledger}
}

// GetEntry handles GET /v1/ledger/{id}. Only the owner or an admin may read it.
func (h *LedgerHandler) GetEntry(w http.ResponseWriter, r *http.Request) {
	caller, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	id, err := uuidParam(r, "id")
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-entry-id", "Invalid ledger entry ID")
		return
	}

	entry, err := h.ledger.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrEntryNotFound) {
			RespondError(w, r, http.StatusNotFound, "ledger/not-found", "Ledger entry not found")
			return
		}
		zap.L().Error("get ledger entry failed", zap.Error(err), zap.String("entry_id", id.String()))
		RespondError(w, r, http.StatusInternalServerError, "ledger/read-failed", "Failed to get ledger entry")
		return
	}
	// Foreign entries look missing rather than forbidden.
	if !caller.canRead(entry.OwnerRef) {
		RespondError(w, r, http.StatusNotFound, "ledger/not-found", "Ledger entry not found")
		return
	}
	RespondJSON(w, http.StatusOK, entry)
}

// ListEntries handles GET /v1/ledger?limit=&offset=&owner_ref=.
func (h *LedgerHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
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

	entries, err := h.ledger.ListByOwner(r.Context(), ownerRef, queryInt32(r, "limit", 50), queryInt32(r, "offset", 0))
	if err != nil {
		zap.L().Error("list ledger entries failed", zap.Error(err), zap.String("owner_ref", ownerRef))
		RespondError(w, r, http.StatusInternalServerError, "ledger/read-failed", "Failed to list ledger entries")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

// History handles GET /v1/admin/ledger/{id}/history (admin only).
func (h *LedgerHandler) History(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-entry-id", "Invalid ledger entry ID")
		return
	}
	events, err := h.ledger.History(r.Context(), id)
	if err != nil {
		zap.L().Error("ledger history failed", zap.Error(err), zap.String("entry_id", id.String()))
		RespondError(w, r, http.StatusInternalServerError, "ledger/read-failed", "Failed to read ledger history")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}
