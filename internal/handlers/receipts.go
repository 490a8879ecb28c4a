package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ubl-proto/ubl/internal/ublerr"
)

// Receipt returns the atom at a ledger seq, paired with its effect when the
// next atom references it.
func (h *Handler) Receipt(w http.ResponseWriter, r *http.Request) {
	identity, requestID := h.caller(r)

	seq, err := strconv.ParseInt(chi.URLParam(r, "seq"), 10, 64)
	if err != nil || seq < 1 {
		h.Error(w, r, ublerr.New(ublerr.ValidationError, "seq must be a positive integer"))
		return
	}

	tc, err := h.app.Tenant(identity.TenantID())
	if err != nil {
		h.Error(w, r, err)
		return
	}
	if _, _, err := tc.EnsureTenantAndMember(r.Context(), identity, requestID); err != nil {
		h.Error(w, r, err)
		return
	}

	ledg, err := h.app.Ledger(identity.TenantID())
	if err != nil {
		h.Error(w, r, err)
		return
	}
	atoms, err := ledg.GetBySeq(r.Context(), seq)
	if err != nil {
		h.Error(w, r, err)
		return
	}

	h.JSON(w, r, http.StatusOK, map[string]any{
		"seq":   seq,
		"atoms": atoms,
	})
}
