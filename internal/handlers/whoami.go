package handlers

import "net/http"

// Whoami resolves the caller's tenant, bootstrapping it on first touch.
func (h *Handler) Whoami(w http.ResponseWriter, r *http.Request) {
	identity, requestID := h.caller(r)

	tc, err := h.app.Tenant(identity.TenantID())
	if err != nil {
		h.Error(w, r, err)
		return
	}
	tenant, role, err := tc.EnsureTenantAndMember(r.Context(), identity, requestID)
	if err != nil {
		h.Error(w, r, err)
		return
	}

	h.JSON(w, r, http.StatusOK, map[string]any{
		"identity":  identity,
		"tenant_id": tenant.TenantID,
		"role":      role,
	})
}
