package handlers

import (
	"net/http"

	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/entitlements"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/model"
)

func (h *Handler) ListOverrides(w http.ResponseWriter, r *http.Request) {
	id, ok := tenantFor(w, r, r.PathValue("id"))
	if !ok {
		return
	}
	list, err := h.engine.ListOverrides(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"overrides": list})
}

type overrideRequest struct {
	Enabled   *bool  `json:"enabled" validate:"required"`
	StartsAt  string `json:"starts_at,omitempty"`
	ExpiresAt string `json:"expires_at,omitempty"`
	Reason    string `json:"reason,omitempty" validate:"max=500"`
}

func (h *Handler) SetOverride(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	var req overrideRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	startsAt, err := parseTime("starts_at", req.StartsAt)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	expiresAt, err := parseTime("expires_at", req.ExpiresAt)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	o, err := h.engine.SetOverride(r.Context(), entitlements.OverrideInput{
		TenantID:   r.PathValue("id"),
		Capability: model.Capability(r.PathValue("capability")),
		Enabled:    *req.Enabled,
		StartsAt:   startsAt,
		ExpiresAt:  expiresAt,
		Reason:     req.Reason,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *Handler) RemoveOverride(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	if err := h.engine.RemoveOverride(r.Context(), r.PathValue("id"), model.Capability(r.PathValue("capability"))); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
