package handlers

import (
	"net/http"

	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/model"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/tenants"
)

func (h *Handler) CreateTenant(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	var req tenants.CreateInput
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	t, err := h.tenants.Create(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (h *Handler) ListTenants(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	if !p.Admin() {
		if p.TenantID == "" {
			forbidden(w)
			return
		}
		t, err := h.tenants.Get(r.Context(), p.TenantID)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"tenants": []model.Tenant{t}})
		return
	}
	list, err := h.tenants.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenants": list})
}

func (h *Handler) GetTenant(w http.ResponseWriter, r *http.Request) {
	id, ok := tenantFor(w, r, r.PathValue("id"))
	if !ok {
		return
	}
	t, err := h.tenants.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) DeleteTenant(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	if err := h.tenants.SoftDelete(r.Context(), r.PathValue("id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
