package handlers

import (
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/model"
)

type accessRequest struct {
	TenantID   string `json:"tenant_id" validate:"omitempty,max=64"`
	Capability string `json:"capability" validate:"required,max=64"`
}

type accessResponse struct {
	TenantID        string           `json:"tenant_id"`
	Capability      model.Capability `json:"capability"`
	Allowed         bool             `json:"allowed"`
	UpgradeRequired bool             `json:"upgrade_required"`
}

// CheckAccess answers whether a tenant may use a capability. A denial is a
// normal 200 response.
func (h *Handler) CheckAccess(w http.ResponseWriter, r *http.Request) {
	var req accessRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	tenantID, ok := tenantFor(w, r, req.TenantID)
	if !ok {
		return
	}
	d, err := h.engine.ExplainByID(r.Context(), tenantID, model.Capability(req.Capability))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accessResponse{
		TenantID:        tenantID,
		Capability:      d.Capability,
		Allowed:         d.Allowed,
		UpgradeRequired: d.UpgradeRequired,
	})
}

func (h *Handler) ExplainAccess(w http.ResponseWriter, r *http.Request) {
	var req accessRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	tenantID, ok := tenantFor(w, r, req.TenantID)
	if !ok {
		return
	}
	d, err := h.engine.ExplainByID(r.Context(), tenantID, model.Capability(req.Capability))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *Handler) ConsumeQuota(w http.ResponseWriter, r *http.Request) {
	var req accessRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	tenantID, ok := tenantFor(w, r, req.TenantID)
	if !ok {
		return
	}
	res, err := h.engine.ConsumeQuotaByID(r.Context(), tenantID, model.Capability(req.Capability))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) QuotaStatus(w http.ResponseWriter, r *http.Request) {
	c := strings.TrimSpace(r.URL.Query().Get("capability"))
	if c == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "capability is required", Code: "validation"})
		return
	}
	tenantID, ok := tenantFor(w, r, r.URL.Query().Get("tenant_id"))
	if !ok {
		return
	}
	res, err := h.engine.QuotaStatusByID(r.Context(), tenantID, model.Capability(c))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) ListCapabilities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"capabilities": h.engine.Capabilities()})
}
