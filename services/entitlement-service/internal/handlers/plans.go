package handlers

import (
	"net/http"

	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/model"
)

func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	list, err := h.plans.ListPlans(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !principalFrom(r.Context()).Admin() {
		active := list[:0]
		for _, p := range list {
			if p.Active {
				active = append(active, p)
			}
		}
		list = active
	}
	writeJSON(w, http.StatusOK, map[string]any{"plans": list})
}

func (h *Handler) GetPlan(w http.ResponseWriter, r *http.Request) {
	p, err := h.plans.GetPlan(r.Context(), model.PlanName(r.PathValue("name")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type pricingRequest struct {
	MonthlyPrice          *float64 `json:"monthly_price" validate:"required"`
	YearlyPrice           *float64 `json:"yearly_price" validate:"required"`
	YearlyDiscountPercent *float64 `json:"yearly_discount_percent" validate:"required"`
}

func (h *Handler) UpdatePlanPricing(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	var req pricingRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	p, err := h.plans.UpdatePlanPricing(r.Context(), model.PlanName(r.PathValue("name")),
		*req.MonthlyPrice, *req.YearlyPrice, *req.YearlyDiscountPercent)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type featuresRequest struct {
	Capabilities []model.Capability         `json:"capabilities" validate:"required,dive,required"`
	Quotas       map[model.Capability]int64 `json:"quotas"`
}

func (h *Handler) UpdatePlanFeatures(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	var req featuresRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	p, err := h.plans.UpdatePlanFeatures(r.Context(), model.PlanName(r.PathValue("name")), req.Capabilities, req.Quotas)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type activeRequest struct {
	Active *bool `json:"active" validate:"required"`
}

func (h *Handler) SetPlanActive(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	var req activeRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	p, err := h.plans.SetPlanActive(r.Context(), model.PlanName(r.PathValue("name")), *req.Active)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
