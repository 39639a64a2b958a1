package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/model"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/storage"
)

type initiateUpgradeRequest struct {
	TenantID     string `json:"tenant_id" validate:"omitempty,max=64"`
	Plan         string `json:"plan" validate:"required,max=64"`
	BillingCycle string `json:"billing_cycle" validate:"required,oneof=monthly yearly"`
}

func (h *Handler) InitiateUpgrade(w http.ResponseWriter, r *http.Request) {
	var req initiateUpgradeRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	tenantID, ok := tenantFor(w, r, req.TenantID)
	if !ok {
		return
	}
	u, err := h.upgrades.Initiate(r.Context(), tenantID, model.PlanName(req.Plan), model.BillingCycle(req.BillingCycle))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

// ListUpgrades filters by tenant_id and a comma separated status list.
// Non-admin callers only see their own tenant's requests.
func (h *Handler) ListUpgrades(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := storage.UpgradeFilter{TenantID: strings.TrimSpace(q.Get("tenant_id"))}
	if !principalFrom(r.Context()).Admin() {
		id, ok := tenantFor(w, r, f.TenantID)
		if !ok {
			return
		}
		f.TenantID = id
	}
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			f.Statuses = append(f.Statuses, model.UpgradeStatus(strings.TrimSpace(s)))
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "limit must be a positive integer", Code: "validation"})
			return
		}
		f.Limit = n
	}
	list, err := h.upgrades.List(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"upgrades": list})
}

func (h *Handler) GetUpgrade(w http.ResponseWriter, r *http.Request) {
	u, ok := h.ownedUpgrade(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, u)
}

type attachPaymentRequest struct {
	TransactionID string `json:"transaction_id" validate:"omitempty,max=255"`
}

// StartPayment attaches a caller-supplied transaction id, or asks the
// configured gateway for one when none is given.
func (h *Handler) StartPayment(w http.ResponseWriter, r *http.Request) {
	u, ok := h.ownedUpgrade(w, r)
	if !ok {
		return
	}
	var req attachPaymentRequest
	if r.ContentLength != 0 {
		if err := h.decode(r, &req); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	var err error
	if strings.TrimSpace(req.TransactionID) != "" {
		u, err = h.upgrades.AttachPayment(r.Context(), u.ID, req.TransactionID)
	} else {
		u, err = h.upgrades.StartPayment(r.Context(), u.ID)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

type paymentResultRequest struct {
	Status string `json:"status" validate:"required,oneof=paid pending failed"`
}

// PaymentResult records a payment outcome reported by a trusted caller.
func (h *Handler) PaymentResult(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	var req paymentResultRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	u, err := h.upgrades.OnPaymentResult(r.Context(), r.PathValue("id"), model.PaymentStatus(req.Status))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *Handler) SettlePayment(w http.ResponseWriter, r *http.Request) {
	u, ok := h.ownedUpgrade(w, r)
	if !ok {
		return
	}
	u, err := h.upgrades.SettlePayment(r.Context(), u.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

type decisionRequest struct {
	Note string `json:"note" validate:"max=1000"`
}

func (h *Handler) ApproveUpgrade(w http.ResponseWriter, r *http.Request) {
	h.decideUpgrade(w, r, true)
}

func (h *Handler) RejectUpgrade(w http.ResponseWriter, r *http.Request) {
	h.decideUpgrade(w, r, false)
}

func (h *Handler) decideUpgrade(w http.ResponseWriter, r *http.Request, approve bool) {
	if !requireAdmin(w, r) {
		return
	}
	var req decisionRequest
	if r.ContentLength != 0 {
		if err := h.decode(r, &req); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	decide := h.upgrades.Reject
	if approve {
		decide = h.upgrades.Approve
	}
	u, err := decide(r.Context(), r.PathValue("id"), req.Note)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// ownedUpgrade loads the request named in the path and checks the caller may see it.
func (h *Handler) ownedUpgrade(w http.ResponseWriter, r *http.Request) (model.UpgradeRequest, bool) {
	u, err := h.upgrades.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return model.UpgradeRequest{}, false
	}
	if !principalFrom(r.Context()).CanActFor(u.TenantID) {
		forbidden(w)
		return model.UpgradeRequest{}, false
	}
	return u, true
}
