package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/md-rashed-zaman/pharmagate/libs/httpx"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/audit"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/entitlements"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/model"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/plans"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/tenants"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/upgrades"
)

type Handler struct {
	engine   *entitlements.Engine
	plans    *plans.Registry
	tenants  *tenants.Directory
	upgrades *upgrades.Workflow
	audit    *audit.Recorder
	logger   *slog.Logger
	validate *validator.Validate

	jwtSecret              string
	stripeWebhookSecret    string
	stripeWebhookTolerance time.Duration
}

type Config struct {
	JWTSecret                     string
	StripeWebhookSecret           string
	StripeWebhookToleranceSeconds int
}

type Deps struct {
	Engine   *entitlements.Engine
	Plans    *plans.Registry
	Tenants  *tenants.Directory
	Upgrades *upgrades.Workflow
	Audit    *audit.Recorder
	Logger   *slog.Logger
}

func New(d Deps, cfg Config) *Handler {
	tolSeconds := cfg.StripeWebhookToleranceSeconds
	if tolSeconds <= 0 {
		tolSeconds = 300
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		engine:                 d.Engine,
		plans:                  d.Plans,
		tenants:                d.Tenants,
		upgrades:               d.Upgrades,
		audit:                  d.Audit,
		logger:                 logger,
		validate:               validator.New(validator.WithRequiredStructEnabled()),
		jwtSecret:              strings.TrimSpace(cfg.JWTSecret),
		stripeWebhookSecret:    strings.TrimSpace(cfg.StripeWebhookSecret),
		stripeWebhookTolerance: time.Duration(tolSeconds) * time.Second,
	}
}

// Register mounts the API on mux. Everything except the Stripe webhook
// requires a caller identity.
func (h *Handler) Register(mux *http.ServeMux) {
	route := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, h.authenticated(fn))
	}

	route("POST /api/v1/access/check", h.CheckAccess)
	route("POST /api/v1/access/explain", h.ExplainAccess)
	route("POST /api/v1/quota/consume", h.ConsumeQuota)
	route("GET /api/v1/quota/status", h.QuotaStatus)
	route("GET /api/v1/capabilities", h.ListCapabilities)

	route("GET /api/v1/plans", h.ListPlans)
	route("GET /api/v1/plans/{name}", h.GetPlan)
	route("PUT /api/v1/plans/{name}/pricing", h.UpdatePlanPricing)
	route("PUT /api/v1/plans/{name}/features", h.UpdatePlanFeatures)
	route("PUT /api/v1/plans/{name}/active", h.SetPlanActive)

	route("POST /api/v1/tenants", h.CreateTenant)
	route("GET /api/v1/tenants", h.ListTenants)
	route("GET /api/v1/tenants/{id}", h.GetTenant)
	route("DELETE /api/v1/tenants/{id}", h.DeleteTenant)

	route("GET /api/v1/tenants/{id}/overrides", h.ListOverrides)
	route("PUT /api/v1/tenants/{id}/overrides/{capability}", h.SetOverride)
	route("DELETE /api/v1/tenants/{id}/overrides/{capability}", h.RemoveOverride)

	route("POST /api/v1/upgrades", h.InitiateUpgrade)
	route("GET /api/v1/upgrades", h.ListUpgrades)
	route("GET /api/v1/upgrades/{id}", h.GetUpgrade)
	route("POST /api/v1/upgrades/{id}/payment", h.StartPayment)
	route("POST /api/v1/upgrades/{id}/payment/result", h.PaymentResult)
	route("POST /api/v1/upgrades/{id}/payment/settle", h.SettlePayment)
	route("POST /api/v1/upgrades/{id}/approve", h.ApproveUpgrade)
	route("POST /api/v1/upgrades/{id}/reject", h.RejectUpgrade)

	route("GET /api/v1/audit", h.ListAudit)

	mux.HandleFunc("POST /api/v1/webhooks/stripe", h.StripeWebhook)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// writeError maps the model error taxonomy onto HTTP statuses.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, model.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, model.ErrValidation):
		status, code = http.StatusBadRequest, "validation"
	case errors.Is(err, model.ErrUnknownCapability):
		status, code = http.StatusUnprocessableEntity, "unknown_capability"
	case errors.Is(err, model.ErrConflict):
		status, code = http.StatusConflict, "conflict"
	case errors.Is(err, model.ErrInvalidState):
		status, code = http.StatusConflict, "invalid_state"
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			"request_id", httpx.RequestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"err", err,
		)
		msg = "internal error"
	}
	writeJSON(w, status, errorBody{Error: msg, Code: code, RequestID: httpx.RequestIDFromContext(r.Context())})
}

// decode reads a JSON body into dst and runs struct validation.
func (h *Handler) decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid json body: %s", model.ErrValidation, err)
	}
	if err := h.validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %s", model.ErrValidation, err)
	}
	return nil
}

// parseTime accepts RFC 3339 timestamps; an empty string is nil.
func parseTime(field, v string) (*time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be RFC 3339", model.ErrValidation, field)
	}
	t = t.UTC()
	return &t, nil
}
