package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/md-rashed-zaman/pharmagate/libs/auth"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/audit"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/capability"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/entitlements"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/lock"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/model"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/payment"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/plans"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/quota"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/storage"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/tenants"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/upgrades"
)

const webhookSecret = "whsec_test"

type server struct {
	mux *http.ServeMux
	dir *tenants.Directory
	wf  *upgrades.Workflow
}

func newServer(t *testing.T, cfg Config) *server {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemoryStore()
	caps := capability.Default()
	rec := audit.NewRecorder(store, nil)

	reg := plans.NewRegistry(store, caps, rec, nil, nil)
	catalog, err := plans.LoadCatalog("", caps)
	require.NoError(t, err)
	_, err = reg.Seed(ctx, catalog)
	require.NoError(t, err)

	locker := lock.NewKeyedMutex()
	dir := tenants.NewDirectory(store, rec, locker, nil)
	_, err = dir.Create(ctx, tenants.CreateInput{ID: "T1", Role: "pharmacy_admin", DisplayName: "Green Cross", Plan: "Basic"})
	require.NoError(t, err)
	_, err = dir.Create(ctx, tenants.CreateInput{ID: "P1", Role: "patient", DisplayName: "Jo", Plan: "PatientFree"})
	require.NoError(t, err)

	engine := entitlements.NewEngine(entitlements.Deps{
		Capabilities: caps,
		Tenants:      dir,
		Plans:        reg,
		Overrides:    store,
		Counter:      quota.NewMemoryCounter(nil),
		Audit:        rec,
	})
	gw := payment.NewSimulatedGateway(0)
	wf := upgrades.New(upgrades.Deps{
		Store:   store,
		Tenants: dir,
		Plans:   reg,
		Gateway: gw,
		Poller:  payment.NewPoller(gw, 200*time.Millisecond, nil),
		Locker:  locker,
		Audit:   rec,
	})

	if cfg.StripeWebhookSecret == "" {
		cfg.StripeWebhookSecret = webhookSecret
	}
	h := New(Deps{Engine: engine, Plans: reg, Tenants: dir, Upgrades: wf, Audit: rec}, cfg)
	mux := http.NewServeMux()
	h.Register(mux)
	return &server{mux: mux, dir: dir, wf: wf}
}

type caller struct {
	user, tenant, role string
}

var (
	admin    = caller{user: "ops-1", role: "super_admin"}
	pharmacy = caller{user: "u-1", tenant: "T1", role: "pharmacy_admin"}
	patient  = caller{user: "u-2", tenant: "P1", role: "patient"}
)

func (s *server) do(t *testing.T, c caller, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body == nil {
		req.ContentLength = 0
	}
	if c.user != "" {
		req.Header.Set("X-User-Id", c.user)
		req.Header.Set("X-Tenant-Id", c.tenant)
		req.Header.Set("X-Role", c.role)
	}
	rr := httptest.NewRecorder()
	s.mux.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func TestAccessCheckDeniedIsNotAnError(t *testing.T) {
	s := newServer(t, Config{})

	rr := s.do(t, pharmacy, http.MethodPost, "/api/v1/access/check", map[string]string{"capability": "marketplace"})
	require.Equal(t, http.StatusOK, rr.Code)
	got := decodeBody[accessResponse](t, rr)
	assert.False(t, got.Allowed)
	assert.True(t, got.UpgradeRequired)
	assert.Equal(t, "T1", got.TenantID)

	rr = s.do(t, pharmacy, http.MethodPost, "/api/v1/access/check", map[string]string{"capability": "inventory"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, decodeBody[accessResponse](t, rr).Allowed)
}

func TestAccessErrorsMapToStatusCodes(t *testing.T) {
	s := newServer(t, Config{})

	rr := s.do(t, pharmacy, http.MethodPost, "/api/v1/access/check", map[string]string{"capability": "teleportation"})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, "unknown_capability", decodeBody[errorBody](t, rr).Code)

	rr = s.do(t, pharmacy, http.MethodPost, "/api/v1/access/check", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(t, pharmacy, http.MethodPost, "/api/v1/access/check", map[string]string{"tenant_id": "P1", "capability": "inventory"})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = s.do(t, admin, http.MethodPost, "/api/v1/access/check", map[string]string{"tenant_id": "ghost", "capability": "inventory"})
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = s.do(t, caller{}, http.MethodPost, "/api/v1/access/check", map[string]string{"capability": "inventory"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestQuotaConsumeUntilExhausted(t *testing.T) {
	s := newServer(t, Config{})

	for i := 0; i < 3; i++ {
		rr := s.do(t, patient, http.MethodPost, "/api/v1/quota/consume", map[string]string{"capability": "ai_health_assistant"})
		require.Equal(t, http.StatusOK, rr.Code)
		res := decodeBody[entitlements.QuotaResult](t, rr)
		assert.True(t, res.Allowed)
		assert.EqualValues(t, 2-i, res.Remaining)
	}
	rr := s.do(t, patient, http.MethodPost, "/api/v1/quota/consume", map[string]string{"capability": "ai_health_assistant"})
	require.Equal(t, http.StatusOK, rr.Code)
	res := decodeBody[entitlements.QuotaResult](t, rr)
	assert.False(t, res.Allowed)
	assert.Zero(t, res.Remaining)

	rr = s.do(t, patient, http.MethodGet, "/api/v1/quota/status?capability=ai_health_assistant", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 3, decodeBody[entitlements.QuotaResult](t, rr).Used)
}

func TestPlanAdminEndpointsRequireSuperAdmin(t *testing.T) {
	s := newServer(t, Config{})
	body := map[string]float64{"monthly_price": 35, "yearly_price": 350, "yearly_discount_percent": 16}

	rr := s.do(t, pharmacy, http.MethodPut, "/api/v1/plans/Basic/pricing", body)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = s.do(t, admin, http.MethodPut, "/api/v1/plans/Basic/pricing", body)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 35.0, decodeBody[model.Plan](t, rr).MonthlyPrice)

	rr = s.do(t, admin, http.MethodPut, "/api/v1/plans/Basic/pricing", map[string]float64{"monthly_price": -1, "yearly_price": 350, "yearly_discount_percent": 16})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(t, pharmacy, http.MethodGet, "/api/v1/plans/Basic", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 35.0, decodeBody[model.Plan](t, rr).MonthlyPrice)

	rr = s.do(t, admin, http.MethodPut, "/api/v1/plans/Standard/active", map[string]bool{"active": false})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = s.do(t, pharmacy, http.MethodGet, "/api/v1/plans", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	list := decodeBody[struct {
		Plans []model.Plan `json:"plans"`
	}](t, rr)
	for _, p := range list.Plans {
		assert.NotEqual(t, model.PlanStandard, p.Name)
	}
}

func TestOverrideRoundTrip(t *testing.T) {
	s := newServer(t, Config{})
	expires := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)

	rr := s.do(t, admin, http.MethodPut, "/api/v1/tenants/T1/overrides/marketplace", map[string]any{"enabled": true, "expires_at": expires})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = s.do(t, pharmacy, http.MethodPost, "/api/v1/access/check", map[string]string{"capability": "marketplace"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, decodeBody[accessResponse](t, rr).Allowed)

	rr = s.do(t, pharmacy, http.MethodGet, "/api/v1/tenants/T1/overrides", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = s.do(t, admin, http.MethodDelete, "/api/v1/tenants/T1/overrides/marketplace", nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = s.do(t, pharmacy, http.MethodPost, "/api/v1/access/check", map[string]string{"capability": "marketplace"})
	assert.False(t, decodeBody[accessResponse](t, rr).Allowed)

	rr = s.do(t, admin, http.MethodPut, "/api/v1/tenants/T1/overrides/marketplace", map[string]any{"enabled": true, "expires_at": "tomorrow"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestUpgradeFlowOverHTTP(t *testing.T) {
	s := newServer(t, Config{})

	rr := s.do(t, pharmacy, http.MethodPost, "/api/v1/upgrades", map[string]string{"plan": "Platinum", "billing_cycle": "monthly"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	u := decodeBody[model.UpgradeRequest](t, rr)

	rr = s.do(t, pharmacy, http.MethodPost, "/api/v1/upgrades", map[string]string{"plan": "Standard", "billing_cycle": "monthly"})
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = s.do(t, patient, http.MethodGet, "/api/v1/upgrades/"+u.ID, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = s.do(t, pharmacy, http.MethodPost, "/api/v1/upgrades/"+u.ID+"/approve", nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = s.do(t, admin, http.MethodPost, "/api/v1/upgrades/"+u.ID+"/approve", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "invalid_state", decodeBody[errorBody](t, rr).Code)

	rr = s.do(t, pharmacy, http.MethodPost, "/api/v1/upgrades/"+u.ID+"/payment", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	u = decodeBody[model.UpgradeRequest](t, rr)
	assert.Equal(t, model.UpgradePaymentPending, u.Status)

	rr = s.do(t, pharmacy, http.MethodPost, "/api/v1/upgrades/"+u.ID+"/payment/settle", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, model.UpgradeAdminPending, decodeBody[model.UpgradeRequest](t, rr).Status)

	rr = s.do(t, admin, http.MethodGet, "/api/v1/upgrades?status=admin_pending", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	pending := decodeBody[struct {
		Upgrades []model.UpgradeRequest `json:"upgrades"`
	}](t, rr)
	require.Len(t, pending.Upgrades, 1)

	rr = s.do(t, admin, http.MethodPost, "/api/v1/upgrades/"+u.ID+"/approve", map[string]string{"note": "ok"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	approved := decodeBody[model.UpgradeRequest](t, rr)
	assert.Equal(t, model.UpgradeApproved, approved.Status)
	assert.Equal(t, "ops-1", approved.DecidedBy)

	rr = s.do(t, pharmacy, http.MethodPost, "/api/v1/access/check", map[string]string{"capability": "marketplace"})
	assert.True(t, decodeBody[accessResponse](t, rr).Allowed)

	rr = s.do(t, admin, http.MethodGet, "/api/v1/audit?limit=5", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	entries := decodeBody[struct {
		Entries []model.AuditLogEntry `json:"entries"`
	}](t, rr)
	require.NotEmpty(t, entries.Entries)
	assert.Equal(t, "approve", entries.Entries[0].Operation)
	assert.Equal(t, "ops-1", entries.Entries[0].ChangedBy)
}

func TestTenantEndpoints(t *testing.T) {
	s := newServer(t, Config{})

	rr := s.do(t, admin, http.MethodPost, "/api/v1/tenants", map[string]string{"id": "D1", "role": "doctor", "display_name": "Dr. Rahman", "plan": "Basic", "timezone": "Asia/Dhaka"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = s.do(t, admin, http.MethodPost, "/api/v1/tenants", map[string]string{"role": "wizard", "display_name": "x", "plan": "Basic"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(t, pharmacy, http.MethodGet, "/api/v1/tenants", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	own := decodeBody[struct {
		Tenants []model.Tenant `json:"tenants"`
	}](t, rr)
	require.Len(t, own.Tenants, 1)
	assert.Equal(t, "T1", own.Tenants[0].ID)

	rr = s.do(t, admin, http.MethodDelete, "/api/v1/tenants/D1", nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	rr = s.do(t, admin, http.MethodGet, "/api/v1/tenants/D1", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestBearerTokenAuthentication(t *testing.T) {
	const secret = "test-secret"
	s := newServer(t, Config{JWTSecret: secret})

	rr := s.do(t, pharmacy, http.MethodGet, "/api/v1/capabilities", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code, "headers are ignored once a secret is set")

	token, err := auth.SignHS256(auth.Claims{Sub: "u-1", TenantID: "T1", Role: "pharmacy_admin", Exp: time.Now().Add(time.Hour).Unix()}, secret)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/capabilities", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func signedEvent(t *testing.T, eventType, intentID, status string) (*http.Request, []byte) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":          "evt_test_1",
		"object":      "event",
		"created":     time.Now().Unix(),
		"type":        eventType,
		"api_version": stripe.APIVersion,
		"data": map[string]any{
			"object": map[string]any{"id": intentID, "object": "payment_intent", "status": status},
		},
	})
	require.NoError(t, err)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    webhookSecret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	return req, payload
}

func TestStripeWebhookAdvancesUpgrade(t *testing.T) {
	s := newServer(t, Config{})
	ctx := context.Background()
	u, err := s.wf.Initiate(ctx, "T1", model.PlanPlatinum, model.CycleYearly)
	require.NoError(t, err)
	_, err = s.wf.AttachPayment(ctx, u.ID, "pi_123")
	require.NoError(t, err)

	req, _ := signedEvent(t, "payment_intent.succeeded", "pi_123", "succeeded")
	rr := httptest.NewRecorder()
	s.mux.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	got, err := s.wf.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, model.UpgradeAdminPending, got.Status)

	req, _ = signedEvent(t, "payment_intent.succeeded", "pi_123", "succeeded")
	rr = httptest.NewRecorder()
	s.mux.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "duplicate", decodeBody[map[string]any](t, rr)["status"])

	req, _ = signedEvent(t, "payment_intent.succeeded", "pi_unknown", "succeeded")
	rr = httptest.NewRecorder()
	s.mux.ServeHTTP(rr, req)
	assert.Equal(t, "unmatched", decodeBody[map[string]any](t, rr)["status"])
}

func TestStripeWebhookRejectsBadSignature(t *testing.T) {
	s := newServer(t, Config{})
	req, _ := signedEvent(t, "payment_intent.succeeded", "pi_1", "succeeded")
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	rr := httptest.NewRecorder()
	s.mux.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
