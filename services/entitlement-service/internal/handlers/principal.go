package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/pharmagate/libs/auth"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/audit"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/model"
)

// Principal is the authenticated caller.
type Principal struct {
	UserID   string
	TenantID string
	Role     model.Role
}

func (p Principal) Admin() bool {
	return p.Role == model.RoleSuperAdmin
}

// CanActFor reports whether p may read or change tenantID's records.
func (p Principal) CanActFor(tenantID string) bool {
	return p.Admin() || (p.TenantID != "" && p.TenantID == tenantID)
}

type principalKey struct{}

func principalFrom(ctx context.Context) Principal {
	p, _ := ctx.Value(principalKey{}).(Principal)
	return p
}

// authenticated resolves the caller from a bearer token when a JWT secret is
// configured, otherwise from the X-User-Id, X-Tenant-Id and X-Role headers set
// by the gateway.
func (h *Handler) authenticated(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := h.resolvePrincipal(r)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized", Code: "unauthorized"})
			return
		}
		ctx := context.WithValue(r.Context(), principalKey{}, p)
		ctx = audit.WithActor(ctx, p.UserID)
		next(w, r.WithContext(ctx))
	})
}

func (h *Handler) resolvePrincipal(r *http.Request) (Principal, bool) {
	if h.jwtSecret != "" {
		token, ok := auth.BearerToken(r.Header.Get("Authorization"))
		if !ok {
			return Principal{}, false
		}
		claims, err := auth.ParseAndVerifyHS256(token, h.jwtSecret)
		if err != nil || claims.Sub == "" {
			return Principal{}, false
		}
		return Principal{UserID: claims.Sub, TenantID: claims.TenantID, Role: model.Role(claims.Role)}, true
	}
	userID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if userID == "" {
		return Principal{}, false
	}
	return Principal{
		UserID:   userID,
		TenantID: strings.TrimSpace(r.Header.Get("X-Tenant-Id")),
		Role:     model.Role(strings.TrimSpace(r.Header.Get("X-Role"))),
	}, true
}

func forbidden(w http.ResponseWriter) {
	writeJSON(w, http.StatusForbidden, errorBody{Error: "forbidden", Code: "forbidden"})
}

// requireAdmin writes 403 and returns false for non-admin callers.
func requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if !principalFrom(r.Context()).Admin() {
		forbidden(w)
		return false
	}
	return true
}

// tenantFor picks the tenant a request targets, defaulting to the caller's,
// and checks the caller may act for it.
func tenantFor(w http.ResponseWriter, r *http.Request, requested string) (string, bool) {
	p := principalFrom(r.Context())
	id := strings.TrimSpace(requested)
	if id == "" {
		id = p.TenantID
	}
	if id == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "tenant_id is required", Code: "validation"})
		return "", false
	}
	if !p.CanActFor(id) {
		forbidden(w)
		return "", false
	}
	return id, true
}
