package model

import "time"

type Role string

const (
	RoleSuperAdmin    Role = "super_admin"
	RolePharmacyAdmin Role = "pharmacy_admin"
	RoleDoctor        Role = "doctor"
	RolePatient       Role = "patient"
)

func (r Role) Valid() bool {
	switch r {
	case RoleSuperAdmin, RolePharmacyAdmin, RoleDoctor, RolePatient:
		return true
	}
	return false
}

// Tenant is an account subject to entitlement checks: a pharmacy, a doctor, or a patient.
// Usage counters are kept by the quota counter, not on the record.
type Tenant struct {
	ID            string     `json:"id"`
	Role          Role       `json:"role"`
	DisplayName   string     `json:"display_name"`
	Plan          PlanName   `json:"plan"`
	PlanStartedAt time.Time  `json:"plan_started_at"`
	PlanExpiresAt *time.Time `json:"plan_expires_at,omitempty"`
	Timezone      string     `json:"timezone"`
	DeletedAt     *time.Time `json:"deleted_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (t Tenant) Deleted() bool {
	return t.DeletedAt != nil
}

// PlanExpired reports whether the assigned plan's paid period ended before now.
// A nil expiry means the plan does not lapse (seeded or free tiers).
func (t Tenant) PlanExpired(now time.Time) bool {
	return t.PlanExpiresAt != nil && !now.Before(*t.PlanExpiresAt)
}

// Location resolves the tenant's IANA timezone, falling back to UTC.
func (t Tenant) Location() *time.Location {
	if t.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(t.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
