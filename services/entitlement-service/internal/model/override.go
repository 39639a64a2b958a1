package model

import "time"

// Override grants or revokes one capability for one tenant, independent of plan.
type Override struct {
	TenantID   string     `json:"tenant_id"`
	Capability Capability `json:"capability"`
	Enabled    bool       `json:"enabled"`
	StartsAt   *time.Time `json:"starts_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	CreatedBy  string     `json:"created_by"`
	CreatedAt  time.Time  `json:"created_at"`
}

// ActiveAt reports whether the override's window contains now.
func (o Override) ActiveAt(now time.Time) bool {
	if o.StartsAt != nil && now.Before(*o.StartsAt) {
		return false
	}
	if o.ExpiresAt != nil && !now.Before(*o.ExpiresAt) {
		return false
	}
	return true
}

func (o Override) ExpiredAt(now time.Time) bool {
	return o.ExpiresAt != nil && !now.Before(*o.ExpiresAt)
}
