package model

import "time"

type UpgradeStatus string

const (
	UpgradeInitiated        UpgradeStatus = "initiated"
	UpgradePaymentPending   UpgradeStatus = "payment_pending"
	UpgradePaymentConfirmed UpgradeStatus = "payment_confirmed"
	UpgradeAdminPending     UpgradeStatus = "admin_pending"
	UpgradeApproved         UpgradeStatus = "approved"
	UpgradeRejected         UpgradeStatus = "rejected"
	UpgradePaymentFailed    UpgradeStatus = "payment_failed"
)

func (s UpgradeStatus) Terminal() bool {
	switch s {
	case UpgradeApproved, UpgradeRejected, UpgradePaymentFailed:
		return true
	}
	return false
}

// OpenUpgradeStatuses lists every non-terminal status.
var OpenUpgradeStatuses = []UpgradeStatus{
	UpgradeInitiated,
	UpgradePaymentPending,
	UpgradePaymentConfirmed,
	UpgradeAdminPending,
}

type PaymentStatus string

const (
	PaymentPaid    PaymentStatus = "paid"
	PaymentPending PaymentStatus = "pending"
	PaymentFailed  PaymentStatus = "failed"
)

func (s PaymentStatus) Valid() bool {
	return s == PaymentPaid || s == PaymentPending || s == PaymentFailed
}

// UpgradeRequest tracks a tenant's move to another plan. Records are never deleted.
type UpgradeRequest struct {
	ID            string        `json:"id"`
	TenantID      string        `json:"tenant_id"`
	TenantName    string        `json:"tenant_name"`
	CurrentPlan   PlanName      `json:"current_plan"`
	RequestedPlan PlanName      `json:"requested_plan"`
	Cycle         BillingCycle  `json:"billing_cycle"`
	Amount        float64       `json:"amount"`
	Currency      string        `json:"currency"`
	TransactionID string        `json:"transaction_id,omitempty"`
	Status        UpgradeStatus `json:"status"`
	AdminNote     string        `json:"admin_note,omitempty"`
	DecidedBy     string        `json:"decided_by,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	DecidedAt     *time.Time    `json:"decided_at,omitempty"`
}
