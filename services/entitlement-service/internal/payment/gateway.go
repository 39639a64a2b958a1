// Package payment talks to the payment collaborator used by the upgrade workflow.
package payment

import (
	"context"
	"errors"

	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/model"
)

var ErrUnknownTransaction = errors.New("unknown transaction")

// Charge is one upgrade payment. Amount is in major currency units.
type Charge struct {
	TenantID  string
	Amount    float64
	Currency  string
	Reference string
}

// Gateway is treated as slow and untrusted; callers bound every call.
type Gateway interface {
	Initiate(ctx context.Context, c Charge) (transactionID string, err error)
	CheckStatus(ctx context.Context, transactionID string) (model.PaymentStatus, error)
}
