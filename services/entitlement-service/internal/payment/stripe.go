package payment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"

	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/model"
)

type paymentIntents interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeGateway creates one PaymentIntent per upgrade request.
type StripeGateway struct {
	intents paymentIntents
}

func NewStripeGateway(secretKey string) *StripeGateway {
	sc := client.New(strings.TrimSpace(secretKey), nil)
	return &StripeGateway{intents: sc.PaymentIntents}
}

func (g *StripeGateway) Initiate(ctx context.Context, c Charge) (string, error) {
	currency := strings.ToLower(strings.TrimSpace(c.Currency))
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(MinorUnits(c.Amount, currency)),
		Currency: stripe.String(currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.AddMetadata("tenant_id", c.TenantID)
	if c.Reference != "" {
		params.AddMetadata("upgrade_request_id", c.Reference)
		params.SetIdempotencyKey("upgrade:" + c.Reference)
	}

	pi, err := g.intents.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe create payment intent: %w", err)
	}
	return pi.ID, nil
}

func (g *StripeGateway) CheckStatus(ctx context.Context, transactionID string) (model.PaymentStatus, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := g.intents.Get(transactionID, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == http.StatusNotFound {
			return model.PaymentFailed, fmt.Errorf("%s: %w", transactionID, ErrUnknownTransaction)
		}
		return "", fmt.Errorf("stripe get payment intent: %w", err)
	}
	return IntentStatus(pi.Status), nil
}

// IntentStatus maps a Stripe PaymentIntent status onto the workflow's view.
func IntentStatus(s stripe.PaymentIntentStatus) model.PaymentStatus {
	switch s {
	case stripe.PaymentIntentStatusSucceeded:
		return model.PaymentPaid
	case stripe.PaymentIntentStatusCanceled:
		return model.PaymentFailed
	default:
		return model.PaymentPending
	}
}

var zeroDecimal = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true, "kmf": true, "krw": true,
	"mga": true, "pyg": true, "rwf": true, "ugx": true, "vnd": true, "vuv": true, "xaf": true,
	"xof": true, "xpf": true,
}

// MinorUnits converts a major-unit amount to the integer Stripe expects.
func MinorUnits(amount float64, currency string) int64 {
	if zeroDecimal[strings.ToLower(currency)] {
		return int64(math.Round(amount))
	}
	return int64(math.Round(amount * 100))
}
