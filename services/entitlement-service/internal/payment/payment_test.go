package payment

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"

	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/model"
)

type fakeIntents struct {
	created *stripe.PaymentIntentParams
	status  stripe.PaymentIntentStatus
	getErr  error
}

func (f *fakeIntents) New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	f.created = params
	return &stripe.PaymentIntent{ID: "pi_test"}, nil
}

func (f *fakeIntents) Get(id string, _ *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &stripe.PaymentIntent{ID: id, Status: f.status}, nil
}

func TestStripeGatewayInitiateUsesMinorUnitsAndIdempotency(t *testing.T) {
	fake := &fakeIntents{}
	g := &StripeGateway{intents: fake}

	id, err := g.Initiate(context.Background(), Charge{TenantID: "t1", Amount: 49.99, Currency: "USD", Reference: "req-1"})
	require.NoError(t, err)
	assert.Equal(t, "pi_test", id)
	require.NotNil(t, fake.created)
	assert.Equal(t, int64(4999), *fake.created.Amount)
	assert.Equal(t, "usd", *fake.created.Currency)
	assert.Equal(t, "t1", fake.created.Metadata["tenant_id"])
	assert.Equal(t, "upgrade:req-1", *fake.created.IdempotencyKey)
}

func TestStripeGatewayCheckStatus(t *testing.T) {
	fake := &fakeIntents{status: stripe.PaymentIntentStatusSucceeded}
	g := &StripeGateway{intents: fake}

	s, err := g.CheckStatus(context.Background(), "pi_1")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentPaid, s)

	fake.getErr = &stripe.Error{HTTPStatusCode: 404}
	_, err = g.CheckStatus(context.Background(), "pi_missing")
	assert.ErrorIs(t, err, ErrUnknownTransaction)
}

func TestIntentStatusMapping(t *testing.T) {
	assert.Equal(t, model.PaymentPaid, IntentStatus(stripe.PaymentIntentStatusSucceeded))
	assert.Equal(t, model.PaymentFailed, IntentStatus(stripe.PaymentIntentStatusCanceled))
	assert.Equal(t, model.PaymentPending, IntentStatus(stripe.PaymentIntentStatusProcessing))
	assert.Equal(t, model.PaymentPending, IntentStatus(stripe.PaymentIntentStatusRequiresPaymentMethod))
}

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int64(1050), MinorUnits(10.5, "usd"))
	assert.Equal(t, int64(500), MinorUnits(500, "JPY"))
	assert.Equal(t, int64(2000), MinorUnits(19.999, "usd"))
}

func TestSimulatedGatewaySettlesAfterDelay(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	g := NewSimulatedGateway(2 * time.Second)
	g.now = func() time.Time { return now }

	id, err := g.Initiate(ctx, Charge{TenantID: "t1", Amount: 10})
	require.NoError(t, err)

	s, err := g.CheckStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentPending, s)

	now = now.Add(2 * time.Second)
	s, err = g.CheckStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentPaid, s)

	g.SetOutcome(id, model.PaymentFailed)
	s, _ = g.CheckStatus(ctx, id)
	assert.Equal(t, model.PaymentFailed, s)

	g.FailInitiate(true)
	_, err = g.Initiate(ctx, Charge{TenantID: "t1"})
	assert.ErrorIs(t, err, ErrGatewayUnavailable)
}

type flakyGateway struct {
	calls    atomic.Int32
	failures int32
	status   model.PaymentStatus
}

func (g *flakyGateway) Initiate(context.Context, Charge) (string, error) { return "tx", nil }

func (g *flakyGateway) CheckStatus(context.Context, string) (model.PaymentStatus, error) {
	if g.calls.Add(1) <= g.failures {
		return "", errors.New("connection reset")
	}
	return g.status, nil
}

func TestPollerRetriesTransportErrors(t *testing.T) {
	g := &flakyGateway{failures: 2, status: model.PaymentPaid}
	p := NewPoller(g, time.Second, nil)
	p.initial = time.Millisecond

	assert.Equal(t, model.PaymentPaid, p.Await(context.Background(), "tx"))
	assert.Equal(t, int32(3), g.calls.Load())
}

func TestPollerFailsClosedOnTimeout(t *testing.T) {
	g := &flakyGateway{failures: 1 << 30}
	p := NewPoller(g, 50*time.Millisecond, nil)
	p.initial = time.Millisecond

	assert.Equal(t, model.PaymentFailed, p.Await(context.Background(), "tx"))
}

func TestPollerUnknownTransactionIsFailed(t *testing.T) {
	g := NewSimulatedGateway(0)
	p := NewPoller(g, time.Second, nil)
	assert.Equal(t, model.PaymentFailed, p.Await(context.Background(), "nope"))
}
