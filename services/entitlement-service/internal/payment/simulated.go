package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/model"
)

var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

type simulatedTx struct {
	charge    Charge
	createdAt time.Time
	outcome   model.PaymentStatus
}

// SimulatedGateway settles every transaction as paid once SettleAfter has
// elapsed. Outcomes can be forced per transaction for tests and demos.
type SimulatedGateway struct {
	SettleAfter time.Duration

	mu           sync.Mutex
	now          func() time.Time
	txs          map[string]*simulatedTx
	failInitiate bool
}

func NewSimulatedGateway(settleAfter time.Duration) *SimulatedGateway {
	return &SimulatedGateway{
		SettleAfter: settleAfter,
		now:         time.Now,
		txs:         map[string]*simulatedTx{},
	}
}

func (g *SimulatedGateway) Initiate(ctx context.Context, c Charge) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failInitiate {
		return "", ErrGatewayUnavailable
	}
	id := "sim_" + uuid.NewString()
	g.txs[id] = &simulatedTx{charge: c, createdAt: g.now()}
	return id, nil
}

func (g *SimulatedGateway) CheckStatus(ctx context.Context, transactionID string) (model.PaymentStatus, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	tx, ok := g.txs[transactionID]
	if !ok {
		return model.PaymentFailed, fmt.Errorf("%s: %w", transactionID, ErrUnknownTransaction)
	}
	if tx.outcome != "" {
		return tx.outcome, nil
	}
	if g.now().Sub(tx.createdAt) < g.SettleAfter {
		return model.PaymentPending, nil
	}
	return model.PaymentPaid, nil
}

// SetOutcome forces the status reported for transactionID.
func (g *SimulatedGateway) SetOutcome(transactionID string, s model.PaymentStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if tx, ok := g.txs[transactionID]; ok {
		tx.outcome = s
	}
}

// FailInitiate makes subsequent Initiate calls fail.
func (g *SimulatedGateway) FailInitiate(fail bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failInitiate = fail
}
