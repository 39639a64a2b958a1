package payment

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/model"
)

// Poller asks the gateway for a transaction's status, retrying transport
// errors with exponential backoff. It fails closed: exhausting the timeout
// or any non-retryable error yields PaymentFailed.
type Poller struct {
	gateway Gateway
	timeout time.Duration
	initial time.Duration
	logger  *slog.Logger
}

func NewPoller(g Gateway, timeout time.Duration, logger *slog.Logger) *Poller {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{gateway: g, timeout: timeout, initial: 200 * time.Millisecond, logger: logger}
}

func (p *Poller) Await(ctx context.Context, transactionID string) model.PaymentStatus {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.initial
	b.MaxInterval = 2 * time.Second

	op := func() (model.PaymentStatus, error) {
		status, err := p.gateway.CheckStatus(ctx, transactionID)
		if errors.Is(err, ErrUnknownTransaction) {
			return "", backoff.Permanent(err)
		}
		if err != nil {
			return "", err
		}
		if !status.Valid() {
			return "", backoff.Permanent(errors.New("gateway returned unknown status " + string(status)))
		}
		return status, nil
	}

	status, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(p.timeout),
		backoff.WithNotify(func(err error, next time.Duration) {
			p.logger.Warn("payment status check failed, retrying", "transaction_id", transactionID, "retry_in", next, "err", err)
		}),
	)
	if err != nil {
		p.logger.Warn("payment status unresolved, treating as failed", "transaction_id", transactionID, "err", err)
		return model.PaymentFailed
	}
	return status
}
