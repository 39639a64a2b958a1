// Package quota meters per-tenant daily usage of quota-bound capabilities.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/model"
)

// Counter is a check-and-increment primitive over fixed windows. Consume
// increments key only while the current count is below limit, and reports the
// count after the attempt. The key expires at expireAt.
type Counter interface {
	Consume(ctx context.Context, key string, limit int64, expireAt time.Time) (used int64, ok bool, err error)
	Used(ctx context.Context, key string) (int64, error)
}

// DailyWindow returns the calendar day containing now in loc and the instant
// the next day begins.
func DailyWindow(now time.Time, loc *time.Location) (day string, resetAt time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	y, m, d := local.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, loc)
	return start.Format(time.DateOnly), start.AddDate(0, 0, 1)
}

func Key(tenantID string, c model.Capability, day string) string {
	return fmt.Sprintf("quota:%s:%s:%s", tenantID, c, day)
}
