package quota

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDailyWindowUsesTenantTimezone(t *testing.T) {
	dhaka, err := time.LoadLocation("Asia/Dhaka")
	require.NoError(t, err)

	// 20:00 UTC is already the next day in Dhaka (UTC+6).
	now := time.Date(2026, 4, 1, 20, 0, 0, 0, time.UTC)

	day, reset := DailyWindow(now, time.UTC)
	assert.Equal(t, "2026-04-01", day)
	assert.Equal(t, time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC), reset)

	day, reset = DailyWindow(now, dhaka)
	assert.Equal(t, "2026-04-02", day)
	assert.True(t, reset.Equal(time.Date(2026, 4, 2, 18, 0, 0, 0, time.UTC)))
}

func TestKey(t *testing.T) {
	assert.Equal(t, "quota:t1:ai_insights:2026-04-01", Key("t1", "ai_insights", "2026-04-01"))
}

func TestMemoryCounterStopsAtLimitAndResets(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	c := NewMemoryCounter(func() time.Time { return now })
	reset := now.Add(time.Hour)

	for i := int64(1); i <= 3; i++ {
		used, ok, err := c.Consume(ctx, "k", 3, reset)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, i, used)
	}
	used, ok, err := c.Consume(ctx, "k", 3, reset)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(3), used)

	now = reset
	got, err := c.Used(ctx, "k")
	require.NoError(t, err)
	assert.Zero(t, got)

	used, ok, err = c.Consume(ctx, "k", 3, reset.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(1), used)
}

func TestMemoryCounterConcurrentConsumersNeverExceedLimit(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCounter(nil)
	reset := time.Now().Add(time.Hour)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := c.Consume(ctx, "k", 10, reset)
			if err == nil && ok {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, granted)
}

func TestToInt64(t *testing.T) {
	n, err := toInt64("7")
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)

	_, err = toInt64(1.5)
	assert.Error(t, err)
}
