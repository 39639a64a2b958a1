package otelx

import "context"

// DetachedContext keeps the span context of ctx but drops its deadline and
// cancellation. Used for work that outlives the request, such as queued notifications.
func DetachedContext(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
