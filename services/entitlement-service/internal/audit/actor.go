package audit

import "context"

type actorKey struct{}

const SystemActor = "system"

// WithActor records who is making the change so deeper layers can audit it
// without threading the id through every call.
func WithActor(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorKey{}, actorID)
}

func ActorFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(actorKey{}).(string); ok && v != "" {
		return v
	}
	return SystemActor
}
