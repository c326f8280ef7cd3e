package audit

import "context"

type actorKey struct{}

// WithActor attaches the caller of the current request. The HTTP layer resolves the
// client IP; services read the actor back when they write audit events.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFrom returns the actor attached to ctx, or the zero Actor.
func ActorFrom(ctx context.Context) Actor {
	a, _ := ctx.Value(actorKey{}).(Actor)
	return a
}
