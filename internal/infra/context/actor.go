package context

import (
	"context"
)

const contextKeyActor = contextKey("actor")

// ActorFromContext extracts the authenticated actor from the context.
// Anonymous requests (public or signed access) carry no actor.
func ActorFromContext(ctx context.Context) (string, bool) {
	actor, ok := ctx.Value(contextKeyActor).(string)

	return actor, ok && actor != ""
}

// ActorRef returns the actor as a nullable reference, as stored on media records.
func ActorRef(ctx context.Context) *string {
	if actor, ok := ActorFromContext(ctx); ok {
		return &actor
	}

	return nil
}

// WithActor creates a new context carrying the given actor.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, contextKeyActor, actor)
}
