package authz

import "context"

type actorContextKey struct{}

// ContextWithActor stores the authenticated actor in context after a
// successful authorization check.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor placed by the middleware. The second
// return is false when no authorization check ran for this request.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}
