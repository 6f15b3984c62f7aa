package task

import "context"

// environmentKey is the context key for the tenant/isolation tag.
type environmentKey struct{}

// WithEnvironment returns a context carrying the environment tag. Stores and
// entity preparation read it; an empty tag disables environment scoping.
func WithEnvironment(ctx context.Context, env string) context.Context {
	return context.WithValue(ctx, environmentKey{}, env)
}

// EnvironmentFromContext extracts the environment tag, defaulting to empty.
func EnvironmentFromContext(ctx context.Context) string {
	if v := ctx.Value(environmentKey{}); v != nil {
		return v.(string)
	}
	return ""
}
