// Package correlation threads an opaque request identifier through contexts
// so logs and downstream calls can be correlated across components.
package correlation

import (
	"context"

	"github.com/google/uuid"
)

type contextKey struct{}

// Header is the wire header the identifier travels in.
const Header = "X-Correlation-ID"

func WithID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, contextKey{}, id)
}

func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(contextKey{}).(string)
	return id
}

// Ensure returns a context that carries a correlation id, generating one when
// absent, together with the id in effect.
func Ensure(ctx context.Context) (context.Context, string) {
	if id := FromContext(ctx); id != "" {
		return ctx, id
	}
	id := uuid.NewString()
	return context.WithValue(ctx, contextKey{}, id), id
}
