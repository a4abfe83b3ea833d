// Package identity carries the caller resolved by the upstream identity provider.
package identity

import "context"

const RoleOperator = "operator"

type Actor struct {
	UserID string
	Role   string
}

func (a Actor) IsOperator() bool { return a.Role == RoleOperator }

type ctxKey struct{}

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, ctxKey{}, a)
}

func FromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(ctxKey{}).(Actor)
	return a, ok && a.UserID != ""
}
