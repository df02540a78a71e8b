package common

import "context"

type ctxKey string

const cartIDKey ctxKey = "cart/id"

// WithCartID stores the cart identifier resolved for the request.
func WithCartID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, cartIDKey, id)
}

// CartID extracts the request cart identifier if present.
func CartID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(cartIDKey).(string)
	return id, ok && id != ""
}
