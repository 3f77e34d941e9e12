package eventbus

import "context"

type tickIDKey struct{}

// WithTickID tags ctx with the id of the poll tick that is running, so
// events published further down carry it.
func WithTickID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, tickIDKey{}, id)
}

func TickID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(tickIDKey{}).(string)
	return id
}
