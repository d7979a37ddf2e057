package scheduler

import (
	"context"

	"github.com/rs/zerolog"
)

type passKey struct{}

// withPassID tags ctx with the id of the pass it belongs to.
func withPassID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, passKey{}, id)
}

// withPass returns base with the pass_id field set when ctx carries one.
func withPass(ctx context.Context, base zerolog.Logger) zerolog.Logger {
	if id, ok := ctx.Value(passKey{}).(string); ok {
		return base.With().Str("pass_id", id).Logger()
	}
	return base
}
