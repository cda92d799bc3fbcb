package sessionx

import "context"

type replayKey struct{}

// markReplayed tags a request context as the single replay of a request that
// already received a 401. A Transport that sees the tag never refreshes, so a
// Transport stacked on another one cannot start a second refresh for the
// outer replay.
func markReplayed(ctx context.Context) context.Context {
	return context.WithValue(ctx, replayKey{}, true)
}

func isReplayed(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	v, _ := ctx.Value(replayKey{}).(bool)
	return v
}
