package services

import "context"

// ensureContext guards service entry points that may be called with a nil
// context from tests or fire-and-forget goroutines.
func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
