package context

import "context"

type ctxKey int

const (
	requestIDKey ctxKey = iota
	userIDKey
	sessionIDKey
)

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func RequestIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

// WithActor records the authenticated user and session for the request.
func WithActor(ctx context.Context, userID, sessionID string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

func ActorFromContext(ctx context.Context) (userID, sessionID string) {
	userID, _ = ctx.Value(userIDKey).(string)
	sessionID, _ = ctx.Value(sessionIDKey).(string)
	return userID, sessionID
}
