package middleware

import "context"

type ctxKey int

const (
	participantIDKey ctxKey = iota
)

func InjectParticipantID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, participantIDKey, id)
}

func ParticipantID(ctx context.Context) string {
	v := ctx.Value(participantIDKey)
	if v == nil {
		return ""
	}
	return v.(string)
}
