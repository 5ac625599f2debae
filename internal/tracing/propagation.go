package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// LoggerFromContext returns baseLogger enriched with the tracing fields
// found in ctx.
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)
	c := baseLogger.With()

	if tc.TraceID != "" {
		c = c.Str("trace_id", tc.TraceID)
	}
	if tc.TurnID != "" {
		c = c.Str("turn_id", tc.TurnID)
	}
	if tc.ConversationID != "" {
		c = c.Str("conversation_id", tc.ConversationID)
	}
	if tc.Channel != "" {
		c = c.Str("channel", tc.Channel)
	}

	return c.Logger()
}

// Detach returns a context that carries ctx's tracing values but is not
// cancelled with it. Used for work queued past the lifetime of the request
// that produced it.
func Detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
