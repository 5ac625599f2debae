package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/standup/internal/observability"
	"github.com/harun/standup/internal/tracing"
	"github.com/harun/standup/pkg/scrum"
)

const tracerName = "standup/store"

type instrumented struct {
	Engine
	name string
}

// Instrument records metrics and spans around every call to e.
func Instrument(e Engine, name string) Engine {
	return &instrumented{Engine: e, name: name}
}

func (i *instrumented) Get(ctx context.Context, conversationID string) (*scrum.Session, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "store.get",
		attribute.String("store.engine", i.name),
		attribute.String("conversation_id", conversationID))
	start := time.Now()

	s, err := i.Engine.Get(ctx, conversationID)

	// A missing record is an answer, not a failure.
	failure := err
	if errors.Is(err, scrum.ErrSessionNotFound) {
		failure = nil
	}
	observability.RecordStoreOp(i.name, "get", time.Since(start), failure)
	tracing.EndSpan(span, failure)
	return s, err
}

func (i *instrumented) Put(ctx context.Context, s *scrum.Session) error {
	var conversationID string
	if s != nil {
		conversationID = s.ConversationID
	}
	ctx, span := tracing.StartSpan(ctx, tracerName, "store.put",
		attribute.String("store.engine", i.name),
		attribute.String("conversation_id", conversationID))
	start := time.Now()

	err := i.Engine.Put(ctx, s)

	observability.RecordStoreOp(i.name, "put", time.Since(start), err)
	tracing.EndSpan(span, err)
	return err
}

// CountByStatus forwards to the wrapped engine when it is a Counter.
func (i *instrumented) CountByStatus(ctx context.Context, status scrum.Status) (int, error) {
	c, ok := i.Engine.(Counter)
	if !ok {
		return 0, fmt.Errorf("%w: count on %s", ErrUnsupported, i.name)
	}
	start := time.Now()
	n, err := c.CountByStatus(ctx, status)
	observability.RecordStoreOp(i.name, "count", time.Since(start), err)
	return n, err
}
