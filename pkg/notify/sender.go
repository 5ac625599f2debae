// Package notify wraps a chat.Messenger so that calls rejected by platform
// rate limiting are retried with decorrelated-jitter exponential backoff.
// Every other failure is returned on the first attempt.
package notify

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/standup/internal/observability"
	"github.com/harun/standup/internal/tracing"
	"github.com/harun/standup/pkg/chat"
)

const tracerName = "standup/notify"

// Operation names used in logs and metrics.
const (
	OpSendToConversation = "send_to_conversation"
	OpSendToMember       = "send_to_member"
	OpUpdate             = "update"
	OpTyping             = "typing"
	OpListMembers        = "list_members"
)

// Sender is a chat.Messenger that retries throttled calls.
type Sender struct {
	messenger chat.Messenger
	policy    Policy
	clock     Clock
	random    Random
	logger    zerolog.Logger
}

var _ chat.Messenger = (*Sender)(nil)

// Option configures a Sender.
type Option func(*Sender)

// WithClock replaces the sleeping clock.
func WithClock(c Clock) Option {
	return func(s *Sender) { s.clock = c }
}

// WithRandom replaces the jitter source.
func WithRandom(r Random) Option {
	return func(s *Sender) { s.random = r }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Sender) { s.logger = l.With().Str("component", "notify").Logger() }
}

// New wraps m.
func New(m chat.Messenger, policy Policy, opts ...Option) *Sender {
	s := &Sender{
		messenger: m,
		policy:    policy.normalized(),
		clock:     realClock{},
		random:    lockedRandom(rand.New(rand.NewSource(time.Now().UnixNano()))),
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func lockedRandom(r *rand.Rand) Random {
	var mu sync.Mutex
	return func(n int64) int64 {
		mu.Lock()
		defer mu.Unlock()
		return r.Int63n(n)
	}
}

func (s *Sender) onRetry(op string, attempt int, delay time.Duration, err error) {
	observability.RecordSendRetry(op)
	s.logger.Warn().
		Err(err).
		Str("op", op).
		Int("attempt", attempt).
		Dur("delay", delay).
		Msg("Throttled, backing off")
}

func (s *Sender) run(ctx context.Context, op, conversationID string, fn func(context.Context) error) error {
	ctx, span := tracing.StartSpan(ctx, tracerName, op, attribute.String("conversation_id", conversationID))
	start := time.Now()

	err := s.retry(ctx, op, fn)

	observability.RecordSend(op, time.Since(start), err == nil)
	tracing.EndSpan(span, err)
	return err
}

// SendToConversation posts p to the conversation.
func (s *Sender) SendToConversation(ctx context.Context, conversationID string, p chat.Payload) (chat.Handle, error) {
	var h chat.Handle
	err := s.run(ctx, OpSendToConversation, conversationID, func(ctx context.Context) error {
		var err error
		h, err = s.messenger.SendToConversation(ctx, conversationID, p)
		return err
	})
	return h, err
}

// SendToMember posts p to the conversation tagging member.
func (s *Sender) SendToMember(ctx context.Context, conversationID string, member chat.Member, p chat.Payload) (chat.Handle, error) {
	var h chat.Handle
	err := s.run(ctx, OpSendToMember, conversationID, func(ctx context.Context) error {
		var err error
		h, err = s.messenger.SendToMember(ctx, conversationID, member, p)
		return err
	})
	return h, err
}

// Update replaces the message behind h.
func (s *Sender) Update(ctx context.Context, conversationID string, h chat.Handle, p chat.Payload) error {
	return s.run(ctx, OpUpdate, conversationID, func(ctx context.Context) error {
		return s.messenger.Update(ctx, conversationID, h, p)
	})
}

// Typing shows a typing indicator. It is never retried.
func (s *Sender) Typing(ctx context.Context, conversationID string) error {
	start := time.Now()
	err := s.messenger.Typing(ctx, conversationID)
	observability.RecordSend(OpTyping, time.Since(start), err == nil)
	return err
}

// ListMembers fetches one page of members.
func (s *Sender) ListMembers(ctx context.Context, conversationID, pageToken string) ([]chat.Member, string, error) {
	var (
		members []chat.Member
		next    string
	)
	err := s.run(ctx, OpListMembers, conversationID, func(ctx context.Context) error {
		var err error
		members, next, err = s.messenger.ListMembers(ctx, conversationID, pageToken)
		return err
	})
	return members, next, err
}
