// Package dispatch turns inbound events into scrum transitions. It owns the
// gates every turn passes (tenant, membership cap, scope), keyword routing
// and the error boundary around each turn.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/standup/internal/observability"
	"github.com/harun/standup/internal/tracing"
	"github.com/harun/standup/pkg/chat"
	"github.com/harun/standup/pkg/commandqueue"
	"github.com/harun/standup/pkg/scrum"
	"github.com/harun/standup/pkg/view"
)

const tracerName = "standup/dispatch"

// DefaultMaxMembers is the membership cap applied when Config leaves it unset.
const DefaultMaxMembers = 100

// Machine is the scrum state machine as seen by the dispatcher.
type Machine interface {
	Begin(ctx context.Context, conversationID string, requester chat.Member) (scrum.Result, error)
	Fetch(ctx context.Context, conversationID string, requester chat.Member, u scrum.Update) (scrum.Result, error)
	Submit(ctx context.Context, conversationID string, requester chat.Member, u scrum.Update) (scrum.Result, error)
	Complete(ctx context.Context, conversationID string, requester chat.Member) (scrum.Result, error)
}

// Roster answers the membership-size gate.
type Roster interface {
	Count(ctx context.Context, conversationID string) (int, error)
	Invalidate(conversationID string)
}

// Renderer builds the views the dispatcher sends itself.
type Renderer interface {
	Help() chat.Payload
	Tour(baseURL string) chat.Payload
	Welcome(baseURL string) chat.Payload
	Notice(text string) chat.Payload
}

// Config holds the dispatcher's read-only settings.
type Config struct {
	TenantID   string
	AppBaseURL string
	MaxMembers int
	Logger     zerolog.Logger
}

// Dispatcher handles events for one channel.
type Dispatcher struct {
	cfg       Config
	messenger chat.Messenger
	machine   Machine
	roster    Roster
	render    Renderer
	queue     *commandqueue.CommandQueue
	logger    zerolog.Logger
}

// New creates a Dispatcher. queue may be nil, in which case turns run on the
// caller's goroutine without per-conversation serialization.
func New(cfg Config, messenger chat.Messenger, machine Machine, roster Roster, render Renderer, queue *commandqueue.CommandQueue) *Dispatcher {
	if cfg.MaxMembers <= 0 {
		cfg.MaxMembers = DefaultMaxMembers
	}
	return &Dispatcher{
		cfg:       cfg,
		messenger: messenger,
		machine:   machine,
		roster:    roster,
		render:    render,
		queue:     queue,
		logger:    cfg.Logger.With().Str("component", "dispatch").Logger(),
	}
}

// Handle runs one turn. Turn failures are logged and answered, never
// returned; the error is non-nil only when the turn could not be run at all
// (ctx ended while queued, or the queue is closed).
func (d *Dispatcher) Handle(ctx context.Context, ev Event) (*InvokeResponse, error) {
	var resp *InvokeResponse
	turn := func(ctx context.Context) error {
		resp = d.turn(ctx, ev)
		return nil
	}

	if d.queue == nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		_ = turn(ctx)
		return resp, nil
	}

	if err := d.queue.Enqueue(ctx, ev.ConversationID, turn, &commandqueue.TaskOptions{
		RequestID: requestID(ev),
		WarnAfter: 5 * time.Second,
	}); err != nil {
		return nil, err
	}
	return resp, nil
}

func requestID(ev Event) string {
	if ev.ID == "" {
		return ""
	}
	return ev.Channel + "|" + ev.ID
}

// turnState carries what a turn has done so far.
type turnState struct {
	ev      Event
	outcome string
	// notified is set once the user has been sent a reply.
	notified bool
	resp     *InvokeResponse
}

func (d *Dispatcher) turn(ctx context.Context, ev Event) (resp *InvokeResponse) {
	ctx = tracing.NewTurnContext(ctx, ev.Channel, ev.ConversationID)
	ctx, span := tracing.StartSpan(ctx, tracerName, "dispatch.turn",
		attribute.String("kind", string(ev.Kind)),
		attribute.String("conversation_id", ev.ConversationID),
	)
	logger := tracing.LoggerFromContext(ctx, d.logger).With().Str("kind", string(ev.Kind)).Logger()
	ctx = logger.WithContext(ctx)

	st := &turnState{ev: ev}
	start := time.Now()

	defer func() {
		var err error
		if r := recover(); r != nil {
			err = fmt.Errorf("turn panicked: %v", r)
			observability.RecordTurnPanic()
			logger.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Recovered from panic in turn")
			d.fail(ctx, st, err)
		}
		tracing.EndSpan(span, err)
		observability.RecordTurn(string(ev.Kind), st.outcome, time.Since(start))
		resp = st.resp
		if resp == nil && ev.IsInvoke() {
			resp = &InvokeResponse{Status: http.StatusOK}
		}
	}()

	if err := d.route(ctx, st); err != nil {
		if errors.Is(err, scrum.ErrNotCommitted) {
			logger.Warn().Err(err).Msg("Transition not committed")
			st.outcome = "not_committed"
			return
		}
		logger.Error().Err(err).Msg("Turn failed")
		d.fail(ctx, st, err)
	}
	return
}

// fail records a failed turn and, unless the user already has an answer,
// apologizes.
func (d *Dispatcher) fail(ctx context.Context, st *turnState, err error) {
	st.outcome = "error"
	observability.RecordScrumAudit(ctx, "turn.failed", st.ev.ConversationID, st.ev.From.ID, "error", map[string]interface{}{
		"kind":  string(st.ev.Kind),
		"error": err.Error(),
	})
	if st.notified {
		return
	}
	d.reply(ctx, st, d.render.Notice(scrum.NoticeGenericError))
}

// reply answers the requester: invokes get the payload as their response,
// everything else a message in the conversation.
func (d *Dispatcher) reply(ctx context.Context, st *turnState, p chat.Payload) {
	st.notified = true
	if st.ev.IsInvoke() {
		st.resp = &InvokeResponse{Status: http.StatusOK, View: &p}
		return
	}
	if _, err := d.messenger.SendToConversation(ctx, st.ev.ConversationID, p); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("Failed to send reply")
	}
}

func (d *Dispatcher) reject(ctx context.Context, st *turnState, reason, notice string) {
	st.outcome = "rejected_" + reason
	zerolog.Ctx(ctx).Warn().
		Str("reason", reason).
		Str("tenant_id", st.ev.TenantID).
		Str("from", st.ev.From.ID).
		Msg("Turn rejected")
	observability.RecordScrumAudit(ctx, "turn.rejected", st.ev.ConversationID, st.ev.From.ID, "denied", map[string]interface{}{
		"reason": reason,
		"kind":   string(st.ev.Kind),
	})
	d.reply(ctx, st, d.render.Notice(notice))
}

func (d *Dispatcher) route(ctx context.Context, st *turnState) error {
	ev := st.ev
	logger := zerolog.Ctx(ctx)

	if ev.TenantID != d.cfg.TenantID {
		d.reject(ctx, st, "tenant", scrum.NoticeWrongTenant)
		return nil
	}

	if ev.Kind == KindMembersAdded {
		d.roster.Invalidate(ev.ConversationID)
	}

	count, err := d.roster.Count(ctx, ev.ConversationID)
	if err != nil {
		return fmt.Errorf("count members: %w", err)
	}
	if count > d.cfg.MaxMembers {
		d.reject(ctx, st, "too_many_members", scrum.NoticeTooManyMembers(d.cfg.MaxMembers))
		return nil
	}

	switch ev.Kind {
	case KindMessage:
		if err := d.messenger.Typing(ctx, ev.ConversationID); err != nil {
			logger.Warn().Err(err).Msg("Failed to send typing indicator")
		}
		if ev.ConversationType != ConversationGroup {
			d.reject(ctx, st, "scope", scrum.NoticeScopeError)
			return nil
		}
		return d.command(ctx, st)

	case KindMembersAdded:
		for _, m := range ev.MembersAdded {
			if m.ID == ev.Recipient.ID {
				st.outcome = "welcome"
				d.reply(ctx, st, d.render.Welcome(d.cfg.AppBaseURL))
				return nil
			}
		}
		st.outcome = "ignored"
		return nil

	case KindInvokeFetch, KindInvokeSubmit:
		return d.invoke(ctx, st)

	default:
		logger.Debug().Msg("Ignoring event")
		st.outcome = "ignored"
		return nil
	}
}

func (d *Dispatcher) command(ctx context.Context, st *turnState) error {
	ev := st.ev

	var (
		res scrum.Result
		err error
	)
	switch Command(ev.Text, ev.Recipient.Name) {
	case view.CommandStart:
		res, err = d.machine.Begin(ctx, ev.ConversationID, ev.From)
	case view.CommandEnd:
		res, err = d.machine.Complete(ctx, ev.ConversationID, ev.From)
	case view.CommandTour:
		st.outcome = "tour"
		d.reply(ctx, st, d.render.Tour(d.cfg.AppBaseURL))
		return nil
	default:
		st.outcome = "help"
		d.reply(ctx, st, d.render.Help())
		return nil
	}

	st.outcome = string(res.Outcome)
	// The machine answers in the conversation itself.
	if res.Outcome != "" {
		st.notified = true
	}
	return err
}

func (d *Dispatcher) invoke(ctx context.Context, st *turnState) error {
	ev := st.ev

	u, err := view.ParseSubmission(ev.Submission)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("Rejected malformed submission")
		st.outcome = "malformed"
		d.reply(ctx, st, d.render.Notice(scrum.NoticeMalformedUpdate))
		return nil
	}

	var res scrum.Result
	if ev.Kind == KindInvokeFetch {
		res, err = d.machine.Fetch(ctx, ev.ConversationID, ev.From, u)
	} else {
		res, err = d.machine.Submit(ctx, ev.ConversationID, ev.From, u)
	}

	st.outcome = string(res.Outcome)
	if res.View != nil {
		d.reply(ctx, st, *res.View)
	}
	return err
}
