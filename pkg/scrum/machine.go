// Package scrum implements the scrum session state machine:
//
//	NotStarted -> Running -> Completed -> Running (a new run on the same record)
//
// The machine loads the conversation's session, applies one transition,
// drives the resulting message sends and persists the outcome. It holds no
// state of its own between calls.
package scrum

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/harun/standup/internal/observability"
	"github.com/harun/standup/internal/tracing"
	"github.com/harun/standup/pkg/chat"
	"github.com/harun/standup/pkg/roster"
)

const tracerName = "standup/scrum"

// Renderer turns view models into payloads.
type Renderer interface {
	StartPrompt(startedBy string, members MemberMap) chat.Payload
	NameTag(name string) chat.Payload
	TrailLine(lines ...string) chat.Payload
	InputForm(prefill Update, flags FieldFlags) chat.Payload
	ReadOnlyNotice() chat.Payload
	CompletionNotice(completedBy string) chat.Payload
	AggregateUpdate(name string, u Update, hasBlocker bool) chat.Payload
	Notice(text string) chat.Payload
}

// MemberResolver returns the members of a conversation.
type MemberResolver interface {
	Resolve(ctx context.Context, conversationID string, purpose roster.Purpose) ([]chat.Member, error)
}

// Outcome describes what a transition did.
type Outcome string

const (
	OutcomeStarted        Outcome = "started"
	OutcomeAlreadyRunning Outcome = "already_running"
	OutcomeNotMember      Outcome = "not_member"
	OutcomeNoMembers      Outcome = "no_members"
	OutcomeFormShown      Outcome = "form_shown"
	OutcomeReadOnly       Outcome = "read_only"
	OutcomeInvalid        Outcome = "invalid"
	OutcomeUpdated        Outcome = "updated"
	OutcomeNotRunning     Outcome = "not_running"
	OutcomeNothingRunning Outcome = "nothing_running"
	OutcomeCompleted      Outcome = "completed"
)

// Result is returned by every transition. View, when set, is the reply to
// an interactive request.
type Result struct {
	Outcome Outcome
	View    *chat.Payload
}

// Config tunes a Machine.
type Config struct {
	// Fanout bounds how many member prompts are sent in parallel.
	Fanout int
	Now    func() time.Time
	NewID  func() (string, error)
	Logger zerolog.Logger
}

// Machine runs scrum transitions.
type Machine struct {
	store     Store
	messenger chat.Messenger
	members   MemberResolver
	render    Renderer
	fanout    int
	now       func() time.Time
	newID     func() (string, error)
	logger    zerolog.Logger
}

// NewMachine wires a Machine. messenger is expected to retry throttled
// sends itself.
func NewMachine(store Store, messenger chat.Messenger, members MemberResolver, render Renderer, cfg Config) *Machine {
	if cfg.Fanout <= 0 {
		cfg.Fanout = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = func() (string, error) { return gonanoid.New() }
	}
	return &Machine{
		store:     store,
		messenger: messenger,
		members:   members,
		render:    render,
		fanout:    cfg.Fanout,
		now:       cfg.Now,
		newID:     cfg.NewID,
		logger:    cfg.Logger.With().Str("component", "scrum").Logger(),
	}
}

func (m *Machine) stamp() (time.Time, string) {
	now := m.now().UTC()
	return now, now.Format("Jan 2 15:04 MST")
}

// load returns the stored session, or nil when there is none.
func (m *Machine) load(ctx context.Context, conversationID string) (*Session, error) {
	s, err := m.store.Get(ctx, conversationID)
	if errors.Is(err, ErrSessionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return s, nil
}

func (m *Machine) notify(ctx context.Context, conversationID, text string) {
	if _, err := m.messenger.SendToConversation(ctx, conversationID, m.render.Notice(text)); err != nil {
		logger := tracing.LoggerFromContext(ctx, m.logger)
		logger.Warn().Err(err).Msg("Failed to send notice")
	}
}

// abort tells the user the transition failed and marks err as handled.
func (m *Machine) abort(ctx context.Context, conversationID string, err error) error {
	m.notify(ctx, conversationID, NoticeGenericError)
	return fmt.Errorf("%w: %w", ErrNotCommitted, err)
}

// Begin starts a scrum on behalf of requester.
func (m *Machine) Begin(ctx context.Context, conversationID string, requester chat.Member) (res Result, err error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "scrum.begin",
		attribute.String("conversation_id", conversationID))
	defer func() { tracing.EndSpan(span, err) }()
	logger := tracing.LoggerFromContext(ctx, m.logger)

	prev, err := m.load(ctx, conversationID)
	if err != nil {
		return Result{}, err
	}

	if prev.Running() {
		if prev.Members.Has(requester.ID) {
			m.notify(ctx, conversationID, NoticeAlreadyRunning)
			return Result{Outcome: OutcomeAlreadyRunning}, nil
		}
		m.notify(ctx, conversationID, NoticeNotPartOfStart(requester.Name))
		return Result{Outcome: OutcomeNotMember}, nil
	}

	members, err := m.members.Resolve(ctx, conversationID, roster.PurposePrompt)
	if err != nil {
		return Result{}, fmt.Errorf("resolve members: %w", err)
	}
	if len(members) == 0 {
		logger.Warn().Msg("No members resolved, scrum not started")
		return Result{Outcome: OutcomeNoMembers}, nil
	}

	runID, err := m.newID()
	if err != nil {
		return Result{}, fmt.Errorf("new run id: %w", err)
	}

	now, at := m.stamp()
	trail := []string{trailStarted(requester.Name, at)}
	trailHandle, err := m.messenger.SendToConversation(ctx, conversationID, m.render.TrailLine(trail...))
	if err != nil {
		return Result{}, m.abort(ctx, conversationID, fmt.Errorf("send trail: %w", err))
	}

	handles, err := m.promptMembers(ctx, conversationID, members)
	if err != nil {
		return Result{}, m.abort(ctx, conversationID, err)
	}

	rootHandle, err := m.messenger.SendToConversation(ctx, conversationID, m.render.StartPrompt(requester.Name, handles))
	if err != nil {
		return Result{}, m.abort(ctx, conversationID, fmt.Errorf("send start prompt: %w", err))
	}

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	next := &Session{
		ConversationID: conversationID,
		Status:         StatusRunning,
		Members:        handles,
		RootHandle:     rootHandle,
		TrailHandle:    trailHandle,
		Trail:          trail,
		StartedBy:      requester.Name,
		RunID:          runID,
		LastModified:   now,
	}
	if prev != nil {
		next.Version = prev.Version
	}

	if err := m.store.Put(ctx, next); err != nil {
		return Result{}, m.abort(ctx, conversationID, fmt.Errorf("persist session: %w", err))
	}

	observability.RecordScrumTransition(string(OutcomeStarted))
	observability.RecordScrumAudit(ctx, "scrum.started", conversationID, requester.ID, "success", map[string]interface{}{
		"run_id":  runID,
		"members": len(handles),
	})
	logger.Info().Str("run_id", runID).Int("members", len(handles)).Msg("Scrum started")

	return Result{Outcome: OutcomeStarted}, nil
}

// promptMembers sends every member a mention-tagged prompt. Any failure
// cancels the remaining sends and fails the whole fan-out.
func (m *Machine) promptMembers(ctx context.Context, conversationID string, members []chat.Member) (MemberMap, error) {
	var mu sync.Mutex
	handles := make(MemberMap, len(members))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.fanout)

	for _, member := range members {
		member := member
		g.Go(func() error {
			h, err := m.messenger.SendToMember(gctx, conversationID, member, m.render.NameTag(member.Name))
			if err != nil {
				return fmt.Errorf("prompt member %s: %w", member.ID, err)
			}
			mu.Lock()
			handles[member.ID] = h
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return handles, nil
}

// Fetch returns the view a member sees when opening the update prompt.
func (m *Machine) Fetch(ctx context.Context, conversationID string, requester chat.Member, submitted Update) (Result, error) {
	if !submitted.Snapshot.Has(requester.ID) {
		v := m.render.ReadOnlyNotice()
		return Result{Outcome: OutcomeReadOnly, View: &v}, nil
	}
	v := m.render.InputForm(submitted, FieldFlags{})
	return Result{Outcome: OutcomeFormShown, View: &v}, nil
}

// Submit merges a member's update into the scrum.
func (m *Machine) Submit(ctx context.Context, conversationID string, requester chat.Member, u Update) (res Result, err error) {
	if flags := u.Validate(); flags.Any() {
		v := m.render.InputForm(u, flags)
		return Result{Outcome: OutcomeInvalid, View: &v}, nil
	}

	ctx, span := tracing.StartSpan(ctx, tracerName, "scrum.submit",
		attribute.String("conversation_id", conversationID))
	defer func() { tracing.EndSpan(span, err) }()

	s, err := m.load(ctx, conversationID)
	if err != nil {
		return Result{}, err
	}

	if s == nil || !s.Members.Has(requester.ID) {
		v := m.render.Notice(NoticeNotPartOfUpdate(requester.Name))
		return Result{Outcome: OutcomeNotMember, View: &v}, nil
	}
	if !s.Running() {
		v := m.render.Notice(NoticeScrumNotRunning)
		return Result{Outcome: OutcomeNotRunning, View: &v}, nil
	}

	next := s.Clone()
	now, at := m.stamp()

	if err := m.messenger.Update(ctx, conversationID, next.Members[requester.ID],
		m.render.AggregateUpdate(requester.Name, u, u.HasBlocker())); err != nil {
		return Result{}, fmt.Errorf("update member view: %w", err)
	}

	next.Trail = append(next.Trail, trailUpdated(requester.Name, at))
	if err := m.messenger.Update(ctx, conversationID, next.TrailHandle, m.render.TrailLine(next.Trail...)); err != nil {
		return Result{}, fmt.Errorf("update trail: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	next.LastModified = now
	if err := m.store.Put(ctx, next); err != nil {
		v := m.render.Notice(NoticeGenericError)
		return Result{View: &v}, fmt.Errorf("%w: persist session: %w", ErrNotCommitted, err)
	}

	observability.RecordScrumTransition(string(OutcomeUpdated))
	observability.RecordScrumAudit(ctx, "scrum.updated", conversationID, requester.ID, "success", map[string]interface{}{
		"run_id":  next.RunID,
		"blocker": u.HasBlocker(),
	})

	return Result{Outcome: OutcomeUpdated}, nil
}

// Complete ends the running scrum on behalf of requester.
func (m *Machine) Complete(ctx context.Context, conversationID string, requester chat.Member) (res Result, err error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "scrum.complete",
		attribute.String("conversation_id", conversationID))
	defer func() { tracing.EndSpan(span, err) }()
	logger := tracing.LoggerFromContext(ctx, m.logger)

	s, err := m.load(ctx, conversationID)
	if err != nil {
		return Result{}, err
	}

	if s == nil {
		m.notify(ctx, conversationID, NoticeNothingToComplete)
		return Result{Outcome: OutcomeNothingRunning}, nil
	}
	if !s.Members.Has(requester.ID) {
		m.notify(ctx, conversationID, NoticeNotPartOfComplete(requester.Name))
		return Result{Outcome: OutcomeNotMember}, nil
	}
	if !s.Running() {
		m.notify(ctx, conversationID, NoticeNothingToComplete)
		return Result{Outcome: OutcomeNothingRunning}, nil
	}

	next := s.Clone()
	now, at := m.stamp()

	if err := m.messenger.Update(ctx, conversationID, next.RootHandle, m.render.CompletionNotice(requester.Name)); err != nil {
		return Result{}, fmt.Errorf("update root view: %w", err)
	}

	next.Trail = append(next.Trail, trailCompleted(requester.Name, at))
	if err := m.messenger.Update(ctx, conversationID, next.TrailHandle, m.render.TrailLine(next.Trail...)); err != nil {
		return Result{}, fmt.Errorf("update trail: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	next.Status = StatusCompleted
	next.LastModified = now
	if err := m.store.Put(ctx, next); err != nil {
		return Result{}, m.abort(ctx, conversationID, fmt.Errorf("persist session: %w", err))
	}

	observability.RecordScrumTransition(string(OutcomeCompleted))
	observability.RecordScrumAudit(ctx, "scrum.completed", conversationID, requester.ID, "success", map[string]interface{}{
		"run_id": next.RunID,
	})
	logger.Info().Str("run_id", next.RunID).Msg("Scrum completed")

	return Result{Outcome: OutcomeCompleted}, nil
}
