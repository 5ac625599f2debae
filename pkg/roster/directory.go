// Package roster caches conversation member lists. Each conversation has
// one entry per purpose, and each purpose has its own time-to-live: the
// member count used by the size gate tolerates a stale list for longer
// than the list used to prompt members.
package roster

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/harun/standup/internal/observability"
	"github.com/harun/standup/pkg/chat"
)

// Purpose selects which cached list (and TTL) a lookup uses.
type Purpose string

const (
	// PurposeCapacity backs the membership-size gate.
	PurposeCapacity Purpose = "capacity"
	// PurposePrompt backs the per-member prompts sent when a scrum starts.
	PurposePrompt Purpose = "prompt"
)

// ErrTooManyPages is returned when a listing does not terminate within the
// configured page ceiling.
var ErrTooManyPages = errors.New("roster: page limit exceeded")

// Lister fetches one page of conversation members.
type Lister interface {
	ListMembers(ctx context.Context, conversationID, pageToken string) ([]chat.Member, string, error)
}

// Options configures a Directory.
type Options struct {
	CapacityTTL  time.Duration
	PromptTTL    time.Duration
	MaxPages     int
	// FetchTimeout bounds one shared listing, independent of the callers
	// waiting on it.
	FetchTimeout time.Duration
	Now          func() time.Time
	Logger       zerolog.Logger
}

// DefaultOptions returns the production TTLs.
func DefaultOptions() Options {
	return Options{
		CapacityTTL:  72 * time.Hour,
		PromptTTL:    24 * time.Hour,
		MaxPages:     200,
		FetchTimeout: time.Minute,
	}
}

type entryKey struct {
	conversationID string
	purpose        Purpose
}

func (k entryKey) String() string {
	return string(k.purpose) + "|" + k.conversationID
}

type entry struct {
	members   []chat.Member
	fetchedAt time.Time
}

// Directory is a per-conversation, per-purpose member list cache.
type Directory struct {
	lister Lister
	ttls   map[Purpose]time.Duration
	pages  int
	limit  time.Duration
	now    func() time.Time
	logger zerolog.Logger

	mu      sync.RWMutex
	entries map[entryKey]entry
	flight  singleflight.Group
}

// New creates a Directory reading through lister.
func New(lister Lister, opts Options) *Directory {
	def := DefaultOptions()
	if opts.CapacityTTL <= 0 {
		opts.CapacityTTL = def.CapacityTTL
	}
	if opts.PromptTTL <= 0 {
		opts.PromptTTL = def.PromptTTL
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = def.MaxPages
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = def.FetchTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Directory{
		lister: lister,
		ttls: map[Purpose]time.Duration{
			PurposeCapacity: opts.CapacityTTL,
			PurposePrompt:   opts.PromptTTL,
		},
		pages:   opts.MaxPages,
		limit:   opts.FetchTimeout,
		now:     opts.Now,
		logger:  opts.Logger.With().Str("component", "roster").Logger(),
		entries: make(map[entryKey]entry),
	}
}

// Resolve returns the members of a conversation for purpose, fetching every
// page on a miss or expiry. A failed fetch caches nothing.
func (d *Directory) Resolve(ctx context.Context, conversationID string, purpose Purpose) ([]chat.Member, error) {
	ttl, ok := d.ttls[purpose]
	if !ok {
		return nil, fmt.Errorf("roster: unknown purpose %q", purpose)
	}
	key := entryKey{conversationID: conversationID, purpose: purpose}

	if members, ok := d.lookup(key, ttl); ok {
		observability.RecordRosterLookup(string(purpose), "hit")
		return members, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The fetch is shared by every caller of the key, so it must not die
	// with whichever caller happened to start it.
	ch := d.flight.DoChan(key.String(), func() (interface{}, error) {
		// Another caller may have filled the entry while we waited.
		if members, ok := d.lookup(key, ttl); ok {
			return members, nil
		}
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.limit)
		defer cancel()
		members, err := d.fetchAll(fetchCtx, conversationID)
		if err != nil {
			return nil, err
		}
		d.mu.Lock()
		d.entries[key] = entry{members: members, fetchedAt: d.now()}
		d.mu.Unlock()
		return members, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			observability.RecordRosterLookup(string(purpose), "error")
			return nil, res.Err
		}
		observability.RecordRosterLookup(string(purpose), "miss")
		return clone(res.Val.([]chat.Member)), nil
	case <-ctx.Done():
		observability.RecordRosterLookup(string(purpose), "error")
		return nil, ctx.Err()
	}
}

// Count returns the size of the conversation using the capacity list.
func (d *Directory) Count(ctx context.Context, conversationID string) (int, error) {
	members, err := d.Resolve(ctx, conversationID, PurposeCapacity)
	if err != nil {
		return 0, err
	}
	return len(members), nil
}

// Invalidate drops every cached list of a conversation.
func (d *Directory) Invalidate(conversationID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for purpose := range d.ttls {
		delete(d.entries, entryKey{conversationID: conversationID, purpose: purpose})
	}
}

// Purge removes expired entries and returns how many were dropped.
func (d *Directory) Purge() int {
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for key, e := range d.entries {
		if now.Sub(e.fetchedAt) >= d.ttls[key.purpose] {
			delete(d.entries, key)
			removed++
		}
	}
	return removed
}

// Size returns the number of cached lists.
func (d *Directory) Size() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

func (d *Directory) lookup(key entryKey, ttl time.Duration) ([]chat.Member, bool) {
	d.mu.RLock()
	e, ok := d.entries[key]
	d.mu.RUnlock()

	if !ok || d.now().Sub(e.fetchedAt) >= ttl {
		return nil, false
	}
	return clone(e.members), true
}

func (d *Directory) fetchAll(ctx context.Context, conversationID string) ([]chat.Member, error) {
	var (
		all   []chat.Member
		token string
	)
	for page := 0; ; page++ {
		if page >= d.pages {
			return nil, fmt.Errorf("%w: %d pages for %s", ErrTooManyPages, d.pages, conversationID)
		}
		members, next, err := d.lister.ListMembers(ctx, conversationID, token)
		if err != nil {
			return nil, fmt.Errorf("roster: list members page %d: %w", page, err)
		}
		observability.RecordRosterPage()
		all = append(all, members...)
		if next == "" {
			break
		}
		token = next
	}

	d.logger.Debug().
		Str("conversation_id", conversationID).
		Int("members", len(all)).
		Msg("Fetched member list")

	if all == nil {
		all = []chat.Member{}
	}
	return all, nil
}

func clone(in []chat.Member) []chat.Member {
	out := make([]chat.Member, len(in))
	copy(out, in)
	return out
}
