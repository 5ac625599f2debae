package scrum

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/harun/standup/pkg/chat"
)

// Status is the lifecycle state of a conversation's scrum.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusRunning    Status = "running"
	StatusCompleted  Status = "completed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusNotStarted, StatusRunning, StatusCompleted:
		return true
	}
	return false
}

var (
	// ErrSessionNotFound is returned by Store.Get when the conversation has
	// no session record.
	ErrSessionNotFound = errors.New("scrum: session not found")

	// ErrConflict is returned by Store.Put when the stored record changed
	// since it was read.
	ErrConflict = errors.New("scrum: session was modified concurrently")

	// ErrNotCommitted marks a transition that was abandoned after the user
	// had already been told something went wrong.
	ErrNotCommitted = errors.New("scrum: transition not committed")
)

// Store is the session persistence boundary. Put must reject a session
// whose Version does not match the stored record (zero for a new record)
// with ErrConflict, and advance Version on success.
type Store interface {
	Get(ctx context.Context, conversationID string) (*Session, error)
	Put(ctx context.Context, s *Session) error
}

// MemberMap maps a member id to the handle of the prompt sent to that
// member when the scrum started.
type MemberMap map[string]chat.Handle

// Has reports whether memberID takes part in the scrum.
func (m MemberMap) Has(memberID string) bool {
	_, ok := m[memberID]
	return ok
}

// IDs returns the member ids in sorted order.
func (m MemberMap) IDs() []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clone returns a copy of m.
func (m MemberMap) Clone() MemberMap {
	out := make(MemberMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Encode serializes the map for storage and for round trips through
// interactive prompts.
func (m MemberMap) Encode() (string, error) {
	if m == nil {
		m = MemberMap{}
	}
	data, err := json.Marshal(map[string]chat.Handle(m))
	if err != nil {
		return "", fmt.Errorf("encode member map: %w", err)
	}
	return string(data), nil
}

// DecodeMemberMap is the inverse of MemberMap.Encode. An empty string
// decodes to an empty map.
func DecodeMemberMap(s string) (MemberMap, error) {
	if strings.TrimSpace(s) == "" {
		return MemberMap{}, nil
	}
	var raw map[string]chat.Handle
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, fmt.Errorf("decode member map: %w", err)
	}
	for id, h := range raw {
		if id == "" || h == "" {
			return nil, fmt.Errorf("decode member map: empty member id or handle")
		}
	}
	if raw == nil {
		raw = map[string]chat.Handle{}
	}
	return MemberMap(raw), nil
}

// Session is the persisted scrum record of one conversation.
type Session struct {
	ConversationID string
	Status         Status
	Members        MemberMap
	RootHandle     chat.Handle
	TrailHandle    chat.Handle
	Trail          []string
	StartedBy      string
	RunID          string
	Version        int64
	LastModified   time.Time
}

// Running reports whether the scrum accepts updates.
func (s *Session) Running() bool {
	return s != nil && s.Status == StatusRunning
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Members = s.Members.Clone()
	c.Trail = append([]string(nil), s.Trail...)
	return &c
}

// Update is one member's submitted status.
type Update struct {
	Yesterday string
	Today     string
	Blockers  string

	// Snapshot is the member map carried by the prompt the update was
	// submitted from.
	Snapshot MemberMap
}

// HasBlocker reports whether the member reported anything blocking.
func (u Update) HasBlocker() bool {
	return strings.TrimSpace(u.Blockers) != ""
}

// FieldFlags marks required fields that were left empty.
type FieldFlags struct {
	YesterdayMissing bool
	TodayMissing     bool
}

// Any reports whether any field is flagged.
func (f FieldFlags) Any() bool {
	return f.YesterdayMissing || f.TodayMissing
}

// Validate returns the fields of u that must be filled in.
func (u Update) Validate() FieldFlags {
	return FieldFlags{
		YesterdayMissing: strings.TrimSpace(u.Yesterday) == "",
		TodayMissing:     strings.TrimSpace(u.Today) == "",
	}
}
