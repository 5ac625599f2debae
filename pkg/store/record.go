// Package store persists scrum sessions. Every engine stores the same
// record shape, with the member map encoded through scrum.MemberMap.Encode,
// and enforces the version check described on scrum.Store.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/harun/standup/pkg/chat"
	"github.com/harun/standup/pkg/scrum"
)

// Engine is a closable session store.
type Engine interface {
	scrum.Store
	io.Closer
}

// Counter is implemented by engines that can count sessions by status.
type Counter interface {
	CountByStatus(ctx context.Context, status scrum.Status) (int, error)
}

// ErrUnsupported is returned by optional engine operations an engine lacks.
var ErrUnsupported = errors.New("store: operation not supported")

// Engine names.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverFile   = "file"
)

// Open returns the engine for driver, wrapped with metrics and tracing.
func Open(ctx context.Context, driver, path string) (Engine, error) {
	var (
		e   Engine
		err error
	)
	switch driver {
	case DriverMemory:
		e = NewMemory()
	case DriverSQLite:
		e, err = OpenSQLite(ctx, path)
	case DriverFile:
		e, err = OpenFile(path)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	return Instrument(e, driver), nil
}

// record is the storage shape of a session.
type record struct {
	ConversationID string    `json:"conversation_id"`
	Status         string    `json:"status"`
	Members        string    `json:"members"`
	RootHandle     string    `json:"root_handle"`
	TrailHandle    string    `json:"trail_handle"`
	Trail          []string  `json:"trail,omitempty"`
	StartedBy      string    `json:"started_by,omitempty"`
	RunID          string    `json:"run_id"`
	Version        int64     `json:"version"`
	LastModified   time.Time `json:"last_modified"`
}

func toRecord(s *scrum.Session) (record, error) {
	members, err := s.Members.Encode()
	if err != nil {
		return record{}, err
	}
	return record{
		ConversationID: s.ConversationID,
		Status:         string(s.Status),
		Members:        members,
		RootHandle:     string(s.RootHandle),
		TrailHandle:    string(s.TrailHandle),
		Trail:          append([]string(nil), s.Trail...),
		StartedBy:      s.StartedBy,
		RunID:          s.RunID,
		Version:        s.Version,
		LastModified:   s.LastModified.UTC(),
	}, nil
}

func (r record) session() (*scrum.Session, error) {
	members, err := scrum.DecodeMemberMap(r.Members)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", r.ConversationID, err)
	}
	status := scrum.Status(r.Status)
	if !status.Valid() {
		return nil, fmt.Errorf("session %s: unknown status %q", r.ConversationID, r.Status)
	}
	return &scrum.Session{
		ConversationID: r.ConversationID,
		Status:         status,
		Members:        members,
		RootHandle:     chat.Handle(r.RootHandle),
		TrailHandle:    chat.Handle(r.TrailHandle),
		Trail:          append([]string(nil), r.Trail...),
		StartedBy:      r.StartedBy,
		RunID:          r.RunID,
		Version:        r.Version,
		LastModified:   r.LastModified,
	}, nil
}

func validateKey(conversationID string) error {
	if conversationID == "" {
		return fmt.Errorf("conversation id cannot be empty")
	}
	if strings.Contains(conversationID, "\x00") {
		return fmt.Errorf("conversation id cannot contain null bytes")
	}
	return nil
}

func validateSession(s *scrum.Session) error {
	if s == nil {
		return fmt.Errorf("session cannot be nil")
	}
	if err := validateKey(s.ConversationID); err != nil {
		return err
	}
	if !s.Status.Valid() {
		return fmt.Errorf("invalid status %q", s.Status)
	}
	return nil
}
