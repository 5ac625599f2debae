package store

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/harun/standup/pkg/scrum"
)

// File keeps one JSON document per conversation under a directory. Writes
// go to a temporary file renamed over the document, under a per-key lock.
type File struct {
	dir        string
	writeLocks map[string]*sync.Mutex
	locksMu    sync.Mutex
}

// OpenFile creates dir if needed.
func OpenFile(dir string) (*File, error) {
	if dir == "" {
		return nil, fmt.Errorf("session directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}
	return &File{
		dir:        dir,
		writeLocks: make(map[string]*sync.Mutex),
	}, nil
}

// path maps a conversation id to a file name. Conversation ids contain
// characters such as ':' and '@', so they are base64url encoded.
func (f *File) path(conversationID string) string {
	return filepath.Join(f.dir, base64.RawURLEncoding.EncodeToString([]byte(conversationID))+".json")
}

func (f *File) lock(conversationID string) *sync.Mutex {
	f.locksMu.Lock()
	defer f.locksMu.Unlock()

	if l, ok := f.writeLocks[conversationID]; ok {
		return l
	}
	l := &sync.Mutex{}
	f.writeLocks[conversationID] = l
	return l
}

func (f *File) read(conversationID string) (*record, error) {
	data, err := os.ReadFile(f.path(conversationID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode session file: %w", err)
	}
	return &r, nil
}

// Get implements scrum.Store.
func (f *File) Get(ctx context.Context, conversationID string) (*scrum.Session, error) {
	if err := validateKey(conversationID); err != nil {
		return nil, err
	}
	r, err := f.read(conversationID)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, scrum.ErrSessionNotFound
	}
	return r.session()
}

// Put implements scrum.Store.
func (f *File) Put(ctx context.Context, s *scrum.Session) error {
	if err := validateSession(s); err != nil {
		return err
	}
	r, err := toRecord(s)
	if err != nil {
		return err
	}

	l := f.lock(s.ConversationID)
	l.Lock()
	defer l.Unlock()

	existing, err := f.read(s.ConversationID)
	if err != nil {
		return err
	}
	var current int64
	if existing != nil {
		current = existing.Version
	}
	if current != s.Version {
		return fmt.Errorf("%w: have version %d, stored %d", scrum.ErrConflict, s.Version, current)
	}

	r.Version = s.Version + 1
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	tmp, err := os.CreateTemp(f.dir, ".session-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write session: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path(s.ConversationID)); err != nil {
		return fmt.Errorf("failed to replace session file: %w", err)
	}

	s.Version = r.Version
	return nil
}

// Close implements io.Closer.
func (f *File) Close() error { return nil }
