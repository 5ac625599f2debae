package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/standup/pkg/scrum"
)

func engines(t *testing.T) map[string]Engine {
	t.Helper()
	dir := t.TempDir()

	sqlite, err := OpenSQLite(context.Background(), filepath.Join(dir, "db", "sessions.db"))
	require.NoError(t, err)
	file, err := OpenFile(filepath.Join(dir, "docs"))
	require.NoError(t, err)

	all := map[string]Engine{
		DriverMemory: NewMemory(),
		DriverSQLite: sqlite,
		DriverFile:   file,
	}
	t.Cleanup(func() {
		for _, e := range all {
			e.Close()
		}
	})
	return all
}

func sampleSession() *scrum.Session {
	return &scrum.Session{
		ConversationID: "19:meeting_abc@thread.v2",
		Status:         scrum.StatusRunning,
		Members: scrum.MemberMap{
			"29:alice": "1700000000001",
			"29:bob":   "1700000000002",
		},
		RootHandle:   "1700000000003",
		TrailHandle:  "1700000000000",
		Trail:        []string{"Alice started the scrum at Mar 2 09:00 UTC"},
		StartedBy:    "Alice",
		RunID:        "V1StGXR8_Z5jdHi6B-myT",
		LastModified: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
}

func TestEngines(t *testing.T) {
	for name, e := range engines(t) {
		e := e
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("missing session", func(t *testing.T) {
				_, err := e.Get(ctx, "unknown")
				assert.ErrorIs(t, err, scrum.ErrSessionNotFound)
			})

			t.Run("round trip", func(t *testing.T) {
				s := sampleSession()
				require.NoError(t, e.Put(ctx, s))
				assert.Equal(t, int64(1), s.Version)

				got, err := e.Get(ctx, s.ConversationID)
				require.NoError(t, err)
				assert.Equal(t, s.Members, got.Members)
				assert.Equal(t, s.Trail, got.Trail)
				assert.Equal(t, s.RootHandle, got.RootHandle)
				assert.Equal(t, s.TrailHandle, got.TrailHandle)
				assert.Equal(t, scrum.StatusRunning, got.Status)
				assert.Equal(t, int64(1), got.Version)
				assert.True(t, s.LastModified.Equal(got.LastModified))
			})

			t.Run("update advances version", func(t *testing.T) {
				got, err := e.Get(ctx, sampleSession().ConversationID)
				require.NoError(t, err)

				got.Status = scrum.StatusCompleted
				got.Trail = append(got.Trail, "Bob completed the scrum")
				require.NoError(t, e.Put(ctx, got))
				assert.Equal(t, int64(2), got.Version)

				again, err := e.Get(ctx, got.ConversationID)
				require.NoError(t, err)
				assert.Equal(t, scrum.StatusCompleted, again.Status)
				assert.Len(t, again.Trail, 2)
			})

			t.Run("stale write is rejected", func(t *testing.T) {
				first, err := e.Get(ctx, sampleSession().ConversationID)
				require.NoError(t, err)
				second := first.Clone()

				first.StartedBy = "first writer"
				require.NoError(t, e.Put(ctx, first))

				second.StartedBy = "second writer"
				assert.ErrorIs(t, e.Put(ctx, second), scrum.ErrConflict)

				stored, err := e.Get(ctx, first.ConversationID)
				require.NoError(t, err)
				assert.Equal(t, "first writer", stored.StartedBy)
			})

			t.Run("new record must start at version zero", func(t *testing.T) {
				s := sampleSession()
				s.ConversationID = "fresh"
				s.Version = 4
				assert.ErrorIs(t, e.Put(ctx, s), scrum.ErrConflict)
			})

			t.Run("invalid input", func(t *testing.T) {
				_, err := e.Get(ctx, "")
				assert.Error(t, err)

				s := sampleSession()
				s.Status = "paused"
				assert.Error(t, e.Put(ctx, s))
				assert.Error(t, e.Put(ctx, nil))
			})
		})
	}
}

func TestEnginesConcurrentCreate(t *testing.T) {
	for name, e := range engines(t) {
		e := e
		t.Run(name, func(t *testing.T) {
			var (
				wg  sync.WaitGroup
				won atomic.Int32
			)
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					s := sampleSession()
					s.ConversationID = "race"
					if e.Put(context.Background(), s) == nil {
						won.Add(1)
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, int32(1), won.Load())
		})
	}
}

func TestFileStoreUsesSafeNames(t *testing.T) {
	dir := t.TempDir()
	f, err := OpenFile(dir)
	require.NoError(t, err)

	s := sampleSession()
	s.ConversationID = "../../etc/passwd"
	require.NoError(t, f.Put(context.Background(), s))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.NotContains(t, entries[0].Name(), "/")

	got, err := f.Get(context.Background(), s.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, s.ConversationID, got.ConversationID)
}

func TestSQLiteCountByStatus(t *testing.T) {
	db, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "s.db"))
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	for i, status := range []scrum.Status{scrum.StatusRunning, scrum.StatusRunning, scrum.StatusCompleted} {
		s := sampleSession()
		s.ConversationID = string(rune('a' + i))
		s.Status = status
		require.NoError(t, db.Put(ctx, s))
	}

	n, err := db.CountByStatus(ctx, scrum.StatusRunning)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestOpen(t *testing.T) {
	e, err := Open(context.Background(), DriverMemory, "")
	require.NoError(t, err)
	defer e.Close()

	_, err = e.Get(context.Background(), "nothing")
	assert.ErrorIs(t, err, scrum.ErrSessionNotFound)

	_, err = Open(context.Background(), "redis", "")
	assert.Error(t, err)
}

func TestInstrumentedCount(t *testing.T) {
	ctx := context.Background()

	e, err := Open(ctx, DriverMemory, "")
	require.NoError(t, err)
	defer e.Close()
	require.NoError(t, e.Put(ctx, sampleSession()))

	c, ok := e.(Counter)
	require.True(t, ok)
	n, err := c.CountByStatus(ctx, scrum.StatusRunning)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	f, err := Open(ctx, DriverFile, t.TempDir())
	require.NoError(t, err)
	defer f.Close()
	_, err = f.(Counter).CountByStatus(ctx, scrum.StatusRunning)
	assert.ErrorIs(t, err, ErrUnsupported)
}
