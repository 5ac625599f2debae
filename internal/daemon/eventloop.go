package daemon

import (
	"context"
	"errors"
	"time"

	"github.com/harun/standup/internal/observability"
	"github.com/harun/standup/pkg/scrum"
	"github.com/harun/standup/pkg/store"
)

// EventLoop runs periodic maintenance while the daemon is up.
type EventLoop struct {
	daemon   *Daemon
	interval time.Duration
}

// NewEventLoop creates a new event loop
func NewEventLoop(d *Daemon) *EventLoop {
	return &EventLoop{
		daemon:   d,
		interval: 30 * time.Second,
	}
}

// Run runs the event loop with periodic maintenance tasks
func (e *EventLoop) Run(ctx context.Context) {
	e.daemon.logger.Info().Msg("Event loop started")

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.daemon.logger.Info().Msg("Event loop stopping")
			return

		case <-ticker.C:
			e.processTasks(ctx)
		}
	}
}

// processTasks publishes gauges and logs busy lanes.
func (e *EventLoop) processTasks(ctx context.Context) {
	log := e.daemon.logger.GetZerolog()

	if counter, ok := e.daemon.store.(store.Counter); ok {
		n, err := counter.CountByStatus(ctx, scrum.StatusRunning)
		switch {
		case err == nil:
			observability.SetRunningSessions(n)
		case !errors.Is(err, store.ErrUnsupported):
			log.Warn().Err(err).Msg("Failed to count running sessions")
		}
	}

	size := 0
	for _, st := range e.daemon.stacks {
		size += st.roster.Size()
	}
	observability.SetRosterEntries(size)

	for lane, queued := range e.daemon.queue.Stats() {
		if queued > 0 {
			log.Debug().
				Str("lane", lane).
				Int("queued", queued).
				Msg("Queue stats")
		}
	}
}

// HandleShutdown waits briefly for running turns.
func (e *EventLoop) HandleShutdown() {
	e.daemon.logger.Info().Msg("Handling graceful shutdown")
	e.daemon.queue.WaitForActive(5 * time.Second)
}
