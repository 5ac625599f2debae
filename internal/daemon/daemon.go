package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/harun/standup/internal/config"
	"github.com/harun/standup/internal/logger"
	"github.com/harun/standup/internal/observability"
	"github.com/harun/standup/internal/tracing"
	"github.com/harun/standup/pkg/channels"
	"github.com/harun/standup/pkg/commandqueue"
	"github.com/harun/standup/pkg/store"
)

// Daemon represents the standup daemon service
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	// Core modules
	store    store.Engine
	queue    *commandqueue.CommandQueue
	registry *channels.Registry
	stacks   []*stack

	// Housekeeping
	scheduler *cron.Cron

	// Internal
	eventLoop *EventLoop
	lifecycle *LifecycleManager

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// New creates a new daemon instance
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	observability.EnsureRegistered()
	if err := tracing.InitOpenTelemetry("standup-daemon"); err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
	} else {
		log.Info().Msg("Tracing initialized successfully")
	}

	d := &Daemon{
		config:         cfg,
		logger:         log,
		ctx:            ctx,
		cancel:         cancel,
		tracingEnabled: true,
	}

	fail := func(err error) (*Daemon, error) {
		cancel()
		d.release()
		return nil, err
	}

	if err := d.initializeCoreModules(); err != nil {
		return fail(fmt.Errorf("failed to initialize core modules: %w", err))
	}

	if err := d.initializeChannels(); err != nil {
		return fail(fmt.Errorf("failed to initialize channels: %w", err))
	}

	if err := d.initializeScheduler(); err != nil {
		return fail(fmt.Errorf("failed to initialize scheduler: %w", err))
	}

	d.eventLoop = NewEventLoop(d)
	d.lifecycle = NewLifecycleManager(d)

	return d, nil
}

// initializeCoreModules opens the session store and the turn queue.
func (d *Daemon) initializeCoreModules() error {
	if err := os.MkdirAll(d.config.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	auditPath := filepath.Join(d.config.DataDir, "audit.log")
	if err := observability.InitAuditLogger(auditPath); err != nil {
		d.logger.Warn().Err(err).Msg("Failed to initialize audit logger, using default stderr")
	} else {
		d.logger.Info().Str("path", auditPath).Msg("Audit logger initialized")
	}

	engine, err := store.Open(d.ctx, d.config.Store.Driver, d.config.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	d.store = engine
	d.logger.Info().
		Str("driver", d.config.Store.Driver).
		Str("path", d.config.Store.Path).
		Msg("Session store opened")

	d.queue = commandqueue.New()
	d.bindQueueEvents()
	d.logger.Info().Msg("Command queue initialized")

	return nil
}

// bindQueueEvents logs lane activity at debug level.
func (d *Daemon) bindQueueEvents() {
	log := d.logger.Component("commandqueue")
	d.queue.On(commandqueue.EventCompleted, func(ev commandqueue.Event) {
		entry := log.Debug()
		if ev.Err != nil {
			entry = log.Warn().Err(ev.Err)
		}
		entry.
			Str("lane", ev.Lane).
			Str("task_id", ev.TaskID).
			Dur("duration", ev.Duration).
			Msg("Turn finished")
	})
}

// initializeScheduler registers the housekeeping jobs.
func (d *Daemon) initializeScheduler() error {
	d.scheduler = cron.New()
	spec := d.config.Roster.PurgeSchedule
	if spec == "" {
		return nil
	}
	if _, err := d.scheduler.AddFunc(spec, d.purgeRosters); err != nil {
		return fmt.Errorf("invalid roster purge schedule %q: %w", spec, err)
	}
	d.logger.Info().Str("schedule", spec).Msg("Roster purge scheduled")
	return nil
}

// purgeRosters drops expired member lists from every channel's cache.
func (d *Daemon) purgeRosters() {
	purged, size := 0, 0
	for _, st := range d.stacks {
		purged += st.roster.Purge()
		size += st.roster.Size()
	}
	observability.SetRosterEntries(size)
	d.logger.Info().Int("purged", purged).Int("remaining", size).Msg("Roster cache purged")
}

// Start starts the daemon service
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	traceID := tracing.NewTraceID()
	logger := d.logger.GetZerolog().With().Str("trace_id", traceID).Logger()
	logger.Info().Msg("Starting standup daemon")

	if err := d.lifecycle.Start(); err != nil {
		d.setStopped()
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	if err := d.registry.StartAll(d.ctx); err != nil {
		_ = d.registry.StopAll(context.Background())
		_ = d.lifecycle.Stop()
		d.setStopped()
		return fmt.Errorf("failed to start channels: %w", err)
	}
	logger.Info().Strs("channels", d.registry.Names()).Msg("Channels started")

	d.scheduler.Start()
	logger.Info().Msg("Scheduler started")

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.eventLoop.Run(d.ctx)
	}()

	logger.Info().Msg("Daemon started successfully")
	return nil
}

func (d *Daemon) setStopped() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

// Stop stops the daemon service gracefully
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	traceID := tracing.NewTraceID()
	logger := d.logger.GetZerolog().With().Str("trace_id", traceID).Logger()
	logger.Info().Msg("Stopping standup daemon")

	// Channels first, so no new turns arrive while in-flight ones drain.
	stopCtx, cancelStop := context.WithTimeout(context.Background(), 30*time.Second)
	if err := d.registry.StopAll(stopCtx); err != nil {
		logger.Error().Err(err).Msg("Failed to stop channels")
	}
	cancelStop()

	d.eventLoop.HandleShutdown()

	<-d.scheduler.Stop().Done()
	logger.Info().Msg("Scheduler stopped")

	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("All goroutines stopped")
	case <-time.After(5 * time.Second):
		logger.Warn().Msg("Timeout waiting for goroutines to stop")
	}

	if err := d.lifecycle.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}

	d.release()

	logger.Info().Msg("Daemon stopped successfully")
	return nil
}

// release closes everything New opened.
func (d *Daemon) release() {
	log := d.logger.GetZerolog()

	if d.queue != nil {
		if err := d.queue.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close command queue")
		}
	}

	if d.store != nil {
		if err := d.store.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close session store")
		}
	}

	if d.tracingEnabled {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := tracing.ShutdownOpenTelemetry(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to shutdown tracing")
		}
		cancel()
		d.tracingEnabled = false
	}

	if err := observability.GetAuditLogger().Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close audit logger")
	}
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running: d.running,
	}

	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
		status.Channels = d.registry.Running()
	}

	return status
}

// Wait blocks until SIGINT or SIGTERM, then stops the daemon.
func (d *Daemon) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	sig := <-sigChan
	d.logger.Info().Str("signal", sig.String()).Msg("Received signal")

	if err := d.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop daemon")
	}
}

// Status represents daemon status
type Status struct {
	Running   bool
	Uptime    time.Duration
	StartTime time.Time
	Channels  []string
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// GetLogger returns the daemon logger
func (d *Daemon) GetLogger() *logger.Logger {
	return d.logger
}

// GetQueue returns the command queue
func (d *Daemon) GetQueue() *commandqueue.CommandQueue {
	return d.queue
}

// GetStore returns the session store
func (d *Daemon) GetStore() store.Engine {
	return d.store
}

// GetChannelRegistry returns the channel registry
func (d *Daemon) GetChannelRegistry() *channels.Registry {
	return d.registry
}
