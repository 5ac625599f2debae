package channels

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/harun/standup/pkg/dispatch"
)

type entry struct {
	channel Channel
	handler Handler
	started bool
}

// Registry owns the configured channels. Each channel has its own handler,
// since each transport talks back through its own messenger.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]*entry
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{channels: make(map[string]*entry)}
}

// Register adds a channel and the handler its events go to.
func (r *Registry) Register(ch Channel, h Handler) error {
	if ch == nil {
		return fmt.Errorf("channel is required")
	}
	if h == nil {
		return fmt.Errorf("handler is required")
	}

	name := strings.TrimSpace(ch.Name())
	if name == "" {
		return fmt.Errorf("channel name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.channels[name]; exists {
		return fmt.Errorf("channel %q already registered", name)
	}
	r.channels[name] = &entry{channel: ch, handler: h}
	return nil
}

// IsRegistered returns true when channel exists in the registry.
func (r *Registry) IsRegistered(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.channels[strings.TrimSpace(name)]
	return ok
}

// Names returns sorted registered channel names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.channels))
	for name := range r.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Running returns the names of started channels.
func (r *Registry) Running() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	for name, e := range r.channels {
		if e.started {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Dispatch hands ev to the handler of ev.Channel.
func (r *Registry) Dispatch(ctx context.Context, ev dispatch.Event) (*dispatch.InvokeResponse, error) {
	name := strings.TrimSpace(ev.Channel)
	if name == "" {
		return nil, fmt.Errorf("channel is required")
	}

	r.mu.RLock()
	e, ok := r.channels[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("channel %q is not registered", name)
	}

	return e.handler.Handle(ctx, ev)
}

// StartAll starts all registered channels.
func (r *Registry) StartAll(ctx context.Context) error {
	for _, name := range r.Names() {
		if err := r.Start(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// StopAll stops all registered channels in reverse order.
func (r *Registry) StopAll(ctx context.Context) error {
	var firstErr error
	names := r.Names()
	for i := len(names) - 1; i >= 0; i-- {
		if err := r.Stop(ctx, names[i]); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Start starts a registered channel by name.
func (r *Registry) Start(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("channel name is required")
	}

	r.mu.Lock()
	e, ok := r.channels[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("channel %q is not registered", name)
	}
	if e.started {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	if err := e.channel.Start(ctx, e.handler); err != nil {
		return fmt.Errorf("failed to start channel %q: %w", name, err)
	}

	r.mu.Lock()
	e.started = true
	r.mu.Unlock()

	return nil
}

// Stop stops a registered channel by name.
func (r *Registry) Stop(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("channel name is required")
	}

	r.mu.Lock()
	e, ok := r.channels[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("channel %q is not registered", name)
	}
	if !e.started {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	if err := e.channel.Stop(ctx); err != nil {
		return fmt.Errorf("failed to stop channel %q: %w", name, err)
	}

	r.mu.Lock()
	e.started = false
	r.mu.Unlock()

	return nil
}
