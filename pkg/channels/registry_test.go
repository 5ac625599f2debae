package channels

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/standup/pkg/dispatch"
)

type testChannel struct {
	name       string
	startCalls int
	stopCalls  int
	startErr   error
	handler    Handler
}

func (c *testChannel) Name() string { return c.name }

func (c *testChannel) Start(_ context.Context, h Handler) error {
	if c.startErr != nil {
		return c.startErr
	}
	c.startCalls++
	c.handler = h
	return nil
}

func (c *testChannel) Stop(_ context.Context) error {
	c.stopCalls++
	return nil
}

func noop() Handler {
	return HandlerFunc(func(context.Context, dispatch.Event) (*dispatch.InvokeResponse, error) {
		return &dispatch.InvokeResponse{Status: 200}, nil
	})
}

func TestRegistry_RegisterStartDispatchStop(t *testing.T) {
	var seen []dispatch.Event
	handler := HandlerFunc(func(_ context.Context, ev dispatch.Event) (*dispatch.InvokeResponse, error) {
		seen = append(seen, ev)
		return &dispatch.InvokeResponse{Status: 200}, nil
	})

	reg := NewRegistry()
	ch := &testChannel{name: "http"}
	require.NoError(t, reg.Register(ch, handler))
	assert.True(t, reg.IsRegistered("http"))
	assert.Equal(t, []string{"http"}, reg.Names())

	require.NoError(t, reg.StartAll(context.Background()))
	assert.Equal(t, 1, ch.startCalls)
	assert.Equal(t, []string{"http"}, reg.Running())

	// Starting twice is a no-op.
	require.NoError(t, reg.Start(context.Background(), "http"))
	assert.Equal(t, 1, ch.startCalls)

	resp, err := reg.Dispatch(context.Background(), dispatch.Event{Channel: "http", ConversationID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	require.Len(t, seen, 1)
	assert.Equal(t, "c1", seen[0].ConversationID)

	// The channel received the same handler.
	_, err = ch.handler.Handle(context.Background(), dispatch.Event{Channel: "http"})
	require.NoError(t, err)
	assert.Len(t, seen, 2)

	require.NoError(t, reg.StopAll(context.Background()))
	assert.Equal(t, 1, ch.stopCalls)
	assert.Empty(t, reg.Running())
}

func TestRegistry_Validation(t *testing.T) {
	reg := NewRegistry()

	assert.Error(t, reg.Register(nil, noop()))
	assert.Error(t, reg.Register(&testChannel{name: "x"}, nil))
	assert.Error(t, reg.Register(&testChannel{name: " "}, noop()))

	require.NoError(t, reg.Register(&testChannel{name: "x"}, noop()))
	assert.Error(t, reg.Register(&testChannel{name: "x"}, noop()))

	_, err := reg.Dispatch(context.Background(), dispatch.Event{})
	assert.Error(t, err)
	_, err = reg.Dispatch(context.Background(), dispatch.Event{Channel: "missing"})
	assert.Error(t, err)

	assert.Error(t, reg.Start(context.Background(), "missing"))
	assert.Error(t, reg.Stop(context.Background(), "missing"))
}

func TestRegistry_StartError(t *testing.T) {
	reg := NewRegistry()
	boom := errors.New("port in use")
	require.NoError(t, reg.Register(&testChannel{name: "http", startErr: boom}, noop()))

	err := reg.StartAll(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, reg.Running())
}
