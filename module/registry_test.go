package module

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/messagecenter/errors"
	"github.com/c360/messagecenter/message"
)

// echoHandler responds to every message with its payload
type echoHandler struct{}

func (echoHandler) Handle(_ context.Context, msg *message.Message) (*message.Response, error) {
	return message.NewResponse(msg, msg.Payload), nil
}

func TestRegistry_Register(t *testing.T) {
	registry := NewRegistry()

	err := registry.Register("worker-1", echoHandler{})
	require.NoError(t, err)

	assert.True(t, registry.Has("worker-1"))
	assert.Equal(t, 1, registry.Count())
}

func TestRegistry_RegisterDuplicate(t *testing.T) {
	registry := NewRegistry()

	require.NoError(t, registry.Register("worker-1", echoHandler{}))

	err := registry.Register("worker-1", echoHandler{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrDuplicateModule)

	// Registry still has exactly one mapping for the id.
	assert.Equal(t, 1, registry.Count())
}

func TestRegistry_RegisterInvalid(t *testing.T) {
	registry := NewRegistry()

	err := registry.Register("", echoHandler{})
	assert.ErrorIs(t, err, errors.ErrInvalidRegistration)

	err = registry.Register("worker-1", nil)
	assert.ErrorIs(t, err, errors.ErrInvalidRegistration)

	assert.Equal(t, 0, registry.Count())
}

func TestRegistry_Unregister(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register("worker-1", echoHandler{}))

	assert.True(t, registry.Unregister("worker-1"))
	assert.False(t, registry.Has("worker-1"))
	assert.False(t, registry.Unregister("worker-1"), "second unregister reports nothing removed")
}

func TestRegistry_Callbacks(t *testing.T) {
	registry := NewRegistry()

	registered := make(chan string, 1)
	unregistered := make(chan string, 1)
	registry.SetCallbacks(
		func(id string) { registered <- id },
		func(id string) { unregistered <- id },
	)

	require.NoError(t, registry.Register("worker-1", echoHandler{}))
	select {
	case id := <-registered:
		assert.Equal(t, "worker-1", id)
	case <-time.After(time.Second):
		t.Fatal("registration callback never fired")
	}

	registry.Unregister("worker-1")
	select {
	case id := <-unregistered:
		assert.Equal(t, "worker-1", id)
	case <-time.After(time.Second):
		t.Fatal("unregistration callback never fired")
	}

	// No callback for an id that was never registered.
	registry.Unregister("ghost")
	select {
	case id := <-unregistered:
		t.Fatalf("unexpected callback for %q", id)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRegistry_AllIsDefensiveCopy(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register("worker-1", echoHandler{}))

	all := registry.All()
	delete(all, "worker-1")

	assert.True(t, registry.Has("worker-1"), "mutating the copy must not affect the registry")
}

func TestRegistry_IDs(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register("a", echoHandler{}))
	require.NoError(t, registry.Register("b", echoHandler{}))

	ids := registry.IDs()
	assert.ElementsMatch(t, []string{"a", "b"}, ids)
}

func TestRegistry_Clear(t *testing.T) {
	registry := NewRegistry()

	fired := make(chan string, 2)
	registry.SetCallbacks(nil, func(id string) { fired <- id })

	require.NoError(t, registry.Register("a", echoHandler{}))
	require.NoError(t, registry.Register("b", echoHandler{}))

	registry.Clear()
	assert.Equal(t, 0, registry.Count())

	select {
	case id := <-fired:
		t.Fatalf("Clear must not fire callbacks, got %q", id)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHandlerFunc(t *testing.T) {
	h := HandlerFunc(func(_ context.Context, msg *message.Message) (*message.Response, error) {
		return message.NewResponse(msg, "ok"), nil
	})

	resp, err := h.Handle(context.Background(), message.New("ping", "a", nil))
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Data)
}
