package eventbus

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestMemoryBus_PublishSubscribe(t *testing.T) {
	bus := NewMemoryBus(zaptest.NewLogger(t))
	defer bus.Close()

	var got []*Event
	handler := HandlerFunc(func(ctx context.Context, event *Event) error {
		got = append(got, event)
		return nil
	})

	require.NoError(t, bus.Subscribe(EventOrderCompleted, handler))

	sent := NewEvent(EventOrderCompleted, "node-1", map[string]interface{}{"order_id": "o1"})
	require.NoError(t, bus.Publish(sent))
	require.NoError(t, bus.Publish(NewEvent(EventOrderFailed, "node-1", nil)))

	require.Len(t, got, 1)
	assert.Equal(t, sent.ID, got[0].ID)
	assert.Equal(t, "o1", got[0].Data["order_id"])
}

func TestMemoryBus_MultipleHandlers(t *testing.T) {
	bus := NewMemoryBus(zaptest.NewLogger(t))
	defer bus.Close()

	calls := 0
	for i := 0; i < 3; i++ {
		require.NoError(t, bus.Subscribe(EventNodeHeartbeat, HandlerFunc(func(ctx context.Context, event *Event) error {
			calls++
			return nil
		})))
	}

	require.NoError(t, bus.Publish(NewEvent(EventNodeHeartbeat, "node-1", nil)))
	assert.Equal(t, 3, calls)
}

func TestMemoryBus_HandlerErrorDoesNotPropagate(t *testing.T) {
	bus := NewMemoryBus(zaptest.NewLogger(t))
	defer bus.Close()

	require.NoError(t, bus.Subscribe(EventNodeStatus, HandlerFunc(func(ctx context.Context, event *Event) error {
		return errors.New("handler boom")
	})))

	assert.NoError(t, bus.Publish(NewEvent(EventNodeStatus, "node-1", nil)))
}

func TestMemoryBus_PublishAfterClose(t *testing.T) {
	bus := NewMemoryBus(zaptest.NewLogger(t))

	called := false
	require.NoError(t, bus.Subscribe(EventClusterStatus, HandlerFunc(func(ctx context.Context, event *Event) error {
		called = true
		return nil
	})))

	require.NoError(t, bus.Close())
	require.NoError(t, bus.Publish(NewEvent(EventClusterStatus, "cluster-1", nil)))
	assert.False(t, called)
}
