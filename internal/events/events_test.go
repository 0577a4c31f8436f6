package events

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Change) Change {
	t.Helper()
	select {
	case c, ok := <-ch:
		require.True(t, ok, "channel closed")
		return c
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for change")
		return Change{}
	}
}

func TestLocalBusDeliversPerOperator(t *testing.T) {
	bus := NewLocalBus(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := bus.Subscribe(ctx, "op-a")
	require.NoError(t, err)
	b, err := bus.Subscribe(ctx, "op-b")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, Change{OperatorID: "op-a", Slice: SliceLedger}))

	assert.Equal(t, Change{OperatorID: "op-a", Slice: SliceLedger}, receive(t, a))
	select {
	case c := <-b:
		t.Fatalf("unexpected change for op-b: %+v", c)
	default:
	}
}

func TestLocalBusClosesOnCancel(t *testing.T) {
	bus := NewLocalBus(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := bus.Subscribe(ctx, "op-a")
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatalf("subscription was not closed")
	}

	require.NoError(t, bus.Publish(context.Background(), Change{OperatorID: "op-a", Slice: SliceRate}))
}

func TestLocalBusDropsWhenSubscriberIsFull(t *testing.T) {
	bus := NewLocalBus(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx, "op-a")
	require.NoError(t, err)
	for i := 0; i < subscriberBuffer+10; i++ {
		require.NoError(t, bus.Publish(ctx, Change{OperatorID: "op-a", Slice: SliceCatalog}))
	}
	assert.Len(t, ch, subscriberBuffer)
}

func TestRedisBusRoundTrip(t *testing.T) {
	addr := os.Getenv("POS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set POS_TEST_REDIS_ADDR to run redis integration test")
	}

	bus := NewRedisBus(addr, "", 0, zerolog.Nop())
	t.Cleanup(func() { _ = bus.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, bus.Ping(ctx))

	ch, err := bus.Subscribe(ctx, "op-redis")
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, Change{OperatorID: "op-redis", Slice: SliceClosings}))

	assert.Equal(t, SliceClosings, receive(t, ch).Slice)
}
