package events_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsneelabh/agentcore/events"
)

func TestPublishDeliversToMatchingAndWildcardSubscribers(t *testing.T) {
	bus := events.New()

	var matched, wildcard int32
	bus.Subscribe("AGENT_STARTED", func(_ context.Context, e events.Event) error {
		atomic.AddInt32(&matched, 1)
		return nil
	})
	bus.Subscribe(events.Any, func(_ context.Context, e events.Event) error {
		atomic.AddInt32(&wildcard, 1)
		return nil
	})
	bus.Subscribe("OTHER_TYPE", func(_ context.Context, e events.Event) error {
		t.Fatal("subscriber of unrelated type must not be invoked")
		return nil
	})

	delivered := bus.Publish(context.Background(), events.Event{Type: "AGENT_STARTED"})

	assert.Equal(t, 2, delivered)
	assert.EqualValues(t, 1, atomic.LoadInt32(&matched))
	assert.EqualValues(t, 1, atomic.LoadInt32(&wildcard))
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := events.New()
	var calls int32
	id := bus.Subscribe("X", func(_ context.Context, e events.Event) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	bus.Publish(context.Background(), events.Event{Type: "X"})
	bus.Unsubscribe(id)
	bus.Publish(context.Background(), events.Event{Type: "X"})

	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	assert.Equal(t, 0, bus.SubscriberCount("X"))
}

func TestUnsubscribeHandlerRemovesAllRegistrationsOfSameFunction(t *testing.T) {
	bus := events.New()
	var calls int32
	handler := func(_ context.Context, e events.Event) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}

	bus.Subscribe("A", handler)
	bus.Subscribe("B", handler)
	bus.UnsubscribeHandler(handler)

	bus.Publish(context.Background(), events.Event{Type: "A"})
	bus.Publish(context.Background(), events.Event{Type: "B"})

	assert.EqualValues(t, 0, atomic.LoadInt32(&calls))
}

func TestHandlerTimeoutIsAbandonedNotBlocking(t *testing.T) {
	bus := events.New(events.WithHandlerTimeout(20 * time.Millisecond))

	release := make(chan struct{})
	bus.Subscribe("SLOW", func(ctx context.Context, e events.Event) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})
	defer close(release)

	start := time.Now()
	bus.Publish(context.Background(), events.Event{Type: "SLOW"})
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 500*time.Millisecond, "Publish must return once the handler timeout elapses, not wait for the handler body")
}

func TestHistoryIsBoundedRingBuffer(t *testing.T) {
	bus := events.New(events.WithMaxHistory(3))

	for i := 0; i < 5; i++ {
		bus.Publish(context.Background(), events.Event{Type: "T", Payload: map[string]interface{}{"i": i}})
	}

	hist := bus.History()
	require.Len(t, hist, 3)
	assert.Equal(t, 2, hist[0].Payload["i"])
	assert.Equal(t, 3, hist[1].Payload["i"])
	assert.Equal(t, 4, hist[2].Payload["i"])
}

func TestConcurrencyIsBounded(t *testing.T) {
	bus := events.New(events.WithConcurrency(2), events.WithHandlerTimeout(time.Second))

	var inFlight, maxObserved int32
	var mu sync.Mutex
	block := make(chan struct{})

	for i := 0; i < 10; i++ {
		bus.Subscribe("FANOUT", func(_ context.Context, e events.Event) error {
			n := atomic.AddInt32(&inFlight, 1)
			mu.Lock()
			if n > maxObserved {
				maxObserved = n
			}
			mu.Unlock()
			<-block
			atomic.AddInt32(&inFlight, -1)
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		bus.Publish(context.Background(), events.Event{Type: "FANOUT"})
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	close(block)
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, maxObserved, int32(2))
}

func TestClearRemovesAllSubscriptions(t *testing.T) {
	bus := events.New()
	bus.Subscribe("X", func(_ context.Context, e events.Event) error { return nil })
	bus.Subscribe(events.Any, func(_ context.Context, e events.Event) error { return nil })

	bus.Clear()

	assert.Equal(t, 0, bus.SubscriberCount(""))
}
