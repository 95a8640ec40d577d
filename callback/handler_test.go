package callback_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsneelabh/agentcore/callback"
	"github.com/itsneelabh/agentcore/events"
)

func TestOnTokenPublishesAndRecords(t *testing.T) {
	bus := events.New()
	var delivered int
	bus.Subscribe("LLM_TOKEN", func(_ context.Context, e events.Event) error {
		delivered++
		assert.Equal(t, "trace-1", e.Payload["trace_id"])
		return nil
	})

	h := callback.New(bus, "trace-1", "sess-1")
	h.OnToken(context.Background(), "hello")

	assert.Equal(t, 1, delivered)
	records := h.Records(0)
	require.Len(t, records, 1)
	assert.Equal(t, "token", records[0].Kind)
	assert.Equal(t, "hello", records[0].Payload["token"])
}

func TestRingBufferEvictsOldestFIFO(t *testing.T) {
	h := callback.New(nil, "t", "s", callback.WithBufferSize(3))
	for i := 0; i < 5; i++ {
		h.OnToken(context.Background(), fmt.Sprintf("tok-%d", i))
	}

	records := h.Records(0)
	require.Len(t, records, 3)
	assert.Equal(t, "tok-2", records[0].Payload["token"])
	assert.Equal(t, "tok-3", records[1].Payload["token"])
	assert.Equal(t, "tok-4", records[2].Payload["token"])
}

func TestOnErrorPublishesLLMError(t *testing.T) {
	bus := events.New()
	var gotMsg string
	bus.Subscribe("LLM_ERROR", func(_ context.Context, e events.Event) error {
		gotMsg, _ = e.Payload["error"].(string)
		return nil
	})

	h := callback.New(bus, "t", "s")
	h.OnError(context.Background(), errors.New("stream broke"))

	assert.Equal(t, "stream broke", gotMsg)
}

func TestRecordsNRespectsRequestedCount(t *testing.T) {
	h := callback.New(nil, "t", "s")
	for i := 0; i < 10; i++ {
		h.OnToken(context.Background(), fmt.Sprintf("%d", i))
	}
	last3 := h.Records(3)
	require.Len(t, last3, 3)
	assert.Equal(t, "7", last3[0].Payload["token"])
	assert.Equal(t, "9", last3[2].Payload["token"])
}
