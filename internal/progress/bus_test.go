package progress

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recvTimeout(t *testing.T, sub *Subscription) Frame {
	t.Helper()
	select {
	case frame, ok := <-sub.C():
		require.True(t, ok, "channel closed")
		return frame
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
		return Frame{}
	}
}

func TestPublishSubscribe(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe("job-1")
	defer sub.Close()

	bus.Publish("job-1", Frame{Kind: KindProgress, Stage: "transcribe", Percent: 30, Message: "chunk 2/4"})

	frame := recvTimeout(t, sub)
	assert.Equal(t, KindProgress, frame.Kind)
	assert.Equal(t, 30.0, frame.Percent)
}

func TestPublishWithoutSubscribersIsNoop(t *testing.T) {
	bus := NewBus()
	// Must not panic or create garbage topics.
	bus.Publish("job-x", Frame{Kind: KindProgress, Percent: 10})
}

func TestSubscriberIsolation(t *testing.T) {
	bus := NewBus()
	sub1 := bus.Subscribe("job-1")
	defer sub1.Close()
	sub2 := bus.Subscribe("job-2")
	defer sub2.Close()

	bus.Publish("job-1", Frame{Kind: KindProgress, Percent: 50})

	recvTimeout(t, sub1)
	select {
	case <-sub2.C():
		t.Fatal("job-2 subscriber received job-1 frame")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestSlowSubscriberDropsOldestKeepsTerminal(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe("job-1")
	defer sub.Close()

	// Overfill the buffer without draining.
	for i := 0; i < subscriberBuffer+50; i++ {
		bus.Publish("job-1", Frame{Kind: KindProgress, Percent: float64(i), Message: fmt.Sprintf("p%d", i)})
	}
	bus.PublishTerminal("job-1", Frame{Kind: KindComplete})

	// Drain everything; the oldest frames were dropped, order among the
	// survivors is publication order, and the terminal frame arrives.
	var frames []Frame
	var sawTerminal bool
	for !sawTerminal {
		frame := recvTimeout(t, sub)
		frames = append(frames, frame)
		sawTerminal = frame.Terminal()
	}

	require.NotEmpty(t, frames)
	assert.True(t, frames[len(frames)-1].Terminal())
	last := -1.0
	for _, f := range frames[:len(frames)-1] {
		assert.Greater(t, f.Percent, last, "survivors stay in publication order")
		last = f.Percent
	}
}

func TestLateSubscriberGetsLatchedTerminal(t *testing.T) {
	bus := NewBus()
	bus.Publish("job-1", Frame{Kind: KindProgress, Percent: 10})
	bus.PublishTerminal("job-1", Frame{Kind: KindError, Error: "transcription failed"})

	sub := bus.Subscribe("job-1")
	defer sub.Close()

	frame := recvTimeout(t, sub)
	assert.Equal(t, KindError, frame.Kind)
	assert.Equal(t, "transcription failed", frame.Error)
}

func TestTerminalIsIdempotentAndFinal(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe("job-1")
	defer sub.Close()

	bus.PublishTerminal("job-1", Frame{Kind: KindComplete})
	bus.PublishTerminal("job-1", Frame{Kind: KindError, Error: "late"})
	bus.Publish("job-1", Frame{Kind: KindProgress, Percent: 99})

	frame := recvTimeout(t, sub)
	assert.Equal(t, KindComplete, frame.Kind)

	select {
	case extra := <-sub.C():
		t.Fatalf("unexpected frame after terminal: %+v", extra)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestCloseStopsDelivery(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe("job-1")
	sub.Close()
	sub.Close() // idempotent

	_, ok := <-sub.C()
	assert.False(t, ok)

	// Publishing after close must not panic.
	bus.Publish("job-1", Frame{Kind: KindProgress, Percent: 1})
}

func TestForgetClosesSubscribers(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe("job-1")

	bus.Forget("job-1")

	select {
	case _, ok := <-sub.C():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed by Forget")
	}

	// Closing after Forget must not double-close.
	sub.Close()
}

func TestNonTerminalPublishTerminalIgnored(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe("job-1")
	defer sub.Close()

	bus.PublishTerminal("job-1", Frame{Kind: KindProgress, Percent: 50})

	select {
	case <-sub.C():
		t.Fatal("progress frame must not latch as terminal")
	case <-time.After(20 * time.Millisecond):
	}
}
