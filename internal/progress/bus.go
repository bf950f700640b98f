// Package progress is the in-process fan-out bus for job progress. One
// topic per job; subscribers get bounded buffers with drop-oldest
// semantics so a stalled websocket can never block the pipeline, while
// terminal frames are latched and guaranteed.
package progress

import (
	"sync"
)

// subscriberBuffer is the per-subscriber channel capacity. Progress is
// monotonic, so dropping stale frames under pressure loses nothing a
// client cares about.
const subscriberBuffer = 100

// Kind discriminates the frame union.
type Kind string

const (
	KindProgress Kind = "progress"
	KindComplete Kind = "complete"
	KindError    Kind = "error"
)

// Frame is one progress bus record.
type Frame struct {
	Kind    Kind    `json:"type"`
	Stage   string  `json:"stage,omitempty"`
	Percent float64 `json:"percent,omitempty"`
	Message string  `json:"message,omitempty"`
	Error   string  `json:"error,omitempty"`
}

// Terminal reports whether the frame ends the stream.
func (f Frame) Terminal() bool {
	return f.Kind == KindComplete || f.Kind == KindError
}

// Subscription is one subscriber's view of a topic.
type Subscription struct {
	ch    chan Frame
	topic *topic
	once  sync.Once
}

// C is the frame stream. It is closed after a terminal frame has been
// delivered, or on Close.
func (s *Subscription) C() <-chan Frame { return s.ch }

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.topic.remove(s)
	})
}

type topic struct {
	mu       sync.Mutex
	subs     map[*Subscription]struct{}
	terminal *Frame
}

// Bus routes frames between job workers and stream subscribers. Topics
// live for the process lifetime until Forget is called for the job.
type Bus struct {
	mu     sync.Mutex
	topics map[string]*topic
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{topics: make(map[string]*topic)}
}

func (b *Bus) getTopic(jobID string, create bool) *topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[jobID]
	if !ok && create {
		t = &topic{subs: make(map[*Subscription]struct{})}
		b.topics[jobID] = t
	}
	return t
}

// Subscribe attaches to a job's topic. History is not replayed, but a
// terminal frame already latched for the job is delivered immediately so
// a late subscriber never hangs on a finished job.
func (b *Bus) Subscribe(jobID string) *Subscription {
	t := b.getTopic(jobID, true)

	sub := &Subscription{ch: make(chan Frame, subscriberBuffer), topic: t}

	t.mu.Lock()
	t.subs[sub] = struct{}{}
	terminal := t.terminal
	t.mu.Unlock()

	if terminal != nil {
		sub.ch <- *terminal
	}
	return sub
}

// Publish fans a progress frame out to the job's subscribers. Never
// blocks: a full subscriber buffer loses its oldest frame.
func (b *Bus) Publish(jobID string, frame Frame) {
	t := b.getTopic(jobID, false)
	if t == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.terminal != nil {
		// Nothing follows a terminal frame.
		return
	}
	for sub := range t.subs {
		sendDropOldest(sub.ch, frame)
	}
}

// PublishTerminal latches the job's terminal frame and delivers it to
// every current subscriber, retrying stuck buffers up to the deadline.
// Later subscribers get the latched frame from Subscribe. Idempotent:
// the first terminal frame wins.
func (b *Bus) PublishTerminal(jobID string, frame Frame) {
	if !frame.Terminal() {
		return
	}
	t := b.getTopic(jobID, true)

	t.mu.Lock()
	if t.terminal != nil {
		t.mu.Unlock()
		return
	}
	t.terminal = &frame
	subs := make([]*Subscription, 0, len(t.subs))
	for sub := range t.subs {
		subs = append(subs, sub)
	}
	t.mu.Unlock()

	// Terminal frames are never dropped: a full buffer loses its oldest
	// progress frame instead. Once the terminal is latched no further
	// progress frames are published, so the eviction always lands the
	// terminal frame without blocking the worker.
	for _, sub := range subs {
		sendDropOldest(sub.ch, frame)
	}
}

// Forget drops the job's topic and closes any remaining subscriptions.
// Called by the retention sweeper when the job's artifacts go away.
func (b *Bus) Forget(jobID string) {
	b.mu.Lock()
	t := b.topics[jobID]
	delete(b.topics, jobID)
	b.mu.Unlock()

	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for sub := range t.subs {
		close(sub.ch)
		delete(t.subs, sub)
	}
}

func (t *topic) remove(sub *Subscription) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.subs[sub]; ok {
		delete(t.subs, sub)
		close(sub.ch)
	}
}

// sendDropOldest enqueues frame, evicting the oldest buffered frame if
// the channel is full. With a single evictor per send this terminates.
func sendDropOldest(ch chan Frame, frame Frame) {
	for {
		select {
		case ch <- frame:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
