package engine

import (
	"sync"

	"github.com/seantiz/testrig/internal/model"
)

// subscriberBufferSize is the channel buffer for each log subscriber.
// Lines are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 64

// LogBroker fans out live output lines per invocation. It is safe for
// concurrent use.
//
// Closed topics are retained as markers so that subscribers arriving after an
// invocation finished receive a closed channel instead of blocking forever.
type LogBroker struct {
	mu     sync.Mutex
	topics map[string]*logTopic
}

type logTopic struct {
	subs   map[int]chan model.LogLine
	nextID int
	closed bool
}

// NewLogBroker creates a new log broker.
func NewLogBroker() *LogBroker {
	return &LogBroker{
		topics: make(map[string]*logTopic),
	}
}

// Subscribe returns a channel of output lines for the invocation and an
// unsubscribe function. The channel is already closed if the invocation has
// finished.
func (b *LogBroker) Subscribe(invocationID string) (<-chan model.LogLine, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[invocationID]
	if !ok {
		t = &logTopic{subs: make(map[int]chan model.LogLine)}
		b.topics[invocationID] = t
	}

	ch := make(chan model.LogLine, subscriberBufferSize)
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
	}
}

// Publish sends a line to every current subscriber of the invocation.
func (b *LogBroker) Publish(invocationID string, line model.LogLine) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[invocationID]
	if !ok || t.closed {
		return
	}

	for _, ch := range t.subs {
		select {
		case ch <- line:
		default:
			// Slow subscriber; never block the test process.
		}
	}
}

// Close ends the stream for the invocation and closes all subscriber
// channels.
func (b *LogBroker) Close(invocationID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[invocationID]
	if !ok {
		b.topics[invocationID] = &logTopic{subs: make(map[int]chan model.LogLine), closed: true}
		return
	}

	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}
