// Package stream fans execution events out to subscribers of a runtime
// instance. Publishing never blocks: every subscription owns an unbounded
// queue drained into its channel by a dedicated goroutine, so a slow or
// vanished reader only delays itself.
package stream

import (
	"errors"
	"sync"
	"time"

	"github.com/bbenst/langchain4j-aideepin-sub001/pkg/models"
)

// ErrNotLive is returned when subscribing to a runtime that is not executing.
var ErrNotLive = errors.New("runtime is not executing")

// Broker routes events by runtime uuid.
type Broker struct {
	mu     sync.Mutex
	topics map[string]*topic
	buffer int
	now    func() time.Time
}

type topic struct {
	seq  int64
	subs map[*Subscription]struct{}
}

// NewBroker creates a Broker whose subscription channels have the given
// buffer size.
func NewBroker(buffer int) *Broker {
	if buffer < 0 {
		buffer = 0
	}
	return &Broker{topics: make(map[string]*topic), buffer: buffer, now: time.Now}
}

// Open starts accepting subscriptions for runtimeUUID. Opening an open
// topic is a no-op.
func (b *Broker) Open(runtimeUUID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.topics[runtimeUUID]; !ok {
		b.topics[runtimeUUID] = &topic{subs: make(map[*Subscription]struct{})}
	}
}

// Live reports whether runtimeUUID is open.
func (b *Broker) Live(runtimeUUID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.topics[runtimeUUID]
	return ok
}

// Subscribe attaches to an open topic. Events published from now on are
// delivered in order on the subscription's channel, which is closed after
// the final event of the execution leg.
func (b *Broker) Subscribe(runtimeUUID string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[runtimeUUID]
	if !ok {
		return nil, ErrNotLive
	}
	s := newSubscription(b, runtimeUUID, b.buffer)
	t.subs[s] = struct{}{}
	return s, nil
}

// Publish stamps ev with the next sequence number of its runtime and queues
// it for every subscriber. A final event closes the topic.
func (b *Broker) Publish(ev models.ExecutionEvent) models.ExecutionEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[ev.RuntimeUUID]
	if ev.Timestamp.IsZero() {
		ev.Timestamp = b.now()
	}
	if !ok {
		return ev
	}
	t.seq++
	ev.Seq = t.seq
	for s := range t.subs {
		s.push(ev)
	}
	if ev.Type.IsFinal() {
		for s := range t.subs {
			s.finish()
		}
		delete(b.topics, ev.RuntimeUUID)
	}
	return ev
}

// Close ends every open topic, closing all subscriptions.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, t := range b.topics {
		for s := range t.subs {
			s.finish()
		}
		delete(b.topics, id)
	}
}

func (b *Broker) detach(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.topics[s.runtimeUUID]; ok {
		delete(t.subs, s)
	}
}

// Subscription is one reader of a runtime's events.
type Subscription struct {
	broker      *Broker
	runtimeUUID string
	out         chan models.ExecutionEvent

	mu       sync.Mutex
	queue    []models.ExecutionEvent
	finished bool
	wake     chan struct{}
	done     chan struct{}
	once     sync.Once
}

func newSubscription(b *Broker, runtimeUUID string, buffer int) *Subscription {
	s := &Subscription{
		broker:      b,
		runtimeUUID: runtimeUUID,
		out:         make(chan models.ExecutionEvent, buffer),
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	go s.pump()
	return s
}

// Events returns the ordered event channel.
func (s *Subscription) Events() <-chan models.ExecutionEvent { return s.out }

// Close detaches the subscription. Execution is not affected.
func (s *Subscription) Close() {
	s.once.Do(func() { close(s.done) })
	s.broker.detach(s)
}

func (s *Subscription) push(ev models.ExecutionEvent) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription) finish() {
	s.mu.Lock()
	s.finished = true
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			finished := s.finished
			s.mu.Unlock()
			if finished {
				return
			}
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- ev:
		case <-s.done:
			return
		}
	}
}
