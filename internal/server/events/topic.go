package events

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/agentstation/rddm/pkg/envelope"
	"github.com/agentstation/rddm/pkg/errors"
)

// Topic is one project's broadcast channel. A *Topic is a handle that can be
// shared freely between goroutines; publishing and subscribing through it
// never touches the registry lock.
type Topic struct {
	projectID string
	capacity  int
	registry  *Registry

	mu      sync.Mutex
	subs    map[*Subscription]struct{}
	evicted bool

	published atomic.Uint64
	dropped   atomic.Uint64
}

func newTopic(projectID string, capacity int, registry *Registry) *Topic {
	return &Topic{
		projectID: projectID,
		capacity:  capacity,
		registry:  registry,
		subs:      make(map[*Subscription]struct{}),
	}
}

// ProjectID returns the project this topic serves.
func (t *Topic) ProjectID() string {
	return t.projectID
}

// Publish delivers env to every current subscriber without waiting on any of
// them. With no subscribers the envelope is discarded. A handle whose topic
// was evicted forwards to the project's live topic, if there is one.
func (t *Topic) Publish(env envelope.Envelope) {
	if t.deliver(env) {
		return
	}
	if t.registry != nil {
		t.registry.Publish(t.projectID, env)
	}
}

// deliver fans env out under the topic lock so that every subscriber sees
// the same publish order. It reports false if the topic has been evicted.
func (t *Topic) deliver(env envelope.Envelope) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.evicted {
		return false
	}
	for sub := range t.subs {
		if sub.offer(env) {
			t.dropped.Add(1)
		}
	}
	if len(t.subs) > 0 {
		t.published.Add(1)
	}
	return true
}

// Subscribe attaches a new subscriber that observes every envelope published
// from now on. If the topic was evicted in the meantime the subscription is
// taken on the project's current topic instead.
func (t *Topic) Subscribe() *Subscription {
	if sub, ok := t.trySubscribe(); ok {
		return sub
	}
	return t.registry.Subscribe(t.projectID)
}

func (t *Topic) trySubscribe() (*Subscription, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.evicted {
		return nil, false
	}
	sub := &Subscription{
		topic: t,
		ch:    make(chan envelope.Envelope, t.capacity),
		done:  make(chan struct{}),
	}
	t.subs[sub] = struct{}{}
	return sub, true
}

// SubscriberCount returns the number of attached subscribers.
func (t *Topic) SubscriberCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

func (t *Topic) unsubscribe(sub *Subscription) {
	t.mu.Lock()
	delete(t.subs, sub)
	t.mu.Unlock()
}

// evictIfEmpty marks the topic dead when it has no subscribers. The caller
// holds the registry lock.
func (t *Topic) evictIfEmpty() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.subs) > 0 {
		return false
	}
	t.evicted = true
	return true
}

func (t *Topic) stats() TopicStats {
	return TopicStats{
		ProjectID:   t.projectID,
		Subscribers: t.SubscriberCount(),
		Published:   t.published.Load(),
		Dropped:     t.dropped.Load(),
	}
}

// Subscription is the receive side of a Topic held by one consumer.
// Its buffer is bounded; when it is full the oldest envelope is dropped to
// make room for the newest.
type Subscription struct {
	topic *Topic
	ch    chan envelope.Envelope

	done      chan struct{}
	closeOnce sync.Once
	dropped   atomic.Uint64
}

// offer enqueues env, evicting older envelopes while the buffer is full.
// It reports whether anything was dropped. Only the topic calls offer, and
// always under its lock, so there is a single sender.
func (s *Subscription) offer(env envelope.Envelope) bool {
	dropped := false
	for {
		select {
		case s.ch <- env:
			return dropped
		default:
		}
		select {
		case <-s.ch:
			s.dropped.Add(1)
			dropped = true
		default:
		}
	}
}

// C returns the channel envelopes are delivered on. It is never closed;
// select on Done as well.
func (s *Subscription) C() <-chan envelope.Envelope {
	return s.ch
}

// Done is closed once the subscription is closed.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Recv waits for the next envelope. It returns errors.ErrClosed after Close
// and the context's error when ctx ends first.
func (s *Subscription) Recv(ctx context.Context) (envelope.Envelope, error) {
	select {
	case env := <-s.ch:
		return env, nil
	case <-s.done:
		return nil, errors.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TakeDropped returns how many envelopes were dropped since the last call.
func (s *Subscription) TakeDropped() uint64 {
	return s.dropped.Swap(0)
}

// Topic returns the topic this subscription is attached to.
func (s *Subscription) Topic() *Topic {
	return s.topic
}

// Close detaches the subscription. Envelopes published afterwards are not
// delivered. Close is idempotent.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.topic.unsubscribe(s)
		close(s.done)
	})
}
