package events

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentstation/rddm/pkg/envelope"
)

// DefaultCapacity is the per-subscriber buffer size used when none is set.
const DefaultCapacity = 100

// Registry maps project ids to their topics. Topics are created on first
// subscription and evicted as soon as they have no subscribers left.
//
// The registry lock guards only the map and is never held across I/O. When
// both locks are needed the registry lock is taken first.
type Registry struct {
	mu       sync.Mutex
	topics   map[string]*Topic
	capacity int
	logger   *zerolog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithCapacity sets the buffer size of each subscription.
func WithCapacity(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.capacity = n
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zerolog.Logger, opts ...Option) *Registry {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	r := &Registry{
		topics:   make(map[string]*Topic),
		capacity: DefaultCapacity,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Capacity returns the per-subscription buffer size.
func (r *Registry) Capacity() int {
	return r.capacity
}

// GetOrCreate returns the project's topic, creating it if needed. Concurrent
// callers for the same project always receive the same topic.
func (r *Registry) GetOrCreate(projectID string) *Topic {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.topics[projectID]; ok {
		return t
	}
	t := newTopic(projectID, r.capacity, r)
	r.topics[projectID] = t
	r.logger.Info().
		Str("project_id", projectID).
		Int("topics", len(r.topics)).
		Msg("Topic created")
	return t
}

// Subscribe attaches a new subscriber to the project's topic, creating the
// topic if needed.
func (r *Registry) Subscribe(projectID string) *Subscription {
	for {
		if sub, ok := r.GetOrCreate(projectID).trySubscribe(); ok {
			return sub
		}
	}
}

// Lookup returns the project's topic without creating one.
func (r *Registry) Lookup(projectID string) (*Topic, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.topics[projectID]
	return t, ok
}

// Publish hands env to the project's topic. A project without a topic has
// no subscribers, so the envelope is discarded and no topic is created.
// Publish never blocks on subscribers.
func (r *Registry) Publish(projectID string, env envelope.Envelope) {
	for {
		t, ok := r.Lookup(projectID)
		if !ok {
			r.logger.Debug().
				Str("project_id", projectID).
				Str("kind", string(env.Kind())).
				Msg("No topic for project, envelope discarded")
			return
		}
		if t.deliver(env) {
			r.logger.Debug().
				Str("project_id", projectID).
				Str("kind", string(env.Kind())).
				Msg("Envelope published")
			return
		}
	}
}

// RemoveIfEmpty evicts the project's topic when it has no subscribers. The
// subscriber check and the removal happen under both locks, so a topic with
// an attached subscriber is never evicted.
func (r *Registry) RemoveIfEmpty(projectID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.topics[projectID]
	if !ok || !t.evictIfEmpty() {
		return false
	}
	delete(r.topics, projectID)
	r.logger.Info().
		Str("project_id", projectID).
		Int("topics", len(r.topics)).
		Msg("Topic evicted")
	return true
}

// Sweep evicts every topic that has no subscribers and returns how many
// were removed.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, t := range r.topics {
		if t.evictIfEmpty() {
			delete(r.topics, id)
			removed++
		}
	}
	if removed > 0 {
		r.logger.Info().
			Int("evicted", removed).
			Int("topics", len(r.topics)).
			Msg("Swept idle topics")
	}
	return removed
}

// Run sweeps idle topics every interval until ctx is cancelled.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("Topic registry sweeper stopped")
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Len returns the number of live topics.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.topics)
}

// TopicStats describes one live topic.
type TopicStats struct {
	ProjectID   string `json:"project_id"`
	Subscribers int    `json:"subscribers"`
	Published   uint64 `json:"published"`
	Dropped     uint64 `json:"dropped"`
}

// Stats is a point-in-time view of the registry.
type Stats struct {
	Topics      int          `json:"topics"`
	Subscribers int          `json:"subscribers"`
	Capacity    int          `json:"capacity"`
	Projects    []TopicStats `json:"projects"`
}

// Stats returns counters for every live topic, ordered by project id.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	topics := make([]*Topic, 0, len(r.topics))
	for _, t := range r.topics {
		topics = append(topics, t)
	}
	r.mu.Unlock()

	s := Stats{
		Topics:   len(topics),
		Capacity: r.capacity,
		Projects: make([]TopicStats, 0, len(topics)),
	}
	for _, t := range topics {
		ts := t.stats()
		s.Subscribers += ts.Subscribers
		s.Projects = append(s.Projects, ts)
	}
	sort.Slice(s.Projects, func(i, j int) bool {
		return s.Projects[i].ProjectID < s.Projects[j].ProjectID
	})
	return s
}
