// Package events is the real-time fan-out layer: a registry of per-project
// topics that deliver change envelopes to every live subscriber.
//
// Writers that commit a change call Publisher.Publish and return at once.
// Readers (WebSocket and SSE connections) hold a Subscription and drain it at
// their own pace; a reader that falls behind loses its oldest buffered
// envelopes instead of slowing anyone else down.
package events

import "github.com/agentstation/rddm/pkg/envelope"

// Publisher is the fire-and-forget entry point used by collaborators that
// commit changes. Delivery is best effort to whoever is subscribed at the
// time of the call.
type Publisher interface {
	Publish(projectID string, env envelope.Envelope)
}

// PublisherFunc adapts an ordinary function to the Publisher interface.
type PublisherFunc func(projectID string, env envelope.Envelope)

// Publish calls f(projectID, env).
func (f PublisherFunc) Publish(projectID string, env envelope.Envelope) {
	f(projectID, env)
}

// Discard is a Publisher that drops every envelope.
var Discard Publisher = PublisherFunc(func(string, envelope.Envelope) {})

var _ Publisher = (*Registry)(nil)
