// Package envelope defines the change events that flow through the real-time
// fan-out layer and their JSON wire format.
//
// An Envelope is an immutable value describing one committed change to a
// project: an element or relationship that was written or removed, or a view
// whose state changed. The set of kinds is closed; every kind is a concrete
// struct in this package and the Envelope interface cannot be implemented
// elsewhere.
//
// The payload carried by update kinds is the serialized state of the domain
// entity. It is kept as raw JSON and is never inspected by the fan-out layer.
//
// Wire format (text frames):
//
//	{"type":"ElementUpdate","payload":{"id":"e1","project_id":"p1","payload":{"x":1},"timestamp":"2024-01-01T00:00:00Z","user_id":"u1"}}
package envelope

import (
	"encoding/json"
	"time"
)

// Kind is the discriminator of an Envelope on the wire.
type Kind string

// Envelope kinds.
const (
	KindElementUpdate      Kind = "ElementUpdate"
	KindElementDelete      Kind = "ElementDelete"
	KindRelationshipUpdate Kind = "RelationshipUpdate"
	KindRelationshipDelete Kind = "RelationshipDelete"
	KindViewUpdate         Kind = "ViewUpdate"
)

// Kinds returns every known kind in declaration order.
func Kinds() []Kind {
	return []Kind{
		KindElementUpdate,
		KindElementDelete,
		KindRelationshipUpdate,
		KindRelationshipDelete,
		KindViewUpdate,
	}
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindElementUpdate, KindElementDelete, KindRelationshipUpdate, KindRelationshipDelete, KindViewUpdate:
		return true
	}
	return false
}

// Envelope is one change event. The unexported method closes the set of
// implementations to the types declared in this package.
type Envelope interface {
	// Kind returns the wire discriminator.
	Kind() Kind
	// Project returns the project the change belongs to.
	Project() string
	// Validate checks that the identifying fields are present.
	Validate() error

	envelope()
}

// ElementUpdate announces that an element was created or modified.
type ElementUpdate struct {
	ID        string          `json:"id"`
	ProjectID string          `json:"project_id"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp string          `json:"timestamp"`
	UserID    string          `json:"user_id"`
}

// ElementDelete announces that an element was removed.
type ElementDelete struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Timestamp string `json:"timestamp"`
	UserID    string `json:"user_id"`
}

// RelationshipUpdate announces that a relationship was created or modified.
type RelationshipUpdate struct {
	ID        string          `json:"id"`
	ProjectID string          `json:"project_id"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp string          `json:"timestamp"`
	UserID    string          `json:"user_id"`
}

// RelationshipDelete announces that a relationship was removed.
type RelationshipDelete struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Timestamp string `json:"timestamp"`
	UserID    string `json:"user_id"`
}

// ViewUpdate announces a new state for one of a project's named views.
type ViewUpdate struct {
	ProjectID string          `json:"project_id"`
	ViewType  string          `json:"view_type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp string          `json:"timestamp"`
	UserID    string          `json:"user_id"`
}

func (ElementUpdate) Kind() Kind      { return KindElementUpdate }
func (ElementDelete) Kind() Kind      { return KindElementDelete }
func (RelationshipUpdate) Kind() Kind { return KindRelationshipUpdate }
func (RelationshipDelete) Kind() Kind { return KindRelationshipDelete }
func (ViewUpdate) Kind() Kind         { return KindViewUpdate }

func (e ElementUpdate) Project() string      { return e.ProjectID }
func (e ElementDelete) Project() string      { return e.ProjectID }
func (e RelationshipUpdate) Project() string { return e.ProjectID }
func (e RelationshipDelete) Project() string { return e.ProjectID }
func (e ViewUpdate) Project() string         { return e.ProjectID }

func (ElementUpdate) envelope()      {}
func (ElementDelete) envelope()      {}
func (RelationshipUpdate) envelope() {}
func (RelationshipDelete) envelope() {}
func (ViewUpdate) envelope()         {}

// Validate implements Envelope.
func (e ElementUpdate) Validate() error {
	return requireFields(e.Kind(), field{"id", e.ID}, field{"project_id", e.ProjectID})
}

// Validate implements Envelope.
func (e ElementDelete) Validate() error {
	return requireFields(e.Kind(), field{"id", e.ID}, field{"project_id", e.ProjectID})
}

// Validate implements Envelope.
func (e RelationshipUpdate) Validate() error {
	return requireFields(e.Kind(), field{"id", e.ID}, field{"project_id", e.ProjectID})
}

// Validate implements Envelope.
func (e RelationshipDelete) Validate() error {
	return requireFields(e.Kind(), field{"id", e.ID}, field{"project_id", e.ProjectID})
}

// Validate implements Envelope.
func (e ViewUpdate) Validate() error {
	return requireFields(e.Kind(), field{"project_id", e.ProjectID}, field{"view_type", e.ViewType})
}

// Now returns the current time in the wire timestamp format.
func Now() string {
	return FormatTime(time.Now())
}

// FormatTime renders t as an ISO-8601 (RFC 3339) UTC timestamp.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ErrorFrame is the only server-to-client frame that is not an Envelope. It is
// written back to a client whose frame could not be decoded.
type ErrorFrame struct {
	Error string `json:"error"`
}
