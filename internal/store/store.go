// Package store persists projects and their content: elements, the
// relationships between them, named views, and a change history.
//
// Two backends implement Store: an in-process Memory store and a Redis store.
// Every successful mutation appends one HistoryEntry per changed entity.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/agentstation/rddm/pkg/errors"
)

// Entity types recorded in history.
const (
	EntityProject      = "project"
	EntityElement      = "element"
	EntityRelationship = "relationship"
	EntityView         = "view"
)

// History actions.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// DefaultHistoryLimit is used when a history query sets no limit.
const DefaultHistoryLimit = 100

// MaxHistory is the number of entries retained per project.
const MaxHistory = 1000

// Project is the metadata record of a project. Content stored under a
// project id does not require a record.
type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description"`
	Version     int64     `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ProjectInput is the body of a project creation. ID is generated when
// empty.
type ProjectInput struct {
	ID          string  `json:"id,omitempty"`
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
}

// ProjectPatch is a partial project update. A non-zero Version must match
// the stored version.
type ProjectPatch struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Version     int64   `json:"version,omitempty"`
}

// Element is one typed item of a project. Geometry, properties and metadata
// are opaque documents owned by clients.
type Element struct {
	ID          string          `json:"id"`
	ProjectID   string          `json:"project_id"`
	ElementType string          `json:"element_type"`
	Geometry    json.RawMessage `json:"geometry"`
	Properties  json.RawMessage `json:"properties"`
	Metadata    json.RawMessage `json:"metadata"`
	Version     int64           `json:"version"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// ElementInput is the body of an element creation.
type ElementInput struct {
	ElementType string          `json:"element_type"`
	Geometry    json.RawMessage `json:"geometry,omitempty"`
	Properties  json.RawMessage `json:"properties,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}

// ElementPatch is a partial element update. Unset fields are left alone.
// A non-zero Version must match the stored version.
type ElementPatch struct {
	ElementType *string         `json:"element_type,omitempty"`
	Geometry    json.RawMessage `json:"geometry,omitempty"`
	Properties  json.RawMessage `json:"properties,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	Version     int64           `json:"version,omitempty"`
}

// Relationship is a typed edge between two elements of the same project.
type Relationship struct {
	ID               string          `json:"id"`
	ProjectID        string          `json:"project_id"`
	SourceID         string          `json:"source_id"`
	TargetID         string          `json:"target_id"`
	RelationshipType string          `json:"relationship_type"`
	Properties       json.RawMessage `json:"properties,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// RelationshipInput is the body of a relationship creation.
type RelationshipInput struct {
	SourceID         string          `json:"source_id"`
	TargetID         string          `json:"target_id"`
	RelationshipType string          `json:"relationship_type"`
	Properties       json.RawMessage `json:"properties,omitempty"`
}

// RelationshipPatch is a partial relationship update.
type RelationshipPatch struct {
	RelationshipType *string         `json:"relationship_type,omitempty"`
	Properties       json.RawMessage `json:"properties,omitempty"`
}

// View is the saved state of one named view of a project.
type View struct {
	ProjectID string          `json:"project_id"`
	ViewType  string          `json:"view_type"`
	State     json.RawMessage `json:"state"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// HistoryEntry records one committed change.
type HistoryEntry struct {
	ID         string          `json:"id"`
	ProjectID  string          `json:"project_id"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Action     string          `json:"action"`
	OldValue   json.RawMessage `json:"old_value,omitempty"`
	NewValue   json.RawMessage `json:"new_value,omitempty"`
	UserID     string          `json:"user_id"`
	Timestamp  time.Time       `json:"timestamp"`
}

// HistoryQuery filters a history read.
type HistoryQuery struct {
	// EntityID restricts results to one entity when set.
	EntityID string
	// Limit caps the number of entries; zero means DefaultHistoryLimit.
	Limit int
}

// ElementDeletion reports what an element removal took with it.
type ElementDeletion struct {
	Element       Element
	Relationships []Relationship
}

// Store is the persistence contract shared by all backends.
type Store interface {
	// ListProjects returns project records, most recently updated first.
	ListProjects(ctx context.Context) ([]Project, error)
	GetProject(ctx context.Context, id string) (Project, error)
	CreateProject(ctx context.Context, in ProjectInput) (Project, error)
	UpdateProject(ctx context.Context, id string, patch ProjectPatch) (Project, error)
	// DeleteProject removes the record only. The project's content stays.
	DeleteProject(ctx context.Context, id string) error

	ListElements(ctx context.Context, projectID string) ([]Element, error)
	GetElement(ctx context.Context, projectID, id string) (Element, error)
	CreateElement(ctx context.Context, projectID, userID string, in ElementInput) (Element, error)
	UpdateElement(ctx context.Context, projectID, id, userID string, patch ElementPatch) (Element, error)
	// DeleteElement removes the element and every relationship that
	// references it.
	DeleteElement(ctx context.Context, projectID, id, userID string) (ElementDeletion, error)

	ListRelationships(ctx context.Context, projectID string) ([]Relationship, error)
	GetRelationship(ctx context.Context, projectID, id string) (Relationship, error)
	CreateRelationship(ctx context.Context, projectID, userID string, in RelationshipInput) (Relationship, error)
	UpdateRelationship(ctx context.Context, projectID, id, userID string, patch RelationshipPatch) (Relationship, error)
	DeleteRelationship(ctx context.Context, projectID, id, userID string) error

	ListViews(ctx context.Context, projectID string) ([]View, error)
	GetView(ctx context.Context, projectID, viewType string) (View, error)
	PutView(ctx context.Context, projectID, viewType, userID string, state json.RawMessage) (View, error)

	// History returns entries newest first.
	History(ctx context.Context, projectID string, q HistoryQuery) ([]HistoryEntry, error)
	ClearHistory(ctx context.Context, projectID string) error

	Ping(ctx context.Context) error
	Close() error
}

var emptyObject = json.RawMessage(`{}`)

func now() time.Time {
	return time.Now().UTC()
}

func orEmpty(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" {
		return emptyObject
	}
	return raw
}

func validJSON(field string, raw json.RawMessage) error {
	if len(raw) > 0 && !json.Valid(raw) {
		return errors.NewValidationError(field, nil, "must be valid JSON")
	}
	return nil
}

func validateProject(projectID string) error {
	if projectID == "" {
		return errors.NewValidationError("project_id", nil, "cannot be empty")
	}
	return nil
}

func newProject(in ProjectInput) (Project, error) {
	if in.Name == "" {
		return Project{}, errors.NewValidationError("name", nil, "cannot be empty")
	}
	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}
	ts := now()
	return Project{
		ID:          id,
		Name:        in.Name,
		Description: in.Description,
		Version:     1,
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}, nil
}

// applyProjectPatch returns p with patch applied and its version bumped.
func applyProjectPatch(p Project, patch ProjectPatch) (Project, error) {
	if patch.Version != 0 && patch.Version != p.Version {
		return Project{}, errors.NewConflictError(EntityProject, p.ID, patch.Version, p.Version)
	}
	if patch.Name != nil {
		if *patch.Name == "" {
			return Project{}, errors.NewValidationError("name", nil, "cannot be empty")
		}
		p.Name = *patch.Name
	}
	if patch.Description != nil {
		p.Description = patch.Description
	}
	p.Version++
	p.UpdatedAt = now()
	return p, nil
}

func newElement(projectID string, in ElementInput) (Element, error) {
	if err := validateProject(projectID); err != nil {
		return Element{}, err
	}
	if in.ElementType == "" {
		return Element{}, errors.NewValidationError("element_type", nil, "cannot be empty")
	}
	for _, f := range []struct {
		name string
		raw  json.RawMessage
	}{{"geometry", in.Geometry}, {"properties", in.Properties}, {"metadata", in.Metadata}} {
		if err := validJSON(f.name, f.raw); err != nil {
			return Element{}, err
		}
	}

	ts := now()
	return Element{
		ID:          uuid.NewString(),
		ProjectID:   projectID,
		ElementType: in.ElementType,
		Geometry:    orEmpty(in.Geometry),
		Properties:  orEmpty(in.Properties),
		Metadata:    orEmpty(in.Metadata),
		Version:     1,
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}, nil
}

// applyElementPatch returns e with patch applied and its version bumped.
func applyElementPatch(e Element, patch ElementPatch) (Element, error) {
	if patch.Version != 0 && patch.Version != e.Version {
		return Element{}, errors.NewConflictError(EntityElement, e.ID, patch.Version, e.Version)
	}
	if patch.ElementType != nil {
		if *patch.ElementType == "" {
			return Element{}, errors.NewValidationError("element_type", nil, "cannot be empty")
		}
		e.ElementType = *patch.ElementType
	}
	if len(patch.Geometry) > 0 {
		if err := validJSON("geometry", patch.Geometry); err != nil {
			return Element{}, err
		}
		e.Geometry = patch.Geometry
	}
	if len(patch.Properties) > 0 {
		if err := validJSON("properties", patch.Properties); err != nil {
			return Element{}, err
		}
		e.Properties = patch.Properties
	}
	if len(patch.Metadata) > 0 {
		if err := validJSON("metadata", patch.Metadata); err != nil {
			return Element{}, err
		}
		e.Metadata = patch.Metadata
	}
	e.Version++
	e.UpdatedAt = now()
	return e, nil
}

func newRelationship(projectID string, in RelationshipInput) (Relationship, error) {
	if err := validateProject(projectID); err != nil {
		return Relationship{}, err
	}
	switch {
	case in.SourceID == "":
		return Relationship{}, errors.NewValidationError("source_id", nil, "cannot be empty")
	case in.TargetID == "":
		return Relationship{}, errors.NewValidationError("target_id", nil, "cannot be empty")
	case in.RelationshipType == "":
		return Relationship{}, errors.NewValidationError("relationship_type", nil, "cannot be empty")
	}
	if err := validJSON("properties", in.Properties); err != nil {
		return Relationship{}, err
	}

	ts := now()
	return Relationship{
		ID:               uuid.NewString(),
		ProjectID:        projectID,
		SourceID:         in.SourceID,
		TargetID:         in.TargetID,
		RelationshipType: in.RelationshipType,
		Properties:       orEmpty(in.Properties),
		CreatedAt:        ts,
		UpdatedAt:        ts,
	}, nil
}

func applyRelationshipPatch(r Relationship, patch RelationshipPatch) (Relationship, error) {
	if patch.RelationshipType != nil {
		if *patch.RelationshipType == "" {
			return Relationship{}, errors.NewValidationError("relationship_type", nil, "cannot be empty")
		}
		r.RelationshipType = *patch.RelationshipType
	}
	if len(patch.Properties) > 0 {
		if err := validJSON("properties", patch.Properties); err != nil {
			return Relationship{}, err
		}
		r.Properties = patch.Properties
	}
	r.UpdatedAt = now()
	return r, nil
}

func missingEndpoint(field, id string) error {
	return errors.NewValidationError(field, id, "element "+id+" does not exist in project")
}

func validateView(projectID, viewType string, state json.RawMessage) error {
	if err := validateProject(projectID); err != nil {
		return err
	}
	if viewType == "" {
		return errors.NewValidationError("view_type", nil, "cannot be empty")
	}
	if len(state) == 0 {
		return errors.NewValidationError("state", nil, "cannot be empty")
	}
	return validJSON("state", state)
}

// newHistory builds an entry for a change from old to new. Either side may
// be nil.
func newHistory(projectID, entityType, entityID, action, userID string, old, cur any) HistoryEntry {
	return HistoryEntry{
		ID:         uuid.NewString(),
		ProjectID:  projectID,
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		OldValue:   snapshot(old),
		NewValue:   snapshot(cur),
		UserID:     userID,
		Timestamp:  now(),
	}
}

func snapshot(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

func historyLimit(q HistoryQuery) int {
	if q.Limit <= 0 {
		return DefaultHistoryLimit
	}
	if q.Limit > MaxHistory {
		return MaxHistory
	}
	return q.Limit
}

// filterHistory keeps entries matching q from a newest-first slice.
func filterHistory(entries []HistoryEntry, q HistoryQuery) []HistoryEntry {
	limit := historyLimit(q)
	out := make([]HistoryEntry, 0, min(limit, len(entries)))
	for _, h := range entries {
		if q.EntityID != "" && h.EntityID != q.EntityID {
			continue
		}
		out = append(out, h)
		if len(out) == limit {
			break
		}
	}
	return out
}
