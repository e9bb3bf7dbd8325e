package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/agentstation/rddm/pkg/errors"
)

// Memory is an in-process Store. It is safe for concurrent use and loses
// everything on restart.
type Memory struct {
	mu       sync.RWMutex
	records  map[string]Project
	projects map[string]*memProject
}

type memProject struct {
	elements      map[string]Element
	relationships map[string]Relationship
	views         map[string]View
	history       []HistoryEntry // oldest first
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		records:  make(map[string]Project),
		projects: make(map[string]*memProject),
	}
}

// project returns the project's state, creating it when create is set.
// The caller holds m.mu.
func (m *Memory) project(projectID string, create bool) *memProject {
	p, ok := m.projects[projectID]
	if !ok && create {
		p = &memProject{
			elements:      make(map[string]Element),
			relationships: make(map[string]Relationship),
			views:         make(map[string]View),
		}
		m.projects[projectID] = p
	}
	return p
}

func (p *memProject) record(entries ...HistoryEntry) {
	p.history = append(p.history, entries...)
	if over := len(p.history) - MaxHistory; over > 0 {
		p.history = append([]HistoryEntry(nil), p.history[over:]...)
	}
}

// ListProjects returns project records, most recently updated first.
func (m *Memory) ListProjects(context.Context) ([]Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Project, 0, len(m.records))
	for _, p := range m.records {
		out = append(out, p)
	}
	sortProjects(out)
	return out, nil
}

// GetProject returns one project record.
func (m *Memory) GetProject(_ context.Context, id string) (Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if p, ok := m.records[id]; ok {
		return p, nil
	}
	return Project{}, errors.NewNotFoundError(EntityProject, id)
}

// CreateProject stores a new record at version 1.
func (m *Memory) CreateProject(_ context.Context, in ProjectInput) (Project, error) {
	p, err := newProject(in)
	if err != nil {
		return Project{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[p.ID]; ok {
		return Project{}, errors.NewAlreadyExistsError(EntityProject, p.ID)
	}
	m.records[p.ID] = p
	return p, nil
}

// UpdateProject applies patch and bumps the version.
func (m *Memory) UpdateProject(_ context.Context, id string, patch ProjectPatch) (Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.records[id]
	if !ok {
		return Project{}, errors.NewNotFoundError(EntityProject, id)
	}
	p, err := applyProjectPatch(old, patch)
	if err != nil {
		return Project{}, err
	}
	m.records[id] = p
	return p, nil
}

// DeleteProject removes a project record.
func (m *Memory) DeleteProject(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[id]; !ok {
		return errors.NewNotFoundError(EntityProject, id)
	}
	delete(m.records, id)
	return nil
}

// ListElements returns the project's elements in creation order.
func (m *Memory) ListElements(_ context.Context, projectID string) ([]Element, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p := m.project(projectID, false)
	if p == nil {
		return []Element{}, nil
	}
	out := make([]Element, 0, len(p.elements))
	for _, e := range p.elements {
		out = append(out, e)
	}
	sortElements(out)
	return out, nil
}

// GetElement returns one element.
func (m *Memory) GetElement(_ context.Context, projectID, id string) (Element, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if p := m.project(projectID, false); p != nil {
		if e, ok := p.elements[id]; ok {
			return e, nil
		}
	}
	return Element{}, errors.NewNotFoundError(EntityElement, id)
}

// CreateElement stores a new element at version 1.
func (m *Memory) CreateElement(_ context.Context, projectID, userID string, in ElementInput) (Element, error) {
	e, err := newElement(projectID, in)
	if err != nil {
		return Element{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.project(projectID, true)
	p.elements[e.ID] = e
	p.record(newHistory(projectID, EntityElement, e.ID, ActionCreate, userID, nil, e))
	return e, nil
}

// UpdateElement applies patch, enforcing the expected version when set.
func (m *Memory) UpdateElement(_ context.Context, projectID, id, userID string, patch ElementPatch) (Element, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.project(projectID, false)
	if p == nil {
		return Element{}, errors.NewNotFoundError(EntityElement, id)
	}
	old, ok := p.elements[id]
	if !ok {
		return Element{}, errors.NewNotFoundError(EntityElement, id)
	}
	e, err := applyElementPatch(old, patch)
	if err != nil {
		return Element{}, err
	}
	p.elements[id] = e
	p.record(newHistory(projectID, EntityElement, id, ActionUpdate, userID, old, e))
	return e, nil
}

// DeleteElement removes the element and the relationships attached to it.
func (m *Memory) DeleteElement(_ context.Context, projectID, id, userID string) (ElementDeletion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.project(projectID, false)
	if p == nil {
		return ElementDeletion{}, errors.NewNotFoundError(EntityElement, id)
	}
	e, ok := p.elements[id]
	if !ok {
		return ElementDeletion{}, errors.NewNotFoundError(EntityElement, id)
	}

	del := ElementDeletion{Element: e, Relationships: []Relationship{}}
	for rid, r := range p.relationships {
		if r.SourceID == id || r.TargetID == id {
			del.Relationships = append(del.Relationships, r)
			delete(p.relationships, rid)
		}
	}
	sortRelationships(del.Relationships)
	delete(p.elements, id)

	p.record(newHistory(projectID, EntityElement, id, ActionDelete, userID, e, nil))
	for _, r := range del.Relationships {
		p.record(newHistory(projectID, EntityRelationship, r.ID, ActionDelete, userID, r, nil))
	}
	return del, nil
}

// ListRelationships returns the project's relationships in creation order.
func (m *Memory) ListRelationships(_ context.Context, projectID string) ([]Relationship, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p := m.project(projectID, false)
	if p == nil {
		return []Relationship{}, nil
	}
	out := make([]Relationship, 0, len(p.relationships))
	for _, r := range p.relationships {
		out = append(out, r)
	}
	sortRelationships(out)
	return out, nil
}

// GetRelationship returns one relationship.
func (m *Memory) GetRelationship(_ context.Context, projectID, id string) (Relationship, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if p := m.project(projectID, false); p != nil {
		if r, ok := p.relationships[id]; ok {
			return r, nil
		}
	}
	return Relationship{}, errors.NewNotFoundError(EntityRelationship, id)
}

// CreateRelationship stores a new relationship between two existing elements.
func (m *Memory) CreateRelationship(_ context.Context, projectID, userID string, in RelationshipInput) (Relationship, error) {
	r, err := newRelationship(projectID, in)
	if err != nil {
		return Relationship{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.project(projectID, false)
	if p == nil {
		return Relationship{}, missingEndpoint("source_id", r.SourceID)
	}
	if _, ok := p.elements[r.SourceID]; !ok {
		return Relationship{}, missingEndpoint("source_id", r.SourceID)
	}
	if _, ok := p.elements[r.TargetID]; !ok {
		return Relationship{}, missingEndpoint("target_id", r.TargetID)
	}
	p.relationships[r.ID] = r
	p.record(newHistory(projectID, EntityRelationship, r.ID, ActionCreate, userID, nil, r))
	return r, nil
}

// UpdateRelationship applies patch to an existing relationship.
func (m *Memory) UpdateRelationship(_ context.Context, projectID, id, userID string, patch RelationshipPatch) (Relationship, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.project(projectID, false)
	if p == nil {
		return Relationship{}, errors.NewNotFoundError(EntityRelationship, id)
	}
	old, ok := p.relationships[id]
	if !ok {
		return Relationship{}, errors.NewNotFoundError(EntityRelationship, id)
	}
	r, err := applyRelationshipPatch(old, patch)
	if err != nil {
		return Relationship{}, err
	}
	p.relationships[id] = r
	p.record(newHistory(projectID, EntityRelationship, id, ActionUpdate, userID, old, r))
	return r, nil
}

// DeleteRelationship removes one relationship.
func (m *Memory) DeleteRelationship(_ context.Context, projectID, id, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.project(projectID, false)
	if p == nil {
		return errors.NewNotFoundError(EntityRelationship, id)
	}
	r, ok := p.relationships[id]
	if !ok {
		return errors.NewNotFoundError(EntityRelationship, id)
	}
	delete(p.relationships, id)
	p.record(newHistory(projectID, EntityRelationship, id, ActionDelete, userID, r, nil))
	return nil
}

// ListViews returns the project's views ordered by view type.
func (m *Memory) ListViews(_ context.Context, projectID string) ([]View, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p := m.project(projectID, false)
	if p == nil {
		return []View{}, nil
	}
	out := make([]View, 0, len(p.views))
	for _, v := range p.views {
		out = append(out, v)
	}
	sortViews(out)
	return out, nil
}

// GetView returns one view.
func (m *Memory) GetView(_ context.Context, projectID, viewType string) (View, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if p := m.project(projectID, false); p != nil {
		if v, ok := p.views[viewType]; ok {
			return v, nil
		}
	}
	return View{}, errors.NewNotFoundError(EntityView, viewType)
}

// PutView creates or replaces a view's state.
func (m *Memory) PutView(_ context.Context, projectID, viewType, userID string, state json.RawMessage) (View, error) {
	if err := validateView(projectID, viewType, state); err != nil {
		return View{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.project(projectID, true)
	old, existed := p.views[viewType]
	v := putView(old, existed, projectID, viewType, state)
	p.views[viewType] = v

	if existed {
		p.record(newHistory(projectID, EntityView, viewType, ActionUpdate, userID, old, v))
	} else {
		p.record(newHistory(projectID, EntityView, viewType, ActionCreate, userID, nil, v))
	}
	return v, nil
}

// History returns the project's entries newest first.
func (m *Memory) History(_ context.Context, projectID string, q HistoryQuery) ([]HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p := m.project(projectID, false)
	if p == nil {
		return []HistoryEntry{}, nil
	}
	newestFirst := make([]HistoryEntry, len(p.history))
	for i, h := range p.history {
		newestFirst[len(p.history)-1-i] = h
	}
	return filterHistory(newestFirst, q), nil
}

// ClearHistory drops every history entry of the project.
func (m *Memory) ClearHistory(_ context.Context, projectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p := m.project(projectID, false); p != nil {
		p.history = nil
	}
	return nil
}

// Ping always succeeds.
func (m *Memory) Ping(context.Context) error { return nil }

// Close is a no-op.
func (m *Memory) Close() error { return nil }

func putView(old View, existed bool, projectID, viewType string, state json.RawMessage) View {
	ts := now()
	v := View{
		ProjectID: projectID,
		ViewType:  viewType,
		State:     state,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
	if existed {
		v.CreatedAt = old.CreatedAt
	}
	return v
}

func sortProjects(ps []Project) {
	sort.Slice(ps, func(i, j int) bool {
		if !ps[i].UpdatedAt.Equal(ps[j].UpdatedAt) {
			return ps[i].UpdatedAt.After(ps[j].UpdatedAt)
		}
		return ps[i].ID < ps[j].ID
	})
}

func sortElements(es []Element) {
	sort.Slice(es, func(i, j int) bool {
		if !es[i].CreatedAt.Equal(es[j].CreatedAt) {
			return es[i].CreatedAt.Before(es[j].CreatedAt)
		}
		return es[i].ID < es[j].ID
	})
}

func sortRelationships(rs []Relationship) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].CreatedAt.Equal(rs[j].CreatedAt) {
			return rs[i].CreatedAt.Before(rs[j].CreatedAt)
		}
		return rs[i].ID < rs[j].ID
	})
}

func sortViews(vs []View) {
	sort.Slice(vs, func(i, j int) bool {
		return vs[i].ViewType < vs[j].ViewType
	})
}
