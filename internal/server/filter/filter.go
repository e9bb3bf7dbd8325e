// Package filter parses list query parameters and applies them to store
// results.
package filter

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/agentstation/rddm/internal/store"
)

// Page bounds a list response.
type Page struct {
	Limit  int
	Offset int
}

// DefaultPageLimit caps list responses when no limit is given.
const DefaultPageLimit = 1000

func parsePage(r *http.Request) Page {
	q := r.URL.Query()
	p := Page{
		Limit:  parseIntOrDefault(q.Get("limit"), DefaultPageLimit),
		Offset: parseIntOrDefault(q.Get("offset"), 0),
	}
	if p.Limit <= 0 || p.Limit > DefaultPageLimit {
		p.Limit = DefaultPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// paginate returns the page of items and the unpaginated count.
func paginate[T any](items []T, p Page) ([]T, int) {
	total := len(items)
	if p.Offset >= total {
		return []T{}, total
	}
	items = items[p.Offset:]
	if len(items) > p.Limit {
		items = items[:p.Limit]
	}
	return items, total
}

// ElementFilter narrows an element listing.
type ElementFilter struct {
	// ElementType matches case-insensitively; comma-separated values match any.
	ElementTypes []string
	UpdatedAfter *time.Time
	Page
}

// ParseElementFilter extracts element filter parameters from the request.
func ParseElementFilter(r *http.Request) ElementFilter {
	q := r.URL.Query()
	f := ElementFilter{Page: parsePage(r)}
	if types := q.Get("element_type"); types != "" {
		f.ElementTypes = strings.Split(types, ",")
	}
	if after := q.Get("updated_after"); after != "" {
		if t, err := time.Parse(time.RFC3339, after); err == nil {
			f.UpdatedAfter = &t
		}
	}
	return f
}

// Apply returns the requested page of matching elements and the number of
// matches.
func (f ElementFilter) Apply(elements []store.Element) ([]store.Element, int) {
	results := make([]store.Element, 0, len(elements))
	for _, e := range elements {
		if len(f.ElementTypes) > 0 && !containsFold(f.ElementTypes, e.ElementType) {
			continue
		}
		if f.UpdatedAfter != nil && !e.UpdatedAt.After(*f.UpdatedAfter) {
			continue
		}
		results = append(results, e)
	}
	return paginate(results, f.Page)
}

// RelationshipFilter narrows a relationship listing.
type RelationshipFilter struct {
	SourceID          string
	TargetID          string
	ElementID         string // either endpoint
	RelationshipTypes []string
	Page
}

// ParseRelationshipFilter extracts relationship filter parameters from the
// request.
func ParseRelationshipFilter(r *http.Request) RelationshipFilter {
	q := r.URL.Query()
	f := RelationshipFilter{
		SourceID:  q.Get("source_id"),
		TargetID:  q.Get("target_id"),
		ElementID: q.Get("element_id"),
		Page:      parsePage(r),
	}
	if types := q.Get("relationship_type"); types != "" {
		f.RelationshipTypes = strings.Split(types, ",")
	}
	return f
}

// Apply returns the requested page of matching relationships and the
// number of matches.
func (f RelationshipFilter) Apply(rels []store.Relationship) ([]store.Relationship, int) {
	results := make([]store.Relationship, 0, len(rels))
	for _, r := range rels {
		if f.SourceID != "" && r.SourceID != f.SourceID {
			continue
		}
		if f.TargetID != "" && r.TargetID != f.TargetID {
			continue
		}
		if f.ElementID != "" && r.SourceID != f.ElementID && r.TargetID != f.ElementID {
			continue
		}
		if len(f.RelationshipTypes) > 0 && !containsFold(f.RelationshipTypes, r.RelationshipType) {
			continue
		}
		results = append(results, r)
	}
	return paginate(results, f.Page)
}

// HistoryFilter narrows a history listing. EntityID and Limit are pushed
// down to the store; the rest is applied to its result.
type HistoryFilter struct {
	EntityID   string
	EntityType string
	Action     string
	Limit      int
}

// ParseHistoryFilter extracts history filter parameters from the request.
func ParseHistoryFilter(r *http.Request) HistoryFilter {
	q := r.URL.Query()
	return HistoryFilter{
		EntityID:   q.Get("entity_id"),
		EntityType: q.Get("entity_type"),
		Action:     q.Get("action"),
		Limit:      parseIntOrDefault(q.Get("limit"), store.DefaultHistoryLimit),
	}
}

// Query returns the store query for the filter.
func (f HistoryFilter) Query() store.HistoryQuery {
	return store.HistoryQuery{EntityID: f.EntityID, Limit: f.Limit}
}

// Apply drops entries that do not match the entity type or action.
func (f HistoryFilter) Apply(entries []store.HistoryEntry) []store.HistoryEntry {
	if f.EntityType == "" && f.Action == "" {
		return entries
	}
	results := make([]store.HistoryEntry, 0, len(entries))
	for _, h := range entries {
		if f.EntityType != "" && !strings.EqualFold(h.EntityType, f.EntityType) {
			continue
		}
		if f.Action != "" && !strings.EqualFold(h.Action, f.Action) {
			continue
		}
		results = append(results, h)
	}
	return results
}

// containsFold reports whether values contains s, ignoring case.
func containsFold(values []string, s string) bool {
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), s) {
			return true
		}
	}
	return false
}

// parseIntOrDefault parses an integer or returns default.
func parseIntOrDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if i, err := strconv.Atoi(s); err == nil {
		return i
	}
	return def
}
