package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/agentstation/rddm/pkg/errors"
)

// maxTxRetries bounds optimistic transaction retries when watched keys
// change underneath a write.
const maxTxRetries = 8

// Redis key pattern helpers
//
// Every key is namespaced so several deployments can share one server.
// Key pattern: rddm:{namespace}:{project_id}:{collection}
// Project records live in one hash: rddm:{namespace}:projects

func projectsKey(ns string) string {
	return fmt.Sprintf("rddm:%s:projects", ns)
}

func elementsKey(ns, projectID string) string {
	return fmt.Sprintf("rddm:%s:%s:elements", ns, projectID)
}

func relationshipsKey(ns, projectID string) string {
	return fmt.Sprintf("rddm:%s:%s:relationships", ns, projectID)
}

func viewsKey(ns, projectID string) string {
	return fmt.Sprintf("rddm:%s:%s:views", ns, projectID)
}

func historyKey(ns, projectID string) string {
	return fmt.Sprintf("rddm:%s:%s:history", ns, projectID)
}

// Redis is a Store backed by Redis hashes (one per project and collection,
// keyed by entity id) and a capped history list. Writes that depend on
// existing state run in WATCH/MULTI transactions.
type Redis struct {
	rdb       *redis.Client
	namespace string
}

var _ Store = (*Redis)(nil)

// NewRedis connects a store to the server described by opts. Keys are
// namespaced with namespace, which must not be empty.
func NewRedis(opts *redis.Options, namespace string) (*Redis, error) {
	if namespace == "" {
		return nil, errors.NewConfigError("store", "redis namespace cannot be empty", nil)
	}
	return &Redis{
		rdb:       redis.NewClient(opts),
		namespace: namespace,
	}, nil
}

// Ping verifies Redis connectivity.
func (s *Redis) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *Redis) Close() error {
	return s.rdb.Close()
}

// transact runs fn under WATCH on keys, retrying when another client
// changed a watched key before EXEC.
func (s *Redis) transact(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	var err error
	for i := 0; i < maxTxRetries; i++ {
		err = s.rdb.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("transaction on %v kept conflicting: %w", keys, err)
}

func (s *Redis) pushHistory(ctx context.Context, pipe redis.Pipeliner, projectID string, entries ...HistoryEntry) error {
	values := make([]any, 0, len(entries))
	for _, h := range entries {
		data, err := json.Marshal(h)
		if err != nil {
			return fmt.Errorf("encoding history entry: %w", err)
		}
		values = append(values, data)
	}
	key := historyKey(s.namespace, projectID)
	pipe.LPush(ctx, key, values...)
	pipe.LTrim(ctx, key, 0, MaxHistory-1)
	return nil
}

// hashReader is satisfied by both *redis.Client and *redis.Tx.
type hashReader interface {
	HGet(ctx context.Context, key, field string) *redis.StringCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

func getJSON[T any](ctx context.Context, c hashReader, key, field string) (T, bool, error) {
	var v T
	data, err := c.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return v, false, nil
	}
	if err != nil {
		return v, false, err
	}
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return v, false, fmt.Errorf("decoding %s %s: %w", key, field, err)
	}
	return v, true, nil
}

func getAllJSON[T any](ctx context.Context, c hashReader, key string) ([]T, error) {
	m, err := c.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(m))
	for _, data := range m {
		var v T
		if err := json.Unmarshal([]byte(data), &v); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", key, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func mustJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding %T: %w", v, err)
	}
	return data, nil
}

// ListProjects returns project records, most recently updated first.
func (s *Redis) ListProjects(ctx context.Context) ([]Project, error) {
	out, err := getAllJSON[Project](ctx, s.rdb, projectsKey(s.namespace))
	if err != nil {
		return nil, errors.WrapResource("list", EntityProject, "", err)
	}
	sortProjects(out)
	return out, nil
}

// GetProject returns one project record.
func (s *Redis) GetProject(ctx context.Context, id string) (Project, error) {
	p, ok, err := getJSON[Project](ctx, s.rdb, projectsKey(s.namespace), id)
	if err != nil {
		return Project{}, errors.WrapResource("fetch", EntityProject, id, err)
	}
	if !ok {
		return Project{}, errors.NewNotFoundError(EntityProject, id)
	}
	return p, nil
}

// CreateProject stores a new record at version 1. HSETNX keeps a
// client-chosen id from overwriting an existing record.
func (s *Redis) CreateProject(ctx context.Context, in ProjectInput) (Project, error) {
	p, err := newProject(in)
	if err != nil {
		return Project{}, err
	}
	data, err := mustJSON(p)
	if err != nil {
		return Project{}, err
	}

	created, err := s.rdb.HSetNX(ctx, projectsKey(s.namespace), p.ID, data).Result()
	if err != nil {
		return Project{}, errors.WrapResource("create", EntityProject, p.ID, err)
	}
	if !created {
		return Project{}, errors.NewAlreadyExistsError(EntityProject, p.ID)
	}
	return p, nil
}

// UpdateProject applies patch and bumps the version in one optimistic
// transaction.
func (s *Redis) UpdateProject(ctx context.Context, id string, patch ProjectPatch) (Project, error) {
	key := projectsKey(s.namespace)

	var updated Project
	err := s.transact(ctx, func(tx *redis.Tx) error {
		old, ok, err := getJSON[Project](ctx, tx, key, id)
		if err != nil {
			return err
		}
		if !ok {
			return errors.NewNotFoundError(EntityProject, id)
		}
		p, err := applyProjectPatch(old, patch)
		if err != nil {
			return err
		}
		data, err := mustJSON(p)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, id, data)
			return nil
		})
		if err == nil {
			updated = p
		}
		return err
	}, key)
	if err != nil {
		return Project{}, wrapUnlessTyped("update", EntityProject, id, err)
	}
	return updated, nil
}

// DeleteProject removes a project record.
func (s *Redis) DeleteProject(ctx context.Context, id string) error {
	n, err := s.rdb.HDel(ctx, projectsKey(s.namespace), id).Result()
	if err != nil {
		return errors.WrapResource("delete", EntityProject, id, err)
	}
	if n == 0 {
		return errors.NewNotFoundError(EntityProject, id)
	}
	return nil
}

// ListElements returns the project's elements in creation order.
func (s *Redis) ListElements(ctx context.Context, projectID string) ([]Element, error) {
	out, err := getAllJSON[Element](ctx, s.rdb, elementsKey(s.namespace, projectID))
	if err != nil {
		return nil, errors.WrapResource("list", EntityElement, "", err)
	}
	sortElements(out)
	return out, nil
}

// GetElement returns one element.
func (s *Redis) GetElement(ctx context.Context, projectID, id string) (Element, error) {
	e, ok, err := getJSON[Element](ctx, s.rdb, elementsKey(s.namespace, projectID), id)
	if err != nil {
		return Element{}, errors.WrapResource("fetch", EntityElement, id, err)
	}
	if !ok {
		return Element{}, errors.NewNotFoundError(EntityElement, id)
	}
	return e, nil
}

// CreateElement stores a new element at version 1.
func (s *Redis) CreateElement(ctx context.Context, projectID, userID string, in ElementInput) (Element, error) {
	e, err := newElement(projectID, in)
	if err != nil {
		return Element{}, err
	}
	data, err := mustJSON(e)
	if err != nil {
		return Element{}, err
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, elementsKey(s.namespace, projectID), e.ID, data)
		return s.pushHistory(ctx, pipe, projectID,
			newHistory(projectID, EntityElement, e.ID, ActionCreate, userID, nil, e))
	})
	if err != nil {
		return Element{}, errors.WrapResource("create", EntityElement, e.ID, err)
	}
	return e, nil
}

// UpdateElement applies patch, enforcing the expected version when set.
// The version check and the write happen in one optimistic transaction.
func (s *Redis) UpdateElement(ctx context.Context, projectID, id, userID string, patch ElementPatch) (Element, error) {
	key := elementsKey(s.namespace, projectID)

	var updated Element
	err := s.transact(ctx, func(tx *redis.Tx) error {
		old, ok, err := getJSON[Element](ctx, tx, key, id)
		if err != nil {
			return err
		}
		if !ok {
			return errors.NewNotFoundError(EntityElement, id)
		}
		e, err := applyElementPatch(old, patch)
		if err != nil {
			return err
		}
		data, err := mustJSON(e)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, id, data)
			return s.pushHistory(ctx, pipe, projectID,
				newHistory(projectID, EntityElement, id, ActionUpdate, userID, old, e))
		})
		if err == nil {
			updated = e
		}
		return err
	}, key)
	if err != nil {
		return Element{}, wrapUnlessTyped("update", EntityElement, id, err)
	}
	return updated, nil
}

// DeleteElement removes the element and the relationships attached to it.
func (s *Redis) DeleteElement(ctx context.Context, projectID, id, userID string) (ElementDeletion, error) {
	eKey := elementsKey(s.namespace, projectID)
	rKey := relationshipsKey(s.namespace, projectID)

	var del ElementDeletion
	err := s.transact(ctx, func(tx *redis.Tx) error {
		e, ok, err := getJSON[Element](ctx, tx, eKey, id)
		if err != nil {
			return err
		}
		if !ok {
			return errors.NewNotFoundError(EntityElement, id)
		}
		rels, err := getAllJSON[Relationship](ctx, tx, rKey)
		if err != nil {
			return err
		}

		attached := []Relationship{}
		for _, r := range rels {
			if r.SourceID == id || r.TargetID == id {
				attached = append(attached, r)
			}
		}
		sortRelationships(attached)

		entries := []HistoryEntry{newHistory(projectID, EntityElement, id, ActionDelete, userID, e, nil)}
		for _, r := range attached {
			entries = append(entries, newHistory(projectID, EntityRelationship, r.ID, ActionDelete, userID, r, nil))
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HDel(ctx, eKey, id)
			for _, r := range attached {
				pipe.HDel(ctx, rKey, r.ID)
			}
			return s.pushHistory(ctx, pipe, projectID, entries...)
		})
		if err == nil {
			del = ElementDeletion{Element: e, Relationships: attached}
		}
		return err
	}, eKey, rKey)
	if err != nil {
		return ElementDeletion{}, wrapUnlessTyped("delete", EntityElement, id, err)
	}
	return del, nil
}

// ListRelationships returns the project's relationships in creation order.
func (s *Redis) ListRelationships(ctx context.Context, projectID string) ([]Relationship, error) {
	out, err := getAllJSON[Relationship](ctx, s.rdb, relationshipsKey(s.namespace, projectID))
	if err != nil {
		return nil, errors.WrapResource("list", EntityRelationship, "", err)
	}
	sortRelationships(out)
	return out, nil
}

// GetRelationship returns one relationship.
func (s *Redis) GetRelationship(ctx context.Context, projectID, id string) (Relationship, error) {
	r, ok, err := getJSON[Relationship](ctx, s.rdb, relationshipsKey(s.namespace, projectID), id)
	if err != nil {
		return Relationship{}, errors.WrapResource("fetch", EntityRelationship, id, err)
	}
	if !ok {
		return Relationship{}, errors.NewNotFoundError(EntityRelationship, id)
	}
	return r, nil
}

// CreateRelationship stores a new relationship between two existing
// elements. The endpoint check is guarded against concurrent deletes.
func (s *Redis) CreateRelationship(ctx context.Context, projectID, userID string, in RelationshipInput) (Relationship, error) {
	r, err := newRelationship(projectID, in)
	if err != nil {
		return Relationship{}, err
	}
	data, err := mustJSON(r)
	if err != nil {
		return Relationship{}, err
	}
	eKey := elementsKey(s.namespace, projectID)

	err = s.transact(ctx, func(tx *redis.Tx) error {
		for _, end := range []struct{ field, id string }{{"source_id", r.SourceID}, {"target_id", r.TargetID}} {
			ok, err := tx.HExists(ctx, eKey, end.id).Result()
			if err != nil {
				return err
			}
			if !ok {
				return missingEndpoint(end.field, end.id)
			}
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, relationshipsKey(s.namespace, projectID), r.ID, data)
			return s.pushHistory(ctx, pipe, projectID,
				newHistory(projectID, EntityRelationship, r.ID, ActionCreate, userID, nil, r))
		})
		return err
	}, eKey)
	if err != nil {
		return Relationship{}, wrapUnlessTyped("create", EntityRelationship, r.ID, err)
	}
	return r, nil
}

// UpdateRelationship applies patch to an existing relationship.
func (s *Redis) UpdateRelationship(ctx context.Context, projectID, id, userID string, patch RelationshipPatch) (Relationship, error) {
	key := relationshipsKey(s.namespace, projectID)

	var updated Relationship
	err := s.transact(ctx, func(tx *redis.Tx) error {
		old, ok, err := getJSON[Relationship](ctx, tx, key, id)
		if err != nil {
			return err
		}
		if !ok {
			return errors.NewNotFoundError(EntityRelationship, id)
		}
		r, err := applyRelationshipPatch(old, patch)
		if err != nil {
			return err
		}
		data, err := mustJSON(r)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, id, data)
			return s.pushHistory(ctx, pipe, projectID,
				newHistory(projectID, EntityRelationship, id, ActionUpdate, userID, old, r))
		})
		if err == nil {
			updated = r
		}
		return err
	}, key)
	if err != nil {
		return Relationship{}, wrapUnlessTyped("update", EntityRelationship, id, err)
	}
	return updated, nil
}

// DeleteRelationship removes one relationship.
func (s *Redis) DeleteRelationship(ctx context.Context, projectID, id, userID string) error {
	key := relationshipsKey(s.namespace, projectID)

	err := s.transact(ctx, func(tx *redis.Tx) error {
		r, ok, err := getJSON[Relationship](ctx, tx, key, id)
		if err != nil {
			return err
		}
		if !ok {
			return errors.NewNotFoundError(EntityRelationship, id)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HDel(ctx, key, id)
			return s.pushHistory(ctx, pipe, projectID,
				newHistory(projectID, EntityRelationship, id, ActionDelete, userID, r, nil))
		})
		return err
	}, key)
	return wrapUnlessTyped("delete", EntityRelationship, id, err)
}

// ListViews returns the project's views ordered by view type.
func (s *Redis) ListViews(ctx context.Context, projectID string) ([]View, error) {
	out, err := getAllJSON[View](ctx, s.rdb, viewsKey(s.namespace, projectID))
	if err != nil {
		return nil, errors.WrapResource("list", EntityView, "", err)
	}
	sortViews(out)
	return out, nil
}

// GetView returns one view.
func (s *Redis) GetView(ctx context.Context, projectID, viewType string) (View, error) {
	v, ok, err := getJSON[View](ctx, s.rdb, viewsKey(s.namespace, projectID), viewType)
	if err != nil {
		return View{}, errors.WrapResource("fetch", EntityView, viewType, err)
	}
	if !ok {
		return View{}, errors.NewNotFoundError(EntityView, viewType)
	}
	return v, nil
}

// PutView creates or replaces a view's state.
func (s *Redis) PutView(ctx context.Context, projectID, viewType, userID string, state json.RawMessage) (View, error) {
	if err := validateView(projectID, viewType, state); err != nil {
		return View{}, err
	}
	key := viewsKey(s.namespace, projectID)

	var saved View
	err := s.transact(ctx, func(tx *redis.Tx) error {
		old, existed, err := getJSON[View](ctx, tx, key, viewType)
		if err != nil {
			return err
		}
		v := putView(old, existed, projectID, viewType, state)
		data, err := mustJSON(v)
		if err != nil {
			return err
		}

		entry := newHistory(projectID, EntityView, viewType, ActionCreate, userID, nil, v)
		if existed {
			entry = newHistory(projectID, EntityView, viewType, ActionUpdate, userID, old, v)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, viewType, data)
			return s.pushHistory(ctx, pipe, projectID, entry)
		})
		if err == nil {
			saved = v
		}
		return err
	}, key)
	if err != nil {
		return View{}, wrapUnlessTyped("put", EntityView, viewType, err)
	}
	return saved, nil
}

// History returns the project's entries newest first.
func (s *Redis) History(ctx context.Context, projectID string, q HistoryQuery) ([]HistoryEntry, error) {
	stop := int64(historyLimit(q) - 1)
	if q.EntityID != "" {
		stop = MaxHistory - 1
	}
	raw, err := s.rdb.LRange(ctx, historyKey(s.namespace, projectID), 0, stop).Result()
	if err != nil {
		return nil, errors.WrapResource("fetch", "history", projectID, err)
	}

	entries := make([]HistoryEntry, 0, len(raw))
	for _, data := range raw {
		var h HistoryEntry
		if err := json.Unmarshal([]byte(data), &h); err != nil {
			return nil, errors.WrapResource("fetch", "history", projectID, fmt.Errorf("decoding entry: %w", err))
		}
		entries = append(entries, h)
	}
	return filterHistory(entries, q), nil
}

// ClearHistory drops every history entry of the project.
func (s *Redis) ClearHistory(ctx context.Context, projectID string) error {
	if err := s.rdb.Del(ctx, historyKey(s.namespace, projectID)).Err(); err != nil {
		return errors.WrapResource("clear", "history", projectID, err)
	}
	return nil
}

// wrapUnlessTyped passes domain errors through untouched and wraps
// transport failures with the failed operation.
func wrapUnlessTyped(operation, resource, id string, err error) error {
	if err == nil {
		return nil
	}
	if errors.IsNotFound(err) || errors.IsConflict(err) || errors.IsValidationError(err) || errors.IsAlreadyExists(err) {
		return err
	}
	return errors.WrapResource(operation, resource, id, err)
}
