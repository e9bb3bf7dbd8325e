package handlers

import (
	"net/http"

	"github.com/agentstation/rddm/internal/server/cache"
	"github.com/agentstation/rddm/internal/server/events/adapters"
	"github.com/agentstation/rddm/internal/server/filter"
	"github.com/agentstation/rddm/internal/server/response"
	"github.com/agentstation/rddm/internal/store"
)

// HandleListRelationships handles GET /api/v1/projects/{projectID}/relationships.
// @Summary List relationships
// @Tags relationships
// @Produce json
// @Param projectID path string true "Project ID"
// @Param source_id query string false "Filter by source element"
// @Param target_id query string false "Filter by target element"
// @Param element_id query string false "Filter by either endpoint"
// @Param relationship_type query string false "Filter by type (comma-separated)"
// @Param limit query integer false "Maximum number of results"
// @Param offset query integer false "Result offset for pagination"
// @Success 200 {object} response.Response{data=object}
// @Router /api/v1/projects/{projectID}/relationships [get].
func (h *Handlers) HandleListRelationships(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("projectID")

	h.cached(w, r, projectID, cache.Key(projectID, "relationships", r.URL.RawQuery), func() (any, error) {
		all, err := h.store.ListRelationships(r.Context(), projectID)
		if err != nil {
			return nil, err
		}
		f := filter.ParseRelationshipFilter(r)
		page, total := f.Apply(all)
		return map[string]any{
			"relationships": page,
			"pagination":    Pagination{Total: total, Limit: f.Limit, Offset: f.Offset},
		}, nil
	})
}

// HandleGetRelationship handles GET /api/v1/projects/{projectID}/relationships/{relationshipID}.
func (h *Handlers) HandleGetRelationship(w http.ResponseWriter, r *http.Request) {
	rel, err := h.store.GetRelationship(r.Context(), r.PathValue("projectID"), r.PathValue("relationshipID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.OK(w, rel)
}

// HandleCreateRelationship handles POST /api/v1/projects/{projectID}/relationships.
// Both endpoints must be elements of the project.
// @Summary Create relationship
// @Tags relationships
// @Accept json
// @Produce json
// @Param projectID path string true "Project ID"
// @Param relationship body store.RelationshipInput true "Relationship"
// @Success 201 {object} response.Response{data=store.Relationship}
// @Failure 400 {object} response.Response{error=response.Error}
// @Router /api/v1/projects/{projectID}/relationships [post].
func (h *Handlers) HandleCreateRelationship(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("projectID")

	var in store.RelationshipInput
	if !decodeBody(w, r, &in) {
		return
	}

	user := userID(r)
	rel, err := h.store.CreateRelationship(r.Context(), projectID, user, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.announceRelationship(r, rel, user)
	response.Created(w, rel)
}

// HandleUpdateRelationship handles PUT /api/v1/projects/{projectID}/relationships/{relationshipID}.
// @Summary Update relationship
// @Tags relationships
// @Accept json
// @Produce json
// @Param projectID path string true "Project ID"
// @Param relationshipID path string true "Relationship ID"
// @Param patch body store.RelationshipPatch true "Fields to change"
// @Success 200 {object} response.Response{data=store.Relationship}
// @Failure 404 {object} response.Response{error=response.Error}
// @Router /api/v1/projects/{projectID}/relationships/{relationshipID} [put].
func (h *Handlers) HandleUpdateRelationship(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("projectID")

	var patch store.RelationshipPatch
	if !decodeBody(w, r, &patch) {
		return
	}

	user := userID(r)
	rel, err := h.store.UpdateRelationship(r.Context(), projectID, r.PathValue("relationshipID"), user, patch)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.announceRelationship(r, rel, user)
	response.OK(w, rel)
}

// HandleDeleteRelationship handles DELETE /api/v1/projects/{projectID}/relationships/{relationshipID}.
// @Summary Delete relationship
// @Tags relationships
// @Param projectID path string true "Project ID"
// @Param relationshipID path string true "Relationship ID"
// @Success 204 "Deleted"
// @Failure 404 {object} response.Response{error=response.Error}
// @Router /api/v1/projects/{projectID}/relationships/{relationshipID} [delete].
func (h *Handlers) HandleDeleteRelationship(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("projectID")
	id := r.PathValue("relationshipID")
	user := userID(r)

	if err := h.store.DeleteRelationship(r.Context(), projectID, id, user); err != nil {
		h.fail(w, r, err)
		return
	}
	h.announce(r.Context(), projectID, adapters.RelationshipDeleted(projectID, id, user))
	response.NoContent(w)
}

func (h *Handlers) announceRelationship(r *http.Request, rel store.Relationship, user string) {
	env, err := adapters.RelationshipUpdated(rel, user)
	if err != nil {
		h.cache.InvalidateProject(rel.ProjectID)
		h.logger.Error().Err(err).Str("relationship_id", rel.ID).Msg("Failed to build change envelope")
		return
	}
	h.announce(r.Context(), rel.ProjectID, env)
}
