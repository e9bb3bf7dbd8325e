package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/agentstation/rddm/internal/server/cache"
	"github.com/agentstation/rddm/internal/server/events/adapters"
	"github.com/agentstation/rddm/internal/server/response"
)

// viewBody is the body of a view update.
type viewBody struct {
	State json.RawMessage `json:"state"`
}

// HandleListViews handles GET /api/v1/projects/{projectID}/views.
// @Summary List views
// @Tags views
// @Produce json
// @Param projectID path string true "Project ID"
// @Success 200 {object} response.Response{data=[]store.View}
// @Router /api/v1/projects/{projectID}/views [get].
func (h *Handlers) HandleListViews(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("projectID")

	h.cached(w, r, projectID, cache.Key(projectID, "views"), func() (any, error) {
		return h.store.ListViews(r.Context(), projectID)
	})
}

// HandleGetView handles GET /api/v1/projects/{projectID}/views/{viewType}.
// @Summary Get view
// @Tags views
// @Produce json
// @Param projectID path string true "Project ID"
// @Param viewType path string true "View type"
// @Success 200 {object} response.Response{data=store.View}
// @Failure 404 {object} response.Response{error=response.Error}
// @Router /api/v1/projects/{projectID}/views/{viewType} [get].
func (h *Handlers) HandleGetView(w http.ResponseWriter, r *http.Request) {
	v, err := h.store.GetView(r.Context(), r.PathValue("projectID"), r.PathValue("viewType"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.OK(w, v)
}

// HandlePutView handles PUT /api/v1/projects/{projectID}/views/{viewType}.
// The view is created on first write.
// @Summary Save view state
// @Tags views
// @Accept json
// @Produce json
// @Param projectID path string true "Project ID"
// @Param viewType path string true "View type"
// @Param view body viewBody true "View state"
// @Success 200 {object} response.Response{data=store.View}
// @Failure 400 {object} response.Response{error=response.Error}
// @Router /api/v1/projects/{projectID}/views/{viewType} [put].
func (h *Handlers) HandlePutView(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("projectID")

	var body viewBody
	if !decodeBody(w, r, &body) {
		return
	}

	user := userID(r)
	v, err := h.store.PutView(r.Context(), projectID, r.PathValue("viewType"), user, body.State)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.announce(r.Context(), projectID, adapters.ViewUpdated(v, user))
	response.OK(w, v)
}
