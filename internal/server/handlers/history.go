package handlers

import (
	"net/http"

	"github.com/agentstation/rddm/internal/server/filter"
	"github.com/agentstation/rddm/internal/server/response"
)

// HandleHistory handles GET /api/v1/projects/{projectID}/history.
// Entries are returned newest first.
// @Summary Change history
// @Tags history
// @Produce json
// @Param projectID path string true "Project ID"
// @Param entity_id query string false "Only entries of this entity"
// @Param entity_type query string false "Only entries of this entity type"
// @Param action query string false "Only entries with this action"
// @Param limit query integer false "Maximum number of entries (default 100)"
// @Success 200 {object} response.Response{data=[]store.HistoryEntry}
// @Router /api/v1/projects/{projectID}/history [get].
func (h *Handlers) HandleHistory(w http.ResponseWriter, r *http.Request) {
	f := filter.ParseHistoryFilter(r)

	entries, err := h.store.History(r.Context(), r.PathValue("projectID"), f.Query())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.OK(w, f.Apply(entries))
}

// HandleClearHistory handles DELETE /api/v1/projects/{projectID}/history.
// @Summary Clear change history
// @Tags history
// @Param projectID path string true "Project ID"
// @Success 204 "Cleared"
// @Router /api/v1/projects/{projectID}/history [delete].
func (h *Handlers) HandleClearHistory(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("projectID")
	if err := h.store.ClearHistory(r.Context(), projectID); err != nil {
		h.fail(w, r, err)
		return
	}
	h.logger.Info().Str("project_id", projectID).Str("user_id", userID(r)).Msg("History cleared")
	response.NoContent(w)
}
