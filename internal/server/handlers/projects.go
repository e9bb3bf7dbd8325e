package handlers

import (
	"net/http"

	"github.com/agentstation/rddm/internal/server/response"
	"github.com/agentstation/rddm/internal/store"
)

// HandleListProjects handles GET /api/v1/projects.
// @Summary List projects
// @Tags projects
// @Produce json
// @Success 200 {object} response.Response{data=[]store.Project}
// @Router /api/v1/projects [get].
func (h *Handlers) HandleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.store.ListProjects(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.OK(w, projects)
}

// HandleGetProject handles GET /api/v1/projects/{projectID}.
func (h *Handlers) HandleGetProject(w http.ResponseWriter, r *http.Request) {
	p, err := h.store.GetProject(r.Context(), r.PathValue("projectID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.OK(w, p)
}

// HandleCreateProject handles POST /api/v1/projects.
// @Summary Create project
// @Tags projects
// @Accept json
// @Produce json
// @Param project body store.ProjectInput true "Project"
// @Success 201 {object} response.Response{data=store.Project}
// @Failure 400 {object} response.Response{error=response.Error}
// @Failure 409 {object} response.Response{error=response.Error}
// @Router /api/v1/projects [post].
func (h *Handlers) HandleCreateProject(w http.ResponseWriter, r *http.Request) {
	var in store.ProjectInput
	if !decodeBody(w, r, &in) {
		return
	}

	p, err := h.store.CreateProject(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.logger.Info().Str("project_id", p.ID).Msg("Project created")
	response.Created(w, p)
}

// HandleUpdateProject handles PUT /api/v1/projects/{projectID}.
// @Summary Update project
// @Tags projects
// @Accept json
// @Produce json
// @Param projectID path string true "Project ID"
// @Param patch body store.ProjectPatch true "Fields to change"
// @Success 200 {object} response.Response{data=store.Project}
// @Failure 404 {object} response.Response{error=response.Error}
// @Failure 409 {object} response.Response{error=response.Error}
// @Router /api/v1/projects/{projectID} [put].
func (h *Handlers) HandleUpdateProject(w http.ResponseWriter, r *http.Request) {
	var patch store.ProjectPatch
	if !decodeBody(w, r, &patch) {
		return
	}

	p, err := h.store.UpdateProject(r.Context(), r.PathValue("projectID"), patch)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.OK(w, p)
}

// HandleDeleteProject handles DELETE /api/v1/projects/{projectID}.
// @Summary Delete project
// @Tags projects
// @Param projectID path string true "Project ID"
// @Success 204 "Deleted"
// @Failure 404 {object} response.Response{error=response.Error}
// @Router /api/v1/projects/{projectID} [delete].
func (h *Handlers) HandleDeleteProject(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("projectID")
	if err := h.store.DeleteProject(r.Context(), projectID); err != nil {
		h.fail(w, r, err)
		return
	}
	h.logger.Info().Str("project_id", projectID).Msg("Project deleted")
	response.NoContent(w)
}
