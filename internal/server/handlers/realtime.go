package handlers

import (
	"net/http"

	ws "github.com/agentstation/rddm/internal/server/websocket"
)

// HandleWebSocket handles WebSocket connections at /ws/projects/{projectID}.
// The request goroutine serves the connection until it terminates.
// @Summary Project change feed
// @Description Bidirectional WebSocket feed of a project's change envelopes
// @Tags realtime
// @Param projectID path string true "Project ID"
// @Success 101 "Switching Protocols"
// @Router /ws/projects/{projectID} [get].
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("projectID")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written an error response.
		h.logger.Warn().Err(err).Str("project_id", projectID).Msg("WebSocket upgrade failed")
		return
	}

	ws.NewConn(conn, projectID, h.registry, h.wsConfig, h.logger).Serve(h.ctx)
}

// HandleSSE handles Server-Sent Events at /api/v1/projects/{projectID}/stream.
// @Summary Project change stream
// @Description Read-only Server-Sent Events stream of a project's change envelopes
// @Tags realtime
// @Produce text/event-stream
// @Param projectID path string true "Project ID"
// @Success 200 "Event stream"
// @Router /api/v1/projects/{projectID}/stream [get].
func (h *Handlers) HandleSSE(w http.ResponseWriter, r *http.Request) {
	h.streamer.Serve(h.ctx, w, r, r.PathValue("projectID"))
}
