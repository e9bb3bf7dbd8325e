package handlers

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/agentstation/rddm/internal/server/response"
)

// HandleStats handles GET /api/v1/stats.
// @Summary Server statistics
// @Description Runtime, cache, and per-project fan-out counters
// @Tags admin
// @Produce json
// @Success 200 {object} response.Response{data=object}
// @Router /api/v1/stats [get].
func (h *Handlers) HandleStats(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	response.OK(w, map[string]any{
		"runtime": map[string]any{
			"uptime_seconds": int64(time.Since(h.startTime).Seconds()),
			"goroutines":     runtime.NumGoroutine(),
			"memory_mb":      memStats.Alloc / 1024 / 1024,
			"memory_sys_mb":  memStats.Sys / 1024 / 1024,
		},
		"realtime": h.registry.Stats(),
		"cache":    h.cache.GetStats(),
	})
}

// HandleMetrics handles GET /metrics in the Prometheus text format.
func (h *Handlers) HandleMetrics(w http.ResponseWriter, _ *http.Request) {
	stats := h.registry.Stats()
	cs := h.cache.GetStats()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_, _ = fmt.Fprintf(w, "# TYPE rddm_uptime_seconds gauge\n")
	_, _ = fmt.Fprintf(w, "rddm_uptime_seconds %d\n", int64(time.Since(h.startTime).Seconds()))
	_, _ = fmt.Fprintf(w, "# TYPE rddm_topics gauge\n")
	_, _ = fmt.Fprintf(w, "rddm_topics %d\n", stats.Topics)
	_, _ = fmt.Fprintf(w, "# TYPE rddm_subscribers gauge\n")
	_, _ = fmt.Fprintf(w, "rddm_subscribers %d\n", stats.Subscribers)

	_, _ = fmt.Fprintf(w, "# TYPE rddm_topic_subscribers gauge\n")
	for _, p := range stats.Projects {
		_, _ = fmt.Fprintf(w, "rddm_topic_subscribers{project=%q} %d\n", p.ProjectID, p.Subscribers)
	}
	_, _ = fmt.Fprintf(w, "# TYPE rddm_envelopes_published_total counter\n")
	for _, p := range stats.Projects {
		_, _ = fmt.Fprintf(w, "rddm_envelopes_published_total{project=%q} %d\n", p.ProjectID, p.Published)
	}
	_, _ = fmt.Fprintf(w, "# TYPE rddm_envelopes_dropped_total counter\n")
	for _, p := range stats.Projects {
		_, _ = fmt.Fprintf(w, "rddm_envelopes_dropped_total{project=%q} %d\n", p.ProjectID, p.Dropped)
	}

	_, _ = fmt.Fprintf(w, "# TYPE rddm_cache_items gauge\n")
	_, _ = fmt.Fprintf(w, "rddm_cache_items %d\n", cs.ItemCount)
	_, _ = fmt.Fprintf(w, "# TYPE rddm_cache_hits_total counter\n")
	_, _ = fmt.Fprintf(w, "rddm_cache_hits_total %d\n", cs.Hits)
	_, _ = fmt.Fprintf(w, "# TYPE rddm_cache_misses_total counter\n")
	_, _ = fmt.Fprintf(w, "rddm_cache_misses_total %d\n", cs.Misses)
}
