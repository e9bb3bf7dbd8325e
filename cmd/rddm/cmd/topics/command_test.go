package topics

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/rddm/internal/cmd/application"
	"github.com/agentstation/rddm/internal/cmd/output"
	"github.com/agentstation/rddm/internal/server/events"
	"github.com/agentstation/rddm/internal/transport"
)

var sample = events.Stats{
	Topics:      2,
	Subscribers: 3,
	Capacity:    100,
	Projects: []events.TopicStats{
		{ProjectID: "p1", Subscribers: 2, Published: 40, Dropped: 1},
		{ProjectID: "p2", Subscribers: 1, Published: 7},
	},
}

func statsServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/stats" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data":  nil,
				"error": map[string]string{"code": "INTERNAL_ERROR", "message": "boom"},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data":  map[string]any{"realtime": sample},
			"error": nil,
		})
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestFetch(t *testing.T) {
	ts := statsServer(t, http.StatusOK)

	client := transport.New(ts.URL+"/api/v1/", transport.WithHTTPClient(ts.Client()))
	got, err := Fetch(context.Background(), client)
	require.NoError(t, err)
	assert.Equal(t, sample, got)
}

func TestFetch_ServerError(t *testing.T) {
	ts := statsServer(t, http.StatusInternalServerError)

	_, err := Fetch(context.Background(), transport.New(ts.URL+"/api/v1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestRender_Table(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, render(&buf, output.FormatTable, sample))

	got := buf.String()
	assert.Contains(t, strings.ToUpper(got), "PROJECT")
	assert.Contains(t, got, "p1")
	assert.Contains(t, got, "40")
	assert.Contains(t, got, "2 topics, 3 subscribers, buffer capacity 100")
}

func TestRender_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, render(&buf, output.FormatTable, events.Stats{}))
	assert.Equal(t, "No live topics.\n", buf.String())
}

func TestCommand_JSON(t *testing.T) {
	ts := statsServer(t, http.StatusOK)

	cmd := NewCommand(&application.Mock{}, func() string { return ts.URL })
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	var got events.Stats
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, sample, got)
}
