package watch

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/rddm/internal/cmd/application"
	"github.com/agentstation/rddm/internal/cmd/output"
	"github.com/agentstation/rddm/internal/server"
)

func TestFeedURL(t *testing.T) {
	tests := []struct {
		server  string
		want    string
		wantErr bool
	}{
		{"http://localhost:3000", "ws://localhost:3000/ws/projects/p1", false},
		{"https://rddm.example.com/", "wss://rddm.example.com/ws/projects/p1", false},
		{"ws://host:1", "ws://host:1/ws/projects/p1", false},
		{"ftp://host", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.server, func(t *testing.T) {
			got, err := FeedURL(tt.server, "p1")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func startServer(t *testing.T) (*server.Server, *httptest.Server) {
	t.Helper()
	cfg := server.DefaultConfig()
	cfg.PingInterval = 0
	srv, err := server.New(&application.Mock{}, cfg)
	require.NoError(t, err)
	srv.Start()

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		ts.Close()
	})
	return srv, ts
}

func createElement(t *testing.T, baseURL string) {
	t.Helper()
	resp, err := http.Post(baseURL+"/api/v1/projects/p1/elements", "application/json",
		strings.NewReader(`{"element_type":"wall"}`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func watchOne(t *testing.T, format output.Format) string {
	t.Helper()
	srv, ts := startServer(t)

	var out, errOut bytes.Buffer
	w := &watcher{out: &out, errOut: &errOut, format: format, count: 1}

	done := make(chan error, 1)
	go func() { done <- w.run(context.Background(), ts.URL, "p1") }()

	require.Eventually(t, func() bool {
		topic, ok := srv.Registry().Lookup("p1")
		return ok && topic.SubscriberCount() > 0
	}, 2*time.Second, 5*time.Millisecond)
	createElement(t, ts.URL)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not return")
	}
	assert.Contains(t, errOut.String(), "Watching project p1")
	return out.String()
}

func TestWatch_JSON(t *testing.T) {
	got := watchOne(t, output.FormatJSON)
	assert.True(t, strings.HasPrefix(got, `{"type":"ElementUpdate"`), got)
	assert.Contains(t, got, `"project_id":"p1"`)
	assert.Equal(t, 1, strings.Count(got, "\n"))
}

func TestWatch_YAML(t *testing.T) {
	got := watchOne(t, output.FormatYAML)
	assert.Contains(t, got, "type: ElementUpdate")
	assert.Contains(t, got, "project_id: p1")
}

func TestWatch_Table(t *testing.T) {
	got := watchOne(t, output.FormatTable)
	assert.Contains(t, got, "ElementUpdate")
	assert.Contains(t, got, "system")
}

func TestWatch_StopsOnCancel(t *testing.T) {
	srv, ts := startServer(t)

	var out, errOut bytes.Buffer
	w := &watcher{out: &out, errOut: &errOut, format: output.FormatJSON}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.run(ctx, ts.URL, "p1") }()

	require.Eventually(t, func() bool {
		topic, ok := srv.Registry().Lookup("p1")
		return ok && topic.SubscriberCount() > 0
	}, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
	assert.Eventually(t, func() bool { return srv.Registry().Len() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestWatch_DialError(t *testing.T) {
	w := &watcher{out: &bytes.Buffer{}, errOut: &bytes.Buffer{}, format: output.FormatJSON}
	err := w.run(context.Background(), "http://127.0.0.1:1", "p1")
	assert.Error(t, err)
}
