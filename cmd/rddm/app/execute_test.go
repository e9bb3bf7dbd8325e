package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func executeCapture(t *testing.T, a *App, args ...string) string {
	t.Helper()
	root := a.createRootCommand()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	require.NoError(t, root.ExecuteContext(context.Background()))
	return buf.String()
}

func TestRootCommand_Subcommands(t *testing.T) {
	a := newTestApp(t, &Config{})
	root := a.createRootCommand()

	names := map[string]string{}
	for _, c := range root.Commands() {
		names[c.Name()] = c.GroupID
	}
	assert.Equal(t, "server", names["serve"])
	assert.Equal(t, "client", names["watch"])
	assert.Equal(t, "client", names["topics"])
	assert.Contains(t, names, "version")
}

func TestVersionCommand(t *testing.T) {
	a := newTestApp(t, &Config{})

	out := executeCapture(t, a, "version")
	assert.Equal(t, "rddm v1.0.0\n", out)

	out = executeCapture(t, a, "version", "--verbose")
	assert.Contains(t, out, "commit:   abc123")
	assert.Contains(t, out, "built by: test")
}

func TestSetupCommand_Flags(t *testing.T) {
	a := newTestApp(t, &Config{})
	executeCapture(t, a, "version", "-o", "yaml", "--log-level", "error")

	assert.Equal(t, "yaml", a.OutputFormat())
	assert.Equal(t, zerolog.ErrorLevel, a.Logger().GetLevel())
}

func TestSetupCommand_ConfigFlag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rddm.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server_url: http://from-file:4000\n"), 0o600))

	logger := zerolog.Nop()
	a, err := New("dev", "", "", "", WithConfig(&Config{}), WithLogger(&logger))
	require.NoError(t, err)

	executeCapture(t, a, "version", "--config", path)
	assert.Equal(t, "http://from-file:4000", a.ServerURL())
}
