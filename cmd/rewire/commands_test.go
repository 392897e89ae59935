package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestGraphCommand(t *testing.T) {
	t.Parallel()

	file := writeConfig(t, "greeter:\n  greeting: Hi\n")

	out, err := execute(t, "graph", "--config", file)
	require.NoError(t, err)
	assert.Contains(t, out, "○ server")
	assert.Contains(t, out, "config[greeter]")

	out, err = execute(t, "graph", "--config", file, "--format", "dot")
	require.NoError(t, err)
	assert.Contains(t, out, "digraph dependencies {")
	assert.Contains(t, out, `"mux"`)

	_, err = execute(t, "graph", "--config", file, "--format", "svg")
	assert.ErrorContains(t, err, "unknown graph format")
}

func TestConfigCommand(t *testing.T) {
	t.Parallel()

	file := writeConfig(t, "rewire:\n  policy: fail-fast\nserver:\n  addr: 127.0.0.1:9000\n")

	out, err := execute(t, "config", "-c", file)
	require.NoError(t, err)
	assert.Contains(t, out, "policy: fail-fast")
	assert.Contains(t, out, "addr: 127.0.0.1:9000")
}

func TestSetup_InvalidEngine(t *testing.T) {
	t.Parallel()

	file := writeConfig(t, "rewire:\n  policy: sometimes\n")
	_, err := execute(t, "config", "--config", file)
	assert.Error(t, err)

	_, err = execute(t, "config", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "load config")

	ok := writeConfig(t, "{}\n")
	_, err = execute(t, "config", "--config", ok, "--log-level", "loud")
	assert.Error(t, err)
}

func TestRunCommand(t *testing.T) {
	t.Parallel()

	file := writeConfig(t, "server:\n  addr: 127.0.0.1:0\nrewire:\n  telemetry:\n    metrics: prometheus\n")

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"run", "--config", file})

	require.NoError(t, cmd.ExecuteContext(ctx))
	assert.Contains(t, out.String(), "lifecycle stopped")
}
