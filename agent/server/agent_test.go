package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/qbit-dev/sandboxd/agent"
	"github.com/qbit-dev/sandboxd/agent/api"
	"github.com/qbit-dev/sandboxd/agent/configure"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "agent-test-secret"

func newTestAgent(t *testing.T) (*httptest.Server, *agent.Client) {
	t.Helper()
	srv, err := NewServer(&configure.Configure{
		SecretKey:     testSecret,
		WorkspacePath: t.TempDir(),
	})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.cs)
	t.Cleanup(ts.Close)
	return ts, agent.NewClient(ts.URL, []byte(testSecret), 10*time.Second)
}

func TestAgentFileOperations(t *testing.T) {
	_, c := newTestAgent(t)
	ctx := context.Background()

	err := c.WriteFile(ctx, "frontend/src/app.tsx", "export {}")
	require.NoError(t, err)

	content, err := c.ReadFile(ctx, "frontend/src/app.tsx")
	require.NoError(t, err)
	assert.Equal(t, "export {}", content)

	exists, err := c.FileExists(ctx, "frontend/src/app.tsx")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = c.FileExists(ctx, "frontend")
	require.NoError(t, err)
	assert.True(t, exists, "intermediate directories are created on write")

	err = c.RemoveFile(ctx, "frontend/src/app.tsx")
	require.NoError(t, err)

	exists, err = c.FileExists(ctx, "frontend/src/app.tsx")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestAgentReadMissingFile(t *testing.T) {
	_, c := newTestAgent(t)
	_, err := c.ReadFile(context.Background(), "nope.txt")
	assert.EqualError(t, err, api.ErrFileNotFound.Error())
}

func TestAgentRejectsPathEscape(t *testing.T) {
	_, c := newTestAgent(t)
	err := c.WriteFile(context.Background(), "../../etc/passwd", "boom")
	assert.EqualError(t, err, api.ErrPathOverflowsWorkspace.Error())
}

func TestAgentRejectsBadSignature(t *testing.T) {
	ts, _ := newTestAgent(t)
	req, err := http.NewRequest("POST", ts.URL+"/write-file", bytes.NewReader([]byte(`{"path":"a","content":"b"}`)))
	require.NoError(t, err)
	req.Header.Set("X-Signature", "deadbeef")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 403, resp.StatusCode)
}

func TestAgentExecuteCommand(t *testing.T) {
	_, c := newTestAgent(t)
	ctx := context.Background()

	resp, err := c.ExecuteCommand(ctx, "echo hello", "", 10*time.Second, false)
	require.NoError(t, err)
	assert.Equal(t, 0, resp.ExitStatus)
	assert.Equal(t, "hello\n", resp.StdOut)

	resp, err = c.ExecuteCommand(ctx, "exit 3", "", 10*time.Second, false)
	require.NoError(t, err)
	assert.Equal(t, 3, resp.ExitStatus)
}

func TestAgentExecuteCommandCwd(t *testing.T) {
	_, c := newTestAgent(t)
	ctx := context.Background()
	require.NoError(t, c.WriteFile(ctx, "frontend/package.json", "{}"))
	resp, err := c.ExecuteCommand(ctx, "ls", "frontend", 10*time.Second, false)
	require.NoError(t, err)
	assert.Equal(t, "package.json\n", resp.StdOut)
}

func TestAgentExecuteCommandTimeout(t *testing.T) {
	_, c := newTestAgent(t)
	_, err := c.ExecuteCommand(context.Background(), "sleep 5", "", time.Second, false)
	assert.EqualError(t, err, api.ErrCommandTimedOut.Error())
}

func TestAgentExecuteCommandBackground(t *testing.T) {
	_, c := newTestAgent(t)
	resp, err := c.ExecuteCommand(context.Background(), "sleep 0.2", "", 10*time.Second, true)
	require.NoError(t, err)
	assert.Greater(t, resp.Pid, 0)
	// The command keeps running after the response.
	assert.Equal(t, 0, resp.ExitStatus)
}
