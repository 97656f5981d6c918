package progress

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
)

func TestHubSendToConnectedUser(t *testing.T) {
	hub := NewHub()
	ts := httptest.NewServer(http.HandlerFunc(hub.HandleProgress))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := strings.Replace(ts.URL, "http", "ws", 1) + "?user=user-1"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool {
		return hub.Connected("user-1")
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Send("user-1", NewSandboxStatus(StageReady, "Sandbox ready", "sbx-1", 100)))

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	status := new(SandboxStatus)
	require.NoError(t, json.Unmarshal(data, status))
	assert.Equal(t, "sandbox_status", status.Type)
	assert.Equal(t, StageReady, status.Stage)
	assert.Equal(t, "sbx-1", status.SandboxID)
	assert.Equal(t, 100, status.Progress)
}

func TestHubSendToDisconnectedUser(t *testing.T) {
	hub := NewHub()
	err := hub.Send("nobody", NewSandboxStatus(StageCreating, "Creating sandbox...", "", 5))
	assert.ErrorIs(t, err, ErrUserNotConnected)
}

func TestHubRejectsMissingUser(t *testing.T) {
	hub := NewHub()
	ts := httptest.NewServer(http.HandlerFunc(hub.HandleProgress))
	defer ts.Close()
	resp, err := http.Get(ts.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 400, resp.StatusCode)
}
