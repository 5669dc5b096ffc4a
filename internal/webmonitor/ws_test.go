package webmonitor

import (
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/animal-health-monitor/monitor-server/internal/controller"
)

func dialWS(t *testing.T, serverURL string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(serverURL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readWS(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	return decodeJSONMap(t, msg)
}

func TestWebSocketPushesStatusAndToggles(t *testing.T) {
	session := newFakeSession(controller.Ready)
	srv, ts := newTestServer(t, session)

	conn := dialWS(t, ts.URL)
	assert.Equal(t, "ready", readWS(t, conn)["run_state"])
	assert.Equal(t, int64(1), srv.metrics.WebSocketClients.Load())

	require.NoError(t, conn.WriteJSON(map[string]string{"command": "toggle"}))
	for {
		if readWS(t, conn)["run_state"] == "detecting" {
			break
		}
	}
	assert.Equal(t, 1, session.Toggles())
}

func TestWebSocketRejectsBadCommands(t *testing.T) {
	session := newFakeSession(controller.LoadingModel)
	_, ts := newTestServer(t, session)

	conn := dialWS(t, ts.URL)
	readWS(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]string{"command": "toggle"}))
	assert.Equal(t, "toggle unavailable while loading_model", readWS(t, conn)["error"])
	assert.Zero(t, session.Toggles())

	require.NoError(t, conn.WriteJSON(map[string]string{"command": "reboot"}))
	assert.Equal(t, "unknown command: reboot", readWS(t, conn)["error"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{")))
	assert.Equal(t, "invalid command", readWS(t, conn)["error"])
}

func TestWebSocketToggleUsesToggleOutcome(t *testing.T) {
	session := newFakeSession(controller.Failed)
	_, ts := newTestServer(t, staleStatusSession{fakeSession: session, reported: controller.Detecting})

	conn := dialWS(t, ts.URL)
	readWS(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]string{"command": "toggle"}))
	assert.Equal(t, "toggle unavailable while failed", readWS(t, conn)["error"])
	assert.Zero(t, session.Toggles())
}

func TestWebSocketClosedOnShutdown(t *testing.T) {
	srv, ts := newTestServer(t, newFakeSession(controller.Ready))

	conn := dialWS(t, ts.URL)
	readWS(t, conn)
	srv.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}
