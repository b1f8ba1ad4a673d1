package chathub_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tutorhub/backend/internal/chathub"
	"tutorhub/backend/internal/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serveHub(t *testing.T, hub *chathub.ManagerService) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := chathub.NewWebSocketClient(hub, conn)
		client.ConnectionID = hub.OnConnect(client)
		client.Run()
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func readUntil(t *testing.T, conn *websocket.Conn, typ string) models.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var env models.Envelope
		require.NoError(t, conn.ReadJSON(&env))
		if env.Type == typ {
			return env
		}
	}
}

func TestWebSocketClient_AnnounceAndDisconnect(t *testing.T) {
	hub := startHub(t, new(MockStorage), chathub.Options{})
	url := serveHub(t, hub)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	require.NoError(t, conn.WriteJSON(models.Frame{Type: models.FrameAnnounce, Ref: "1", Identity: "student-7"}))
	ack := readUntil(t, conn, models.EventAnnounced)
	assert.Equal(t, "1", ack.Ref)
	assert.Equal(t, []string{"student-7"}, hub.OnlineIdentities())

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	errEnv := readUntil(t, conn, models.EventError)
	assert.Equal(t, "validation", errEnv.Error.Kind)

	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool {
		return hub.SessionCount() == 0 && len(hub.OnlineIdentities()) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketClient_OversizedFrameClosesSession(t *testing.T) {
	hub := startHub(t, new(MockStorage), chathub.Options{})
	url := serveHub(t, hub)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.SessionCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	big := strings.Repeat("x", 16*1024)
	require.NoError(t, conn.WriteJSON(models.Frame{Type: models.FrameSend, Text: big}))

	assert.Eventually(t, func() bool { return hub.SessionCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
