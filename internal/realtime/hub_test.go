package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, hub *Hub) *httptest.Server {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		facilityID := r.URL.Query().Get("facility")
		snapshot := map[string]any{"active": false}
		if err := hub.Serve(w, r, facilityID, snapshot); err != nil {
			t.Logf("serve: %v", err)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func dial(t *testing.T, server *httptest.Server, facilityID string) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/?facility=" + facilityID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var event Event
	require.NoError(t, json.Unmarshal(data, &event))
	return event
}

func TestHub_PublishReachesOnlyFacilityClients(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	server := newTestServer(t, hub)
	a := dial(t, server, "fac-1")
	b := dial(t, server, "fac-2")

	snapshot := readEvent(t, a)
	assert.Equal(t, EventSnapshot, snapshot.Type)
	assert.Equal(t, "fac-1", snapshot.FacilityID)
	assert.Equal(t, EventSnapshot, readEvent(t, b).Type)

	require.Eventually(t, func() bool {
		return hub.ClientCount("fac-1") == 1 && hub.ClientCount("fac-2") == 1
	}, 2*time.Second, 10*time.Millisecond)

	hub.Publish("fac-1", EventQuarantineActivated, map[string]any{"affectedToolsCount": 3})

	event := readEvent(t, a)
	assert.Equal(t, EventQuarantineActivated, event.Type)
	data, ok := event.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(3), data["affectedToolsCount"])

	require.NoError(t, b.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := b.ReadMessage()
	assert.Error(t, err, "other facilities must not receive the event")
}

func TestHub_UnregistersOnDisconnect(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	server := newTestServer(t, hub)
	conn := dial(t, server, "fac-1")
	readEvent(t, conn)

	require.Eventually(t, func() bool { return hub.ClientCount("fac-1") == 1 }, 2*time.Second, 10*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return hub.ClientCount("fac-1") == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_ShutdownClosesClients(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	server := newTestServer(t, hub)
	conn := dial(t, server, "fac-1")
	readEvent(t, conn)
	require.Eventually(t, func() bool { return hub.ClientCount("fac-1") == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-stopped
	assert.Equal(t, 0, hub.ClientCount("fac-1"))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}
