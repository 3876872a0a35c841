package gateway_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/typeswift/typeswift/internal/game"
	"github.com/typeswift/typeswift/internal/gateway"
	"github.com/typeswift/typeswift/internal/profile"
)

// stubStore satisfies profile.Store without a database.
type stubStore struct{}

func (stubStore) FindOrCreate(ctx context.Context, clientID, name, emoji string) (*profile.Profile, error) {
	return &profile.Profile{ClientID: clientID, Name: name, Emoji: emoji}, nil
}
func (stubStore) UpdateProfile(ctx context.Context, clientID, name, emoji string) error { return nil }
func (stubStore) UpdateStats(ctx context.Context, clientID string, wpm int, completed bool) error {
	return nil
}
func (stubStore) UpdateSettings(ctx context.Context, clientID string, settings json.RawMessage) error {
	return nil
}

type stubSource struct{}

func (stubSource) RandomPhrase(ctx context.Context) (string, error) { return "hello world", nil }

type testServer struct {
	srv         *httptest.Server
	coordinator *game.Coordinator
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	manager := gateway.NewConnectionManager(gateway.DefaultConnectionConfig())
	coordinator := game.NewCoordinator(manager, stubStore{}, stubSource{}, clockwork.NewRealClock(), game.Config{
		RevealDelay: 3 * time.Second,
		IdleTimeout: time.Minute,
	})
	manager.Bind(coordinator)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go manager.Start(ctx)
	coordinator.Bootstrap(ctx)

	handler := gateway.NewHandler(manager, coordinator, gateway.NewCookieCodec("test-secret", false))
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &testServer{srv: srv, coordinator: coordinator}
}

func (ts *testServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) *game.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var evt game.Event
	require.NoError(t, conn.ReadJSON(&evt))
	return &evt
}

// readUntil skips events until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, want game.EventType) *game.Event {
	t.Helper()
	for i := 0; i < 20; i++ {
		evt := readEvent(t, conn)
		if evt.Type == want {
			return evt
		}
	}
	t.Fatalf("never received %s", want)
	return nil
}

func send(t *testing.T, conn *websocket.Conn, msgType string, payload string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(gateway.ClientMessage{
		Type: msgType,
		Data: json.RawMessage(payload),
	}))
}

func TestClientIDEndpoint(t *testing.T) {
	ts := newTestServer(t)

	res, err := http.Get(ts.srv.URL + "/api/client-id")
	require.NoError(t, err)
	defer res.Body.Close()

	var body map[string]string
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	first := body["clientId"]
	assert.NotEmpty(t, first)
	require.Len(t, res.Cookies(), 1)

	// Replaying the cookie yields the same identity and no new cookie.
	req, err := http.NewRequest(http.MethodGet, ts.srv.URL+"/api/client-id", nil)
	require.NoError(t, err)
	req.AddCookie(res.Cookies()[0])

	res2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res2.Body.Close()

	var body2 map[string]string
	require.NoError(t, json.NewDecoder(res2.Body).Decode(&body2))
	assert.Equal(t, first, body2["clientId"])
	assert.Empty(t, res2.Cookies())
}

func TestWebSocketJoinFlow(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t)

	evt := readEvent(t, conn)
	require.Equal(t, game.EventTypeInitialState, evt.Type)

	var snapshot game.InitialStatePayload
	require.NoError(t, evt.DecodePayload(&snapshot))
	assert.Len(t, snapshot.Roster, 1)
	assert.NotEmpty(t, snapshot.Self.ConnectionID)
	// Round is still counting down, so the phrase is withheld.
	assert.Empty(t, snapshot.Phrase)

	evt = readEvent(t, conn)
	assert.Equal(t, game.EventTypeRosterJoined, evt.Type)
}

func TestWebSocketProgressFlow(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t)
	readUntil(t, conn, game.EventTypeRosterJoined)

	send(t, conn, gateway.MessageTypeTypingProgress, `{"progress":37,"position":5}`)

	evt := readUntil(t, conn, game.EventTypeProgressDelta)
	var delta game.ProgressDeltaPayload
	require.NoError(t, evt.DecodePayload(&delta))
	assert.Equal(t, 37, delta.Progress)
	assert.Equal(t, 5, delta.Position)

	require.Eventually(t, func() bool {
		roster := ts.coordinator.Roster()
		return len(roster) == 1 && roster[0].Progress == 37
	}, time.Second, 10*time.Millisecond)
}

func TestWebSocketFireworksBetweenClients(t *testing.T) {
	ts := newTestServer(t)

	conn1 := ts.dial(t)
	var self1 game.InitialStatePayload
	require.NoError(t, readUntil(t, conn1, game.EventTypeInitialState).DecodePayload(&self1))

	conn2 := ts.dial(t)
	var self2 game.InitialStatePayload
	require.NoError(t, readUntil(t, conn2, game.EventTypeInitialState).DecodePayload(&self2))

	send(t, conn1, gateway.MessageTypeTriggerFireworks,
		`{"targetConnectionId":"`+self2.Self.ConnectionID+`"}`)

	// Both the target and the source see the interaction.
	for _, conn := range []*websocket.Conn{conn1, conn2} {
		evt := readUntil(t, conn, game.EventTypeInteraction)
		var payload game.InteractionPayload
		require.NoError(t, evt.DecodePayload(&payload))
		assert.Equal(t, self1.Self.ConnectionID, payload.SourceConnectionID)
		assert.Equal(t, self2.Self.ConnectionID, payload.TargetConnectionID)
	}
}

func TestWebSocketDisconnectBroadcastsRosterLeft(t *testing.T) {
	ts := newTestServer(t)

	conn1 := ts.dial(t)
	readUntil(t, conn1, game.EventTypeRosterJoined)

	conn2 := ts.dial(t)
	readUntil(t, conn1, game.EventTypeRosterJoined)

	conn2.Close()

	evt := readUntil(t, conn1, game.EventTypeRosterLeft)
	assert.Equal(t, game.EventTypeRosterLeft, evt.Type)

	require.Eventually(t, func() bool {
		return len(ts.coordinator.Roster()) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestWebSocketMalformedMessagesIgnored(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t)
	readUntil(t, conn, game.EventTypeRosterJoined)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	send(t, conn, gateway.MessageTypeTypingProgress, `{"position":5}`)
	send(t, conn, gateway.MessageTypeTypingProgress, `{"progress":250}`)
	send(t, conn, "unknownType", `{}`)

	// A valid update still lands after the garbage, proving the connection
	// survived and nothing mutated state.
	send(t, conn, gateway.MessageTypeTypingProgress, `{"progress":10}`)
	evt := readUntil(t, conn, game.EventTypeProgressDelta)
	var delta game.ProgressDeltaPayload
	require.NoError(t, evt.DecodePayload(&delta))
	assert.Equal(t, 10, delta.Progress)
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	res, err := http.Get(ts.srv.URL + "/health")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}
