package transport_test

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomchat/client/internal/models"
	"roomchat/client/internal/transport"
)

type inboundBatch struct {
	events    []models.Event
	isHistory bool
}

type chanSink struct {
	batches chan inboundBatch
}

func newChanSink() *chanSink {
	return &chanSink{batches: make(chan inboundBatch, 16)}
}

func (s *chanSink) HandleEvents(events []models.Event, isHistory bool) {
	s.batches <- inboundBatch{events: events, isHistory: isHistory}
}

func (s *chanSink) next(t *testing.T) inboundBatch {
	t.Helper()
	select {
	case b := <-s.batches:
		return b
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for inbound batch")
		return inboundBatch{}
	}
}

// wsServer is a room socket stand-in. Each accepted connection is recorded
// with its query parameters; onConn, when set, drives the server side of the
// conversation.
type wsServer struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  []*websocket.Conn
	params []url.Values

	onConn func(idx int, conn *websocket.Conn)
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	s := &wsServer{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		idx := len(s.conns)
		s.conns = append(s.conns, conn)
		s.params = append(s.params, r.URL.Query())
		onConn := s.onConn
		s.mu.Unlock()

		if onConn != nil {
			onConn(idx, conn)
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *wsServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *wsServer) connCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *wsServer) conn(i int) *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns[i]
}

func (s *wsServer) query(i int) url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params[i]
}

func TestConnectDeliversHistoryThenLive(t *testing.T) {
	srv := newWSServer(t)
	sink := newChanSink()

	c := transport.NewConnector(srv.url(), sink)
	defer c.Close()
	require.NoError(t, c.Connect("room1", "alice"))
	assert.True(t, c.Connected())

	assert.Equal(t, "room1", srv.query(0).Get("roomId"))
	assert.Equal(t, "alice", srv.query(0).Get("userId"))

	history := `{"type":"history","messages":[
		{"type":"message","id":"h1","userId":"bob","content":"one","timestamp":1},
		{"type":"message","id":"h2","userId":"bob","content":"two","timestamp":2}
	]}`
	require.NoError(t, srv.conn(0).WriteMessage(websocket.TextMessage, []byte(history)))

	b := sink.next(t)
	assert.True(t, b.isHistory)
	assert.Len(t, b.events, 2)

	live := `{"type":"message","id":"m1","userId":"bob","content":"live","timestamp":3}`
	require.NoError(t, srv.conn(0).WriteMessage(websocket.TextMessage, []byte(live)))

	b = sink.next(t)
	assert.False(t, b.isHistory)
	require.Len(t, b.events, 1)
	assert.Equal(t, "m1", b.events[0].(models.NewMessage).Msg.ID)
}

func TestMalformedFrameDoesNotKillTheStream(t *testing.T) {
	srv := newWSServer(t)
	sink := newChanSink()

	c := transport.NewConnector(srv.url(), sink)
	defer c.Close()
	require.NoError(t, c.Connect("room1", "alice"))

	require.NoError(t, srv.conn(0).WriteMessage(websocket.TextMessage, []byte(`{oops`)))
	require.NoError(t, srv.conn(0).WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"message","id":"m1","userId":"bob","content":"hi","timestamp":1}`)))

	b := sink.next(t)
	require.Len(t, b.events, 1)
	assert.Equal(t, "m1", b.events[0].(models.NewMessage).Msg.ID)
	assert.True(t, c.Connected(), "a malformed frame is dropped, not fatal")
}

func TestConnectIsIdempotentForSamePair(t *testing.T) {
	srv := newWSServer(t)
	c := transport.NewConnector(srv.url(), newChanSink())
	defer c.Close()

	require.NoError(t, c.Connect("room1", "alice"))
	require.NoError(t, c.Connect("room1", "alice"))
	require.NoError(t, c.Connect("room1", "alice"))

	assert.Equal(t, 1, srv.connCount())
}

func TestConnectWithEmptyUserDoesNotDial(t *testing.T) {
	srv := newWSServer(t)
	c := transport.NewConnector(srv.url(), newChanSink())
	defer c.Close()

	require.NoError(t, c.Connect("room1", ""))
	assert.False(t, c.Connected())
	assert.Equal(t, 0, srv.connCount())

	// Clearing the identity drops an established connection.
	require.NoError(t, c.Connect("room1", "alice"))
	require.True(t, c.Connected())
	require.NoError(t, c.Connect("room1", ""))
	assert.False(t, c.Connected())
}

func TestNewPairSupersedesOldConnection(t *testing.T) {
	srv := newWSServer(t)
	c := transport.NewConnector(srv.url(), newChanSink())
	defer c.Close()

	require.NoError(t, c.Connect("room1", "alice"))
	require.NoError(t, c.Connect("room2", "alice"))

	require.Equal(t, 2, srv.connCount())
	assert.Equal(t, "room2", srv.query(1).Get("roomId"))

	// The first server-side connection observes the close.
	srv.conn(0).SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := srv.conn(0).ReadMessage()
	assert.Error(t, err)
	assert.True(t, c.Connected())
}

func TestSendWhileDisconnectedIsSilent(t *testing.T) {
	c := transport.NewConnector("ws://127.0.0.1:0/ws", newChanSink())
	defer c.Close()

	// Must not panic or block.
	c.Send(models.SendMessage{Type: models.TypeMessage, Content: "into the void"})
}

func TestSendWritesOutboundFrame(t *testing.T) {
	srv := newWSServer(t)
	// The test reads the outbound frame itself; keep the default handler's
	// read loop off this connection so it cannot consume the frame first.
	srv.onConn = func(int, *websocket.Conn) {}
	c := transport.NewConnector(srv.url(), newChanSink())
	defer c.Close()
	require.NoError(t, c.Connect("room1", "alice"))

	c.Send(models.SendMessage{Type: models.TypeMessage, Content: "hello", TempID: "temp-1"})

	srv.conn(0).SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := srv.conn(0).ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"message","content":"hello","tempId":"temp-1"}`, string(raw))
}

func TestSingleShotReconnectAfterDrop(t *testing.T) {
	srv := newWSServer(t)
	srv.onConn = func(idx int, conn *websocket.Conn) {
		if idx == 0 {
			// First connection dies immediately.
			conn.Close()
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}

	c := transport.NewConnector(srv.url(), newChanSink())
	defer c.Close()
	c.RetryDelay = 30 * time.Millisecond

	var statusMu sync.Mutex
	var statuses []bool
	c.OnStatus = func(connected bool) {
		statusMu.Lock()
		statuses = append(statuses, connected)
		statusMu.Unlock()
	}

	require.NoError(t, c.Connect("room1", "alice"))

	require.Eventually(t, func() bool {
		return srv.connCount() >= 2 && c.Connected()
	}, 2*time.Second, 10*time.Millisecond, "one delayed reconnect expected")

	// Single shot: the successful reconnect leaves no extra timer behind.
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 2, srv.connCount())

	statusMu.Lock()
	defer statusMu.Unlock()
	assert.Contains(t, statuses, false, "the drop was surfaced")
}

func TestCloseStopsReconnects(t *testing.T) {
	srv := newWSServer(t)
	srv.onConn = func(idx int, conn *websocket.Conn) {
		conn.Close()
	}

	c := transport.NewConnector(srv.url(), newChanSink())
	c.RetryDelay = 20 * time.Millisecond
	require.NoError(t, c.Connect("room1", "alice"))

	c.Close()
	// A retry already in flight at Close may still land; after that the
	// connection count must stop moving.
	time.Sleep(100 * time.Millisecond)
	settled := srv.connCount()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, settled, srv.connCount())
	assert.NoError(t, c.Connect("room1", "alice"), "connect after close is a no-op")
	assert.False(t, c.Connected())
}

func TestVoiceEventsRoutedToVoiceSink(t *testing.T) {
	srv := newWSServer(t)
	sink := newChanSink()

	c := transport.NewConnector(srv.url(), sink)
	defer c.Close()

	voiceCh := make(chan models.VoiceState, 1)
	c.OnVoice = func(vs models.VoiceState) { voiceCh <- vs }

	require.NoError(t, c.Connect("room1", "alice"))

	frame := `{"type":"voice-channel-state","roomId":"room1","userId":"bob","agoraUid":7,"action":"user-joined-voice","displayName":"Bob"}`
	require.NoError(t, srv.conn(0).WriteMessage(websocket.TextMessage, []byte(frame)))

	select {
	case vs := <-voiceCh:
		assert.Equal(t, "bob", vs.UserID)
		assert.Equal(t, int64(7), vs.MediaUID)
		assert.Equal(t, models.VoiceUserJoined, vs.Action)
	case <-time.After(2 * time.Second):
		t.Fatal("voice event never routed")
	}

	select {
	case b := <-sink.batches:
		t.Fatalf("voice event leaked into the message sink: %+v", b)
	case <-time.After(50 * time.Millisecond):
	}
}
