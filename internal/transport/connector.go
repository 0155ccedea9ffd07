package transport

import (
	"encoding/json"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"roomchat/client/internal/config"
	"roomchat/client/internal/models"
)

// EventSink receives decoded inbound events. The reconciliation engine
// implements it.
type EventSink interface {
	HandleEvents(events []models.Event, isHistory bool)
}

// Connector owns at most one live connection to a room's message stream and
// hides reconnect churn from its consumers. It is an explicitly owned
// instance; callers inject it rather than sharing module state.
type Connector struct {
	wsURL string
	sink  EventSink

	// OnVoice, when set, receives voice-channel-state events instead of the
	// sink. OnStatus reports connectivity changes; it is the only
	// user-visible surface of transport failure.
	OnVoice  func(models.VoiceState)
	OnStatus func(connected bool)

	// RetryDelay is the single-shot reconnect delay. Overridable in tests.
	RetryDelay time.Duration

	mu        sync.Mutex
	conn      *websocket.Conn
	roomID    string
	userID    string
	connected bool
	gen       int
	retry     *time.Timer
	closed    bool

	dialer *websocket.Dialer
}

// NewConnector builds a connector that dials wsURL and delivers decoded
// events to sink.
func NewConnector(wsURL string, sink EventSink) *Connector {
	return &Connector{
		wsURL:      wsURL,
		sink:       sink,
		RetryDelay: config.ReconnectDelay,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// Connect opens the connection for (roomID, userID). It is idempotent: a call
// for the pair already open or opening reuses it. An empty userID closes any
// existing connection and reports disconnected without dialing. A new pair
// supersedes and fully closes the previous connection before the new dial.
func (c *Connector) Connect(roomID, userID string) error {
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()
		return nil
	}

	if userID == "" {
		c.roomID, c.userID = roomID, ""
		c.dropLocked()
		c.mu.Unlock()
		return nil
	}

	// Open or opening (retry pending) for the same pair: reuse it.
	if c.roomID == roomID && c.userID == userID && (c.conn != nil || c.retry != nil) {
		c.mu.Unlock()
		return nil
	}

	c.roomID, c.userID = roomID, userID
	c.dropLocked()
	c.mu.Unlock()

	return c.dial(roomID, userID)
}

// dropLocked closes the current socket and cancels any pending retry.
func (c *Connector) dropLocked() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.gen++
	c.setConnectedLocked(false)
}

func (c *Connector) dial(roomID, userID string) error {
	u, err := url.Parse(c.wsURL)
	if err != nil {
		return err
	}
	q := u.Query()
	q.Set("roomId", roomID)
	q.Set("userId", userID)
	u.RawQuery = q.Encode()

	conn, _, err := c.dialer.Dial(u.String(), nil)

	c.mu.Lock()
	defer c.mu.Unlock()

	// The desired pair may have changed while dialing.
	if c.closed || c.roomID != roomID || c.userID != userID {
		if conn != nil {
			conn.Close()
		}
		return nil
	}

	if err != nil {
		log.Printf("transport: dial %s failed: %v", roomID, err)
		c.scheduleRetryLocked()
		return err
	}

	c.conn = conn
	c.gen++
	c.setConnectedLocked(true)
	go c.readLoop(conn, c.gen)
	return nil
}

// scheduleRetryLocked arms exactly one reconnect attempt. At most one timer is
// pending at a time, which caps retry storms under sustained failure.
func (c *Connector) scheduleRetryLocked() {
	if c.retry != nil || c.closed || c.userID == "" {
		return
	}
	roomID, userID := c.roomID, c.userID
	c.retry = time.AfterFunc(c.RetryDelay, func() {
		c.mu.Lock()
		c.retry = nil
		stale := c.closed || c.roomID != roomID || c.userID != userID || c.conn != nil
		c.mu.Unlock()
		if stale {
			return
		}
		if err := c.dial(roomID, userID); err != nil {
			log.Printf("transport: reconnect failed: %v", err)
		}
	})
}

func (c *Connector) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}

		events, isHistory, err := models.DecodeFrame(raw)
		if err != nil {
			log.Printf("transport: dropping malformed frame: %v", err)
			continue
		}

		c.route(events, isHistory)
	}

	c.mu.Lock()
	if gen != c.gen {
		// A newer connection superseded this one; nothing to do.
		c.mu.Unlock()
		return
	}
	conn.Close()
	c.conn = nil
	c.setConnectedLocked(false)
	c.scheduleRetryLocked()
	c.mu.Unlock()
}

// route splits voice-channel events off to the voice sink and hands the rest
// to the engine in arrival order.
func (c *Connector) route(events []models.Event, isHistory bool) {
	kept := events[:0]
	for _, ev := range events {
		if vs, ok := ev.(models.VoiceState); ok {
			if c.OnVoice != nil {
				c.OnVoice(vs)
			}
			continue
		}
		kept = append(kept, ev)
	}
	if len(kept) > 0 || isHistory {
		c.sink.HandleEvents(kept, isHistory)
	}
}

// Send delivers an outbound event if the connection is open. When it is not,
// the send is dropped silently; the engine has already applied the optimistic
// update and the user is never blocked on transport state.
func (c *Connector) Send(msg models.SendMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		log.Printf("transport: not connected, dropping %s send", msg.Type)
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("transport: encode %s send: %v", msg.Type, err)
		return
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Printf("transport: write failed: %v", err)
	}
}

// Connected reports whether the socket is currently open.
func (c *Connector) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Connector) setConnectedLocked(v bool) {
	if c.connected == v {
		return
	}
	c.connected = v
	if c.OnStatus != nil {
		go c.OnStatus(v)
	}
}

// Close tears the connector down; no further dials or retries happen.
func (c *Connector) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.dropLocked()
}
