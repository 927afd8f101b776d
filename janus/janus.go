/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package janus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/tejzpr/janus-sip-go-sdk/softphonesdk"
)

// ConnectionState is the state of the gateway session
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateFailed       ConnectionState = "failed"
)

// Client events
const (
	EventStateChanged = "state_changed"
	EventSessionLost  = "session_lost"
)

// StateChange is the payload of EventStateChanged
type StateChange struct {
	From ConnectionState
	To   ConnectionState
}

// keepaliveFailureLimit is how many keepalives in a row may fail before the
// session is considered lost
const keepaliveFailureLimit = 2

// Client owns the single websocket session to the Janus gateway
type Client struct {
	config  *softphonesdk.Config
	log     logrus.FieldLogger
	emitter *softphonesdk.EventEmitter

	mu           sync.Mutex
	writeMu      sync.Mutex
	conn         *websocket.Conn
	state        ConnectionState
	connecting   bool
	sessionID    uint64
	serverURL    string
	iceServers   []string
	keepalive    time.Duration
	lastActivity time.Time
	pending      map[string]chan *Message
	handles      map[uint64]*Handle
	closeCh      chan struct{}
}

// New creates a new gateway client
func New(config *softphonesdk.Config) *Client {
	if config == nil {
		config = softphonesdk.DefaultConfig()
	}

	return &Client{
		config:  config,
		log:     config.LoggerFor("janus"),
		emitter: softphonesdk.NewEventEmitter(),
		state:   StateDisconnected,
		pending: make(map[string]chan *Message),
		handles: make(map[uint64]*Handle),
	}
}

// On registers a handler for a client event and returns its unsubscribe func
func (c *Client) On(event string, handler softphonesdk.EventHandler) func() {
	return c.emitter.On(event, handler)
}

// Connect creates a gateway session. Any existing session is destroyed
// first. Session creation is retried according to the configured policy;
// exhausting it returns a *softphonesdk.ConnectionError.
func (c *Client) Connect(ctx context.Context, serverURL string, iceServers []string, keepalive time.Duration) error {
	c.mu.Lock()
	if c.connecting {
		c.mu.Unlock()
		return fmt.Errorf("connection attempt already in progress")
	}
	c.connecting = true
	existing := c.conn != nil
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.connecting = false
		c.mu.Unlock()
	}()

	if existing {
		c.log.Info("Destroying existing gateway session before reconnecting")
		c.teardown(ctx)
	}

	if keepalive <= 0 {
		keepalive = c.config.KeepaliveInterval
	}

	c.setState(StateConnecting)

	attempts := 0
	err := c.config.ConnectRetryPolicy().Do(ctx, func(ctx context.Context, attempt int) error {
		attempts = attempt
		err := c.attemptConnection(ctx, serverURL, keepalive)
		if err != nil {
			c.log.WithFields(logrus.Fields{"url": serverURL, "attempt": attempt}).Warnf("Gateway session attempt failed: %v", err)
		}
		return err
	})
	if err != nil {
		c.setState(StateFailed)
		return softphonesdk.NewConnectionError(serverURL, attempts, err)
	}

	c.mu.Lock()
	c.iceServers = append([]string(nil), iceServers...)
	sessionID := c.sessionID
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{"url": serverURL, "session": sessionID}).Info("Gateway session created")
	c.setState(StateConnected)
	return nil
}

// Disconnect detaches every handle, destroys the session and closes the
// socket. It is safe to call when never connected.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		c.setState(StateDisconnected)
		return nil
	}
	c.mu.Unlock()

	c.teardown(ctx)
	return nil
}

// IsConnected reports whether the session is connected and healthy. The
// health predicate guards against a stale flag after a silent failure: the
// socket and session must exist and the gateway must have sent something
// within two keepalive periods plus the request timeout.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateConnected && c.healthyLocked()
}

func (c *Client) healthyLocked() bool {
	if c.conn == nil || c.sessionID == 0 {
		return false
	}
	return time.Since(c.lastActivity) <= 2*c.keepalive+c.config.RequestTimeout
}

// State returns the connection state
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the gateway session id, zero when disconnected
func (c *Client) SessionID() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// ICEServers returns the ICE server URIs the session was created with
func (c *Client) ICEServers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.iceServers...)
}

// Attach attaches a plugin handle to the session
func (c *Client) Attach(ctx context.Context, plugin string) (*Handle, error) {
	if !c.IsConnected() {
		return nil, softphonesdk.NewAttachError(plugin, softphonesdk.ErrNotConnected)
	}

	reply, err := c.request(ctx, &Message{Janus: TypeAttach, Plugin: plugin})
	if err != nil {
		return nil, softphonesdk.NewAttachError(plugin, err)
	}
	if reply.Data == nil || reply.Data.ID == 0 {
		return nil, softphonesdk.NewAttachError(plugin, fmt.Errorf("attach reply carried no handle id"))
	}

	h := newHandle(c, reply.Data.ID, plugin)
	c.mu.Lock()
	c.handles[h.id] = h
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{"plugin": plugin, "handle": h.id}).Info("Plugin attached")
	return h, nil
}

func (c *Client) removeHandle(id uint64) {
	c.mu.Lock()
	delete(c.handles, id)
	c.mu.Unlock()
}

// attemptConnection dials the gateway and creates a session
func (c *Client) attemptConnection(ctx context.Context, serverURL string, keepalive time.Duration) error {
	conn, err := c.dialWebSocket(ctx, serverURL)
	if err != nil {
		return err
	}

	closeCh := make(chan struct{})
	done := make(chan struct{})

	c.mu.Lock()
	c.conn = conn
	c.closeCh = closeCh
	c.sessionID = 0
	c.keepalive = keepalive
	c.lastActivity = time.Now()
	c.mu.Unlock()

	go c.listen(conn, done)

	reply, err := c.request(ctx, &Message{Janus: TypeCreate})
	if err == nil && (reply.Data == nil || reply.Data.ID == 0) {
		err = fmt.Errorf("create reply carried no session id")
	}
	if err != nil {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
			close(closeCh)
			c.closeCh = nil
		}
		c.mu.Unlock()
		_ = conn.Close()
		return fmt.Errorf("failed to create session: %w", err)
	}

	c.mu.Lock()
	c.sessionID = reply.Data.ID
	c.serverURL = serverURL
	c.mu.Unlock()

	go c.keepaliveLoop(keepalive, closeCh, done)
	return nil
}

// dialWebSocket opens the websocket with the Janus subprotocol
func (c *Client) dialWebSocket(ctx context.Context, url string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: c.config.HandshakeTimeout,
		Subprotocols:     []string{Subprotocol},
	}

	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to WebSocket: %w", err)
	}
	return conn, nil
}

// request sends a message as a new transaction and waits for its reply
func (c *Client) request(ctx context.Context, msg *Message) (*Message, error) {
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return nil, softphonesdk.ErrNotConnected
	}
	if msg.Janus != TypeCreate && msg.SessionID == 0 {
		msg.SessionID = c.sessionID
	}
	if msg.Transaction == "" {
		msg.Transaction = uuid.NewString()
	}
	msg.APISecret = c.config.APISecret
	msg.Token = c.config.Token
	ch := make(chan *Message, 1)
	c.pending[msg.Transaction] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, msg.Transaction)
		c.mu.Unlock()
	}()

	if err := c.write(conn, msg); err != nil {
		return nil, fmt.Errorf("failed to send %s: %w", msg.Janus, err)
	}

	timer := time.NewTimer(c.config.RequestTimeout)
	defer timer.Stop()

	select {
	case reply, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("%s: %w", msg.Janus, softphonesdk.ErrSessionClosed)
		}
		if reply.Janus == TypeError {
			code, reason := 0, "unknown error"
			if reply.Error != nil {
				code, reason = reply.Error.Code, reply.Error.Reason
			}
			return nil, softphonesdk.NewGatewayError(msg.Janus, code, reason)
		}
		return reply, nil
	case <-timer.C:
		return nil, fmt.Errorf("%s: %w", msg.Janus, softphonesdk.ErrRequestTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) write(conn *websocket.Conn, msg *Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(c.config.RequestTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(msg)
}

// listen reads frames from one websocket until it fails
func (c *Client) listen(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleConnectionError(conn, err)
			return
		}

		c.mu.Lock()
		if c.conn == conn {
			c.lastActivity = time.Now()
		}
		c.mu.Unlock()

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Debugf("Ignoring malformed gateway frame: %v", err)
			continue
		}
		c.route(&msg)
	}
}

// route delivers transaction replies to their waiter and events to handles
func (c *Client) route(msg *Message) {
	switch msg.Janus {
	case TypeSuccess, TypeError, TypeAck:
		c.mu.Lock()
		ch, ok := c.pending[msg.Transaction]
		if ok {
			select {
			case ch <- msg:
			default:
			}
		}
		c.mu.Unlock()
		if ok {
			return
		}
		if msg.Janus == TypeError {
			c.log.WithField("transaction", msg.Transaction).Warnf("Unsolicited gateway error: %+v", msg.Error)
		}
	case TypeTimeout:
		c.log.WithField("session", msg.SessionID).Warn("Gateway expired the session")
		c.dropConnection()
	default:
		c.mu.Lock()
		h := c.handles[msg.Sender]
		c.mu.Unlock()
		if h == nil {
			c.log.WithFields(logrus.Fields{"janus": msg.Janus, "sender": msg.Sender}).Debug("Event for unknown handle")
			return
		}
		h.dispatch(msg)
	}
}

// handleConnectionError fails everything bound to a socket that stopped
// reading and reports the session as lost unless the close was deliberate
func (c *Client) handleConnectionError(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	wasConnected := c.state == StateConnected
	c.conn = nil
	c.sessionID = 0
	if c.closeCh != nil {
		close(c.closeCh)
		c.closeCh = nil
	}
	c.failPendingLocked()
	handles := c.handles
	c.handles = make(map[uint64]*Handle)
	c.mu.Unlock()

	for _, h := range handles {
		h.sessionClosed()
	}

	if wasConnected {
		c.log.Errorf("Gateway session lost: %v", err)
		c.setState(StateFailed)
		c.emitter.Emit(EventSessionLost, err)
	}
}

// failPendingLocked wakes every waiting request with ErrSessionClosed.
// Callers hold c.mu, which route also holds while delivering replies.
func (c *Client) failPendingLocked() {
	for tx, ch := range c.pending {
		close(ch)
		delete(c.pending, tx)
	}
}

// dropConnection closes the current socket; the listener reports the loss
func (c *Client) dropConnection() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// keepaliveLoop keeps the gateway session from expiring
func (c *Client) keepaliveLoop(interval time.Duration, closeCh, done chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.config.RequestTimeout)
			_, err := c.request(ctx, &Message{Janus: TypeKeepalive})
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			c.log.Warnf("Keepalive failed (%d/%d): %v", failures, keepaliveFailureLimit, err)
			if failures >= keepaliveFailureLimit {
				c.dropConnection()
				return
			}
		case <-closeCh:
			return
		case <-done:
			return
		}
	}
}

// teardown detaches handles, destroys the session and closes the socket
func (c *Client) teardown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	c.mu.Lock()
	handles := make([]*Handle, 0, len(c.handles))
	for _, h := range c.handles {
		handles = append(handles, h)
	}
	sessionID := c.sessionID
	c.mu.Unlock()

	for _, h := range handles {
		if err := h.Detach(ctx); err != nil {
			c.log.WithField("handle", h.id).Debugf("Detach during teardown failed: %v", err)
		}
	}

	if sessionID != 0 {
		if _, err := c.request(ctx, &Message{Janus: TypeDestroy}); err != nil {
			c.log.WithField("session", sessionID).Debugf("Destroy failed: %v", err)
		}
	}

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.sessionID = 0
	if c.closeCh != nil {
		close(c.closeCh)
		c.closeCh = nil
	}
	c.failPendingLocked()
	c.handles = make(map[uint64]*Handle)
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "Disconnected by client"))
		c.writeMu.Unlock()
		_ = conn.Close()
	}

	if sessionID != 0 {
		c.log.WithField("session", sessionID).Info("Gateway session destroyed")
	}
	c.setState(StateDisconnected)
}

func (c *Client) setState(s ConnectionState) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()

	if prev != s {
		c.emitter.Emit(EventStateChanged, StateChange{From: prev, To: s})
	}
}
