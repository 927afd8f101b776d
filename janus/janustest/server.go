/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package janustest provides an in-process Janus gateway for tests. It speaks
// the websocket API (create, attach, message, keepalive, hangup, detach,
// destroy) and lets tests script plugin behavior per plugin package name.
package janustest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/tejzpr/janus-sip-go-sdk/janus"
)

// PluginHandler scripts a plugin's reaction to one "message" request
type PluginHandler func(ex *Exchange)

// Server is a scripted Janus gateway
type Server struct {
	*httptest.Server

	// URL is the websocket URL of the gateway
	URL string

	mu       sync.Mutex
	nextID   uint64
	conns    map[*conn]struct{}
	sessions map[uint64]*conn
	handles  map[uint64]string
	plugins  map[string]PluginHandler
	frames   []janus.Message

	// FailCreates makes the next N create requests fail with a janus error
	FailCreates int
	// IgnoreKeepalives leaves keepalives unanswered
	IgnoreKeepalives bool
	// RejectAttach makes attach requests fail with a janus error
	RejectAttach bool

	peers *peers
}

type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) send(v interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.WriteJSON(v)
}

// NewServer starts a gateway. Close it with Close.
func NewServer() *Server {
	s := &Server{
		nextID:   1000,
		conns:    make(map[*conn]struct{}),
		sessions: make(map[uint64]*conn),
		handles:  make(map[uint64]string),
		plugins:  make(map[string]PluginHandler),
		peers:    newPeers(),
	}
	upgrader := websocket.Upgrader{
		Subprotocols: []string{janus.Subprotocol},
		CheckOrigin:  func(r *http.Request) bool { return true },
	}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := &conn{ws: ws}
		s.mu.Lock()
		s.conns[c] = struct{}{}
		s.mu.Unlock()
		s.serve(c)
	}))
	s.URL = "ws" + strings.TrimPrefix(s.Server.URL, "http")
	return s
}

// Close stops the gateway and releases any answering peers
func (s *Server) Close() {
	s.DropConnections()
	s.Server.Close()
	s.peers.closeAll()
}

// Handle installs the script for a plugin package name
func (s *Server) Handle(plugin string, handler PluginHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plugins[plugin] = handler
}

// Frames returns every frame received so far
func (s *Server) Frames() []janus.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]janus.Message(nil), s.frames...)
}

// CountFrames returns how many frames of a janus type were received
func (s *Server) CountFrames(janusType string) int {
	n := 0
	for _, f := range s.Frames() {
		if f.Janus == janusType {
			n++
		}
	}
	return n
}

// Requests returns the bodies of plugin messages whose "request" matches
func (s *Server) Requests(request string) []map[string]interface{} {
	var out []map[string]interface{}
	for _, f := range s.Frames() {
		if f.Janus != janus.TypeMessage {
			continue
		}
		body, _ := f.Body.(map[string]interface{})
		if body["request"] == request {
			out = append(out, body)
		}
	}
	return out
}

// HandleIDs returns the ids of attached handles for a plugin
func (s *Server) HandleIDs(plugin string) []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []uint64
	for id, p := range s.handles {
		if p == plugin {
			ids = append(ids, id)
		}
	}
	return ids
}

// Push sends an unsolicited plugin event to a handle
func (s *Server) Push(handleID uint64, data interface{}, jsep *janus.JSEP) {
	s.mu.Lock()
	plugin := s.handles[handleID]
	var target *conn
	for _, c := range s.sessions {
		target = c
	}
	s.mu.Unlock()
	if target == nil {
		return
	}
	raw, _ := json.Marshal(data)
	target.send(janus.Message{
		Janus:      janus.TypeEvent,
		Sender:     handleID,
		PluginData: &janus.PluginData{Plugin: plugin, Data: raw},
		JSEP:       jsep,
	})
}

// PushJanus sends a janus-level event (webrtcup, hangup, media...) to a handle
func (s *Server) PushJanus(handleID uint64, msg janus.Message) {
	s.mu.Lock()
	var target *conn
	for _, c := range s.sessions {
		target = c
	}
	s.mu.Unlock()
	if target == nil {
		return
	}
	msg.Sender = handleID
	target.send(msg)
}

// ExpireSessions sends a session timeout for every live session
func (s *Server) ExpireSessions() {
	s.mu.Lock()
	sessions := make(map[uint64]*conn, len(s.sessions))
	for id, c := range s.sessions {
		sessions[id] = c
	}
	s.mu.Unlock()
	for id, c := range sessions {
		c.send(janus.Message{Janus: janus.TypeTimeout, SessionID: id})
	}
}

// DropConnections closes every client socket without a close handshake
func (s *Server) DropConnections() {
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.ws.Close()
	}
}

func (s *Server) newID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	return s.nextID
}

func (s *Server) serve(c *conn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		for id, sc := range s.sessions {
			if sc == c {
				delete(s.sessions, id)
			}
		}
		s.mu.Unlock()
		_ = c.ws.Close()
	}()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		var msg janus.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		s.mu.Lock()
		s.frames = append(s.frames, msg)
		s.mu.Unlock()
		s.handleFrame(c, &msg)
	}
}

func (s *Server) handleFrame(c *conn, msg *janus.Message) {
	reply := janus.Message{Transaction: msg.Transaction, SessionID: msg.SessionID}

	switch msg.Janus {
	case janus.TypeCreate:
		s.mu.Lock()
		fail := s.FailCreates > 0
		if fail {
			s.FailCreates--
		}
		s.mu.Unlock()
		if fail {
			reply.Janus = janus.TypeError
			reply.Error = &janus.ErrorInfo{Code: 490, Reason: "Unknown session"}
			c.send(reply)
			return
		}
		id := s.newID()
		s.mu.Lock()
		s.sessions[id] = c
		s.mu.Unlock()
		reply.Janus = janus.TypeSuccess
		reply.Data = &janus.IDData{ID: id}
	case janus.TypeAttach:
		s.mu.Lock()
		reject := s.RejectAttach
		s.mu.Unlock()
		if reject {
			reply.Janus = janus.TypeError
			reply.Error = &janus.ErrorInfo{Code: 460, Reason: "No such plugin"}
			c.send(reply)
			return
		}
		id := s.newID()
		s.mu.Lock()
		s.handles[id] = msg.Plugin
		s.mu.Unlock()
		reply.Janus = janus.TypeSuccess
		reply.Data = &janus.IDData{ID: id}
	case janus.TypeKeepalive:
		s.mu.Lock()
		ignore := s.IgnoreKeepalives
		s.mu.Unlock()
		if ignore {
			return
		}
		reply.Janus = janus.TypeAck
	case janus.TypeDetach:
		s.mu.Lock()
		delete(s.handles, msg.HandleID)
		s.mu.Unlock()
		reply.Janus = janus.TypeSuccess
		c.send(reply)
		c.send(janus.Message{Janus: janus.TypeDetached, SessionID: msg.SessionID, Sender: msg.HandleID})
		return
	case janus.TypeHangup:
		reply.Janus = janus.TypeSuccess
	case janus.TypeDestroy:
		s.mu.Lock()
		delete(s.sessions, msg.SessionID)
		s.mu.Unlock()
		reply.Janus = janus.TypeSuccess
	case janus.TypeMessage:
		s.mu.Lock()
		plugin := s.handles[msg.HandleID]
		handler := s.plugins[plugin]
		s.mu.Unlock()
		ex := &Exchange{server: s, conn: c, Request: *msg, Plugin: plugin}
		ex.Body, _ = msg.Body.(map[string]interface{})
		if handler == nil {
			ex.Ack()
			return
		}
		handler(ex)
		return
	default:
		reply.Janus = janus.TypeError
		reply.Error = &janus.ErrorInfo{Code: 453, Reason: "Unknown request '" + msg.Janus + "'"}
	}
	c.send(reply)
}

// Exchange is one plugin message being scripted
type Exchange struct {
	server  *Server
	conn    *conn
	Request janus.Message
	Body    map[string]interface{}
	Plugin  string
}

// Ack acknowledges the message
func (e *Exchange) Ack() {
	e.conn.send(janus.Message{Janus: janus.TypeAck, Transaction: e.Request.Transaction, SessionID: e.Request.SessionID})
}

// Event sends an asynchronous plugin event for this message
func (e *Exchange) Event(data interface{}, jsep *janus.JSEP) {
	raw, _ := json.Marshal(data)
	e.conn.send(janus.Message{
		Janus:       janus.TypeEvent,
		Transaction: e.Request.Transaction,
		SessionID:   e.Request.SessionID,
		Sender:      e.Request.HandleID,
		PluginData:  &janus.PluginData{Plugin: e.Plugin, Data: raw},
		JSEP:        jsep,
	})
}

// Success answers synchronously with plugin data
func (e *Exchange) Success(data interface{}) {
	raw, _ := json.Marshal(data)
	e.conn.send(janus.Message{
		Janus:       janus.TypeSuccess,
		Transaction: e.Request.Transaction,
		SessionID:   e.Request.SessionID,
		Sender:      e.Request.HandleID,
		PluginData:  &janus.PluginData{Plugin: e.Plugin, Data: raw},
	})
}

// Error answers with a janus-level error
func (e *Exchange) Error(code int, reason string) {
	e.conn.send(janus.Message{
		Janus:       janus.TypeError,
		Transaction: e.Request.Transaction,
		SessionID:   e.Request.SessionID,
		Error:       &janus.ErrorInfo{Code: code, Reason: reason},
	})
}

// String returns a body field as a string
func (e *Exchange) String(key string) string {
	v, _ := e.Body[key].(string)
	return v
}
