package main

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 4096
	sendBufSize       = 256
	maxMessagesPerSec = 50
)

// Client represents a WebSocket connection. A client views at most one
// session at a time.
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	id         string // viewer ID inside the joined world
	sessMu     sync.Mutex
	sessionID  string // written by the read pump, read by the hub on unregister
	remoteAddr string
	msgCount   int
	msgResetAt time.Time
	// Auth state
	operatorID int64  // 0 = not an operator
	operator   string // "" = not an operator
}

// NewClient creates a new Client
func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string) *Client {
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBufSize),
		id:         GenerateID(8),
		remoteAddr: remoteAddr,
	}
}

// ReadPump reads messages from the WebSocket connection
func (c *Client) ReadPump() {
	defer func() {
		c.hub.TrackDisconnect(c.remoteAddr)
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("ws error: %v", err)
			}
			break
		}

		// Rate limiting
		now := time.Now()
		if now.After(c.msgResetAt) {
			c.msgCount = 0
			c.msgResetAt = now.Add(time.Second)
		}
		c.msgCount++
		if c.msgCount > maxMessagesPerSec {
			log.Printf("rate limit exceeded for %s, disconnecting", c.remoteAddr)
			break
		}

		c.handleMessage(message)
	}
}

// WritePump writes messages to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// Check for binary marker (0xFF prefix from SendBinary)
			var err error
			if len(message) > 0 && message[0] == 0xFF {
				err = c.conn.WriteMessage(websocket.BinaryMessage, message[1:])
			} else {
				err = c.conn.WriteMessage(websocket.TextMessage, message)
			}
			if err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendJSON sends a JSON message to the client
func (c *Client) SendJSON(msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("marshal error: %v", err)
		return
	}
	c.SendRaw(data)
}

// SendRaw sends pre-marshaled bytes as a text message to the client
func (c *Client) SendRaw(data []byte) {
	defer func() { recover() }()
	select {
	case c.send <- data:
	default:
		// Client too slow, drop message
	}
}

// SendBinary sends pre-marshaled bytes as a binary WebSocket message.
// Prefixes with 0xFF marker byte so WritePump can distinguish from text.
func (c *Client) SendBinary(data []byte) {
	defer func() { recover() }()
	msg := make([]byte, len(data)+1)
	msg[0] = 0xFF // binary marker
	copy(msg[1:], data)
	select {
	case c.send <- msg:
	default:
	}
}

func (c *Client) sendError(msg string) {
	c.SendJSON(Envelope{T: MsgError, Data: ErrorMsg{Msg: msg}})
}

// handleMessage routes incoming messages (single-pass decode via InEnvelope)
func (c *Client) handleMessage(raw []byte) {
	var env InEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Printf("unmarshal error: %v", err)
		return
	}

	switch env.T {
	case MsgList:
		c.handleList()
	case MsgCreate:
		c.handleCreate(env.D)
	case MsgJoin:
		c.handleJoin(env.D)
	case MsgLeave:
		c.handleLeave()
	case MsgWatch:
		c.handleWatch(env.D)
	case MsgUnwatch:
		c.handleUnwatch()
	case MsgAuth:
		c.handleAuth(env.D)
	case MsgSpawn:
		c.handleSpawn(env.D)
	case MsgDespawn:
		c.handleDespawn(env.D)
	}
}

// SessionID returns the session the client is viewing, or ""
func (c *Client) SessionID() string {
	c.sessMu.Lock()
	defer c.sessMu.Unlock()
	return c.sessionID
}

func (c *Client) setSessionID(id string) {
	c.sessMu.Lock()
	c.sessionID = id
	c.sessMu.Unlock()
}

// world returns the world the client is viewing, or nil
func (c *Client) world() *World {
	sid := c.SessionID()
	if sid == "" {
		return nil
	}
	sess := c.hub.sessions.GetSession(sid)
	if sess == nil {
		return nil
	}
	return sess.World
}

func (c *Client) handleList() {
	c.SendJSON(Envelope{T: MsgSessions, Data: c.hub.sessions.ListSessions()})
}

func (c *Client) handleCreate(data json.RawMessage) {
	var msg CreateMsg
	if len(data) > 0 {
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
	}
	sess, err := c.hub.sessions.CreateSession(msg.Name, c.hub.cfg)
	if err != nil {
		c.sendError(err.Error())
		return
	}
	c.SendJSON(Envelope{T: MsgCreated, Data: map[string]string{"sid": sess.ID}})
}

func (c *Client) handleJoin(data json.RawMessage) {
	var msg JoinMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	sess := c.hub.sessions.GetSession(msg.SessionID)
	if sess == nil {
		c.sendError("session not found")
		return
	}
	c.handleLeave()
	if !sess.World.AddViewer(c.id, c) {
		c.sendError("session full")
		return
	}
	c.setSessionID(sess.ID)
	c.hub.sessions.MarkActive(sess.ID)

	c.SendJSON(Envelope{T: MsgJoined, Data: map[string]string{"sid": sess.ID}})
	c.SendJSON(Envelope{T: MsgWelcome, Data: WelcomeMsg{ViewerID: c.id, Grid: sess.World.Grid()}})
}

func (c *Client) handleLeave() {
	if w := c.world(); w != nil {
		w.RemoveViewer(c.id)
		c.hub.sessions.MarkActive(c.SessionID())
	}
	c.setSessionID("")
}

func (c *Client) handleWatch(data json.RawMessage) {
	w := c.world()
	if w == nil {
		c.sendError("not in a session")
		return
	}
	var q Watch
	if err := json.Unmarshal(data, &q); err != nil {
		c.sendError("bad watch")
		return
	}
	w.SetWatch(c.id, q)
}

func (c *Client) handleUnwatch() {
	if w := c.world(); w != nil {
		w.ClearWatch(c.id)
	}
}

func (c *Client) handleAuth(data json.RawMessage) {
	if c.hub.auth == nil {
		c.sendError("operator login disabled")
		return
	}
	var msg AuthMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	id, username, err := c.hub.auth.ValidateToken(msg.Token)
	if err != nil {
		c.sendError("invalid token")
		return
	}
	c.operatorID = id
	c.operator = username
	c.SendJSON(Envelope{T: MsgAuthOK, Data: AuthOKMsg{Username: username}})
}

func (c *Client) handleSpawn(data json.RawMessage) {
	if c.operatorID == 0 {
		c.sendError("not authenticated")
		return
	}
	w := c.world()
	if w == nil {
		c.sendError("not in a session")
		return
	}
	var msg SpawnMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	n := min(max(msg.N, 1), maxSpawnPerRequest)
	ids := w.Spawn(n)
	c.SendJSON(Envelope{T: MsgSpawned, Data: SpawnedMsg{IDs: toWire(ids)}})
}

func (c *Client) handleDespawn(data json.RawMessage) {
	if c.operatorID == 0 {
		c.sendError("not authenticated")
		return
	}
	w := c.world()
	if w == nil {
		c.sendError("not in a session")
		return
	}
	var msg DespawnMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	if !w.Despawn(ObjectID(msg.ID)) {
		c.sendError("object not found")
		return
	}
	c.SendJSON(Envelope{T: MsgDespawned, Data: msg})
}
