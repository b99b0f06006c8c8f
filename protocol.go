package main

import "encoding/json"

// Client -> Server message types
const (
	MsgList    = "list"    // list sessions
	MsgCreate  = "create"  // create session
	MsgJoin    = "join"    // start viewing a session
	MsgLeave   = "leave"   // stop viewing
	MsgWatch   = "watch"   // set the query region reported in every frame
	MsgUnwatch = "unwatch" // clear the query region
	MsgAuth    = "auth"    // present an operator token
	MsgSpawn   = "spawn"   // operator: add objects
	MsgDespawn = "despawn" // operator: remove an object
)

// Server -> Client message types
const (
	MsgState     = "state" // sent as a binary msgpack StateFrame
	MsgWelcome   = "welcome"
	MsgSessions  = "sessions"
	MsgCreated   = "created"
	MsgJoined    = "joined"
	MsgAuthOK    = "auth_ok"
	MsgSpawned   = "spawned"
	MsgDespawned = "despawned"
	MsgError     = "error"
)

// Envelope wraps all outgoing JSON messages with a type field
type Envelope struct {
	T    string      `json:"t"`
	Data interface{} `json:"d,omitempty"`
}

// InEnvelope is used for incoming messages; json.RawMessage avoids double-unmarshal
type InEnvelope struct {
	T string          `json:"t"`
	D json.RawMessage `json:"d,omitempty"`
}

// CreateMsg asks for a new session
type CreateMsg struct {
	Name string `json:"name"`
}

// JoinMsg asks to view a session
type JoinMsg struct {
	SessionID string `json:"sid"`
}

// Watch is a query region. It is either the cell rectangle C0,R0..C1,R1 or,
// when Near is set, the cells within Radius of the cell containing (X, Y).
type Watch struct {
	C0     int     `json:"c0"`
	R0     int     `json:"r0"`
	C1     int     `json:"c1"`
	R1     int     `json:"r1"`
	Near   bool    `json:"near,omitempty"`
	X      float64 `json:"x,omitempty"`
	Y      float64 `json:"y,omitempty"`
	Radius int     `json:"r,omitempty"`
}

// AuthMsg carries an operator token obtained from /api/login
type AuthMsg struct {
	Token string `json:"token"`
}

// AuthOKMsg confirms operator authentication
type AuthOKMsg struct {
	Username string `json:"username"`
}

// LoginRequest is the body of POST /api/login
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is returned by POST /api/login
type LoginResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
}

// SpawnMsg asks for N new objects
type SpawnMsg struct {
	N int `json:"n"`
}

// SpawnedMsg lists the objects created by a spawn request
type SpawnedMsg struct {
	IDs []uint32 `json:"ids"`
}

// DespawnMsg removes one object
type DespawnMsg struct {
	ID uint32 `json:"id"`
}

// GridInfo describes the world geometry to viewers
type GridInfo struct {
	Width    float64 `json:"w"`
	Height   float64 `json:"h"`
	Columns  int     `json:"cols"`
	Rows     int     `json:"rows"`
	TickRate int     `json:"tr"`
}

// WelcomeMsg is sent to a viewer after joining
type WelcomeMsg struct {
	ViewerID string   `json:"vid"`
	Grid     GridInfo `json:"grid"`
}

// SessionInfo is used in the session list
type SessionInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Viewers int    `json:"viewers"`
	Objects int    `json:"objects"`
}

// ErrorMsg sends error to client
type ErrorMsg struct {
	Msg string `json:"msg"`
}

// ObjectState is broadcast per object
type ObjectState struct {
	ID uint32  `json:"id" msgpack:"id"`
	X  float64 `json:"x" msgpack:"x"`
	Y  float64 `json:"y" msgpack:"y"`
	W  float64 `json:"w" msgpack:"w"`
	H  float64 `json:"h" msgpack:"h"`
}

// StateFrame is the per-viewer state broadcast. Highlight holds the objects
// around the world centre; Hits holds the result of the viewer's own watch.
type StateFrame struct {
	Tick      uint64        `json:"tick" msgpack:"tick"`
	Objects   []ObjectState `json:"o" msgpack:"o"`
	Highlight []uint32      `json:"hl" msgpack:"hl"`
	Hits      []uint32      `json:"hits,omitempty" msgpack:"hits,omitempty"`
}

// QueryResult is returned by the HTTP query endpoint
type QueryResult struct {
	Tick  uint64   `json:"tick"`
	Cells int      `json:"cells"`
	IDs   []uint32 `json:"ids"`
}

// StatsResponse is returned by /api/stats
type StatsResponse struct {
	Sessions []SessionStats `json:"sessions"`
	Recent   []TickSample   `json:"recent,omitempty"`
	Summary  []SampleTotals `json:"summary,omitempty"`
}

// SessionStats is the live index occupancy of one session
type SessionStats struct {
	ID            string `json:"id"`
	Tick          uint64 `json:"tick"`
	Tracked       int    `json:"tracked"`
	Cells         int    `json:"cells"`
	OccupiedCells int    `json:"occupied"`
	Memberships   int    `json:"memberships"`
}
