package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/crypto/bcrypt"
)

// ---------- helpers ----------

const (
	testOperator = "operator"
	testPassword = "hunter22"
)

// startTestServer spins up an httptest.Server with a Hub backed by a temp
// database and returns the server, its WebSocket URL and the hub
func startTestServer(t *testing.T) (*httptest.Server, string, *Hub) {
	t.Helper()

	// Create a temp client dir with a minimal index.html
	tmpDir := t.TempDir()
	jsDir := filepath.Join(tmpDir, "js")
	os.MkdirAll(jsDir, 0o755)
	os.WriteFile(filepath.Join(tmpDir, "index.html"), []byte("<html>test</html>"), 0o644)
	os.WriteFile(filepath.Join(jsDir, "main.js"), []byte("// test"), 0o644)

	db, err := OpenDB(filepath.Join(t.TempDir(), "server.db"))
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	cfg := testConfig()
	cfg.Objects = 5
	cfg.Speed = 50

	hub := NewHub(cfg, db)
	hub.auth.cost = bcrypt.MinCost
	if err := hub.auth.EnsureOperator(testOperator, testPassword); err != nil {
		t.Fatalf("EnsureOperator: %v", err)
	}
	go hub.Run()

	srv := httptest.NewServer(SetupRoutes(hub, tmpDir))
	t.Cleanup(func() {
		srv.Close()
		hub.Shutdown()
		db.Close()
	})

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	return srv, wsURL, hub
}

// dialWS opens a WebSocket connection to the test server.
func dialWS(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial WS: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readJSON reads the next JSON message, skipping binary state frames.
func readJSON(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	for {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read WS: %v", err)
		}
		if msgType == websocket.BinaryMessage {
			continue
		}
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return env
	}
}

// readFrame reads the next msgpack state frame, skipping JSON messages.
func readFrame(t *testing.T, conn *websocket.Conn) StateFrame {
	t.Helper()
	for {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read WS: %v", err)
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		var f StateFrame
		if err := msgpack.Unmarshal(raw, &f); err != nil {
			t.Fatalf("msgpack unmarshal: %v", err)
		}
		return f
	}
}

// sendMsg sends a typed message over the WebSocket.
func sendMsg(t *testing.T, conn *websocket.Conn, msgType string, data interface{}) {
	t.Helper()
	env := Envelope{T: msgType, Data: data}
	raw, _ := json.Marshal(env)
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("write WS: %v", err)
	}
}

// dataMap extracts the Data field as map[string]interface{}.
func dataMap(t *testing.T, env Envelope) map[string]interface{} {
	t.Helper()
	raw, _ := json.Marshal(env.Data)
	var m map[string]interface{}
	json.Unmarshal(raw, &m)
	return m
}

// createAndJoin creates a session then joins it. Returns the session ID.
func createAndJoin(t *testing.T, conn *websocket.Conn, name string) string {
	t.Helper()
	sendMsg(t, conn, MsgCreate, CreateMsg{Name: name})
	created := readJSON(t, conn)
	if created.T != MsgCreated {
		t.Fatalf("expected created, got %s", created.T)
	}
	sid := dataMap(t, created)["sid"].(string)

	sendMsg(t, conn, MsgJoin, JoinMsg{SessionID: sid})
	joined := readJSON(t, conn)
	if joined.T != MsgJoined {
		t.Fatalf("expected joined, got %s", joined.T)
	}
	welcome := readJSON(t, conn)
	if welcome.T != MsgWelcome {
		t.Fatalf("expected welcome, got %s", welcome.T)
	}
	return sid
}

func login(t *testing.T, srv *httptest.Server, user, pass string) *http.Response {
	t.Helper()
	body, _ := json.Marshal(LoginRequest{Username: user, Password: pass})
	resp, err := http.Post(srv.URL+"/api/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func getJSON(t *testing.T, url string, v interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if v != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

// ---------- SPA routing ----------

func TestSPARouting(t *testing.T) {
	srv, _, _ := startTestServer(t)

	tests := []struct {
		path string
		want int
	}{
		{"/", 200},
		{"/" + uuid.NewString(), 200},
		{"/js/main.js", 200},
		{"/not-a-uuid", 404},
	}
	for _, tt := range tests {
		resp, err := http.Get(srv.URL + tt.path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != tt.want {
			t.Errorf("GET %s status = %d, want %d", tt.path, resp.StatusCode, tt.want)
		}
	}
}

// ---------- WebSocket protocol ----------

func TestCreateJoinReceivesFrames(t *testing.T) {
	_, wsURL, _ := startTestServer(t)
	c := dialWS(t, wsURL)
	createAndJoin(t, c, "Arena")

	f := readFrame(t, c)
	if f.Tick == 0 {
		t.Error("expected a positive tick")
	}
	if len(f.Objects) != 5 {
		t.Errorf("expected 5 objects, got %d", len(f.Objects))
	}
	next := readFrame(t, c)
	if next.Tick <= f.Tick {
		t.Errorf("ticks should increase: %d then %d", f.Tick, next.Tick)
	}
}

func TestJoinNonExistentSession(t *testing.T) {
	_, wsURL, _ := startTestServer(t)
	c := dialWS(t, wsURL)

	sendMsg(t, c, MsgJoin, JoinMsg{SessionID: uuid.NewString()})
	env := readJSON(t, c)
	if env.T != MsgError {
		t.Fatalf("expected error, got %s", env.T)
	}
	if msg := dataMap(t, env)["msg"]; msg != "session not found" {
		t.Errorf("unexpected error %v", msg)
	}
}

func TestListSessions(t *testing.T) {
	_, wsURL, _ := startTestServer(t)
	c1 := dialWS(t, wsURL)
	sid := createAndJoin(t, c1, "Listed")

	c2 := dialWS(t, wsURL)
	sendMsg(t, c2, MsgList, nil)
	env := readJSON(t, c2)
	if env.T != MsgSessions {
		t.Fatalf("expected sessions, got %s", env.T)
	}
	raw, _ := json.Marshal(env.Data)
	var list []SessionInfo
	json.Unmarshal(raw, &list)
	if len(list) != 1 || list[0].ID != sid || list[0].Name != "Listed" || list[0].Viewers != 1 || list[0].Objects != 5 {
		t.Errorf("unexpected list %+v", list)
	}
}

func TestWatchWholeGrid(t *testing.T) {
	_, wsURL, _ := startTestServer(t)
	c := dialWS(t, wsURL)
	createAndJoin(t, c, "Watch")

	sendMsg(t, c, MsgWatch, Watch{C0: 0, R0: 0, C1: 99, R1: 99})
	for i := 0; i < 10; i++ {
		f := readFrame(t, c)
		if len(f.Hits) == len(f.Objects) && len(f.Hits) == 5 {
			sendMsg(t, c, MsgUnwatch, nil)
			return
		}
	}
	t.Error("watch covering the grid never reported every object")
}

func TestWatchRequiresSession(t *testing.T) {
	_, wsURL, _ := startTestServer(t)
	c := dialWS(t, wsURL)
	sendMsg(t, c, MsgWatch, Watch{C1: 5, R1: 5})
	if env := readJSON(t, c); env.T != MsgError {
		t.Errorf("expected error, got %s", env.T)
	}
}

func TestSpawnRequiresOperator(t *testing.T) {
	_, wsURL, _ := startTestServer(t)
	c := dialWS(t, wsURL)
	createAndJoin(t, c, "Spawn")

	sendMsg(t, c, MsgSpawn, SpawnMsg{N: 3})
	env := readJSON(t, c)
	if env.T != MsgError || dataMap(t, env)["msg"] != "not authenticated" {
		t.Errorf("expected not authenticated error, got %+v", env)
	}
}

func TestOperatorSpawnAndDespawn(t *testing.T) {
	srv, wsURL, hub := startTestServer(t)

	resp := login(t, srv, testOperator, testPassword)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status %d", resp.StatusCode)
	}
	var lr LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		t.Fatal(err)
	}

	c := dialWS(t, wsURL)
	sid := createAndJoin(t, c, "Ops")

	sendMsg(t, c, MsgAuth, AuthMsg{Token: lr.Token})
	env := readJSON(t, c)
	if env.T != MsgAuthOK || dataMap(t, env)["username"] != testOperator {
		t.Fatalf("expected auth_ok, got %+v", env)
	}

	sendMsg(t, c, MsgSpawn, SpawnMsg{N: 3})
	env = readJSON(t, c)
	if env.T != MsgSpawned {
		t.Fatalf("expected spawned, got %s", env.T)
	}
	raw, _ := json.Marshal(env.Data)
	var spawned SpawnedMsg
	json.Unmarshal(raw, &spawned)
	if len(spawned.IDs) != 3 {
		t.Fatalf("expected 3 ids, got %v", spawned.IDs)
	}
	world := hub.sessions.GetSession(sid).World
	if world.ObjectCount() != 8 {
		t.Errorf("expected 8 objects, got %d", world.ObjectCount())
	}

	sendMsg(t, c, MsgDespawn, DespawnMsg{ID: spawned.IDs[0]})
	if env := readJSON(t, c); env.T != MsgDespawned {
		t.Fatalf("expected despawned, got %s", env.T)
	}
	sendMsg(t, c, MsgDespawn, DespawnMsg{ID: spawned.IDs[0]})
	if env := readJSON(t, c); env.T != MsgError {
		t.Errorf("second despawn: expected error, got %s", env.T)
	}
	if world.ObjectCount() != 7 {
		t.Errorf("expected 7 objects, got %d", world.ObjectCount())
	}
}

func TestAuthRejectsBadToken(t *testing.T) {
	_, wsURL, _ := startTestServer(t)
	c := dialWS(t, wsURL)
	sendMsg(t, c, MsgAuth, AuthMsg{Token: "garbage"})
	if env := readJSON(t, c); env.T != MsgError {
		t.Errorf("expected error, got %s", env.T)
	}
}

func TestLeaveStopsFrames(t *testing.T) {
	_, wsURL, hub := startTestServer(t)
	c := dialWS(t, wsURL)
	sid := createAndJoin(t, c, "Leave")
	readFrame(t, c)

	sendMsg(t, c, MsgLeave, nil)
	world := hub.sessions.GetSession(sid).World
	deadline := time.Now().Add(2 * time.Second)
	for world.ViewerCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("viewer not removed after leave")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDisconnectRemovesViewer(t *testing.T) {
	_, wsURL, hub := startTestServer(t)
	c := dialWS(t, wsURL)
	sid := createAndJoin(t, c, "Gone")
	c.Close()

	world := hub.sessions.GetSession(sid).World
	deadline := time.Now().Add(2 * time.Second)
	for world.ViewerCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("viewer not removed after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// ---------- HTTP API ----------

func TestLoginEndpoint(t *testing.T) {
	srv, _, _ := startTestServer(t)

	if resp := login(t, srv, testOperator, "wrong-password"); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("bad password status %d", resp.StatusCode)
	}
	resp, err := http.Post(srv.URL+"/api/login", "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed body status %d", resp.StatusCode)
	}
	resp, err = http.Get(srv.URL + "/api/login")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		t.Error("GET /api/login should not succeed")
	}
}

func TestQueryEndpoint(t *testing.T) {
	srv, _, hub := startTestServer(t)
	sess, err := hub.sessions.CreateSession("Query", hub.cfg)
	if err != nil {
		t.Fatal(err)
	}
	base := srv.URL + "/api/sessions/" + sess.ID + "/query"

	var res QueryResult
	if code := getJSON(t, base+"?c0=0&r0=0&c1=99&r1=99", &res); code != http.StatusOK {
		t.Fatalf("rect query status %d", code)
	}
	if len(res.IDs) != 5 || res.Cells != 10000 {
		t.Errorf("rect query: %d ids over %d cells", len(res.IDs), res.Cells)
	}

	res = QueryResult{}
	if code := getJSON(t, base+"?x=500&y=500&r=2", &res); code != http.StatusOK {
		t.Fatalf("near query status %d", code)
	}
	if res.Cells != 25 {
		t.Errorf("near query covered %d cells, want 25", res.Cells)
	}

	if code := getJSON(t, base+"?c0=a", nil); code != http.StatusBadRequest {
		t.Errorf("bad params status %d", code)
	}
	if code := getJSON(t, srv.URL+"/api/sessions/"+uuid.NewString()+"/query?c0=0&r0=0&c1=1&r1=1", nil); code != http.StatusNotFound {
		t.Errorf("unknown session status %d", code)
	}
}

func TestSessionsAndStatsEndpoints(t *testing.T) {
	srv, _, hub := startTestServer(t)
	sess, _ := hub.sessions.CreateSession("Stats", hub.cfg)

	var list []SessionInfo
	if code := getJSON(t, srv.URL+"/api/sessions", &list); code != http.StatusOK {
		t.Fatalf("sessions status %d", code)
	}
	if len(list) != 1 || list[0].ID != sess.ID {
		t.Errorf("unexpected sessions %+v", list)
	}

	var stats StatsResponse
	if code := getJSON(t, srv.URL+"/api/stats?sid="+sess.ID, &stats); code != http.StatusOK {
		t.Fatalf("stats status %d", code)
	}
	if len(stats.Sessions) != 1 || stats.Sessions[0].Tracked != 5 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestQREndpoint(t *testing.T) {
	srv, _, hub := startTestServer(t)
	sess, _ := hub.sessions.CreateSession("QR", hub.cfg)

	resp, err := http.Get(srv.URL + "/api/sessions/" + sess.ID + "/qr")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("qr status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("content type %q", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	if !bytes.HasPrefix(body, []byte("\x89PNG")) {
		t.Error("body is not a PNG")
	}

	resp2, err := http.Get(srv.URL + "/api/sessions/" + uuid.NewString() + "/qr")
	if err != nil {
		t.Fatal(err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Errorf("unknown session qr status %d", resp2.StatusCode)
	}
}

func TestConnectionLimitPerIP(t *testing.T) {
	_, wsURL, hub := startTestServer(t)
	for i := 0; i < maxConnsPerIP; i++ {
		dialWS(t, wsURL)
	}
	// connections are counted after the upgrade completes
	deadline := time.Now().Add(2 * time.Second)
	for hub.TotalConns() < maxConnsPerIP {
		if time.Now().After(deadline) {
			t.Fatalf("only %d connections tracked", hub.TotalConns())
		}
		time.Sleep(10 * time.Millisecond)
	}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("expected connection to be refused")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %+v", resp)
	}
}
