package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/skip2/go-qrcode"
)

const (
	maxLoginBody  = 4096
	qrSize        = 256
	recentSamples = 20
)

var uuidPathRe = regexp.MustCompile(`^/[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // Non-browser clients don't send Origin
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return u.Host == r.Host
	},
}

func extractIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorMsg{Msg: msg})
}

// SetupRoutes configures HTTP routes
func SetupRoutes(hub *Hub, clientDir string) *http.ServeMux {
	mux := http.NewServeMux()

	if clientDir != "" {
		// Serve static files with no-cache so browsers always revalidate
		fs := http.FileServer(http.Dir(clientDir))
		mux.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-cache")
			// SPA: serve index.html for root and session paths
			if r.URL.Path == "/" || uuidPathRe.MatchString(r.URL.Path) {
				http.ServeFile(w, r, filepath.Join(clientDir, "index.html"))
				return
			}
			fs.ServeHTTP(w, r)
		}))
	}

	// WebSocket endpoint
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ip := extractIP(r)
		if !hub.CanAccept(ip) {
			http.Error(w, "too many connections", http.StatusServiceUnavailable)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("upgrade error: %v", err)
			return
		}

		hub.TrackConnect(ip)

		client := NewClient(hub, conn, ip)
		hub.register <- client

		go client.WritePump()
		go client.ReadPump()
	})

	mux.HandleFunc("POST /api/login", func(w http.ResponseWriter, r *http.Request) {
		handleLogin(hub, w, r)
	})
	mux.HandleFunc("GET /api/sessions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, hub.sessions.ListSessions())
	})
	mux.HandleFunc("GET /api/sessions/{id}/query", func(w http.ResponseWriter, r *http.Request) {
		handleQuery(hub, w, r)
	})
	mux.HandleFunc("GET /api/sessions/{id}/qr", func(w http.ResponseWriter, r *http.Request) {
		handleQR(hub, w, r)
	})
	mux.HandleFunc("GET /api/stats", func(w http.ResponseWriter, r *http.Request) {
		handleStats(hub, w, r)
	})

	return mux
}

func handleLogin(hub *Hub, w http.ResponseWriter, r *http.Request) {
	if hub.auth == nil {
		writeError(w, http.StatusServiceUnavailable, "operator login disabled")
		return
	}
	var req LoginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxLoginBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}
	token, err := hub.auth.Login(req.Username, req.Password, extractIP(r))
	switch {
	case errors.Is(err, ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, ErrBadCredentials):
		writeError(w, http.StatusUnauthorized, err.Error())
	case err != nil:
		log.Printf("login error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	default:
		writeJSON(w, http.StatusOK, LoginResponse{Token: token, Username: req.Username})
	}
}

// parseWatch reads a query region from URL parameters: either x, y and r for
// a neighbourhood or c0, r0, c1 and r1 for a cell rectangle
func parseWatch(v url.Values) (Watch, error) {
	var q Watch
	if v.Has("x") || v.Has("y") {
		x, err := strconv.ParseFloat(v.Get("x"), 64)
		if err != nil {
			return q, fmt.Errorf("bad x: %w", err)
		}
		y, err := strconv.ParseFloat(v.Get("y"), 64)
		if err != nil {
			return q, fmt.Errorf("bad y: %w", err)
		}
		radius := 0
		if v.Has("r") {
			if radius, err = strconv.Atoi(v.Get("r")); err != nil {
				return q, fmt.Errorf("bad r: %w", err)
			}
		}
		return Watch{Near: true, X: x, Y: y, Radius: radius}, nil
	}

	fields := []struct {
		name string
		dst  *int
	}{{"c0", &q.C0}, {"r0", &q.R0}, {"c1", &q.C1}, {"r1", &q.R1}}
	for _, f := range fields {
		n, err := strconv.Atoi(v.Get(f.name))
		if err != nil {
			return q, fmt.Errorf("bad %s: %w", f.name, err)
		}
		*f.dst = n
	}
	return q, nil
}

func handleQuery(hub *Hub, w http.ResponseWriter, r *http.Request) {
	sess := hub.sessions.GetSession(r.PathValue("id"))
	if sess == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	q, err := parseWatch(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sess.World.Query(q))
}

func handleQR(hub *Hub, w http.ResponseWriter, r *http.Request) {
	sess := hub.sessions.GetSession(r.PathValue("id"))
	if sess == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	png, err := qrcode.Encode(fmt.Sprintf("%s://%s/%s", scheme, r.Host, sess.ID), qrcode.Medium, qrSize)
	if err != nil {
		log.Printf("qr encode error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(png)
}

func handleStats(hub *Hub, w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{Sessions: hub.sessions.Stats()}
	if hub.analytics != nil {
		if sid := r.URL.Query().Get("sid"); sid != "" {
			samples, err := hub.analytics.RecentSamples(sid, recentSamples)
			if err != nil {
				log.Printf("stats query error: %v", err)
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}
			resp.Recent = samples
		}
		summary, err := hub.analytics.Summary()
		if err != nil {
			log.Printf("stats summary error: %v", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		resp.Summary = summary
	}
	writeJSON(w, http.StatusOK, resp)
}
