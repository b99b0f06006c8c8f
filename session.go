package main

import (
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	maxSessions       = 100
	maxSessionNameLen = 30
	defaultSessionNm  = "World"
)

// SessionIdleTimeout is how long a session without viewers survives
var SessionIdleTimeout = 10 * time.Minute

var ErrTooManySessions = errors.New("too many active sessions")

// Session is one running world that viewers can join
type Session struct {
	ID         string
	Name       string
	World      *World
	lastActive time.Time
}

// SessionManager handles creation, lookup and reaping of sessions
type SessionManager struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	analytics *Analytics
}

// NewSessionManager creates a new SessionManager. analytics may be nil.
func NewSessionManager(analytics *Analytics) *SessionManager {
	return &SessionManager{
		sessions:  make(map[string]*Session),
		analytics: analytics,
	}
}

// CreateSession creates a world from cfg and starts its tick loop
func (sm *SessionManager) CreateSession(name string, cfg Config) (*Session, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = defaultSessionNm
	}
	if r := []rune(name); len(r) > maxSessionNameLen {
		name = string(r[:maxSessionNameLen])
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()
	if len(sm.sessions) >= maxSessions {
		return nil, ErrTooManySessions
	}

	id := uuid.NewString()
	world, err := NewWorld(cfg, sm.analytics, id)
	if err != nil {
		return nil, err
	}
	sess := &Session{
		ID:         id,
		Name:       name,
		World:      world,
		lastActive: time.Now(),
	}
	sm.sessions[id] = sess
	go world.Run()
	return sess, nil
}

// GetSession returns a session by ID
func (sm *SessionManager) GetSession(id string) *Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.sessions[id]
}

// MarkActive postpones reaping of a session
func (sm *SessionManager) MarkActive(id string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sess, ok := sm.sessions[id]; ok {
		sess.lastActive = time.Now()
	}
}

// RemoveSession stops a session's world and forgets it
func (sm *SessionManager) RemoveSession(id string) bool {
	sm.mu.Lock()
	sess, ok := sm.sessions[id]
	delete(sm.sessions, id)
	sm.mu.Unlock()
	if ok {
		sess.World.Stop()
	}
	return ok
}

// ReapIdle removes sessions that have had no viewers for SessionIdleTimeout
func (sm *SessionManager) ReapIdle(now time.Time) []string {
	sm.mu.Lock()
	var reaped []*Session
	for id, sess := range sm.sessions {
		if sess.World.ViewerCount() > 0 {
			sess.lastActive = now
			continue
		}
		if now.Sub(sess.lastActive) >= SessionIdleTimeout {
			reaped = append(reaped, sess)
			delete(sm.sessions, id)
		}
	}
	sm.mu.Unlock()

	ids := make([]string, 0, len(reaped))
	for _, sess := range reaped {
		sess.World.Stop()
		ids = append(ids, sess.ID)
	}
	return ids
}

// StopAll stops every world
func (sm *SessionManager) StopAll() {
	sm.mu.Lock()
	sessions := sm.sessions
	sm.sessions = make(map[string]*Session)
	sm.mu.Unlock()
	for _, sess := range sessions {
		sess.World.Stop()
	}
}

// ListSessions returns info about all active sessions, sorted by name
func (sm *SessionManager) ListSessions() []SessionInfo {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	list := make([]SessionInfo, 0, len(sm.sessions))
	for _, sess := range sm.sessions {
		list = append(list, SessionInfo{
			ID:      sess.ID,
			Name:    sess.Name,
			Viewers: sess.World.ViewerCount(),
			Objects: sess.World.ObjectCount(),
		})
	}
	slices.SortFunc(list, func(a, b SessionInfo) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return list
}

// Stats returns the live index occupancy of every session
func (sm *SessionManager) Stats() []SessionStats {
	sm.mu.RLock()
	worlds := make([]*World, 0, len(sm.sessions))
	for _, sess := range sm.sessions {
		worlds = append(worlds, sess.World)
	}
	sm.mu.RUnlock()

	stats := make([]SessionStats, 0, len(worlds))
	for _, w := range worlds {
		stats = append(stats, w.Stats())
	}
	slices.SortFunc(stats, func(a, b SessionStats) int { return strings.Compare(a.ID, b.ID) })
	return stats
}

// Count returns the number of sessions
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}
