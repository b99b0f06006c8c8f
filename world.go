package main

import (
	"cmp"
	"fmt"
	"log"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/Warhorst/spatial-hash/spatial"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	maxViewersPerSession = 50
	maxSpawnPerRequest   = 500
)

// Broadcaster interface for sending messages to viewers
type Broadcaster interface {
	SendJSON(msg interface{})
	SendBinary(data []byte)
}

// World is one simulated map. It is the only owner of its spatial index: every
// tick it first moves all objects and refreshes their index entries, and only
// then runs the queries for that tick. All access goes through mu.
type World struct {
	mu        sync.RWMutex
	cfg       Config
	sessionID string
	index     *spatial.Index[ObjectID]
	objects   map[ObjectID]*Object
	nextID    ObjectID
	viewers   map[string]Broadcaster
	watches   map[string]Watch
	hits      map[string][]ObjectID // last watch result per viewer
	highlight []ObjectID            // objects around the world centre
	rng       *rand.Rand
	analytics *Analytics
	tick      uint64
	stopped   bool
	stop      chan struct{}
}

// NewWorld creates a world and spawns cfg.Objects objects into it
func NewWorld(cfg Config, analytics *Analytics, sessionID string) (*World, error) {
	return newWorld(cfg, analytics, sessionID, rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())))
}

func newWorld(cfg Config, analytics *Analytics, sessionID string, rng *rand.Rand) (*World, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	index, err := spatial.New[ObjectID](cfg.Bounds(), cfg.Resolution())
	if err != nil {
		return nil, fmt.Errorf("create spatial index: %w", err)
	}
	w := &World{
		cfg:       cfg,
		sessionID: sessionID,
		index:     index,
		objects:   make(map[ObjectID]*Object, cfg.Objects),
		viewers:   make(map[string]Broadcaster),
		watches:   make(map[string]Watch),
		hits:      make(map[string][]ObjectID),
		rng:       rng,
		analytics: analytics,
		stop:      make(chan struct{}),
	}
	w.spawnLocked(cfg.Objects)
	return w, nil
}

// Run drives the tick loop until Stop is called
func (w *World) Run() {
	ticker := time.NewTicker(w.cfg.TickDuration())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.update()
		case <-w.stop:
			return
		}
	}
}

// Stop terminates the tick loop. It is safe to call before Run and more than once.
func (w *World) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.stopped {
		w.stopped = true
		close(w.stop)
	}
}

// Spawn adds up to n objects (bounded by MaxObjects) and returns their IDs
func (w *World) Spawn(n int) []ObjectID {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.spawnLocked(n)
}

func (w *World) spawnLocked(n int) []ObjectID {
	n = min(n, w.cfg.MaxObjects-len(w.objects))
	if n <= 0 {
		return nil
	}
	ids := make([]ObjectID, 0, n)
	for i := 0; i < n; i++ {
		w.nextID++
		o := NewObject(w.nextID, w.rng, w.cfg)
		w.objects[o.ID] = o
		w.index.Insert(o.ID, o.BBox())
		ids = append(ids, o.ID)
	}
	return ids
}

// Despawn removes an object from the world and from the index
func (w *World) Despawn(id ObjectID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.objects[id]; !ok {
		return false
	}
	delete(w.objects, id)
	w.index.Remove(id)
	return true
}

// AddViewer registers a broadcaster. Returns false if the session is full.
func (w *World) AddViewer(id string, b Broadcaster) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.viewers[id]; !ok && len(w.viewers) >= maxViewersPerSession {
		return false
	}
	w.viewers[id] = b
	return true
}

// RemoveViewer forgets a viewer and its watch
func (w *World) RemoveViewer(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.viewers, id)
	delete(w.watches, id)
	delete(w.hits, id)
}

// SetWatch sets the region whose objects are reported to the viewer
func (w *World) SetWatch(viewerID string, q Watch) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.viewers[viewerID]; !ok {
		return
	}
	w.watches[viewerID] = q
	w.hits[viewerID] = w.queryLocked(q)
}

// ClearWatch stops reporting watch results to the viewer
func (w *World) ClearWatch(viewerID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.watches, viewerID)
	delete(w.hits, viewerID)
}

// Query runs a one-off region query against the current tick
func (w *World) Query(q Watch) QueryResult {
	w.mu.RLock()
	defer w.mu.RUnlock()
	res := QueryResult{Tick: w.tick, IDs: toWire(w.queryLocked(q))}
	if span, ok := w.cellsLocked(q); ok {
		res.Cells = span.Cells()
	}
	return res
}

// cellsLocked returns the grid cells covered by q. The second result is false
// when the region lies entirely off the grid.
func (w *World) cellsLocked(q Watch) (spatial.Span, bool) {
	if q.Near {
		if q.Radius < 0 {
			return spatial.Span{}, false
		}
		res := w.index.Resolution()
		q.Radius = min(q.Radius, max(res.Columns, res.Rows))
		c := w.index.CellFor(spatial.Vec2{X: q.X, Y: q.Y})
		q.C0, q.R0 = c.Column-q.Radius, c.Row-q.Radius
		q.C1, q.R1 = c.Column+q.Radius, c.Row+q.Radius
	}
	return w.index.Clip(spatial.Cell{Column: q.C0, Row: q.R0}, spatial.Cell{Column: q.C1, Row: q.R1})
}

func (w *World) queryLocked(q Watch) []ObjectID {
	span, ok := w.cellsLocked(q)
	if !ok {
		return nil
	}
	return sortedIDs(w.index.EntitiesIn(span.All()))
}

// update runs one tick
func (w *World) update() {
	w.mu.Lock()
	defer w.mu.Unlock()

	dt := 1.0 / float64(w.cfg.TickRate)
	w.tick++

	// Move every object and refresh its cells before any query runs
	for id, o := range w.objects {
		o.Update(dt, w.rng)
		w.index.Update(id, o.BBox())
	}

	center := spatial.Vec2{X: w.cfg.WorldWidth / 2, Y: w.cfg.WorldHeight / 2}
	w.highlight = sortedIDs(w.index.EntitiesNear(center, w.cfg.HighlightRadius))
	for vid, q := range w.watches {
		w.hits[vid] = w.queryLocked(q)
	}

	if w.cfg.CompactEvery > 0 && w.tick%uint64(w.cfg.CompactEvery) == 0 {
		w.index.Compact()
	}
	if w.analytics != nil && w.cfg.StatsEvery > 0 && w.tick%uint64(w.cfg.StatsEvery) == 0 {
		w.analytics.Track(w.sampleLocked())
	}
	if w.tick%w.cfg.BroadcastEvery() == 0 {
		w.broadcastState()
	}
}

// broadcastState sends every viewer a msgpack frame with its own watch hits
func (w *World) broadcastState() {
	if len(w.viewers) == 0 {
		return
	}
	frame := StateFrame{
		Tick:      w.tick,
		Objects:   make([]ObjectState, 0, len(w.objects)),
		Highlight: toWire(w.highlight),
	}
	for _, o := range w.objects {
		frame.Objects = append(frame.Objects, o.ToState())
	}
	slices.SortFunc(frame.Objects, func(a, b ObjectState) int { return cmp.Compare(a.ID, b.ID) })

	for vid, v := range w.viewers {
		frame.Hits = toWire(w.hits[vid])
		data, err := msgpack.Marshal(&frame)
		if err != nil {
			log.Printf("state marshal error: %v", err)
			return
		}
		v.SendBinary(data)
	}
}

func (w *World) sampleLocked() TickSample {
	s := w.index.Stats()
	return TickSample{
		SessionID:     w.sessionID,
		Tick:          w.tick,
		Tracked:       s.Tracked,
		Cells:         s.Cells,
		OccupiedCells: s.OccupiedCells,
		Memberships:   s.Memberships,
		Highlighted:   len(w.highlight),
		Viewers:       len(w.viewers),
		Timestamp:     time.Now().UTC(),
	}
}

// Stats returns the live index occupancy
func (w *World) Stats() SessionStats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s := w.index.Stats()
	return SessionStats{
		ID:            w.sessionID,
		Tick:          w.tick,
		Tracked:       s.Tracked,
		Cells:         s.Cells,
		OccupiedCells: s.OccupiedCells,
		Memberships:   s.Memberships,
	}
}

// Grid describes the world geometry
func (w *World) Grid() GridInfo {
	return GridInfo{
		Width:    w.cfg.WorldWidth,
		Height:   w.cfg.WorldHeight,
		Columns:  w.cfg.Columns,
		Rows:     w.cfg.Rows,
		TickRate: w.cfg.TickRate,
	}
}

// ObjectCount returns the number of live objects
func (w *World) ObjectCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.objects)
}

// ViewerCount returns the number of viewers
func (w *World) ViewerCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.viewers)
}

// Tick returns the current tick number
func (w *World) Tick() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.tick
}

// Highlight returns the objects found around the world centre on the last tick
func (w *World) Highlight() []ObjectID {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return slices.Clone(w.highlight)
}

func sortedIDs(ids []ObjectID) []ObjectID {
	slices.Sort(ids)
	return ids
}

func toWire(ids []ObjectID) []uint32 {
	if len(ids) == 0 {
		return nil
	}
	out := make([]uint32, len(ids))
	for i, id := range ids {
		out[i] = uint32(id)
	}
	return out
}
