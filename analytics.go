package main

import (
	"log"
	"sync"
	"time"
)

const (
	analyticsBuffer    = 1024
	analyticsBatchSize = 50
	analyticsFlush     = 5 * time.Second
)

// TickSample is a snapshot of one session's spatial index, taken every
// StatsEvery ticks
type TickSample struct {
	SessionID     string    `json:"sid"`
	Tick          uint64    `json:"tick"`
	Tracked       int       `json:"tracked"`
	Cells         int       `json:"cells"`
	OccupiedCells int       `json:"occupied"`
	Memberships   int       `json:"memberships"`
	Highlighted   int       `json:"highlighted"`
	Viewers       int       `json:"viewers"`
	Timestamp     time.Time `json:"ts"`
}

// SampleTotals aggregates all persisted samples of one session
type SampleTotals struct {
	SessionID      string  `json:"sid"`
	Samples        int     `json:"samples"`
	LastTick       uint64  `json:"last_tick"`
	AvgTracked     float64 `json:"avg_tracked"`
	AvgOccupied    float64 `json:"avg_occupied"`
	AvgMemberships float64 `json:"avg_memberships"`
	MaxViewers     int     `json:"max_viewers"`
}

// Analytics persists tick samples with batched background writes
type Analytics struct {
	db     *DB
	events chan TickSample
	stop   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewAnalytics creates and starts the analytics background writer
func NewAnalytics(db *DB) *Analytics {
	a := &Analytics{
		db:     db,
		events: make(chan TickSample, analyticsBuffer),
		stop:   make(chan struct{}),
	}
	a.wg.Add(1)
	go a.writer()
	return a
}

// Track enqueues a sample for async persistence (non-blocking)
func (a *Analytics) Track(s TickSample) {
	select {
	case a.events <- s:
	default:
		// Channel full, drop the sample rather than stall the tick loop
	}
}

// Stop flushes pending samples and shuts down the writer
func (a *Analytics) Stop() {
	a.once.Do(func() {
		close(a.stop)
		a.wg.Wait()
	})
}

// writer is the background goroutine that batches samples into the DB
func (a *Analytics) writer() {
	defer a.wg.Done()

	batch := make([]TickSample, 0, analyticsBatchSize)
	ticker := time.NewTicker(analyticsFlush)
	defer ticker.Stop()

	for {
		select {
		case s := <-a.events:
			batch = append(batch, s)
			if len(batch) >= analyticsBatchSize {
				a.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				a.flush(batch)
				batch = batch[:0]
			}
		case <-a.stop:
			// Drain whatever is already queued
			for {
				select {
				case s := <-a.events:
					batch = append(batch, s)
				default:
					a.flush(batch)
					return
				}
			}
		}
	}
}

// flush writes a batch of samples in one transaction
func (a *Analytics) flush(samples []TickSample) {
	if a.db == nil || len(samples) == 0 {
		return
	}
	tx, err := a.db.conn.Begin()
	if err != nil {
		log.Printf("analytics: begin tx error: %v", err)
		return
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO tick_stats
		(session_id, tick, tracked, cells, occupied, memberships, highlighted, viewers, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		log.Printf("analytics: prepare error: %v", err)
		return
	}
	defer stmt.Close()

	for _, s := range samples {
		_, err := stmt.Exec(s.SessionID, int64(s.Tick), s.Tracked, s.Cells, s.OccupiedCells,
			s.Memberships, s.Highlighted, s.Viewers, s.Timestamp.UTC().Format(time.RFC3339Nano))
		if err != nil {
			log.Printf("analytics: insert error: %v", err)
		}
	}
	if err := tx.Commit(); err != nil {
		log.Printf("analytics: commit error: %v", err)
	}
}

// RecentSamples returns the newest n samples of a session, newest first
func (a *Analytics) RecentSamples(sessionID string, n int) ([]TickSample, error) {
	if a.db == nil {
		return nil, nil
	}
	rows, err := a.db.conn.Query(`
		SELECT session_id, tick, tracked, cells, occupied, memberships, highlighted, viewers, created_at
		FROM tick_stats WHERE session_id = ?
		ORDER BY tick DESC LIMIT ?
	`, sessionID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []TickSample
	for rows.Next() {
		var s TickSample
		var tick int64
		var ts string
		if err := rows.Scan(&s.SessionID, &tick, &s.Tracked, &s.Cells, &s.OccupiedCells,
			&s.Memberships, &s.Highlighted, &s.Viewers, &ts); err != nil {
			return nil, err
		}
		s.Tick = uint64(tick)
		s.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		result = append(result, s)
	}
	return result, rows.Err()
}

// Summary returns per-session totals over every persisted sample
func (a *Analytics) Summary() ([]SampleTotals, error) {
	if a.db == nil {
		return nil, nil
	}
	rows, err := a.db.conn.Query(`
		SELECT session_id, COUNT(*), MAX(tick), AVG(tracked), AVG(occupied), AVG(memberships), MAX(viewers)
		FROM tick_stats
		GROUP BY session_id ORDER BY session_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []SampleTotals
	for rows.Next() {
		var t SampleTotals
		var last int64
		if err := rows.Scan(&t.SessionID, &t.Samples, &last, &t.AvgTracked, &t.AvgOccupied,
			&t.AvgMemberships, &t.MaxViewers); err != nil {
			return nil, err
		}
		t.LastTick = uint64(last)
		result = append(result, t)
	}
	return result, rows.Err()
}
