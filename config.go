package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Warhorst/spatial-hash/spatial"
)

const maxConfigSize = 1 << 20 // 1MB

// Config holds the parameters of one simulated world
type Config struct {
	WorldWidth      float64 `json:"world_width"`
	WorldHeight     float64 `json:"world_height"`
	Columns         int     `json:"columns"`
	Rows            int     `json:"rows"`
	Objects         int     `json:"objects"`     // spawned when a world starts
	MaxObjects      int     `json:"max_objects"` // cap for operator spawns
	Speed           float64 `json:"speed"`       // world units per second
	ObjectSize      float64 `json:"object_size"` // 0 = world width / 50
	TickRate        int     `json:"tick_rate"`
	BroadcastRate   int     `json:"broadcast_rate"`
	CompactEvery    int     `json:"compact_every"` // ticks between index compactions, 0 = never
	StatsEvery      int     `json:"stats_every"`   // ticks between analytics samples, 0 = never
	HighlightRadius int     `json:"highlight_radius"`
}

// DefaultConfig returns the stock world: 1000x1000 units split into 100x100 cells
func DefaultConfig() Config {
	return Config{
		WorldWidth:      1000,
		WorldHeight:     1000,
		Columns:         100,
		Rows:            100,
		Objects:         500,
		MaxObjects:      5000,
		Speed:           50,
		TickRate:        60,
		BroadcastRate:   30,
		CompactEvery:    600,
		StatsEvery:      300,
		HighlightRadius: 1,
	}
}

// LoadConfig reads a JSON config file. Fields missing from the file keep their
// default values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return cfg, fmt.Errorf("config file must have .json extension, got %q", ext)
	}
	info, err := os.Stat(cleanPath)
	if err != nil {
		return cfg, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigSize {
		return cfg, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks the config, including the grid geometry
func (c Config) Validate() error {
	if _, err := spatial.New[ObjectID](c.Bounds(), c.Resolution()); err != nil {
		return fmt.Errorf("invalid grid: %w", err)
	}
	if c.Objects < 0 || c.MaxObjects < c.Objects {
		return fmt.Errorf("objects must be in [0, max_objects], got %d (max %d)", c.Objects, c.MaxObjects)
	}
	if c.Speed < 0 || c.ObjectSize < 0 {
		return fmt.Errorf("speed and object_size must not be negative")
	}
	if c.TickRate < 1 || c.BroadcastRate < 1 || c.BroadcastRate > c.TickRate {
		return fmt.Errorf("need 1 <= broadcast_rate <= tick_rate, got %d and %d", c.BroadcastRate, c.TickRate)
	}
	if c.CompactEvery < 0 || c.StatsEvery < 0 || c.HighlightRadius < 0 {
		return fmt.Errorf("compact_every, stats_every and highlight_radius must not be negative")
	}
	return nil
}

// Bounds returns the world rectangle
func (c Config) Bounds() spatial.Bounds {
	return spatial.Bounds{Max: spatial.Vec2{X: c.WorldWidth, Y: c.WorldHeight}}
}

// Resolution returns the grid dimensions
func (c Config) Resolution() spatial.Resolution {
	return spatial.Resolution{Columns: c.Columns, Rows: c.Rows}
}

// ObjectExtent returns the side length of spawned objects
func (c Config) ObjectExtent() float64 {
	if c.ObjectSize > 0 {
		return c.ObjectSize
	}
	return c.WorldWidth / 50
}

// TickDuration returns the wall time of one tick
func (c Config) TickDuration() time.Duration {
	return time.Second / time.Duration(c.TickRate)
}

// BroadcastEvery returns how many ticks pass between state broadcasts
func (c Config) BroadcastEvery() uint64 {
	return uint64(c.TickRate / c.BroadcastRate)
}
