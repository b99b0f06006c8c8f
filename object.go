package main

import (
	"math"
	"math/rand/v2"

	"github.com/Warhorst/spatial-hash/spatial"
)

const (
	// fraction of the world kept free on every side when picking path targets
	PathMargin = 0.025
	// distance at which an object counts as having reached its target
	ArriveDistance = 1.0
)

// ObjectID is the handle objects are tracked under in the spatial index.
// IDs are assigned by the world and never reused.
type ObjectID uint32

// Path is the straight line an object is currently following
type Path struct {
	TargetX, TargetY float64
	DirX, DirY       float64 // unit vector from the start point to the target
}

// NewPath aims from (x, y) at (tx, ty)
func NewPath(x, y, tx, ty float64) Path {
	p := Path{TargetX: tx, TargetY: ty}
	dist := Distance(x, y, tx, ty)
	if dist > 0 {
		p.DirX = (tx - x) / dist
		p.DirY = (ty - y) / dist
	}
	return p
}

// Object is a moving box that wanders between random points of the world
type Object struct {
	ID     ObjectID
	X, Y   float64 // centre
	W, H   float64
	Path   Path
	worldW float64
	worldH float64
	speed  float64
}

// NewObject spawns an object at a random point heading for another random point
func NewObject(id ObjectID, rng *rand.Rand, cfg Config) *Object {
	size := cfg.ObjectExtent()
	o := &Object{
		ID:     id,
		W:      size,
		H:      cfg.WorldHeight / cfg.WorldWidth * size,
		worldW: cfg.WorldWidth,
		worldH: cfg.WorldHeight,
		speed:  cfg.Speed,
	}
	o.X, o.Y = o.randomPoint(rng)
	tx, ty := o.randomPoint(rng)
	o.Path = NewPath(o.X, o.Y, tx, ty)
	return o
}

// randomPoint picks a point inside the world, away from its edges
func (o *Object) randomPoint(rng *rand.Rand) (float64, float64) {
	mx, my := o.worldW*PathMargin, o.worldH*PathMargin
	return mx + rng.Float64()*(o.worldW-2*mx), my + rng.Float64()*(o.worldH-2*my)
}

// Update advances the object along its path (dt in seconds). On arrival it
// snaps to the target and picks a new one.
func (o *Object) Update(dt float64, rng *rand.Rand) {
	step := o.speed * dt
	// snapping within one step keeps fast objects from overshooting forever
	if Distance(o.X, o.Y, o.Path.TargetX, o.Path.TargetY) <= max(step, ArriveDistance) {
		o.X, o.Y = o.Path.TargetX, o.Path.TargetY
		tx, ty := o.randomPoint(rng)
		o.Path = NewPath(o.X, o.Y, tx, ty)
		return
	}
	o.X += o.Path.DirX * step
	o.Y += o.Path.DirY * step
}

// BBox returns the box the spatial index tracks for this object
func (o *Object) BBox() spatial.BBox {
	return spatial.BBox{
		Center: spatial.Vec2{X: o.X, Y: o.Y},
		Size:   spatial.Vec2{X: o.W, Y: o.H},
	}
}

// ToState converts to protocol state
func (o *Object) ToState() ObjectState {
	return ObjectState{
		ID: uint32(o.ID),
		X:  round1(o.X),
		Y:  round1(o.Y),
		W:  round1(o.W),
		H:  round1(o.H),
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
