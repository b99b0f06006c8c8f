// Package spatial implements a uniform spatial hash grid.
//
// An Index splits a bounded 2-D world into a fixed Columns x Rows grid and keeps
// track of which axis-aligned entities overlap which cells. It keeps two maps
// in sync. The forward map holds the set of handles in each cell. The reverse map
// holds the corner span each handle occupies, so stale memberships can be undone
// without scanning the grid.
//
// Handles are opaque comparable keys owned by the caller. The index never creates
// or expires them: a handle stays tracked until Remove is called for it.
//
// Positions outside the world bounds are not rejected. They saturate to the
// nearest edge cell, so off-map entities are still indexed at the border.
//
// By default a normalized coordinate n maps to floor(n*count), clamped to the
// last cell, so every cell covers an equal share of the world. Pass
// WithMapping(MapLastIndex) for floor(n*(count-1)), where only the far edge
// itself lands in the last cell.
//
// An Index is not safe for concurrent use. It is meant to be owned by a single
// tick loop that updates every entity first and then runs that tick's queries.
// Nothing inside the index enforces this ordering. If other goroutines need to
// query it, the owner must guard every call with one exclusive lock.
package spatial
