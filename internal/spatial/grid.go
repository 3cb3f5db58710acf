// Package spatial implements the uniform 3-D spatial hash grid used by the
// room tick loop. It is a pure data structure: no locking,
// touched only from the owning room's tick goroutine.
package spatial

import "math"

// Vec3 is a world-space position.
type Vec3 struct {
	X, Y, Z float64
}

func (a Vec3) Sub(b Vec3) Vec3 { return Vec3{a.X - b.X, a.Y - b.Y, a.Z - b.Z} }

func (a Vec3) Len() float64 {
	return math.Sqrt(a.X*a.X + a.Y*a.Y + a.Z*a.Z)
}

// Distance returns the Euclidean distance between two positions.
func Distance(a, b Vec3) float64 {
	return a.Sub(b).Len()
}

type cellKey struct {
	cx, cy, cz int64
}

func cellCoord(v, cellSize float64) int64 {
	return int64(math.Floor(v / cellSize))
}

// Grid is a uniform 3-D spatial hash over entity ids. Cell size is
// configurable; the default is 10 world units 
type Grid struct {
	cellSize float64
	cells    map[cellKey]map[string]struct{}
	// binding tracks each entity's current cell and last known position so
	// Remove/Move don't require the caller to recompute the old cell key.
	binding map[string]binding
}

type binding struct {
	key cellKey
	pos Vec3
}

// New builds a Grid with the given cell size. A non-positive size falls
// back to a default of 10.
func New(cellSize float64) *Grid {
	if cellSize <= 0 {
		cellSize = 10
	}
	return &Grid{
		cellSize: cellSize,
		cells:    make(map[cellKey]map[string]struct{}),
		binding:  make(map[string]binding),
	}
}

func (g *Grid) keyOf(p Vec3) cellKey {
	return cellKey{
		cx: cellCoord(p.X, g.cellSize),
		cy: cellCoord(p.Y, g.cellSize),
		cz: cellCoord(p.Z, g.cellSize),
	}
}

// Insert places an entity at p. Inserting a duplicate id replaces its
// previous bucket binding.
func (g *Grid) Insert(id string, p Vec3) {
	if old, ok := g.binding[id]; ok {
		g.removeFromCell(old.key, id)
	}
	k := g.keyOf(p)
	bucket := g.cells[k]
	if bucket == nil {
		bucket = make(map[string]struct{})
		g.cells[k] = bucket
	}
	bucket[id] = struct{}{}
	g.binding[id] = binding{key: k, pos: p}
}

// Remove takes an entity out of the grid. Removing an absent id is a
// no-op.
func (g *Grid) Remove(id string) {
	b, ok := g.binding[id]
	if !ok {
		return
	}
	g.removeFromCell(b.key, id)
	delete(g.binding, id)
}

func (g *Grid) removeFromCell(k cellKey, id string) {
	bucket := g.cells[k]
	if bucket == nil {
		return
	}
	delete(bucket, id)
	if len(bucket) == 0 {
		delete(g.cells, k)
	}
}

// Move relocates an entity to a new position, rebucketing only when the
// destination cell differs from the current one.
func (g *Grid) Move(id string, newPos Vec3) {
	b, ok := g.binding[id]
	if !ok {
		g.Insert(id, newPos)
		return
	}
	newKey := g.keyOf(newPos)
	if newKey == b.key {
		g.binding[id] = binding{key: b.key, pos: newPos}
		return
	}
	g.removeFromCell(b.key, id)
	bucket := g.cells[newKey]
	if bucket == nil {
		bucket = make(map[string]struct{})
		g.cells[newKey] = bucket
	}
	bucket[id] = struct{}{}
	g.binding[id] = binding{key: newKey, pos: newPos}
}

// Query enumerates every bucket overlapping the cube that encloses a
// sphere of the given radius around center, deduplicated by id. Callers
// that need exact-radius membership should refine with Distance.
func (g *Grid) Query(center Vec3, radius float64) []string {
	if radius < 0 {
		return nil
	}
	minK := g.keyOf(Vec3{center.X - radius, center.Y - radius, center.Z - radius})
	maxK := g.keyOf(Vec3{center.X + radius, center.Y + radius, center.Z + radius})

	seen := make(map[string]struct{})
	var out []string
	for cx := minK.cx; cx <= maxK.cx; cx++ {
		for cy := minK.cy; cy <= maxK.cy; cy++ {
			for cz := minK.cz; cz <= maxK.cz; cz++ {
				bucket := g.cells[cellKey{cx, cy, cz}]
				for id := range bucket {
					if _, dup := seen[id]; dup {
						continue
					}
					seen[id] = struct{}{}
					out = append(out, id)
				}
			}
		}
	}
	return out
}

// Position returns the last-known position of id and whether it is
// currently tracked.
func (g *Grid) Position(id string) (Vec3, bool) {
	b, ok := g.binding[id]
	return b.pos, ok
}

// Len reports how many entities are currently tracked.
func (g *Grid) Len() int { return len(g.binding) }
