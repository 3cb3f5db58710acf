package dungeon

import (
	"fmt"
	"math"
	"sort"
)

// Config bounds the generated room count and size, derived from
// difficulty: min = 5 + 2*difficulty, max = min+10.
type Config struct {
	RoomCountMin int
	RoomCountMax int
	RoomSizeMin  int
	RoomSizeMax  int
}

func configFor(difficulty int) Config {
	min := 5 + 2*difficulty
	return Config{
		RoomCountMin: min,
		RoomCountMax: min + 10,
		RoomSizeMin:  4,
		RoomSizeMax:  9,
	}
}

// Generate builds a reproducible dungeon layout for (seed, difficulty,
// level). Three independent LCG streams drive room placement, extra
// corridor connections, and entity spawns, matching the canonical
// pseudo-random sequence so any conforming implementation given the same
// inputs produces the same rooms, connections, and entity placements.
func Generate(seed int64, difficulty, level int) *Instance {
	cfg := configFor(difficulty)
	placementRNG := NewLCG(seed + roomPlacementSeed)
	connectionRNG := NewLCG(seed + extraConnectionSeed)
	spawnRNG := NewLCG(seed + entitySpawnSeed)

	grid := newGrid()
	n := cfg.RoomCountMin + int(placementRNG.Float64()*float64(cfg.RoomCountMax-cfg.RoomCountMin))

	rooms := placeRooms(placementRNG, grid, cfg, n)
	connectWithMST(rooms)
	addExtraConnections(connectionRNG, rooms)
	carveCorridors(grid, rooms)
	entities := spawnEntities(spawnRNG, rooms, level)

	inst := &Instance{
		ID:         fmt.Sprintf("dungeon-%d-%d-%d", seed, difficulty, level),
		Seed:       seed,
		Difficulty: difficulty,
		Level:      level,
		Grid:       grid,
		Rooms:      rooms,
		Entities:   entities,
	}
	return inst
}

func newGrid() [][][]Cell {
	grid := make([][][]Cell, gridFloors)
	for z := range grid {
		grid[z] = make([][]Cell, gridDepth)
		for y := range grid[z] {
			grid[z][y] = make([]Cell, gridWidth)
		}
	}
	return grid
}

func placeRooms(rng *LCG, grid [][][]Cell, cfg Config, n int) []Room {
	rooms := make([]Room, 0, n)
	centerX, centerY := gridWidth/2, gridDepth/2

	for i := 0; i < n; i++ {
		sizeX := cfg.RoomSizeMin + int(rng.Float64()*float64(cfg.RoomSizeMax-cfg.RoomSizeMin))
		sizeY := cfg.RoomSizeMin + int(rng.Float64()*float64(cfg.RoomSizeMax-cfg.RoomSizeMin))
		floor := 0
		if i > 0 {
			floor = rng.IntRange(0, gridFloors)
		}

		var bounds Bounds
		placed := false
		if i == 0 {
			bounds = Bounds{
				MinX: centerX - sizeX/2, MaxX: centerX + sizeX/2,
				MinY: centerY - sizeY/2, MaxY: centerY + sizeY/2,
				MinZ: 0, MaxZ: 0,
			}
			placed = true
		} else {
			for attempt := 0; attempt < maxPlacementAttempts; attempt++ {
				x := rng.IntRange(1, gridWidth-sizeX-1)
				y := rng.IntRange(1, gridDepth-sizeY-1)
				candidate := Bounds{MinX: x, MaxX: x + sizeX, MinY: y, MaxY: y + sizeY, MinZ: floor, MaxZ: floor}
				if !overlapsAny(candidate, rooms, placementMargin) {
					bounds = candidate
					placed = true
					break
				}
			}
		}
		if !placed {
			if i != n-1 {
				continue
			}
			// The boss room must exist: fall back to an unchecked position
			// rather than silently producing a bossless dungeon.
			bounds = Bounds{MinX: 1, MaxX: 1 + sizeX, MinY: 1, MaxY: 1 + sizeY, MinZ: floor, MaxZ: floor}
		}

		roomType := RoomNormal
		switch {
		case i == 0:
			roomType = RoomStart
		case i == n-1:
			roomType = RoomBoss
		default:
			r := rng.Float64()
			switch {
			case r < 0.10:
				roomType = RoomPuzzle
			case r < 0.25:
				roomType = RoomTreasure
			}
		}

		rooms = append(rooms, Room{ID: len(rooms), Bounds: bounds, Type: roomType})
	}
	return rooms
}

func overlapsAny(b Bounds, rooms []Room, margin int) bool {
	for _, r := range rooms {
		if b.overlaps(r.Bounds, margin) {
			return true
		}
	}
	return false
}

// connectWithMST builds a minimum spanning tree over room centers by
// Euclidean distance, guaranteeing full connectivity.
func connectWithMST(rooms []Room) {
	if len(rooms) < 2 {
		return
	}
	inTree := make([]bool, len(rooms))
	inTree[0] = true
	remaining := len(rooms) - 1

	for remaining > 0 {
		bestFrom, bestTo := -1, -1
		bestDist := math.MaxFloat64
		for i := range rooms {
			if !inTree[i] {
				continue
			}
			for j := range rooms {
				if inTree[j] {
					continue
				}
				d := roomDistance(rooms[i], rooms[j])
				if d < bestDist {
					bestDist = d
					bestFrom, bestTo = i, j
				}
			}
		}
		if bestTo == -1 {
			break
		}
		rooms[bestFrom].Connections = append(rooms[bestFrom].Connections, rooms[bestTo].ID)
		rooms[bestTo].Connections = append(rooms[bestTo].Connections, rooms[bestFrom].ID)
		inTree[bestTo] = true
		remaining--
	}
}

func roomDistance(a, b Room) float64 {
	ax, ay, az := a.Bounds.Center()
	bx, by, bz := b.Bounds.Center()
	dx, dy, dz := ax-bx, ay-by, az-bz
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// addExtraConnections adds up to 0.3*n extra edges between room pairs
// within 20 units, each accepted with 30% probability.
func addExtraConnections(rng *LCG, rooms []Room) {
	maxExtra := int(0.3 * float64(len(rooms)))
	if maxExtra <= 0 {
		return
	}
	type pair struct{ i, j int }
	var candidates []pair
	for i := 0; i < len(rooms); i++ {
		for j := i + 1; j < len(rooms); j++ {
			if roomDistance(rooms[i], rooms[j]) <= 20 {
				candidates = append(candidates, pair{i, j})
			}
		}
	}
	sort.Slice(candidates, func(a, b int) bool {
		return roomDistance(rooms[candidates[a].i], rooms[candidates[a].j]) < roomDistance(rooms[candidates[b].i], rooms[candidates[b].j])
	})

	added := 0
	for _, p := range candidates {
		if added >= maxExtra {
			break
		}
		if rng.Float64() < 0.3 {
			rooms[p.i].Connections = append(rooms[p.i].Connections, rooms[p.j].ID)
			rooms[p.j].Connections = append(rooms[p.j].Connections, rooms[p.i].ID)
			added++
		}
	}
}

func carveCorridors(grid [][][]Cell, rooms []Room) {
	for i := range rooms {
		markRoomFloor(grid, rooms[i])
	}
	for _, r := range rooms {
		for _, toID := range r.Connections {
			if toID <= r.ID {
				continue
			}
			carveCorridor(grid, r, rooms[toID])
		}
	}
}

func markRoomFloor(grid [][][]Cell, r Room) {
	z := r.Bounds.MinZ
	for y := r.Bounds.MinY; y <= r.Bounds.MaxY && y < gridDepth; y++ {
		for x := r.Bounds.MinX; x <= r.Bounds.MaxX && x < gridWidth; x++ {
			if y >= 0 && x >= 0 {
				grid[z][y][x] = Cell{Floor: true, RoomID: r.ID}
			}
		}
	}
}

func carveCorridor(grid [][][]Cell, a, b Room) {
	if a.Bounds.MinZ != b.Bounds.MinZ {
		return // cross-floor connections are logical only (stairs), not carved
	}
	z := a.Bounds.MinZ
	ax, ay, _ := a.Bounds.Center()
	bx, by, _ := b.Bounds.Center()
	x, y := int(ax), int(ay)
	for x != int(bx) {
		setCorridorCell(grid, z, y, x)
		if x < int(bx) {
			x++
		} else {
			x--
		}
	}
	for y != int(by) {
		setCorridorCell(grid, z, y, x)
		if y < int(by) {
			y++
		} else {
			y--
		}
	}
}

func setCorridorCell(grid [][][]Cell, z, y, x int) {
	if x < 0 || x >= gridWidth || y < 0 || y >= gridDepth {
		return
	}
	if !grid[z][y][x].Floor {
		grid[z][y][x] = Cell{Floor: true, RoomID: -1}
	}
}

func spawnEntities(rng *LCG, rooms []Room, level int) []Entity {
	var entities []Entity
	for _, r := range rooms {
		cx, cy, cz := r.Bounds.Center()
		switch r.Type {
		case RoomBoss:
			entities = append(entities, Entity{
				ID: fmt.Sprintf("boss-%d", r.ID), Type: EntityBoss, RoomID: r.ID,
				X: cx, Y: cy, Z: cz,
				Data: map[string]any{"level": level + 5, "hp": 1000 + level*100},
			})
		case RoomTreasure:
			data := map[string]any{"credits": 100 + level*50}
			if rng.Float64() < 0.7 {
				data["quantumCrystals"] = 1 + rng.IntRange(0, 3)
			}
			entities = append(entities, Entity{
				ID: fmt.Sprintf("loot-%d", r.ID), Type: EntityLoot, RoomID: r.ID,
				X: cx, Y: cy, Z: cz, Data: data,
			})
		case RoomPuzzle:
			entities = append(entities, Entity{
				ID: fmt.Sprintf("puzzle-%d", r.ID), Type: EntityPressurePlates, RoomID: r.ID,
				X: cx, Y: cy, Z: cz, Data: map[string]any{"solved": false},
			})
		case RoomNormal:
			count := 2 + rng.IntRange(0, 3)
			width := float64(r.Bounds.MaxX - r.Bounds.MinX)
			depth := float64(r.Bounds.MaxY - r.Bounds.MinY)
			for i := 0; i < count; i++ {
				offX := (rng.Float64()*2 - 1) * 0.6 * width / 2
				offY := (rng.Float64()*2 - 1) * 0.6 * depth / 2
				entities = append(entities, Entity{
					ID: fmt.Sprintf("enemy-%d-%d", r.ID, i), Type: EntityEnemy, RoomID: r.ID,
					X: cx + offX, Y: cy + offY, Z: cz,
					Data: map[string]any{"level": level},
				})
			}
		}
	}
	return entities
}
