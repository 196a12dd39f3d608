package world

import (
	"fmt"
	"math"
	"sync"
)

// SectorID identifies one fixed-size grid cell by the world-unit
// coordinates of its top-left corner.
type SectorID struct {
	X int
	Y int
}

// String renders the wire/diagnostics form ("sector_3000_1000" is the cell
// whose top-left corner sits at x=3000, y=1000).
func (id SectorID) String() string {
	return fmt.Sprintf("sector_%d_%d", id.X, id.Y)
}

// ParseSectorID decodes the wire form produced by String.
func ParseSectorID(s string) (SectorID, error) {
	var id SectorID
	if _, err := fmt.Sscanf(s, "sector_%d_%d", &id.X, &id.Y); err != nil {
		return SectorID{}, fmt.Errorf("malformed sector id %q", s)
	}
	return id, nil
}

// sectorState is materialized lazily the first time a member enters the
// sector or a raid activates over it, and released again once empty.
type sectorState struct {
	players    map[string]struct{}
	enemies    map[string]struct{}
	raidActive bool
}

func (s *sectorState) empty() bool {
	return len(s.players) == 0 && len(s.enemies) == 0 && !s.raidActive
}

// Grid partitions the bounded world into fixed-size sectors and tracks
// per-sector occupancy. Sector derivation is pure arithmetic; occupancy is
// guarded by a single mutex because membership writes are rare compared to
// the read-mostly interest queries.
type Grid struct {
	cfg  Config
	cols int
	rows int

	mu      sync.RWMutex
	sectors map[SectorID]*sectorState
}

// NewGrid builds a grid for the given (normalized) world geometry.
func NewGrid(cfg Config) *Grid {
	cfg = cfg.Normalized()
	return &Grid{
		cfg:     cfg,
		cols:    int(math.Ceil(cfg.Width / cfg.SectorSize)),
		rows:    int(math.Ceil(cfg.Height / cfg.SectorSize)),
		sectors: make(map[SectorID]*sectorState),
	}
}

// Config returns the geometry the grid was built with.
func (g *Grid) Config() Config {
	return g.cfg
}

// Clamp forces a point into the world bound.
func (g *Grid) Clamp(x, y float64) (float64, float64) {
	x = math.Max(0, math.Min(g.cfg.Width, x))
	y = math.Max(0, math.Min(g.cfg.Height, y))
	return x, y
}

// SectorAt maps a point to its sector id. Out-of-bound points are clamped
// first, so the function is total and O(1).
func (g *Grid) SectorAt(x, y float64) SectorID {
	x, y = g.Clamp(x, y)
	col := int(math.Floor(x / g.cfg.SectorSize))
	row := int(math.Floor(y / g.cfg.SectorSize))
	if col >= g.cols {
		col = g.cols - 1
	}
	if row >= g.rows {
		row = g.rows - 1
	}
	return SectorID{X: col * int(g.cfg.SectorSize), Y: row * int(g.cfg.SectorSize)}
}

// SectorsWithinRadius returns every sector whose bounding box may intersect
// the circle of radius r around (x, y). The result over-approximates (the
// full bounding square is returned) and is ordered row-major, so repeated
// calls yield identical slices.
func (g *Grid) SectorsWithinRadius(x, y, r float64) []SectorID {
	if r < 0 {
		r = 0
	}
	size := g.cfg.SectorSize
	minCol := int(math.Floor((x - r) / size))
	maxCol := int(math.Floor((x + r) / size))
	minRow := int(math.Floor((y - r) / size))
	maxRow := int(math.Floor((y + r) / size))

	minCol = max(minCol, 0)
	minRow = max(minRow, 0)
	maxCol = min(maxCol, g.cols-1)
	maxRow = min(maxRow, g.rows-1)

	if maxCol < minCol || maxRow < minRow {
		return []SectorID{g.SectorAt(x, y)}
	}

	ids := make([]SectorID, 0, (maxCol-minCol+1)*(maxRow-minRow+1))
	for row := minRow; row <= maxRow; row++ {
		for col := minCol; col <= maxCol; col++ {
			ids = append(ids, SectorID{X: col * int(size), Y: row * int(size)})
		}
	}
	return ids
}

// AddPlayer records a player in a sector's member set.
func (g *Grid) AddPlayer(id string, sector SectorID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	state := g.materializeLocked(sector)
	state.players[id] = struct{}{}
}

// RemovePlayer drops a player from a sector's member set.
func (g *Grid) RemovePlayer(id string, sector SectorID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	state, ok := g.sectors[sector]
	if !ok {
		return
	}
	delete(state.players, id)
	if state.empty() {
		delete(g.sectors, sector)
	}
}

// MovePlayer re-homes a player whose position crossed a sector boundary.
// Membership is recomputed wholesale rather than drifted.
func (g *Grid) MovePlayer(id string, from, to SectorID) {
	if from == to {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if state, ok := g.sectors[from]; ok {
		delete(state.players, id)
		if state.empty() {
			delete(g.sectors, from)
		}
	}
	state := g.materializeLocked(to)
	state.players[id] = struct{}{}
}

// AddEnemy records an enemy in a sector's enemy set.
func (g *Grid) AddEnemy(id string, sector SectorID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	state := g.materializeLocked(sector)
	state.enemies[id] = struct{}{}
}

// RemoveEnemy drops an enemy from a sector's enemy set.
func (g *Grid) RemoveEnemy(id string, sector SectorID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	state, ok := g.sectors[sector]
	if !ok {
		return
	}
	delete(state.enemies, id)
	if state.empty() {
		delete(g.sectors, sector)
	}
}

// PlayersIn unions the player member sets of the given sectors.
func (g *Grid) PlayersIn(sectors []SectorID) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var ids []string
	for _, sector := range sectors {
		state, ok := g.sectors[sector]
		if !ok {
			continue
		}
		for id := range state.players {
			ids = append(ids, id)
		}
	}
	return ids
}

// EnemiesIn unions the enemy member sets of the given sectors.
func (g *Grid) EnemiesIn(sectors []SectorID) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var ids []string
	for _, sector := range sectors {
		state, ok := g.sectors[sector]
		if !ok {
			continue
		}
		for id := range state.enemies {
			ids = append(ids, id)
		}
	}
	return ids
}

// SetRaidActive flips the raid overlay flag for a sector.
func (g *Grid) SetRaidActive(sector SectorID, active bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if active {
		g.materializeLocked(sector).raidActive = true
		return
	}
	state, ok := g.sectors[sector]
	if !ok {
		return
	}
	state.raidActive = false
	if state.empty() {
		delete(g.sectors, sector)
	}
}

// RaidActive reports whether a raid overlay is live on the sector.
func (g *Grid) RaidActive(sector SectorID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	state, ok := g.sectors[sector]
	return ok && state.raidActive
}

// MemberCount reports the number of players currently homed in a sector.
func (g *Grid) MemberCount(sector SectorID) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	state, ok := g.sectors[sector]
	if !ok {
		return 0
	}
	return len(state.players)
}

// MaterializedSectors reports how many sectors currently hold state, for
// diagnostics.
func (g *Grid) MaterializedSectors() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.sectors)
}

func (g *Grid) materializeLocked(sector SectorID) *sectorState {
	state, ok := g.sectors[sector]
	if !ok {
		state = &sectorState{
			players: make(map[string]struct{}),
			enemies: make(map[string]struct{}),
		}
		g.sectors[sector] = state
	}
	return state
}
