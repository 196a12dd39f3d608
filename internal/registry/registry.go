package registry

import (
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"warzone2044/server/internal/world"
)

var (
	// ErrUnknownSession marks operations against a removed or never-created
	// session. Callers treat it as a benign race: the session closed while
	// the operation was in flight.
	ErrUnknownSession = errors.New("unknown session")
	// ErrDuplicateSession guards the invariant that session ids are unique.
	// Ids are minted by the registry itself, so hitting this is a bug.
	ErrDuplicateSession = errors.New("duplicate session")
)

const (
	// MaxHealth is the health ceiling; respawn restores to it.
	MaxHealth = 100
)

// PlayerState is the authoritative record for one connected player.
// Health and aliveness are coupled: Alive is true exactly when HP > 0.
type PlayerState struct {
	ID     string
	X      float64
	Y      float64
	HP     int
	Alive  bool
	Sector world.SectorID
}

type playerEntry struct {
	mu sync.Mutex
	PlayerState
}

// snapshot copies the state under the entry lock so a concurrent mutation
// can never produce a torn read.
func (e *playerEntry) snapshot() PlayerState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.PlayerState
}

// MoveResult reports the outcome of a position mutation.
type MoveResult struct {
	Player  PlayerState
	From    world.SectorID
	To      world.SectorID
	Crossed bool
}

// Registry owns every live session. The map is guarded by a read-write
// mutex; each entry carries its own lock so mutations of different sessions
// proceed in parallel while a single session is serialized.
type Registry struct {
	mu      sync.RWMutex
	players map[string]*playerEntry

	grid  *world.Grid
	cfg   world.Config
	newID func() string
}

// New builds an empty registry bound to the given grid.
func New(grid *world.Grid) *Registry {
	return &Registry{
		players: make(map[string]*playerEntry),
		grid:    grid,
		cfg:     grid.Config(),
		newID:   uuid.NewString,
	}
}

// SetIDGenerator overrides session id minting, for tests.
func (r *Registry) SetIDGenerator(gen func() string) {
	if gen != nil {
		r.newID = gen
	}
}

// Register creates a session at the default spawn with full health and
// returns its initial state.
func (r *Registry) Register() (PlayerState, error) {
	id := r.newID()
	sector := r.grid.SectorAt(r.cfg.SpawnX, r.cfg.SpawnY)
	entry := &playerEntry{PlayerState: PlayerState{
		ID:     id,
		X:      r.cfg.SpawnX,
		Y:      r.cfg.SpawnY,
		HP:     MaxHealth,
		Alive:  true,
		Sector: sector,
	}}

	r.mu.Lock()
	if _, exists := r.players[id]; exists {
		r.mu.Unlock()
		return PlayerState{}, ErrDuplicateSession
	}
	r.players[id] = entry
	r.mu.Unlock()

	r.grid.AddPlayer(id, sector)
	return entry.snapshot(), nil
}

// ApplyMove sets a player's position. Coordinates are clamped to the world
// bound; sector membership is recomputed when the move crosses a boundary.
// Health and aliveness are untouched: position is the only client-supplied
// field the server trusts.
func (r *Registry) ApplyMove(id string, x, y float64) (MoveResult, error) {
	entry, ok := r.lookup(id)
	if !ok {
		return MoveResult{}, ErrUnknownSession
	}

	x, y = r.grid.Clamp(x, y)
	newSector := r.grid.SectorAt(x, y)

	entry.mu.Lock()
	oldSector := entry.Sector
	entry.X = x
	entry.Y = y
	entry.Sector = newSector
	state := entry.PlayerState
	entry.mu.Unlock()

	crossed := oldSector != newSector
	if crossed {
		r.grid.MovePlayer(id, oldSector, newSector)
	}
	return MoveResult{Player: state, From: oldSector, To: newSector, Crossed: crossed}, nil
}

// ApplyDamage applies a health delta (negative damages, positive heals),
// clamps the result to [0, MaxHealth] and derives aliveness from it.
func (r *Registry) ApplyDamage(id string, delta int) (PlayerState, error) {
	entry, ok := r.lookup(id)
	if !ok {
		return PlayerState{}, ErrUnknownSession
	}

	entry.mu.Lock()
	entry.HP += delta
	if entry.HP < 0 {
		entry.HP = 0
	}
	if entry.HP > MaxHealth {
		entry.HP = MaxHealth
	}
	entry.Alive = entry.HP > 0
	state := entry.PlayerState
	entry.mu.Unlock()
	return state, nil
}

// ApplyRespawn resets a player to full health at the designated spawn
// point, regardless of prior state.
func (r *Registry) ApplyRespawn(id string) (MoveResult, error) {
	entry, ok := r.lookup(id)
	if !ok {
		return MoveResult{}, ErrUnknownSession
	}

	spawnSector := r.grid.SectorAt(r.cfg.SpawnX, r.cfg.SpawnY)

	entry.mu.Lock()
	oldSector := entry.Sector
	entry.X = r.cfg.SpawnX
	entry.Y = r.cfg.SpawnY
	entry.HP = MaxHealth
	entry.Alive = true
	entry.Sector = spawnSector
	state := entry.PlayerState
	entry.mu.Unlock()

	crossed := oldSector != spawnSector
	if crossed {
		r.grid.MovePlayer(id, oldSector, spawnSector)
	}
	return MoveResult{Player: state, From: oldSector, To: spawnSector, Crossed: crossed}, nil
}

// Remove deletes a session and its sector membership. The removed state is
// returned so callers can notify the player's last observers.
func (r *Registry) Remove(id string) (PlayerState, bool) {
	r.mu.Lock()
	entry, ok := r.players[id]
	if ok {
		delete(r.players, id)
	}
	r.mu.Unlock()

	if !ok {
		return PlayerState{}, false
	}
	state := entry.snapshot()
	r.grid.RemovePlayer(id, state.Sector)
	return state, true
}

// Get returns a copy of one player's state.
func (r *Registry) Get(id string) (PlayerState, bool) {
	entry, ok := r.lookup(id)
	if !ok {
		return PlayerState{}, false
	}
	return entry.snapshot(), true
}

// GetMany returns copies for the requested ids, skipping sessions that
// vanished since the id list was computed.
func (r *Registry) GetMany(ids []string) []PlayerState {
	states := make([]PlayerState, 0, len(ids))
	for _, id := range ids {
		if state, ok := r.Get(id); ok {
			states = append(states, state)
		}
	}
	return states
}

// Snapshot returns a point-in-time copy of every session, ordered by id so
// two snapshots of the same state compare equal.
func (r *Registry) Snapshot() []PlayerState {
	r.mu.RLock()
	entries := make([]*playerEntry, 0, len(r.players))
	for _, entry := range r.players {
		entries = append(entries, entry)
	}
	r.mu.RUnlock()

	states := make([]PlayerState, 0, len(entries))
	for _, entry := range entries {
		states = append(states, entry.snapshot())
	}
	sort.Slice(states, func(i, j int) bool { return states[i].ID < states[j].ID })
	return states
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.players)
}

func (r *Registry) lookup(id string) (*playerEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.players[id]
	return entry, ok
}
