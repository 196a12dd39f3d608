// Package interest computes the subset of world state each client is
// allowed to receive. Queries are sector-scoped: cost follows the number of
// sectors in the radius and their members, never the total player count.
package interest

import (
	"math"
	"sort"
	"time"

	"warzone2044/server/internal/registry"
	"warzone2044/server/internal/world"
)

// Bullet is a transient projectile. Bullets are not sector-indexed; their
// lifetime is short and their count small, so the manager filters them by
// straight Euclidean distance instead.
type Bullet struct {
	ID      string  `json:"id"`
	OwnerID string  `json:"ownerId"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Angle   float64 `json:"angle"`

	ExpiresAt time.Time `json:"-"`
}

// BulletSource exposes the live projectile table owned by the sync server.
type BulletSource interface {
	ActiveBullets() []Bullet
}

// RaidSource reports the co-participants of a player's active raid, if any.
// Raid membership extends visibility beyond the interest radius: raiders
// always see each other.
type RaidSource interface {
	CoParticipants(playerID string) []string
}

// View is the interest-filtered world slice for one player.
type View struct {
	Players  []registry.PlayerState
	EnemyIDs []string
	Bullets  []Bullet
}

// Manager answers interest queries against the registry and grid.
type Manager struct {
	reg    *registry.Registry
	grid   *world.Grid
	radius float64

	bullets BulletSource
	raids   RaidSource
}

// New builds a manager with the configured interest radius.
func New(reg *registry.Registry, grid *world.Grid) *Manager {
	return &Manager{
		reg:    reg,
		grid:   grid,
		radius: grid.Config().InterestRadius,
	}
}

// SetBulletSource attaches the projectile table.
func (m *Manager) SetBulletSource(src BulletSource) { m.bullets = src }

// SetRaidSource attaches the raid membership lookup.
func (m *Manager) SetRaidSource(src RaidSource) { m.raids = src }

// Radius returns the configured interest radius.
func (m *Manager) Radius() float64 { return m.radius }

// Relevant computes the world slice visible to the given player: the union
// of the member sets of every sector within the interest radius, the
// player itself regardless of distance, active-raid co-participants, and
// bullets within Euclidean range.
func (m *Manager) Relevant(playerID string) (View, error) {
	me, ok := m.reg.Get(playerID)
	if !ok {
		return View{}, registry.ErrUnknownSession
	}

	sectors := m.grid.SectorsWithinRadius(me.X, me.Y, m.radius)
	ids := m.grid.PlayersIn(sectors)

	wanted := make(map[string]struct{}, len(ids)+1)
	wanted[playerID] = struct{}{}
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	if m.raids != nil {
		for _, id := range m.raids.CoParticipants(playerID) {
			wanted[id] = struct{}{}
		}
	}

	ordered := make([]string, 0, len(wanted))
	for id := range wanted {
		ordered = append(ordered, id)
	}
	sort.Strings(ordered)

	view := View{
		Players:  m.reg.GetMany(ordered),
		EnemyIDs: sortedCopy(m.grid.EnemiesIn(sectors)),
	}

	if m.bullets != nil {
		for _, b := range m.bullets.ActiveBullets() {
			if math.Hypot(b.X-me.X, b.Y-me.Y) <= m.radius {
				view.Bullets = append(view.Bullets, b)
			}
		}
		sort.Slice(view.Bullets, func(i, j int) bool { return view.Bullets[i].ID < view.Bullets[j].ID })
	}
	return view, nil
}

// ObserversOf returns the players whose interest set covers the given
// point: everyone homed in a sector within the interest radius. The set
// over-approximates; it must never miss a legitimate observer.
func (m *Manager) ObserversOf(x, y float64) []string {
	sectors := m.grid.SectorsWithinRadius(x, y, m.radius)
	return sortedCopy(m.grid.PlayersIn(sectors))
}

// ObserversOfPlayer unions the sector observers at the player's position
// with the player's active-raid co-participants.
func (m *Manager) ObserversOfPlayer(state registry.PlayerState) []string {
	observers := m.grid.PlayersIn(m.grid.SectorsWithinRadius(state.X, state.Y, m.radius))
	if m.raids == nil {
		return sortedCopy(observers)
	}
	merged := make(map[string]struct{}, len(observers)+4)
	for _, id := range observers {
		merged[id] = struct{}{}
	}
	for _, id := range m.raids.CoParticipants(state.ID) {
		merged[id] = struct{}{}
	}
	ordered := make([]string, 0, len(merged))
	for id := range merged {
		ordered = append(ordered, id)
	}
	sort.Strings(ordered)
	return ordered
}

func sortedCopy(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	copied := append([]string(nil), ids...)
	sort.Strings(copied)
	return copied
}
