// Package raid manages instanced combat overlays on top of world sectors:
// membership, combat resolution through an injected evaluator, and
// exactly-once reward settlement.
package raid

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"warzone2044/server/internal/registry"
	"warzone2044/server/internal/world"
	"warzone2044/server/logging"
	combatlog "warzone2044/server/logging/combat"
	raidlog "warzone2044/server/logging/raid"
)

var (
	// ErrUnknownSector marks operations against a raid id that was never
	// created or has been discarded.
	ErrUnknownSector = errors.New("unknown raid sector")
	// ErrAlreadySettled guards the write-once reward pool.
	ErrAlreadySettled = errors.New("rewards already settled")
	// ErrMembershipConflict rejects joining a second raid while another is
	// still active for the player.
	ErrMembershipConflict = errors.New("player already in an active raid")
	// ErrNotParticipant rejects combat between players outside the raid.
	ErrNotParticipant = errors.New("player is not a raid participant")
)

// Status tracks the raid lifecycle: sectors start Active and end Resolved.
type Status string

const (
	StatusActive   Status = "active"
	StatusResolved Status = "resolved"
)

// Outcome is the health effect of one combat exchange, produced by the
// injected evaluator. Damage values are subtracted from each side.
type Outcome struct {
	AttackerDamage int
	DefenderDamage int
}

// Evaluator turns two player states into an outcome. Implementations must
// be pure: no randomness, no side effects.
type Evaluator func(attacker, defender registry.PlayerState) Outcome

// SettlementQueue receives settled pools for asynchronous payout. Submit
// must not block.
type SettlementQueue interface {
	Submit(sectorID string, pool float64)
}

// CombatResult reports both participants' post-resolution states.
type CombatResult struct {
	Attacker registry.PlayerState
	Defender registry.PlayerState
}

type sector struct {
	id          string
	name        string
	worldSector world.SectorID
	players     map[string]struct{}
	enemies     map[string]struct{}
	status      Status
	rewardPool  float64
	settled     bool
}

// SectorView is an immutable copy of one raid sector for callers.
type SectorView struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	WorldSector string   `json:"worldSector"`
	Players     []string `json:"players"`
	Enemies     []string `json:"enemies"`
	Status      Status   `json:"status"`
	RewardPool  float64  `json:"rewardPool"`
	Settled     bool     `json:"settled"`
}

// Manager owns every raid sector. A single mutex serializes raid
// transitions; the heavier per-player work happens in the registry.
type Manager struct {
	mu         sync.Mutex
	sectors    map[string]*sector
	membership map[string]string // player id -> active raid id

	reg        *registry.Registry
	grid       *world.Grid
	eval       Evaluator
	settlement SettlementQueue
	pub        logging.Publisher
	newID      func() string
}

// New builds a manager. The evaluator and settlement queue are required
// collaborators; pub may be nil.
func New(reg *registry.Registry, grid *world.Grid, eval Evaluator, settlement SettlementQueue, pub logging.Publisher) *Manager {
	if pub == nil {
		pub = logging.NopPublisher()
	}
	return &Manager{
		sectors:    make(map[string]*sector),
		membership: make(map[string]string),
		reg:        reg,
		grid:       grid,
		eval:       eval,
		settlement: settlement,
		pub:        pub,
		newID:      uuid.NewString,
	}
}

// SetIDGenerator overrides raid id minting, for tests.
func (m *Manager) SetIDGenerator(gen func() string) {
	if gen != nil {
		m.newID = gen
	}
}

// Create opens a new Active raid over the given world sector and marks the
// sector's raid overlay flag.
func (m *Manager) Create(name string, worldSector world.SectorID) SectorView {
	s := &sector{
		id:          m.newID(),
		name:        name,
		worldSector: worldSector,
		players:     make(map[string]struct{}),
		enemies:     make(map[string]struct{}),
		status:      StatusActive,
	}

	m.mu.Lock()
	m.sectors[s.id] = s
	view := s.view()
	m.mu.Unlock()

	m.grid.SetRaidActive(worldSector, true)
	raidlog.Created(context.Background(), m.pub, logging.RaidRef(s.id), raidlog.CreatedPayload{
		Name:        name,
		WorldSector: worldSector.String(),
	})
	return view
}

// Join adds a player to an Active raid. Joining a sector that is not
// Active is a silent no-op; joining twice is idempotent; joining while a
// different raid is still active for the player fails with
// ErrMembershipConflict.
func (m *Manager) Join(sectorID, playerID string) error {
	m.mu.Lock()
	s, ok := m.sectors[sectorID]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownSector
	}
	if s.status != StatusActive {
		m.mu.Unlock()
		return nil
	}
	if current, joined := m.membership[playerID]; joined && current != sectorID {
		m.mu.Unlock()
		return ErrMembershipConflict
	}
	if _, already := s.players[playerID]; already {
		m.mu.Unlock()
		return nil
	}
	s.players[playerID] = struct{}{}
	m.membership[playerID] = sectorID
	m.mu.Unlock()

	raidlog.Joined(context.Background(), m.pub, logging.RaidRef(sectorID), logging.PlayerRef(playerID))
	return nil
}

// Leave removes a player; the last participant leaving resolves the raid.
func (m *Manager) Leave(sectorID, playerID string) error {
	m.mu.Lock()
	s, ok := m.sectors[sectorID]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownSector
	}
	if _, member := s.players[playerID]; !member {
		m.mu.Unlock()
		return nil
	}
	delete(s.players, playerID)
	delete(m.membership, playerID)
	resolved := len(s.players) == 0 && s.status == StatusActive
	if resolved {
		s.status = StatusResolved
	}
	worldSector := s.worldSector
	m.mu.Unlock()

	raidlog.Left(context.Background(), m.pub, logging.RaidRef(sectorID), logging.PlayerRef(playerID))
	if resolved {
		m.grid.SetRaidActive(worldSector, false)
		raidlog.Resolved(context.Background(), m.pub, logging.RaidRef(sectorID))
	}
	return nil
}

// Resolve explicitly closes a raid regardless of remaining participants.
func (m *Manager) Resolve(sectorID string) error {
	m.mu.Lock()
	s, ok := m.sectors[sectorID]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownSector
	}
	if s.status == StatusResolved {
		m.mu.Unlock()
		return nil
	}
	s.status = StatusResolved
	for playerID := range s.players {
		delete(m.membership, playerID)
	}
	worldSector := s.worldSector
	m.mu.Unlock()

	m.grid.SetRaidActive(worldSector, false)
	raidlog.Resolved(context.Background(), m.pub, logging.RaidRef(sectorID))
	return nil
}

// RemovePlayer drops a disconnecting player from whichever raid they are
// in. Safe to call for players in no raid.
func (m *Manager) RemovePlayer(playerID string) {
	m.mu.Lock()
	sectorID, ok := m.membership[playerID]
	m.mu.Unlock()
	if !ok {
		return
	}
	// Leave handles last-participant resolution.
	_ = m.Leave(sectorID, playerID)
}

// CoParticipants returns the other members of the player's active raid.
// Implements the interest manager's raid source.
func (m *Manager) CoParticipants(playerID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	sectorID, ok := m.membership[playerID]
	if !ok {
		return nil
	}
	s, ok := m.sectors[sectorID]
	if !ok {
		return nil
	}
	others := make([]string, 0, len(s.players))
	for id := range s.players {
		if id != playerID {
			others = append(others, id)
		}
	}
	sort.Strings(others)
	return others
}

// AddEnemy seeds an enemy into the raid and the overlaid world sector so
// interest queries surface it.
func (m *Manager) AddEnemy(sectorID, enemyID string) error {
	m.mu.Lock()
	s, ok := m.sectors[sectorID]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownSector
	}
	s.enemies[enemyID] = struct{}{}
	worldSector := s.worldSector
	m.mu.Unlock()

	m.grid.AddEnemy(enemyID, worldSector)
	return nil
}

// RemoveEnemy drops a defeated enemy from the raid and the world sector.
func (m *Manager) RemoveEnemy(sectorID, enemyID string) error {
	m.mu.Lock()
	s, ok := m.sectors[sectorID]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownSector
	}
	delete(s.enemies, enemyID)
	worldSector := s.worldSector
	m.mu.Unlock()

	m.grid.RemoveEnemy(enemyID, worldSector)
	return nil
}

// AddReward grows the sector's pending reward pool.
func (m *Manager) AddReward(sectorID string, amount float64) error {
	if amount < 0 {
		amount = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sectors[sectorID]
	if !ok {
		return ErrUnknownSector
	}
	if s.settled {
		return ErrAlreadySettled
	}
	s.rewardPool += amount
	return nil
}

// ResolveCombat applies the evaluator's deterministic outcome to both
// participants through the registry and returns their updated states.
func (m *Manager) ResolveCombat(sectorID, attackerID, defenderID string) (CombatResult, error) {
	m.mu.Lock()
	s, ok := m.sectors[sectorID]
	if !ok {
		m.mu.Unlock()
		return CombatResult{}, ErrUnknownSector
	}
	_, attackerIn := s.players[attackerID]
	_, defenderIn := s.players[defenderID]
	m.mu.Unlock()

	if !attackerIn || !defenderIn {
		return CombatResult{}, ErrNotParticipant
	}

	attacker, ok := m.reg.Get(attackerID)
	if !ok {
		return CombatResult{}, registry.ErrUnknownSession
	}
	defender, ok := m.reg.Get(defenderID)
	if !ok {
		return CombatResult{}, registry.ErrUnknownSession
	}

	outcome := m.eval(attacker, defender)

	var result CombatResult
	var err error
	if result.Attacker, err = m.reg.ApplyDamage(attackerID, -outcome.AttackerDamage); err != nil {
		return CombatResult{}, err
	}
	if result.Defender, err = m.reg.ApplyDamage(defenderID, -outcome.DefenderDamage); err != nil {
		return CombatResult{}, err
	}

	ctx := context.Background()
	combatlog.Resolved(ctx, m.pub, logging.PlayerRef(attackerID), logging.PlayerRef(defenderID), combatlog.ResolvedPayload{
		RaidID:         sectorID,
		AttackerDamage: outcome.AttackerDamage,
		DefenderDamage: outcome.DefenderDamage,
	})
	if !result.Attacker.Alive {
		combatlog.PlayerDefeated(ctx, m.pub, logging.PlayerRef(attackerID))
	}
	if !result.Defender.Alive {
		combatlog.PlayerDefeated(ctx, m.pub, logging.PlayerRef(defenderID))
	}
	return result, nil
}

// DistributeRewards hands the pool to the settlement queue exactly once.
// A second call fails with ErrAlreadySettled and pays nothing.
func (m *Manager) DistributeRewards(sectorID string) error {
	m.mu.Lock()
	s, ok := m.sectors[sectorID]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownSector
	}
	if s.settled {
		m.mu.Unlock()
		return ErrAlreadySettled
	}
	s.settled = true
	pool := s.rewardPool
	m.mu.Unlock()

	if m.settlement != nil {
		m.settlement.Submit(sectorID, pool)
	}
	raidlog.RewardsSettled(context.Background(), m.pub, logging.RaidRef(sectorID), raidlog.SettledPayload{Pool: pool})
	return nil
}

// Sector returns a copy of one raid sector.
func (m *Manager) Sector(sectorID string) (SectorView, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sectors[sectorID]
	if !ok {
		return SectorView{}, false
	}
	return s.view(), true
}

// Sectors lists every raid sector ordered by id.
func (m *Manager) Sectors() []SectorView {
	m.mu.Lock()
	defer m.mu.Unlock()
	views := make([]SectorView, 0, len(m.sectors))
	for _, s := range m.sectors {
		views = append(views, s.view())
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })
	return views
}

func (s *sector) view() SectorView {
	players := make([]string, 0, len(s.players))
	for id := range s.players {
		players = append(players, id)
	}
	sort.Strings(players)
	enemies := make([]string, 0, len(s.enemies))
	for id := range s.enemies {
		enemies = append(enemies, id)
	}
	sort.Strings(enemies)
	return SectorView{
		ID:          s.id,
		Name:        s.name,
		WorldSector: s.worldSector.String(),
		Players:     players,
		Enemies:     enemies,
		Status:      s.status,
		RewardPool:  s.rewardPool,
		Settled:     s.settled,
	}
}
