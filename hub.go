package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"warzone2044/server/internal/interest"
	"warzone2044/server/internal/net/proto"
	"warzone2044/server/internal/persistence"
	"warzone2044/server/internal/raid"
	"warzone2044/server/internal/registry"
	"warzone2044/server/internal/world"
	"warzone2044/server/logging"
	combatlog "warzone2044/server/logging/combat"
	lifecyclelog "warzone2044/server/logging/lifecycle"
)

// Sender is the outbound half of one client connection. Send must never
// block: implementations queue the payload and report false when it was
// dropped. Critical payloads (join, leave, health-affecting updates) are
// kept at the expense of older droppable ones.
type Sender interface {
	Send(payload []byte, critical bool) bool
	Close()
}

// Hub owns the live session table and routes every validated intent
// through the registry, then fans the result out to the interest-scoped
// observer set. One hub serves one world shard.
type Hub struct {
	cfg      world.Config
	grid     *world.Grid
	registry *registry.Registry
	interest *interest.Manager
	raids    *raid.Manager

	mu          sync.RWMutex
	subscribers map[string]Sender

	bulletMu sync.Mutex
	bullets  map[string]interest.Bullet

	persist   *persistence.WriteBehind
	pub       logging.Publisher
	telemetry *telemetryCounters
	now       func() time.Time
	newID     func() string
}

// HubOptions carries the optional collaborators; zero values disable them.
type HubOptions struct {
	Raids     *raid.Manager
	Persist   *persistence.WriteBehind
	Publisher logging.Publisher
}

// NewHub wires the hub over an already-constructed world stack.
func NewHub(cfg world.Config, grid *world.Grid, reg *registry.Registry, im *interest.Manager, opts HubOptions) *Hub {
	pub := opts.Publisher
	if pub == nil {
		pub = logging.NopPublisher()
	}
	h := &Hub{
		cfg:         cfg,
		grid:        grid,
		registry:    reg,
		interest:    im,
		raids:       opts.Raids,
		subscribers: make(map[string]Sender),
		bullets:     make(map[string]interest.Bullet),
		persist:     opts.Persist,
		pub:         pub,
		telemetry:   newTelemetryCounters(),
		now:         time.Now,
		newID:       uuid.NewString,
	}
	im.SetBulletSource(h)
	if opts.Raids != nil {
		im.SetRaidSource(opts.Raids)
	}
	return h
}

// SetClock overrides bullet timestamping, for tests.
func (h *Hub) SetClock(now func() time.Time) {
	if now != nil {
		h.now = now
	}
}

// Connect registers a fresh session, attaches the sender, replies with the
// interest-filtered init payload, and announces the join to the players
// who can now see the newcomer.
func (h *Hub) Connect(sender Sender) (string, error) {
	state, err := h.registry.Register()
	if err != nil {
		return "", err
	}

	h.mu.Lock()
	h.subscribers[state.ID] = sender
	h.mu.Unlock()
	h.telemetry.RecordConnect()

	view, err := h.interest.Relevant(state.ID)
	if err != nil {
		// The session vanished between register and query; undo and bail.
		h.dropSubscriber(state.ID)
		h.registry.Remove(state.ID)
		return "", err
	}

	players := make(map[string]proto.PlayerSnapshot, len(view.Players))
	for _, p := range view.Players {
		players[p.ID] = proto.PlayerSnapshot{X: p.X, Y: p.Y, HP: p.HP, Alive: p.Alive}
	}
	if payload, err := proto.Encode(proto.NewInit(state.ID, players)); err == nil {
		h.sendTo(state.ID, payload, true)
	}

	if payload, err := proto.Encode(proto.NewJoin(state.ID, state.X, state.Y)); err == nil {
		h.fanOut(state.ID, h.interest.ObserversOfPlayer(state), payload, true)
	}

	lifecyclelog.PlayerJoined(context.Background(), h.pub, logging.PlayerRef(state.ID), lifecyclelog.PlayerJoinedPayload{
		SpawnX: state.X,
		SpawnY: state.Y,
		Sector: state.Sector.String(),
	})
	return state.ID, nil
}

// HandleMove applies a position intent and re-broadcasts the mover's
// authoritative state to the observer set recomputed after the mutation.
// Client-supplied health fields are never consulted.
func (h *Hub) HandleMove(id string, x, y float64) error {
	h.telemetry.RecordInbound()
	result, err := h.registry.ApplyMove(id, x, y)
	if err != nil {
		if errors.Is(err, registry.ErrUnknownSession) {
			h.telemetry.RecordUnknownSession()
		}
		return err
	}

	p := result.Player
	payload, err := proto.Encode(proto.NewMove(p.ID, p.X, p.Y, p.HP, p.Alive))
	if err != nil {
		return err
	}

	observers := h.interest.ObserversOfPlayer(p)
	if result.Crossed {
		// Boundary crossings change who can see the mover; the old
		// neighborhood needs the update too so clients can retire the
		// entity.
		fx, fy := h.sectorCenter(result.From)
		observers = mergeObservers(observers, h.interest.ObserversOf(fx, fy))
	}
	h.fanOut(p.ID, observers, payload, false)
	return nil
}

// HandleShoot records a transient bullet and fans the shot out to the
// shooter's observers. No persistent state changes; the server does not
// simulate projectile travel.
func (h *Hub) HandleShoot(id string, x, y, angle float64) error {
	h.telemetry.RecordInbound()
	shooter, ok := h.registry.Get(id)
	if !ok {
		h.telemetry.RecordUnknownSession()
		return registry.ErrUnknownSession
	}

	bullet := interest.Bullet{
		ID:        h.newID(),
		OwnerID:   id,
		X:         x,
		Y:         y,
		Angle:     angle,
		ExpiresAt: h.now().Add(bulletLifetime),
	}
	h.bulletMu.Lock()
	h.bullets[bullet.ID] = bullet
	h.bulletMu.Unlock()
	h.telemetry.RecordBulletSpawn()

	payload, err := proto.Encode(proto.NewShoot(id, x, y, angle))
	if err != nil {
		return err
	}
	h.fanOut(id, h.interest.ObserversOfPlayer(shooter), payload, false)
	return nil
}

// HandleRespawn resets the player at the spawn point with full health and
// broadcasts the forced state to both the old and new neighborhoods.
func (h *Hub) HandleRespawn(id string) error {
	h.telemetry.RecordInbound()
	result, err := h.registry.ApplyRespawn(id)
	if err != nil {
		if errors.Is(err, registry.ErrUnknownSession) {
			h.telemetry.RecordUnknownSession()
		}
		return err
	}

	p := result.Player
	payload, err := proto.Encode(proto.NewRespawn(p.ID, p.X, p.Y, p.HP, p.Alive))
	if err != nil {
		return err
	}

	observers := h.interest.ObserversOfPlayer(p)
	if result.Crossed {
		fx, fy := h.sectorCenter(result.From)
		observers = mergeObservers(observers, h.interest.ObserversOf(fx, fy))
	}
	h.fanOut(p.ID, observers, payload, true)

	combatlog.PlayerRespawned(context.Background(), h.pub, logging.PlayerRef(id))
	return nil
}

// Disconnect tears a session down: raid membership, registry entry, and
// subscriber slot. Observers of the player's last position get a leave
// event. Safe to call twice; the second call is a no-op.
func (h *Hub) Disconnect(id string, reason string) {
	if h.raids != nil {
		h.raids.RemovePlayer(id)
	}

	last, existed := h.registry.Remove(id)
	h.dropSubscriber(id)
	if !existed {
		return
	}
	h.telemetry.RecordDisconnect()

	if payload, err := proto.Encode(proto.NewLeave(id)); err == nil {
		h.fanOut(id, h.interest.ObserversOf(last.X, last.Y), payload, true)
	}

	if h.persist != nil {
		h.persist.Enqueue(persistence.PlayerRecord{
			ID:        id,
			LastX:     last.X,
			LastY:     last.Y,
			UpdatedAt: h.now().UTC(),
		})
	}

	lifecyclelog.PlayerDisconnected(context.Background(), h.pub, logging.PlayerRef(id), lifecyclelog.PlayerDisconnectedPayload{
		Reason: reason,
	})
}

// ActiveBullets returns the unexpired projectile table. Implements the
// interest manager's bullet source.
func (h *Hub) ActiveBullets() []interest.Bullet {
	now := h.now()
	h.bulletMu.Lock()
	defer h.bulletMu.Unlock()
	out := make([]interest.Bullet, 0, len(h.bullets))
	for _, b := range h.bullets {
		if b.ExpiresAt.After(now) {
			out = append(out, b)
		}
	}
	return out
}

// RunJanitor prunes expired bullets until the context is cancelled.
func (h *Hub) RunJanitor(ctx context.Context) {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.pruneBullets()
		}
	}
}

func (h *Hub) pruneBullets() {
	now := h.now()
	h.bulletMu.Lock()
	expired := 0
	for id, b := range h.bullets {
		if !b.ExpiresAt.After(now) {
			delete(h.bullets, id)
			expired++
		}
	}
	h.bulletMu.Unlock()
	h.telemetry.RecordBulletsExpired(expired)
}

// CreateRaid opens a raid over the world sector containing (x, y).
func (h *Hub) CreateRaid(name string, x, y float64) (raid.SectorView, error) {
	if h.raids == nil {
		return raid.SectorView{}, errors.New("raids disabled")
	}
	return h.raids.Create(name, h.grid.SectorAt(x, y)), nil
}

// JoinRaid adds a session to a raid sector.
func (h *Hub) JoinRaid(sectorID, playerID string) error {
	if h.raids == nil {
		return errors.New("raids disabled")
	}
	if _, ok := h.registry.Get(playerID); !ok {
		return registry.ErrUnknownSession
	}
	return h.raids.Join(sectorID, playerID)
}

// LeaveRaid removes a session from a raid sector.
func (h *Hub) LeaveRaid(sectorID, playerID string) error {
	if h.raids == nil {
		return errors.New("raids disabled")
	}
	return h.raids.Leave(sectorID, playerID)
}

// ResolveRaidCombat runs the evaluator for one exchange and broadcasts
// both participants' authoritative states. Health changes are critical
// and never dropped from outbound queues.
func (h *Hub) ResolveRaidCombat(sectorID, attackerID, defenderID string) (raid.CombatResult, error) {
	if h.raids == nil {
		return raid.CombatResult{}, errors.New("raids disabled")
	}
	result, err := h.raids.ResolveCombat(sectorID, attackerID, defenderID)
	if err != nil {
		return raid.CombatResult{}, err
	}

	for _, p := range []registry.PlayerState{result.Attacker, result.Defender} {
		payload, err := proto.Encode(proto.NewMove(p.ID, p.X, p.Y, p.HP, p.Alive))
		if err != nil {
			continue
		}
		h.fanOut(p.ID, h.interest.ObserversOfPlayer(p), payload, true)
	}
	return result, nil
}

// SettleRaid hands the raid's reward pool to the settlement queue.
func (h *Hub) SettleRaid(sectorID string) error {
	if h.raids == nil {
		return errors.New("raids disabled")
	}
	return h.raids.DistributeRewards(sectorID)
}

// Raids exposes the raid manager for the admin endpoints; nil when raids
// are disabled.
func (h *Hub) Raids() *raid.Manager { return h.raids }

// DiagnosticsSnapshot is the JSON document served by /diagnostics.
type DiagnosticsSnapshot struct {
	Players           int                `json:"players"`
	Subscribers       int                `json:"subscribers"`
	MaterializedCells int                `json:"materializedCells"`
	ActiveBullets     int                `json:"activeBullets"`
	RaidSectors       []raid.SectorView  `json:"raidSectors,omitempty"`
	Telemetry         TelemetrySnapshot  `json:"telemetry"`
	Persistence       *persistence.Stats `json:"persistence,omitempty"`
	InterestRadius    float64            `json:"interestRadius"`
	SectorSize        float64            `json:"sectorSize"`
	ProtocolVersion   int                `json:"protocolVersion"`
}

// Diagnostics assembles the operational snapshot.
func (h *Hub) Diagnostics() DiagnosticsSnapshot {
	h.mu.RLock()
	subs := len(h.subscribers)
	h.mu.RUnlock()

	snap := DiagnosticsSnapshot{
		Players:           h.registry.Len(),
		Subscribers:       subs,
		MaterializedCells: h.grid.MaterializedSectors(),
		ActiveBullets:     len(h.ActiveBullets()),
		Telemetry:         h.telemetry.Snapshot(),
		InterestRadius:    h.interest.Radius(),
		SectorSize:        h.cfg.SectorSize,
		ProtocolVersion:   ProtocolVersion,
	}
	if h.raids != nil {
		snap.RaidSectors = h.raids.Sectors()
	}
	if h.persist != nil {
		stats := h.persist.Stats()
		snap.Persistence = &stats
	}
	return snap
}

// Telemetry returns the hub's counters.
func (h *Hub) Telemetry() TelemetrySnapshot { return h.telemetry.Snapshot() }

// RecordProtocolError accounts a rejected inbound payload.
func (h *Hub) RecordProtocolError() { h.telemetry.RecordProtocolError() }

// sendTo queues a payload for a single session. A missing subscriber is a
// benign race with disconnect, not an error.
func (h *Hub) sendTo(id string, payload []byte, critical bool) {
	h.mu.RLock()
	sender, ok := h.subscribers[id]
	h.mu.RUnlock()
	if !ok {
		return
	}
	dropped := 0
	if !sender.Send(payload, critical) {
		dropped = 1
	}
	h.telemetry.RecordFanout(len(payload), 1, dropped)
}

// fanOut queues a payload for every observer except the origin session.
func (h *Hub) fanOut(originID string, observers []string, payload []byte, critical bool) {
	if len(observers) == 0 {
		return
	}
	h.mu.RLock()
	targets := make([]Sender, 0, len(observers))
	for _, id := range observers {
		if id == originID {
			continue
		}
		if sender, ok := h.subscribers[id]; ok {
			targets = append(targets, sender)
		}
	}
	h.mu.RUnlock()

	dropped := 0
	for _, sender := range targets {
		if !sender.Send(payload, critical) {
			dropped++
		}
	}
	h.telemetry.RecordFanout(len(payload), len(targets), dropped)
}

func (h *Hub) dropSubscriber(id string) {
	h.mu.Lock()
	sender, ok := h.subscribers[id]
	if ok {
		delete(h.subscribers, id)
	}
	h.mu.Unlock()
	if ok {
		sender.Close()
	}
}

// sectorCenter maps a sector id back to the midpoint of its cell.
func (h *Hub) sectorCenter(sector world.SectorID) (float64, float64) {
	half := h.cfg.SectorSize / 2
	return float64(sector.X) + half, float64(sector.Y) + half
}

func mergeObservers(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	merged := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, id := range list {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			merged = append(merged, id)
		}
	}
	return merged
}
