package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"warzone2044/server/internal/interest"
	"warzone2044/server/internal/raid"
	"warzone2044/server/internal/registry"
	"warzone2044/server/internal/world"
)

type fakeSender struct {
	mu       sync.Mutex
	payloads [][]byte
	critical []bool
	closed   bool
	reject   bool
}

func (s *fakeSender) Send(payload []byte, critical bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reject && !critical {
		return false
	}
	s.payloads = append(s.payloads, append([]byte(nil), payload...))
	s.critical = append(s.critical, critical)
	return true
}

func (s *fakeSender) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *fakeSender) messages(t *testing.T) []map[string]any {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]any, 0, len(s.payloads))
	for _, payload := range s.payloads {
		var decoded map[string]any
		if err := json.Unmarshal(payload, &decoded); err != nil {
			t.Fatalf("undecodable payload %s: %v", payload, err)
		}
		out = append(out, decoded)
	}
	return out
}

func (s *fakeSender) typesSeen(t *testing.T) []string {
	t.Helper()
	var types []string
	for _, msg := range s.messages(t) {
		types = append(types, msg["type"].(string))
	}
	return types
}

func hasType(msgs []map[string]any, msgType, id string) bool {
	for _, msg := range msgs {
		if msg["type"] != msgType {
			continue
		}
		if id == "" || msg["id"] == id {
			return true
		}
	}
	return false
}

type hubFixture struct {
	hub   *Hub
	reg   *registry.Registry
	raids *raid.Manager
}

func newHubFixture(t *testing.T, withRaids bool) *hubFixture {
	t.Helper()
	cfg := world.Config{}.Normalized()
	grid := world.NewGrid(cfg)
	reg := registry.New(grid)
	seq := 0
	reg.SetIDGenerator(func() string {
		seq++
		return fmt.Sprintf("p%d", seq)
	})
	im := interest.New(reg, grid)

	opts := HubOptions{}
	var raids *raid.Manager
	if withRaids {
		eval := func(_, _ registry.PlayerState) raid.Outcome {
			return raid.Outcome{DefenderDamage: 40}
		}
		raids = raid.New(reg, grid, eval, nil, nil)
		raidSeq := 0
		raids.SetIDGenerator(func() string {
			raidSeq++
			return fmt.Sprintf("raid-%d", raidSeq)
		})
		opts.Raids = raids
	}
	hub := NewHub(cfg, grid, reg, im, opts)
	return &hubFixture{hub: hub, reg: reg, raids: raids}
}

func TestConnectSendsInterestFilteredInit(t *testing.T) {
	f := newHubFixture(t, false)

	first := &fakeSender{}
	firstID, err := f.hub.Connect(first)
	if err != nil {
		t.Fatalf("connect first: %v", err)
	}
	// Move the first player far from spawn so the second connect is out
	// of range (radius 2000, separation 5000+).
	if err := f.hub.HandleMove(firstID, 9000, 9000); err != nil {
		t.Fatalf("move first: %v", err)
	}

	second := &fakeSender{}
	secondID, err := f.hub.Connect(second)
	if err != nil {
		t.Fatalf("connect second: %v", err)
	}

	msgs := second.messages(t)
	if len(msgs) == 0 || msgs[0]["type"] != "init" {
		t.Fatalf("expected init first, got %v", second.typesSeen(t))
	}
	players := msgs[0]["players"].(map[string]any)
	if _, ok := players[firstID]; ok {
		t.Fatalf("init leaked a player 5000+ units away")
	}
	if _, ok := players[secondID]; !ok {
		t.Fatalf("init must include the player themselves")
	}
	if hasType(first.messages(t), "join", secondID) {
		t.Fatalf("join leaked to an out-of-range observer")
	}
}

func TestConnectAnnouncesJoinToNearbyObservers(t *testing.T) {
	f := newHubFixture(t, false)

	first := &fakeSender{}
	firstID, err := f.hub.Connect(first)
	if err != nil {
		t.Fatalf("connect first: %v", err)
	}

	second := &fakeSender{}
	secondID, err := f.hub.Connect(second)
	if err != nil {
		t.Fatalf("connect second: %v", err)
	}

	if !hasType(first.messages(t), "join", secondID) {
		t.Fatalf("expected join for %s at nearby observer, saw %v", secondID, first.typesSeen(t))
	}
	players := second.messages(t)[0]["players"].(map[string]any)
	if _, ok := players[firstID]; !ok {
		t.Fatalf("expected nearby player in init, got %v", players)
	}
}

func TestHandleMoveFansOutAuthoritativeState(t *testing.T) {
	f := newHubFixture(t, false)
	mover := &fakeSender{}
	moverID, _ := f.hub.Connect(mover)
	watcher := &fakeSender{}
	_, _ = f.hub.Connect(watcher)

	if err := f.hub.HandleMove(moverID, 450, 360); err != nil {
		t.Fatalf("move: %v", err)
	}

	var moveMsg map[string]any
	for _, msg := range watcher.messages(t) {
		if msg["type"] == "move" && msg["id"] == moverID {
			moveMsg = msg
		}
	}
	if moveMsg == nil {
		t.Fatalf("observer never saw the move, saw %v", watcher.typesSeen(t))
	}
	if moveMsg["hp"].(float64) != 100 || moveMsg["alive"] != true {
		t.Fatalf("expected authoritative hp/alive in fan-out, got %v", moveMsg)
	}
	if hasType(mover.messages(t), "move", moverID) {
		t.Fatalf("mover must not receive an echo of their own move")
	}
}

func TestHandleMoveUnknownSession(t *testing.T) {
	f := newHubFixture(t, false)
	if err := f.hub.HandleMove("ghost", 1, 2); !errors.Is(err, registry.ErrUnknownSession) {
		t.Fatalf("expected ErrUnknownSession, got %v", err)
	}
	if f.hub.Telemetry().UnknownSessions != 1 {
		t.Fatalf("expected unknown-session counter increment")
	}
}

func TestHandleShootReachesNewSectorAfterCrossing(t *testing.T) {
	f := newHubFixture(t, false)
	shooter := &fakeSender{}
	shooterID, _ := f.hub.Connect(shooter)
	oldNeighbor := &fakeSender{}
	_, _ = f.hub.Connect(oldNeighbor)

	// Park a third player far away, then walk the shooter across the
	// world toward them.
	newNeighbor := &fakeSender{}
	newNeighborID, _ := f.hub.Connect(newNeighbor)
	if err := f.hub.HandleMove(newNeighborID, 12000, 12000); err != nil {
		t.Fatalf("move new neighbor: %v", err)
	}
	if err := f.hub.HandleMove(shooterID, 11800, 11800); err != nil {
		t.Fatalf("move shooter: %v", err)
	}

	if err := f.hub.HandleShoot(shooterID, 11800, 11800, 1.2); err != nil {
		t.Fatalf("shoot: %v", err)
	}

	if !hasType(newNeighbor.messages(t), "shoot", shooterID) {
		t.Fatalf("new-sector neighbor missed the shot, saw %v", newNeighbor.typesSeen(t))
	}
	if hasType(oldNeighbor.messages(t), "shoot", shooterID) {
		t.Fatalf("old-sector neighbor still receives shots after crossing")
	}
	if len(f.hub.ActiveBullets()) != 1 {
		t.Fatalf("expected one live bullet, got %d", len(f.hub.ActiveBullets()))
	}
}

func TestBulletsExpire(t *testing.T) {
	f := newHubFixture(t, false)
	shooter := &fakeSender{}
	shooterID, _ := f.hub.Connect(shooter)

	base := time.Date(2025, 8, 1, 10, 0, 0, 0, time.UTC)
	current := base
	f.hub.SetClock(func() time.Time { return current })

	if err := f.hub.HandleShoot(shooterID, 400, 300, 0); err != nil {
		t.Fatalf("shoot: %v", err)
	}
	if len(f.hub.ActiveBullets()) != 1 {
		t.Fatalf("expected live bullet immediately after the shot")
	}

	current = base.Add(2 * time.Second)
	if len(f.hub.ActiveBullets()) != 0 {
		t.Fatalf("expected bullet to expire after its lifetime")
	}
	f.hub.pruneBullets()
	if f.hub.Telemetry().BulletsExpired != 1 {
		t.Fatalf("expected janitor to account the expired bullet")
	}
}

func TestHandleRespawnForcesFullHealth(t *testing.T) {
	f := newHubFixture(t, true)
	a := &fakeSender{}
	aID, _ := f.hub.Connect(a)
	b := &fakeSender{}
	bID, _ := f.hub.Connect(b)

	view, err := f.hub.CreateRaid("Breach", 400, 300)
	if err != nil {
		t.Fatalf("create raid: %v", err)
	}
	if err := f.hub.JoinRaid(view.ID, aID); err != nil {
		t.Fatalf("join a: %v", err)
	}
	if err := f.hub.JoinRaid(view.ID, bID); err != nil {
		t.Fatalf("join b: %v", err)
	}

	// Three exchanges at 40 damage each defeat the defender.
	for i := 0; i < 3; i++ {
		if _, err := f.hub.ResolveRaidCombat(view.ID, aID, bID); err != nil {
			t.Fatalf("resolve combat: %v", err)
		}
	}
	state, _ := f.reg.Get(bID)
	if state.Alive {
		t.Fatalf("expected defender defeated, got %+v", state)
	}

	if err := f.hub.HandleRespawn(bID); err != nil {
		t.Fatalf("respawn: %v", err)
	}
	state, _ = f.reg.Get(bID)
	if state.HP != 100 || !state.Alive {
		t.Fatalf("expected forced hp=100 alive=true, got %+v", state)
	}
	if !hasType(a.messages(t), "respawn", bID) {
		t.Fatalf("observer missed the respawn, saw %v", a.typesSeen(t))
	}
}

func TestDisconnectCleansUpEverything(t *testing.T) {
	f := newHubFixture(t, true)
	leaver := &fakeSender{}
	leaverID, _ := f.hub.Connect(leaver)
	observer := &fakeSender{}
	_, _ = f.hub.Connect(observer)

	view, _ := f.hub.CreateRaid("Breach", 400, 300)
	if err := f.hub.JoinRaid(view.ID, leaverID); err != nil {
		t.Fatalf("join raid: %v", err)
	}

	f.hub.Disconnect(leaverID, "transport error")

	if _, ok := f.reg.Get(leaverID); ok {
		t.Fatalf("expected session removed from registry")
	}
	if !hasType(observer.messages(t), "leave", leaverID) {
		t.Fatalf("observer missed the leave, saw %v", observer.typesSeen(t))
	}
	if !leaver.closed {
		t.Fatalf("expected subscriber closed on disconnect")
	}
	raidView, _ := f.raids.Sector(view.ID)
	if raidView.Status != raid.StatusResolved {
		t.Fatalf("expected last-member disconnect to resolve raid, got %q", raidView.Status)
	}

	// Second disconnect is a benign no-op.
	f.hub.Disconnect(leaverID, "duplicate")
	if f.hub.Telemetry().Disconnects != 1 {
		t.Fatalf("expected a single accounted disconnect")
	}
}

func TestFanoutCountsDroppedMessages(t *testing.T) {
	f := newHubFixture(t, false)
	mover := &fakeSender{}
	moverID, _ := f.hub.Connect(mover)
	slow := &fakeSender{reject: true}
	_, _ = f.hub.Connect(slow)

	if err := f.hub.HandleMove(moverID, 410, 310); err != nil {
		t.Fatalf("move: %v", err)
	}

	if f.hub.Telemetry().MessagesDropped == 0 {
		t.Fatalf("expected dropped-message accounting for a rejecting subscriber")
	}
	// Critical traffic still goes through a rejecting sender.
	if len(slow.messages(t)) == 0 {
		t.Fatalf("expected critical init/join traffic to survive")
	}
}

func TestDiagnosticsSnapshot(t *testing.T) {
	f := newHubFixture(t, true)
	sender := &fakeSender{}
	_, _ = f.hub.Connect(sender)
	_, _ = f.hub.CreateRaid("Breach", 400, 300)

	snap := f.hub.Diagnostics()
	if snap.Players != 1 || snap.Subscribers != 1 {
		t.Fatalf("unexpected occupancy %+v", snap)
	}
	if len(snap.RaidSectors) != 1 {
		t.Fatalf("expected raid sector in diagnostics, got %+v", snap.RaidSectors)
	}
	if snap.Telemetry.Connections != 1 {
		t.Fatalf("expected connection counter in diagnostics")
	}
	if snap.SectorSize != world.DefaultSectorSize || snap.InterestRadius != world.DefaultInterestRadius {
		t.Fatalf("unexpected geometry %+v", snap)
	}
}
