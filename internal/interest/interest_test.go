package interest

import (
	"fmt"
	"reflect"
	"testing"
	"time"

	"warzone2044/server/internal/registry"
	"warzone2044/server/internal/world"
)

type stubBullets struct {
	bullets []Bullet
}

func (s stubBullets) ActiveBullets() []Bullet { return s.bullets }

type stubRaids struct {
	co map[string][]string
}

func (s stubRaids) CoParticipants(playerID string) []string { return s.co[playerID] }

func newTestWorld(t *testing.T) (*Manager, *registry.Registry) {
	t.Helper()
	grid := world.NewGrid(world.DefaultConfig())
	reg := registry.New(grid)
	counter := 0
	reg.SetIDGenerator(func() string {
		counter++
		return fmt.Sprintf("player-%d", counter)
	})
	return New(reg, grid), reg
}

func register(t *testing.T, reg *registry.Registry, x, y float64) registry.PlayerState {
	t.Helper()
	state, err := reg.Register()
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	res, err := reg.ApplyMove(state.ID, x, y)
	if err != nil {
		t.Fatalf("move failed: %v", err)
	}
	return res.Player
}

func TestRelevantIncludesSelfAlways(t *testing.T) {
	mgr, reg := newTestWorld(t)
	me := register(t, reg, 10000, 10000)

	view, err := mgr.Relevant(me.ID)
	if err != nil {
		t.Fatalf("relevant failed: %v", err)
	}
	if len(view.Players) != 1 || view.Players[0].ID != me.ID {
		t.Fatalf("expected self-only view, got %+v", view.Players)
	}
}

func TestRelevantExcludesDistantPlayers(t *testing.T) {
	mgr, reg := newTestWorld(t)
	me := register(t, reg, 1000, 1000)
	near := register(t, reg, 1800, 1200)
	far := register(t, reg, 6000, 1000) // 5000 units away, radius 2000

	view, err := mgr.Relevant(me.ID)
	if err != nil {
		t.Fatalf("relevant failed: %v", err)
	}

	got := make(map[string]bool, len(view.Players))
	for _, p := range view.Players {
		got[p.ID] = true
	}
	if !got[me.ID] || !got[near.ID] {
		t.Fatalf("expected self and near player in view, got %v", got)
	}
	if got[far.ID] {
		t.Fatalf("distant player leaked into interest set")
	}
}

func TestRelevantIsDeterministicForSnapshot(t *testing.T) {
	mgr, reg := newTestWorld(t)
	me := register(t, reg, 5000, 5000)
	for i := 0; i < 6; i++ {
		register(t, reg, 5000+float64(i*300), 5200)
	}

	first, err := mgr.Relevant(me.ID)
	if err != nil {
		t.Fatalf("relevant failed: %v", err)
	}
	second, err := mgr.Relevant(me.ID)
	if err != nil {
		t.Fatalf("relevant failed: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("same snapshot produced different views:\n%+v\n%+v", first, second)
	}
}

func TestRelevantIncludesRaidCoParticipantsBeyondRadius(t *testing.T) {
	mgr, reg := newTestWorld(t)
	me := register(t, reg, 1000, 1000)
	ally := register(t, reg, 15000, 15000)

	mgr.SetRaidSource(stubRaids{co: map[string][]string{me.ID: {ally.ID}}})

	view, err := mgr.Relevant(me.ID)
	if err != nil {
		t.Fatalf("relevant failed: %v", err)
	}
	found := false
	for _, p := range view.Players {
		if p.ID == ally.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected raid co-participant in view despite distance")
	}
}

func TestRelevantFiltersBulletsByDistance(t *testing.T) {
	mgr, reg := newTestWorld(t)
	me := register(t, reg, 1000, 1000)

	expiry := time.Now().Add(time.Second)
	mgr.SetBulletSource(stubBullets{bullets: []Bullet{
		{ID: "b-near", OwnerID: "x", X: 1500, Y: 1500, ExpiresAt: expiry},
		{ID: "b-far", OwnerID: "x", X: 9000, Y: 9000, ExpiresAt: expiry},
	}})

	view, err := mgr.Relevant(me.ID)
	if err != nil {
		t.Fatalf("relevant failed: %v", err)
	}
	if len(view.Bullets) != 1 || view.Bullets[0].ID != "b-near" {
		t.Fatalf("expected only the near bullet, got %+v", view.Bullets)
	}
}

func TestRelevantIncludesEnemiesInRadius(t *testing.T) {
	grid := world.NewGrid(world.DefaultConfig())
	reg := registry.New(grid)
	mgr := New(reg, grid)

	state, err := reg.Register()
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	grid.AddEnemy("enemy-close", grid.SectorAt(500, 500))
	grid.AddEnemy("enemy-far", grid.SectorAt(18000, 18000))

	view, err := mgr.Relevant(state.ID)
	if err != nil {
		t.Fatalf("relevant failed: %v", err)
	}
	if len(view.EnemyIDs) != 1 || view.EnemyIDs[0] != "enemy-close" {
		t.Fatalf("expected only the close enemy, got %v", view.EnemyIDs)
	}
}

func TestObserversOfTracksSectorBoundary(t *testing.T) {
	mgr, reg := newTestWorld(t)
	mover := register(t, reg, 1000, 1000)
	oldNeighbor := register(t, reg, 1500, 1500)
	newNeighbor := register(t, reg, 14000, 14000)

	observers := mgr.ObserversOf(1000, 1000)
	if !contains(observers, oldNeighbor.ID) || contains(observers, newNeighbor.ID) {
		t.Fatalf("unexpected observers before crossing: %v", observers)
	}

	res, err := reg.ApplyMove(mover.ID, 14200, 14200)
	if err != nil {
		t.Fatalf("move failed: %v", err)
	}
	observers = mgr.ObserversOf(res.Player.X, res.Player.Y)
	if contains(observers, oldNeighbor.ID) || !contains(observers, newNeighbor.ID) {
		t.Fatalf("unexpected observers after crossing: %v", observers)
	}
}

func contains(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
