package world

import "testing"

func TestSectorAtIsStableAndDeterministic(t *testing.T) {
	grid := NewGrid(DefaultConfig())

	cases := []struct {
		name string
		x, y float64
		want SectorID
	}{
		{"origin", 0, 0, SectorID{X: 0, Y: 0}},
		{"interior", 1500, 2500, SectorID{X: 1000, Y: 2000}},
		{"on boundary", 1000, 1000, SectorID{X: 1000, Y: 1000}},
		{"spawn point", 400, 300, SectorID{X: 0, Y: 0}},
		{"far corner", 19999, 19999, SectorID{X: 19000, Y: 19000}},
		{"clamped beyond bound", 25000, -40, SectorID{X: 19000, Y: 0}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			first := grid.SectorAt(tc.x, tc.y)
			if first != tc.want {
				t.Fatalf("SectorAt(%v,%v) = %v, want %v", tc.x, tc.y, first, tc.want)
			}
			if again := grid.SectorAt(tc.x, tc.y); again != first {
				t.Fatalf("SectorAt not stable: %v then %v", first, again)
			}
		})
	}
}

func TestSectorsWithinRadiusContainsOwnSector(t *testing.T) {
	grid := NewGrid(DefaultConfig())
	points := [][2]float64{{0, 0}, {400, 300}, {9999, 9999}, {19999, 0}, {5000, 17500}}
	radii := []float64{0, 1, 999, 2000, 8000}

	for _, p := range points {
		home := grid.SectorAt(p[0], p[1])
		for _, r := range radii {
			sectors := grid.SectorsWithinRadius(p[0], p[1], r)
			found := false
			for _, id := range sectors {
				if id == home {
					found = true
					break
				}
			}
			if !found {
				t.Fatalf("SectorsWithinRadius(%v, %v, %v) missing home sector %v", p[0], p[1], r, home)
			}
		}
	}
}

func TestSectorsWithinRadiusCoversBoundingSquare(t *testing.T) {
	grid := NewGrid(DefaultConfig())

	sectors := grid.SectorsWithinRadius(5500, 5500, 2000)
	// radius 2000 around the middle of sector (5000,5000) spans columns
	// 3000..7000 in both axes: a 5x5 block.
	if len(sectors) != 25 {
		t.Fatalf("expected 25 sectors, got %d", len(sectors))
	}

	seen := make(map[SectorID]struct{}, len(sectors))
	for _, id := range sectors {
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate sector %v in result", id)
		}
		seen[id] = struct{}{}
	}
}

func TestSectorsWithinRadiusClampsToWorldEdge(t *testing.T) {
	grid := NewGrid(DefaultConfig())

	sectors := grid.SectorsWithinRadius(100, 100, 2000)
	for _, id := range sectors {
		if id.X < 0 || id.Y < 0 {
			t.Fatalf("sector %v outside the world bound", id)
		}
	}
	// Corner query keeps the 3x3 block that exists, not the full 5x5.
	if len(sectors) != 9 {
		t.Fatalf("expected 9 sectors at the corner, got %d", len(sectors))
	}
}

func TestGridMembershipMoveAndRelease(t *testing.T) {
	grid := NewGrid(DefaultConfig())
	a := grid.SectorAt(500, 500)
	b := grid.SectorAt(1500, 500)

	grid.AddPlayer("p1", a)
	if got := grid.MemberCount(a); got != 1 {
		t.Fatalf("expected 1 member in %v, got %d", a, got)
	}

	grid.MovePlayer("p1", a, b)
	if got := grid.MemberCount(a); got != 0 {
		t.Fatalf("expected old sector emptied, got %d members", got)
	}
	if got := grid.MemberCount(b); got != 1 {
		t.Fatalf("expected 1 member in %v, got %d", b, got)
	}

	grid.RemovePlayer("p1", b)
	if got := grid.MaterializedSectors(); got != 0 {
		t.Fatalf("expected empty sectors to be released, %d still materialized", got)
	}
}

func TestGridRaidFlagKeepsSectorMaterialized(t *testing.T) {
	grid := NewGrid(DefaultConfig())
	sector := grid.SectorAt(3000, 3000)

	grid.SetRaidActive(sector, true)
	if !grid.RaidActive(sector) {
		t.Fatalf("expected raid flag set")
	}
	if got := grid.MaterializedSectors(); got != 1 {
		t.Fatalf("expected raid flag to pin the sector, got %d", got)
	}

	grid.SetRaidActive(sector, false)
	if grid.RaidActive(sector) {
		t.Fatalf("expected raid flag cleared")
	}
	if got := grid.MaterializedSectors(); got != 0 {
		t.Fatalf("expected sector released after flag clear, got %d", got)
	}
}

func TestParseSectorIDRoundTrip(t *testing.T) {
	id := SectorID{X: 3000, Y: 17000}
	parsed, err := ParseSectorID(id.String())
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if parsed != id {
		t.Fatalf("round trip mismatch: %v != %v", parsed, id)
	}

	if _, err := ParseSectorID("zone_1_2"); err == nil {
		t.Fatalf("expected error for malformed id")
	}
}
