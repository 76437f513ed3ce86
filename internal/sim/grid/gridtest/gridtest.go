// Package gridtest builds populated grids for tests in other packages and compares
// them cell by cell.
package gridtest

import (
	"reflect"
	"testing"

	"tileworks.dev/internal/sim/grid"
	"tileworks.dev/internal/sim/structure"
	"tileworks.dev/internal/sim/tile"
	"tileworks.dev/internal/sim/versions"
)

// Tile types from the default version table used by Sample.
const (
	Dirt       = 0
	Stone      = 1
	Chest      = 21
	Sign       = 55
	ItemFrame  = 395
	Dummy      = 378
	HatRack    = 475
	Torch      = 4
	WoodWall   = 4
	LargeChest = 88
)

// Table returns the embedded version table or fails the test.
func Table(t testing.TB) *versions.Table {
	t.Helper()
	tbl, err := versions.Default()
	if err != nil {
		t.Fatalf("versions.Default: %v", err)
	}
	return tbl
}

// New returns an empty grid using the default structure catalog.
func New(t testing.TB, w, h int) *grid.Grid {
	t.Helper()
	g, err := grid.New(w, h, Table(t).Structures())
	if err != nil {
		t.Fatalf("grid.New: %v", err)
	}
	return g
}

// Place puts a structure on g and fails the test on error.
func Place(t testing.TB, g *grid.Grid, at grid.Point, typ uint16, style int) {
	t.Helper()
	if err := g.PlaceStructure(at, typ, style); err != nil {
		t.Fatalf("PlaceStructure(%s, %d): %v", at, typ, err)
	}
}

// Sample builds a w x h world with terrain, liquids, wiring and one of each
// entity kind. w must be at least 16 and h at least 12.
func Sample(t testing.TB, w, h int) *grid.Grid {
	t.Helper()
	g := New(t, w, h)
	g.Meta = grid.Meta{
		Title:       "sample",
		WorldID:     1234,
		SpawnX:      int32(w / 2),
		SpawnY:      int32(h / 3),
		GroundLevel: float64(h) / 3,
		RockLevel:   float64(h) / 2,
	}
	for x := 0; x < w; x++ {
		for y := h / 2; y < h; y++ {
			c := tile.Tile{Active: true, Type: Dirt, Wall: 2}
			if y > h*3/4 {
				c.Type = Stone
			}
			if (x+y)%7 == 0 {
				c.Shape = tile.ShapeHalfBrick
				c.TilePaint = 3
			}
			g.SetTile(x, y, c)
		}
		g.SetTile(x, h/2-1, tile.Tile{LiquidAmount: 255, LiquidKind: tile.LiquidWater})
	}
	for y := 0; y < h/2-1; y++ {
		g.SetTile(w-1, y, tile.Tile{WireRed: true, WireBlue: y%2 == 0, Actuator: y == 0})
	}
	g.SetTile(w-2, 0, tile.Tile{Active: true, Type: Torch, U: 22, V: 0, Wall: WoodWall, WallPaint: 5})

	Place(t, g, grid.Point{X: 2, Y: 2}, Chest, 0)
	mustPut(t, g.PutContainer(grid.Point{X: 2, Y: 2}, grid.Container{
		Name:  "loot",
		Slots: []grid.ItemStack{{NetID: 1, Stack: 99}, {}, {NetID: 73, Stack: 12, Prefix: 1}},
	}))
	Place(t, g, grid.Point{X: 5, Y: 1}, Sign, 0)
	mustPut(t, g.PutSign(grid.Point{X: 5, Y: 1}, grid.Sign{Text: "welcome\nhome"}))
	Place(t, g, grid.Point{X: 8, Y: 1}, ItemFrame, 1)
	mustPut(t, g.PutFixture(grid.Point{X: 8, Y: 1}, grid.Fixture{
		ID: g.NextFixtureID(), Kind: structure.FixtureItemFrame, Item: grid.ItemStack{NetID: 4956, Stack: 1, Prefix: 81},
	}))
	Place(t, g, grid.Point{X: 11, Y: 1}, HatRack, 0)
	mustPut(t, g.PutFixture(grid.Point{X: 11, Y: 1}, grid.Fixture{
		ID: g.NextFixtureID(), Kind: structure.FixtureHatRack,
		Items: []grid.ItemStack{{NetID: 88, Stack: 1}, {NetID: 89, Stack: 1}},
		Dyes:  []grid.ItemStack{{NetID: 1007, Stack: 1}, {}},
	}))
	return g
}

func mustPut(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("put entity: %v", err)
	}
}

// Equal fails the test at the first cell or entity where a and b differ.
func Equal(t testing.TB, a, b *grid.Grid, fi tile.FrameImportant) {
	t.Helper()
	if a.Width() != b.Width() || a.Height() != b.Height() {
		t.Fatalf("size %dx%d vs %dx%d", a.Width(), a.Height(), b.Width(), b.Height())
	}
	for x := 0; x < a.Width(); x++ {
		for y := 0; y < a.Height(); y++ {
			if ta, tb := a.Tile(x, y), b.Tile(x, y); !tile.Equal(ta, tb, fi) {
				t.Fatalf("cell (%d,%d): %+v vs %+v", x, y, ta, tb)
			}
		}
	}
	EqualEntities(t, a, b)
}

// EqualEntities compares the side tables of a and b.
func EqualEntities(t testing.TB, a, b *grid.Grid) {
	t.Helper()
	for _, pair := range []struct {
		name string
		a, b []grid.Point
	}{
		{"containers", a.ContainerAnchors(), b.ContainerAnchors()},
		{"signs", a.SignAnchors(), b.SignAnchors()},
		{"fixtures", a.FixtureAnchors(), b.FixtureAnchors()},
	} {
		if !reflect.DeepEqual(pair.a, pair.b) {
			t.Fatalf("%s anchors %v vs %v", pair.name, pair.a, pair.b)
		}
		for _, p := range pair.a {
			if ea, eb := a.EntitiesAt(p), b.EntitiesAt(p); !reflect.DeepEqual(ea, eb) {
				t.Fatalf("%s at %s: %+v vs %+v", pair.name, p, ea, eb)
			}
		}
	}
}
