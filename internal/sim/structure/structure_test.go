package structure

import "testing"

func TestOffsetInvertsFrame(t *testing.T) {
	cat, err := NewCatalog(18, []Def{{Tile: 21, Kind: KindContainer, Width: 2, Height: 2}})
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	d, ok := cat.Lookup(21)
	if !ok {
		t.Fatalf("missing def")
	}
	for style := 0; style < 3; style++ {
		for dy := 0; dy < d.Height; dy++ {
			for dx := 0; dx < d.Width; dx++ {
				u, v := cat.Frame(d, dx, dy, style)
				gx, gy := cat.Offset(d, u, v)
				if gx != dx || gy != dy {
					t.Fatalf("style %d offset (%d,%d): got (%d,%d)", style, dx, dy, gx, gy)
				}
			}
		}
	}
}

func TestNewCatalogRejectsBadDefs(t *testing.T) {
	if _, err := NewCatalog(18, []Def{{Tile: 1, Kind: KindSign, Width: 0, Height: 2}}); err == nil {
		t.Fatalf("expected footprint error")
	}
	if _, err := NewCatalog(18, []Def{{Tile: 2, Kind: KindFixture, Width: 1, Height: 1}}); err == nil {
		t.Fatalf("expected fixture kind error")
	}
	if _, err := NewCatalog(18, []Def{
		{Tile: 3, Kind: KindSign, Width: 2, Height: 2},
		{Tile: 3, Kind: KindSign, Width: 2, Height: 2},
	}); err == nil {
		t.Fatalf("expected duplicate error")
	}
}

func TestParseFixtureKind(t *testing.T) {
	k, err := ParseFixtureKind("Display_Doll")
	if err != nil || k != FixtureDisplayDoll {
		t.Fatalf("got %v, %v", k, err)
	}
	if k.Payload() != PayloadOutfit {
		t.Fatalf("display doll payload = %v", k.Payload())
	}
	if _, err := ParseFixtureKind("bogus"); err == nil {
		t.Fatalf("expected error")
	}
}
