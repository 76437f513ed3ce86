package tile

import "testing"

func chestsOnly(typ uint16) bool { return typ == 21 }

func TestEqualIgnoresFrameWhenNotFrameImportant(t *testing.T) {
	a := Tile{Active: true, Type: 1, U: 18, V: 36}
	b := Tile{Active: true, Type: 1}
	if !Equal(a, b, chestsOnly) {
		t.Fatalf("frame must not matter for type 1")
	}

	c := Tile{Active: true, Type: 21, U: 18}
	d := Tile{Active: true, Type: 21, U: 0}
	if Equal(c, d, chestsOnly) {
		t.Fatalf("frame must matter for a frame-important type")
	}
}

func TestNormalizeDropsAbsentFields(t *testing.T) {
	in := Tile{Active: false, Type: 5, TilePaint: 3, Shape: ShapeHalfBrick, Inactive: true, LiquidKind: LiquidLava}
	got := Normalize(in, chestsOnly)
	if got.Type != 0 || got.TilePaint != 0 || got.Shape != ShapeFlat || got.Inactive {
		t.Fatalf("inactive tile kept foreground fields: %+v", got)
	}
	if got.LiquidKind != LiquidNone {
		t.Fatalf("liquid kind without amount survived: %v", got.LiquidKind)
	}
}

func TestIsEmpty(t *testing.T) {
	if !(Tile{}).IsEmpty() {
		t.Fatalf("zero tile should be empty")
	}
	if (Tile{WireBlue: true}).IsEmpty() {
		t.Fatalf("wired tile is not empty")
	}
	tl := Tile{Active: true, Type: 3, U: 4, WireRed: true, Actuator: true}
	tl.ClearTile()
	tl.ClearWires()
	if !tl.IsEmpty() {
		t.Fatalf("cleared tile should be empty: %+v", tl)
	}
}
