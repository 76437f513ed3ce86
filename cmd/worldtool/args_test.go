package main

import (
	"testing"

	"tileworks.dev/internal/sim/grid"
	"tileworks.dev/internal/sim/region"
	"tileworks.dev/internal/sim/tile"
)

func TestParseRectAndPoints(t *testing.T) {
	r, err := parseRect(" 1, 2,10,5")
	if err != nil || r != (region.Rect{X: 1, Y: 2, W: 10, H: 5}) {
		t.Fatalf("rect=%v err=%v", r, err)
	}
	for _, bad := range []string{"", "1,2,3", "1,2,0,4", "a,b,c,d"} {
		if _, err := parseRect(bad); err == nil {
			t.Fatalf("parseRect(%q) accepted", bad)
		}
	}

	ps, err := parsePoints("3,3; 6,2;")
	if err != nil || len(ps) != 2 || ps[1] != (grid.Point{X: 6, Y: 2}) {
		t.Fatalf("points=%v err=%v", ps, err)
	}
	if _, err := parsePoints(" ; "); err == nil {
		t.Fatalf("empty point list accepted")
	}
}

func TestParseTileFlags(t *testing.T) {
	got, err := parseTileFlags(1, 4, "Lava", 128)
	if err != nil {
		t.Fatalf("parseTileFlags: %v", err)
	}
	want := tile.Tile{Active: true, Type: 1, Wall: 4, LiquidKind: tile.LiquidLava, LiquidAmount: 128}
	if got != want {
		t.Fatalf("got %+v want %+v", got, want)
	}
	if got, _ := parseTileFlags(-1, 0, "", 0); got != (tile.Tile{}) {
		t.Fatalf("no flags should give an empty tile: %+v", got)
	}
	if _, err := parseTileFlags(-1, 0, "unknown", 0); err == nil {
		t.Fatalf("bogus liquid accepted")
	}
}
