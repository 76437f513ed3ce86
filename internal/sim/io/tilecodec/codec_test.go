package tilecodec

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"testing"

	"tileworks.dev/internal/fault"
	"tileworks.dev/internal/sim/tile"
	"tileworks.dev/internal/sim/versions"
)

func current(t *testing.T) *versions.Entry {
	t.Helper()
	tbl, err := versions.Default()
	if err != nil {
		t.Fatalf("versions.Default: %v", err)
	}
	return tbl.Current()
}

func sampleTiles() []tile.Tile {
	return []tile.Tile{
		{},
		{Active: true, Type: 1},
		{Active: true, Type: 300, TilePaint: 4, Shape: tile.ShapeSlopeTopLeft},
		{Active: true, Type: 21, U: 36, V: 18},
		{Wall: 200, WallPaint: 9},
		{LiquidAmount: 255, LiquidKind: tile.LiquidHoney},
		{WireRed: true, WireYellow: true, Actuator: true},
		{Active: true, Type: 2, Actuator: true, Inactive: true, WireBlue: true, WireGreen: true},
		{Active: true, Type: 21, U: -18, V: 0, Wall: 4, LiquidAmount: 3, LiquidKind: tile.LiquidShimmer},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	e := current(t)
	for i, in := range sampleTiles() {
		enc := Encode(nil, in, e, 1)
		got, repeat, err := Decode(bytes.NewReader(enc), e)
		if err != nil {
			t.Fatalf("tile %d: decode: %v", i, err)
		}
		if repeat != 1 {
			t.Fatalf("tile %d: repeat=%d want 1", i, repeat)
		}
		if !tile.Equal(got, in, e.IsFrameImportant) {
			t.Fatalf("tile %d: got %+v want %+v", i, got, in)
		}
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	e := current(t)
	a := tile.Tile{Active: true, Type: 1, U: 54, V: 72}
	b := tile.Tile{Active: true, Type: 1}
	if !bytes.Equal(Encode(nil, a, e, 1), Encode(nil, b, e, 1)) {
		t.Fatalf("frame of a non frame-important tile leaked into the encoding")
	}
	c := tile.Tile{LiquidKind: tile.LiquidLava}
	if !bytes.Equal(Encode(nil, c, e, 1), Encode(nil, tile.Tile{}, e, 1)) {
		t.Fatalf("liquid kind without amount leaked into the encoding")
	}
}

func TestMinimalEncodingLength(t *testing.T) {
	e := current(t)
	if n := len(Encode(nil, tile.Tile{}, e, 1)); n != 1 {
		t.Fatalf("empty tile encodes to %d bytes, want 1", n)
	}
	if n := len(Encode(nil, tile.Tile{Active: true, Type: 1}, e, 1)); n != 2 {
		t.Fatalf("plain tile encodes to %d bytes, want 2", n)
	}
}

func TestRunCompression(t *testing.T) {
	e := current(t)
	in := tile.Tile{Active: true, Type: 1, Wall: 2}
	single := len(Encode(nil, in, e, 1))
	for _, n := range []int{2, 3, 255, 256, 257, 1000, MaxRun, MaxRun + 5} {
		tiles := make([]tile.Tile, n)
		for i := range tiles {
			tiles[i] = in
			tiles[i].U = int16(i) // not meaningful for type 1
		}
		enc := EncodeRun(nil, tiles, e)
		if n > 4 && len(enc) >= n*single {
			t.Fatalf("n=%d: %d bytes is not smaller than %d", n, len(enc), n*single)
		}
		r := NewReader(bytes.NewReader(enc), e)
		total := 0
		for {
			got, repeat, err := r.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				t.Fatalf("n=%d: next: %v", n, err)
			}
			if !tile.Equal(got, in, e.IsFrameImportant) {
				t.Fatalf("n=%d: got %+v", n, got)
			}
			total += repeat
		}
		if total != n {
			t.Fatalf("decoded %d cells, want %d", total, n)
		}
	}
}

func TestWriterMatchesEncodeRun(t *testing.T) {
	e := current(t)
	tiles := append(sampleTiles(), sampleTiles()[1], sampleTiles()[1], tile.Tile{})
	var buf bytes.Buffer
	w := NewWriter(&buf, e)
	for _, tl := range tiles {
		if err := w.Write(tl); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if w.Cells() != int64(len(tiles)) {
		t.Fatalf("cells=%d want %d", w.Cells(), len(tiles))
	}
	if !bytes.Equal(buf.Bytes(), EncodeRun(nil, tiles, e)) {
		t.Fatalf("writer and EncodeRun disagree")
	}
}

func TestCheckRangeRejects(t *testing.T) {
	tbl, _ := versions.Default()
	old, err := tbl.Exact(39)
	if err != nil {
		t.Fatalf("Exact: %v", err)
	}
	var buf bytes.Buffer
	w := NewWriter(&buf, old)
	err = w.Write(tile.Tile{Active: true, Type: 600})
	if !fault.IsRange(err) {
		t.Fatalf("err=%v want range error", err)
	}
	if err := CheckRange(tile.Tile{LiquidAmount: 1, LiquidKind: tile.LiquidShimmer}, old); !fault.IsRange(err) {
		t.Fatalf("shimmer in version 39: err=%v", err)
	}
	if err := CheckRange(tile.Tile{Type: 600}, old); err != nil {
		t.Fatalf("inactive tile type is not stored: %v", err)
	}
}

func TestDecodeTruncated(t *testing.T) {
	e := current(t)
	enc := Encode(nil, tile.Tile{Active: true, Type: 21, U: 18, V: 18, Wall: 3}, e, 300)
	_, _, err := Decode(bufio.NewReader(bytes.NewReader(enc[:len(enc)-1])), e)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("err=%v want ErrUnexpectedEOF", err)
	}
	if _, _, err := Decode(bytes.NewReader([]byte{3 << 6}), e); !fault.IsFormat(err) {
		t.Fatalf("bad repeat width: err=%v", err)
	}
}
