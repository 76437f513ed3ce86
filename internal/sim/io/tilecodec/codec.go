// Package tilecodec encodes single cells against a format version entry.
//
// Record layout (little-endian):
//
//	header1  bit0 header2 follows, bit1 active, bit2 type is u16, bit3 wall,
//	         bit4 liquid, bit5 tile paint, bits6-7 repeat width (0 none, 1 u8, 2 u16)
//	header2  bit0 wall paint, bits1-4 red/green/blue/yellow wire, bit5 actuator,
//	         bit6 inactive, bit7 shape; written only when non-zero
//	type     u8 or u16, only when active
//	u, v     i16 each, only when active and the type is frame-important
//	paint    u8 tile paint, u16 wall, u8 wall paint, u8 liquid kind + u8 amount, u8 shape
//	repeat   extra copies of this record (u8 or u16)
//
// Tiles are normalized before encoding, so one logical tile always has one encoding
// under a given version. The world file, the edit transcript and schematics all go
// through this package.
package tilecodec

import (
	"errors"
	"fmt"
	"io"

	"tileworks.dev/internal/fault"
	"tileworks.dev/internal/sim/tile"
	"tileworks.dev/internal/sim/versions"
)

const (
	h1Header2   = 1 << 0
	h1Active    = 1 << 1
	h1TypeWide  = 1 << 2
	h1Wall      = 1 << 3
	h1Liquid    = 1 << 4
	h1TilePaint = 1 << 5
	h1RunShift  = 6
	h1RunMask   = 3 << h1RunShift

	h2WallPaint = 1 << 0
	h2Red       = 1 << 1
	h2Green     = 1 << 2
	h2Blue      = 1 << 3
	h2Yellow    = 1 << 4
	h2Actuator  = 1 << 5
	h2Inactive  = 1 << 6
	h2Shape     = 1 << 7
)

// MaxRun is the most cells one record can stand for.
const MaxRun = 1 + 0xFFFF

// CheckRange rejects tiles the target version cannot store. Saves never clamp.
func CheckRange(t tile.Tile, e *versions.Entry) error {
	if t.Active && t.Type > e.MaxTileID {
		return &fault.RangeError{Field: "tile type", Value: int(t.Type), Max: int(e.MaxTileID), Version: e.Version}
	}
	if t.Wall > e.MaxWallID {
		return &fault.RangeError{Field: "wall type", Value: int(t.Wall), Max: int(e.MaxWallID), Version: e.Version}
	}
	if t.LiquidAmount > 0 && t.LiquidKind > e.MaxLiquid {
		return &fault.RangeError{Field: "liquid kind", Value: int(t.LiquidKind), Max: int(e.MaxLiquid), Version: e.Version}
	}
	return nil
}

// Encode appends the record for t, standing for repeat identical cells.
func Encode(dst []byte, t tile.Tile, e *versions.Entry, repeat int) []byte {
	if repeat < 1 || repeat > MaxRun {
		panic(fmt.Sprintf("tilecodec: repeat %d out of range", repeat))
	}
	t = tile.Normalize(t, e.IsFrameImportant)

	var h1, h2 byte
	if t.Active {
		h1 |= h1Active
		if t.Type > 0xFF {
			h1 |= h1TypeWide
		}
		if t.TilePaint != 0 {
			h1 |= h1TilePaint
		}
		if t.Inactive {
			h2 |= h2Inactive
		}
		if t.Shape != tile.ShapeFlat {
			h2 |= h2Shape
		}
	}
	if t.Wall != 0 {
		h1 |= h1Wall
		if t.WallPaint != 0 {
			h2 |= h2WallPaint
		}
	}
	if t.LiquidAmount != 0 {
		h1 |= h1Liquid
	}
	if t.WireRed {
		h2 |= h2Red
	}
	if t.WireGreen {
		h2 |= h2Green
	}
	if t.WireBlue {
		h2 |= h2Blue
	}
	if t.WireYellow {
		h2 |= h2Yellow
	}
	if t.Actuator {
		h2 |= h2Actuator
	}
	extra := repeat - 1
	switch {
	case extra > 0xFF:
		h1 |= 2 << h1RunShift
	case extra > 0:
		h1 |= 1 << h1RunShift
	}
	if h2 != 0 {
		h1 |= h1Header2
	}

	dst = append(dst, h1)
	if h2 != 0 {
		dst = append(dst, h2)
	}
	if t.Active {
		if h1&h1TypeWide != 0 {
			dst = append(dst, byte(t.Type), byte(t.Type>>8))
		} else {
			dst = append(dst, byte(t.Type))
		}
		if e.IsFrameImportant(t.Type) {
			dst = append(dst, byte(t.U), byte(uint16(t.U)>>8), byte(t.V), byte(uint16(t.V)>>8))
		}
		if t.TilePaint != 0 {
			dst = append(dst, t.TilePaint)
		}
	}
	if t.Wall != 0 {
		dst = append(dst, byte(t.Wall), byte(t.Wall>>8))
		if t.WallPaint != 0 {
			dst = append(dst, t.WallPaint)
		}
	}
	if t.LiquidAmount != 0 {
		dst = append(dst, byte(t.LiquidKind), t.LiquidAmount)
	}
	if h2&h2Shape != 0 {
		dst = append(dst, byte(t.Shape))
	}
	switch (h1 & h1RunMask) >> h1RunShift {
	case 1:
		dst = append(dst, byte(extra))
	case 2:
		dst = append(dst, byte(extra), byte(extra>>8))
	}
	return dst
}

// Decode reads one record and returns the tile and how many cells it stands for.
// A clean end of input before the first byte returns io.EOF.
func Decode(r io.ByteReader, e *versions.Entry) (tile.Tile, int, error) {
	var t tile.Tile
	h1, err := r.ReadByte()
	if err != nil {
		return t, 0, err
	}
	d := decoder{r: r}
	var h2 byte
	if h1&h1Header2 != 0 {
		h2 = d.u8()
	}
	if h1&h1Active != 0 {
		t.Active = true
		if h1&h1TypeWide != 0 {
			t.Type = d.u16()
		} else {
			t.Type = uint16(d.u8())
		}
		if e.IsFrameImportant(t.Type) {
			t.U = int16(d.u16())
			t.V = int16(d.u16())
		}
		if h1&h1TilePaint != 0 {
			t.TilePaint = d.u8()
		}
		t.Inactive = h2&h2Inactive != 0
	}
	if h1&h1Wall != 0 {
		t.Wall = d.u16()
		if h2&h2WallPaint != 0 {
			t.WallPaint = d.u8()
		}
	}
	if h1&h1Liquid != 0 {
		t.LiquidKind = tile.LiquidKind(d.u8())
		t.LiquidAmount = d.u8()
	}
	t.WireRed = h2&h2Red != 0
	t.WireGreen = h2&h2Green != 0
	t.WireBlue = h2&h2Blue != 0
	t.WireYellow = h2&h2Yellow != 0
	t.Actuator = h2&h2Actuator != 0
	if h2&h2Shape != 0 {
		t.Shape = tile.Shape(d.u8())
	}
	repeat := 1
	switch (h1 & h1RunMask) >> h1RunShift {
	case 0:
	case 1:
		repeat += int(d.u8())
	case 2:
		repeat += int(d.u16())
	default:
		return t, 0, fault.Formatf("tile record", "invalid repeat width in header 0x%02x", h1)
	}
	if d.err != nil {
		if errors.Is(d.err, io.EOF) {
			d.err = io.ErrUnexpectedEOF
		}
		return t, 0, d.err
	}
	if t.LiquidKind > tile.LiquidShimmer {
		return t, 0, fault.Formatf("tile record", "invalid liquid kind %d", t.LiquidKind)
	}
	if t.Shape > tile.MaxShape {
		return t, 0, fault.Formatf("tile record", "invalid shape %d", t.Shape)
	}
	return t, repeat, nil
}

type decoder struct {
	r   io.ByteReader
	err error
}

func (d *decoder) u8() byte {
	if d.err != nil {
		return 0
	}
	b, err := d.r.ReadByte()
	if err != nil {
		d.err = err
	}
	return b
}

func (d *decoder) u16() uint16 {
	lo := d.u8()
	hi := d.u8()
	return uint16(lo) | uint16(hi)<<8
}

// EncodeRun encodes tiles in order, grouping consecutive equal tiles into runs.
func EncodeRun(dst []byte, tiles []tile.Tile, e *versions.Entry) []byte {
	for i := 0; i < len(tiles); {
		run := 1
		for j := i + 1; j < len(tiles) && run < MaxRun && tile.Equal(tiles[i], tiles[j], e.IsFrameImportant); j++ {
			run++
		}
		dst = Encode(dst, tiles[i], e, run)
		i += run
	}
	return dst
}
