// Package region copies rectangular parts of a grid, together with the entities
// anchored in them, and writes them back at an offset.
package region

import (
	"errors"
	"fmt"

	"tileworks.dev/internal/fault"
	"tileworks.dev/internal/sim/grid"
	"tileworks.dev/internal/sim/io/entitycodec"
	"tileworks.dev/internal/sim/tile"
)

var ErrEmptyRect = errors.New("capture rectangle does not overlap the grid")

// Rect is a half-open rectangle of cells.
type Rect struct {
	X, Y, W, H int
}

func (r Rect) String() string { return fmt.Sprintf("%dx%d@(%d,%d)", r.W, r.H, r.X, r.Y) }

func (r Rect) Contains(p grid.Point) bool {
	return p.X >= r.X && p.Y >= r.Y && p.X < r.X+r.W && p.Y < r.Y+r.H
}

// ContainsRect reports whether all of o lies inside r.
func (r Rect) ContainsRect(o Rect) bool {
	return o.X >= r.X && o.Y >= r.Y && o.X+o.W <= r.X+r.W && o.Y+o.H <= r.Y+r.H
}

func (r Rect) Overlaps(o Rect) bool {
	return r.X < o.X+o.W && o.X < r.X+r.W && r.Y < o.Y+o.H && o.Y < r.Y+r.H
}

// Clip returns r limited to a w x h grid. The result may be empty.
func (r Rect) Clip(w, h int) Rect {
	x0, y0 := max(r.X, 0), max(r.Y, 0)
	x1, y1 := min(r.X+r.W, w), min(r.Y+r.H, h)
	if x1 <= x0 || y1 <= y0 {
		return Rect{}
	}
	return Rect{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}

func (r Rect) Empty() bool { return r.W <= 0 || r.H <= 0 }

// Buffer is a detached copy of a rectangle. Its grid uses local coordinates with
// (0, 0) at Origin of the source.
type Buffer struct {
	Origin grid.Point

	// Partial lists source anchors of entity-bearing structures that straddle the
	// captured rectangle. Their entities were not captured.
	Partial []grid.Point

	g *grid.Grid
}

func (b *Buffer) Width() int  { return b.g.Width() }
func (b *Buffer) Height() int { return b.g.Height() }

// Tile returns the cell at local (x, y).
func (b *Buffer) Tile(x, y int) tile.Tile { return b.g.Tile(x, y) }

// Entities returns deep copies of the captured entities keyed by local anchor.
func (b *Buffer) Entities() entitycodec.List { return entitycodec.FromGrid(b.g) }

// Capture copies rect, clipped to g, into a new buffer. An entity is captured
// only when its whole structure lies inside the clipped rectangle.
func Capture(g *grid.Grid, rect Rect) (*Buffer, error) {
	r := rect.Clip(g.Width(), g.Height())
	if r.Empty() {
		return nil, fmt.Errorf("capture %s from %dx%d: %w", rect, g.Width(), g.Height(), ErrEmptyRect)
	}
	local, err := grid.New(r.W, r.H, g.Structures())
	if err != nil {
		return nil, err
	}
	for x := 0; x < r.W; x++ {
		for y := 0; y < r.H; y++ {
			local.SetTileAt(x*r.H+y, g.Tile(r.X+x, r.Y+y))
		}
	}

	b := &Buffer{Origin: grid.Point{X: r.X, Y: r.Y}, g: local}
	origin := grid.Point{X: -r.X, Y: -r.Y}
	for _, en := range entitycodec.FromGrid(g) {
		_, d, ok := g.Anchor(en.At.X, en.At.Y)
		if !ok {
			continue
		}
		foot := Rect{X: en.At.X, Y: en.At.Y, W: d.Width, H: d.Height}
		switch {
		case r.ContainsRect(foot):
			if err := local.PutEntities(en.At.Add(origin), en.Entities); err != nil {
				return nil, fmt.Errorf("capture entity at %s: %w", en.At, err)
			}
		case r.Overlaps(foot):
			b.Partial = append(b.Partial, en.At)
		}
	}
	return b, nil
}

// PasteOptions select which layers a paste writes. The zero value writes everything.
type PasteOptions struct {
	SkipTiles    bool
	SkipWalls    bool
	SkipLiquids  bool
	SkipWires    bool
	SkipEmpty    bool // leave destination cells alone where the buffer cell is empty
	SkipEntities bool
}

// PasteResult counts what a paste changed.
type PasteResult struct {
	Cells    int
	Entities int
	// Skipped holds entities that could not be placed, typically because their
	// structure was clipped at the destination edge.
	Skipped []error
}

// Paste writes the buffer into g with local (0, 0) at at. Cells falling outside g
// are dropped. When rec is non-nil it is told each destination cell's prior
// content before it changes. The buffer is not modified.
func (b *Buffer) Paste(g *grid.Grid, at grid.Point, opts PasteOptions, rec grid.CellRecorder) (PasteResult, error) {
	var res PasteResult
	w, h := b.g.Width(), b.g.Height()
	for x := 0; x < w; x++ {
		dx := at.X + x
		if dx < 0 || dx >= g.Width() {
			continue
		}
		for y := 0; y < h; y++ {
			dy := at.Y + y
			if dy < 0 || dy >= g.Height() {
				continue
			}
			src := b.g.TileAt(x*h + y)
			if opts.SkipEmpty && src.IsEmpty() {
				continue
			}
			cur := g.Tile(dx, dy)
			out := merge(cur, src, opts)
			if out == cur {
				continue
			}
			if rec != nil {
				if err := rec.RecordCell(dx, dy, cur); err != nil {
					return res, err
				}
			}
			g.SetTile(dx, dy, out)
			res.Cells++
		}
	}
	if opts.SkipEntities || opts.SkipTiles {
		return res, nil
	}
	for _, en := range entitycodec.FromGrid(b.g) {
		dst := en.At.Add(at)
		ents := en.Entities
		if ents.Fixture != nil {
			ents.Fixture.ID = g.NextFixtureID()
		}
		if rec != nil {
			// The anchor tile may already match; make sure the replaced entity is kept.
			if err := rec.RecordCell(dst.X, dst.Y, g.Tile(dst.X, dst.Y)); err != nil {
				return res, err
			}
		}
		g.RemoveEntities(dst)
		if err := g.PutEntities(dst, ents); err != nil {
			if !fault.IsConsistency(err) {
				return res, err
			}
			res.Skipped = append(res.Skipped, err)
			continue
		}
		res.Entities++
	}
	return res, nil
}

// merge overlays the layers of src that opts allow onto dst.
func merge(dst, src tile.Tile, opts PasteOptions) tile.Tile {
	if !opts.SkipTiles {
		dst.Active = src.Active
		dst.Type = src.Type
		dst.TilePaint = src.TilePaint
		dst.Shape = src.Shape
		dst.Inactive = src.Inactive
		dst.U, dst.V = src.U, src.V
	}
	if !opts.SkipWalls {
		dst.Wall = src.Wall
		dst.WallPaint = src.WallPaint
	}
	if !opts.SkipLiquids {
		dst.LiquidAmount = src.LiquidAmount
		dst.LiquidKind = src.LiquidKind
	}
	if !opts.SkipWires {
		dst.WireRed, dst.WireGreen = src.WireRed, src.WireGreen
		dst.WireBlue, dst.WireYellow = src.WireBlue, src.WireYellow
		dst.Actuator = src.Actuator
	}
	return dst
}
