package editor

import (
	"fmt"
	"sort"

	"github.com/bits-and-blooms/bitset"

	"tileworks.dev/internal/sim/grid"
	"tileworks.dev/internal/sim/tile"
)

// Tool tags known to DefaultRegistry.
const (
	ToolPencil = "pencil"
	ToolEraser = "eraser"
	ToolFill   = "fill"
)

// DefaultFillLimit caps the cells one fill may change.
const DefaultFillLimit = 1 << 20

// Tool edits the cells around one point.
type Tool interface {
	Name() string
	Apply(src TileSource, at grid.Point) error
}

// ToolOptions configure a tool instance.
type ToolOptions struct {
	Tile   tile.Tile // what pencil and fill write
	Radius int       // brush half-size; 0 is a single cell
	Walls  bool      // eraser: also remove walls, liquids and wires
	Limit  int       // fill: max cells, DefaultFillLimit when zero
}

type ToolFactory func(ToolOptions) Tool

// Registry maps tool tags to constructors.
type Registry struct {
	factories map[string]ToolFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: map[string]ToolFactory{}}
}

// DefaultRegistry knows pencil, eraser and fill.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for tag, f := range map[string]ToolFactory{
		ToolPencil: func(o ToolOptions) Tool { return pencil{o} },
		ToolEraser: func(o ToolOptions) Tool { return eraser{o} },
		ToolFill:   func(o ToolOptions) Tool { return fill{o} },
	} {
		_ = r.Register(tag, f)
	}
	return r
}

func (r *Registry) Register(tag string, f ToolFactory) error {
	if tag == "" || f == nil {
		return fmt.Errorf("register tool %q: empty tag or factory", tag)
	}
	if _, dup := r.factories[tag]; dup {
		return fmt.Errorf("tool %q already registered", tag)
	}
	r.factories[tag] = f
	return nil
}

func (r *Registry) New(tag string, opts ToolOptions) (Tool, error) {
	f, ok := r.factories[tag]
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", tag)
	}
	return f(opts), nil
}

func (r *Registry) Tags() []string {
	out := make([]string, 0, len(r.factories))
	for tag := range r.factories {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

func brush(src TileSource, at grid.Point, radius int, fn func(x, y int) error) error {
	for x := at.X - radius; x <= at.X+radius; x++ {
		for y := at.Y - radius; y <= at.Y+radius; y++ {
			if x < 0 || y < 0 || x >= src.Width() || y >= src.Height() {
				continue
			}
			if err := fn(x, y); err != nil {
				return err
			}
		}
	}
	return nil
}

// pencil writes the foreground of opts.Tile, keeping walls, liquids and wires.
type pencil struct{ o ToolOptions }

func (pencil) Name() string { return ToolPencil }

func (p pencil) Apply(src TileSource, at grid.Point) error {
	return brush(src, at, p.o.Radius, func(x, y int) error {
		t := src.Tile(x, y)
		t.Active = p.o.Tile.Active
		t.Type = p.o.Tile.Type
		t.TilePaint = p.o.Tile.TilePaint
		t.Shape = p.o.Tile.Shape
		t.U, t.V = p.o.Tile.U, p.o.Tile.V
		t.Inactive = false
		return src.SetTile(x, y, t)
	})
}

type eraser struct{ o ToolOptions }

func (eraser) Name() string { return ToolEraser }

func (e eraser) Apply(src TileSource, at grid.Point) error {
	return brush(src, at, e.o.Radius, func(x, y int) error {
		if e.o.Walls {
			return src.SetTile(x, y, tile.Tile{})
		}
		t := src.Tile(x, y)
		t.ClearTile()
		return src.SetTile(x, y, t)
	})
}

// fill replaces the 4-connected area of cells whose foreground matches the cell
// at the start point.
type fill struct{ o ToolOptions }

func (fill) Name() string { return ToolFill }

func (f fill) Apply(src TileSource, at grid.Point) error {
	w, h := src.Width(), src.Height()
	if at.X < 0 || at.Y < 0 || at.X >= w || at.Y >= h {
		return nil
	}
	limit := f.o.Limit
	if limit <= 0 {
		limit = DefaultFillLimit
	}
	target := foreground(src.Tile(at.X, at.Y))
	repl := func(t tile.Tile) tile.Tile {
		t.Active = f.o.Tile.Active
		t.Type = f.o.Tile.Type
		t.TilePaint = f.o.Tile.TilePaint
		t.Shape = f.o.Tile.Shape
		t.U, t.V = 0, 0
		return t
	}
	if foreground(repl(tile.Tile{})) == target {
		return nil
	}

	seen := bitset.New(uint(w * h))
	queue := []grid.Point{at}
	seen.Set(uint(at.X*h + at.Y))
	changed := 0
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		if changed == limit {
			return fmt.Errorf("fill stopped after %d cells", changed)
		}
		if err := src.SetTile(p.X, p.Y, repl(src.Tile(p.X, p.Y))); err != nil {
			return err
		}
		changed++
		for _, d := range [4]grid.Point{{X: 1}, {X: -1}, {Y: 1}, {Y: -1}} {
			n := p.Add(d)
			if n.X < 0 || n.Y < 0 || n.X >= w || n.Y >= h {
				continue
			}
			idx := uint(n.X*h + n.Y)
			if seen.Test(idx) || foreground(src.Tile(n.X, n.Y)) != target {
				continue
			}
			seen.Set(idx)
			queue = append(queue, n)
		}
	}
	return nil
}

type fg struct {
	active bool
	typ    uint16
	paint  uint8
	shape  tile.Shape
}

func foreground(t tile.Tile) fg {
	if !t.Active {
		return fg{}
	}
	return fg{active: true, typ: t.Type, paint: t.TilePaint, shape: t.Shape}
}
