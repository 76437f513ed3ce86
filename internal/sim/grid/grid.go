package grid

import (
	"fmt"

	"tileworks.dev/internal/sim/structure"
	"tileworks.dev/internal/sim/tile"
)

// Point is a cell coordinate.
type Point struct {
	X, Y int
}

func (p Point) Add(o Point) Point { return Point{X: p.X + o.X, Y: p.Y + o.Y} }

func (p Point) String() string { return fmt.Sprintf("(%d,%d)", p.X, p.Y) }

// Meta holds world-level scalars carried through the file header.
type Meta struct {
	Version     int32
	Title       string
	WorldID     int32
	SpawnX      int32
	SpawnY      int32
	GroundLevel float64
	RockLevel   float64
}

// Grid is a dense 2-D array of tiles plus entity side tables keyed by anchor.
// Tiles are stored column-major: index = x*height + y.
type Grid struct {
	Meta Meta

	width, height int
	tiles         []tile.Tile
	structs       *structure.Catalog

	containers map[Point]*Container
	signs      map[Point]*Sign
	fixtures   map[Point]*Fixture
	nextFixID  int32
}

// New allocates an all-inactive grid.
func New(width, height int, structs *structure.Catalog) (*Grid, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("grid dimensions must be positive: got %dx%d", width, height)
	}
	return &Grid{
		width:      width,
		height:     height,
		tiles:      make([]tile.Tile, width*height),
		structs:    structs,
		containers: map[Point]*Container{},
		signs:      map[Point]*Sign{},
		fixtures:   map[Point]*Fixture{},
	}, nil
}

func (g *Grid) Width() int  { return g.width }
func (g *Grid) Height() int { return g.height }

// Structures is the catalog used to resolve anchors.
func (g *Grid) Structures() *structure.Catalog { return g.structs }

func (g *Grid) InBounds(x, y int) bool {
	return x >= 0 && y >= 0 && x < g.width && y < g.height
}

func (g *Grid) index(x, y int) int {
	return x*g.height + y
}

// Tile returns a copy of the cell. Out-of-range cells read as empty.
func (g *Grid) Tile(x, y int) tile.Tile {
	if !g.InBounds(x, y) {
		return tile.Tile{}
	}
	return g.tiles[g.index(x, y)]
}

// SetTile stores t at (x, y). If the cell anchored an entity and no longer bears
// that structure at its anchor position, the entity is removed.
func (g *Grid) SetTile(x, y int, t tile.Tile) {
	if !g.InBounds(x, y) {
		return
	}
	g.tiles[g.index(x, y)] = t
	if len(g.containers)+len(g.signs)+len(g.fixtures) == 0 {
		return
	}
	p := Point{X: x, Y: y}
	if _, ok := g.containers[p]; ok && !g.anchors(p, structure.KindContainer) {
		delete(g.containers, p)
	}
	if _, ok := g.signs[p]; ok && !g.anchors(p, structure.KindSign) {
		delete(g.signs, p)
	}
	if f, ok := g.fixtures[p]; ok && !g.anchorsFixture(p, f.Kind) {
		delete(g.fixtures, p)
	}
}

// Cells returns the number of cells in the grid.
func (g *Grid) Cells() int { return len(g.tiles) }

// TileAt returns the cell at a column-major index. Used by stream codecs.
func (g *Grid) TileAt(i int) tile.Tile { return g.tiles[i] }

// SetTileAt stores a cell by column-major index without entity bookkeeping.
// Stream readers fill tiles before any entity is attached.
func (g *Grid) SetTileAt(i int, t tile.Tile) { g.tiles[i] = t }

// Fill writes t into every cell of the half-open rectangle clipped to the grid.
func (g *Grid) Fill(x0, y0, x1, y1 int, t tile.Tile) {
	for x := max(x0, 0); x < min(x1, g.width); x++ {
		for y := max(y0, 0); y < min(y1, g.height); y++ {
			g.SetTile(x, y, t)
		}
	}
}

// PlaceStructure writes the tiles of a structure of type typ with its anchor at p.
// Existing tiles in the footprint are overwritten; walls and liquids are kept.
func (g *Grid) PlaceStructure(p Point, typ uint16, style int) error {
	d, ok := g.structs.Lookup(typ)
	if !ok {
		return fmt.Errorf("tile type %d is not a structure", typ)
	}
	if !g.InBounds(p.X, p.Y) || !g.InBounds(p.X+d.Width-1, p.Y+d.Height-1) {
		return fmt.Errorf("structure %d at %s does not fit in %dx%d", typ, p, g.width, g.height)
	}
	for dx := 0; dx < d.Width; dx++ {
		for dy := 0; dy < d.Height; dy++ {
			t := g.Tile(p.X+dx, p.Y+dy)
			t.ClearTile()
			t.Active = true
			t.Type = typ
			t.U, t.V = g.structs.Frame(d, dx, dy, style)
			g.SetTile(p.X+dx, p.Y+dy, t)
		}
	}
	return nil
}

// CellRecorder is told the prior content of a cell before it is overwritten.
// Edit transactions implement it; paste and transcript replay call it.
type CellRecorder interface {
	RecordCell(x, y int, prior tile.Tile) error
}
