package grid

import (
	"fmt"
	"slices"
	"sort"

	"tileworks.dev/internal/fault"
	"tileworks.dev/internal/sim/structure"
)

// ItemStack is one inventory slot. NetID 0 is an empty slot.
type ItemStack struct {
	NetID  int32
	Stack  int16
	Prefix uint8
}

func (s ItemStack) IsEmpty() bool { return s.NetID == 0 || s.Stack <= 0 }

type Container struct {
	Name  string
	Slots []ItemStack
}

func (c Container) Clone() Container {
	c.Slots = slices.Clone(c.Slots)
	return c
}

type Sign struct {
	Text string
}

// Fixture is a typed interactive structure. Which payload fields are meaningful
// depends on Kind.Payload().
type Fixture struct {
	ID   int32
	Kind structure.FixtureKind

	Item  ItemStack   // item frame, weapon rack, food platter
	NPC   int16       // training dummy
	Items []ItemStack // display doll, hat rack
	Dyes  []ItemStack
}

func (f Fixture) Clone() Fixture {
	f.Items = slices.Clone(f.Items)
	f.Dyes = slices.Clone(f.Dyes)
	return f
}

// Entities is everything anchored at one point. At most one field is set.
type Entities struct {
	Container *Container
	Sign      *Sign
	Fixture   *Fixture
}

func (e Entities) IsEmpty() bool {
	return e.Container == nil && e.Sign == nil && e.Fixture == nil
}

// Clone deep-copies every set field.
func (e Entities) Clone() Entities {
	var out Entities
	if e.Container != nil {
		c := e.Container.Clone()
		out.Container = &c
	}
	if e.Sign != nil {
		s := *e.Sign
		out.Sign = &s
	}
	if e.Fixture != nil {
		f := e.Fixture.Clone()
		out.Fixture = &f
	}
	return out
}

// Anchor resolves any occupied cell of a structure to its top-left cell.
func (g *Grid) Anchor(x, y int) (Point, structure.Def, bool) {
	t := g.Tile(x, y)
	if !t.Active {
		return Point{}, structure.Def{}, false
	}
	d, ok := g.structs.Lookup(t.Type)
	if !ok {
		return Point{}, structure.Def{}, false
	}
	dx, dy := g.structs.Offset(d, t.U, t.V)
	return Point{X: x - dx, Y: y - dy}, d, true
}

// anchors reports whether p is the anchor cell of a structure of kind k.
func (g *Grid) anchors(p Point, k structure.Kind) bool {
	d, ok := g.anchorDef(p)
	return ok && d.Kind == k
}

func (g *Grid) anchorsFixture(p Point, fk structure.FixtureKind) bool {
	d, ok := g.anchorDef(p)
	return ok && d.Kind == structure.KindFixture && d.Fixture == fk
}

func (g *Grid) anchorDef(p Point) (structure.Def, bool) {
	if !g.InBounds(p.X, p.Y) {
		return structure.Def{}, false
	}
	t := g.tiles[g.index(p.X, p.Y)]
	if !t.Active {
		return structure.Def{}, false
	}
	d, ok := g.structs.Lookup(t.Type)
	if !ok {
		return structure.Def{}, false
	}
	if dx, dy := g.structs.Offset(d, t.U, t.V); dx != 0 || dy != 0 {
		return structure.Def{}, false
	}
	if p.X+d.Width > g.width || p.Y+d.Height > g.height {
		return structure.Def{}, false
	}
	return d, true
}

func (g *Grid) checkAnchor(p Point, entity string, ok bool) error {
	if ok {
		return nil
	}
	return &fault.ConsistencyError{
		Entity: entity,
		X:      p.X,
		Y:      p.Y,
		Reason: fmt.Sprintf("no %s structure anchored here", entity),
	}
}

// Container returns a copy of the container occupying (x, y) and its anchor.
func (g *Grid) Container(x, y int) (Point, Container, bool) {
	p, _, ok := g.Anchor(x, y)
	if !ok {
		return Point{}, Container{}, false
	}
	c, ok := g.containers[p]
	if !ok {
		return Point{}, Container{}, false
	}
	return p, c.Clone(), true
}

func (g *Grid) Sign(x, y int) (Point, Sign, bool) {
	p, _, ok := g.Anchor(x, y)
	if !ok {
		return Point{}, Sign{}, false
	}
	s, ok := g.signs[p]
	if !ok {
		return Point{}, Sign{}, false
	}
	return p, *s, true
}

func (g *Grid) Fixture(x, y int) (Point, Fixture, bool) {
	p, _, ok := g.Anchor(x, y)
	if !ok {
		return Point{}, Fixture{}, false
	}
	f, ok := g.fixtures[p]
	if !ok {
		return Point{}, Fixture{}, false
	}
	return p, f.Clone(), true
}

// EntitiesAt returns deep copies of whatever is anchored exactly at p.
func (g *Grid) EntitiesAt(p Point) Entities {
	var e Entities
	if c, ok := g.containers[p]; ok {
		e.Container = c
	}
	if s, ok := g.signs[p]; ok {
		e.Sign = s
	}
	if f, ok := g.fixtures[p]; ok {
		e.Fixture = f
	}
	return e.Clone()
}

// PutContainer stores a copy of c at anchor p.
func (g *Grid) PutContainer(p Point, c Container) error {
	if err := g.checkAnchor(p, "container", g.anchors(p, structure.KindContainer)); err != nil {
		return err
	}
	c = c.Clone()
	g.containers[p] = &c
	return nil
}

func (g *Grid) PutSign(p Point, s Sign) error {
	if err := g.checkAnchor(p, "sign", g.anchors(p, structure.KindSign)); err != nil {
		return err
	}
	g.signs[p] = &s
	return nil
}

// PutFixture stores a copy of f at anchor p. The tile's structure must match f.Kind.
func (g *Grid) PutFixture(p Point, f Fixture) error {
	if err := g.checkAnchor(p, "fixture "+f.Kind.String(), g.anchorsFixture(p, f.Kind)); err != nil {
		return err
	}
	f = f.Clone()
	g.fixtures[p] = &f
	if f.ID >= g.nextFixID {
		g.nextFixID = f.ID + 1
	}
	return nil
}

// PutEntities stores every set field of e at p.
func (g *Grid) PutEntities(p Point, e Entities) error {
	if e.Container != nil {
		if err := g.PutContainer(p, *e.Container); err != nil {
			return err
		}
	}
	if e.Sign != nil {
		if err := g.PutSign(p, *e.Sign); err != nil {
			return err
		}
	}
	if e.Fixture != nil {
		if err := g.PutFixture(p, *e.Fixture); err != nil {
			return err
		}
	}
	return nil
}

func (g *Grid) RemoveContainer(p Point) bool {
	_, ok := g.containers[p]
	delete(g.containers, p)
	return ok
}

func (g *Grid) RemoveSign(p Point) bool {
	_, ok := g.signs[p]
	delete(g.signs, p)
	return ok
}

func (g *Grid) RemoveFixture(p Point) bool {
	_, ok := g.fixtures[p]
	delete(g.fixtures, p)
	return ok
}

// RemoveEntities drops everything anchored at p.
func (g *Grid) RemoveEntities(p Point) {
	delete(g.containers, p)
	delete(g.signs, p)
	delete(g.fixtures, p)
}

// NextFixtureID allocates an id no fixture in the grid uses.
func (g *Grid) NextFixtureID() int32 {
	id := g.nextFixID
	g.nextFixID++
	return id
}

func (g *Grid) ContainerCount() int { return len(g.containers) }
func (g *Grid) SignCount() int      { return len(g.signs) }
func (g *Grid) FixtureCount() int   { return len(g.fixtures) }

// ContainerAnchors lists anchors in column-major order.
func (g *Grid) ContainerAnchors() []Point { return sortedKeys(g.containers) }
func (g *Grid) SignAnchors() []Point      { return sortedKeys(g.signs) }
func (g *Grid) FixtureAnchors() []Point   { return sortedKeys(g.fixtures) }

func sortedKeys[V any](m map[Point]V) []Point {
	out := make([]Point, 0, len(m))
	for p := range m {
		out = append(out, p)
	}
	SortPoints(out)
	return out
}

// SortPoints orders points the way the tile stream visits cells.
func SortPoints(ps []Point) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].X != ps[j].X {
			return ps[i].X < ps[j].X
		}
		return ps[i].Y < ps[j].Y
	})
}

// DropOrphans removes entities whose anchor no longer bears their structure.
// The returned errors describe what was dropped, in column-major order.
func (g *Grid) DropOrphans() []error {
	var errs []error
	for _, p := range g.ContainerAnchors() {
		if !g.anchors(p, structure.KindContainer) {
			delete(g.containers, p)
			errs = append(errs, g.checkAnchor(p, "container", false))
		}
	}
	for _, p := range g.SignAnchors() {
		if !g.anchors(p, structure.KindSign) {
			delete(g.signs, p)
			errs = append(errs, g.checkAnchor(p, "sign", false))
		}
	}
	for _, p := range g.FixtureAnchors() {
		f := g.fixtures[p]
		if !g.anchorsFixture(p, f.Kind) {
			delete(g.fixtures, p)
			errs = append(errs, g.checkAnchor(p, "fixture "+f.Kind.String(), false))
		}
	}
	return errs
}
