// Package structure describes multi-cell structures (chests, signs, fixtures)
// and how a cell's frame coordinates resolve to the structure's anchor cell.
package structure

import (
	"fmt"
	"strings"
)

// Kind is the entity side table a structure's anchor is recorded in.
type Kind uint8

const (
	KindNone Kind = iota
	KindContainer
	KindSign
	KindFixture
)

func (k Kind) String() string {
	switch k {
	case KindContainer:
		return "container"
	case KindSign:
		return "sign"
	case KindFixture:
		return "fixture"
	}
	return "none"
}

func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "container":
		return KindContainer, nil
	case "sign":
		return KindSign, nil
	case "fixture":
		return KindFixture, nil
	}
	return KindNone, fmt.Errorf("unknown structure kind %q", s)
}

// FixtureKind discriminates the payload of a fixture entity.
type FixtureKind uint8

const (
	FixtureNone FixtureKind = iota
	FixtureTrainingDummy
	FixtureItemFrame
	FixtureLogicSensor
	FixtureDisplayDoll
	FixtureWeaponRack
	FixtureHatRack
	FixtureFoodPlatter
	FixturePylon

	MaxFixtureKind = FixturePylon
)

var fixtureNames = map[FixtureKind]string{
	FixtureTrainingDummy: "training_dummy",
	FixtureItemFrame:     "item_frame",
	FixtureLogicSensor:   "logic_sensor",
	FixtureDisplayDoll:   "display_doll",
	FixtureWeaponRack:    "weapon_rack",
	FixtureHatRack:       "hat_rack",
	FixtureFoodPlatter:   "food_platter",
	FixturePylon:         "pylon",
}

func (k FixtureKind) String() string {
	if n, ok := fixtureNames[k]; ok {
		return n
	}
	return "none"
}

func ParseFixtureKind(s string) (FixtureKind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, n := range fixtureNames {
		if n == s {
			return k, nil
		}
	}
	return FixtureNone, fmt.Errorf("unknown fixture kind %q", s)
}

// Payload is the shape of data a fixture kind carries.
type Payload uint8

const (
	PayloadNone Payload = iota
	PayloadItem         // one item stack
	PayloadNPC          // linked npc id
	PayloadOutfit       // item slots plus dye slots
)

func (k FixtureKind) Payload() Payload {
	switch k {
	case FixtureItemFrame, FixtureWeaponRack, FixtureFoodPlatter:
		return PayloadItem
	case FixtureTrainingDummy:
		return PayloadNPC
	case FixtureDisplayDoll, FixtureHatRack:
		return PayloadOutfit
	}
	return PayloadNone
}

// Def is the footprint of a structure-bearing tile type.
type Def struct {
	Tile    uint16
	Kind    Kind
	Fixture FixtureKind
	Width   int
	Height  int
}

// Catalog maps tile types to structure definitions.
type Catalog struct {
	stride int
	defs   map[uint16]Def
}

const DefaultFrameStride = 18

func NewCatalog(stride int, defs []Def) (*Catalog, error) {
	if stride <= 0 {
		stride = DefaultFrameStride
	}
	c := &Catalog{stride: stride, defs: make(map[uint16]Def, len(defs))}
	for _, d := range defs {
		if d.Width <= 0 || d.Height <= 0 {
			return nil, fmt.Errorf("structure tile %d: bad footprint %dx%d", d.Tile, d.Width, d.Height)
		}
		if d.Kind == KindNone {
			return nil, fmt.Errorf("structure tile %d: missing kind", d.Tile)
		}
		if d.Kind == KindFixture && d.Fixture == FixtureNone {
			return nil, fmt.Errorf("structure tile %d: fixture without fixture kind", d.Tile)
		}
		if _, dup := c.defs[d.Tile]; dup {
			return nil, fmt.Errorf("structure tile %d: duplicate definition", d.Tile)
		}
		c.defs[d.Tile] = d
	}
	return c, nil
}

func (c *Catalog) Stride() int {
	if c == nil {
		return DefaultFrameStride
	}
	return c.stride
}

func (c *Catalog) Lookup(typ uint16) (Def, bool) {
	if c == nil {
		return Def{}, false
	}
	d, ok := c.defs[typ]
	return d, ok
}

// Offset returns how far a cell with frame (u, v) sits from its structure's anchor.
// Several styles of one structure are laid out side by side in the frame sheet,
// hence the modulo by the footprint.
func (c *Catalog) Offset(d Def, u, v int16) (dx, dy int) {
	s := c.Stride()
	if u > 0 {
		dx = (int(u) / s) % d.Width
	}
	if v > 0 {
		dy = (int(v) / s) % d.Height
	}
	return dx, dy
}

// Frame returns the frame coordinates of the cell at (dx, dy) inside a structure of
// the given style. It is the inverse of Offset.
func (c *Catalog) Frame(d Def, dx, dy, style int) (u, v int16) {
	s := c.Stride()
	return int16((style*d.Width + dx) * s), int16(dy * s)
}
