package tile

// LiquidKind is the liquid occupying a cell.
type LiquidKind uint8

const (
	LiquidNone LiquidKind = iota
	LiquidWater
	LiquidLava
	LiquidHoney
	LiquidShimmer
)

func (k LiquidKind) String() string {
	switch k {
	case LiquidNone:
		return "none"
	case LiquidWater:
		return "water"
	case LiquidLava:
		return "lava"
	case LiquidHoney:
		return "honey"
	case LiquidShimmer:
		return "shimmer"
	}
	return "unknown"
}

// Shape is the slope or half-brick style of a solid tile.
type Shape uint8

const (
	ShapeFlat Shape = iota
	ShapeHalfBrick
	ShapeSlopeTopRight
	ShapeSlopeTopLeft
	ShapeSlopeBottomRight
	ShapeSlopeBottomLeft
	ShapeHalfBrickAlt

	MaxShape = ShapeHalfBrickAlt
)

// Tile is the full state of one grid cell. It is a value: reading a cell from a
// grid yields a copy and changes must be written back with the grid's setter.
type Tile struct {
	Active bool
	Type   uint16
	Wall   uint16

	LiquidAmount uint8
	LiquidKind   LiquidKind

	TilePaint uint8
	WallPaint uint8

	WireRed    bool
	WireGreen  bool
	WireBlue   bool
	WireYellow bool

	Actuator bool
	Inactive bool // switched off by an actuator

	Shape Shape

	// Frame coordinates. Only meaningful when the type is frame-important.
	U, V int16
}

// FrameImportant reports whether a tile type persists its frame coordinates.
type FrameImportant func(typ uint16) bool

// Normalize returns t with every logically absent field zeroed, so two tiles that
// mean the same thing compare and encode identically.
func Normalize(t Tile, fi FrameImportant) Tile {
	if !t.Active {
		t.Type = 0
		t.TilePaint = 0
		t.Shape = ShapeFlat
		t.Inactive = false
	}
	if !t.Active || fi == nil || !fi(t.Type) {
		t.U, t.V = 0, 0
	}
	if t.Wall == 0 {
		t.WallPaint = 0
	}
	if t.LiquidAmount == 0 || t.LiquidKind == LiquidNone {
		t.LiquidAmount = 0
		t.LiquidKind = LiquidNone
	}
	return t
}

// Equal compares two tiles ignoring fields that are not meaningful.
func Equal(a, b Tile, fi FrameImportant) bool {
	return Normalize(a, fi) == Normalize(b, fi)
}

// IsEmpty reports whether the cell holds nothing at all.
func (t Tile) IsEmpty() bool {
	return !t.Active && t.Wall == 0 && t.LiquidAmount == 0 && !t.HasWire() && !t.Actuator
}

func (t Tile) HasWire() bool {
	return t.WireRed || t.WireGreen || t.WireBlue || t.WireYellow
}

// ClearWires removes all wire colors and the actuator.
func (t *Tile) ClearWires() {
	t.WireRed, t.WireGreen, t.WireBlue, t.WireYellow = false, false, false, false
	t.Actuator = false
	t.Inactive = false
}

// ClearTile removes the foreground tile, keeping wall, liquid and wiring.
func (t *Tile) ClearTile() {
	t.Active = false
	t.Type = 0
	t.U, t.V = 0, 0
	t.TilePaint = 0
	t.Shape = ShapeFlat
	t.Inactive = false
}
