package versions

import (
	"fmt"
	"sort"

	"github.com/bits-and-blooms/bitset"

	"tileworks.dev/internal/fault"
	"tileworks.dev/internal/sim/structure"
	"tileworks.dev/internal/sim/tile"
)

// Entry holds the limits and per-tile-type behavior of one file format version.
type Entry struct {
	Version   int32
	MaxTileID uint16
	MaxWallID uint16
	MaxItemID int32
	MaxNPCID  int16
	MaxLiquid tile.LiquidKind
	Fixtures  bool // the fixture section exists in this version

	frameImportant *bitset.BitSet
}

// IsFrameImportant reports whether tiles of typ persist their frame coordinates.
// It satisfies tile.FrameImportant as a method value.
func (e *Entry) IsFrameImportant(typ uint16) bool {
	if e == nil || e.frameImportant == nil {
		return false
	}
	return e.frameImportant.Test(uint(typ))
}

// FrameImportantCount is the number of frame-important types in this version.
func (e *Entry) FrameImportantCount() int {
	if e == nil || e.frameImportant == nil {
		return 0
	}
	return int(e.frameImportant.Count())
}

// Lookup resolves format versions to entries. Configuration loading provides it.
type Lookup interface {
	Exact(v int32) (*Entry, error)
	ForLoad(v int32) (*Entry, error)
	Current() *Entry
	Structures() *structure.Catalog
}

// Table is the full list of known versions, ascending.
type Table struct {
	entries    []*Entry
	byVersion  map[int32]*Entry
	structures *structure.Catalog
}

var _ Lookup = (*Table)(nil)

// NewTable builds a table. frameImportant lists every frame-important type; each
// entry's set is the subset that fits under its MaxTileID.
func NewTable(entries []Entry, frameImportant []uint16, structures *structure.Catalog) (*Table, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("version table: no entries")
	}
	t := &Table{
		entries:    make([]*Entry, 0, len(entries)),
		byVersion:  make(map[int32]*Entry, len(entries)),
		structures: structures,
	}
	for i := range entries {
		e := entries[i]
		if _, dup := t.byVersion[e.Version]; dup {
			return nil, fmt.Errorf("version table: duplicate version %d", e.Version)
		}
		if e.MaxLiquid > tile.LiquidShimmer {
			return nil, fmt.Errorf("version table: version %d: max liquid %d out of range", e.Version, e.MaxLiquid)
		}
		set := bitset.New(uint(e.MaxTileID) + 1)
		for _, typ := range frameImportant {
			if typ <= e.MaxTileID {
				set.Set(uint(typ))
			}
		}
		e.frameImportant = set
		t.entries = append(t.entries, &e)
		t.byVersion[e.Version] = &e
	}
	sort.Slice(t.entries, func(i, j int) bool { return t.entries[i].Version < t.entries[j].Version })
	return t, nil
}

// Exact returns the entry for v. Saves always target an exact version.
func (t *Table) Exact(v int32) (*Entry, error) {
	if e, ok := t.byVersion[v]; ok {
		return e, nil
	}
	return nil, fmt.Errorf("%w: %d is not a known version", fault.ErrUnsupportedVersion, v)
}

// ForLoad returns the entry for v, or the nearest known lower version. Versions
// older than the oldest entry or newer than the current one cannot be read.
func (t *Table) ForLoad(v int32) (*Entry, error) {
	if e, ok := t.byVersion[v]; ok {
		return e, nil
	}
	if v < t.entries[0].Version || v > t.Current().Version {
		return nil, fault.Format("version lookup", fmt.Errorf("%w: %d (known %d..%d)",
			fault.ErrUnsupportedVersion, v, t.entries[0].Version, t.Current().Version))
	}
	i := sort.Search(len(t.entries), func(i int) bool { return t.entries[i].Version > v })
	return t.entries[i-1], nil
}

// Current is the newest known version.
func (t *Table) Current() *Entry { return t.entries[len(t.entries)-1] }

func (t *Table) Structures() *structure.Catalog { return t.structures }

// Versions lists the known version numbers, ascending.
func (t *Table) Versions() []int32 {
	out := make([]int32, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.Version
	}
	return out
}
