// Package entitycodec reads and writes the container, sign and fixture sections
// that follow a tile stream. A section is
//
//	tag u8 | byte length u32 | count i32 | (anchorX i32, anchorY i32, payload)*
//
// where the byte length covers the count and the entries.
package entitycodec

import (
	"bytes"
	"fmt"

	"tileworks.dev/internal/fault"
	"tileworks.dev/internal/sim/grid"
	"tileworks.dev/internal/sim/io/wire"
	"tileworks.dev/internal/sim/structure"
	"tileworks.dev/internal/sim/versions"
)

const (
	TagContainers byte = 'C'
	TagSigns      byte = 'S'
	TagFixtures   byte = 'F'
)

const (
	maxSlots       = 0xFFFF
	maxOutfitSlots = 0xFF
	minEntryBytes  = 8
)

// Entry is everything anchored at one point.
type Entry struct {
	At grid.Point
	grid.Entities
}

// List is a set of entries in column-major anchor order, one entry per anchor.
type List []Entry

// FromGrid snapshots every entity of g.
func FromGrid(g *grid.Grid) List {
	seen := map[grid.Point]bool{}
	var anchors []grid.Point
	for _, ps := range [][]grid.Point{g.ContainerAnchors(), g.SignAnchors(), g.FixtureAnchors()} {
		for _, p := range ps {
			if !seen[p] {
				seen[p] = true
				anchors = append(anchors, p)
			}
		}
	}
	grid.SortPoints(anchors)
	out := make(List, 0, len(anchors))
	for _, p := range anchors {
		out = append(out, Entry{At: p, Entities: g.EntitiesAt(p)})
	}
	return out
}

// Len counts entities, not anchors.
func (l List) Len() (containers, signs, fixtures int) {
	for _, e := range l {
		if e.Container != nil {
			containers++
		}
		if e.Sign != nil {
			signs++
		}
		if e.Fixture != nil {
			fixtures++
		}
	}
	return
}

// Write emits the container and sign sections, then the fixture section when the
// version has one. Values the version cannot store are range errors.
func Write(w *wire.Writer, l List, e *versions.Entry) error {
	_, _, fixtures := l.Len()
	if fixtures > 0 && !e.Fixtures {
		return &fault.RangeError{Field: "fixture count", Value: fixtures, Max: 0, Version: e.Version}
	}
	if err := writeSection(w, TagContainers, l, e, func(sw *wire.Writer, en Entry) (bool, error) {
		if en.Container == nil {
			return false, nil
		}
		return true, writeContainer(sw, *en.Container, e)
	}); err != nil {
		return err
	}
	if err := writeSection(w, TagSigns, l, e, func(sw *wire.Writer, en Entry) (bool, error) {
		if en.Sign == nil {
			return false, nil
		}
		sw.String(en.Sign.Text)
		return true, nil
	}); err != nil {
		return err
	}
	if !e.Fixtures {
		return w.Err()
	}
	return writeSection(w, TagFixtures, l, e, func(sw *wire.Writer, en Entry) (bool, error) {
		if en.Fixture == nil {
			return false, nil
		}
		return true, writeFixture(sw, *en.Fixture, e)
	})
}

func writeSection(w *wire.Writer, tag byte, l List, e *versions.Entry, payload func(*wire.Writer, Entry) (bool, error)) error {
	var body bytes.Buffer
	bw := wire.NewWriter(&body)
	var count int32
	for _, en := range l {
		var entry bytes.Buffer
		ew := wire.NewWriter(&entry)
		ew.I32(int32(en.At.X))
		ew.I32(int32(en.At.Y))
		ok, err := payload(ew, en)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		bw.Bytes(entry.Bytes())
		count++
	}
	if err := bw.Err(); err != nil {
		return err
	}
	w.U8(tag)
	w.U32(uint32(4 + body.Len()))
	w.I32(count)
	w.Bytes(body.Bytes())
	return w.Err()
}

func checkItem(s grid.ItemStack, e *versions.Entry) error {
	if s.NetID > e.MaxItemID || s.NetID < -e.MaxItemID {
		return &fault.RangeError{Field: "item id", Value: int(s.NetID), Max: int(e.MaxItemID), Version: e.Version}
	}
	return nil
}

func writeItem(w *wire.Writer, s grid.ItemStack, e *versions.Entry) error {
	if err := checkItem(s, e); err != nil {
		return err
	}
	w.I32(s.NetID)
	w.I16(s.Stack)
	w.U8(s.Prefix)
	return nil
}

func writeItems(w *wire.Writer, items []grid.ItemStack, limit int, field string, e *versions.Entry) error {
	if len(items) > limit {
		return &fault.RangeError{Field: field, Value: len(items), Max: limit, Version: e.Version}
	}
	if limit > maxOutfitSlots {
		w.U16(uint16(len(items)))
	} else {
		w.U8(uint8(len(items)))
	}
	for _, s := range items {
		if err := writeItem(w, s, e); err != nil {
			return err
		}
	}
	return nil
}

func writeContainer(w *wire.Writer, c grid.Container, e *versions.Entry) error {
	w.String(c.Name)
	return writeItems(w, c.Slots, maxSlots, "container slots", e)
}

func writeFixture(w *wire.Writer, f grid.Fixture, e *versions.Entry) error {
	w.I32(f.ID)
	w.U8(uint8(f.Kind))
	switch f.Kind.Payload() {
	case structure.PayloadItem:
		return writeItem(w, f.Item, e)
	case structure.PayloadNPC:
		if f.NPC > e.MaxNPCID || f.NPC < 0 {
			return &fault.RangeError{Field: "npc id", Value: int(f.NPC), Max: int(e.MaxNPCID), Version: e.Version}
		}
		w.I16(f.NPC)
	case structure.PayloadOutfit:
		if err := writeItems(w, f.Items, maxOutfitSlots, "outfit items", e); err != nil {
			return err
		}
		return writeItems(w, f.Dyes, maxOutfitSlots, "outfit dyes", e)
	}
	return nil
}

// Read parses the sections Write produced for version e.
func Read(r *wire.Reader, e *versions.Entry) (List, error) {
	byAnchor := map[grid.Point]*Entry{}
	get := func(p grid.Point) *Entry {
		en, ok := byAnchor[p]
		if !ok {
			en = &Entry{At: p}
			byAnchor[p] = en
		}
		return en
	}

	if err := readSection(r, TagContainers, func(p grid.Point) error {
		c := readContainer(r)
		get(p).Container = &c
		return nil
	}); err != nil {
		return nil, err
	}
	if err := readSection(r, TagSigns, func(p grid.Point) error {
		s := grid.Sign{Text: r.String()}
		get(p).Sign = &s
		return nil
	}); err != nil {
		return nil, err
	}
	if e.Fixtures {
		if err := readSection(r, TagFixtures, func(p grid.Point) error {
			f, err := readFixture(r)
			if err != nil {
				return err
			}
			get(p).Fixture = &f
			return nil
		}); err != nil {
			return nil, err
		}
	}

	anchors := make([]grid.Point, 0, len(byAnchor))
	for p := range byAnchor {
		anchors = append(anchors, p)
	}
	grid.SortPoints(anchors)
	out := make(List, 0, len(anchors))
	for _, p := range anchors {
		out = append(out, *byAnchor[p])
	}
	return out, nil
}

func readSection(r *wire.Reader, tag byte, entry func(grid.Point) error) error {
	op := fmt.Sprintf("section %c", tag)
	start := r.Offset()
	got := r.U8()
	length := r.U32()
	count := r.I32()
	if err := r.Err(); err != nil {
		return fault.Read(op, r.Offset(), err)
	}
	if got != tag {
		return &fault.FormatError{Op: op, Offset: start, Err: fmt.Errorf("found tag 0x%02x", got)}
	}
	if count < 0 || int64(count)*minEntryBytes > int64(length) {
		return &fault.FormatError{Op: op, Offset: start, Err: fmt.Errorf("count %d does not fit in %d bytes", count, length)}
	}
	for i := int32(0); i < count; i++ {
		p := grid.Point{X: int(r.I32()), Y: int(r.I32())}
		if err := entry(p); err != nil {
			return err
		}
		if err := r.Err(); err != nil {
			return fault.Read(op, r.Offset(), err)
		}
	}
	if consumed := r.Offset() - start - 5; consumed != int64(length) {
		return &fault.FormatError{Op: op, Offset: start, Err: fmt.Errorf("declared %d bytes, read %d", length, consumed)}
	}
	return nil
}

func readItem(r *wire.Reader) grid.ItemStack {
	return grid.ItemStack{NetID: r.I32(), Stack: r.I16(), Prefix: r.U8()}
}

func readItems(r *wire.Reader, wide bool) []grid.ItemStack {
	var n int
	if wide {
		n = int(r.U16())
	} else {
		n = int(r.U8())
	}
	if r.Err() != nil {
		return nil
	}
	out := make([]grid.ItemStack, n)
	for i := range out {
		out[i] = readItem(r)
	}
	return out
}

func readContainer(r *wire.Reader) grid.Container {
	name := r.String()
	return grid.Container{Name: name, Slots: readItems(r, true)}
}

func readFixture(r *wire.Reader) (grid.Fixture, error) {
	f := grid.Fixture{ID: r.I32(), Kind: structure.FixtureKind(r.U8())}
	if r.Err() != nil {
		return f, nil
	}
	if f.Kind == structure.FixtureNone || f.Kind > structure.MaxFixtureKind {
		return f, fault.Formatf("section F", "unknown fixture kind %d", f.Kind)
	}
	switch f.Kind.Payload() {
	case structure.PayloadItem:
		f.Item = readItem(r)
	case structure.PayloadNPC:
		f.NPC = r.I16()
	case structure.PayloadOutfit:
		f.Items = readItems(r, false)
		f.Dyes = readItems(r, false)
	}
	return f, nil
}
