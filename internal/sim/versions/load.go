package versions

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"tileworks.dev/internal/sim/structure"
	"tileworks.dev/internal/sim/tile"
)

//go:embed versions.yaml
var defaultYAML []byte

//go:embed versions.schema.json
var schemaJSON []byte

type fileV1 struct {
	FrameStride    int           `yaml:"frame_stride"`
	FrameImportant []string      `yaml:"frame_important"`
	Structures     []structureV1 `yaml:"structures"`
	Versions       []entryV1     `yaml:"versions"`
}

type structureV1 struct {
	Tile    uint16 `yaml:"tile"`
	Kind    string `yaml:"kind"`
	Fixture string `yaml:"fixture"`
	Width   int    `yaml:"width"`
	Height  int    `yaml:"height"`
}

type entryV1 struct {
	Version   int32  `yaml:"version"`
	MaxTile   uint16 `yaml:"max_tile"`
	MaxWall   uint16 `yaml:"max_wall"`
	MaxItem   int32  `yaml:"max_item"`
	MaxNPC    int16  `yaml:"max_npc"`
	MaxLiquid uint8  `yaml:"max_liquid"`
	Fixtures  bool   `yaml:"fixtures"`
}

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error

	defaultOnce  sync.Once
	defaultTable *Table
	defaultErr   error
)

// Default returns the built-in version table.
func Default() (*Table, error) {
	defaultOnce.Do(func() {
		defaultTable, defaultErr = Parse(defaultYAML)
	})
	return defaultTable, defaultErr
}

// Load reads a version table from a yaml file.
func Load(path string) (*Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	t, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Parse validates raw yaml against the table schema and builds the table.
func Parse(raw []byte) (*Table, error) {
	if err := validate(raw); err != nil {
		return nil, err
	}
	var f fileV1
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("versions.yaml: %w", err)
	}

	fi, err := parseRanges(f.FrameImportant)
	if err != nil {
		return nil, fmt.Errorf("versions.yaml: frame_important: %w", err)
	}

	defs := make([]structure.Def, 0, len(f.Structures))
	for _, s := range f.Structures {
		kind, err := structure.ParseKind(s.Kind)
		if err != nil {
			return nil, fmt.Errorf("versions.yaml: structure %d: %w", s.Tile, err)
		}
		d := structure.Def{Tile: s.Tile, Kind: kind, Width: s.Width, Height: s.Height}
		if kind == structure.KindFixture {
			fk, err := structure.ParseFixtureKind(s.Fixture)
			if err != nil {
				return nil, fmt.Errorf("versions.yaml: structure %d: %w", s.Tile, err)
			}
			d.Fixture = fk
		}
		defs = append(defs, d)
	}
	cat, err := structure.NewCatalog(f.FrameStride, defs)
	if err != nil {
		return nil, fmt.Errorf("versions.yaml: %w", err)
	}

	entries := make([]Entry, 0, len(f.Versions))
	for _, v := range f.Versions {
		entries = append(entries, Entry{
			Version:   v.Version,
			MaxTileID: v.MaxTile,
			MaxWallID: v.MaxWall,
			MaxItemID: v.MaxItem,
			MaxNPCID:  v.MaxNPC,
			MaxLiquid: tile.LiquidKind(v.MaxLiquid),
			Fixtures:  v.Fixtures,
		})
	}
	return NewTable(entries, fi, cat)
}

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource("versions.schema.json", bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = c.Compile("versions.schema.json")
	})
	return schema, schemaErr
}

// validate checks the document shape. yaml values are round-tripped through JSON
// so the validator sees plain JSON types.
func validate(raw []byte) error {
	s, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("versions schema: %w", err)
	}
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("versions.yaml: %w", err)
	}
	j, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("versions.yaml: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(j))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("versions.yaml: %w", err)
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("versions.yaml: %w", err)
	}
	return nil
}

// parseRanges expands "a" and "a-b" items into tile ids.
func parseRanges(items []string) ([]uint16, error) {
	var out []uint16
	for _, it := range items {
		lo, hi, found := strings.Cut(strings.TrimSpace(it), "-")
		a, err := strconv.ParseUint(lo, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("bad range %q", it)
		}
		b := a
		if found {
			b, err = strconv.ParseUint(hi, 10, 16)
			if err != nil || b < a {
				return nil, fmt.Errorf("bad range %q", it)
			}
		}
		for id := a; id <= b; id++ {
			out = append(out, uint16(id))
		}
	}
	return out, nil
}
