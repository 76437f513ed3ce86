package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"tileworks.dev/internal/editor"
	"tileworks.dev/internal/persistence/editlog"
	"tileworks.dev/internal/sim/grid"
	"tileworks.dev/internal/sim/region"
	"tileworks.dev/internal/sim/tile"
)

// editing is a loaded world with an undo history attached.
type editing struct {
	*env
	path string
	g    *grid.Grid
	s    *editor.Session
}

func openEditing(ctx context.Context, e *env, path string) (*editing, error) {
	g, err := loadWorld(ctx, e, path)
	if err != nil {
		return nil, err
	}
	opts := editlog.Options{
		Dir:            e.cfg.UndoDir,
		MaxEntries:     e.cfg.MaxUndo,
		FlushThreshold: e.cfg.FlushThreshold,
		Log:            e.log,
		Journal:        e.journal,
	}
	if e.index != nil {
		opts.Index = e.index
	}
	hist, err := editlog.NewHistory(e.versions.Current(), opts)
	if err != nil {
		return nil, err
	}
	return &editing{env: e, path: path, g: g, s: editor.NewSession(g, hist, e.log)}, nil
}

// finish optionally reverts the last step, then saves to out (or the source).
func (ed *editing) finish(ctx context.Context, out string, dryRun bool) error {
	if dryRun {
		ok, err := ed.s.Undo(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("dry run: reverted=%v\n", ok)
		return nil
	}
	if out == "" {
		out = ed.path
	}
	return saveWorld(ctx, ed.env, out, ed.g, 0)
}

type pasteFlags struct {
	skipTiles, skipWalls, skipLiquids, skipWires, skipEmpty, skipEntities *bool
}

func addPasteFlags(fs *flag.FlagSet) pasteFlags {
	return pasteFlags{
		skipTiles:    fs.Bool("skip-tiles", false, "leave foreground tiles alone"),
		skipWalls:    fs.Bool("skip-walls", false, "leave walls alone"),
		skipLiquids:  fs.Bool("skip-liquids", false, "leave liquids alone"),
		skipWires:    fs.Bool("skip-wires", false, "leave wires and actuators alone"),
		skipEmpty:    fs.Bool("skip-empty", false, "do not paste empty source cells"),
		skipEntities: fs.Bool("skip-entities", false, "do not paste containers, signs or fixtures"),
	}
}

func (p pasteFlags) options() region.PasteOptions {
	return region.PasteOptions{
		SkipTiles:    *p.skipTiles,
		SkipWalls:    *p.skipWalls,
		SkipLiquids:  *p.skipLiquids,
		SkipWires:    *p.skipWires,
		SkipEmpty:    *p.skipEmpty,
		SkipEntities: *p.skipEntities,
	}
}

func printPaste(at grid.Point, res region.PasteResult) {
	fmt.Printf("pasted at %s: cells=%d entities=%d skipped=%d\n", at, res.Cells, res.Entities, len(res.Skipped))
	for _, err := range res.Skipped {
		fmt.Println("  skipped:", err)
	}
}

func copyCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("copy", flag.ExitOnError)
	open := commonFlags(fs)
	path := fs.String("world", "", "world file")
	rectS := fs.String("rect", "", "source rectangle x,y,w,h")
	toS := fs.String("to", "", "destination top-left x,y")
	out := fs.String("out", "", "save to this file instead of the source")
	dry := fs.Bool("dry-run", false, "report what would change, then revert without saving")
	pf := addPasteFlags(fs)
	_ = fs.Parse(args)

	rect, err := parseRect(*rectS)
	if err != nil {
		return fmt.Errorf("bad -rect: %w", err)
	}
	to, err := parsePoint(*toS)
	if err != nil {
		return fmt.Errorf("bad -to: %w", err)
	}
	e, err := open()
	if err != nil {
		return err
	}
	defer e.Close()

	ed, err := openEditing(ctx, e, *path)
	if err != nil {
		return err
	}
	b, err := ed.s.Capture(rect)
	if err != nil {
		return err
	}
	for _, p := range b.Partial {
		fmt.Printf("not copied: structure at %s crosses the selection edge\n", p)
	}
	res, err := ed.s.Paste(to, pf.options())
	if err != nil {
		return err
	}
	printPaste(to, res)
	return ed.finish(ctx, *out, *dry)
}

func parseTileFlags(typ, wall int, liquid string, amount int) (tile.Tile, error) {
	var t tile.Tile
	if typ >= 0 {
		t.Active, t.Type = true, uint16(typ)
	}
	if wall > 0 {
		t.Wall = uint16(wall)
	}
	if liquid != "" {
		k, err := parseLiquid(liquid)
		if err != nil {
			return t, err
		}
		t.LiquidKind, t.LiquidAmount = k, uint8(amount)
	}
	return t, nil
}

func parseLiquid(s string) (tile.LiquidKind, error) {
	for k := tile.LiquidNone; k <= tile.LiquidShimmer; k++ {
		if strings.EqualFold(k.String(), s) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown liquid %q", s)
}

func toolCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("tool", flag.ExitOnError)
	open := commonFlags(fs)
	path := fs.String("world", "", "world file")
	name := fs.String("tool", editor.ToolPencil, "tool tag")
	atS := fs.String("at", "", "points x,y;x,y;...")
	typ := fs.Int("type", -1, "tile type to place (-1: none)")
	wall := fs.Int("wall", 0, "wall type to place")
	liquid := fs.String("liquid", "", "liquid kind to place")
	amount := fs.Int("amount", 255, "liquid amount")
	radius := fs.Int("radius", 0, "brush half-size")
	walls := fs.Bool("walls", false, "eraser: clear walls, liquids and wires too")
	limit := fs.Int("limit", 0, "fill: max cells (0: default)")
	out := fs.String("out", "", "save to this file instead of the source")
	dry := fs.Bool("dry-run", false, "report what would change, then revert without saving")
	_ = fs.Parse(args)

	reg := editor.DefaultRegistry()
	t, err := parseTileFlags(*typ, *wall, *liquid, *amount)
	if err != nil {
		return err
	}
	tool, err := reg.New(*name, editor.ToolOptions{Tile: t, Radius: *radius, Walls: *walls, Limit: *limit})
	if err != nil {
		return fmt.Errorf("%w (known: %s)", err, strings.Join(reg.Tags(), ", "))
	}
	points, err := parsePoints(*atS)
	if err != nil {
		return fmt.Errorf("bad -at: %w", err)
	}
	e, err := open()
	if err != nil {
		return err
	}
	defer e.Close()

	ed, err := openEditing(ctx, e, *path)
	if err != nil {
		return err
	}
	changed, err := ed.s.Apply(tool, points...)
	if err != nil {
		return err
	}
	if !changed {
		fmt.Println("nothing changed")
		return nil
	}
	return ed.finish(ctx, *out, *dry)
}

func schematicCmd(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: schematic <export|import> [flags]")
	}
	switch args[0] {
	case "export":
		return schematicExport(ctx, args[1:])
	case "import":
		return schematicImport(ctx, args[1:])
	}
	return fmt.Errorf("unknown schematic command %q", args[0])
}

func schematicExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("schematic export", flag.ExitOnError)
	open := commonFlags(fs)
	path := fs.String("world", "", "world file")
	rectS := fs.String("rect", "", "rectangle x,y,w,h")
	out := fs.String("out", "", "schematic file")
	name := fs.String("name", "", "schematic name (default: the rect)")
	version := fs.Int("version", 0, "format version (0: newest)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*out) == "" {
		return errors.New("missing -out")
	}
	rect, err := parseRect(*rectS)
	if err != nil {
		return fmt.Errorf("bad -rect: %w", err)
	}
	e, err := open()
	if err != nil {
		return err
	}
	defer e.Close()

	entry := e.versions.Current()
	if *version != 0 {
		if entry, err = e.versions.Exact(int32(*version)); err != nil {
			return err
		}
	}
	g, err := loadWorld(ctx, e, *path)
	if err != nil {
		return err
	}
	b, err := region.Capture(g, rect)
	if err != nil {
		return err
	}
	if *name == "" {
		*name = rect.String()
	}

	f, err := os.Create(*out)
	if err != nil {
		return err
	}
	if err := region.WriteSchematic(f, *name, b, entry); err != nil {
		_ = f.Close()
		_ = os.Remove(*out)
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	c, s, fx := b.Entities().Len()
	fmt.Printf("exported %q %dx%d containers=%d signs=%d fixtures=%d partial=%d -> %s\n",
		*name, b.Width(), b.Height(), c, s, fx, len(b.Partial), *out)
	return nil
}

func schematicImport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("schematic import", flag.ExitOnError)
	open := commonFlags(fs)
	path := fs.String("world", "", "world file")
	in := fs.String("in", "", "schematic file")
	atS := fs.String("at", "", "destination top-left x,y")
	out := fs.String("out", "", "save to this file instead of the source")
	dry := fs.Bool("dry-run", false, "report what would change, then revert without saving")
	pf := addPasteFlags(fs)
	_ = fs.Parse(args)

	at, err := parsePoint(*atS)
	if err != nil {
		return fmt.Errorf("bad -at: %w", err)
	}
	e, err := open()
	if err != nil {
		return err
	}
	defer e.Close()

	f, err := os.Open(*in)
	if err != nil {
		return err
	}
	b, name, err := region.ReadSchematic(f, e.versions)
	_ = f.Close()
	if err != nil {
		return fmt.Errorf("read %s: %w", *in, err)
	}

	ed, err := openEditing(ctx, e, *path)
	if err != nil {
		return err
	}
	ed.s.SetClipboard(b)
	res, err := ed.s.Paste(at, pf.options())
	if err != nil {
		return err
	}
	fmt.Printf("schematic %q %dx%d\n", name, b.Width(), b.Height())
	printPaste(at, res)
	return ed.finish(ctx, *out, *dry)
}
