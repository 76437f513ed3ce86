package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"path/filepath"
	"strings"

	"tileworks.dev/internal/persistence/archive"
	"tileworks.dev/internal/persistence/editlog"
	"tileworks.dev/internal/persistence/worldfile"
	"tileworks.dev/internal/sim/grid"
)

func loadWorld(ctx context.Context, e *env, path string) (*grid.Grid, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("missing -world")
	}
	return worldfile.Load(ctx, path, e.worldOptions(0)).Wait(ctx)
}

func saveWorld(ctx context.Context, e *env, path string, g *grid.Grid, version int32) error {
	res, err := worldfile.Save(ctx, path, g, e.worldOptions(version)).Wait(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("saved %s version=%d bytes=%d containers=%d signs=%d fixtures=%d backup=%s\n",
		res.Path, res.Version, res.Bytes, res.Containers, res.Signs, res.Fixtures, res.Backup)
	return nil
}

func infoCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	open := commonFlags(fs)
	path := fs.String("world", "", "world file")
	at := fs.String("tile", "", "also print the cell at x,y")
	_ = fs.Parse(args)

	e, err := open()
	if err != nil {
		return err
	}
	defer e.Close()

	g, err := loadWorld(ctx, e, *path)
	if err != nil {
		return err
	}
	fmt.Printf("title=%q version=%d size=%dx%d spawn=%d,%d containers=%d signs=%d fixtures=%d\n",
		g.Meta.Title, g.Meta.Version, g.Width(), g.Height(), g.Meta.SpawnX, g.Meta.SpawnY,
		g.ContainerCount(), g.SignCount(), g.FixtureCount())
	if *at != "" {
		p, err := parsePoint(*at)
		if err != nil {
			return fmt.Errorf("bad -tile: %w", err)
		}
		if !g.InBounds(p.X, p.Y) {
			return fmt.Errorf("%s is outside the world", p)
		}
		fmt.Printf("%s %+v\n", p, g.Tile(p.X, p.Y))
		if a, d, ok := g.Anchor(p.X, p.Y); ok {
			fmt.Printf("part of %s anchored at %s: %+v\n", d.Kind, a, g.EntitiesAt(a))
		}
	}
	return nil
}

func newCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("new", flag.ExitOnError)
	open := commonFlags(fs)
	out := fs.String("out", "", "world file to create")
	w := fs.Int("w", 400, "width")
	h := fs.Int("h", 200, "height")
	title := fs.String("title", "", "world title")
	version := fs.Int("version", 0, "format version (0: config save_version or newest)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*out) == "" {
		return errors.New("missing -out")
	}
	e, err := open()
	if err != nil {
		return err
	}
	defer e.Close()

	g, err := grid.New(*w, *h, e.versions.Structures())
	if err != nil {
		return err
	}
	g.Meta.Title = *title
	if g.Meta.Title == "" {
		g.Meta.Title = strings.TrimSuffix(filepath.Base(*out), filepath.Ext(*out))
	}
	g.Meta.SpawnX, g.Meta.SpawnY = int32(*w/2), int32(*h/2)
	return saveWorld(ctx, e, *out, g, int32(*version))
}

func convertCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("convert", flag.ExitOnError)
	open := commonFlags(fs)
	in := fs.String("world", "", "source world file")
	out := fs.String("out", "", "destination (default: overwrite source)")
	version := fs.Int("version", 0, "target format version (0: config save_version or newest)")
	_ = fs.Parse(args)

	e, err := open()
	if err != nil {
		return err
	}
	defer e.Close()

	g, err := loadWorld(ctx, e, *in)
	if err != nil {
		return err
	}
	dst := *out
	if dst == "" {
		dst = *in
	}
	return saveWorld(ctx, e, dst, g, int32(*version))
}

func transcriptCmd(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("transcript", flag.ExitOnError)
	open := commonFlags(fs)
	path := fs.String("path", "", "undo transcript")
	version := fs.Int("version", 0, "format version the transcript was written with (0: newest)")
	list := fs.Bool("list", false, "print every run")
	_ = fs.Parse(args)

	if strings.TrimSpace(*path) == "" {
		return errors.New("missing -path")
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
	tr, err := editlog.ReadTranscript(*path, entry)
	if err != nil {
		return err
	}
	c, s, f := tr.Entities.Len()
	fmt.Printf("version=%d cells=%d runs=%d containers=%d signs=%d fixtures=%d\n",
		tr.Version, tr.Cells, len(tr.Entries), c, s, f)
	if *list {
		for _, en := range tr.Entries {
			fmt.Printf("(%d,%d) x%d %+v\n", en.X, en.Y, en.Repeat, en.Tile)
		}
	}
	return nil
}

func backupsCmd(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("backups", flag.ExitOnError)
	open := commonFlags(fs)
	path := fs.String("world", "", "world file")
	_ = fs.Parse(args)

	if strings.TrimSpace(*path) == "" {
		return errors.New("missing -world")
	}
	e, err := open()
	if err != nil {
		return err
	}
	defer e.Close()

	list, err := archive.List(e.cfg.BackupDir, filepath.Base(*path))
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Println("no backups")
		return nil
	}
	for _, b := range list {
		m, err := archive.ReadMeta(b)
		if err != nil {
			fmt.Printf("%s (no meta)\n", b)
			continue
		}
		fmt.Printf("%s created=%s version=%d size=%dx%d bytes=%d\n", b, m.CreatedAt, m.Version, m.Width, m.Height, m.Bytes)
	}
	return nil
}

func restoreCmd(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("restore", flag.ExitOnError)
	backup := fs.String("backup", "", "backup file (.bak.zst)")
	out := fs.String("out", "", "destination world file (default: the backup's source)")
	_ = fs.Parse(args)

	if !archive.IsBackup(*backup) {
		return fmt.Errorf("not a backup: %q", *backup)
	}
	dst := *out
	if dst == "" {
		m, err := archive.ReadMeta(*backup)
		if err != nil {
			return fmt.Errorf("no -out and no meta: %w", err)
		}
		dst = m.Source
	}
	if err := archive.Restore(*backup, dst); err != nil {
		return err
	}
	fmt.Printf("restored %s -> %s\n", *backup, dst)
	return nil
}
