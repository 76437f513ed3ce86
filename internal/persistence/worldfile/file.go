package worldfile

import (
	"context"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"tileworks.dev/internal/fault"
	"tileworks.dev/internal/persistence/archive"
	"tileworks.dev/internal/persistence/indexdb"
	"tileworks.dev/internal/persistence/journal"
	"tileworks.dev/internal/sim/grid"
	"tileworks.dev/internal/sim/versions"
	"tileworks.dev/internal/task"
)

// SaveRecorder receives a row for every completed save.
type SaveRecorder interface {
	RecordSave(indexdb.SaveRow)
}

// EventRecorder receives load and save events.
type EventRecorder interface {
	Record(journal.Entry) error
}

// Copier is handed every file a save leaves behind, e.g. an offsite mirror.
type Copier interface {
	Enqueue(path string)
}

type Options struct {
	Versions versions.Lookup
	// Version is the target format version for saves; zero means current.
	Version  int32
	Progress Progress
	Log      logrus.FieldLogger

	// BackupDir receives a compressed copy of the file being replaced. Empty disables backups.
	BackupDir   string
	KeepBackups int

	Index   SaveRecorder
	Journal EventRecorder
	Offsite Copier
}

func (o Options) logger() logrus.FieldLogger {
	if o.Log == nil {
		return logrus.StandardLogger()
	}
	return o.Log
}

// SaveResult describes a completed save.
type SaveResult struct {
	Path    string
	Backup  string
	Version int32
	Counts
}

// Load reads path in the background.
func Load(ctx context.Context, path string, opts Options) *task.Task[*grid.Grid] {
	return task.Go(ctx, func(ctx context.Context) (*grid.Grid, error) {
		log := opts.logger().WithField("path", path)
		f, err := os.Open(path)
		if err != nil {
			return nil, fault.IO("open", path, err)
		}
		defer f.Close()

		g, orphans, err := Read(ctx, f, opts.Versions, opts.Progress)
		if err != nil {
			return nil, fault.IO("read", path, err)
		}
		for _, o := range orphans {
			log.WithError(o).Warn("dropped orphaned entity")
		}
		log.WithFields(logrus.Fields{
			"version": g.Meta.Version,
			"width":   g.Width(),
			"height":  g.Height(),
			"orphans": len(orphans),
		}).Info("world loaded")
		if opts.Journal != nil {
			if err := opts.Journal.Record(journal.Entry{Action: journal.ActionLoad, Path: path, Version: g.Meta.Version}); err != nil {
				log.WithError(err).Warn("journal write failed")
			}
		}
		return g, nil
	})
}

// Save writes g to path.tmp, then backs up the existing file, renames the new
// one into place and records the save. The caller must not touch g until the
// returned task completes; after a successful save g.Meta.Version is the version
// written.
func Save(ctx context.Context, path string, g *grid.Grid, opts Options) *task.Task[SaveResult] {
	tmp := path + ".tmp"
	written := task.Go(ctx, func(ctx context.Context) (SaveResult, error) {
		e := opts.Versions.Current()
		if opts.Version != 0 {
			var err error
			if e, err = opts.Versions.Exact(opts.Version); err != nil {
				return SaveResult{}, err
			}
		}
		counts, err := writeTemp(ctx, tmp, g, e, opts.Progress)
		if err != nil {
			_ = os.Remove(tmp)
			return SaveResult{}, err
		}
		return SaveResult{Path: path, Version: e.Version, Counts: counts}, nil
	})

	saved := task.ThenTask(ctx, written, func(ctx context.Context, res SaveResult) *task.Task[SaveResult] {
		return task.Go(ctx, func(ctx context.Context) (SaveResult, error) {
			return commitSave(res, tmp, g, opts)
		})
	})
	return task.Go(ctx, func(context.Context) (SaveResult, error) {
		res, err := saved.Wait(context.Background())
		if err != nil {
			// A cancel can skip the commit after the temp file is complete.
			<-written.Done()
			_ = os.Remove(tmp)
		}
		return res, err
	})
}

func writeTemp(ctx context.Context, tmp string, g *grid.Grid, e *versions.Entry, p Progress) (Counts, error) {
	if err := os.MkdirAll(filepath.Dir(tmp), 0o755); err != nil {
		return Counts{}, fault.IO("mkdir", filepath.Dir(tmp), err)
	}
	f, err := os.Create(tmp)
	if err != nil {
		return Counts{}, fault.IO("create", tmp, err)
	}
	counts, err := Write(ctx, f, g, e, p)
	if err != nil {
		_ = f.Close()
		return Counts{}, fault.IO("write", tmp, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return Counts{}, fault.IO("sync", tmp, err)
	}
	if err := f.Close(); err != nil {
		return Counts{}, fault.IO("close", tmp, err)
	}
	return counts, nil
}

func commitSave(res SaveResult, tmp string, g *grid.Grid, opts Options) (SaveResult, error) {
	log := opts.logger().WithField("path", res.Path)
	if opts.BackupDir != "" {
		bak, ok, err := archive.Backup(opts.BackupDir, res.Path, previousMeta(res.Path))
		if err != nil {
			_ = os.Remove(tmp)
			return res, fault.IO("backup", res.Path, err)
		}
		if ok {
			res.Backup = bak
			if n, err := archive.Prune(opts.BackupDir, filepath.Base(res.Path), opts.KeepBackups); err != nil {
				log.WithError(err).Warn("backup prune failed")
			} else if n > 0 {
				log.WithField("removed", n).Debug("pruned old backups")
			}
		}
	}
	if err := os.Rename(tmp, res.Path); err != nil {
		_ = os.Remove(tmp)
		return res, fault.IO("rename", res.Path, err)
	}
	g.Meta.Version = res.Version

	log.WithFields(logrus.Fields{
		"version":    res.Version,
		"bytes":      res.Bytes,
		"containers": res.Containers,
		"signs":      res.Signs,
		"fixtures":   res.Fixtures,
		"backup":     res.Backup,
	}).Info("world saved")
	if opts.Index != nil {
		opts.Index.RecordSave(indexdb.SaveRow{
			Path:       res.Path,
			Version:    res.Version,
			Title:      g.Meta.Title,
			Width:      g.Width(),
			Height:     g.Height(),
			Bytes:      res.Bytes,
			Containers: res.Containers,
			Signs:      res.Signs,
			Fixtures:   res.Fixtures,
			Backup:     res.Backup,
		})
	}
	if opts.Journal != nil {
		if err := opts.Journal.Record(journal.Entry{Action: journal.ActionSave, Path: res.Path, Version: res.Version}); err != nil {
			log.WithError(err).Warn("journal write failed")
		}
	}
	if opts.Offsite != nil {
		opts.Offsite.Enqueue(res.Path)
		if res.Backup != "" {
			opts.Offsite.Enqueue(res.Backup)
		}
	}
	return res, nil
}

// previousMeta describes the file about to be replaced from its own header.
func previousMeta(path string) archive.BackupMeta {
	f, err := os.Open(path)
	if err != nil {
		return archive.BackupMeta{}
	}
	defer f.Close()
	h, err := ReadHeader(f)
	if err != nil {
		return archive.BackupMeta{}
	}
	return archive.BackupMeta{Version: h.Version, Title: h.Meta.Title, Width: h.Width, Height: h.Height}
}
