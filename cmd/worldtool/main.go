package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"tileworks.dev/internal/config"
	"tileworks.dev/internal/logging"
	"tileworks.dev/internal/persistence/indexdb"
	"tileworks.dev/internal/persistence/journal"
	"tileworks.dev/internal/persistence/offsite"
	"tileworks.dev/internal/persistence/worldfile"
	"tileworks.dev/internal/sim/versions"
)

var commands = map[string]func(ctx context.Context, args []string) error{
	"info":       infoCmd,
	"new":        newCmd,
	"convert":    convertCmd,
	"copy":       copyCmd,
	"tool":       toolCmd,
	"schematic":  schematicCmd,
	"transcript": transcriptCmd,
	"backups":    backupsCmd,
	"restore":    restoreCmd,
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: worldtool <info|new|convert|copy|tool|schematic|transcript|backups|restore> [flags]")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd, ok := commands[os.Args[1]]
	if !ok {
		usage()
		os.Exit(2)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := cmd(ctx, os.Args[2:]); err != nil {
		fmt.Fprintln(os.Stderr, os.Args[1]+":", err)
		stop()
		os.Exit(1)
	}
}

// env holds what every command that touches world files needs.
type env struct {
	cfg      config.Config
	log      *logrus.Logger
	versions *versions.Table
	index    *indexdb.SQLiteIndex
	journal  *journal.EditLogger
	offsite  *offsite.Mirror

	closers []io.Closer
}

// commonFlags registers -config on fs and returns a loader for the environment.
func commonFlags(fs *flag.FlagSet) func() (*env, error) {
	cfgPath := fs.String("config", "", "config file (default: ./worldtool.yaml if present)")
	verbose := fs.Bool("v", false, "debug logging")
	return func() (*env, error) {
		cfg, err := config.Load(*cfgPath, ".env")
		if err != nil {
			return nil, err
		}
		if *verbose {
			cfg.Log.Level = "debug"
		}
		return openEnv(cfg)
	}
}

func openEnv(cfg config.Config) (*env, error) {
	log, lc, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	e := &env{cfg: cfg, log: log, closers: []io.Closer{lc}}

	if cfg.VersionsPath != "" {
		e.versions, err = versions.Load(cfg.VersionsPath)
	} else {
		e.versions, err = versions.Default()
	}
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("version table: %w", err)
	}

	if !cfg.DisableIndex {
		idx, err := indexdb.OpenSQLite(cfg.IndexPath, log)
		if err != nil {
			// The index is a read model; editing works without it.
			log.WithError(err).Warn("index disabled")
		} else {
			e.index = idx
		}
	}
	e.journal = journal.NewEditLogger(cfg.JournalDir)

	if o := cfg.Offsite; o.Enabled {
		c, err := offsite.NewClient(offsite.Credentials{
			Endpoint:        o.Endpoint,
			Bucket:          o.Bucket,
			Region:          o.Region,
			AccessKeyID:     o.AccessKeyID,
			SecretAccessKey: o.SecretAccessKey,
		})
		if err != nil {
			e.Close()
			return nil, err
		}
		e.offsite = offsite.NewMirror(c, offsite.MirrorOptions{
			Base:    cfg.DataDir,
			Prefix:  o.Prefix,
			Workers: o.Workers,
			Log:     log,
		})
	}
	return e, nil
}

// Close waits for offsite copies, then flushes the index and journal. Safe to
// call more than once.
func (e *env) Close() {
	if e.offsite != nil {
		e.offsite.Close()
		st := e.offsite.Stats()
		if st.Failed > 0 || st.Dropped > 0 {
			e.log.WithFields(logrus.Fields{"failed": st.Failed, "dropped": st.Dropped}).Warn("offsite copies incomplete")
		}
		e.offsite = nil
	}
	if e.index != nil {
		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		if err := e.index.Flush(ctx); err != nil {
			e.log.WithError(err).Warn("index flush")
		}
		cancel()
		_ = e.index.Close()
		e.index = nil
	}
	if e.journal != nil {
		if err := e.journal.Close(); err != nil {
			e.log.WithError(err).Warn("journal close")
		}
		e.journal = nil
	}
	for _, c := range e.closers {
		_ = c.Close()
	}
	e.closers = nil
}

// worldOptions wires the index and journal into load/save.
func (e *env) worldOptions(version int32) worldfile.Options {
	if version == 0 {
		version = e.cfg.SaveVersion
	}
	opts := worldfile.Options{
		Versions:    e.versions,
		Version:     version,
		Log:         e.log,
		BackupDir:   e.cfg.BackupDir,
		KeepBackups: e.cfg.KeepBackups,
		Journal:     e.journal,
	}
	if e.index != nil {
		opts.Index = e.index
	}
	if e.offsite != nil {
		opts.Offsite = e.offsite
	}
	if e.log.IsLevelEnabled(logrus.DebugLevel) {
		opts.Progress = worldfile.ProgressFunc(func(stage string, pct int) {
			if pct%25 == 0 {
				e.log.WithFields(logrus.Fields{"stage": stage, "pct": pct}).Debug("progress")
			}
		})
	}
	return opts
}
