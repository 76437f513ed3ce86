package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"tileworks.dev/internal/config"
	"tileworks.dev/internal/persistence/indexdb"
	"tileworks.dev/internal/persistence/journal"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "saves":
			savesCmd(os.Args[2:])
			return
		case "tx":
			txCmd(os.Args[2:])
			return
		case "tx-show":
			txShowCmd(os.Args[2:])
			return
		case "journal":
			journalCmd(os.Args[2:])
			return
		case "stats":
			statsCmd(os.Args[2:])
			return
		}
	}
	fmt.Fprintln(os.Stderr, "usage: admin <saves|tx|tx-show|journal|stats> [flags]")
	os.Exit(2)
}

func loadConfig(path string) config.Config {
	cfg, err := config.Load(path, ".env")
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	return cfg
}

func openIndex(cfg config.Config) *indexdb.SQLiteIndex {
	if _, err := os.Stat(cfg.IndexPath); err != nil {
		fmt.Fprintln(os.Stderr, "no index at", cfg.IndexPath)
		os.Exit(2)
	}
	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	idx, err := indexdb.OpenSQLite(cfg.IndexPath, log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open index:", err)
		os.Exit(1)
	}
	return idx
}

func emit(asJSON bool, v any, text string) {
	if !asJSON {
		fmt.Println(text)
		return
	}
	b, _ := json.Marshal(v)
	fmt.Println(string(b))
}

func savesCmd(args []string) {
	fs := flag.NewFlagSet("saves", flag.ExitOnError)
	cfgPath := fs.String("config", "", "config file")
	path := fs.String("world", "", "world file filter (optional)")
	limit := fs.Int("limit", 20, "result limit")
	asJSON := fs.Bool("json", false, "one JSON object per line")
	_ = fs.Parse(args)

	idx := openIndex(loadConfig(*cfgPath))
	defer idx.Close()

	rows, err := idx.Saves(context.Background(), strings.TrimSpace(*path), *limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	for _, r := range rows {
		emit(*asJSON, r, fmt.Sprintf("%s %s v%d %dx%d bytes=%d containers=%d signs=%d fixtures=%d backup=%s",
			r.SavedAt, r.Path, r.Version, r.Width, r.Height, r.Bytes, r.Containers, r.Signs, r.Fixtures, r.Backup))
	}
}

func txCmd(args []string) {
	fs := flag.NewFlagSet("tx", flag.ExitOnError)
	cfgPath := fs.String("config", "", "config file")
	state := fs.String("state", "", "committed|undone|redone|trimmed|discarded (optional)")
	limit := fs.Int("limit", 20, "result limit")
	asJSON := fs.Bool("json", false, "one JSON object per line")
	_ = fs.Parse(args)

	idx := openIndex(loadConfig(*cfgPath))
	defer idx.Close()

	rows, err := idx.Transactions(context.Background(), strings.TrimSpace(*state), *limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	for _, r := range rows {
		emit(*asJSON, r, fmt.Sprintf("%s %s %-9s tool=%s cells=%d entities=%d", r.UpdatedAt, r.ID, r.State, r.Tool, r.Cells, r.Entities))
	}
}

func txShowCmd(args []string) {
	fs := flag.NewFlagSet("tx-show", flag.ExitOnError)
	cfgPath := fs.String("config", "", "config file")
	id := fs.String("id", "", "transaction id")
	_ = fs.Parse(args)

	if strings.TrimSpace(*id) == "" {
		fmt.Fprintln(os.Stderr, "missing -id")
		os.Exit(2)
	}
	idx := openIndex(loadConfig(*cfgPath))
	defer idx.Close()

	r, ok, err := idx.Transaction(context.Background(), *id)
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	if !ok {
		fmt.Fprintln(os.Stderr, "not found:", *id)
		os.Exit(1)
	}
	b, _ := json.MarshalIndent(r, "", "  ")
	fmt.Println(string(b))
	if r.Path != "" {
		if _, err := os.Stat(r.Path); err != nil {
			fmt.Println("transcript: gone")
		} else {
			fmt.Println("transcript:", r.Path)
		}
	}
}

func journalCmd(args []string) {
	fs := flag.NewFlagSet("journal", flag.ExitOnError)
	cfgPath := fs.String("config", "", "config file")
	action := fs.String("action", "", "commit|abort|undo|redo|save|load (optional)")
	since := fs.Duration("since", 0, "only entries newer than this (optional)")
	asJSON := fs.Bool("json", false, "one JSON object per line")
	_ = fs.Parse(args)

	cfg := loadConfig(*cfgPath)
	var cutoff time.Time
	if *since > 0 {
		cutoff = time.Now().Add(-*since)
	}
	n := 0
	err := journal.ReadDir(cfg.JournalDir, func(e journal.Entry) error {
		if *action != "" && string(e.Action) != *action {
			return nil
		}
		if !cutoff.IsZero() {
			if t, err := time.Parse(time.RFC3339Nano, e.Time); err == nil && t.Before(cutoff) {
				return nil
			}
		}
		n++
		text := fmt.Sprintf("%s %-6s", e.Time, e.Action)
		if e.Transaction != "" {
			text += fmt.Sprintf(" tx=%s tool=%s cells=%d entities=%d", e.Transaction, e.Tool, e.Cells, e.Entities)
		}
		if e.Path != "" {
			text += fmt.Sprintf(" path=%s v%d", e.Path, e.Version)
		}
		emit(*asJSON, e, text)
		return nil
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "read journal:", err)
		os.Exit(1)
	}
	if n == 0 && !*asJSON {
		fmt.Println("no journal entries")
	}
}

func statsCmd(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	cfgPath := fs.String("config", "", "config file")
	_ = fs.Parse(args)

	cfg := loadConfig(*cfgPath)
	idx := openIndex(cfg)
	defer idx.Close()

	ctx := context.Background()
	saves, err := idx.Saves(ctx, "", 1)
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	counts := map[string]int{}
	for _, st := range []string{"committed", "undone", "redone", "trimmed", "discarded"} {
		rows, err := idx.Transactions(ctx, st, 1<<20)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		counts[st] = len(rows)
	}
	fmt.Println("index:", cfg.IndexPath)
	if len(saves) > 0 {
		fmt.Printf("last save: %s %s\n", saves[0].SavedAt, saves[0].Path)
	}
	fmt.Printf("transactions: committed=%d undone=%d redone=%d trimmed=%d discarded=%d\n",
		counts["committed"], counts["undone"], counts["redone"], counts["trimmed"], counts["discarded"])
}
