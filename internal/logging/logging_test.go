package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"tileworks.dev/internal/config"
)

func TestJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "worldtool.log")
	log, closer, err := New(config.Log{Level: "debug", Format: "json", File: path, MaxSizeMB: 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.WithField("cells", 12).Debug("committed")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	var line map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(raw))), &line); err != nil {
		t.Fatalf("log line is not json: %v: %s", err, raw)
	}
	if line["msg"] != "committed" || line["cells"] != float64(12) || line["level"] != "debug" {
		t.Fatalf("line=%v", line)
	}
}

func TestLevelAndFormatErrors(t *testing.T) {
	if _, _, err := New(config.Log{Level: "loud"}); err == nil {
		t.Fatalf("bad level accepted")
	}
	if _, _, err := New(config.Log{Level: "info", Format: "xml"}); err == nil {
		t.Fatalf("bad format accepted")
	}
	log, _, err := New(config.Log{Level: "warn"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if log.GetLevel() != logrus.WarnLevel {
		t.Fatalf("level=%v", log.GetLevel())
	}
}
