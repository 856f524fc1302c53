package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestLoggerFactoryLevels(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := zerolog.New(buf).Level(zerolog.DebugLevel)

	l := NewLoggerFactory(&logger).NewLogger("ice")
	l.Debug("dropped")
	l.Infof("state %s", "checking")
	l.Warn("careful")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %q", buf.String())
	}

	var entry map[string]string
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := map[string]string{
		"level":     "debug",
		"component": "pion",
		"scope":     "ice",
		"message":   "state checking",
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("%s = %q, want %q", k, entry[k], v)
		}
	}
	if !strings.Contains(lines[1], `"level":"warn"`) {
		t.Errorf("unexpected warn line %q", lines[1])
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New(&bytes.Buffer{}, "loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	if _, err := New(&bytes.Buffer{}, "warn"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
