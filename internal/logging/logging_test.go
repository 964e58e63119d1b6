package logging

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gluk-w/cargocult/internal/config"
)

func setupLogPath(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "logs", "test.log")
	old := config.Cfg.LogPath
	config.Cfg.LogPath = p
	t.Cleanup(func() {
		Close()
		log.SetOutput(os.Stderr)
		config.Cfg.LogPath = old
	})
	return p
}

func TestReadTailMissingFile(t *testing.T) {
	setupLogPath(t)
	out, err := ReadTail(10)
	if err != nil {
		t.Fatalf("ReadTail: %v", err)
	}
	if out != "" {
		t.Errorf("expected empty tail, got %q", out)
	}
}

func TestInitWritesAndTails(t *testing.T) {
	setupLogPath(t)
	Init()

	for i := 0; i < 50; i++ {
		log.Printf("[test] line %d", i)
	}

	out, err := ReadTail(3)
	if err != nil {
		t.Fatalf("ReadTail: %v", err)
	}
	lines := strings.Split(out, "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d: %q", len(lines), out)
	}
	for i, want := range []string{"line 47", "line 48", "line 49"} {
		if !strings.HasSuffix(lines[i], want) {
			t.Errorf("line %d = %q, want suffix %q", i, lines[i], want)
		}
	}
}

func TestClear(t *testing.T) {
	p := setupLogPath(t)
	Init()
	log.Print("before clear")

	if err := Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if len(data) != 0 {
		t.Errorf("log not truncated: %q", data)
	}

	log.Printf("after clear %d", 1)
	out, _ := ReadTail(10)
	if !strings.Contains(out, "after clear 1") {
		t.Errorf("tail after clear = %q", out)
	}
}
