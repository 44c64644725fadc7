package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitWithWriter_FiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter("warn", &buf)
	defer InitWithWriter("info", &bytes.Buffer{})

	Info.Printf("hidden info")
	Debug.Printf("hidden debug")
	Warn.Printf("visible warn")
	Always.Printf("visible always")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("filtered levels leaked into output:\n%s", out)
	}
	if !strings.Contains(out, "visible warn") || !strings.Contains(out, "visible always") {
		t.Errorf("expected warn and always lines, got:\n%s", out)
	}
}

func TestUnknownLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter("chatty", &buf)
	defer InitWithWriter("info", &bytes.Buffer{})

	Info.Printf("info line")
	Debug.Printf("debug line")

	if !strings.Contains(buf.String(), "info line") {
		t.Errorf("info should be enabled by default")
	}
	if strings.Contains(buf.String(), "debug line") {
		t.Errorf("debug should be disabled by default")
	}
}

func TestInitWithConfig_WritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pinnbs.log")
	if err := InitWithConfig("debug", path); err != nil {
		t.Fatalf("init: %v", err)
	}
	Debug.Printf("to file")
	if err := Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), "to file") {
		t.Errorf("log file missing entry: %q", data)
	}
}
