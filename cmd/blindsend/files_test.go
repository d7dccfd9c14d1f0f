package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/blindsend/blindsend/internal/config"
	"github.com/blindsend/blindsend/internal/session"
)

func TestSafeName(t *testing.T) {
	cases := map[string]string{
		"report.pdf":          "report.pdf",
		"../../etc/passwd":    "passwd",
		"/abs/path/notes.txt": "notes.txt",
		"..\\windows\\x.exe":  "x.exe",
		"..":                  fallbackName,
		"":                    fallbackName,
		"dir/":                "dir",
	}
	for in, want := range cases {
		if got := safeName(in); got != want {
			t.Errorf("safeName(%q) = %q, expected %q", in, got, want)
		}
	}
}

func TestWriteOutputRefusesOverwrite(t *testing.T) {
	dir := t.TempDir()
	f := &session.File{Name: "../a.txt", Size: 2, Data: []byte("hi")}

	path, err := writeOutput(dir, f, false)
	if err != nil {
		t.Fatalf("writeOutput failed: %v", err)
	}
	if path != filepath.Join(dir, "a.txt") {
		t.Errorf("path = %q", path)
	}
	if _, err := writeOutput(dir, f, false); err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Errorf("Expected already exists error, got %v", err)
	}

	f.Data = []byte("again")
	if _, err := writeOutput(dir, f, true); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	got, _ := os.ReadFile(path)
	if string(got) != "again" {
		t.Errorf("content = %q", got)
	}
}

func TestPacerFor(t *testing.T) {
	cfg := config.DefaultConfig()
	if _, ok := pacerFor(cfg).(session.NoPacing); !ok {
		t.Error("default config should not pace")
	}
	cfg.PacingInterval = config.Duration(time.Second)
	if _, ok := pacerFor(cfg).(session.NoPacing); ok {
		t.Error("interval config should pace")
	}
	cfg.PacingRate = 1 << 20
	if _, ok := pacerFor(cfg).(*session.TokenBucketPacer); !ok {
		t.Error("rate config should use a token bucket")
	}
}
