package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"stashd/internal/logging"
)

func TestWatchFileReloadsOnRewrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stashd.toml")
	if err := os.WriteFile(path, []byte("cluster = \"one\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	s := NewStore()
	if err := s.LoadFile(path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.WatchFile(ctx, path, logging.NewNop()); err != nil {
		t.Fatalf("WatchFile: %v", err)
	}

	if err := os.WriteFile(path, []byte("cluster = \"two\"\n"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s.GetString("cluster") == "two" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("cluster = %q, watcher never applied the rewrite", s.GetString("cluster"))
}

func TestWatchFileIgnoresSiblings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stashd.toml")
	if err := os.WriteFile(path, []byte("cluster = \"one\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	s := NewStore()
	if err := s.LoadFile(path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.WatchFile(ctx, path, logging.NewNop()); err != nil {
		t.Fatalf("WatchFile: %v", err)
	}

	sibling := filepath.Join(dir, "other.toml")
	if err := os.WriteFile(sibling, []byte("cluster = \"three\"\n"), 0o644); err != nil {
		t.Fatalf("write sibling: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if got := s.GetString("cluster"); got != "one" {
		t.Fatalf("sibling file changed our config: cluster = %q", got)
	}
}
