package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vango-dev/katai/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "katai.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func sqliteConfig(t *testing.T) string {
	t.Helper()
	db := filepath.Join(t.TempDir(), "cache.db")
	return writeConfig(t, fmt.Sprintf("log:\n  level: error\ncache:\n  backend: sqlite\n  sqlite:\n    path: %s\n", db))
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	root, _ := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), errOut.String(), err
}

func TestVersion(t *testing.T) {
	out, _, err := execute(t, "version", "--short")
	if err != nil {
		t.Fatalf("version error: %v", err)
	}
	if strings.TrimSpace(out) != version {
		t.Fatalf("version output = %q", out)
	}
}

func TestGet_RoundTrip(t *testing.T) {
	cfgPath := sqliteConfig(t)
	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	ctx := context.Background()
	b, err := openBackend(ctx, cfg)
	if err != nil {
		t.Fatalf("openBackend() error: %v", err)
	}
	if err := b.adapter.Write(ctx, entryKey(cfg, "todos", ""), []byte(`{"items":[{"title":"milk"}]}`)); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	b.Close()

	out, _, err := execute(t, "--config", cfgPath, "get", "todos", "items.0.title")
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if strings.TrimSpace(out) != `"milk"` {
		t.Fatalf("get output = %q", out)
	}

	out, _, err = execute(t, "--config", cfgPath, "cache", "get", "todos")
	if err != nil {
		t.Fatalf("cache get error: %v", err)
	}
	if !strings.Contains(out, `"milk"`) {
		t.Fatalf("cache get output = %q", out)
	}

	if _, _, err := execute(t, "--config", cfgPath, "cache", "delete", "todos"); err != nil {
		t.Fatalf("cache delete error: %v", err)
	}
	_, errOut, err := execute(t, "--config", cfgPath, "get", "todos")
	if err == nil {
		t.Fatal("get after delete expected error")
	}
	_ = errOut
}

func TestGet_MissingPath(t *testing.T) {
	cfgPath := sqliteConfig(t)
	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	ctx := context.Background()
	b, err := openBackend(ctx, cfg)
	if err != nil {
		t.Fatalf("openBackend() error: %v", err)
	}
	b.adapter.Write(ctx, entryKey(cfg, "prefs", ""), []byte(`{"theme":"dark"}`))
	b.Close()

	var out bytes.Buffer
	err = runGet(ctx, &out, cfg, "prefs", "", "them")
	if err == nil || !strings.Contains(err.Error(), "them") {
		t.Fatalf("runGet() error = %v, want key not found", err)
	}
}

func TestGet_NoBackend(t *testing.T) {
	cfgPath := writeConfig(t, "cache:\n  backend: none\n")
	_, _, err := execute(t, "--config", cfgPath, "get", "todos")
	if err == nil {
		t.Fatal("get with no backend expected error")
	}
}

func TestNewApp_PresetStores(t *testing.T) {
	cfgPath := writeConfig(t, `
log:
  level: error
metrics:
  enabled: true
  namespace: katai_test
stores:
  - name: todos
    cached: true
    initial:
      items: []
  - name: session
`)
	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	a, err := newApp(ctx, cfg)
	if err != nil {
		t.Fatalf("newApp() error: %v", err)
	}
	defer a.Close(ctx)

	if !a.reg.Exists("todos") || !a.reg.Exists("session") {
		t.Fatalf("stores = %v", a.reg.Names())
	}
	todos, _ := a.reg.Store("todos")
	if _, bound := todos.CacheKey(); !bound {
		t.Fatal("todos should be cache-bound")
	}
	session, _ := a.reg.Store("session")
	if _, bound := session.CacheKey(); bound {
		t.Fatal("session should not be cache-bound")
	}
}

func TestBadConfig(t *testing.T) {
	cfgPath := writeConfig(t, "cache:\n  backend: floppy\n")
	_, errOut, err := execute(t, "--config", cfgPath, "--json-errors", "get", "todos")
	if err == nil {
		t.Fatal("expected config error")
	}
	// Errors are printed by main, not by Execute.
	if errOut != "" {
		t.Fatalf("unexpected stderr from Execute: %q", errOut)
	}
}
