package config

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vango-dev/katai/internal/errors"
)

func TestNew(t *testing.T) {
	cfg := New()

	if cfg.Server.Addr != DefaultAddr {
		t.Errorf("Server.Addr = %q, want %q", cfg.Server.Addr, DefaultAddr)
	}
	if cfg.Cache.Backend != BackendMemory {
		t.Errorf("Cache.Backend = %q, want %q", cfg.Cache.Backend, BackendMemory)
	}
	if cfg.Cache.Prefix != DefaultCachePrefix {
		t.Errorf("Cache.Prefix = %q, want %q", cfg.Cache.Prefix, DefaultCachePrefix)
	}
	if !cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled = false, want true")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "katai.yaml")
	body := `
log:
  level: DEBUG
  format: json
server:
  addr: "127.0.0.1:9000"
cache:
  backend: sqlite
  codec: yaml
  sqlite:
    path: /tmp/k.db
stores:
  - name: todos
    cached: true
    initial:
      items: []
  - name: session
    initial:
      user: null
`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if cfg.Server.Addr != "127.0.0.1:9000" {
		t.Errorf("Server.Addr = %q", cfg.Server.Addr)
	}
	if cfg.Cache.Backend != BackendSQLite || cfg.Cache.SQLite.Path != "/tmp/k.db" {
		t.Errorf("Cache = %+v", cfg.Cache)
	}
	if cfg.Cache.SQLite.Table != "katai_cache" {
		t.Errorf("Cache.SQLite.Table = %q, want default", cfg.Cache.SQLite.Table)
	}
	if len(cfg.Stores) != 2 || cfg.Stores[0].Name != "todos" || !cfg.Stores[0].Cached {
		t.Fatalf("Stores = %+v", cfg.Stores)
	}
	if _, ok := cfg.Stores[0].Initial["items"]; !ok {
		t.Errorf("Stores[0].Initial = %v", cfg.Stores[0].Initial)
	}
	if cfg.Path() != path {
		t.Errorf("Path() = %q, want %q", cfg.Path(), path)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "katai.yaml")
	if err := os.WriteFile(path, []byte("cache:\n  backend: memory\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("KATAI_CACHE_BACKEND", "none")
	t.Setenv("KATAI_SERVER_ADDR", ":1234")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Cache.Backend != BackendNone {
		t.Errorf("Cache.Backend = %q, want none", cfg.Cache.Backend)
	}
	if cfg.Server.Addr != ":1234" {
		t.Errorf("Server.Addr = %q, want :1234", cfg.Server.Addr)
	}
}

func TestLoad_NoFile(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(wd)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Path() != "" {
		t.Errorf("Path() = %q, want empty", cfg.Path())
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Code != "K041" {
		t.Fatalf("Load() error = %v, want K041", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"bad backend", func(c *Config) { c.Cache.Backend = "redis" }, "cache.backend"},
		{"bad codec", func(c *Config) { c.Cache.Codec = "gob" }, "cache.codec"},
		{"s3 without bucket", func(c *Config) { c.Cache.Backend = BackendS3 }, "bucket"},
		{"unnamed store", func(c *Config) { c.Stores = []StoreConfig{{}} }, "no name"},
		{"duplicate store", func(c *Config) {
			c.Stores = []StoreConfig{{Name: "a"}, {Name: "a"}}
		}, "declared twice"},
		{"cached without backend", func(c *Config) {
			c.Cache.Backend = BackendNone
			c.Stores = []StoreConfig{{Name: "a", Cached: true}}
		}, "cache.backend is none"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := New()
			tt.modify(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() error = nil")
			}
			e := err.(*errors.Error)
			if e.Code != "K040" {
				t.Errorf("code = %s, want K040", e.Code)
			}
			if !strings.Contains(e.Detail, tt.want) {
				t.Errorf("Detail = %q, want substring %q", e.Detail, tt.want)
			}
		})
	}
}
