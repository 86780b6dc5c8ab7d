package store

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/vango-dev/katai/pkg/cache"
	"github.com/vango-dev/katai/pkg/subscribe"
)

type countingAdapter struct {
	*cache.MemoryAdapter
	mu      sync.Mutex
	deletes []string
}

func (c *countingAdapter) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	c.deletes = append(c.deletes, key)
	c.mu.Unlock()
	return c.MemoryAdapter.Delete(ctx, key)
}

func (c *countingAdapter) deleted() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.deletes...)
}

// slowAdapter delays deletes and can hold reads until readGate is closed.
type slowAdapter struct {
	*cache.MemoryAdapter
	deleteDelay time.Duration
	readGate    chan struct{}
}

func (s *slowAdapter) Read(ctx context.Context, key string) ([]byte, error) {
	if s.readGate != nil {
		<-s.readGate
	}
	return s.MemoryAdapter.Read(ctx, key)
}

func (s *slowAdapter) Delete(ctx context.Context, key string) error {
	time.Sleep(s.deleteDelay)
	return s.MemoryAdapter.Delete(ctx, key)
}

func cachedValue(t *testing.T, a cache.Adapter, key string) any {
	t.Helper()
	data, err := a.Read(context.Background(), key)
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if data == nil {
		return nil
	}
	v, err := cache.JSONCodec{}.Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	return v
}

func TestCache_SeedOnMiss(t *testing.T) {
	adapter := cache.NewMemoryAdapter()
	r := newRegistry(t)
	s := mustCreate(t, r, "s", map[string]any{"count": 0}, WithCache(adapter))
	flush(t, r)

	key, ok := s.CacheKey()
	if !ok || key != "katai-s-s" {
		t.Fatalf("CacheKey() = %q, %v", key, ok)
	}
	if got := cachedValue(t, adapter, key); !reflect.DeepEqual(got, map[string]any{"count": 0.0}) {
		t.Fatalf("cache = %#v, want count 0", got)
	}
}

func TestCache_ReadThroughWins(t *testing.T) {
	adapter := cache.NewMemoryAdapter()
	_ = adapter.Write(context.Background(), "katai-s-s", []byte(`{"count":5}`))

	r := newRegistry(t)
	var calls, whole []call
	r.Subscribe("s.count", subscribe.New(collect(&calls)))
	r.Subscribe("s.*", subscribe.New(collect(&whole)))
	s := mustCreate(t, r, "s", map[string]any{"count": 0}, WithCache(adapter))
	flush(t, r)

	if got := s.Get("count"); got != 5.0 {
		t.Fatalf("Get(count) = %#v, want 5", got)
	}
	if len(whole) != 1 || !reflect.DeepEqual(whole[0].newValue, map[string]any{"count": 5.0}) {
		t.Fatalf("store-wide subscriber after hydrate = %#v", whole)
	}
	if len(calls) != 0 {
		t.Fatalf("exact subscriber on child fired on hydrate: %#v", calls)
	}
}

func TestCache_WriteThroughFullState(t *testing.T) {
	adapter := cache.NewMemoryAdapter()
	r := newRegistry(t)
	s := mustCreate(t, r, "s", map[string]any{"a": 1, "b": map[string]any{"c": 1}},
		WithCache(adapter), WithCacheKey("v1"))
	flush(t, r)

	if err := s.Set("b.c", 2); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	flush(t, r)

	want := map[string]any{"a": 1.0, "b": map[string]any{"c": 2.0}}
	if got := cachedValue(t, adapter, "katai-s-v1"); !reflect.DeepEqual(got, want) {
		t.Fatalf("cache = %#v, want %#v", got, want)
	}
}

func TestCache_ClearKeepsBinding(t *testing.T) {
	adapter := cache.NewMemoryAdapter()
	r := newRegistry(t)
	s := mustCreate(t, r, "s", map[string]any{"n": 1}, WithCache(adapter))
	flush(t, r)

	s.ClearCache()
	flush(t, r)
	if got := cachedValue(t, adapter, "katai-s-s"); got != nil {
		t.Fatalf("cache after ClearCache = %#v", got)
	}

	_ = s.Set("n", 2)
	flush(t, r)
	if got := cachedValue(t, adapter, "katai-s-s"); !reflect.DeepEqual(got, map[string]any{"n": 2.0}) {
		t.Fatalf("cache after Set = %#v", got)
	}
}

func TestCache_SharedController(t *testing.T) {
	ctrl := cache.NewController(cache.WithPrefix("app"), cache.WithCodec(cache.YAMLCodec{}))
	t.Cleanup(func() { _ = ctrl.Close() })
	adapter := cache.NewMemoryAdapter()

	r := newRegistry(t, WithCacheController(ctrl))
	s := mustCreate(t, r, "s", map[string]any{"n": 1}, WithCache(adapter))
	flush(t, r)

	if key, _ := s.CacheKey(); key != "app-s-s" {
		t.Fatalf("CacheKey() = %q", key)
	}
	data, _ := adapter.Read(context.Background(), "app-s-s")
	if string(data) != "n: 1\n" {
		t.Fatalf("yaml entry = %q", data)
	}
}

func TestCache_RecreateAfterDropWithoutFlush(t *testing.T) {
	adapter := &slowAdapter{MemoryAdapter: cache.NewMemoryAdapter(), deleteDelay: 50 * time.Millisecond}
	r := newRegistry(t)
	s := mustCreate(t, r, "s", map[string]any{"count": 0}, WithCache(adapter))
	if err := s.Set("count", 5); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	flush(t, r)

	r.Drop("s")
	s = mustCreate(t, r, "s", map[string]any{"count": 0}, WithCache(adapter))
	flush(t, r)

	if got := s.Get("count"); got != 0 {
		t.Fatalf("Get(count) = %#v, re-created store hydrated from dropped entry", got)
	}
	if got := cachedValue(t, adapter, "katai-s-s"); !reflect.DeepEqual(got, map[string]any{"count": 0.0}) {
		t.Fatalf("cache = %#v, want seeded count 0", got)
	}
}

func TestCache_MutationDuringReadThrough(t *testing.T) {
	tests := []struct {
		name   string
		cached string
	}{
		{name: "miss", cached: ""},
		{name: "hit", cached: `{"n":5}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter := &slowAdapter{MemoryAdapter: cache.NewMemoryAdapter(), readGate: make(chan struct{})}
			if tt.cached != "" {
				_ = adapter.MemoryAdapter.Write(context.Background(), "katai-s-s", []byte(tt.cached))
			}
			r := newRegistry(t)
			s := mustCreate(t, r, "s", map[string]any{"n": 0}, WithCache(adapter))

			if err := s.Set("n", 1); err != nil {
				t.Fatalf("Set() error: %v", err)
			}
			close(adapter.readGate)
			flush(t, r)

			if got := s.Get("n"); got != 1 {
				t.Fatalf("Get(n) = %#v, want 1", got)
			}
			if got := cachedValue(t, adapter, "katai-s-s"); !reflect.DeepEqual(got, map[string]any{"n": 1.0}) {
				t.Fatalf("cache = %#v, want n=1", got)
			}
		})
	}
}
