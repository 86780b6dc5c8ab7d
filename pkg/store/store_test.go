package store

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/vango-dev/katai/pkg/cache"
	"github.com/vango-dev/katai/pkg/owner"
	"github.com/vango-dev/katai/pkg/subscribe"
)

func newRegistry(t *testing.T, opts ...Option) *Registry {
	t.Helper()
	r := New(opts...)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func flush(t *testing.T, r *Registry) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Flush(ctx); err != nil {
		t.Fatalf("Flush() error: %v", err)
	}
}

func mustCreate(t *testing.T, r *Registry, name string, state any, opts ...CreateOption) *Instance {
	t.Helper()
	s, err := r.Create(name, state, opts...)
	if err != nil {
		t.Fatalf("Create(%q) error: %v", name, err)
	}
	return s
}

type call struct {
	newValue, oldValue any
}

func collect(calls *[]call) subscribe.Callback {
	var mu sync.Mutex
	return func(newValue, oldValue any) error {
		mu.Lock()
		defer mu.Unlock()
		*calls = append(*calls, call{newValue, oldValue})
		return nil
	}
}

func TestCreate_Validation(t *testing.T) {
	r := newRegistry(t)

	if _, err := r.Create("", map[string]any{}); !errors.Is(err, ErrMissingName) {
		t.Fatalf("Create(\"\") error = %v, want ErrMissingName", err)
	}
	if _, err := r.Create("a", nil); !errors.Is(err, ErrMissingState) {
		t.Fatalf("Create(nil state) error = %v, want ErrMissingState", err)
	}
	if _, err := r.Create("a.b", map[string]any{}); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("Create(a.b) error = %v, want ErrInvalidName", err)
	}
	_, err := r.Create("a", map[string]any{}, WithCacheKey("k"))
	var mca *MissingCacheAdapterError
	if !errors.As(err, &mca) || !errors.Is(err, ErrMissingCacheAdapter) {
		t.Fatalf("Create(key without adapter) error = %v", err)
	}
	if r.Exists("a") {
		t.Fatal("failed Create() registered the store")
	}
}

func TestCreate_DuplicateLeavesStateUnchanged(t *testing.T) {
	r := newRegistry(t)
	mustCreate(t, r, "a", map[string]any{"v": 1})

	_, err := r.Create("a", map[string]any{"v": 2})
	var dup *DuplicateStoreError
	if !errors.As(err, &dup) || dup.Name != "a" {
		t.Fatalf("Create() duplicate error = %v", err)
	}
	if !errors.Is(err, ErrDuplicateStore) {
		t.Fatal("DuplicateStoreError does not match ErrDuplicateStore")
	}
	if got := r.Get("a"); !reflect.DeepEqual(got, map[string]any{"v": 1}) {
		t.Fatalf("state after duplicate = %#v", got)
	}
}

func TestCreate_CopiesInitialState(t *testing.T) {
	r := newRegistry(t)
	initial := map[string]any{"v": 1}
	s := mustCreate(t, r, "a", initial)
	initial["v"] = 2
	if got := s.Get("v"); got != 1 {
		t.Fatalf("Get(v) = %v, want 1", got)
	}
}

func TestGet_ReadIsolation(t *testing.T) {
	r := newRegistry(t)
	s := mustCreate(t, r, "a", map[string]any{"user": map[string]any{"tags": []any{"x"}}})

	got := s.Get("user").(map[string]any)
	got["tags"].([]any)[0] = "mutated"
	got["extra"] = true

	want := map[string]any{"tags": []any{"x"}}
	if again := s.Get("user"); !reflect.DeepEqual(again, want) {
		t.Fatalf("Get(user) after caller mutation = %#v, want %#v", again, want)
	}
}

func TestTodosScenario(t *testing.T) {
	r := newRegistry(t)
	s := mustCreate(t, r, "todos", map[string]any{"todos": []any{}})

	var calls []call
	s.SubscribeFunc("todos", collect(&calls))

	item := map[string]any{"id": 1, "title": "x", "status": "active"}
	err := s.Update("todos", func(old any) (any, error) {
		return append(old.([]any), item), nil
	})
	if err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	want := []any{item}
	if got := s.Get("todos"); !reflect.DeepEqual(got, want) {
		t.Fatalf("Get(todos) = %#v, want %#v", got, want)
	}
	if len(calls) != 1 {
		t.Fatalf("subscriber calls = %d, want 1", len(calls))
	}
	if !reflect.DeepEqual(calls[0].newValue, want) || !reflect.DeepEqual(calls[0].oldValue, []any{}) {
		t.Fatalf("subscriber got (%#v, %#v)", calls[0].newValue, calls[0].oldValue)
	}
}

func TestUpdate_MutatorCannotReachLiveState(t *testing.T) {
	r := newRegistry(t)
	s := mustCreate(t, r, "a", map[string]any{"list": []any{1}})

	var kept []any
	err := s.Update("list", func(old any) (any, error) {
		kept = old.([]any)
		return []any{2}, nil
	})
	if err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	kept[0] = "leak"

	next := []any{3}
	_ = s.Update("list", func(any) (any, error) { return next, nil })
	next[0] = "leak"

	if got := s.Get("list"); !reflect.DeepEqual(got, []any{3}) {
		t.Fatalf("Get(list) = %#v, want [3]", got)
	}
}

func TestUpdate_MutatorErrorLeavesState(t *testing.T) {
	r := newRegistry(t)
	s := mustCreate(t, r, "a", map[string]any{"n": 1})
	var calls []call
	s.SubscribeFunc("n", collect(&calls))

	boom := errors.New("boom")
	if err := s.Update("n", func(any) (any, error) { return nil, boom }); !errors.Is(err, boom) {
		t.Fatalf("Update() error = %v, want boom", err)
	}
	if s.Get("n") != 1 || len(calls) != 0 {
		t.Fatalf("failed Update changed state or notified: %v, %d calls", s.Get("n"), len(calls))
	}
}

func TestUpdate_CreatesIntermediatePaths(t *testing.T) {
	r := newRegistry(t)
	s := mustCreate(t, r, "a", map[string]any{})

	if err := s.Update("x.y", func(any) (any, error) { return 5, nil }); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if got := s.Get("x"); !reflect.DeepEqual(got, map[string]any{"y": 5}) {
		t.Fatalf("Get(x) = %#v", got)
	}
}

func TestSet_Guard(t *testing.T) {
	r := newRegistry(t)
	s := mustCreate(t, r, "a", map[string]any{"items": []any{1}, "count": 0})

	err := s.Set("missing.path", 1)
	var knf *KeyNotFoundError
	if !errors.As(err, &knf) || !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("Set(missing.path) error = %v", err)
	}
	if knf.Path != "missing.path" || knf.Store != "a" {
		t.Fatalf("KeyNotFoundError = %#v", knf)
	}
	if got := s.Get(""); !reflect.DeepEqual(got, map[string]any{"items": []any{1}, "count": 0}) {
		t.Fatalf("state after failed Set = %#v", got)
	}

	err = s.Set("itms", 1)
	if !errors.As(err, &knf) || knf.Suggestion != "items" {
		t.Fatalf("Set(itms) suggestion = %#v", knf)
	}

	if err := s.Set("count", 3); err != nil {
		t.Fatalf("Set(count) error: %v", err)
	}
	if s.Get("count") != 3 {
		t.Fatalf("Get(count) = %v", s.Get("count"))
	}
}

func TestHas(t *testing.T) {
	r := newRegistry(t)
	s := mustCreate(t, r, "a", map[string]any{"x": nil, "y": map[string]any{"z": false}})

	for _, p := range []string{"", "x", "y", "y.z"} {
		if !s.Has(p) {
			t.Errorf("Has(%q) = false", p)
		}
	}
	for _, p := range []string{"w", "y.z.q", "y.w"} {
		if s.Has(p) {
			t.Errorf("Has(%q) = true", p)
		}
	}
}

func TestSubscribe_DeepMatching(t *testing.T) {
	r := newRegistry(t)
	s := mustCreate(t, r, "app", map[string]any{
		"users":   map[string]any{"5": map[string]any{"name": "a"}},
		"userset": map[string]any{},
	})

	var calls []call
	s.SubscribeFunc("users.*", collect(&calls))

	if err := s.Set("users.5.name", "b"); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	if err := s.Update("userset.x", func(any) (any, error) { return 1, nil }); err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	if len(calls) != 1 {
		t.Fatalf("deep subscriber calls = %d, want 1", len(calls))
	}
	want := map[string]any{"5": map[string]any{"name": "b"}}
	if !reflect.DeepEqual(calls[0].newValue, want) {
		t.Fatalf("deep new value = %#v, want value at users", calls[0].newValue)
	}
	if calls[0].oldValue != "a" {
		t.Fatalf("deep old value = %#v, want %q", calls[0].oldValue, "a")
	}
}

func TestSubscribe_GlobalAndStoreWide(t *testing.T) {
	r := newRegistry(t)
	a := mustCreate(t, r, "a", map[string]any{"n": 0})
	mustCreate(t, r, "b", map[string]any{"m": 0})

	var global, storeWide []call
	r.Subscribe("", subscribe.New(collect(&global)))
	a.SubscribeFunc("*", collect(&storeWide))

	_ = a.Set("n", 1)
	_ = r.Set("b.m", 2)

	if len(global) != 2 {
		t.Fatalf("global calls = %d, want 2", len(global))
	}
	want := map[string]any{"a": map[string]any{"n": 1}, "b": map[string]any{"m": 2}}
	if !reflect.DeepEqual(global[1].newValue, want) || !reflect.DeepEqual(global[1].oldValue, want) {
		t.Fatalf("global args = %#v", global[1])
	}
	if len(storeWide) != 1 {
		t.Fatalf("store-wide calls = %d, want 1", len(storeWide))
	}
}

func TestSubscribe_Immediate(t *testing.T) {
	r := newRegistry(t)
	s := mustCreate(t, r, "a", map[string]any{"n": 7})

	var calls []call
	s.SubscribeFunc("n", collect(&calls), Immediate())
	if len(calls) != 1 || calls[0].newValue != 7 || calls[0].oldValue != nil {
		t.Fatalf("immediate calls = %#v", calls)
	}
}

func TestSubscribe_DuplicateFiresOnce(t *testing.T) {
	r := newRegistry(t)
	s := mustCreate(t, r, "a", map[string]any{"n": 0})

	var calls []call
	sub := subscribe.New(collect(&calls))
	if !s.Subscribe("n", sub) || s.Subscribe("n", sub) {
		t.Fatal("Subscribe() duplicate detection failed")
	}
	_ = s.Set("n", 1)
	if len(calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(calls))
	}
}

func TestSubscribeFunc_EachCallRegisters(t *testing.T) {
	r := newRegistry(t)
	s := mustCreate(t, r, "a", map[string]any{"n": 0})

	var calls []call
	fn := collect(&calls)
	s.SubscribeFunc("n", fn)
	s.SubscribeFunc("n", fn)
	_ = s.Set("n", 1)
	if len(calls) != 2 {
		t.Fatalf("calls = %d, want 2 for two SubscribeFunc registrations", len(calls))
	}

	calls = nil
	if !s.Subscribe("n", subscribe.WithID("counter", fn)) {
		t.Fatal("Subscribe(WithID) = false on first registration")
	}
	if s.Subscribe("n", subscribe.WithID("counter", fn)) {
		t.Fatal("Subscribe(WithID) = true for a repeated ID")
	}
	_ = s.Set("n", 2)
	if len(calls) != 3 {
		t.Fatalf("calls = %d, want 3", len(calls))
	}
}

func TestUnsubscribeAndRemove(t *testing.T) {
	r := newRegistry(t)
	s := mustCreate(t, r, "a", map[string]any{"n": 0, "m": 0})

	var calls []call
	sub := s.SubscribeFunc("n", collect(&calls))
	s.SubscribeFunc("m", collect(&calls))
	s.SubscribeFunc("*", collect(&calls))

	if !s.Unsubscribe("n", sub) {
		t.Fatal("Unsubscribe() = false")
	}
	_ = s.Set("n", 1)
	if len(calls) != 1 {
		t.Fatalf("calls after Unsubscribe = %d, want 1 (deep)", len(calls))
	}

	if n := s.RemoveSubscribers("m"); n != 1 {
		t.Fatalf("RemoveSubscribers(m) = %d, want 1", n)
	}
	if n := s.RemoveSubscribers(); n != 1 {
		t.Fatalf("RemoveSubscribers() = %d, want 1", n)
	}
	_ = s.Set("m", 1)
	if len(calls) != 1 {
		t.Fatalf("calls after removal = %d, want 1", len(calls))
	}
}

func TestSubscriberFailureDoesNotAbortFanout(t *testing.T) {
	var reported []error
	r := newRegistry(t, WithErrorHandler(func(err error) { reported = append(reported, err) }))
	s := mustCreate(t, r, "a", map[string]any{"n": 0})

	var order []string
	s.SubscribeFunc("n", func(any, any) error {
		order = append(order, "first")
		panic("boom")
	})
	s.SubscribeFunc("n", func(any, any) error {
		order = append(order, "second")
		return errors.New("bad")
	})
	s.SubscribeFunc("n", func(any, any) error {
		order = append(order, "third")
		return nil
	})

	if err := s.Set("n", 1); err != nil {
		t.Fatalf("Set() error = %v, want nil", err)
	}
	if !reflect.DeepEqual(order, []string{"first", "second", "third"}) {
		t.Fatalf("order = %v", order)
	}
	if s.Get("n") != 1 {
		t.Fatal("mutation rolled back after subscriber failure")
	}
	if len(reported) != 2 {
		t.Fatalf("reported = %v, want 2 errors", reported)
	}
	var pe *subscribe.PanicError
	if !errors.As(reported[0], &pe) {
		t.Fatalf("reported[0] = %v, want panic", reported[0])
	}
}

func TestSubscriberMayMutateStore(t *testing.T) {
	r := newRegistry(t)
	s := mustCreate(t, r, "a", map[string]any{"n": 0, "double": 0})

	s.SubscribeFunc("n", func(newValue, _ any) error {
		return s.Set("double", newValue.(int)*2)
	})
	if err := s.Set("n", 4); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	if s.Get("double") != 8 {
		t.Fatalf("Get(double) = %v, want 8", s.Get("double"))
	}
}

func TestSubscribe_LifecycleHost(t *testing.T) {
	r := newRegistry(t)
	s := mustCreate(t, r, "a", map[string]any{"n": 0})

	host := owner.New(nil)
	var calls []call
	s.SubscribeFunc("n", collect(&calls), WithHost(host))

	_ = s.Set("n", 1)
	host.Dispose()
	host.Dispose()
	_ = s.Set("n", 2)

	if len(calls) != 1 {
		t.Fatalf("calls = %d, want 1 after teardown", len(calls))
	}
}

func TestSubscribe_HostResolver(t *testing.T) {
	var current *owner.Owner
	r := newRegistry(t, WithHostResolver(func() LifecycleHost {
		if current == nil {
			return nil
		}
		return current
	}))
	s := mustCreate(t, r, "a", map[string]any{"n": 0})

	var outside, inside []call
	s.SubscribeFunc("n", collect(&outside))

	current = owner.New(nil)
	s.SubscribeFunc("n", collect(&inside))
	current.Dispose()

	_ = s.Set("n", 1)
	if len(outside) != 1 || len(inside) != 0 {
		t.Fatalf("outside=%d inside=%d, want 1 and 0", len(outside), len(inside))
	}
}

func TestDrop(t *testing.T) {
	adapter := &countingAdapter{MemoryAdapter: cache.NewMemoryAdapter()}
	r := newRegistry(t)
	s := mustCreate(t, r, "todos", map[string]any{"items": []any{1}}, WithCache(adapter))
	flush(t, r)

	var calls []call
	s.SubscribeFunc("items", collect(&calls))
	s.SubscribeFunc("*", collect(&calls))
	var global []call
	r.Subscribe("", subscribe.New(collect(&global)))

	s.Drop()
	flush(t, r)

	if s.Has("items") || s.Has("") || r.Exists("todos") {
		t.Fatal("store still visible after Drop")
	}
	if got := adapter.deleted(); !reflect.DeepEqual(got, []string{"katai-todos-todos"}) {
		t.Fatalf("deletes = %v", got)
	}

	again := mustCreate(t, r, "todos", map[string]any{"items": []any{}})
	if err := again.Set("items", []any{2}); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	if len(calls) != 0 {
		t.Fatalf("dropped subscribers fired %d times", len(calls))
	}
	if len(global) != 1 {
		t.Fatalf("global subscriber calls = %d, want 1", len(global))
	}

	r.Drop("missing")
	if _, err := again.reg.Store("missing"); !errors.Is(err, ErrStoreNotFound) {
		t.Fatalf("Store(missing) error = %v", err)
	}
}

func TestUpdate_AfterDrop(t *testing.T) {
	r := newRegistry(t)
	s := mustCreate(t, r, "a", map[string]any{"n": 0})
	s.Drop()
	if err := s.Update("n", func(any) (any, error) { return 1, nil }); !errors.Is(err, ErrStoreNotFound) {
		t.Fatalf("Update() after Drop error = %v", err)
	}
	if err := r.Update("", func(any) (any, error) { return 1, nil }); !errors.Is(err, ErrInvalidPath) {
		t.Fatalf("Update(\"\") error = %v", err)
	}
}

func TestValue(t *testing.T) {
	type item struct {
		ID    int    `json:"id"`
		Title string `json:"title"`
	}
	r := newRegistry(t)
	s := mustCreate(t, r, "a", map[string]any{"items": []any{map[string]any{"id": 1, "title": "x"}}, "n": 3})

	items, err := Value[[]item](s, "items")
	if err != nil {
		t.Fatalf("Value() error: %v", err)
	}
	if !reflect.DeepEqual(items, []item{{ID: 1, Title: "x"}}) {
		t.Fatalf("Value() = %#v", items)
	}
	if n, err := Value[int](s, "n"); err != nil || n != 3 {
		t.Fatalf("Value[int]() = %v, %v", n, err)
	}
	if _, err := Value[int](s, "missing"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("Value(missing) error = %v", err)
	}
}

func TestNextAndGetOr(t *testing.T) {
	r := newRegistry(t)
	s := mustCreate(t, r, "a", map[string]any{"n": 1})

	var seen any
	s.Next("n", func(v any) { seen = v })
	if seen != 1 {
		t.Fatalf("Next() delivered %v", seen)
	}
	if got := s.GetOr("missing", "def"); got != "def" {
		t.Fatalf("GetOr() = %v", got)
	}
	if names := r.Names(); !reflect.DeepEqual(names, []string{"a"}) {
		t.Fatalf("Names() = %v", names)
	}
}
