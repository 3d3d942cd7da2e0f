package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestMemoryCache_BasicOperations(t *testing.T) {
	c := NewMemoryCache(1024)

	if _, ok := c.Get("missing"); ok {
		t.Fatal("expected miss on empty cache")
	}
	if err := c.Put("k", []byte("a dog on a leash")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, ok := c.Get("k")
	if !ok || string(got) != "a dog on a leash" {
		t.Fatalf("Get = %q, %v", got, ok)
	}

	c.Delete("k")
	if _, ok := c.Get("k"); ok {
		t.Error("key still present after Delete")
	}

	s := c.Stats()
	if s.Hits != 1 || s.Misses != 2 {
		t.Errorf("hits/misses = %d/%d, want 1/2", s.Hits, s.Misses)
	}
}

func TestMemoryCache_LRUEviction(t *testing.T) {
	c := NewMemoryCache(30)
	_ = c.Put("a", make([]byte, 10))
	_ = c.Put("b", make([]byte, 10))
	_ = c.Put("c", make([]byte, 10))

	// Touch a so that b is the least recently used.
	c.Get("a")
	_ = c.Put("d", make([]byte, 10))

	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	for _, k := range []string{"a", "c", "d"} {
		if _, ok := c.Get(k); !ok {
			t.Errorf("%s should still be cached", k)
		}
	}
	if ev := c.Stats().Evictions; ev != 1 {
		t.Errorf("evictions = %d, want 1", ev)
	}
}

func TestMemoryCache_ItemTooLarge(t *testing.T) {
	c := NewMemoryCache(8)
	if err := c.Put("big", make([]byte, 9)); err != ErrItemTooLarge {
		t.Fatalf("expected ErrItemTooLarge, got %v", err)
	}
}

func TestMemoryCache_UpdateExisting(t *testing.T) {
	c := NewMemoryCache(100)
	_ = c.Put("k", make([]byte, 40))
	_ = c.Put("k", make([]byte, 10))

	s := c.Stats()
	if s.Size != 10 || s.Items != 1 {
		t.Fatalf("size=%d items=%d, want 10/1", s.Size, s.Items)
	}
}

func TestMemoryCache_Prune(t *testing.T) {
	c := NewMemoryCache(100)
	_ = c.Put("old", []byte("x"))
	time.Sleep(20 * time.Millisecond)
	_ = c.Put("new", []byte("y"))

	if n := c.Prune(10 * time.Millisecond); n != 1 {
		t.Fatalf("pruned %d, want 1", n)
	}
	if _, ok := c.Get("old"); ok {
		t.Error("old entry survived Prune")
	}
	if _, ok := c.Get("new"); !ok {
		t.Error("new entry was pruned")
	}
}

func TestMemoryCache_ConcurrentAccess(t *testing.T) {
	c := NewMemoryCache(4096)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("k%d-%d", id, j%10)
				_ = c.Put(key, []byte(key))
				c.Get(key)
			}
		}(i)
	}
	wg.Wait()

	if s := c.Stats(); s.Size > 4096 {
		t.Errorf("size %d exceeds capacity", s.Size)
	}
}
