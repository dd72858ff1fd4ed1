package httpkit_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/gobeaver/ingest/httpkit"
)

func TestETagCacheSetGet(t *testing.T) {
	cache := httpkit.NewETagCache(10, 0)

	cache.Set("github:alice:starred:page1", `W/"abc"`, []byte(`[{"id":1}]`))

	entry := cache.Get("github:alice:starred:page1")
	if entry == nil {
		t.Fatal("Get() returned nil for stored key")
	}
	if entry.ETag != `W/"abc"` {
		t.Errorf("ETag = %q, want %q", entry.ETag, `W/"abc"`)
	}
	if !bytes.Equal(entry.Payload, []byte(`[{"id":1}]`)) {
		t.Errorf("Payload = %q, want %q", entry.Payload, `[{"id":1}]`)
	}

	if got := cache.Get("missing"); got != nil {
		t.Errorf("Get(missing) = %+v, want nil", got)
	}
}

func TestETagCacheEvictsOldest(t *testing.T) {
	cache := httpkit.NewETagCache(2, 0)

	cache.Set("a", "1", []byte("a"))
	time.Sleep(5 * time.Millisecond)
	cache.Set("b", "2", []byte("b"))
	time.Sleep(5 * time.Millisecond)
	cache.Set("c", "3", []byte("c"))

	if got := cache.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2", got)
	}
	if cache.Get("a") != nil {
		t.Error("oldest entry survived eviction")
	}
	if cache.Get("b") == nil || cache.Get("c") == nil {
		t.Error("newer entries evicted")
	}
}

func TestETagCacheUpdateDoesNotEvict(t *testing.T) {
	cache := httpkit.NewETagCache(2, 0)

	cache.Set("a", "1", []byte("a"))
	time.Sleep(5 * time.Millisecond)
	cache.Set("b", "2", []byte("b"))
	time.Sleep(5 * time.Millisecond)
	cache.Set("a", "1-new", []byte("a-new"))

	if got := cache.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2", got)
	}
	entry := cache.Get("a")
	if entry == nil || entry.ETag != "1-new" {
		t.Errorf("updated entry = %+v, want etag 1-new", entry)
	}
	if cache.Get("b") == nil {
		t.Error("untouched entry evicted by in-place update")
	}
}

func TestETagCacheTTL(t *testing.T) {
	cache := httpkit.NewETagCache(10, 30*time.Millisecond)

	cache.Set("k", "v1", []byte("payload"))
	if cache.Get("k") == nil {
		t.Fatal("fresh entry not returned")
	}

	time.Sleep(60 * time.Millisecond)

	if got := cache.Get("k"); got != nil {
		t.Errorf("expired entry returned: %+v", got)
	}
	if got := cache.Len(); got != 0 {
		t.Errorf("Len() after expiry = %d, want 0", got)
	}
}

func TestETagCacheDelete(t *testing.T) {
	cache := httpkit.NewETagCache(10, 0)

	cache.Set("k", "v1", []byte("payload"))
	cache.Delete("k")

	if cache.Get("k") != nil {
		t.Error("deleted entry still returned")
	}
	if got := cache.Len(); got != 0 {
		t.Errorf("Len() = %d, want 0", got)
	}
}
