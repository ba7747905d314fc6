package cache

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestMemoryCache_LRU(t *testing.T) {
	c := NewMemoryCache(10)

	_ = c.Put("a", []byte("aaaa"))
	_ = c.Put("b", []byte("bbbb"))
	if _, ok := c.Get("a"); !ok { // a is now most recent
		t.Fatal("expected a")
	}
	_ = c.Put("c", []byte("cccc"))

	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("a should survive")
	}

	stats := c.Stats()
	if stats.Evictions != 1 || stats.Items != 2 || stats.Size != 8 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestMemoryCache_TooLarge(t *testing.T) {
	c := NewMemoryCache(4)
	if err := c.Put("k", []byte("too large")); !errors.Is(err, ErrItemTooLarge) {
		t.Errorf("expected ErrItemTooLarge, got %v", err)
	}
}

func TestMemoryCache_Replace(t *testing.T) {
	c := NewMemoryCache(100)
	_ = c.Put("k", []byte("one"))
	_ = c.Put("k", []byte("three"))

	v, _ := c.Get("k")
	if string(v) != "three" {
		t.Errorf("got %q", v)
	}
	if c.Stats().Size != 5 {
		t.Errorf("size not updated: %d", c.Stats().Size)
	}
}

func TestDiskCache_RoundTripAndPersist(t *testing.T) {
	dir := t.TempDir()
	pcm := bytes.Repeat([]byte{0, 1, 2, 3}, 4096)

	dc, err := NewDiskCache(dir, 1<<20)
	if err != nil {
		t.Fatalf("NewDiskCache: %v", err)
	}
	if err := dc.Put("hello", pcm); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if st := dc.Stats(); st.Size >= int64(len(pcm)) {
		t.Errorf("expected compression, stored %d of %d bytes", st.Size, len(pcm))
	}
	if err := dc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := NewDiskCache(dir, 1<<20)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, ok := reopened.Get("hello")
	if !ok {
		t.Fatal("entry lost across reopen")
	}
	if !bytes.Equal(got, pcm) {
		t.Error("data mismatch after reopen")
	}
}

func TestDiskCache_Eviction(t *testing.T) {
	dc, err := NewDiskCache(t.TempDir(), 64)
	if err != nil {
		t.Fatal(err)
	}
	defer dc.Close()

	// Incompressible-ish payloads close to the capacity.
	for _, k := range []string{"one", "two", "three"} {
		if err := dc.Put(k, []byte(k+"-payload-"+k)); err != nil {
			t.Fatalf("Put %s: %v", k, err)
		}
	}

	st := dc.Stats()
	if st.Size > 64 {
		t.Errorf("size %d exceeds capacity", st.Size)
	}
	if _, ok := dc.Get("three"); !ok {
		t.Error("newest entry should be present")
	}
}

func TestDiskCache_MissingFileIsMiss(t *testing.T) {
	dir := t.TempDir()
	dc, err := NewDiskCache(dir, 1<<20)
	if err != nil {
		t.Fatal(err)
	}
	defer dc.Close()

	_ = dc.Put("k", []byte("value"))
	if err := os.Remove(filepath.Join(dir, fileName("k"))); err != nil {
		t.Fatal(err)
	}

	if _, ok := dc.Get("k"); ok {
		t.Error("expected miss for deleted file")
	}
	if dc.Stats().Items != 0 {
		t.Error("stale entry should be dropped from the index")
	}
}

func TestDiskCache_Closed(t *testing.T) {
	dc, err := NewDiskCache(t.TempDir(), 1<<20)
	if err != nil {
		t.Fatal(err)
	}
	_ = dc.Close()
	_ = dc.Close()

	if err := dc.Put("k", []byte("v")); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestCache_PromotesDiskHits(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir, 1<<20)
	if err != nil {
		t.Fatal(err)
	}
	key := Key("en_US-lessac-medium", "hello", 22050)
	_ = c.Put(key, []byte("pcm"))
	_ = c.Close()

	c2, err := Open(dir, 1<<20)
	if err != nil {
		t.Fatal(err)
	}
	defer c2.Close()

	if _, ok := c2.Get(key); !ok {
		t.Fatal("expected disk hit")
	}
	if _, ok := c2.Get(key); !ok {
		t.Fatal("expected memory hit")
	}

	mem, disk := c2.Stats()
	if mem.Hits != 1 || disk.Hits != 1 {
		t.Errorf("expected one hit per tier, got mem=%+v disk=%+v", mem, disk)
	}
}

func TestKey(t *testing.T) {
	a := Key("voice", "text", 22050)
	if a != Key("voice", "text", 22050) {
		t.Error("key not deterministic")
	}
	if a == Key("voice", "text", 16000) || a == Key("other", "text", 22050) || a == Key("voice", "other", 22050) {
		t.Error("key collision across inputs")
	}
}

func TestStats_HitRate(t *testing.T) {
	if (Stats{}).HitRate() != 0 {
		t.Error("empty hit rate should be zero")
	}
	if r := (Stats{Hits: 3, Misses: 1}).HitRate(); r != 0.75 {
		t.Errorf("hit rate = %v", r)
	}
}
