package cache

import (
	"testing"
	"time"

	tcgcache "github.com/eugener/tcgcache/internal"
)

func TestMemory_GetSetDelete(t *testing.T) {
	t.Parallel()
	m, err := NewMemory()
	if err != nil {
		t.Fatal(err)
	}

	// Get non-existent.
	if _, ok := m.Get("missing"); ok {
		t.Error("should not find missing key")
	}

	now := time.Now()
	m.Set("k1", tcgcache.Entry{Payload: []byte("v1"), StoredAt: now})

	e, ok := m.Get("k1")
	if !ok {
		t.Fatal("should find k1")
	}
	if string(e.Payload) != "v1" {
		t.Errorf("value = %q, want %q", e.Payload, "v1")
	}
	if e.Key != "k1" {
		t.Errorf("key = %q, want k1", e.Key)
	}

	// Delete.
	m.Delete("k1")
	if _, ok := m.Get("k1"); ok {
		t.Error("should not find deleted key")
	}
}

func TestMemory_NoExpiry(t *testing.T) {
	t.Parallel()
	m, err := NewMemory()
	if err != nil {
		t.Fatal(err)
	}
	// Ancient entries are still returned; freshness is the caller's job.
	m.Set("old", tcgcache.Entry{Payload: []byte("x"), StoredAt: time.Unix(0, 0)})
	if _, ok := m.Get("old"); !ok {
		t.Error("memory tier must not expire entries")
	}
}

func TestMemory_StoredAtMonotonic(t *testing.T) {
	t.Parallel()
	m, err := NewMemory()
	if err != nil {
		t.Fatal(err)
	}
	t0 := time.Unix(1_700_000_000, 0)
	m.Set("k", tcgcache.Entry{Payload: []byte("new"), StoredAt: t0.Add(time.Minute)})
	m.Set("k", tcgcache.Entry{Payload: []byte("old"), StoredAt: t0})

	e, _ := m.Get("k")
	if string(e.Payload) != "new" {
		t.Errorf("payload = %s, want new", e.Payload)
	}
}

func TestMemory_Purge(t *testing.T) {
	t.Parallel()
	m, err := NewMemory()
	if err != nil {
		t.Fatal(err)
	}

	m.Set("a", tcgcache.Entry{Payload: []byte("1"), StoredAt: time.Now()})
	m.Set("b", tcgcache.Entry{Payload: []byte("2"), StoredAt: time.Now()})

	m.Purge()

	if _, ok := m.Get("a"); ok {
		t.Error("purge should remove all keys")
	}
	if _, ok := m.Get("b"); ok {
		t.Error("purge should remove all keys")
	}
}
