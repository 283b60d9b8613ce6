package freshness

import (
	"testing"
	"time"

	tcgcache "github.com/eugener/tcgcache/internal"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestPolicy_SearchScenario(t *testing.T) {
	t.Parallel()
	stored := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	clk := &fakeClock{t: stored}
	p := New(nil, WithClock(clk.now))
	e := tcgcache.Entry{Key: "k", StoredAt: stored}

	clk.advance(59 * time.Minute)
	if !p.IsFresh(e, tcgcache.CategorySearch) {
		t.Error("entry should be fresh at T+59m")
	}
	clk.advance(2 * time.Minute)
	if p.IsFresh(e, tcgcache.CategorySearch) {
		t.Error("entry should be stale at T+61m")
	}
}

func TestPolicy_Defaults(t *testing.T) {
	t.Parallel()
	p := New(nil)
	tests := []struct {
		c    tcgcache.Category
		want time.Duration
	}{
		{tcgcache.CategorySearch, time.Hour},
		{tcgcache.CategorySetList, 24 * time.Hour},
		{tcgcache.CategoryRandomPick, 30 * time.Minute},
		{tcgcache.CategorySingleEntity, time.Hour},
		{tcgcache.CategoryImage, 0},
	}
	for _, tt := range tests {
		if got := p.TTL(tt.c); got != tt.want {
			t.Errorf("TTL(%s) = %v, want %v", tt.c, got, tt.want)
		}
	}
	if got := p.Longest(); got != 24*time.Hour {
		t.Errorf("Longest = %v", got)
	}
}

func TestPolicy_Boundary(t *testing.T) {
	t.Parallel()
	stored := time.Unix(1_700_000_000, 0)
	clk := &fakeClock{t: stored.Add(30 * time.Minute)}
	p := New(nil, WithClock(clk.now))
	e := tcgcache.Entry{StoredAt: stored}
	if p.IsFresh(e, tcgcache.CategoryRandomPick) {
		t.Error("age == ttl must not be fresh")
	}
}

func TestPolicy_ImageNeverExpires(t *testing.T) {
	t.Parallel()
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	p := New(nil, WithClock(clk.now))
	e := tcgcache.Entry{StoredAt: clk.t.Add(-365 * 24 * time.Hour)}
	if !p.IsFresh(e, tcgcache.CategoryImage) {
		t.Error("images should not expire by age")
	}
}

func TestPolicy_OverrideAndUnknown(t *testing.T) {
	t.Parallel()
	rules := Rules{tcgcache.CategorySearch: time.Minute}
	p := New(rules)
	rules[tcgcache.CategorySearch] = time.Hour // must not leak into p
	if got := p.TTL(tcgcache.CategorySearch); got != time.Minute {
		t.Errorf("TTL = %v, want 1m", got)
	}
	if p.IsFresh(tcgcache.Entry{StoredAt: time.Now()}, tcgcache.Category("bogus")) {
		t.Error("unknown category should never be fresh")
	}
}
