package upstream

import (
	"strings"
	"testing"

	tcgcache "github.com/eugener/tcgcache/internal"
)

func TestBuildQuery(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		f    tcgcache.SearchFilter
		want string
	}{
		{"empty", tcgcache.SearchFilter{}, "*"},
		{"whitespace only", tcgcache.SearchFilter{Name: "   "}, "*"},
		{"name prefix", tcgcache.SearchFilter{Name: " pika "}, "name:pika*"},
		{"quotes stripped", tcgcache.SearchFilter{Name: `char"izard`}, "name:charizard*"},
		{"set and number", tcgcache.SearchFilter{Set: "Base", Number: "4"}, `set.name:"Base" number:"4"`},
		{"rarity", tcgcache.SearchFilter{Rarity: "Rare Holo"}, `rarity:"Rare Holo"`},
		{"holo variant", tcgcache.SearchFilter{Variant: "holo"}, `rarity:("Holo" OR "Foil" OR "Holographic" OR "Rare Holo")`},
		{"tournament variant", tcgcache.SearchFilter{Variant: "tournament"}, `(name:*promo* OR name:*tournament* OR rarity:*promo*)`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := BuildQuery(tt.f); got != tt.want {
				t.Errorf("BuildQuery(%+v) = %q, want %q", tt.f, got, tt.want)
			}
		})
	}
}

func TestSearchParams(t *testing.T) {
	t.Parallel()

	v := SearchParams(tcgcache.SearchFilter{}, 2, 50)
	if v.Get("page") != "2" || v.Get("pageSize") != "50" {
		t.Errorf("paging = %s/%s, want 2/50", v.Get("page"), v.Get("pageSize"))
	}
	if v.Has("q") {
		t.Errorf("empty filter should omit q, got %q", v.Get("q"))
	}
	if strings.Contains(v.Get("select"), "tcgplayer") {
		t.Error("prices selected without IncludePrices")
	}

	v = SearchParams(tcgcache.SearchFilter{Name: "mew", IncludePrices: true}, 1, 20)
	if v.Get("q") != "name:mew*" {
		t.Errorf("q = %q, want name:mew*", v.Get("q"))
	}
	if !strings.Contains(v.Get("select"), "tcgplayer") {
		t.Error("IncludePrices should select price fields")
	}
	// Appending price fields must not mutate the shared field list.
	if strings.Contains(strings.Join(cardFields, ","), "tcgplayer") {
		t.Error("cardFields mutated")
	}
}

func TestPriceParams(t *testing.T) {
	t.Parallel()

	v := PriceParams([]string{"a-1", "b-2"})
	if got, want := v.Get("q"), `id:("a-1" OR "b-2")`; got != want {
		t.Errorf("q = %q, want %q", got, want)
	}
	if v.Get("pageSize") != "2" {
		t.Errorf("pageSize = %s, want 2", v.Get("pageSize"))
	}
}

func TestRarityPoolParams(t *testing.T) {
	t.Parallel()

	v := RarityPoolParams(250)
	if v.Get("pageSize") != "250" {
		t.Errorf("pageSize = %s, want 250", v.Get("pageSize"))
	}
	for _, r := range HighRarities {
		if !strings.Contains(v.Get("q"), `"`+r+`"`) {
			t.Errorf("q missing rarity %q", r)
		}
	}
}
