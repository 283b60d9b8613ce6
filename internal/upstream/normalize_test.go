package upstream

import (
	"errors"
	"testing"

	tcgcache "github.com/eugener/tcgcache/internal"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want Shape
	}{
		{"list", `{"data":[{"id":"a"}]}`, ShapeList},
		{"empty list", `{"data":[]}`, ShapeList},
		{"single", `{"data":{"id":"a"}}`, ShapeSingle},
		{"bare", `{"id":"a","name":"x"}`, ShapeBare},
		{"error object", `{"error":{"message":"bad","code":400}}`, ShapeError},
		{"error string", `{"error":"bad"}`, ShapeError},
		{"not json", `<html>`, ShapeInvalid},
		{"array root", `[1,2]`, ShapeInvalid},
		{"unknown object", `{"foo":1}`, ShapeInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Classify([]byte(tt.body)); got != tt.want {
				t.Errorf("Classify(%s) = %s, want %s", tt.body, got, tt.want)
			}
		})
	}
}

func TestErrorMessage(t *testing.T) {
	t.Parallel()

	if got := ErrorMessage([]byte(`{"error":{"message":"quota"}}`)); got != "quota" {
		t.Errorf("object message = %q, want quota", got)
	}
	if got := ErrorMessage([]byte(`{"error":"down"}`)); got != "down" {
		t.Errorf("string message = %q, want down", got)
	}
}

func TestDecodeCards(t *testing.T) {
	t.Parallel()

	body := `{"data":[
		{"id":"base1-4","name":"Charizard","number":"4","rarity":"Rare Holo","set":{"name":"Base"},
		 "images":{"small":"https://images.pokemontcg.io/base1/4.png"},
		 "tcgplayer":{"prices":{"holofoil":{"mid":300.5,"market":350.25}}}},
		{"id":"base1-58","name":"Pikachu","cardmarket":{"prices":{"averageSellPrice":1.5}}},
		{"id":"base1-99","name":"Nothing"}
	]}`
	cards, err := DecodeCards([]byte(body))
	if err != nil {
		t.Fatalf("DecodeCards: %v", err)
	}
	if len(cards) != 3 {
		t.Fatalf("got %d cards, want 3", len(cards))
	}
	c := cards[0]
	if c.ID != "base1-4" || c.Name != "Charizard" || c.SetName != "Base" || c.Number != "4" {
		t.Errorf("card[0] = %+v", c)
	}
	if c.Images.Small == "" {
		t.Error("card[0] missing small image")
	}
	if c.Price == nil || *c.Price != 350.25 {
		t.Errorf("card[0] price = %v, want market 350.25", c.Price)
	}
	if cards[1].Price == nil || *cards[1].Price != 1.5 {
		t.Errorf("card[1] price = %v, want cardmarket 1.5", cards[1].Price)
	}
	if cards[2].Price != nil {
		t.Errorf("card[2] price = %v, want nil", *cards[2].Price)
	}
}

func TestDecodeCardsMidFallback(t *testing.T) {
	t.Parallel()

	cards, err := DecodeCards([]byte(`{"data":[{"id":"x","tcgplayer":{"prices":{"normal":{"mid":2}}}}]}`))
	if err != nil {
		t.Fatalf("DecodeCards: %v", err)
	}
	if cards[0].Price == nil || *cards[0].Price != 2 {
		t.Errorf("price = %v, want mid 2", cards[0].Price)
	}
}

func TestDecodeCardsRejectsMalformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{"single shape", `{"data":{"id":"a"}}`},
		{"error body", `{"error":{"message":"nope"}}`},
		{"missing id", `{"data":[{"name":"x"}]}`},
		{"non-object item", `{"data":[1]}`},
		{"garbage", `not json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := DecodeCards([]byte(tt.body))
			if !errors.Is(err, tcgcache.ErrUpstreamData) {
				t.Errorf("err = %v, want ErrUpstreamData", err)
			}
		})
	}
}

func TestDecodeCard(t *testing.T) {
	t.Parallel()

	for _, body := range []string{
		`{"data":{"id":"xy1-1","name":"Venusaur-EX"}}`,
		`{"id":"xy1-1","name":"Venusaur-EX"}`,
	} {
		c, err := DecodeCard([]byte(body))
		if err != nil {
			t.Fatalf("DecodeCard(%s): %v", body, err)
		}
		if c.ID != "xy1-1" || c.Name != "Venusaur-EX" {
			t.Errorf("DecodeCard(%s) = %+v", body, c)
		}
	}

	if _, err := DecodeCard([]byte(`{"data":[]}`)); !errors.Is(err, tcgcache.ErrUpstreamData) {
		t.Errorf("list body err = %v, want ErrUpstreamData", err)
	}
}

func TestDecodeSets(t *testing.T) {
	t.Parallel()

	sets, err := DecodeSets([]byte(`{"data":[{"id":"base1","name":" Base ","series":"Base","releaseDate":"1999/01/09"}]}`))
	if err != nil {
		t.Fatalf("DecodeSets: %v", err)
	}
	want := tcgcache.Set{ID: "base1", Name: "Base", Series: "Base", ReleaseDate: "1999/01/09"}
	if len(sets) != 1 || sets[0] != want {
		t.Errorf("DecodeSets = %+v, want [%+v]", sets, want)
	}
}

func TestDecodePrices(t *testing.T) {
	t.Parallel()

	prices, err := DecodePrices([]byte(`{"data":[
		{"id":"a","tcgplayer":{"prices":{"normal":{"market":1.25}}}},
		{"id":"b"}
	]}`))
	if err != nil {
		t.Fatalf("DecodePrices: %v", err)
	}
	if p := prices["a"]; p == nil || *p != 1.25 {
		t.Errorf("prices[a] = %v, want 1.25", p)
	}
	if p, ok := prices["b"]; !ok || p != nil {
		t.Errorf("prices[b] = %v (present %v), want nil present", p, ok)
	}
}
