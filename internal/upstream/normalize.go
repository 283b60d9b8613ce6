package upstream

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	tcgcache "github.com/eugener/tcgcache/internal"
)

// Shape tags the envelope an upstream body arrived in. Provider variants put
// records under different fields; Classify maps them all onto one tag so the
// decoders below never guess.
type Shape int

const (
	ShapeInvalid Shape = iota // not JSON, or JSON of no known shape
	ShapeList                 // {"data": [...]}
	ShapeSingle               // {"data": {...}}
	ShapeBare                 // {...} carrying an "id" at top level
	ShapeError                // {"error": ...} even on HTTP 2xx
)

// String returns a human-readable shape name.
func (s Shape) String() string {
	switch s {
	case ShapeList:
		return "list"
	case ShapeSingle:
		return "single"
	case ShapeBare:
		return "bare"
	case ShapeError:
		return "error"
	default:
		return "invalid"
	}
}

// Classify inspects body without decoding it fully.
func Classify(body []byte) Shape {
	if !gjson.ValidBytes(body) {
		return ShapeInvalid
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return ShapeInvalid
	}
	if root.Get("error").Exists() {
		return ShapeError
	}
	data := root.Get("data")
	switch {
	case data.IsArray():
		return ShapeList
	case data.IsObject():
		return ShapeSingle
	case root.Get("id").Exists():
		return ShapeBare
	}
	return ShapeInvalid
}

// ErrorMessage extracts a message from an error-shaped body.
func ErrorMessage(body []byte) string {
	e := gjson.GetBytes(body, "error")
	if e.IsObject() {
		if m := e.Get("message"); m.Exists() {
			return m.String()
		}
	}
	return e.String()
}

// DecodeCards decodes a list-shaped body into canonical cards.
func DecodeCards(body []byte) ([]tcgcache.Card, error) {
	data, err := listData(body)
	if err != nil {
		return nil, err
	}
	cards := make([]tcgcache.Card, 0, len(data.Array()))
	var bad error
	data.ForEach(func(_, v gjson.Result) bool {
		c, err := cardFrom(v)
		if err != nil {
			bad = err
			return false
		}
		cards = append(cards, c)
		return true
	})
	if bad != nil {
		return nil, bad
	}
	return cards, nil
}

// DecodeCard decodes a single- or bare-shaped body into a canonical card.
func DecodeCard(body []byte) (tcgcache.Card, error) {
	switch s := Classify(body); s {
	case ShapeSingle:
		return cardFrom(gjson.GetBytes(body, "data"))
	case ShapeBare:
		return cardFrom(gjson.ParseBytes(body))
	default:
		return tcgcache.Card{}, shapeError(s, body, "single")
	}
}

// DecodeSets decodes a list-shaped body into canonical sets.
func DecodeSets(body []byte) ([]tcgcache.Set, error) {
	data, err := listData(body)
	if err != nil {
		return nil, err
	}
	sets := make([]tcgcache.Set, 0, len(data.Array()))
	data.ForEach(func(_, v gjson.Result) bool {
		sets = append(sets, tcgcache.Set{
			ID:          v.Get("id").String(),
			Name:        strings.TrimSpace(v.Get("name").String()),
			Series:      v.Get("series").String(),
			ReleaseDate: v.Get("releaseDate").String(),
		})
		return true
	})
	return sets, nil
}

// DecodePrices maps card id to its preferred price from a list-shaped body.
// Cards without a usable price map to nil.
func DecodePrices(body []byte) (map[string]*float64, error) {
	data, err := listData(body)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*float64, len(data.Array()))
	data.ForEach(func(_, v gjson.Result) bool {
		if id := v.Get("id").String(); id != "" {
			out[id] = priceFrom(v)
		}
		return true
	})
	return out, nil
}

func listData(body []byte) (gjson.Result, error) {
	if s := Classify(body); s != ShapeList {
		return gjson.Result{}, shapeError(s, body, "list")
	}
	return gjson.GetBytes(body, "data"), nil
}

func cardFrom(v gjson.Result) (tcgcache.Card, error) {
	if !v.IsObject() {
		return tcgcache.Card{}, fmt.Errorf("%w: card is not an object", tcgcache.ErrUpstreamData)
	}
	c := tcgcache.Card{
		ID:      v.Get("id").String(),
		Name:    v.Get("name").String(),
		Number:  v.Get("number").String(),
		Rarity:  v.Get("rarity").String(),
		SetName: v.Get("set.name").String(),
		Images: tcgcache.CardImages{
			Small: v.Get("images.small").String(),
			Large: v.Get("images.large").String(),
		},
		Price: priceFrom(v),
	}
	if c.ID == "" {
		return tcgcache.Card{}, fmt.Errorf("%w: card without id", tcgcache.ErrUpstreamData)
	}
	return c, nil
}

// priceFrom picks the first tcgplayer market price, else mid, else the
// cardmarket average sell price.
func priceFrom(v gjson.Result) *float64 {
	var price *float64
	v.Get("tcgplayer.prices").ForEach(func(_, variant gjson.Result) bool {
		for _, field := range []string{"market", "mid"} {
			if p := variant.Get(field); p.Type == gjson.Number {
				f := p.Float()
				price = &f
				return false
			}
		}
		return true
	})
	if price != nil {
		return price
	}
	if p := v.Get("cardmarket.prices.averageSellPrice"); p.Type == gjson.Number {
		f := p.Float()
		return &f
	}
	return nil
}

func shapeError(got Shape, body []byte, want string) error {
	if got == ShapeError {
		return fmt.Errorf("%w: upstream error body: %s", tcgcache.ErrUpstreamData, ErrorMessage(body))
	}
	return fmt.Errorf("%w: got %s shape, want %s", tcgcache.ErrUpstreamData, got, want)
}
