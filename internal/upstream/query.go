package upstream

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	tcgcache "github.com/eugener/tcgcache/internal"
)

// Field selections keep payloads small. Prices are only requested when needed.
var (
	cardFields  = []string{"id", "name", "number", "rarity", "set.name", "images.small"}
	priceFields = []string{"tcgplayer", "cardmarket"}
	setFields   = []string{"id", "name", "series", "releaseDate"}
)

// HighRarities is the rarity pool used for random picks.
var HighRarities = []string{"Secret Rare", "Ultra Rare", "Rare Holo", "Rare Rainbow", "Rare"}

// BuildQuery renders a search filter as an upstream q expression.
// An empty filter yields "*".
func BuildQuery(f tcgcache.SearchFilter) string {
	var parts []string
	if name := strings.ReplaceAll(strings.TrimSpace(f.Name), `"`, ""); name != "" {
		parts = append(parts, "name:"+name+"*")
	}
	if s := strings.ReplaceAll(strings.TrimSpace(f.Set), `"`, ""); s != "" {
		parts = append(parts, fmt.Sprintf(`set.name:"%s"`, s))
	}
	if n := strings.TrimSpace(f.Number); n != "" {
		parts = append(parts, fmt.Sprintf(`number:"%s"`, n))
	}
	if r := strings.ReplaceAll(strings.TrimSpace(f.Rarity), `"`, ""); r != "" {
		parts = append(parts, fmt.Sprintf(`rarity:"%s"`, r))
	}
	switch f.Variant {
	case "holo":
		parts = append(parts, `rarity:("Holo" OR "Foil" OR "Holographic" OR "Rare Holo")`)
	case "tournament":
		parts = append(parts, `(name:*promo* OR name:*tournament* OR rarity:*promo*)`)
	}
	if len(parts) == 0 {
		return "*"
	}
	return strings.Join(parts, " ")
}

// SearchParams returns the query string for a card search page.
func SearchParams(f tcgcache.SearchFilter, page, pageSize int) url.Values {
	fields := cardFields
	if f.IncludePrices {
		fields = append(append([]string(nil), cardFields...), priceFields...)
	}
	v := pageParams(page, pageSize, fields)
	if q := BuildQuery(f); q != "*" {
		v.Set("q", q)
	}
	return v
}

// PriceParams returns the query string for a batched price lookup.
func PriceParams(ids []string) url.Values {
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = strconv.Quote(id)
	}
	v := pageParams(1, len(ids), append([]string{"id"}, priceFields...))
	v.Set("q", "id:("+strings.Join(quoted, " OR ")+")")
	return v
}

// RarityPoolParams returns the query string for the random-pick pool.
func RarityPoolParams(pageSize int) url.Values {
	quoted := make([]string, len(HighRarities))
	for i, r := range HighRarities {
		quoted[i] = strconv.Quote(r)
	}
	v := pageParams(1, pageSize, cardFields)
	v.Set("q", "rarity:("+strings.Join(quoted, " OR ")+")")
	return v
}

// SetParams returns the query string for a page of the set listing.
func SetParams(page, pageSize int) url.Values {
	return pageParams(page, pageSize, setFields)
}

func pageParams(page, pageSize int, fields []string) url.Values {
	v := url.Values{}
	v.Set("page", strconv.Itoa(page))
	v.Set("pageSize", strconv.Itoa(pageSize))
	v.Set("select", strings.Join(fields, ","))
	return v
}
