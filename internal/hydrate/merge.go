package hydrate

import (
	"sort"
	"strings"
)

// IdentityFunc returns the display name and id of an item. Items are
// identified by trimmed name, falling back to id when the name is empty.
type IdentityFunc[T any] func(T) (name, id string)

// Merge dedupes items by identity keeping the first occurrence, drops items
// with no identity, and sorts by name then id. Merge is idempotent.
func Merge[T any](items []T, identity IdentityFunc[T]) []T {
	type keyed struct {
		item     T
		name, id string
	}
	seen := make(map[string]struct{}, len(items))
	out := make([]keyed, 0, len(items))
	for _, it := range items {
		name, id := identity(it)
		name = strings.TrimSpace(name)
		id = strings.TrimSpace(id)
		var key string
		switch {
		case name != "":
			key = "n\x00" + name
		case id != "":
			key = "i\x00" + id
		default:
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, keyed{item: it, name: name, id: id})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].name != out[j].name {
			return out[i].name < out[j].name
		}
		return out[i].id < out[j].id
	})
	result := make([]T, len(out))
	for i, k := range out {
		result[i] = k.item
	}
	return result
}
