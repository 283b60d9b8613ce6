// Package keycodec derives deterministic cache keys from a request's logical
// parameters. Keys are independent of parameter construction order.
package keycodec

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"

	"github.com/zeebo/xxh3"

	tcgcache "github.com/eugener/tcgcache/internal"
)

// Key is an opaque resource key: "<category>:<128-bit xxh3 hex>".
type Key string

// Params are the logical parameters of a request, including any
// pagination cursor ("page", "page_size").
type Params map[string]any

// Derive normalizes params and hashes them together with the category.
// Strings are trimmed; nil, empty strings and empty collections are dropped;
// maps are serialized with sorted keys. Non-serializable values yield
// tcgcache.ErrInvalidParams.
func Derive(category tcgcache.Category, params Params) (Key, error) {
	data, err := Canonical(params)
	if err != nil {
		return "", err
	}
	h := xxh3.Hash128(append([]byte(string(category)+"\x00"), data...))
	return Key(fmt.Sprintf("%s:%016x%016x", category, h.Hi, h.Lo)), nil
}

// MustDerive is Derive for params known to be serializable.
func MustDerive(category tcgcache.Category, params Params) Key {
	k, err := Derive(category, params)
	if err != nil {
		panic(err)
	}
	return k
}

// Canonical returns the stable JSON encoding of the normalized params.
func Canonical(params Params) ([]byte, error) {
	v, keep, err := normalize(reflect.ValueOf(map[string]any(params)), "")
	if err != nil {
		return nil, err
	}
	if !keep {
		return []byte("{}"), nil
	}
	var b strings.Builder
	if err := encode(&b, v); err != nil {
		return nil, err
	}
	return []byte(b.String()), nil
}

// normalize converts v to a tree of map[string]any, []any and scalars,
// reporting keep=false for values that should be dropped.
func normalize(v reflect.Value, path string) (any, bool, error) {
	if !v.IsValid() {
		return nil, false, nil
	}
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return nil, false, nil
		}
		return normalize(v.Elem(), path)
	case reflect.String:
		s := strings.TrimSpace(v.String())
		return s, s != "", nil
	case reflect.Bool:
		return v.Bool(), true, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int(), true, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint(), true, nil
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, false, invalid(path, "non-finite number")
		}
		// Integral floats encode like ints so 2 and 2.0 agree.
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f), true, nil
		}
		return f, true, nil
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.IsNil() {
			return nil, false, nil
		}
		out := make([]any, 0, v.Len())
		for i := range v.Len() {
			item, keep, err := normalize(v.Index(i), fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, false, err
			}
			if keep {
				out = append(out, item)
			}
		}
		return out, len(out) > 0, nil
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return nil, false, invalid(path, "map key must be a string")
		}
		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			k := strings.TrimSpace(iter.Key().String())
			if k == "" {
				continue
			}
			item, keep, err := normalize(iter.Value(), joinPath(path, k))
			if err != nil {
				return nil, false, err
			}
			if !keep {
				continue
			}
			// Keys that differ only in surrounding space would overwrite
			// each other in map order.
			if _, dup := out[k]; dup {
				return nil, false, invalid(joinPath(path, k), "duplicate key after trimming")
			}
			out[k] = item
		}
		return out, len(out) > 0, nil
	case reflect.Struct:
		// Structs go through their JSON form so tags are honored.
		data, err := json.Marshal(v.Interface())
		if err != nil {
			return nil, false, invalid(path, err.Error())
		}
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, false, invalid(path, err.Error())
		}
		return normalize(reflect.ValueOf(m), path)
	default:
		return nil, false, invalid(path, "unsupported type "+v.Type().String())
	}
}

// encode writes v as JSON with map keys in lexicographic order.
func encode(b *strings.Builder, v any) error {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			b.Write(kb)
			b.WriteByte(':')
			if err := encode(b, t[k]); err != nil {
				return err
			}
		}
		b.WriteByte('}')
	case []any:
		b.WriteByte('[')
		for i, item := range t {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := encode(b, item); err != nil {
				return err
			}
		}
		b.WriteByte(']')
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("%w: %v", tcgcache.ErrInvalidParams, err)
		}
		b.Write(data)
	}
	return nil
}

func joinPath(path, k string) string {
	if path == "" {
		return k
	}
	return path + "." + k
}

func invalid(path, reason string) error {
	if path == "" {
		return fmt.Errorf("%w: %s", tcgcache.ErrInvalidParams, reason)
	}
	return fmt.Errorf("%w: %s: %s", tcgcache.ErrInvalidParams, path, reason)
}
