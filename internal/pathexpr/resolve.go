// Package pathexpr evaluates dotted path expressions against decoded JSON values.
//
// A path is a list of segments separated by ".". A plain segment descends into
// an object by key (or into a list by numeric index). A segment of the form
// "name[]" projects the rest of the path over every element of the list found
// under "name", dropping elements where the rest of the path resolves to
// nothing. JSON null is treated as absent everywhere.
package pathexpr

import (
	"strconv"
	"strings"
)

const projection = "[]"

// Resolve evaluates path against value. The boolean is false when the path is absent.
func Resolve(value any, path string) (any, bool) {
	return resolve(value, strings.Split(path, "."))
}

func resolve(cur any, segments []string) (any, bool) {
	for i, seg := range segments {
		if key, ok := strings.CutSuffix(seg, projection); ok {
			return project(cur, key, segments[i+1:])
		}
		next, ok := descend(cur, seg)
		if !ok {
			return nil, false
		}
		cur = next
	}
	if cur == nil {
		return nil, false
	}
	return cur, true
}

func project(cur any, key string, rest []string) (any, bool) {
	list, ok := lookup(cur, key).([]any)
	if !ok {
		return nil, false
	}
	out := make([]any, 0, len(list))
	for _, el := range list {
		if len(rest) == 0 {
			if el != nil {
				out = append(out, el)
			}
			continue
		}
		if v, ok := resolve(el, rest); ok {
			out = append(out, v)
		}
	}
	return out, true
}

func descend(cur any, seg string) (any, bool) {
	if cur == nil {
		return nil, false
	}
	v := lookup(cur, seg)
	if v == nil {
		return nil, false
	}
	return v, true
}

func lookup(cur any, key string) any {
	switch c := cur.(type) {
	case map[string]any:
		return c[key]
	case []any:
		idx, err := strconv.Atoi(key)
		if err != nil || idx < 0 || idx >= len(c) {
			return nil
		}
		return c[idx]
	default:
		return nil
	}
}
