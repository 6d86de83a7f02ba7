package statusdb

import (
	"reflect"
	"sort"
)

// Doc is a CouchDB document
type Doc map[string]interface{}

// MergeDocs merges update into base and returns a new document. Nested
// objects are merged key by key; on any other conflict the value of update
// wins. The dotted paths where a differing value was replaced are returned
// in sorted order. Neither argument is modified.
func MergeDocs(base, update Doc) (Doc, []string) {
	var diverged []string
	merged := mergeMaps(base, update, "", &diverged)
	sort.Strings(diverged)
	return Doc(merged), diverged
}

func mergeMaps(base, update map[string]interface{}, prefix string, diverged *[]string) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(update))
	for k, v := range base {
		out[k] = deepCopy(v)
	}
	for k, nv := range update {
		ov, ok := base[k]
		if !ok {
			out[k] = deepCopy(nv)
			continue
		}
		om, oIsMap := asMap(ov)
		nm, nIsMap := asMap(nv)
		if oIsMap && nIsMap {
			out[k] = mergeMaps(om, nm, prefix+k+".", diverged)
			continue
		}
		if !reflect.DeepEqual(ov, nv) {
			*diverged = append(*diverged, prefix+k)
		}
		out[k] = deepCopy(nv)
	}
	return out
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case Doc:
		return m, true
	}
	return nil, false
}

func deepCopy(v interface{}) interface{} {
	if m, ok := asMap(v); ok {
		c := make(map[string]interface{}, len(m))
		for k, mv := range m {
			c[k] = deepCopy(mv)
		}
		return c
	}
	if s, ok := v.([]interface{}); ok {
		c := make([]interface{}, len(s))
		for i, sv := range s {
			c[i] = deepCopy(sv)
		}
		return c
	}
	return v
}
