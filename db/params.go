package db

import (
	"reflect"
	"strings"
)

// bindTypes are the accepted type characters of a bind specification
const bindTypes = "idsb"

// NormalizeParams flattens values one level and prepends the bind type
// specification, one 's' per flattened value:
//
//	[1, [1, 2, 3], 4] -> ["sssss", 1, 1, 2, 3, 4]
//
// An empty input, or one made only of empty slices, gives an empty slice.
func NormalizeParams(values []interface{}) []interface{} {
	flat := make([]interface{}, 0, len(values))
	for _, v := range values {
		flat = append(flat, expand(v)...)
	}
	if len(flat) == 0 {
		return []interface{}{}
	}
	return append([]interface{}{strings.Repeat("s", len(flat))}, flat...)
}

func expand(v interface{}) []interface{} {
	switch t := v.(type) {
	case nil:
		return []interface{}{nil}
	case []interface{}:
		return t
	case []byte:
		return []interface{}{t}
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return []interface{}{v}
	}
	out := make([]interface{}, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

// validBindSpec reports whether params starts with a type specification that
// matches the number of values that follow it
func validBindSpec(params []interface{}) (string, bool) {
	if len(params) < 2 {
		return "", false
	}
	spec, ok := params[0].(string)
	if !ok || spec == "" {
		return "", false
	}
	for _, c := range spec {
		if !strings.ContainsRune(bindTypes, c) {
			return "", false
		}
	}
	if len(spec) != len(params)-1 {
		return "", false
	}
	return spec, true
}
