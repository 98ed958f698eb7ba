package audit

import (
	"encoding"
	"encoding/json"
	"reflect"
)

// encodeValue validates and serialises a snapshot. Cycles are detected
// before encoding so the caller gets CIRCULAR_REFERENCE rather than an
// encoder failure. Shared, acyclic references are allowed.
func encodeValue(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok && len(raw) == 0 {
		return nil, nil
	}
	if hasCycle(reflect.ValueOf(v), make(map[visit]struct{})) {
		return nil, ErrCircularReference
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, ErrInvalidValue.Wrap(err)
	}
	return b, nil
}

var (
	jsonMarshalerType = reflect.TypeFor[json.Marshaler]()
	textMarshalerType = reflect.TypeFor[encoding.TextMarshaler]()
)

type visit struct {
	ptr uintptr
	typ reflect.Type
}

// hasCycle walks v depth-first the way encoding/json would. path holds the
// references on the current descent only, so the same map reached twice
// through different branches is not a cycle. Values that marshal themselves
// and fields tagged "-" are not walked.
func hasCycle(v reflect.Value, path map[visit]struct{}) bool {
	if !v.IsValid() || marshalsItself(v) {
		return false
	}
	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return false
		}
		return hasCycle(v.Elem(), path)
	case reflect.Pointer, reflect.Map, reflect.Slice:
		if v.IsNil() {
			return false
		}
		if v.Kind() == reflect.Slice && (v.Len() == 0 || v.Type().Elem().Kind() == reflect.Uint8) {
			return false
		}
		key := visit{ptr: v.Pointer(), typ: v.Type()}
		if _, seen := path[key]; seen {
			return true
		}
		path[key] = struct{}{}
		defer delete(path, key)

		switch v.Kind() {
		case reflect.Pointer:
			return hasCycle(v.Elem(), path)
		case reflect.Map:
			iter := v.MapRange()
			for iter.Next() {
				if hasCycle(iter.Value(), path) {
					return true
				}
			}
			return false
		default:
			for i := range v.Len() {
				if hasCycle(v.Index(i), path) {
					return true
				}
			}
			return false
		}
	case reflect.Array:
		for i := range v.Len() {
			if hasCycle(v.Index(i), path) {
				return true
			}
		}
	case reflect.Struct:
		t := v.Type()
		for i := range v.NumField() {
			if !t.Field(i).IsExported() || skippedByJSON(t.Field(i)) {
				continue
			}
			if hasCycle(v.Field(i), path) {
				return true
			}
		}
	}
	return false
}

func marshalsItself(v reflect.Value) bool {
	t := v.Type()
	if t.Kind() == reflect.Interface {
		return false
	}
	if t.Implements(jsonMarshalerType) || t.Implements(textMarshalerType) {
		return true
	}
	if v.CanAddr() {
		pt := reflect.PointerTo(t)
		return pt.Implements(jsonMarshalerType) || pt.Implements(textMarshalerType)
	}
	return false
}

// skippedByJSON reports a `json:"-"` field. `json:"-,"` names a field "-".
func skippedByJSON(f reflect.StructField) bool {
	return f.Tag.Get("json") == "-"
}
