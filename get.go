package fetchz

import (
	"context"
	"reflect"
	"strconv"
	"strings"
)

// Get returns a stage that extracts key from a record, a map, a slice or a
// struct. Dotted keys descend into nested values and integer segments index
// sequences, negative indices counting from the end:
//
//	fetchz.Get[fetchz.Record]("address.lines.0")
//
// A missing key or an out of range index fails with a *KeyNotFoundError.
// Use GetOr when absence is expected.
func Get[T any](key string) Processor[T, any] {
	name := "get(" + key + ")"
	return Apply(name, func(_ context.Context, value T) (any, error) {
		return lookupPath(value, key)
	})
}

// GetOr is Get with a default returned when any segment of key is missing.
func GetOr[T any](key string, fallback any) Processor[T, any] {
	name := "get(" + key + ")"
	return Transform(name, func(_ context.Context, value T) any {
		result, err := lookupPath(value, key)
		if err != nil {
			return fallback
		}
		return result
	})
}

func lookupPath(value any, key string) (any, error) {
	current := value
	for _, segment := range strings.Split(key, ".") {
		next, ok := lookup(current, segment)
		if !ok {
			return nil, &KeyNotFoundError{Key: key, Segment: segment}
		}
		current = next
	}
	return current, nil
}

func lookup(value any, segment string) (any, bool) {
	switch v := value.(type) {
	case nil:
		return nil, false
	case map[string]any:
		result, ok := v[segment]
		return result, ok
	case map[string]string:
		result, ok := v[segment]
		return result, ok
	case []any:
		i, ok := index(len(v), segment)
		if !ok {
			return nil, false
		}
		return v[i], true
	}

	rv := reflect.ValueOf(value)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Map:
		for _, key := range mapKeys(rv.Type().Key(), segment) {
			if !key.Type().AssignableTo(rv.Type().Key()) {
				continue
			}
			if result := rv.MapIndex(key); result.IsValid() {
				return result.Interface(), true
			}
		}
	case reflect.Slice, reflect.Array:
		i, ok := index(rv.Len(), segment)
		if !ok {
			return nil, false
		}
		return rv.Index(i).Interface(), true
	case reflect.Struct:
		field, ok := rv.Type().FieldByName(segment)
		if !ok || !field.IsExported() {
			return nil, false
		}
		return rv.FieldByIndex(field.Index).Interface(), true
	}
	return nil, false
}

// mapKeys returns the candidate keys a segment can address in a map whose
// key type is t: the string itself, its integer value, or both for
// interface-keyed maps.
func mapKeys(t reflect.Type, segment string) []reflect.Value {
	var keys []reflect.Value
	switch t.Kind() {
	case reflect.String:
		keys = append(keys, reflect.ValueOf(segment).Convert(t))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if n, err := strconv.ParseInt(segment, 10, 64); err == nil {
			keys = append(keys, reflect.ValueOf(n).Convert(t))
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if n, err := strconv.ParseUint(segment, 10, 64); err == nil {
			keys = append(keys, reflect.ValueOf(n).Convert(t))
		}
	case reflect.Interface:
		keys = append(keys, reflect.ValueOf(segment))
		if n, err := strconv.Atoi(segment); err == nil {
			keys = append(keys, reflect.ValueOf(n))
		}
	}
	return keys
}

func index(length int, segment string) (int, bool) {
	i, err := strconv.Atoi(segment)
	if err != nil {
		return 0, false
	}
	if i < 0 {
		i += length
	}
	if i < 0 || i >= length {
		return 0, false
	}
	return i, true
}
