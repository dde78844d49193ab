package registry

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/zoobzio/fetchz"
)

// ErrTypeMismatch is returned when a value flowing through a configured
// pipeline cannot be used as the input of the next stage.
var ErrTypeMismatch = errors.New("type mismatch")

var bytesType = reflect.TypeOf([]byte(nil))

// erased runs a typed stage on untyped values, converting its input first.
type erased[In, Out any] struct {
	stage fetchz.Chainable[In, Out]
}

// Erase adapts a typed stage so it can be placed in a Sequence[any].
func Erase[In, Out any](stage fetchz.Chainable[In, Out]) fetchz.Chainable[any, any] {
	return erased[In, Out]{stage: stage}
}

func (e erased[In, Out]) Name() fetchz.Name {
	return e.stage.Name()
}

func (e erased[In, Out]) Process(ctx context.Context, v any) (any, error) {
	in, err := as[In](v)
	if err != nil {
		return nil, &fetchz.Error{
			Path:      []fetchz.Name{e.stage.Name()},
			InputData: v,
			Err:       err,
			Timestamp: time.Now(),
		}
	}
	out, err := e.stage.Process(ctx, in)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// as converts v to T. Slices and maps are converted element by element so
// that, for example, a []any of strings can feed a stage expecting []string.
func as[T any](v any) (T, error) {
	if t, ok := v.(T); ok {
		return t, nil
	}
	var zero T
	rv, err := coerce(v, reflect.TypeOf((*T)(nil)).Elem())
	if err != nil {
		return zero, err
	}
	out, _ := rv.Interface().(T)
	return out, nil
}

func coerce(v any, t reflect.Type) (reflect.Value, error) {
	if v == nil {
		return reflect.Zero(t), nil
	}
	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(t) {
		out := reflect.New(t).Elem()
		out.Set(rv)
		return out, nil
	}

	switch {
	case t.Kind() == reflect.String && rv.Type() == bytesType:
		return reflect.ValueOf(string(rv.Bytes())).Convert(t), nil
	case t == bytesType && rv.Kind() == reflect.String:
		return reflect.ValueOf([]byte(rv.String())), nil
	case t.Kind() == reflect.Slice && rv.Kind() == reflect.Slice:
		out := reflect.MakeSlice(t, rv.Len(), rv.Len())
		for i := 0; i < rv.Len(); i++ {
			e, err := coerce(rv.Index(i).Interface(), t.Elem())
			if err != nil {
				return reflect.Value{}, fmt.Errorf("element %d: %w", i, err)
			}
			out.Index(i).Set(e)
		}
		return out, nil
	case t.Kind() == reflect.Map && rv.Kind() == reflect.Map:
		out := reflect.MakeMapWithSize(t, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k, err := coerce(iter.Key().Interface(), t.Key())
			if err != nil {
				return reflect.Value{}, err
			}
			e, err := coerce(iter.Value().Interface(), t.Elem())
			if err != nil {
				return reflect.Value{}, fmt.Errorf("key %v: %w", iter.Key(), err)
			}
			out.SetMapIndex(k, e)
		}
		return out, nil
	case rv.Kind() == t.Kind() && rv.Type().ConvertibleTo(t):
		return rv.Convert(t), nil
	}
	return reflect.Value{}, fmt.Errorf("%w: cannot use %T as %s", ErrTypeMismatch, v, t)
}
