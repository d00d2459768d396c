package validator

import (
	"fmt"
	"reflect"
)

// Validate returns an error naming the component when any dependency is
// missing: nil, an empty slice or map, or the zero value of a scalar.
// Struct values always count as present.
func Validate(name string, deps ...any) error {
	for i, dep := range deps {
		if missing(dep) {
			return fmt.Errorf("missing required deps for component: %s (argument %d)", name, i)
		}
	}

	return nil
}

func missing(dep any) bool {
	v := reflect.ValueOf(dep)
	if !v.IsValid() {
		return true
	}

	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Func, reflect.Chan:
		return v.IsNil()
	case reflect.Map, reflect.Slice:
		return v.IsNil() || v.Len() == 0
	case reflect.Struct:
		return false
	default:
		return v.IsZero()
	}
}
