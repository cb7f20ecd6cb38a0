// Package transform turns decoded JSON payloads into uniform row-oriented
// tables ready for loading.
package transform

import (
	"fmt"
	"strings"
)

// Kind identifies the shape of a decoded JSON payload.
type Kind int

const (
	// KindScalar is a string, number, bool, null or an array containing a
	// non-object element.
	KindScalar Kind = iota
	// KindObject is a single JSON object.
	KindObject
	// KindArrayOfObjects is a JSON array whose elements are all objects.
	KindArrayOfObjects
)

func (k Kind) String() string {
	switch k {
	case KindObject:
		return "object"
	case KindArrayOfObjects:
		return "array_of_objects"
	default:
		return "scalar"
	}
}

// Payload is a classified JSON value. Exactly one of Object and Objects is
// set for the non-scalar kinds.
type Payload struct {
	Kind    Kind
	Object  map[string]any
	Objects []map[string]any
	Scalar  any
}

// HeterogeneousError reports an array element that is not an object.
type HeterogeneousError struct {
	Index int
	Got   string
}

func (e *HeterogeneousError) Error() string {
	return fmt.Sprintf("array element %d is %s, expected object", e.Index, e.Got)
}

// Classify inspects a decoded JSON value. Arrays with any non-object element
// return a *HeterogeneousError; other scalars classify as KindScalar without
// error so callers can decide.
func Classify(raw any) (Payload, error) {
	switch v := raw.(type) {
	case map[string]any:
		return Payload{Kind: KindObject, Object: v}, nil
	case []map[string]any:
		return Payload{Kind: KindArrayOfObjects, Objects: v}, nil
	case []any:
		objects := make([]map[string]any, 0, len(v))
		for i, item := range v {
			obj, ok := item.(map[string]any)
			if !ok {
				return Payload{Kind: KindScalar, Scalar: raw}, &HeterogeneousError{Index: i, Got: describe(item)}
			}
			objects = append(objects, obj)
		}
		return Payload{Kind: KindArrayOfObjects, Objects: objects}, nil
	default:
		return Payload{Kind: KindScalar, Scalar: raw}, nil
	}
}

func describe(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "bool"
	case map[string]any:
		return "object"
	default:
		if _, ok := v.(number); ok {
			return "number"
		}
		return strings.TrimPrefix(fmt.Sprintf("%T", v), "*")
	}
}
