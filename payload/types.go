// Package payload provides typed record payloads, filter predicates and a
// bitmap-backed inverted index for prefiltered search.
package payload

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies the type stored in a Value.
type Kind uint8

const (
	// KindInvalid is the zero Value.
	KindInvalid Kind = iota
	// KindInt64 holds an int64.
	KindInt64
	// KindFloat64 holds a float64.
	KindFloat64
	// KindString holds a string.
	KindString
	// KindBool holds a bool.
	KindBool
	// KindStrings holds a string slice.
	KindStrings
)

// Value is a typed payload value. Use the constructors; the zero Value has
// KindInvalid and matches nothing.
type Value struct {
	Kind Kind     `json:"kind"`
	I64  int64    `json:"i64,omitempty"`
	F64  float64  `json:"f64,omitempty"`
	S    string   `json:"s,omitempty"`
	B    bool     `json:"b,omitempty"`
	A    []string `json:"a,omitempty"`
}

// Int64 creates an integer value.
func Int64(v int64) Value { return Value{Kind: KindInt64, I64: v} }

// Float64 creates a float value.
func Float64(v float64) Value { return Value{Kind: KindFloat64, F64: v} }

// String creates a string value.
func String(v string) Value { return Value{Kind: KindString, S: v} }

// Bool creates a boolean value.
func Bool(v bool) Value { return Value{Kind: KindBool, B: v} }

// Strings creates a string slice value.
func Strings(v ...string) Value { return Value{Kind: KindStrings, A: v} }

// Key returns a stable string form used as an inverted index term.
// Slice values have no single term and return the empty string.
func (v Value) Key() string {
	switch v.Kind {
	case KindInt64:
		return "i:" + strconv.FormatInt(v.I64, 10)
	case KindFloat64:
		return "f:" + strconv.FormatFloat(v.F64, 'g', -1, 64)
	case KindString:
		return "s:" + v.S
	case KindBool:
		return "b:" + strconv.FormatBool(v.B)
	default:
		return ""
	}
}

// Equal reports whether two values have the same kind and content.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}

	switch v.Kind {
	case KindInt64:
		return v.I64 == o.I64
	case KindFloat64:
		return v.F64 == o.F64
	case KindString:
		return v.S == o.S
	case KindBool:
		return v.B == o.B
	case KindStrings:
		if len(v.A) != len(o.A) {
			return false
		}
		for i := range v.A {
			if v.A[i] != o.A[i] {
				return false
			}
		}

		return true
	default:
		return false
	}
}

// compare returns -1, 0, 1 for ordered kinds; ok is false for unordered
// kinds or kind mismatches.
func (v Value) compare(o Value) (int, bool) {
	if v.Kind != o.Kind {
		return 0, false
	}

	switch v.Kind {
	case KindInt64:
		switch {
		case v.I64 < o.I64:
			return -1, true
		case v.I64 > o.I64:
			return 1, true
		default:
			return 0, true
		}
	case KindFloat64:
		switch {
		case v.F64 < o.F64:
			return -1, true
		case v.F64 > o.F64:
			return 1, true
		default:
			return 0, true
		}
	case KindString:
		return strings.Compare(v.S, o.S), true
	default:
		return 0, false
	}
}

func (v Value) String() string {
	switch v.Kind {
	case KindInt64:
		return strconv.FormatInt(v.I64, 10)
	case KindFloat64:
		return strconv.FormatFloat(v.F64, 'g', -1, 64)
	case KindString:
		return v.S
	case KindBool:
		return strconv.FormatBool(v.B)
	case KindStrings:
		return fmt.Sprintf("%v", v.A)
	default:
		return "<invalid>"
	}
}

// Payload is the typed key/value data attached to a record.
type Payload map[string]Value

// Clone returns a shallow copy; slice values share backing arrays.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}

	clone := make(Payload, len(p))
	for k, v := range p {
		clone[k] = v
	}

	return clone
}
