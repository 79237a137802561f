package evaluator

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ValueType is the dynamic type of a Value.
type ValueType int

const (
	TypeBool ValueType = iota
	TypeNumber
	TypeString
)

func (t ValueType) String() string {
	switch t {
	case TypeBool:
		return "bool"
	case TypeNumber:
		return "number"
	case TypeString:
		return "string"
	default:
		return "unknown"
	}
}

// Value is the result of evaluating an expression: a bool, a number or a string.
type Value struct {
	typ ValueType
	b   bool
	n   float64
	s   string
}

// Bool returns a boolean Value.
func Bool(b bool) Value { return Value{typ: TypeBool, b: b} }

// Number returns a numeric Value.
func Number(n float64) Value { return Value{typ: TypeNumber, n: n} }

// String returns a string Value.
func String(s string) Value { return Value{typ: TypeString, s: s} }

// Type returns the dynamic type.
func (v Value) Type() ValueType { return v.typ }

// AsBool returns the boolean payload and whether v is a bool.
func (v Value) AsBool() (bool, bool) { return v.b, v.typ == TypeBool }

// AsNumber returns the numeric payload and whether v is a number.
func (v Value) AsNumber() (float64, bool) { return v.n, v.typ == TypeNumber }

// AsString returns the string payload and whether v is a string.
func (v Value) AsString() (string, bool) { return v.s, v.typ == TypeString }

// Truthy applies the usual truthiness rules: false, 0 and "" are false.
func (v Value) Truthy() bool {
	switch v.typ {
	case TypeBool:
		return v.b
	case TypeNumber:
		return v.n != 0
	default:
		return v.s != ""
	}
}

// Interface returns the payload as a plain Go value.
func (v Value) Interface() any {
	switch v.typ {
	case TypeBool:
		return v.b
	case TypeNumber:
		return v.n
	default:
		return v.s
	}
}

func (v Value) String() string {
	switch v.typ {
	case TypeBool:
		return strconv.FormatBool(v.b)
	case TypeNumber:
		return strconv.FormatFloat(v.n, 'g', -1, 64)
	default:
		return strconv.Quote(v.s)
	}
}

// FromAny converts a scalar Go value into a Value. Integers of every width,
// floats, strings and bools are accepted.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case Value:
		return t, nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case float64:
		return Number(t), nil
	case float32:
		return Number(float64(t)), nil
	case int:
		return Number(float64(t)), nil
	case int8:
		return Number(float64(t)), nil
	case int16:
		return Number(float64(t)), nil
	case int32:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case uint:
		return Number(float64(t)), nil
	case uint8:
		return Number(float64(t)), nil
	case uint16:
		return Number(float64(t)), nil
	case uint32:
		return Number(float64(t)), nil
	case uint64:
		return Number(float64(t)), nil
	case fmt.Stringer:
		return String(t.String()), nil
	default:
		return Value{}, fmt.Errorf("unsupported context value of type %T", x)
	}
}

// numeric returns the number a value denotes when it is a number or a
// string that parses as a finite number.
func (v Value) numeric() (float64, bool) {
	switch v.typ {
	case TypeNumber:
		return v.n, true
	case TypeString:
		s := strings.TrimSpace(v.s)
		if s == "" {
			return 0, false
		}
		n, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// Equal implements the == relation used by comparisons and membership.
// A number equals a numeric-looking string with the same value; a bool only
// ever equals a bool.
func Equal(a, b Value) bool {
	switch {
	case a.typ == TypeBool || b.typ == TypeBool:
		return a.typ == b.typ && a.b == b.b
	case a.typ == TypeString && b.typ == TypeString:
		return a.s == b.s
	case a.typ == TypeNumber && b.typ == TypeNumber:
		return a.n == b.n
	default:
		an, aok := a.numeric()
		bn, bok := b.numeric()
		return aok && bok && an == bn
	}
}
