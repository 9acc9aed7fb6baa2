package pattern

import (
	"fmt"
	"math"
	"strconv"
)

// Coercion is the type a captured value is converted to before it is written
// to an event.
type Coercion int

const (
	CoerceString Coercion = iota
	CoerceInt
	CoerceFloat
)

func (c Coercion) String() string {
	switch c {
	case CoerceString:
		return "string"
	case CoerceInt:
		return "int"
	case CoerceFloat:
		return "float"
	default:
		return fmt.Sprintf("Coercion(%d)", int(c))
	}
}

// ParseCoercion parses the type suffix of a %{NAME:field:type} reference.
// An empty suffix means CoerceString.
func ParseCoercion(s string) (Coercion, error) {
	switch s {
	case "", "string":
		return CoerceString, nil
	case "int", "integer", "long":
		return CoerceInt, nil
	case "float", "double":
		return CoerceFloat, nil
	default:
		return CoerceString, fmt.Errorf("%w: unknown type %q", ErrInvalidPatternSyntax, s)
	}
}

// Convert converts raw to the coerced type: string, int64 or float64.
// Decimal input coerced to int is truncated toward zero, so "0.043" becomes 0.
func (c Coercion) Convert(raw string) (any, error) {
	switch c {
	case CoerceInt:
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return n, nil
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(f) || math.Abs(f) >= math.MaxInt64 {
			return nil, fmt.Errorf("not an integer: %q", raw)
		}
		return int64(f), nil
	case CoerceFloat:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
			return nil, fmt.Errorf("not a finite number: %q", raw)
		}
		return f, nil
	default:
		return raw, nil
	}
}
