package record

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
)

// Filter is a single equality constraint on a field.
type Filter struct {
	Field string
	Value any
}

// Filters is an ordered list of equality constraints. Order matters: the
// remote endpoint receives filters positionally in the request path.
type Filters []Filter

// Where starts a filter list with a single constraint.
func Where(field string, value any) Filters {
	return Filters{{Field: field, Value: value}}
}

// And appends a constraint and returns the extended list.
func (f Filters) And(field string, value any) Filters {
	out := make(Filters, len(f), len(f)+1)
	copy(out, f)
	return append(out, Filter{Field: field, Value: value})
}

// FiltersFromMap converts an unordered mapping into Filters sorted by field
// name, giving map-based callers a deterministic path order.
func FiltersFromMap(m map[string]any) Filters {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(Filters, 0, len(keys))
	for _, k := range keys {
		out = append(out, Filter{Field: k, Value: m[k]})
	}
	return out
}

// Match reports whether fields satisfies every constraint.
func (f Filters) Match(fields Fields) bool {
	for _, c := range f {
		v, ok := fields[c.Field]
		if !ok {
			return false
		}
		if !ValuesEqual(v, c.Value) {
			return false
		}
	}
	return true
}

// ValuesEqual compares two JSON-compatible values. Numbers compare by value
// regardless of Go type, and scalars compare by their path representation so
// a filter of "5" matches a stored 5.
func ValuesEqual(a, b any) bool {
	na, aNum := toFloat64(a)
	nb, bNum := toFloat64(b)
	if aNum && bNum {
		return na == nb
	}
	if reflect.DeepEqual(a, b) {
		return true
	}
	if isScalar(a) && isScalar(b) {
		return FormatValue(a) == FormatValue(b)
	}
	return false
}

// FormatValue renders a filter value as a path segment. Integral floats are
// printed without a fractional part so 5.0 and 5 produce the same segment.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case json.Number:
		return x.String()
	default:
		return fmt.Sprint(v)
	}
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func isScalar(v any) bool {
	if v == nil {
		return true
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct, reflect.Pointer, reflect.Func, reflect.Chan:
		return false
	default:
		return true
	}
}
