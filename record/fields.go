package record

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Fields is the wire and storage representation of a record: a mapping from
// field name to a JSON-compatible value.
type Fields map[string]any

// ID returns the identifier stored under IDField. The second result is false
// when the field is missing or is not an integral number.
func (f Fields) ID() (int64, bool) {
	if f == nil {
		return 0, false
	}
	v, ok := f[IDField]
	if !ok {
		return 0, false
	}
	return toInt64(v)
}

// WithID returns a shallow copy of f with IDField set to id.
func (f Fields) WithID(id int64) Fields {
	out := make(Fields, len(f)+1)
	for k, v := range f {
		out[k] = v
	}
	out[IDField] = id
	return out
}

// Merge returns a shallow copy of f overlaid with patch.
func (f Fields) Merge(patch Fields) Fields {
	out := make(Fields, len(f)+len(patch))
	for k, v := range f {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// Clone deep-copies f through JSON so that nested values are detached and
// numbers are normalized to float64, the same shape a store read returns.
func (f Fields) Clone() (Fields, error) {
	if f == nil {
		return nil, nil
	}
	data, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	var out Fields
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float32:
		return floatToInt64(float64(n))
	case float64:
		return floatToInt64(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		if f, err := n.Float64(); err == nil {
			return floatToInt64(f)
		}
		return 0, false
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

func floatToInt64(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f > math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int64(f), true
}
