package record

import (
	"encoding/json"
	"fmt"
)

// IDField is the field name that carries a record's identity.
const IDField = "id"

// Identifiable exposes the integer identity of a record.
type Identifiable interface {
	RecordID() int64
}

// Record is the capability every repository item must provide: a stable
// integer identity and a conversion to its field mapping.
type Record interface {
	Identifiable
	ToFields() (Fields, error)
}

// Decoder builds a record from its field mapping.
type Decoder[T any] func(Fields) (T, error)

// DecodeJSON is the default Decoder. It round-trips the mapping through
// encoding/json, so T only needs json tags matching the field names.
func DecodeJSON[T any](fields Fields) (T, error) {
	var out T
	data, err := json.Marshal(fields)
	if err != nil {
		return out, fmt.Errorf("encode fields: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode %T: %w", out, err)
	}
	return out, nil
}

// EncodeJSON converts any JSON-serializable value into a field mapping.
// Record implementations typically return EncodeJSON(r) from ToFields.
func EncodeJSON(v any) (Fields, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	var fields Fields
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("decode %T as object: %w", v, err)
	}
	if fields == nil {
		fields = Fields{}
	}
	return fields, nil
}

// Decode applies decode to every mapping, stopping at the first failure.
func Decode[T any](decode Decoder[T], items []Fields) ([]T, error) {
	out := make([]T, 0, len(items))
	for _, item := range items {
		v, err := decode(item)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
