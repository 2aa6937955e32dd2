package remote

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gabrielgits/crudrepo/record"
)

// Envelope is the response wrapper of every remote call.
type Envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

var errNoData = errors.New("remote: envelope has no data")

func (e *Envelope) hasData() bool {
	d := bytes.TrimSpace(e.Data)
	return len(d) > 0 && !bytes.Equal(d, []byte("null"))
}

// Fields decodes data as a single record.
func (e *Envelope) Fields() (record.Fields, error) {
	if !e.hasData() {
		return nil, errNoData
	}
	var fields record.Fields
	if err := json.Unmarshal(e.Data, &fields); err != nil {
		return nil, fmt.Errorf("remote: decode record: %w", err)
	}
	if fields == nil {
		return nil, errNoData
	}
	return fields, nil
}

// List decodes data as a sequence of records. Missing data is an empty list.
func (e *Envelope) List() ([]record.Fields, error) {
	if !e.hasData() {
		return []record.Fields{}, nil
	}
	var items []record.Fields
	if err := json.Unmarshal(e.Data, &items); err != nil {
		return nil, fmt.Errorf("remote: decode list: %w", err)
	}
	return items, nil
}

// Int reads data as an integer. Plain numbers and objects carrying one of
// "id", "count", "deleted" or "affected" are accepted.
func (e *Envelope) Int() (int64, bool) {
	if !e.hasData() {
		return 0, false
	}

	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(e.Data))
	dec.UseNumber()
	if err := dec.Decode(&n); err == nil {
		return record.Fields{record.IDField: n}.ID()
	}

	var obj record.Fields
	if err := json.Unmarshal(e.Data, &obj); err != nil {
		return 0, false
	}
	for _, key := range []string{record.IDField, "count", "deleted", "affected"} {
		if v, ok := obj[key]; ok {
			return record.Fields{record.IDField: v}.ID()
		}
	}
	return 0, false
}
