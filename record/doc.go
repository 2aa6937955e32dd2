// Package record defines what the repositories store: identifiable records,
// their field-mapping representation, and ordered equality filters.
//
// A Go model becomes storable by implementing Record:
//
//	type User struct {
//		ID   int64  `json:"id"`
//		Name string `json:"name"`
//	}
//
//	func (u User) RecordID() int64                   { return u.ID }
//	func (u User) ToFields() (record.Fields, error) { return record.EncodeJSON(u) }
//
// The reverse direction is a Decoder, usually record.DecodeJSON[User].
//
// Fields read back from a store or the remote endpoint hold JSON-decoded
// values, so numbers arrive as float64. Fields.ID and ValuesEqual account for
// that when comparing identities and filter values.
package record
