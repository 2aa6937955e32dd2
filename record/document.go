package record

// Document is a schemaless record backed directly by its field mapping. It is
// what the CLI works with, and is handy when no Go model exists for a table.
type Document Fields

var _ Record = Document(nil)

// RecordID implements Identifiable. A document without an id reports 0.
func (d Document) RecordID() int64 {
	id, _ := Fields(d).ID()
	return id
}

// ToFields implements Record.
func (d Document) ToFields() (Fields, error) {
	if d == nil {
		return Fields{}, nil
	}
	return Fields(d).Merge(nil), nil
}

// DecodeDocument is the Decoder for Document.
func DecodeDocument(fields Fields) (Document, error) {
	if fields == nil {
		return Document{}, nil
	}
	return Document(fields.Merge(nil)), nil
}
