package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/gabrielgits/crudrepo/record"
	"github.com/jedib0t/go-pretty/v6/table"
)

func (a *app) printDocuments(w io.Writer, docs []record.Document) error {
	if a.opts.Output == OutputJSON {
		if docs == nil {
			docs = []record.Document{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(docs)
	}

	columns := columnsOf(docs)
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)

	header := make(table.Row, len(columns))
	for i, c := range columns {
		header[i] = c
	}
	t.AppendHeader(header)

	for _, doc := range docs {
		row := make(table.Row, len(columns))
		for i, c := range columns {
			if v, ok := doc[c]; ok {
				row[i] = cell(v)
			}
		}
		t.AppendRow(row)
	}
	t.Render()
	return nil
}

func (a *app) printCount(w io.Writer, label string, n int64) error {
	if a.opts.Output == OutputJSON {
		return json.NewEncoder(w).Encode(map[string]int64{label: n})
	}
	_, err := fmt.Fprintf(w, "%s %d\n", label, n)
	return err
}

// columnsOf returns "id" followed by every other field name, sorted.
func columnsOf(docs []record.Document) []string {
	seen := map[string]struct{}{}
	for _, doc := range docs {
		for k := range doc {
			seen[k] = struct{}{}
		}
	}
	delete(seen, "id")

	cols := make([]string, 0, len(seen)+1)
	for k := range seen {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return append([]string{"id"}, cols...)
}

func cell(v any) string {
	switch v.(type) {
	case map[string]any, []any:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	case nil:
		return ""
	default:
		return record.FormatValue(v)
	}
}
