package remote

import (
	"strconv"

	"github.com/gabrielgits/crudrepo/record"
)

// TablePath is {table}.
func TablePath(table string) []string {
	return []string{table}
}

// ItemPath is {table}/{id}.
func ItemPath(table string, id int64) []string {
	return []string{table, strconv.FormatInt(id, 10)}
}

// FilterPath is {table}/{k1}/{v1}/{k2}/{v2}... in filter order.
func FilterPath(table string, filters record.Filters) []string {
	segments := make([]string, 0, 1+2*len(filters))
	segments = append(segments, table)
	for _, f := range filters {
		segments = append(segments, f.Field, record.FormatValue(f.Value))
	}
	return segments
}
