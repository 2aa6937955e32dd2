package cache

import (
	"strconv"
	"strings"
)

// KeySeparator defines the delimiter used between cache key segments.
const KeySeparator = "::"

// defaultKeySerializer lays keys out as "<table>::<id>" so that every record
// of a table shares the "<table>::" prefix.
type defaultKeySerializer struct{}

// NewDefaultKeySerializer creates a new instance of the default key serializer.
func NewDefaultKeySerializer() KeySerializer {
	return &defaultKeySerializer{}
}

// SerializeKey builds the key for one record.
func (s *defaultKeySerializer) SerializeKey(table string, id int64) string {
	return s.TablePrefix(table) + strconv.FormatInt(id, 10)
}

// TablePrefix returns the prefix shared by all keys of a table.
func (s *defaultKeySerializer) TablePrefix(table string) string {
	return table + KeySeparator
}

// ParseKey splits a key produced by SerializeKey. Table names may themselves
// contain the separator, so the id is taken from the last segment.
func (s *defaultKeySerializer) ParseKey(key string) (string, int64, bool) {
	idx := strings.LastIndex(key, KeySeparator)
	if idx < 0 {
		return "", 0, false
	}

	id, err := strconv.ParseInt(key[idx+len(KeySeparator):], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return key[:idx], id, true
}
