package record

import (
	"reflect"
	"strings"
	"unicode"

	"github.com/jinzhu/inflection"
)

// Tabler lets a record type choose its own table (resource) name.
type Tabler interface {
	TableName() string
}

// TableName returns the table a record type maps to. Types implementing
// Tabler win; otherwise the Go type name is snake_cased and pluralized,
// so UserAccount maps to "user_accounts".
func TableName[T any]() string {
	rt := reflect.TypeOf((*T)(nil)).Elem()
	for rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}

	ptr := reflect.New(rt)
	if t, ok := ptr.Interface().(Tabler); ok {
		return t.TableName()
	}
	if t, ok := ptr.Elem().Interface().(Tabler); ok {
		return t.TableName()
	}

	snake := toSnake(rt.Name())
	if snake == "" {
		return ""
	}
	return inflection.Plural(snake)
}

// toSnake splits a type name into lower-cased words joined by underscores.
// Anything that is not a letter or digit (generic brackets, dots) separates
// words and never appears in the result.
func toSnake(name string) string {
	runes := []rune(name)
	words := make([]string, 0, 4)
	word := make([]rune, 0, len(runes))
	flush := func() {
		if len(word) > 0 {
			words = append(words, strings.ToLower(string(word)))
			word = word[:0]
		}
	}

	for i, r := range runes {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			flush()
			continue
		}
		if len(word) > 0 && startsWord(runes, i) {
			flush()
		}
		word = append(word, r)
	}
	flush()
	return strings.Join(words, "_")
}

// startsWord reports whether runes[i] opens a new word after runes[i-1]:
// digits split from letters, and an upper-case letter starts a word after a
// lower-case letter or digit, or ends an acronym ("HTTPServer").
func startsWord(runes []rune, i int) bool {
	prev, r := runes[i-1], runes[i]
	switch {
	case unicode.IsDigit(r):
		return !unicode.IsDigit(prev)
	case unicode.IsUpper(r):
		if unicode.IsLower(prev) || unicode.IsDigit(prev) {
			return true
		}
		return i+1 < len(runes) && unicode.IsLower(runes[i+1])
	}
	return false
}
