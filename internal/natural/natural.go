// Package natural implements locale-aware ordering in which embedded numbers
// compare by value ("Track 2" before "Track 10") and letter case is ignored.
package natural

import (
	"strconv"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Value is a comparable sort key: either a number or a string.
type Value struct {
	num   float64
	str   string
	isNum bool
}

// Num wraps a numeric key.
func Num(v float64) Value {
	return Value{num: v, isNum: true}
}

// Str wraps a string key.
func Str(s string) Value {
	return Value{str: s}
}

// Empty is the key used for missing values.
var Empty = Str("")

// IsNumber reports whether v holds a number.
func (v Value) IsNumber() bool {
	return v.isNum
}

// String renders the key as text.
func (v Value) String() string {
	if v.isNum {
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	}
	return v.str
}

// Comparator orders values naturally. It wraps a collate.Collator and, like
// it, must not be shared between goroutines.
type Comparator struct {
	collator *collate.Collator
}

// New returns a Comparator for the given BCP 47 locale. Unparseable locales
// fall back to English.
func New(locale string) *Comparator {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.English
	}
	return &Comparator{
		collator: collate.New(tag, collate.IgnoreCase, collate.Numeric),
	}
}

// Compare returns -1, 0 or 1.
func (c *Comparator) Compare(a, b Value) int {
	if a.isNum && b.isNum {
		switch {
		case a.num < b.num:
			return -1
		case a.num > b.num:
			return 1
		default:
			return 0
		}
	}
	return c.CompareStrings(a.String(), b.String())
}

// CompareStrings compares two strings naturally.
func (c *Comparator) CompareStrings(a, b string) int {
	return c.collator.CompareString(a, b)
}
