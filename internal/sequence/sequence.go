// Package sequence renders the positions of books within a series as compact
// range text such as "1-3, 5, 7-8".
package sequence

import (
	"regexp"
	"strconv"
	"strings"
)

var numericToken = regexp.MustCompile(`^(\d+(\.\d*)?|\.\d+)$`)

// Range is a run of consecutive sequence tokens. Numeric bounds hold the
// parsed value in shortest decimal form ("02" becomes "2", ".5" becomes "0.5").
type Range struct {
	Start     string
	End       string
	IsNumeric bool

	end float64
}

// IsNumeric reports whether token is a plain decimal literal ("3", "3.5",
// ".5" or "3.").
func IsNumeric(token string) bool {
	return numericToken.MatchString(token)
}

// Ranges groups ascending tokens into runs. A run only grows when the current
// and previous tokens are numeric and the current value is exactly the run's
// end plus one.
func Ranges(tokens []string) []Range {
	var ranges []Range
	prevNumeric := false

	for _, token := range tokens {
		numeric := IsNumeric(token)
		text := token
		var value float64
		if numeric {
			parsed, err := strconv.ParseFloat(token, 64)
			if err != nil {
				numeric = false
			} else {
				value = parsed
				text = strconv.FormatFloat(parsed, 'f', -1, 64)
			}
		}

		if n := len(ranges); n > 0 && numeric && prevNumeric && ranges[n-1].IsNumeric && value == ranges[n-1].end+1 {
			ranges[n-1].End = text
			ranges[n-1].end = value
		} else {
			ranges = append(ranges, Range{Start: text, End: text, IsNumeric: numeric, end: value})
		}
		prevNumeric = numeric
	}

	return ranges
}

// Compact renders tokens as comma separated ranges. Empty input yields "".
func Compact(tokens []string) string {
	ranges := Ranges(tokens)
	parts := make([]string, 0, len(ranges))
	for _, r := range ranges {
		if r.Start == r.End {
			parts = append(parts, r.Start)
			continue
		}
		parts = append(parts, r.Start+"-"+r.End)
	}
	return strings.Join(parts, ", ")
}
