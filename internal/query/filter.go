package query

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"home-library/internal/models"
)

// ErrBadFilter is returned for filters that cannot be decoded.
var ErrBadFilter = errors.New("bad filter")

// Filter groups.
const (
	FilterSeries    = "series"
	FilterAuthors   = "authors"
	FilterNarrators = "narrators"
	FilterTags      = "tags"
	FilterGenres    = "genres"
	FilterIssues    = "issues"
)

// NoSeries selects items that belong to no series.
const NoSeries = "no-series"

// Filter is a decoded "group.<base64 value>" expression.
type Filter struct {
	Group string
	Value string
}

// ParseFilter decodes raw. An empty raw string yields the zero Filter.
func ParseFilter(raw string) (Filter, error) {
	if strings.TrimSpace(raw) == "" {
		return Filter{}, nil
	}

	group, encoded, found := strings.Cut(raw, ".")
	group = strings.TrimSpace(group)
	if !found {
		return Filter{Group: group}, nil
	}

	// A literal '+' arrives as a space when the caller did not escape it.
	encoded = strings.ReplaceAll(encoded, " ", "+")
	value, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		value, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(encoded, "="))
		if err != nil {
			return Filter{}, fmt.Errorf("%w: %s: %v", ErrBadFilter, raw, err)
		}
	}
	return Filter{Group: group, Value: string(value)}, nil
}

// Active reports whether the filter restricts anything.
func (f Filter) Active() bool {
	return f.Group != ""
}

// SeriesID returns the series being filtered on, if any.
func (f Filter) SeriesID() string {
	if f.Group == FilterSeries && f.Value != NoSeries {
		return f.Value
	}
	return ""
}

// Known reports whether the group is supported.
func (f Filter) Known() bool {
	switch f.Group {
	case FilterSeries, FilterAuthors, FilterNarrators, FilterTags, FilterGenres, FilterIssues:
		return true
	}
	return false
}

// Apply returns the items that pass the filter, preserving order. Unknown
// groups pass every item.
func (f Filter) Apply(items []*models.LibraryItem) []*models.LibraryItem {
	if !f.Active() || !f.Known() {
		return items
	}
	out := make([]*models.LibraryItem, 0, len(items))
	for _, item := range items {
		if f.match(item) {
			out = append(out, item)
		}
	}
	return out
}

func (f Filter) match(item *models.LibraryItem) bool {
	meta := &item.Media.Metadata
	switch f.Group {
	case FilterSeries:
		if f.Value == NoSeries {
			return len(meta.Series) == 0
		}
		_, ok := meta.SeriesByID(f.Value)
		return ok
	case FilterAuthors:
		for _, a := range meta.Authors {
			if a.ID == f.Value {
				return true
			}
		}
	case FilterNarrators:
		return containsString(meta.Narrators, f.Value)
	case FilterTags:
		return containsString(meta.Tags, f.Value)
	case FilterGenres:
		return containsString(meta.Genres, f.Value)
	case FilterIssues:
		return item.HasIssues()
	}
	return false
}

func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

// EncodeFilter builds the raw form of a filter.
func EncodeFilter(group, value string) string {
	return group + "." + base64.StdEncoding.EncodeToString([]byte(value))
}
