package search

import (
	"strings"

	"home-library/internal/models"
)

// MatchResult describes how a single item relates to a query. MatchKey is
// empty when the item itself did not match but some of its authors, series,
// tags or narrators did.
type MatchResult struct {
	MatchKey  string
	MatchText string
	Series    []models.SeriesRef
	Authors   []models.AuthorRef
	Narrators []string
	Tags      []string
}

// Matcher tests an item against a query.
type Matcher interface {
	Match(item *models.LibraryItem, query string) MatchResult
}

// DefaultMatcher matches case-insensitive substrings of item metadata.
type DefaultMatcher struct{}

// Match implements Matcher.
func (DefaultMatcher) Match(item *models.LibraryItem, query string) MatchResult {
	var result MatchResult
	if item == nil {
		return result
	}
	q := cleanQuery(query)
	if q == "" {
		return result
	}
	meta := item.Media.Metadata

	fields := []struct {
		key   string
		value string
	}{
		{"title", meta.Title},
		{"subtitle", meta.Subtitle},
		{"isbn", meta.ISBN},
		{"asin", meta.ASIN},
	}
	for _, f := range fields {
		if f.value != "" && contains(f.value, q) {
			result.MatchKey = f.key
			result.MatchText = f.value
			break
		}
	}

	for _, a := range meta.Authors {
		if contains(a.Name, q) {
			result.Authors = append(result.Authors, a)
		}
	}
	for _, s := range meta.Series {
		if contains(s.Name, q) {
			result.Series = append(result.Series, s)
		}
	}
	for _, n := range meta.Narrators {
		if contains(n, q) {
			result.Narrators = append(result.Narrators, n)
		}
	}
	for _, tag := range meta.Tags {
		if contains(tag, q) {
			result.Tags = append(result.Tags, tag)
		}
	}

	return result
}

func cleanQuery(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}

func contains(value, cleaned string) bool {
	return strings.Contains(strings.ToLower(value), cleaned)
}
