// Package search answers free-text queries against a library, grouping hits
// into items, authors, series, tags and narrators.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"home-library/internal/models"
	"home-library/internal/store"
)

// DefaultLimit caps each facet when the caller does not.
const DefaultLimit = 12

// ErrBadRequest is returned for queries that cannot be answered.
var ErrBadRequest = errors.New("bad request")

// EntityLookup resolves canonical authors and series.
type EntityLookup interface {
	AuthorByID(ctx context.Context, id string) (*models.Author, error)
	SeriesByID(ctx context.Context, id string) (*models.Series, error)
}

// Query is a single search request.
type Query struct {
	Text      string
	Limit     int
	MediaType string
}

// ItemMatch is an item whose own metadata matched.
type ItemMatch struct {
	LibraryItem *models.LibraryItem `json:"libraryItem"`
	MatchKey    string              `json:"matchKey"`
	MatchText   string              `json:"matchText"`
}

// SeriesMatch groups matched books by series.
type SeriesMatch struct {
	Series *models.Series        `json:"series"`
	Books  []*models.LibraryItem `json:"books"`
}

// AuthorMatch counts matched books per author.
type AuthorMatch struct {
	*models.Author
	NumBooks int `json:"numBooks"`
}

// TagMatch groups matched books by tag.
type TagMatch struct {
	Name  string                `json:"name"`
	Books []*models.LibraryItem `json:"books"`
}

// NarratorMatch counts matched books per narrator.
type NarratorMatch struct {
	Name     string `json:"name"`
	NumBooks int    `json:"numBooks"`
}

// Results holds every facet of a search. Items are keyed by MediaType when
// encoded.
type Results struct {
	MediaType string
	Items     []ItemMatch
	Tags      []*TagMatch
	Authors   []*AuthorMatch
	Series    []*SeriesMatch
	Narrators []*NarratorMatch
}

// MarshalJSON renders the facets as a single object.
func (r *Results) MarshalJSON() ([]byte, error) {
	key := r.MediaType
	if key == "" {
		key = models.MediaTypeBook
	}
	return json.Marshal(map[string]any{
		key:         nonNil(r.Items),
		"tags":      nonNil(r.Tags),
		"authors":   nonNil(r.Authors),
		"series":    nonNil(r.Series),
		"narrators": nonNil(r.Narrators),
	})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// Aggregator runs searches.
type Aggregator struct {
	matcher  Matcher
	entities EntityLookup
	logger   *logrus.Logger
}

// NewAggregator builds an Aggregator. A nil matcher uses DefaultMatcher.
func NewAggregator(matcher Matcher, entities EntityLookup, logger *logrus.Logger) *Aggregator {
	if matcher == nil {
		matcher = DefaultMatcher{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Aggregator{matcher: matcher, entities: entities, logger: logger}
}

// Search scans items once and returns each facet truncated to q.Limit
// entries in the order they were first seen.
func (a *Aggregator) Search(ctx context.Context, items []*models.LibraryItem, q Query) (*Results, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, fmt.Errorf("%w: no search query", ErrBadRequest)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	var matches []ItemMatch
	series := NewOrderedMap[string, *SeriesMatch]()
	authors := NewOrderedMap[string, *AuthorMatch]()
	tags := NewOrderedMap[string, *TagMatch]()
	narrators := NewOrderedMap[string, *NarratorMatch]()
	// Ids that failed to resolve are looked up once per call.
	missingSeries := map[string]struct{}{}
	missingAuthors := map[string]struct{}{}

	for _, item := range items {
		result := a.matcher.Match(item, text)
		if result.MatchKey != "" {
			matches = append(matches, ItemMatch{LibraryItem: item, MatchKey: result.MatchKey, MatchText: result.MatchText})
		}

		for _, ref := range result.Series {
			if agg, ok := series.Get(ref.ID); ok {
				agg.Books = append(agg.Books, item)
				continue
			}
			if _, missing := missingSeries[ref.ID]; missing {
				continue
			}
			entity, err := a.resolveSeries(ctx, ref.ID)
			if err != nil || entity == nil {
				missingSeries[ref.ID] = struct{}{}
				continue
			}
			series.Set(ref.ID, &SeriesMatch{Series: entity, Books: []*models.LibraryItem{item}})
		}

		for _, ref := range result.Authors {
			if agg, ok := authors.Get(ref.ID); ok {
				agg.NumBooks++
				continue
			}
			if _, missing := missingAuthors[ref.ID]; missing {
				continue
			}
			entity, err := a.resolveAuthor(ctx, ref.ID)
			if err != nil || entity == nil {
				missingAuthors[ref.ID] = struct{}{}
				continue
			}
			authors.Set(ref.ID, &AuthorMatch{Author: entity, NumBooks: 1})
		}

		for _, tag := range result.Tags {
			if strings.TrimSpace(tag) == "" {
				a.malformed(item, "tag")
				continue
			}
			if agg, ok := tags.Get(tag); ok {
				agg.Books = append(agg.Books, item)
				continue
			}
			tags.Set(tag, &TagMatch{Name: tag, Books: []*models.LibraryItem{item}})
		}

		for _, narrator := range result.Narrators {
			if strings.TrimSpace(narrator) == "" {
				a.malformed(item, "narrator")
				continue
			}
			if agg, ok := narrators.Get(narrator); ok {
				agg.NumBooks++
				continue
			}
			narrators.Set(narrator, &NarratorMatch{Name: narrator, NumBooks: 1})
		}
	}

	if len(matches) > limit {
		matches = matches[:limit]
	}

	return &Results{
		MediaType: q.MediaType,
		Items:     matches,
		Tags:      tags.Values(limit),
		Authors:   authors.Values(limit),
		Series:    series.Values(limit),
		Narrators: narrators.Values(limit),
	}, nil
}

func (a *Aggregator) resolveSeries(ctx context.Context, id string) (*models.Series, error) {
	if a.entities == nil {
		return nil, store.ErrNotFound
	}
	entity, err := a.entities.SeriesByID(ctx, id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		a.logger.WithError(err).WithField("series_id", id).Warn("search: series lookup failed")
	}
	return entity, err
}

func (a *Aggregator) resolveAuthor(ctx context.Context, id string) (*models.Author, error) {
	if a.entities == nil {
		return nil, store.ErrNotFound
	}
	entity, err := a.entities.AuthorByID(ctx, id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		a.logger.WithError(err).WithField("author_id", id).Warn("search: author lookup failed")
	}
	return entity, err
}

func (a *Aggregator) malformed(item *models.LibraryItem, field string) {
	id := ""
	if item != nil {
		id = item.ID
	}
	a.logger.WithFields(logrus.Fields{
		"item_id": id,
		"field":   field,
	}).Warn("search: skipping malformed value")
}
