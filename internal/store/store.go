// Package store keeps the canonical author and series tables and per-user
// episode progress. Memory and SQLite implement the same methods.
package store

import (
	"context"
	"errors"
	"sort"

	"home-library/internal/models"
)

// ErrNotFound is returned when an entity id is not present.
var ErrNotFound = errors.New("not found")

// Store is the full set of operations both backends provide.
type Store interface {
	AuthorByID(ctx context.Context, id string) (*models.Author, error)
	SeriesByID(ctx context.Context, id string) (*models.Series, error)
	Sync(ctx context.Context, items []*models.LibraryItem) error
	FinishedEpisodes(ctx context.Context, userID, itemID string) (map[string]bool, error)
	SetEpisodeFinished(ctx context.Context, userID, itemID, episodeID string, finished bool) error
	Close() error
}

// collectEntities derives the authors and series referenced by items. An
// entity's AddedAt is the earliest AddedAt of any item referencing it; results
// are ordered by id so repeated syncs write in a stable order.
func collectEntities(items []*models.LibraryItem) ([]models.Author, []models.Series) {
	authors := make(map[string]*models.Author)
	series := make(map[string]*models.Series)

	for _, item := range items {
		if item == nil {
			continue
		}
		meta := item.Media.Metadata
		for _, ref := range meta.Authors {
			if ref.ID == "" {
				continue
			}
			a, ok := authors[ref.ID]
			if !ok {
				authors[ref.ID] = &models.Author{ID: ref.ID, Name: ref.Name, AddedAt: item.AddedAt, UpdatedAt: item.UpdatedAt}
				continue
			}
			if item.AddedAt.Before(a.AddedAt) {
				a.AddedAt = item.AddedAt
			}
			if item.UpdatedAt.After(a.UpdatedAt) {
				a.UpdatedAt = item.UpdatedAt
			}
		}
		for _, ref := range meta.Series {
			if ref.ID == "" {
				continue
			}
			s, ok := series[ref.ID]
			if !ok {
				series[ref.ID] = &models.Series{ID: ref.ID, Name: ref.Name, AddedAt: item.AddedAt, UpdatedAt: item.UpdatedAt}
				continue
			}
			if item.AddedAt.Before(s.AddedAt) {
				s.AddedAt = item.AddedAt
			}
			if item.UpdatedAt.After(s.UpdatedAt) {
				s.UpdatedAt = item.UpdatedAt
			}
		}
	}

	outAuthors := make([]models.Author, 0, len(authors))
	for _, a := range authors {
		outAuthors = append(outAuthors, *a)
	}
	sort.Slice(outAuthors, func(i, j int) bool { return outAuthors[i].ID < outAuthors[j].ID })

	outSeries := make([]models.Series, 0, len(series))
	for _, s := range series {
		outSeries = append(outSeries, *s)
	}
	sort.Slice(outSeries, func(i, j int) bool { return outSeries[i].ID < outSeries[j].ID })

	return outAuthors, outSeries
}
