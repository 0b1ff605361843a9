package store

import (
	"context"
	"sync"

	"home-library/internal/models"
)

// Memory is an in-process Store. It is safe for concurrent use.
type Memory struct {
	mu       sync.RWMutex
	authors  map[string]models.Author
	series   map[string]models.Series
	progress map[progressKey]struct{}
}

type progressKey struct {
	user    string
	item    string
	episode string
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		authors:  make(map[string]models.Author),
		series:   make(map[string]models.Series),
		progress: make(map[progressKey]struct{}),
	}
}

// AuthorByID returns a copy of the author or ErrNotFound.
func (m *Memory) AuthorByID(_ context.Context, id string) (*models.Author, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.authors[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

// SeriesByID returns a copy of the series or ErrNotFound.
func (m *Memory) SeriesByID(_ context.Context, id string) (*models.Series, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.series[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

// PutAuthor stores an author directly.
func (m *Memory) PutAuthor(a models.Author) {
	m.mu.Lock()
	m.authors[a.ID] = a
	m.mu.Unlock()
}

// PutSeries stores a series directly.
func (m *Memory) PutSeries(s models.Series) {
	m.mu.Lock()
	m.series[s.ID] = s
	m.mu.Unlock()
}

// Sync upserts every author and series referenced by items. Existing entries
// keep their AddedAt; renamed entries get the newer name.
func (m *Memory) Sync(_ context.Context, items []*models.LibraryItem) error {
	authors, series := collectEntities(items)

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range authors {
		if existing, ok := m.authors[a.ID]; ok {
			a.AddedAt = existing.AddedAt
			a.Description = existing.Description
			if existing.Name == a.Name {
				a.UpdatedAt = existing.UpdatedAt
			}
		}
		m.authors[a.ID] = a
	}
	for _, s := range series {
		if existing, ok := m.series[s.ID]; ok {
			s.AddedAt = existing.AddedAt
			s.Description = existing.Description
			if existing.Name == s.Name {
				s.UpdatedAt = existing.UpdatedAt
			}
		}
		m.series[s.ID] = s
	}
	return nil
}

// FinishedEpisodes returns the episode ids userID finished for itemID.
func (m *Memory) FinishedEpisodes(_ context.Context, userID, itemID string) (map[string]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	finished := make(map[string]bool)
	for key := range m.progress {
		if key.user == userID && key.item == itemID {
			finished[key.episode] = true
		}
	}
	return finished, nil
}

// SetEpisodeFinished marks or clears an episode as finished.
func (m *Memory) SetEpisodeFinished(_ context.Context, userID, itemID, episodeID string, finished bool) error {
	key := progressKey{user: userID, item: itemID, episode: episodeID}

	m.mu.Lock()
	defer m.mu.Unlock()
	if finished {
		m.progress[key] = struct{}{}
	} else {
		delete(m.progress, key)
	}
	return nil
}

// Close is a no-op.
func (m *Memory) Close() error {
	return nil
}
