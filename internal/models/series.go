package models

import "time"

// Author is a canonical author entity.
type Author struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	AddedAt     time.Time `json:"addedAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Series is a canonical series entity.
type Series struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	AddedAt     time.Time `json:"addedAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// CollapsedSeries is a synthetic row standing in for every book of one series.
// Books are ordered by their sequence within the series.
type CollapsedSeries struct {
	ID                 string         `json:"id"`
	Name               string         `json:"name"`
	NameIgnorePrefix   string         `json:"nameIgnorePrefix"`
	Books              []*LibraryItem `json:"-"`
	TotalDuration      float64        `json:"totalDuration"`
	AddedAt            time.Time      `json:"addedAt"`
	LastBookAddedAt    time.Time      `json:"lastBookAddedAt"`
	LastBookUpdatedAt  time.Time      `json:"lastBookUpdatedAt"`
	SeriesSequenceList string         `json:"seriesSequenceList,omitempty"`
}

// NumBooks is the number of member books.
func (cs *CollapsedSeries) NumBooks() int {
	return len(cs.Books)
}

// LibraryItemIDs lists member ids in series order.
func (cs *CollapsedSeries) LibraryItemIDs() []string {
	ids := make([]string, 0, len(cs.Books))
	for _, b := range cs.Books {
		ids = append(ids, b.ID)
	}
	return ids
}

// Row is one entry of a query result. Collapsed is set when the row stands in
// for a whole series; Item is then the series' first book.
type Row struct {
	Item      *LibraryItem
	Collapsed *CollapsedSeries
}

// FeedRef describes a published RSS feed.
type FeedRef struct {
	ID       string `json:"id"`
	EntityID string `json:"entityId"`
	Slug     string `json:"slug"`
	FeedURL  string `json:"feedUrl"`
}

// Library is a configured library folder.
type Library struct {
	ID        string `json:"id" yaml:"id"`
	Name      string `json:"name" yaml:"name"`
	Path      string `json:"-" yaml:"path"`
	MediaType string `json:"mediaType" yaml:"mediaType"`
}
