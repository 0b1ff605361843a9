package models

import (
	"strings"
	"time"
)

// Media types understood by the library.
const (
	MediaTypeBook    = "book"
	MediaTypePodcast = "podcast"
)

// LibraryItem is a single book or podcast discovered in a library folder.
type LibraryItem struct {
	ID        string    `json:"id"`
	LibraryID string    `json:"libraryId"`
	MediaType string    `json:"mediaType"`
	Path      string    `json:"path"`
	RelPath   string    `json:"relPath"`
	Size      int64     `json:"size"`
	AddedAt   time.Time `json:"addedAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	IsMissing bool      `json:"isMissing"`
	IsInvalid bool      `json:"isInvalid"`
	Media     Media     `json:"media"`
}

// Media holds the playable content and its descriptive metadata.
type Media struct {
	Metadata   Metadata    `json:"metadata"`
	Duration   float64     `json:"duration"`
	NumTracks  int         `json:"numTracks"`
	AudioFiles []AudioFile `json:"audioFiles,omitempty"`
	Episodes   []Episode   `json:"episodes,omitempty"`
}

// AudioFile is one track of a book, in playback order.
type AudioFile struct {
	Filename     string  `json:"filename"`
	RelativePath string  `json:"relativePath"`
	Size         int64   `json:"size"`
	Duration     float64 `json:"duration"`
}

// Metadata describes a book or podcast.
type Metadata struct {
	Title             string      `json:"title"`
	TitleIgnorePrefix string      `json:"titleIgnorePrefix"`
	Subtitle          string      `json:"subtitle,omitempty"`
	Authors           []AuthorRef `json:"authors"`
	Narrators         []string    `json:"narrators"`
	Series            []SeriesRef `json:"series"`
	Tags              []string    `json:"tags"`
	Genres            []string    `json:"genres"`
	PublishedYear     string      `json:"publishedYear,omitempty"`
	ISBN              string      `json:"isbn,omitempty"`
	ASIN              string      `json:"asin,omitempty"`
	Description       string      `json:"description,omitempty"`
}

// AuthorRef links an item to a canonical author.
type AuthorRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SeriesRef links an item to a canonical series at a given position.
type SeriesRef struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Sequence string `json:"sequence"`
}

// Episode is a single audio file of a podcast item.
type Episode struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Filename        string    `json:"filename"`
	RelativePath    string    `json:"relativePath"`
	DurationSeconds *float64  `json:"durationSeconds,omitempty"`
	FilesizeBytes   int64     `json:"filesizeBytes"`
	PublishedAt     time.Time `json:"publishedAt"`
}

// HasIssues reports whether the item is flagged as missing or invalid.
func (li *LibraryItem) HasIssues() bool {
	return li.IsMissing || li.IsInvalid
}

// SeriesByID returns the item's membership in the given series.
func (m *Metadata) SeriesByID(id string) (SeriesRef, bool) {
	for _, s := range m.Series {
		if s.ID == id {
			return s, true
		}
	}
	return SeriesRef{}, false
}

// AuthorName joins author names the way they are displayed.
func (m *Metadata) AuthorName() string {
	names := make([]string, 0, len(m.Authors))
	for _, a := range m.Authors {
		names = append(names, a.Name)
	}
	return strings.Join(names, ", ")
}

// AuthorNameLF joins author names as "Last, First".
func (m *Metadata) AuthorNameLF() string {
	names := make([]string, 0, len(m.Authors))
	for _, a := range m.Authors {
		names = append(names, lastFirst(a.Name))
	}
	return strings.Join(names, ", ")
}

// NarratorName joins narrator names.
func (m *Metadata) NarratorName() string {
	return strings.Join(m.Narrators, ", ")
}

// SeriesName renders every series membership as "Name #sequence".
func (m *Metadata) SeriesName() string {
	names := make([]string, 0, len(m.Series))
	for _, s := range m.Series {
		names = append(names, SeriesSortTitle(s))
	}
	return strings.Join(names, ", ")
}

// SeriesSortTitle is the sort-friendly title of a series membership.
func SeriesSortTitle(s SeriesRef) string {
	if s.Sequence == "" {
		return s.Name
	}
	return s.Name + " #" + s.Sequence
}

func lastFirst(name string) string {
	name = strings.TrimSpace(name)
	idx := strings.LastIndex(name, " ")
	if idx <= 0 {
		return name
	}
	return name[idx+1:] + ", " + name[:idx]
}
