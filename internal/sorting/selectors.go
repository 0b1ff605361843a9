package sorting

import (
	"strconv"
	"time"

	"home-library/internal/models"
	"home-library/internal/natural"
	"home-library/internal/sequence"
)

// Selector names a supported sort key.
type Selector string

// Item selectors.
const (
	Title             Selector = "media.metadata.title"
	TitleIgnorePrefix Selector = "media.metadata.titleIgnorePrefix"
	AuthorName        Selector = "media.metadata.authorName"
	AuthorNameLF      Selector = "media.metadata.authorNameLF"
	NarratorName      Selector = "media.metadata.narratorName"
	SeriesName        Selector = "media.metadata.seriesName"
	PublishedYear     Selector = "media.metadata.publishedYear"
	Duration          Selector = "media.duration"
	NumTracks         Selector = "media.numTracks"
	Size              Selector = "size"
	AddedAt           Selector = "addedAt"
	UpdatedAt         Selector = "updatedAt"
	Sequence          Selector = "sequence"
)

// Collapsed-series summary selectors.
const (
	Name            Selector = "name"
	NumBooks        Selector = "numBooks"
	TotalDuration   Selector = "totalDuration"
	LastBookUpdated Selector = "lastBookUpdated"
	LastBookAdded   Selector = "lastBookAdded"
)

// KeyFunc extracts a sort key from a row.
type KeyFunc func(models.Row) natural.Value

var itemKeys = map[Selector]KeyFunc{
	Title:             func(r models.Row) natural.Value { return natural.Str(meta(r).Title) },
	TitleIgnorePrefix: func(r models.Row) natural.Value { return natural.Str(meta(r).TitleIgnorePrefix) },
	AuthorName:        func(r models.Row) natural.Value { return natural.Str(meta(r).AuthorName()) },
	AuthorNameLF:      func(r models.Row) natural.Value { return natural.Str(meta(r).AuthorNameLF()) },
	NarratorName:      func(r models.Row) natural.Value { return natural.Str(meta(r).NarratorName()) },
	SeriesName:        func(r models.Row) natural.Value { return natural.Str(meta(r).SeriesName()) },
	PublishedYear:     func(r models.Row) natural.Value { return natural.Str(meta(r).PublishedYear) },
	Duration: func(r models.Row) natural.Value {
		if r.Item == nil {
			return natural.Empty
		}
		return natural.Num(r.Item.Media.Duration)
	},
	NumTracks: func(r models.Row) natural.Value {
		if r.Item == nil {
			return natural.Empty
		}
		return natural.Num(float64(r.Item.Media.NumTracks))
	},
	Size: func(r models.Row) natural.Value {
		if r.Item == nil {
			return natural.Empty
		}
		return natural.Num(float64(r.Item.Size))
	},
	AddedAt: func(r models.Row) natural.Value {
		if r.Item == nil {
			return natural.Empty
		}
		return timeKey(r.Item.AddedAt)
	},
	UpdatedAt: func(r models.Row) natural.Value {
		if r.Item == nil {
			return natural.Empty
		}
		return timeKey(r.Item.UpdatedAt)
	},
	// Without a series filter an item has no single position to sort by.
	Sequence: func(models.Row) natural.Value { return natural.Empty },
}

var summaryKeys = map[Selector]KeyFunc{
	NumBooks: func(r models.Row) natural.Value {
		if r.Collapsed == nil {
			return natural.Empty
		}
		return natural.Num(float64(r.Collapsed.NumBooks()))
	},
	TotalDuration: func(r models.Row) natural.Value {
		if r.Collapsed == nil {
			return natural.Empty
		}
		return natural.Num(r.Collapsed.TotalDuration)
	},
	AddedAt: func(r models.Row) natural.Value {
		if r.Collapsed == nil {
			return natural.Empty
		}
		return timeKey(r.Collapsed.AddedAt)
	},
	LastBookUpdated: func(r models.Row) natural.Value {
		if r.Collapsed == nil {
			return natural.Empty
		}
		return timeKey(r.Collapsed.LastBookUpdatedAt)
	},
	LastBookAdded: func(r models.Row) natural.Value {
		if r.Collapsed == nil {
			return natural.Empty
		}
		return timeKey(r.Collapsed.LastBookAddedAt)
	},
}

// Known reports whether selector is supported for the given row kind.
func Known(selector string, summaries bool) bool {
	s := Selector(selector)
	if summaries {
		_, ok := summaryKeys[s]
		return ok || s == Name
	}
	_, ok := itemKeys[s]
	return ok
}

func lookup(s Selector, summaries bool, ignorePrefix bool) KeyFunc {
	if summaries {
		if s == Name {
			return collapsedName(ignorePrefix)
		}
		if fn, ok := summaryKeys[s]; ok {
			return fn
		}
		return emptyKey
	}
	if fn, ok := itemKeys[s]; ok {
		return fn
	}
	return emptyKey
}

func emptyKey(models.Row) natural.Value {
	return natural.Empty
}

func meta(r models.Row) *models.Metadata {
	if r.Item == nil {
		return &models.Metadata{}
	}
	return &r.Item.Media.Metadata
}

func timeKey(t time.Time) natural.Value {
	if t.IsZero() {
		return natural.Empty
	}
	return natural.Num(float64(t.UnixMilli()))
}

// sequenceIn returns the row's position within a series. Plain decimal
// positions compare as numbers; anything else compares as text.
func sequenceIn(seriesID string) KeyFunc {
	return func(r models.Row) natural.Value {
		if r.Item == nil {
			return natural.Empty
		}
		ref, ok := r.Item.Media.Metadata.SeriesByID(seriesID)
		if !ok || ref.Sequence == "" {
			return natural.Empty
		}
		if sequence.IsNumeric(ref.Sequence) {
			if v, err := strconv.ParseFloat(ref.Sequence, 64); err == nil {
				return natural.Num(v)
			}
		}
		return natural.Str(ref.Sequence)
	}
}

func collapsedName(ignorePrefix bool) KeyFunc {
	return func(r models.Row) natural.Value {
		if r.Collapsed == nil {
			return natural.Empty
		}
		if ignorePrefix {
			return natural.Str(r.Collapsed.NameIgnorePrefix)
		}
		return natural.Str(r.Collapsed.Name)
	}
}

// collapsedNameOrTitle prefers the collapsed series name and falls back to the
// item's own title.
func collapsedNameOrTitle(ignorePrefix bool) KeyFunc {
	return func(r models.Row) natural.Value {
		if r.Collapsed != nil {
			return collapsedName(ignorePrefix)(r)
		}
		if ignorePrefix {
			return natural.Str(meta(r).TitleIgnorePrefix)
		}
		return natural.Str(meta(r).Title)
	}
}

func primarySeriesTitle(r models.Row) natural.Value {
	m := meta(r)
	if len(m.Series) == 0 {
		return natural.Empty
	}
	return natural.Str(models.SeriesSortTitle(m.Series[0]))
}
