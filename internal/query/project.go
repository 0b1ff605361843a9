package query

import (
	"context"

	"github.com/sirupsen/logrus"

	"home-library/internal/models"
)

// FeedLookup reports the published feed for an entity, if any.
type FeedLookup interface {
	FeedFor(ctx context.Context, entityID string) (*models.FeedRef, bool)
}

// ProgressLookup reports which podcast episodes a user has finished.
type ProgressLookup interface {
	FinishedEpisodes(ctx context.Context, userID, itemID string) (map[string]bool, error)
}

// CollapsedView is the JSON shape of a collapsed-series row.
type CollapsedView struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	NameIgnorePrefix   string   `json:"nameIgnorePrefix"`
	NumBooks           int      `json:"numBooks"`
	LibraryItemIDs     []string `json:"libraryItemIds"`
	SeriesSequenceList string   `json:"seriesSequenceList,omitempty"`
}

// Overlay carries the optional fields added to a projected row.
type Overlay struct {
	CollapsedSeries       *CollapsedView  `json:"collapsedSeries,omitempty"`
	RSSFeed               *models.FeedRef `json:"rssFeed,omitempty"`
	NumEpisodesIncomplete *int            `json:"numEpisodesIncomplete,omitempty"`
	SeriesSequence        *string         `json:"seriesSequence,omitempty"`
}

// MinifiedItem is the compact projection of a library item.
type MinifiedItem struct {
	ID        string        `json:"id"`
	LibraryID string        `json:"libraryId"`
	MediaType string        `json:"mediaType"`
	RelPath   string        `json:"relPath"`
	Size      int64         `json:"size"`
	AddedAt   int64         `json:"addedAt"`
	UpdatedAt int64         `json:"updatedAt"`
	IsMissing bool          `json:"isMissing"`
	IsInvalid bool          `json:"isInvalid"`
	Media     MinifiedMedia `json:"media"`
	Overlay
}

// MinifiedMedia is the compact projection of an item's media.
type MinifiedMedia struct {
	Metadata    MinifiedMetadata `json:"metadata"`
	Tags        []string         `json:"tags"`
	Duration    float64          `json:"duration"`
	NumTracks   int              `json:"numTracks"`
	NumEpisodes int              `json:"numEpisodes,omitempty"`
}

// MinifiedMetadata flattens people and series into display strings.
type MinifiedMetadata struct {
	Title             string   `json:"title"`
	TitleIgnorePrefix string   `json:"titleIgnorePrefix"`
	Subtitle          string   `json:"subtitle,omitempty"`
	AuthorName        string   `json:"authorName"`
	AuthorNameLF      string   `json:"authorNameLF"`
	NarratorName      string   `json:"narratorName"`
	SeriesName        string   `json:"seriesName"`
	Genres            []string `json:"genres"`
	PublishedYear     string   `json:"publishedYear,omitempty"`
}

// ExpandedItem is the full projection of a library item.
type ExpandedItem struct {
	*models.LibraryItem
	Overlay
}

// SeriesSummary is one row of a series listing.
type SeriesSummary struct {
	ID                 string          `json:"id"`
	Name               string          `json:"name"`
	NameIgnorePrefix   string          `json:"nameIgnorePrefix"`
	AddedAt            int64           `json:"addedAt"`
	NumBooks           int             `json:"numBooks"`
	TotalDuration      float64         `json:"totalDuration"`
	Books              []any           `json:"books"`
	SeriesSequenceList string          `json:"seriesSequenceList,omitempty"`
	RSSFeed            *models.FeedRef `json:"rssFeed,omitempty"`
}

// Projector shapes rows for output.
type Projector struct {
	Minified       bool
	Include        Include
	FilterSeriesID string
	UserID         string

	feeds    FeedLookup
	progress ProgressLookup
	logger   *logrus.Logger
}

// Row projects a single row, computing only the overlays that were included.
func (p *Projector) Row(ctx context.Context, row models.Row) any {
	var overlay Overlay

	if row.Collapsed != nil {
		overlay.CollapsedSeries = &CollapsedView{
			ID:                 row.Collapsed.ID,
			Name:               row.Collapsed.Name,
			NameIgnorePrefix:   row.Collapsed.NameIgnorePrefix,
			NumBooks:           row.Collapsed.NumBooks(),
			LibraryItemIDs:     row.Collapsed.LibraryItemIDs(),
			SeriesSequenceList: row.Collapsed.SeriesSequenceList,
		}
	}

	if p.Include.Has(IncludeRSSFeed) && p.feeds != nil {
		entityID := row.Item.ID
		if row.Collapsed != nil {
			entityID = row.Collapsed.ID
		}
		if feed, ok := p.feeds.FeedFor(ctx, entityID); ok {
			overlay.RSSFeed = feed
		}
	}

	if p.Include.Has(IncludeNumEpisodesIncomplete) && row.Item.MediaType == models.MediaTypePodcast {
		overlay.NumEpisodesIncomplete = p.incomplete(ctx, row.Item)
	}

	if p.FilterSeriesID != "" && row.Collapsed == nil {
		if ref, ok := row.Item.Media.Metadata.SeriesByID(p.FilterSeriesID); ok {
			seq := ref.Sequence
			overlay.SeriesSequence = &seq
		}
	}

	if p.Minified {
		m := minify(row.Item)
		m.Overlay = overlay
		return m
	}
	return ExpandedItem{LibraryItem: row.Item, Overlay: overlay}
}

// Summary projects a collapsed series for a series listing.
func (p *Projector) Summary(ctx context.Context, cs *models.CollapsedSeries) SeriesSummary {
	summary := SeriesSummary{
		ID:                 cs.ID,
		Name:               cs.Name,
		NameIgnorePrefix:   cs.NameIgnorePrefix,
		AddedAt:            millis(cs.AddedAt),
		NumBooks:           cs.NumBooks(),
		TotalDuration:      cs.TotalDuration,
		SeriesSequenceList: cs.SeriesSequenceList,
		Books:              make([]any, 0, len(cs.Books)),
	}
	for _, b := range cs.Books {
		summary.Books = append(summary.Books, p.Row(ctx, models.Row{Item: b}))
	}
	if p.Include.Has(IncludeRSSFeed) && p.feeds != nil {
		if feed, ok := p.feeds.FeedFor(ctx, cs.ID); ok {
			summary.RSSFeed = feed
		}
	}
	return summary
}

func (p *Projector) incomplete(ctx context.Context, item *models.LibraryItem) *int {
	finished := map[string]bool{}
	if p.progress != nil {
		var err error
		finished, err = p.progress.FinishedEpisodes(ctx, p.UserID, item.ID)
		if err != nil {
			p.logger.WithError(err).WithField("item_id", item.ID).Warn("progress lookup failed")
			return nil
		}
	}
	count := 0
	for _, ep := range item.Media.Episodes {
		if !finished[ep.ID] {
			count++
		}
	}
	return &count
}

func minify(item *models.LibraryItem) MinifiedItem {
	meta := &item.Media.Metadata
	return MinifiedItem{
		ID:        item.ID,
		LibraryID: item.LibraryID,
		MediaType: item.MediaType,
		RelPath:   item.RelPath,
		Size:      item.Size,
		AddedAt:   millis(item.AddedAt),
		UpdatedAt: millis(item.UpdatedAt),
		IsMissing: item.IsMissing,
		IsInvalid: item.IsInvalid,
		Media: MinifiedMedia{
			Metadata: MinifiedMetadata{
				Title:             meta.Title,
				TitleIgnorePrefix: meta.TitleIgnorePrefix,
				Subtitle:          meta.Subtitle,
				AuthorName:        meta.AuthorName(),
				AuthorNameLF:      meta.AuthorNameLF(),
				NarratorName:      meta.NarratorName(),
				SeriesName:        meta.SeriesName(),
				Genres:            nonNilStrings(meta.Genres),
				PublishedYear:     meta.PublishedYear,
			},
			Tags:        nonNilStrings(meta.Tags),
			Duration:    item.Media.Duration,
			NumTracks:   item.Media.NumTracks,
			NumEpisodes: len(item.Media.Episodes),
		},
	}
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
