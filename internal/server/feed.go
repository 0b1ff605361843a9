package server

import (
	"context"
	"encoding/xml"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	pathpkg "path"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/gorilla/mux"

	"home-library/internal/models"
	"home-library/internal/natural"
	"home-library/internal/search"
	"home-library/internal/sorting"
)

// SeriesFeeds publishes one RSS feed per known series. It satisfies the
// query package's FeedLookup; the feed URL is built from the request the
// lookup runs under.
type SeriesFeeds struct {
	entities search.EntityLookup
}

// NewSeriesFeeds builds a SeriesFeeds backed by the canonical series table.
func NewSeriesFeeds(entities search.EntityLookup) *SeriesFeeds {
	return &SeriesFeeds{entities: entities}
}

// FeedFor reports the feed of the series with the given id. Items and
// unknown ids have no feed.
func (f *SeriesFeeds) FeedFor(ctx context.Context, entityID string) (*models.FeedRef, bool) {
	if f == nil || f.entities == nil {
		return nil, false
	}
	series, err := f.entities.SeriesByID(ctx, entityID)
	if err != nil || series == nil {
		return nil, false
	}
	c := callerFrom(ctx)
	return &models.FeedRef{
		ID:       "series-" + entityID,
		EntityID: entityID,
		Slug:     slugify(series.Name),
		FeedURL:  feedURL(c.base, "/feed/series/"+url.PathEscape(entityID), c.token),
	}, true
}

// feedURL is absolute when base is known and carries the token as a query
// parameter.
func feedURL(base *url.URL, path, token string) string {
	u := url.URL{Path: path}
	if base != nil {
		u = *base
		u.Path = path
	}
	if token != "" {
		u.RawQuery = url.Values{"token": {token}}.Encode()
	}
	return u.String()
}

func slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

func (h *serverHandler) handleSeriesFeed(w http.ResponseWriter, r *http.Request) {
	seriesID := mux.Vars(r)["id"]
	c := callerFrom(r.Context())
	if c.base == nil {
		h.logger.Warn("unable to determine request base URL")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	var rows []models.Row
	name := ""
	for _, lib := range h.visible(r.Context()) {
		for _, item := range lib.Snapshot() {
			if item.IsMissing {
				continue
			}
			if ref, ok := item.Media.Metadata.SeriesByID(seriesID); ok {
				rows = append(rows, models.Row{Item: item})
				if name == "" {
					name = ref.Name
				}
			}
		}
	}
	if len(rows) == 0 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if h.entities != nil {
		if series, err := h.entities.SeriesByID(r.Context(), seriesID); err == nil && series != nil {
			name = series.Name
		}
	}

	settings := h.query.Settings()
	sorting.Sort(rows, sorting.Plan(sorting.Request{
		FilterSeriesID: seriesID,
		IgnorePrefix:   settings.IgnorePrefix,
	}), natural.New(settings.Locale))

	books := make([]*models.LibraryItem, len(rows))
	for i, row := range rows {
		books[i] = row.Item
	}

	data, err := h.buildRSSFeed(c.base, r.URL.Path, r.URL.RawQuery, seriesID, name, books, c.token)
	if err != nil {
		h.logger.WithError(err).Error("failed to build RSS feed")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	if _, err := w.Write(data); err != nil {
		h.logger.WithError(err).Warn("failed to write RSS feed")
	}
}

// buildRSSFeed renders the books of one series, already in reading order,
// as a podcast feed with one entry per audio file.
func (h *serverHandler) buildRSSFeed(base *url.URL, requestPath, rawQuery, seriesID, name string, books []*models.LibraryItem, token string) ([]byte, error) {
	self := *base
	self.Path = requestPath
	self.RawQuery = rawQuery

	channelLink := *base
	channelLink.Path = ""
	channelLink.RawQuery = ""

	lastBuild := time.Time{}
	for _, book := range books {
		if book.UpdatedAt.After(lastBuild) {
			lastBuild = book.UpdatedAt.UTC()
		}
	}
	if lastBuild.IsZero() {
		lastBuild = time.Now().UTC()
	}

	description := h.feed.Description
	if description == "" {
		description = fmt.Sprintf("%s (%d books)", name, len(books))
	}

	rss := rssFeed{
		Version:  "2.0",
		AtomNS:   "http://www.w3.org/2005/Atom",
		ITunesNS: "http://www.itunes.com/dtds/podcast-1.0.dtd",
		Channel: rssChannel{
			Title:         name,
			Link:          channelLink.String(),
			Description:   description,
			Language:      h.feed.Language,
			LastBuildDate: lastBuild.Format(time.RFC1123Z),
			Generator:     h.feed.Title,
			AtomLink: rssAtomLink{
				Href: self.String(),
				Rel:  "self",
				Type: "application/rss+xml",
			},
			ITunesAuthor: firstAuthor(books, h.feed.Author),
		},
	}

	episode := 0
	for _, book := range books {
		meta := book.Media.Metadata
		author := meta.AuthorName()
		if author == "" {
			author = h.feed.Author
		}
		files := book.Media.AudioFiles
		for i, file := range files {
			episode++
			title := meta.Title
			if len(files) > 1 {
				title = fmt.Sprintf("%s (Part %d of %d)", meta.Title, i+1, len(files))
			}

			enclosureURL := *base
			enclosureURL.Path = "/" + pathpkg.Join("audio", book.LibraryID, file.RelativePath)
			enclosureURL.RawQuery = ""
			if token != "" {
				enclosureURL.RawQuery = url.Values{"token": {token}}.Encode()
			}

			item := rssItem{
				Title:         title,
				Link:          enclosureURL.String(),
				GUID:          rssGUID{IsPermaLink: "false", Value: book.ID + "/" + file.RelativePath},
				Description:   bookDescription(book, file),
				ITunesAuthor:  author,
				ITunesEpisode: episode,
				Enclosure: rssEnclosure{
					URL:    enclosureURL.String(),
					Length: file.Size,
					Type:   mimeTypeForFilename(file.Filename),
				},
				ITunesDuration: formatDuration(file.Duration),
			}
			if !book.AddedAt.IsZero() {
				item.PubDate = book.AddedAt.UTC().Format(time.RFC1123Z)
			}
			rss.Channel.Items = append(rss.Channel.Items, item)
		}
	}

	output, err := xml.MarshalIndent(rss, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal feed for series %s: %w", seriesID, err)
	}
	return append([]byte(xml.Header), output...), nil
}

func firstAuthor(books []*models.LibraryItem, fallback string) string {
	for _, book := range books {
		if name := book.Media.Metadata.AuthorName(); name != "" {
			return name
		}
	}
	return fallback
}

func bookDescription(book *models.LibraryItem, file models.AudioFile) string {
	meta := book.Media.Metadata
	if meta.Description != "" {
		return meta.Description
	}
	parts := make([]string, 0, 3)
	if author := meta.AuthorName(); author != "" {
		parts = append(parts, author)
	}
	if series := meta.SeriesName(); series != "" {
		parts = append(parts, series)
	}
	parts = append(parts, file.Filename)
	return strings.Join(parts, " - ")
}

func mimeTypeForFilename(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext != "" {
		if fallback, ok := audioMIMETypes[ext]; ok {
			return fallback
		}
		if value := mime.TypeByExtension(ext); value != "" {
			return value
		}
	}
	return "application/octet-stream"
}

// Audio types that take precedence over the system mime table.
var audioMIMETypes = map[string]string{
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".m4b":  "audio/mp4",
	".aac":  "audio/aac",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
	".opus": "audio/ogg",
}

func formatDuration(seconds float64) string {
	if seconds <= 0 {
		return ""
	}
	total := int64(seconds + 0.5)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}

type rssFeed struct {
	XMLName  xml.Name   `xml:"rss"`
	Version  string     `xml:"version,attr"`
	AtomNS   string     `xml:"xmlns:atom,attr"`
	ITunesNS string     `xml:"xmlns:itunes,attr"`
	Channel  rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title         string      `xml:"title"`
	Link          string      `xml:"link"`
	Description   string      `xml:"description"`
	Language      string      `xml:"language,omitempty"`
	LastBuildDate string      `xml:"lastBuildDate"`
	Generator     string      `xml:"generator"`
	AtomLink      rssAtomLink `xml:"atom:link"`
	ITunesAuthor  string      `xml:"itunes:author,omitempty"`
	Items         []rssItem   `xml:"item"`
}

type rssAtomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
	Type string `xml:"type,attr"`
}

type rssItem struct {
	Title          string       `xml:"title"`
	Link           string       `xml:"link"`
	GUID           rssGUID      `xml:"guid"`
	PubDate        string       `xml:"pubDate,omitempty"`
	Description    string       `xml:"description"`
	Enclosure      rssEnclosure `xml:"enclosure"`
	ITunesDuration string       `xml:"itunes:duration,omitempty"`
	ITunesAuthor   string       `xml:"itunes:author,omitempty"`
	ITunesEpisode  int          `xml:"itunes:episode,omitempty"`
}

type rssGUID struct {
	IsPermaLink string `xml:"isPermaLink,attr"`
	Value       string `xml:",chardata"`
}

type rssEnclosure struct {
	URL    string `xml:"url,attr"`
	Length int64  `xml:"length,attr"`
	Type   string `xml:"type,attr"`
}
