package server

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"home-library/internal/models"
	"home-library/internal/query"
	"home-library/internal/store"
)

var baseTime = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeLibrary struct {
	info  models.Library
	items []*models.LibraryItem
}

func (f *fakeLibrary) Info() models.Library { return f.info }

func (f *fakeLibrary) Snapshot() []*models.LibraryItem {
	return append([]*models.LibraryItem(nil), f.items...)
}

func (f *fakeLibrary) Item(id string) (*models.LibraryItem, bool) {
	for _, item := range f.items {
		if item.ID == id {
			return item, true
		}
	}
	return nil, false
}

// fakeAuth maps tokens to visible library ids; a nil list sees everything.
type fakeAuth map[string][]string

func (f fakeAuth) IsValidToken(token string) bool {
	_, ok := f[token]
	return ok
}

func (f fakeAuth) CanAccess(token, libraryID string) bool {
	libs, ok := f[token]
	if !ok {
		return false
	}
	if libs == nil {
		return true
	}
	for _, id := range libs {
		if id == libraryID {
			return true
		}
	}
	return false
}

type progressCall struct {
	user, item, episode string
	finished            bool
}

type fakeProgress struct {
	mu    sync.Mutex
	calls []progressCall
	err   error
}

func (f *fakeProgress) SetEpisodeFinished(_ context.Context, userID, itemID, episodeID string, finished bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, progressCall{userID, itemID, episodeID, finished})
	return f.err
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testBook(id, title, libraryID string, series ...models.SeriesRef) *models.LibraryItem {
	return &models.LibraryItem{
		ID:        id,
		LibraryID: libraryID,
		MediaType: models.MediaTypeBook,
		RelPath:   title,
		AddedAt:   baseTime,
		UpdatedAt: baseTime,
		Media: models.Media{
			Metadata: models.Metadata{
				Title:             title,
				TitleIgnorePrefix: title,
				Authors:           []models.AuthorRef{{ID: "a-herbert", Name: "Frank Herbert"}},
				Series:            series,
			},
			Duration:  120,
			NumTracks: 1,
			AudioFiles: []models.AudioFile{{
				Filename:     "01.mp3",
				RelativePath: title + "/01.mp3",
				Size:         1000,
				Duration:     120,
			}},
		},
	}
}

type fixture struct {
	handler  http.Handler
	progress *fakeProgress
	books    *fakeLibrary
}

func newFixture(t *testing.T, auth Authorizer) *fixture {
	t.Helper()

	books := &fakeLibrary{
		info: models.Library{ID: "books", Name: "Books", Path: t.TempDir(), MediaType: models.MediaTypeBook},
		items: []*models.LibraryItem{
			testBook("b-messiah", "Dune Messiah", "books", models.SeriesRef{ID: "s-dune", Name: "Dune", Sequence: "2"}),
			testBook("b-dune", "Dune", "books", models.SeriesRef{ID: "s-dune", Name: "Dune", Sequence: "1"}),
			testBook("b-walden", "Walden", "books"),
		},
	}
	kids := &fakeLibrary{
		info:  models.Library{ID: "kids", Name: "Kids", Path: t.TempDir(), MediaType: models.MediaTypeBook},
		items: []*models.LibraryItem{testBook("k-gruffalo", "The Gruffalo", "kids")},
	}
	pods := &fakeLibrary{
		info: models.Library{ID: "pods", Name: "Podcasts", Path: t.TempDir(), MediaType: models.MediaTypePodcast},
		items: []*models.LibraryItem{{
			ID:        "p-show",
			LibraryID: "pods",
			MediaType: models.MediaTypePodcast,
			Media: models.Media{
				Metadata: models.Metadata{Title: "The Show"},
				Episodes: []models.Episode{{ID: "ep-1", Title: "Pilot"}, {ID: "ep-2", Title: "Second"}},
			},
		}},
	}

	entities := store.NewMemory()
	for _, lib := range []*fakeLibrary{books, kids, pods} {
		if err := entities.Sync(context.Background(), lib.items); err != nil {
			t.Fatalf("sync: %v", err)
		}
	}

	logger := quietLogger()
	progress := &fakeProgress{}
	svc := query.NewService(query.Settings{}, entities, NewSeriesFeeds(entities), entities, logger)
	handler := New(Options{
		Libraries: []LibrarySource{books, kids, pods},
		Query:     svc,
		Auth:      auth,
		Progress:  progress,
		Entities:  entities,
		Feed:      FeedMetadata{Title: "Test Library", Author: "Test Author"},
		Logger:    logger,
	})
	return &fixture{handler: handler, progress: progress, books: books}
}

func (f *fixture) do(t *testing.T, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	req.Host = "library.example"
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("unmarshal %q: %v", rec.Body.String(), err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t, fakeAuth{"secret": nil})

	rec := f.do(t, http.MethodGet, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 OK without a token, got %d", rec.Code)
	}
	var body map[string]string
	decodeJSON(t, rec, &body)
	if body["status"] != "ok" {
		t.Fatalf("unexpected status payload: %v", body)
	}

	if rec := f.do(t, http.MethodPost, "/health"); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestLibrariesEndpointRequiresToken(t *testing.T) {
	f := newFixture(t, fakeAuth{"secret": nil, "child": {"kids"}})

	if rec := f.do(t, http.MethodGet, "/api/libraries"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/api/libraries?token=wrong"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown token, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/libraries", nil)
	req.Header.Set("Authorization", "Bearer child")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with bearer token, got %d", rec.Code)
	}

	var body struct {
		Libraries []struct {
			ID       string `json:"id"`
			NumItems int    `json:"numItems"`
		} `json:"libraries"`
	}
	decodeJSON(t, rec, &body)
	if len(body.Libraries) != 1 || body.Libraries[0].ID != "kids" || body.Libraries[0].NumItems != 1 {
		t.Fatalf("scoped token should only see kids: %+v", body.Libraries)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/libraries", nil)
	req.Header.Set("X-Library-Token", "secret")
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	decodeJSON(t, rec, &body)
	if len(body.Libraries) != 3 {
		t.Fatalf("unscoped token should see every library, got %+v", body.Libraries)
	}
}

func TestItemsEndpointScoping(t *testing.T) {
	f := newFixture(t, fakeAuth{"child": {"kids"}})

	if rec := f.do(t, http.MethodGet, "/api/libraries/books/items?token=child"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for library outside the token scope, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/api/libraries/nope/items?token=child"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown library, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/api/libraries/kids/items?token=child"); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 inside scope, got %d", rec.Code)
	}
}

func TestItemsEndpointCollapsesSeries(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/api/libraries/books/items?collapseseries=true&sort=media.metadata.title&include=rssfeed&minified=1")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var page struct {
		Total          int  `json:"total"`
		CollapseSeries bool `json:"collapseseries"`
		Results        []struct {
			ID              string `json:"id"`
			CollapsedSeries *struct {
				ID             string   `json:"id"`
				NumBooks       int      `json:"numBooks"`
				LibraryItemIDs []string `json:"libraryItemIds"`
			} `json:"collapsedSeries"`
			RSSFeed *struct {
				FeedURL string `json:"feedUrl"`
				Slug    string `json:"slug"`
			} `json:"rssFeed"`
		} `json:"results"`
	}
	decodeJSON(t, rec, &page)

	if page.Total != 2 || !page.CollapseSeries || len(page.Results) != 2 {
		t.Fatalf("unexpected page %+v", page)
	}
	first := page.Results[0]
	if first.CollapsedSeries == nil || first.CollapsedSeries.ID != "s-dune" || first.CollapsedSeries.NumBooks != 2 {
		t.Fatalf("expected the Dune series first, got %+v", first)
	}
	if got := strings.Join(first.CollapsedSeries.LibraryItemIDs, ","); got != "b-dune,b-messiah" {
		t.Fatalf("members should be in sequence order, got %s", got)
	}
	if first.RSSFeed == nil || first.RSSFeed.FeedURL != "http://library.example/feed/series/s-dune" || first.RSSFeed.Slug != "dune" {
		t.Fatalf("unexpected feed overlay %+v", first.RSSFeed)
	}
	if page.Results[1].ID != "b-walden" || page.Results[1].RSSFeed != nil {
		t.Fatalf("plain books carry no feed: %+v", page.Results[1])
	}
}

func TestItemsEndpointRejectsBadParams(t *testing.T) {
	f := newFixture(t, nil)

	if rec := f.do(t, http.MethodGet, "/api/libraries/books/items?filter=series.!!!"); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed filter, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/api/libraries/books/items?limit=ten"); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-numeric limit, got %d", rec.Code)
	}
}

func TestSeriesEndpoint(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/api/libraries/books/series")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var page struct {
		Total   int    `json:"total"`
		SortBy  string `json:"sortBy"`
		Results []struct {
			ID       string `json:"id"`
			NumBooks int    `json:"numBooks"`
		} `json:"results"`
	}
	decodeJSON(t, rec, &page)
	if page.Total != 1 || page.SortBy != "name" || page.Results[0].ID != "s-dune" || page.Results[0].NumBooks != 2 {
		t.Fatalf("unexpected series page %+v", page)
	}
}

func TestSearchEndpoint(t *testing.T) {
	f := newFixture(t, nil)

	if rec := f.do(t, http.MethodGet, "/api/libraries/books/search"); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty query, got %d", rec.Code)
	}

	rec := f.do(t, http.MethodGet, "/api/libraries/books/search?q=dune")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]json.RawMessage
	decodeJSON(t, rec, &body)
	for _, key := range []string{"book", "tags", "authors", "series", "narrators"} {
		if _, ok := body[key]; !ok {
			t.Fatalf("missing %q facet in %s", key, rec.Body.String())
		}
	}
	var series []struct {
		Series struct {
			ID string `json:"id"`
		} `json:"series"`
	}
	if err := json.Unmarshal(body["series"], &series); err != nil {
		t.Fatalf("unmarshal series: %v", err)
	}
	if len(series) != 1 || series[0].Series.ID != "s-dune" {
		t.Fatalf("expected Dune series match, got %s", body["series"])
	}
}

func TestItemEndpoint(t *testing.T) {
	f := newFixture(t, fakeAuth{"child": {"kids"}})

	if rec := f.do(t, http.MethodGet, "/api/items/k-gruffalo?token=child"); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/api/items/b-dune?token=child"); rec.Code != http.StatusNotFound {
		t.Fatalf("items outside the scope should be hidden, got %d", rec.Code)
	}
}

func TestEpisodeFinishedEndpoint(t *testing.T) {
	f := newFixture(t, fakeAuth{"alice": nil})

	if rec := f.do(t, http.MethodPut, "/api/items/p-show/episodes/ep-1/finished?token=alice"); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 on PUT, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodDelete, "/api/items/p-show/episodes/ep-1/finished?token=alice"); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 on DELETE, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPut, "/api/items/p-show/episodes/ep-9/finished?token=alice"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown episode, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/api/items/p-show/episodes/ep-1/finished?token=alice"); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET, got %d", rec.Code)
	}

	want := []progressCall{
		{"alice", "p-show", "ep-1", true},
		{"alice", "p-show", "ep-1", false},
	}
	if len(f.progress.calls) != len(want) {
		t.Fatalf("unexpected progress calls %+v", f.progress.calls)
	}
	for i := range want {
		if f.progress.calls[i] != want[i] {
			t.Fatalf("call %d = %+v, want %+v", i, f.progress.calls[i], want[i])
		}
	}

	f.progress.err = errors.New("disk full")
	if rec := f.do(t, http.MethodPut, "/api/items/p-show/episodes/ep-2/finished?token=alice"); rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 when the store fails, got %d", rec.Code)
	}
}

type rssPayload struct {
	Channel struct {
		Title string `xml:"title"`
		Items []struct {
			Title     string `xml:"title"`
			Enclosure struct {
				URL  string `xml:"url,attr"`
				Type string `xml:"type,attr"`
			} `xml:"enclosure"`
			ITunesDuration string `xml:"http://www.itunes.com/dtds/podcast-1.0.dtd duration"`
		} `xml:"item"`
	} `xml:"channel"`
}

func TestSeriesFeedProducesRSS(t *testing.T) {
	f := newFixture(t, fakeAuth{"secret": nil})

	if rec := f.do(t, http.MethodGet, "/feed/series/s-dune"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	rec := f.do(t, http.MethodGet, "/feed/series/s-dune?token=secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/rss+xml") {
		t.Fatalf("unexpected content type %q", ct)
	}

	var payload rssPayload
	if err := xml.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal rss: %v", err)
	}
	if payload.Channel.Title != "Dune" {
		t.Fatalf("unexpected channel title %q", payload.Channel.Title)
	}
	if len(payload.Channel.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(payload.Channel.Items))
	}
	if payload.Channel.Items[0].Title != "Dune" || payload.Channel.Items[1].Title != "Dune Messiah" {
		t.Fatalf("items should follow the series sequence: %+v", payload.Channel.Items)
	}

	item := payload.Channel.Items[0]
	if item.Enclosure.URL != "http://library.example/audio/books/Dune/01.mp3?token=secret" {
		t.Fatalf("unexpected enclosure URL %s", item.Enclosure.URL)
	}
	if item.Enclosure.Type != "audio/mpeg" {
		t.Fatalf("unexpected enclosure type %s", item.Enclosure.Type)
	}
	if item.ITunesDuration != "00:02:00" {
		t.Fatalf("unexpected itunes duration %q", item.ITunesDuration)
	}

	if rec := f.do(t, http.MethodGet, "/feed/series/s-unknown?token=secret"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown series, got %d", rec.Code)
	}
}

func TestSeriesFeedSplitsMultiFileBooks(t *testing.T) {
	f := newFixture(t, nil)
	f.books.items[0].Media.AudioFiles = append(f.books.items[0].Media.AudioFiles, models.AudioFile{
		Filename:     "02.m4b",
		RelativePath: "Dune Messiah/02.m4b",
		Size:         500,
	})

	rec := f.do(t, http.MethodGet, "/feed/series/s-dune")
	var payload rssPayload
	if err := xml.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal rss: %v", err)
	}
	if len(payload.Channel.Items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(payload.Channel.Items))
	}
	last := payload.Channel.Items[2]
	if last.Title != "Dune Messiah (Part 2 of 2)" || last.Enclosure.Type != "audio/mp4" {
		t.Fatalf("unexpected last item %+v", last)
	}
	if strings.Contains(last.Enclosure.URL, "token=") {
		t.Fatalf("no token should be added when auth is disabled: %s", last.Enclosure.URL)
	}
}

func TestAudioEndpointServesFile(t *testing.T) {
	f := newFixture(t, fakeAuth{"child": {"kids"}, "secret": nil})

	dir := filepath.Join(f.books.info.Path, "Dune")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "01.mp3"), []byte("audio-bytes"), 0o644); err != nil {
		t.Fatalf("write audio file: %v", err)
	}

	rec := f.do(t, http.MethodGet, "/audio/books/Dune/01.mp3?token=secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "audio-bytes" {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "audio/mpeg" {
		t.Fatalf("unexpected content type %q", ct)
	}

	if rec := f.do(t, http.MethodGet, "/audio/books/Dune/01.mp3"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/audio/books/Dune/01.mp3?token=child"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 outside the token scope, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/audio/books/Dune?token=secret"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for a directory, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/audio/books/missing.mp3?token=secret"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for a missing file, got %d", rec.Code)
	}
}

func TestAudioEndpointPreventsTraversal(t *testing.T) {
	f := newFixture(t, nil)

	secret := filepath.Join(filepath.Dir(f.books.info.Path), "secret.txt")
	if err := os.WriteFile(secret, []byte("top-secret"), 0o644); err != nil {
		t.Fatalf("write secret: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/audio/books/x", nil)
	req.URL.Path = "/audio/books/../../" + filepath.Base(secret)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code == http.StatusOK || strings.Contains(rec.Body.String(), "top-secret") {
		t.Fatalf("traversal must not serve files outside the library, got %d", rec.Code)
	}
}

func TestPathWithinRoot(t *testing.T) {
	root := filepath.Join(string(filepath.Separator), "media", "books")
	cases := []struct {
		target string
		want   bool
	}{
		{filepath.Join(root, "a.mp3"), true},
		{filepath.Join(root, "sub", "a.mp3"), true},
		{filepath.Join(root, "..", "pods", "a.mp3"), false},
		{filepath.Dir(root), false},
	}
	for _, tc := range cases {
		if got := pathWithinRoot(root, tc.target); got != tc.want {
			t.Fatalf("pathWithinRoot(%q) = %v, want %v", tc.target, got, tc.want)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, nil)

	f.do(t, http.MethodGet, "/api/libraries/books/items")

	rec := f.do(t, http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `home_library_http_requests_total{method="GET",route="/api/libraries/{id}/items",status="200"}`) {
		t.Fatalf("expected labelled request counter in metrics output")
	}
	if !strings.Contains(body, "home_library_pipeline_runs_total") {
		t.Fatalf("expected pipeline counter in metrics output")
	}
}

func TestExtractToken(t *testing.T) {
	cases := []struct {
		name   string
		target string
		header map[string]string
		want   string
	}{
		{"query", "/x?token=q", nil, "q"},
		{"header", "/x", map[string]string{"X-Library-Token": " h "}, "h"},
		{"bearer", "/x", map[string]string{"Authorization": "bearer b"}, "b"},
		{"basic ignored", "/x", map[string]string{"Authorization": "Basic abc"}, ""},
		{"query wins", "/x?token=q", map[string]string{"X-Library-Token": "h"}, "q"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, tc.target, nil)
		for k, v := range tc.header {
			req.Header.Set(k, v)
		}
		if got := extractToken(req); got != tc.want {
			t.Fatalf("%s: extractToken = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Dune":                   "dune",
		"The Wheel of Time":      "the-wheel-of-time",
		"  Mistborn: Era One!  ": "mistborn-era-one",
		"Ender's Game (Saga) #1": "ender-s-game-saga-1",
	}
	for in, want := range cases {
		if got := slugify(in); got != want {
			t.Fatalf("slugify(%q) = %q, want %q", in, got, want)
		}
	}
}
