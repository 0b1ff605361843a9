// Package query runs the list, series and search pipelines over a snapshot
// of library items: filter, collapse, sort, paginate and project.
package query

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"home-library/internal/metrics"
	"home-library/internal/models"
	"home-library/internal/natural"
	"home-library/internal/search"
	"home-library/internal/sorting"
)

// Settings are the library-wide options that shape every query.
type Settings struct {
	IgnorePrefix bool
	Prefixes     []string
	Locale       string
	SearchLimit  int
}

// Page is the envelope returned by list operations.
type Page struct {
	Results        []any  `json:"results"`
	Total          int    `json:"total"`
	Limit          int    `json:"limit"`
	Page           int    `json:"page"`
	SortBy         string `json:"sortBy,omitempty"`
	SortDesc       bool   `json:"sortDesc"`
	FilterBy       string `json:"filterBy,omitempty"`
	MediaType      string `json:"mediaType"`
	Minified       bool   `json:"minified"`
	CollapseSeries bool   `json:"collapseseries"`
	Include        string `json:"include,omitempty"`
}

// Service runs query pipelines. It holds no per-request state and is safe
// for concurrent use as long as its collaborators are.
type Service struct {
	settings Settings
	entities search.EntityLookup
	feeds    FeedLookup
	progress ProgressLookup
	logger   *logrus.Logger
}

// NewService builds a Service. Any collaborator may be nil.
func NewService(settings Settings, entities search.EntityLookup, feeds FeedLookup, progress ProgressLookup, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if settings.Prefixes == nil {
		settings.Prefixes = natural.DefaultPrefixes
	}
	if settings.Locale == "" {
		settings.Locale = "en"
	}
	return &Service{
		settings: settings,
		entities: entities,
		feeds:    feeds,
		progress: progress,
		logger:   logger,
	}
}

// Settings returns the options the service was built with.
func (s *Service) Settings() Settings {
	return s.settings
}

// ListItems filters, optionally collapses, sorts, paginates and projects the
// items of one library.
func (s *Service) ListItems(ctx context.Context, lib models.Library, items []*models.LibraryItem, req ListRequest) (page *Page, err error) {
	start := time.Now()
	total := 0
	defer func() { metrics.ObservePipeline("list", start, total, err) }()

	filter, err := ParseFilter(req.Filter)
	if err != nil {
		return nil, err
	}
	filtered := filter.Apply(items)
	cmp := natural.New(s.settings.Locale)
	seriesID := filter.SeriesID()

	var rows []models.Row
	collapse := req.CollapseSeries && lib.MediaType == models.MediaTypeBook && seriesID == ""
	if collapse {
		groups := groupSeries(ctx, filtered, s.settings.Prefixes, s.entities, cmp)
		if filter.Active() {
			for _, cs := range groups {
				cs.SeriesSequenceList = sequenceList(cs)
			}
		}
		rows = collapseRows(filtered, groups)
	} else {
		rows = make([]models.Row, len(filtered))
		for i, item := range filtered {
			rows[i] = models.Row{Item: item}
		}
	}

	s.checkSelector(req.Sort, false)
	criteria := sorting.Plan(sorting.Request{
		SortBy:         req.Sort,
		Desc:           req.Desc,
		FilterSeriesID: seriesID,
		CollapseSeries: collapse,
		MediaType:      lib.MediaType,
		IgnorePrefix:   s.settings.IgnorePrefix,
	})
	sorting.Sort(rows, criteria, cmp)

	total = len(rows)
	pageRows := Paginate(rows, req.Limit, req.Page)

	projector := s.projector(req, seriesID)
	results := make([]any, 0, len(pageRows))
	for _, row := range pageRows {
		results = append(results, projector.Row(ctx, row))
	}

	return &Page{
		Results:        results,
		Total:          total,
		Limit:          req.Limit,
		Page:           req.Page,
		SortBy:         req.Sort,
		SortDesc:       req.Desc,
		FilterBy:       req.Filter,
		MediaType:      lib.MediaType,
		Minified:       req.Minified,
		CollapseSeries: collapse,
		Include:        projector.Include.String(),
	}, nil
}

// ListSeries summarizes every series of one library. The default order is
// by name.
func (s *Service) ListSeries(ctx context.Context, lib models.Library, items []*models.LibraryItem, req ListRequest) (page *Page, err error) {
	start := time.Now()
	total := 0
	defer func() { metrics.ObservePipeline("series", start, total, err) }()

	filter, err := ParseFilter(req.Filter)
	if err != nil {
		return nil, err
	}
	cmp := natural.New(s.settings.Locale)
	groups := groupSeries(ctx, filter.Apply(items), s.settings.Prefixes, s.entities, cmp)

	rows := make([]models.Row, len(groups))
	for i, cs := range groups {
		if filter.Active() {
			cs.SeriesSequenceList = sequenceList(cs)
		}
		rows[i] = models.Row{Item: cs.Books[0], Collapsed: cs}
	}

	sortBy := req.Sort
	if sortBy == "" {
		sortBy = string(sorting.Name)
	}
	s.checkSelector(sortBy, true)
	sorting.Sort(rows, sorting.Plan(sorting.Request{
		SortBy:       sortBy,
		Desc:         req.Desc,
		IgnorePrefix: s.settings.IgnorePrefix,
		Summaries:    true,
	}), cmp)

	total = len(rows)
	pageRows := Paginate(rows, req.Limit, req.Page)

	projector := s.projector(req, "")
	results := make([]any, 0, len(pageRows))
	for _, row := range pageRows {
		results = append(results, projector.Summary(ctx, row.Collapsed))
	}

	return &Page{
		Results:   results,
		Total:     total,
		Limit:     req.Limit,
		Page:      req.Page,
		SortBy:    sortBy,
		SortDesc:  req.Desc,
		FilterBy:  req.Filter,
		MediaType: lib.MediaType,
		Minified:  req.Minified,
		Include:   projector.Include.String(),
	}, nil
}

// Search runs a free-text search over the items of one library.
func (s *Service) Search(ctx context.Context, lib models.Library, items []*models.LibraryItem, req SearchRequest) (results *search.Results, err error) {
	start := time.Now()
	defer func() { metrics.ObservePipeline("search", start, len(items), err) }()

	limit := req.Limit
	if limit <= 0 {
		limit = s.settings.SearchLimit
	}
	aggregator := search.NewAggregator(nil, s.entities, s.logger)
	return aggregator.Search(ctx, items, search.Query{
		Text:      req.Query,
		Limit:     limit,
		MediaType: lib.MediaType,
	})
}

func (s *Service) projector(req ListRequest, seriesID string) *Projector {
	return &Projector{
		Minified:       req.Minified,
		Include:        ParseInclude(req.Include),
		FilterSeriesID: seriesID,
		UserID:         req.UserID,
		feeds:          s.feeds,
		progress:       s.progress,
		logger:         s.logger,
	}
}

func (s *Service) checkSelector(sortBy string, summaries bool) {
	if sortBy == "" || sorting.Known(sortBy, summaries) {
		return
	}
	metrics.UnknownSortSelectors.Inc()
	s.logger.WithFields(logrus.Fields{
		"sort":      sortBy,
		"summaries": summaries,
	}).Debug("query: unknown sort selector, keeping input order")
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
