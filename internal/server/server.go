// Package server exposes the configured libraries over HTTP: JSON query
// endpoints, per-series RSS feeds and audio file serving.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"home-library/internal/metrics"
	"home-library/internal/models"
	"home-library/internal/query"
	"home-library/internal/search"
)

// ErrUnknownLibrary is returned for library ids that are not configured or
// not visible to the caller.
var ErrUnknownLibrary = errors.New("unknown library")

var errUnknownItem = errors.New("unknown item")

// LibrarySource is the view of a scanned library the handlers need.
type LibrarySource interface {
	Info() models.Library
	Snapshot() []*models.LibraryItem
	Item(id string) (*models.LibraryItem, bool)
}

// Authorizer decides whether a token is valid and which libraries it sees.
type Authorizer interface {
	IsValidToken(token string) bool
	CanAccess(token, libraryID string) bool
}

// ProgressStore records finished episodes.
type ProgressStore interface {
	SetEpisodeFinished(ctx context.Context, userID, itemID, episodeID string, finished bool) error
}

// FeedMetadata describes the static information used when rendering RSS feeds.
type FeedMetadata struct {
	Title       string
	Description string
	Language    string
	Author      string
}

// Options wires the handler to its collaborators. Auth may be nil to serve
// without tokens; Progress and Entities may be nil as well.
type Options struct {
	Libraries []LibrarySource
	Query     *query.Service
	Auth      Authorizer
	Progress  ProgressStore
	Entities  search.EntityLookup
	Feed      FeedMetadata
	Logger    *logrus.Logger
}

type serverHandler struct {
	libraries map[string]LibrarySource
	order     []string
	query     *query.Service
	auth      Authorizer
	progress  ProgressStore
	entities  search.EntityLookup
	feed      FeedMetadata
	logger    *logrus.Logger
}

// New creates the HTTP handler.
func New(opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	feed := opts.Feed
	if feed.Title == "" {
		feed.Title = "Home Library"
	}
	if feed.Language == "" {
		feed.Language = "en"
	}

	svc := opts.Query
	if svc == nil {
		svc = query.NewService(query.Settings{}, opts.Entities, nil, nil, logger)
	}

	h := &serverHandler{
		libraries: make(map[string]LibrarySource, len(opts.Libraries)),
		query:     svc,
		auth:      opts.Auth,
		progress:  opts.Progress,
		entities:  opts.Entities,
		feed:      feed,
		logger:    logger,
	}
	for _, lib := range opts.Libraries {
		id := lib.Info().ID
		if _, dup := h.libraries[id]; dup {
			logger.WithField("library", id).Warn("duplicate library id, keeping the first")
			continue
		}
		h.libraries[id] = lib
		h.order = append(h.order, id)
	}

	router := mux.NewRouter()
	router.Use(recordMetrics)

	router.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	router.Handle("/api/libraries", h.requireToken(h.handleLibraries)).Methods(http.MethodGet)
	router.Handle("/api/libraries/{id}/items", h.requireToken(h.handleItems)).Methods(http.MethodGet)
	router.Handle("/api/libraries/{id}/series", h.requireToken(h.handleSeries)).Methods(http.MethodGet)
	router.Handle("/api/libraries/{id}/search", h.requireToken(h.handleSearch)).Methods(http.MethodGet)
	router.Handle("/api/items/{id}", h.requireToken(h.handleItem)).Methods(http.MethodGet)
	router.Handle("/api/items/{id}/episodes/{episodeId}/finished", h.requireToken(h.handleEpisodeFinished)).
		Methods(http.MethodPut, http.MethodDelete)

	router.Handle("/feed/series/{id}", h.requireToken(h.handleSeriesFeed)).Methods(http.MethodGet)
	router.Handle("/audio/{library}/{path:.*}", h.requireToken(h.handleAudio)).Methods(http.MethodGet, http.MethodHead)

	return logRequests(router, logger)
}

type callerKey struct{}

// caller is the authenticated requester. base is nil when the request
// carried no Host.
type caller struct {
	token string
	base  *url.URL
}

func withCaller(ctx context.Context, c caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

func callerFrom(ctx context.Context) caller {
	c, _ := ctx.Value(callerKey{}).(caller)
	return c
}

func (h *serverHandler) requireToken(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if h.auth != nil && (token == "" || !h.auth.IsValidToken(token)) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		ctx := withCaller(r.Context(), caller{token: token, base: requestBaseURL(r)})
		next(w, r.WithContext(ctx))
	})
}

func (h *serverHandler) canAccess(ctx context.Context, libraryID string) bool {
	return h.auth == nil || h.auth.CanAccess(callerFrom(ctx).token, libraryID)
}

// library resolves a library id the caller may see.
func (h *serverHandler) library(ctx context.Context, id string) (LibrarySource, error) {
	lib, ok := h.libraries[id]
	if !ok || !h.canAccess(ctx, id) {
		return nil, ErrUnknownLibrary
	}
	return lib, nil
}

// visible lists the libraries the caller may see, in configuration order.
func (h *serverHandler) visible(ctx context.Context) []LibrarySource {
	out := make([]LibrarySource, 0, len(h.order))
	for _, id := range h.order {
		if h.canAccess(ctx, id) {
			out = append(out, h.libraries[id])
		}
	}
	return out
}

func (h *serverHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.WithError(err).Warn("failed to encode response")
	}
}

func (h *serverHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrUnknownLibrary), errors.Is(err, errUnknownItem):
		w.WriteHeader(http.StatusNotFound)
	case errors.Is(err, search.ErrBadRequest), errors.Is(err, query.ErrBadFilter):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		h.logger.WithError(err).WithField("path", r.URL.Path).Error("request failed")
		w.WriteHeader(http.StatusInternalServerError)
	}
}

func requestBaseURL(r *http.Request) *url.URL {
	scheme := "http"
	if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if candidate := strings.TrimSpace(first); candidate != "" {
			scheme = candidate
		}
	} else if r.TLS != nil {
		scheme = "https"
	}

	host := strings.TrimSpace(r.Host)
	if host == "" {
		return nil
	}
	return &url.URL{Scheme: scheme, Host: host}
}

// extractToken reads the token from the query string, the X-Library-Token
// header or a bearer Authorization header, in that order.
func extractToken(r *http.Request) string {
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token
	}
	if header := strings.TrimSpace(r.Header.Get("X-Library-Token")); header != "" {
		return header
	}

	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	return ""
}

type statusWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.size += n
	return n, err
}

func logRequests(next http.Handler, logger *logrus.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sw, r)
		logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   sw.status,
			"bytes":    sw.size,
			"duration": time.Since(start),
		}).Info("request")
	})
}

// recordMetrics labels requests by route template.
func recordMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := "unmatched"
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sw, r)

		metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).Inc()
	})
}
