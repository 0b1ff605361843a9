package query

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/gorilla/schema"
)

var decoder = schema.NewDecoder()

func init() {
	decoder.IgnoreUnknownKeys(true)
}

// ListRequest holds the query-string options of an item or series listing.
type ListRequest struct {
	Limit          int    `schema:"limit"`
	Page           int    `schema:"page"`
	Sort           string `schema:"sort"`
	Desc           bool   `schema:"desc"`
	Filter         string `schema:"filter"`
	Minified       bool   `schema:"minified"`
	CollapseSeries bool   `schema:"collapseseries"`
	Include        string `schema:"include"`

	// UserID identifies the requester for progress overlays.
	UserID string `schema:"-"`
}

// SearchRequest holds the query-string options of a search.
type SearchRequest struct {
	Query string `schema:"q"`
	Limit int    `schema:"limit"`
}

// DecodeListRequest reads a ListRequest from url values.
func DecodeListRequest(values url.Values) (ListRequest, error) {
	var req ListRequest
	if err := decoder.Decode(&req, values); err != nil {
		return ListRequest{}, fmt.Errorf("decode list request: %w", err)
	}
	if req.Page < 0 {
		req.Page = 0
	}
	if req.Limit < 0 {
		req.Limit = 0
	}
	return req, nil
}

// DecodeSearchRequest reads a SearchRequest from url values.
func DecodeSearchRequest(values url.Values) (SearchRequest, error) {
	var req SearchRequest
	if err := decoder.Decode(&req, values); err != nil {
		return SearchRequest{}, fmt.Errorf("decode search request: %w", err)
	}
	return req, nil
}

// Include is the set of optional overlay tokens a caller asked for.
type Include map[string]struct{}

// Overlay tokens.
const (
	IncludeRSSFeed               = "rssfeed"
	IncludeNumEpisodesIncomplete = "numepisodesincomplete"
)

// ParseInclude splits a comma separated token list. Tokens are trimmed and
// lower-cased; order and duplicates do not matter.
func ParseInclude(raw string) Include {
	inc := make(Include)
	for _, part := range strings.Split(raw, ",") {
		token := strings.ToLower(strings.TrimSpace(part))
		if token != "" {
			inc[token] = struct{}{}
		}
	}
	return inc
}

// Has reports whether token was requested.
func (i Include) Has(token string) bool {
	_, ok := i[token]
	return ok
}

// String renders the tokens sorted and comma separated.
func (i Include) String() string {
	tokens := make([]string, 0, len(i))
	for t := range i {
		tokens = append(tokens, t)
	}
	sort.Strings(tokens)
	return strings.Join(tokens, ",")
}
