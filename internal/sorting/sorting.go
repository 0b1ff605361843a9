// Package sorting orders query rows by a chain of typed comparators assembled
// from the caller's sort request.
package sorting

import (
	"sort"
	"strings"

	"home-library/internal/models"
	"home-library/internal/natural"
)

// Request captures everything that influences row order.
type Request struct {
	SortBy         string
	Desc           bool
	FilterSeriesID string
	CollapseSeries bool
	MediaType      string
	IgnorePrefix   bool
	// Summaries is set when rows are collapsed-series summaries rather than
	// library items.
	Summaries bool
}

// Criterion is one link of the comparator chain.
type Criterion struct {
	Name string
	Desc bool
	Key  KeyFunc
}

// Plan builds the comparator chain for a request. An empty plan keeps the
// input order.
func Plan(req Request) []Criterion {
	sortBy := Selector(req.SortBy)

	if req.FilterSeriesID != "" && sortBy == "" {
		return []Criterion{
			{Name: "sequence", Key: sequenceIn(req.FilterSeriesID)},
			{Name: "title", Key: collapsedNameOrTitle(req.IgnorePrefix)},
		}
	}
	if sortBy == "" {
		return nil
	}

	byTitle := sortBy == Title || sortBy == TitleIgnorePrefix
	if sortBy == Title && req.IgnorePrefix {
		sortBy = TitleIgnorePrefix
	}

	var criteria []Criterion
	if req.CollapseSeries && !byTitle && sortBy != Sequence {
		criteria = append(criteria, Criterion{Name: "collapsed", Key: collapsedName(req.IgnorePrefix)})
	}

	primary := Criterion{Name: string(sortBy), Desc: req.Desc}
	switch {
	case sortBy == Sequence && req.FilterSeriesID != "":
		primary.Key = sequenceIn(req.FilterSeriesID)
	case byTitle && !req.Summaries:
		selected := lookup(sortBy, false, req.IgnorePrefix)
		collapsed := collapsedName(req.IgnorePrefix)
		primary.Key = func(r models.Row) natural.Value {
			if r.Collapsed != nil {
				return collapsed(r)
			}
			return selected(r)
		}
	default:
		primary.Key = lookup(sortBy, req.Summaries, req.IgnorePrefix)
	}
	criteria = append(criteria, primary)

	if req.MediaType == models.MediaTypeBook && !req.Summaries && strings.Contains(string(sortBy), "author") {
		criteria = append(criteria, Criterion{Name: "series", Key: primarySeriesTitle})
	}

	return criteria
}

// Sort orders rows in place. Rows whose keys all compare equal keep their
// relative input order.
func Sort(rows []models.Row, criteria []Criterion, cmp *natural.Comparator) {
	if len(criteria) == 0 || len(rows) < 2 {
		return
	}

	type keyed struct {
		row  models.Row
		keys []natural.Value
	}

	entries := make([]keyed, len(rows))
	for i, row := range rows {
		keys := make([]natural.Value, len(criteria))
		for j, c := range criteria {
			keys[j] = c.Key(row)
		}
		entries[i] = keyed{row: row, keys: keys}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		for k, c := range criteria {
			result := cmp.Compare(entries[i].keys[k], entries[j].keys[k])
			if c.Desc {
				result = -result
			}
			if result != 0 {
				return result < 0
			}
		}
		return false
	})

	for i := range entries {
		rows[i] = entries[i].row
	}
}
