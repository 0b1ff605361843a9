package query

import (
	"context"

	"home-library/internal/models"
	"home-library/internal/natural"
	"home-library/internal/search"
	"home-library/internal/sequence"
	"home-library/internal/sorting"
)

// groupSeries builds one collapsed view per series referenced by items, in
// order of first appearance. Only an item's primary (first) series counts.
// Members are ordered by their sequence within the series.
func groupSeries(ctx context.Context, items []*models.LibraryItem, prefixes []string, entities search.EntityLookup, cmp *natural.Comparator) []*models.CollapsedSeries {
	var order []*models.CollapsedSeries
	byID := make(map[string]*models.CollapsedSeries)

	for _, item := range items {
		if len(item.Media.Metadata.Series) == 0 {
			continue
		}
		ref := item.Media.Metadata.Series[0]
		cs, ok := byID[ref.ID]
		if !ok {
			cs = &models.CollapsedSeries{
				ID:               ref.ID,
				Name:             ref.Name,
				NameIgnorePrefix: natural.StripPrefix(ref.Name, prefixes),
			}
			byID[ref.ID] = cs
			order = append(order, cs)
		}
		cs.Books = append(cs.Books, item)
	}

	for _, cs := range order {
		rows := make([]models.Row, len(cs.Books))
		for i, b := range cs.Books {
			rows[i] = models.Row{Item: b}
		}
		sorting.Sort(rows, sorting.Plan(sorting.Request{FilterSeriesID: cs.ID}), cmp)
		for i := range rows {
			cs.Books[i] = rows[i].Item
		}

		for _, b := range cs.Books {
			cs.TotalDuration += b.Media.Duration
			if cs.AddedAt.IsZero() || b.AddedAt.Before(cs.AddedAt) {
				cs.AddedAt = b.AddedAt
			}
			if b.AddedAt.After(cs.LastBookAddedAt) {
				cs.LastBookAddedAt = b.AddedAt
			}
			if b.UpdatedAt.After(cs.LastBookUpdatedAt) {
				cs.LastBookUpdatedAt = b.UpdatedAt
			}
		}

		if entities != nil {
			if entity, err := entities.SeriesByID(ctx, cs.ID); err == nil && entity != nil {
				cs.Name = entity.Name
				cs.NameIgnorePrefix = natural.StripPrefix(entity.Name, prefixes)
				if !entity.AddedAt.IsZero() {
					cs.AddedAt = entity.AddedAt
				}
			}
		}
	}

	return order
}

// sequenceList renders the positions of a collapsed view's members.
func sequenceList(cs *models.CollapsedSeries) string {
	tokens := make([]string, 0, len(cs.Books))
	for _, b := range cs.Books {
		if ref, ok := b.Media.Metadata.SeriesByID(cs.ID); ok && ref.Sequence != "" {
			tokens = append(tokens, ref.Sequence)
		}
	}
	return sequence.Compact(tokens)
}

// collapseRows replaces series members with a single row per series, placed
// where the series' first member appeared.
func collapseRows(items []*models.LibraryItem, groups []*models.CollapsedSeries) []models.Row {
	byID := make(map[string]*models.CollapsedSeries, len(groups))
	for _, cs := range groups {
		byID[cs.ID] = cs
	}

	rows := make([]models.Row, 0, len(items))
	emitted := make(map[string]bool, len(groups))
	for _, item := range items {
		if len(item.Media.Metadata.Series) == 0 {
			rows = append(rows, models.Row{Item: item})
			continue
		}
		id := item.Media.Metadata.Series[0].ID
		cs, ok := byID[id]
		if !ok {
			rows = append(rows, models.Row{Item: item})
			continue
		}
		if emitted[id] {
			continue
		}
		emitted[id] = true
		rows = append(rows, models.Row{Item: cs.Books[0], Collapsed: cs})
	}
	return rows
}
