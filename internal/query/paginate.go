package query

// Paginate returns page number page (zero based) of size limit. A limit of
// zero or less returns rows unchanged; out-of-range pages return an empty
// slice.
func Paginate[T any](rows []T, limit, page int) []T {
	if limit <= 0 {
		return rows
	}
	if page < 0 {
		page = 0
	}
	// page*limit stays within len(rows) past this check.
	if page > len(rows)/limit {
		return rows[:0]
	}
	start := page * limit
	if start >= len(rows) {
		return rows[:0]
	}
	end := len(rows)
	if limit < end-start {
		end = start + limit
	}
	return rows[start:end]
}
