package search

// Limits for SearchOptions.Limit.
const (
	DefaultLimit = 20
	MaxLimit     = 200
)

// normalizeLimit clamps a requested limit into 1..MaxLimit.
func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

// FilterFunc checks if a hit matches filter criteria.
type FilterFunc func(h *Hit) bool

// ApplyFilters filters hits based on search options.
// Filters use AND logic - hits must match all specified criteria.
func ApplyFilters(hits []Hit, opts SearchOptions) []Hit {
	filters := buildFilters(opts)
	if len(filters) == 0 {
		return hits
	}

	filtered := make([]Hit, 0, len(hits))
	for i := range hits {
		if matchesAllFilters(&hits[i], filters) {
			filtered = append(filtered, hits[i])
		}
	}
	return filtered
}

func buildFilters(opts SearchOptions) []FilterFunc {
	var filters []FilterFunc
	if len(opts.Sources) > 0 {
		filters = append(filters, sourceFilter(opts.Sources))
	}
	if opts.Category != "" {
		filters = append(filters, categoryFilter(opts.Category))
	}
	return filters
}

func matchesAllFilters(h *Hit, filters []FilterFunc) bool {
	for _, f := range filters {
		if !f(h) {
			return false
		}
	}
	return true
}

// sourceFilter matches any of the given sources (OR logic).
func sourceFilter(sources []string) FilterFunc {
	set := make(map[string]struct{}, len(sources))
	for _, s := range sources {
		set[s] = struct{}{}
	}
	return func(h *Hit) bool {
		_, ok := set[h.Record.Source]
		return ok
	}
}

func categoryFilter(category string) FilterFunc {
	return func(h *Hit) bool {
		return h.Record.Category == category
	}
}
