package shared

import "strings"

// SortField names a sortable master data column.
type SortField string

const (
	SortByName SortField = "name"
	SortByCode SortField = "code"
)

// ListFilters represents the query parameters accepted by master data lists.
type ListFilters struct {
	Search  string
	SortBy  string
	SortDir string
}

// Normalize trims the search term and folds unknown sort options to
// name ascending.
func (f ListFilters) Normalize() ListFilters {
	f.Search = strings.TrimSpace(f.Search)
	switch SortField(strings.ToLower(f.SortBy)) {
	case SortByCode:
		f.SortBy = string(SortByCode)
	default:
		f.SortBy = string(SortByName)
	}
	if strings.EqualFold(f.SortDir, "desc") {
		f.SortDir = "desc"
	} else {
		f.SortDir = "asc"
	}
	return f
}

// Descending reports whether the list runs high to low.
func (f ListFilters) Descending() bool {
	return f.Normalize().SortDir == "desc"
}

// Key renders the normalized filters as a stable cache key fragment.
func (f ListFilters) Key() string {
	n := f.Normalize()
	return "s=" + strings.ToLower(n.Search) + "|by=" + n.SortBy + "|dir=" + n.SortDir
}
