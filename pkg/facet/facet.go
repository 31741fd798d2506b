// Package facet derives filter facets from restaurant lists and applies
// cuisine and neighborhood filters.
package facet

import "github.com/kittclouds/restokitt/internal/model"

// Project maps each restaurant through |field| and removes duplicates,
// keeping the first-seen order. Empty values are dropped: they are not
// selectable filter options.
func Project(rs []model.Restaurant, field func(*model.Restaurant) string) []string {
	seen := make(map[string]struct{}, len(rs))
	out := make([]string, 0, len(rs))
	for i := range rs {
		v := field(&rs[i])
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Neighborhoods of |rs|, deduplicated.
func Neighborhoods(rs []model.Restaurant) []string {
	return Project(rs, func(r *model.Restaurant) string { return r.Neighborhood })
}

// Cuisines of |rs|, deduplicated.
func Cuisines(rs []model.Restaurant) []string {
	return Project(rs, func(r *model.Restaurant) string { return r.CuisineType })
}

// Compute returns the named facet of |rs|, or false for an unknown name.
func Compute(name string, rs []model.Restaurant) ([]string, bool) {
	switch name {
	case model.FacetNeighborhoods:
		return Neighborhoods(rs), true
	case model.FacetCuisines:
		return Cuisines(rs), true
	default:
		return nil, false
	}
}

// Predicate selects restaurants.
type Predicate func(*model.Restaurant) bool

// Cuisine matches |cuisine|, or everything for model.AllFilter.
func Cuisine(cuisine string) Predicate {
	return func(r *model.Restaurant) bool {
		return cuisine == model.AllFilter || r.CuisineType == cuisine
	}
}

// Neighborhood matches |neighborhood|, or everything for model.AllFilter.
func Neighborhood(neighborhood string) Predicate {
	return func(r *model.Restaurant) bool {
		return neighborhood == model.AllFilter || r.Neighborhood == neighborhood
	}
}

// And matches restaurants satisfying every predicate.
func And(ps ...Predicate) Predicate {
	return func(r *model.Restaurant) bool {
		for _, p := range ps {
			if !p(r) {
				return false
			}
		}
		return true
	}
}

// Filter returns the restaurants of |rs| matching |p|, in order.
func Filter(rs []model.Restaurant, p Predicate) []model.Restaurant {
	out := make([]model.Restaurant, 0, len(rs))
	for i := range rs {
		if p(&rs[i]) {
			out = append(out, rs[i])
		}
	}
	return out
}
