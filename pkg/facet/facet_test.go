package facet

import (
	"testing"

	"github.com/kittclouds/restokitt/internal/model"
	"github.com/stretchr/testify/assert"
)

func fixture() []model.Restaurant {
	return []model.Restaurant{
		{ID: 1, Name: "Mission Chinese", CuisineType: "Asian", Neighborhood: "Manhattan"},
		{ID: 2, Name: "Emily", CuisineType: "Pizza", Neighborhood: "Brooklyn"},
		{ID: 3, Name: "Kang Ho Dong", CuisineType: "Asian", Neighborhood: "Manhattan"},
		{ID: 4, Name: "Katz's", CuisineType: "American", Neighborhood: "Manhattan"},
		{ID: 5, Name: "Roberta's", CuisineType: "Pizza", Neighborhood: "Queens"},
	}
}

func TestNeighborhoodsDedupeInFirstSeenOrder(t *testing.T) {
	var rs = []model.Restaurant{
		{ID: 1, Neighborhood: "Manhattan"},
		{ID: 2, Neighborhood: "Brooklyn"},
		{ID: 3, Neighborhood: "Manhattan"},
	}
	assert.Equal(t, []string{"Manhattan", "Brooklyn"}, Neighborhoods(rs))
}

func TestCuisines(t *testing.T) {
	assert.Equal(t, []string{"Asian", "Pizza", "American"}, Cuisines(fixture()))
	assert.Empty(t, Cuisines(nil))
	assert.Empty(t, Cuisines([]model.Restaurant{{ID: 1}}))
}

func TestCompute(t *testing.T) {
	got, ok := Compute(model.FacetNeighborhoods, fixture())
	assert.True(t, ok)
	assert.Equal(t, []string{"Manhattan", "Brooklyn", "Queens"}, got)

	_, ok = Compute("prices", fixture())
	assert.False(t, ok)
}

func TestFilter(t *testing.T) {
	ids := func(rs []model.Restaurant) []int64 {
		var out []int64
		for _, r := range rs {
			out = append(out, r.ID)
		}
		return out
	}

	var cases = []struct {
		cuisine, neighborhood string
		expect                []int64
	}{
		{model.AllFilter, model.AllFilter, []int64{1, 2, 3, 4, 5}},
		{"Pizza", model.AllFilter, []int64{2, 5}},
		{model.AllFilter, "Manhattan", []int64{1, 3, 4}},
		{"Asian", "Manhattan", []int64{1, 3}},
		{"Pizza", "Manhattan", nil},
	}
	for _, tc := range cases {
		got := Filter(fixture(), And(Cuisine(tc.cuisine), Neighborhood(tc.neighborhood)))
		assert.Equal(t, tc.expect, ids(got), "%s / %s", tc.cuisine, tc.neighborhood)
	}
}

func TestEmptyValuesAreNotFacets(t *testing.T) {
	var rs = []model.Restaurant{
		{ID: 1, CuisineType: "Asian"},
		{ID: 2, CuisineType: ""},
		{ID: 3, CuisineType: "Asian", Neighborhood: "Queens"},
	}
	assert.Equal(t, []string{"Asian"}, Cuisines(rs))
	assert.Equal(t, []string{"Queens"}, Neighborhoods(rs))

	// Restaurants without a value still match the "all" filter.
	assert.Len(t, Filter(rs, Cuisine(model.AllFilter)), 3)
}
