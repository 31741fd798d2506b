package nearby

import (
	"testing"

	"github.com/hack-pad/hackpadfs/mem"
	"github.com/kittclouds/restokitt/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var restaurants = []model.Restaurant{
	{ID: 1, LatLng: model.LatLng{Lat: 40.713829, Lng: -73.989667}}, // Lower East Side
	{ID: 2, LatLng: model.LatLng{Lat: 40.683555, Lng: -73.966393}}, // Brooklyn
	{ID: 3, LatLng: model.LatLng{Lat: 40.747143, Lng: -73.985414}}, // Koreatown
	{ID: 4, LatLng: model.LatLng{Lat: 40.722216, Lng: -73.987501}}, // Katz's
	{ID: 9, LatLng: model.LatLng{Lat: 40.727397, Lng: -73.983645}}, // East Village
}

func ids(ns []Neighbor) []int64 {
	var out []int64
	for _, n := range ns {
		out = append(out, n.ID)
	}
	return out
}

func TestHaversine(t *testing.T) {
	var a = model.LatLng{Lat: 40.713829, Lng: -73.989667}
	var b = model.LatLng{Lat: 40.722216, Lng: -73.987501}
	assert.InDelta(t, 950, Haversine(a, b), 50)
	assert.Zero(t, Haversine(a, a))
}

func TestNearExcludesSelf(t *testing.T) {
	ix, err := New(nil, "")
	require.NoError(t, err)
	require.NoError(t, ix.Rebuild(restaurants))
	assert.Equal(t, 5, ix.Len())

	got := ix.Near(1, 2)
	assert.Equal(t, []int64{4, 9}, ids(got))
	assert.Less(t, got[0].Meters, got[1].Meters)

	assert.Nil(t, ix.Near(77, 2))
}

func TestNearest(t *testing.T) {
	ix, err := New(nil, "")
	require.NoError(t, err)
	require.NoError(t, ix.Rebuild(restaurants))

	got := ix.Nearest(model.LatLng{Lat: 40.68, Lng: -73.96}, 1)
	assert.Equal(t, []int64{2}, ids(got))
}

func TestAddMovesRestaurant(t *testing.T) {
	ix, err := New(nil, "")
	require.NoError(t, err)
	require.NoError(t, ix.Rebuild(restaurants))

	// Move restaurant 2 next to restaurant 3.
	require.NoError(t, ix.Add(2, model.LatLng{Lat: 40.7472, Lng: -73.9855}))
	assert.Equal(t, []int64{2}, ids(ix.Near(3, 1)))
	assert.Equal(t, 5, ix.Len())

	assert.Error(t, ix.Add(0, model.LatLng{}))
}

func TestSaveAndLoad(t *testing.T) {
	fs, err := mem.NewFS()
	require.NoError(t, err)

	ix, err := New(fs, "nearby.bin")
	require.NoError(t, err)
	require.NoError(t, ix.Rebuild(restaurants))
	require.NoError(t, ix.Save())

	ix2, err := New(fs, "nearby.bin")
	require.NoError(t, err)
	assert.Equal(t, 5, ix2.Len())
	assert.Equal(t, []int64{4, 9}, ids(ix2.Near(1, 2)))
}

func TestUnitIsPadded(t *testing.T) {
	v := Unit(model.LatLng{Lat: 40.713829, Lng: -73.989667})
	require.Len(t, v, Dims)
	assert.Zero(t, v[3])

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1, norm, 1e-6)
}

func TestAddOneAtATime(t *testing.T) {
	ix, err := New(nil, "")
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		for _, r := range restaurants {
			require.NoError(t, ix.Add(r.ID, r.LatLng))
		}
	})
	assert.Equal(t, 5, ix.Len())
	assert.Equal(t, []int64{4, 9}, ids(ix.Near(1, 2)))
}
