package model

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlagAcceptsBooleansAndStrings(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want Flag
	}{
		{`true`, true},
		{`false`, false},
		{`"true"`, true},
		{`"false"`, false},
		{`null`, false},
	} {
		var f Flag = true
		require.NoError(t, json.Unmarshal([]byte(tc.in), &f), tc.in)
		assert.Equal(t, tc.want, f, tc.in)
	}

	var f Flag
	require.Error(t, json.Unmarshal([]byte(`"yes please"`), &f))
	require.Error(t, json.Unmarshal([]byte(`1`), &f))
}

func TestRestaurantDecodesStringFavorite(t *testing.T) {
	var r Restaurant
	require.NoError(t, json.Unmarshal([]byte(`{
		"id": 3, "name": "Kang Ho Dong Baekjeong", "is_favorite": "true",
		"latlng": {"lat": 40.747143, "lng": -73.985414},
		"operating_hours": {"Monday": "11:30 am - 2:00 am"}
	}`), &r))

	assert.Equal(t, int64(3), r.ID)
	assert.True(t, bool(r.IsFavorite))
	assert.Equal(t, 40.747143, r.LatLng.Lat)
	assert.Equal(t, "11:30 am - 2:00 am", r.OperatingHours["Monday"])
	require.NoError(t, r.Validate())
}

func TestRatingAcceptsNumbersAndStrings(t *testing.T) {
	var r Rating
	require.NoError(t, json.Unmarshal([]byte(`4`), &r))
	assert.Equal(t, Rating(4), r)
	require.NoError(t, json.Unmarshal([]byte(`"5"`), &r))
	assert.Equal(t, Rating(5), r)

	require.Error(t, json.Unmarshal([]byte(`"five"`), &r))
	require.Error(t, json.Unmarshal([]byte(`true`), &r))
}

func TestTimestamp(t *testing.T) {
	var ts Timestamp
	require.NoError(t, json.Unmarshal([]byte(`1504095567183`), &ts))
	assert.Equal(t, int64(1504095567183), ts.UnixMilli())

	b, err := json.Marshal(ts)
	require.NoError(t, err)
	assert.Equal(t, `1504095567183`, string(b))

	require.NoError(t, json.Unmarshal([]byte(`"2017-08-30T12:19:27.183Z"`), &ts))
	assert.True(t, time.Date(2017, 8, 30, 12, 19, 27, 183e6, time.UTC).Equal(ts.Time))

	require.NoError(t, json.Unmarshal([]byte(`null`), &ts))
	assert.True(t, ts.IsZero())
	b, err = json.Marshal(ts)
	require.NoError(t, err)
	assert.Equal(t, `null`, string(b))

	require.Error(t, json.Unmarshal([]byte(`"last tuesday"`), &ts))
}

func TestReviewEdited(t *testing.T) {
	var at = Timestamp{Time: time.UnixMilli(1504095567183)}
	var r = Review{CreatedAt: at, UpdatedAt: at}
	assert.False(t, r.Edited())

	r.UpdatedAt = Timestamp{Time: at.Add(time.Minute)}
	assert.True(t, r.Edited())
}

func TestValidation(t *testing.T) {
	var verr *ValidationError

	require.ErrorAs(t, (&Restaurant{}).Validate(), &verr)
	assert.Equal(t, "id", verr.Field)

	var rv = Review{ID: 1, RestaurantID: 1, Rating: 6}
	require.ErrorAs(t, rv.Validate(), &verr)
	assert.Equal(t, "rating", verr.Field)
	rv.Rating = 5
	require.NoError(t, rv.Validate())

	for _, tc := range []struct {
		p      ReviewPayload
		field  string
		reason string
	}{
		{ReviewPayload{Name: "a", Rating: 3, Comments: "c"}, "restaurant_id", "No restaurant selected"},
		{ReviewPayload{RestaurantID: 1, Rating: 3, Comments: "c"}, "name", "Please enter your name"},
		{ReviewPayload{RestaurantID: 1, Name: "a", Comments: "c"}, "rating", "Need to select rating !"},
		{ReviewPayload{RestaurantID: 1, Name: "a", Rating: 9, Comments: "c"}, "rating", "Rating must be between 1 and 5"},
		{ReviewPayload{RestaurantID: 1, Name: "a", Rating: 3}, "comments", "Cannot submit without review. Please add a few words !"},
	} {
		var err = tc.p.Validate()
		require.True(t, errors.As(err, &verr), tc.field)
		assert.Equal(t, tc.field, verr.Field)
		assert.Equal(t, tc.reason, verr.Reason)
	}
	require.NoError(t, (&ReviewPayload{RestaurantID: 1, Name: "a", Rating: 3, Comments: "c"}).Validate())
}

func TestNotFound(t *testing.T) {
	var r = NotFound()
	assert.True(t, r.IsNotFound())
	assert.Equal(t, "rest-nf.png", r.Photograph)
	assert.False(t, (&Restaurant{ID: 1, Name: "Restaurant Not Found"}).IsNotFound())
}

func TestMutationHasBody(t *testing.T) {
	assert.False(t, MutationData{}.HasBody())
	assert.False(t, MutationData{Body: json.RawMessage("null")}.HasBody())
	assert.True(t, MutationData{Body: json.RawMessage(`{"name":"a"}`)}.HasBody())
}
