package cache

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/kittclouds/restokitt/internal/backendtest"
	"github.com/kittclouds/restokitt/internal/gateway"
	"github.com/kittclouds/restokitt/internal/model"
	"github.com/kittclouds/restokitt/internal/queue"
	"github.com/kittclouds/restokitt/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	backend *backendtest.Backend
	dbs     *Databases
	queue   *queue.Queue
	cache   *Cache
}

func newFixture(t *testing.T, restaurants []model.Restaurant, reviews []model.Review) *fixture {
	f := store.NewFactory("")
	t.Cleanup(func() { f.Close() })

	dbs, err := OpenDatabases(context.Background(), f)
	require.NoError(t, err)

	var backend = backendtest.New(restaurants, reviews)
	var gw = gateway.New(backend)
	var q = queue.New(dbs.Reviews, gw)

	return &fixture{
		backend: backend,
		dbs:     dbs,
		queue:   q,
		cache:   New(dbs, gw, q, gateway.Endpoints{Base: backendtest.Base}),
	}
}

func (f *fixture) storedRestaurants(t *testing.T) []model.Restaurant {
	var out []model.Restaurant
	require.NoError(t, f.dbs.Restaurants.Transaction(context.Background(), []string{TableRestaurants}, store.ReadOnly,
		func(tx *store.Tx) error {
			tb, err := tx.Table(TableRestaurants)
			if err != nil {
				return err
			}
			out, err = store.GetAllAs[model.Restaurant](tb)
			return err
		}))
	return out
}

func (f *fixture) storedReviews(t *testing.T, id int64) []model.Review {
	var out []model.Review
	require.NoError(t, f.dbs.Reviews.Transaction(context.Background(), []string{TableReviews}, store.ReadOnly,
		func(tx *store.Tx) error {
			var err error
			out, err = f.cache.localReviews(tx, id)
			return err
		}))
	return out
}

func (f *fixture) storedFacet(t *testing.T, name string) *model.FacetList {
	var out *model.FacetList
	require.NoError(t, f.dbs.Restaurants.Transaction(context.Background(), []string{TableExtraInfo}, store.ReadOnly,
		func(tx *store.Tx) error {
			tb, err := tx.Table(TableExtraInfo)
			if err != nil {
				return err
			}
			out, _, err = store.GetAs[model.FacetList](tb, name)
			return err
		}))
	return out
}

func reviewIDs(rs []model.Review) []int64 {
	var out []int64
	for _, r := range rs {
		out = append(out, r.ID)
	}
	return out
}

func TestRestaurantsFallBackToNetworkAndWriteBack(t *testing.T) {
	var f = newFixture(t, backendtest.Fixture(), nil)
	ctx := context.Background()

	rs, err := f.cache.Restaurants(ctx)
	require.NoError(t, err)
	assert.Len(t, rs, len(backendtest.Fixture()))
	f.cache.Wait()
	assert.Len(t, f.storedRestaurants(t), len(backendtest.Fixture()))

	// Served locally from now on, even while offline.
	f.backend.SetOffline(true)
	rs, err = f.cache.Restaurants(ctx)
	require.NoError(t, err)
	assert.Len(t, rs, len(backendtest.Fixture()))
	assert.Equal(t, []string{"GET /restaurants"}, f.backend.Requests())
}

func TestRestaurantsOfflineWithEmptyStore(t *testing.T) {
	var f = newFixture(t, backendtest.Fixture(), nil)
	f.backend.SetOffline(true)

	rs, err := f.cache.Restaurants(context.Background())
	assert.Nil(t, rs)

	var ne *gateway.NetworkError
	require.True(t, errors.As(err, &ne))
	assert.True(t, errors.Is(err, backendtest.ErrOffline))
}

func TestRestaurantsServerErrorIsHTTPError(t *testing.T) {
	var f = newFixture(t, backendtest.Fixture(), nil)
	f.backend.FailStatus.Store(http.StatusServiceUnavailable)

	_, err := f.cache.Restaurants(context.Background())
	assert.True(t, gateway.IsStatus(err, http.StatusServiceUnavailable))
	f.cache.Wait()
	assert.Empty(t, f.storedRestaurants(t))
}

func TestConcurrentRestaurantMissesShareOneFetch(t *testing.T) {
	var f = newFixture(t, backendtest.Fixture(), nil)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rs, err := f.cache.Restaurants(context.Background())
			assert.NoError(t, err)
			assert.NotEmpty(t, rs)
		}()
	}
	wg.Wait()
	f.cache.Wait()

	assert.LessOrEqual(t, len(f.backend.Requests()), 8)
	assert.Len(t, f.storedRestaurants(t), len(backendtest.Fixture()))
}

// heldDoer blocks each request until |release| is closed, then records
// whether the request's context had been cancelled.
type heldDoer struct {
	inner     gateway.Doer
	started   chan struct{}
	release   chan struct{}
	cancelled atomic.Bool
}

func (d *heldDoer) Do(req *http.Request) (*http.Response, error) {
	d.started <- struct{}{}
	<-d.release
	d.cancelled.Store(req.Context().Err() != nil)
	return d.inner.Do(req)
}

func TestSharedFetchOutlivesCancelledCaller(t *testing.T) {
	f := store.NewFactory("")
	t.Cleanup(func() { f.Close() })
	dbs, err := OpenDatabases(context.Background(), f)
	require.NoError(t, err)

	var doer = &heldDoer{
		inner:   backendtest.New(backendtest.Fixture(), nil),
		started: make(chan struct{}, 8),
		release: make(chan struct{}),
	}
	var gw = gateway.New(doer)
	var c = New(dbs, gw, queue.New(dbs.Reviews, gw), gateway.Endpoints{Base: backendtest.Base})

	ctx, cancel := context.WithCancel(context.Background())
	type result struct {
		rs  []model.Restaurant
		err error
	}
	var first = make(chan result, 1)
	go func() {
		rs, err := c.Restaurants(ctx)
		first <- result{rs, err}
	}()

	<-doer.started
	cancel()
	close(doer.release)

	var res = <-first
	require.NoError(t, res.err)
	assert.Len(t, res.rs, len(backendtest.Fixture()))
	assert.False(t, doer.cancelled.Load())

	c.Wait()
	rs, err := c.Restaurants(context.Background())
	require.NoError(t, err)
	assert.Len(t, rs, len(backendtest.Fixture()))
}

func TestRestaurantByID(t *testing.T) {
	var f = newFixture(t, backendtest.Fixture(), nil)
	ctx := context.Background()

	r, err := f.cache.RestaurantByID(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "Kang Ho Dong Baekjeong", r.Name)
	f.cache.Wait()

	f.backend.SetOffline(true)
	r, err = f.cache.RestaurantByID(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "Kang Ho Dong Baekjeong", r.Name)

	// Absent locally and unreachable remotely.
	r, err = f.cache.RestaurantByID(ctx, 4)
	require.NoError(t, err)
	assert.True(t, r.IsNotFound())
	assert.Equal(t, "rest-nf.png", r.Photograph)

	// Absent both locally and remotely.
	f.backend.SetOffline(false)
	r, err = f.cache.RestaurantByID(ctx, 999)
	require.NoError(t, err)
	assert.True(t, r.IsNotFound())
}

func TestNeighborhoodsAreDedupedAndStored(t *testing.T) {
	var f = newFixture(t, backendtest.Fixture(), nil)
	ctx := context.Background()

	ns, err := f.cache.Neighborhoods(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Manhattan", "Brooklyn", "Queens"}, ns)

	cs, err := f.cache.Cuisines(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Asian", "Pizza", "American", "Mexican"}, cs)
	f.cache.Wait()

	stored := f.storedFacet(t, model.FacetNeighborhoods)
	require.NotNil(t, stored)
	assert.Equal(t, ns, stored.Data)

	// A full refresh replaces stored facets.
	f.backend = backendtest.New(backendtest.Fixture()[:2], nil)
	f.cache.backend = gateway.New(f.backend)
	_, err = f.cache.RefreshRestaurants(ctx)
	require.NoError(t, err)
	f.cache.Wait()
	assert.Equal(t, []string{"Manhattan", "Brooklyn"}, f.storedFacet(t, model.FacetNeighborhoods).Data)
	assert.Equal(t, []string{"Asian", "Pizza"}, f.storedFacet(t, model.FacetCuisines).Data)
}

func TestFilters(t *testing.T) {
	var f = newFixture(t, backendtest.Fixture(), nil)
	ctx := context.Background()

	rs, err := f.cache.ByCuisineAndNeighborhood(ctx, "Pizza", "Brooklyn")
	require.NoError(t, err)
	require.Len(t, rs, 2)
	assert.Equal(t, int64(2), rs[0].ID)
	assert.Equal(t, int64(5), rs[1].ID)

	rs, err = f.cache.ByCuisine(ctx, "American")
	require.NoError(t, err)
	assert.Len(t, rs, 2)

	rs, err = f.cache.ByNeighborhood(ctx, model.AllFilter)
	require.NoError(t, err)
	assert.Len(t, rs, len(backendtest.Fixture()))
}

func TestReviewsAreReadThrough(t *testing.T) {
	var f = newFixture(t, backendtest.Fixture(), backendtest.FixtureReviews())
	ctx := context.Background()

	rs, err := f.cache.RestaurantReviews(ctx, 1, false)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, reviewIDs(rs))
	f.cache.Wait()
	assert.Equal(t, []int64{1, 2}, reviewIDs(f.storedReviews(t, 1)))

	f.backend.SetOffline(true)
	rs, err = f.cache.RestaurantReviews(ctx, 1, false)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, reviewIDs(rs))

	// A failed forced refresh serves stored reviews.
	rs, err = f.cache.RestaurantReviews(ctx, 1, true)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, reviewIDs(rs))

	// With nothing stored, the failure is returned.
	_, err = f.cache.RestaurantReviews(ctx, 2, false)
	assert.True(t, gateway.IsNetwork(err))
}

func TestChangeFavoriteOnline(t *testing.T) {
	var f = newFixture(t, backendtest.Fixture(), nil)
	ctx := context.Background()

	out, err := f.cache.ChangeFavorite(ctx, 2, true)
	require.NoError(t, err)
	assert.Equal(t, Delivered, out.Status)
	assert.Equal(t, MsgFavoriteDelivered, out.Message)

	remote, _ := f.backend.Restaurant(2)
	assert.True(t, bool(remote.IsFavorite))

	n, err := f.queue.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestChangeFavoriteOfflineIsQueued(t *testing.T) {
	var f = newFixture(t, backendtest.Fixture(), nil)
	ctx := context.Background()

	_, err := f.cache.Restaurants(ctx)
	require.NoError(t, err)
	f.cache.Wait()

	f.backend.SetOffline(true)
	out, err := f.cache.ChangeFavorite(ctx, 42, true)
	require.NoError(t, err)
	assert.True(t, out.Queued)
	assert.Equal(t, MsgFavoriteQueued, out.Message)

	// The local record is updated immediately.
	r, err := f.cache.RestaurantByID(ctx, 42)
	require.NoError(t, err)
	assert.True(t, bool(r.IsFavorite))

	pending, err := f.queue.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, backendtest.Base+"/restaurants/42/?is_favorite=true", pending[0].Data.URL)
	assert.Equal(t, http.MethodPut, pending[0].Data.Method)
	assert.Equal(t, "null", string(pending[0].Data.Body))

	f.backend.SetOffline(false)
	n, err := f.queue.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	remote, _ := f.backend.Restaurant(42)
	assert.True(t, bool(remote.IsFavorite))
	n, err = f.queue.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestChangeFavoriteRejectedIsQueued(t *testing.T) {
	var f = newFixture(t, backendtest.Fixture(), nil)
	f.backend.FailStatus.Store(http.StatusInternalServerError)

	out, err := f.cache.ChangeFavorite(context.Background(), 1, false)
	require.NoError(t, err)
	assert.Equal(t, Queued, out.Status)
}

func TestConcurrentFavoriteTogglesAreSerialized(t *testing.T) {
	var f = newFixture(t, backendtest.Fixture(), nil)
	ctx := context.Background()

	_, err := f.cache.Restaurants(ctx)
	require.NoError(t, err)
	f.cache.Wait()

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.cache.ChangeFavorite(ctx, 1, i%2 == 0)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// Whichever toggle ran last, local and remote state agree.
	local, err := f.cache.RestaurantByID(ctx, 1)
	require.NoError(t, err)
	remote, _ := f.backend.Restaurant(1)
	assert.Equal(t, remote.IsFavorite, local.IsFavorite)
}

func TestSubmitReviewValidates(t *testing.T) {
	var f = newFixture(t, backendtest.Fixture(), nil)

	var cases = []struct {
		payload model.ReviewPayload
		field   string
		reason  string
	}{
		{model.ReviewPayload{RestaurantID: 1, Rating: 3, Comments: "ok"}, "name", "Please enter your name"},
		{model.ReviewPayload{RestaurantID: 1, Name: "A", Comments: "ok"}, "rating", "Need to select rating !"},
		{model.ReviewPayload{RestaurantID: 1, Name: "A", Rating: 3}, "comments",
			"Cannot submit without review. Please add a few words !"},
	}
	for _, tc := range cases {
		_, err := f.cache.SubmitReview(context.Background(), tc.payload)
		var ve *model.ValidationError
		require.True(t, errors.As(err, &ve))
		assert.Equal(t, tc.field, ve.Field)
		assert.Equal(t, tc.reason, ve.Reason)
	}
	assert.Empty(t, f.backend.Requests())
}

func TestSubmitReviewOnlineRefreshesReviews(t *testing.T) {
	var f = newFixture(t, backendtest.Fixture(), backendtest.FixtureReviews())
	ctx := context.Background()

	out, err := f.cache.SubmitReview(ctx, model.ReviewPayload{
		RestaurantID: 2, Name: "Ann", Rating: 5, Comments: "Great crust",
	})
	require.NoError(t, err)
	assert.Equal(t, MsgReviewDelivered, out.Message)
	f.cache.Wait()

	stored := f.storedReviews(t, 2)
	require.Len(t, stored, 2)
	assert.Equal(t, "Great crust", stored[1].Comments)
}

func TestSubmitReviewOfflineThenReplay(t *testing.T) {
	var f = newFixture(t, backendtest.Fixture(), backendtest.FixtureReviews())
	ctx := context.Background()

	_, err := f.cache.RestaurantReviews(ctx, 2, false)
	require.NoError(t, err)
	f.cache.Wait()

	f.backend.SetOffline(true)
	var payload = model.ReviewPayload{RestaurantID: 2, Name: "Ann", Rating: 4, Comments: "Worth the wait"}
	out, err := f.cache.SubmitReview(ctx, payload)
	require.NoError(t, err)
	assert.Equal(t, MsgReviewQueued, out.Message)

	// No optimistic local write.
	assert.Equal(t, []int64{3}, reviewIDs(f.storedReviews(t, 2)))

	pending, err := f.queue.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, http.MethodPost, pending[0].Data.Method)
	assert.Equal(t, backendtest.Base+"/reviews/", pending[0].Data.URL)
	expect, _ := json.Marshal(payload)
	assert.JSONEq(t, string(expect), string(pending[0].Data.Body))

	f.backend.SetOffline(false)
	n, err := f.queue.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rs, err := f.cache.RestaurantReviews(ctx, 2, true)
	require.NoError(t, err)
	assert.Len(t, rs, 2)
	f.cache.Wait()
	assert.Len(t, f.storedReviews(t, 2), 2)
}

func TestEnqueueFailureIsSurfaced(t *testing.T) {
	var f = newFixture(t, backendtest.Fixture(), nil)
	f.backend.SetOffline(true)
	f.cache.queue = failingQueue{}

	_, err := f.cache.SubmitReview(context.Background(), model.ReviewPayload{
		RestaurantID: 1, Name: "A", Rating: 2, Comments: "meh",
	})
	assert.True(t, errors.Is(err, ErrNotQueued))
}

type failingQueue struct{}

func (failingQueue) Enqueue(context.Context, model.MutationData) (int64, error) {
	return 0, errors.New("disk full")
}

func TestKeyedMutexReleasesEntries(t *testing.T) {
	var km keyedMutex
	unlock := km.Lock(1)
	unlock2 := km.Lock(2)
	unlock()
	unlock2()
	assert.Empty(t, km.entries)
}

func TestUpgradeReviewsStepwise(t *testing.T) {
	f := store.NewFactory("")
	defer f.Close()
	ctx := context.Background()

	db, err := f.Open(ctx, ReviewsDB, 1, UpgradeReviews)
	require.NoError(t, err)
	assert.Equal(t, []string{TableReviews}, db.Tables())

	db, err = f.Open(ctx, ReviewsDB, ReviewsVersion, UpgradeReviews)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{TableReviews, queue.Table}, db.Tables())
}
