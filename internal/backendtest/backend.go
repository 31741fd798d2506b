// Package backendtest provides an in-process restaurant REST backend for
// tests, which can be switched offline.
package backendtest

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kittclouds/restokitt/internal/model"
)

// ErrOffline is returned by Do while the Backend is offline.
var ErrOffline = errors.New("backendtest: network unreachable")

// Base is the URL prefix Do expects.
const Base = "http://backend.test"

// Backend serves GET /restaurants, GET /restaurants/{id},
// PUT /restaurants/{id}/?is_favorite=, GET /reviews/?restaurant_id= and
// POST /reviews/ from memory.
type Backend struct {
	mu          sync.Mutex
	restaurants []model.Restaurant
	reviews     []model.Review
	nextReview  int64
	requests    []string

	offline atomic.Bool
	// FailStatus, when non-zero, is returned for every request.
	FailStatus atomic.Int32
}

// New returns a Backend holding copies of |restaurants| and |reviews|.
func New(restaurants []model.Restaurant, reviews []model.Review) *Backend {
	var b = &Backend{
		restaurants: append([]model.Restaurant(nil), restaurants...),
		reviews:     append([]model.Review(nil), reviews...),
		nextReview:  1,
	}
	for _, r := range reviews {
		if r.ID >= b.nextReview {
			b.nextReview = r.ID + 1
		}
	}
	return b
}

// SetOffline makes Do fail with ErrOffline.
func (b *Backend) SetOffline(offline bool) { b.offline.Store(offline) }

// Do implements gateway.Doer by serving |req| in-process.
func (b *Backend) Do(req *http.Request) (*http.Response, error) {
	if err := req.Context().Err(); err != nil {
		return nil, err
	}
	if b.offline.Load() {
		return nil, ErrOffline
	}
	var rec = httptest.NewRecorder()
	b.ServeHTTP(rec, req)
	return rec.Result(), nil
}

// Requests returns "METHOD path?query" of each request served.
func (b *Backend) Requests() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.requests...)
}

// Restaurant returns the backend's copy of restaurant |id|.
func (b *Backend) Restaurant(id int64) (model.Restaurant, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range b.restaurants {
		if r.ID == id {
			return r, true
		}
	}
	return model.Restaurant{}, false
}

// Reviews returns the backend's reviews of restaurant |id|.
func (b *Backend) Reviews(id int64) []model.Review {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reviewsOf(id)
}

func (b *Backend) reviewsOf(id int64) []model.Review {
	var out []model.Review
	for _, r := range b.reviews {
		if r.RestaurantID == id {
			out = append(out, r)
		}
	}
	return out
}

func (b *Backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var line = r.Method + " " + r.URL.Path
	if r.URL.RawQuery != "" {
		line += "?" + r.URL.RawQuery
	}
	b.requests = append(b.requests, line)

	if s := b.FailStatus.Load(); s != 0 {
		http.Error(w, http.StatusText(int(s)), int(s))
		return
	}

	var parts = strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case len(parts) == 1 && parts[0] == "restaurants" && r.Method == http.MethodGet:
		writeJSON(w, b.restaurants)
	case len(parts) == 2 && parts[0] == "restaurants":
		b.serveRestaurant(w, r, parts[1])
	case len(parts) == 1 && parts[0] == "reviews" && r.Method == http.MethodGet:
		id, _ := strconv.ParseInt(r.URL.Query().Get("restaurant_id"), 10, 64)
		writeJSON(w, nonNil(b.reviewsOf(id)))
	case len(parts) == 1 && parts[0] == "reviews" && r.Method == http.MethodPost:
		b.createReview(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (b *Backend) serveRestaurant(w http.ResponseWriter, r *http.Request, idStr string) {
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	var idx = -1
	for i := range b.restaurants {
		if b.restaurants[i].ID == id {
			idx = i
		}
	}
	if idx == -1 {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, b.restaurants[idx])
	case http.MethodPut:
		flag, err := strconv.ParseBool(r.URL.Query().Get("is_favorite"))
		if err != nil {
			http.Error(w, "bad is_favorite", http.StatusBadRequest)
			return
		}
		b.restaurants[idx].IsFavorite = model.Flag(flag)
		writeJSON(w, b.restaurants[idx])
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (b *Backend) createReview(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var p model.ReviewPayload
	if err := json.Unmarshal(body, &p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var now = time.Now().Truncate(time.Millisecond)
	var rv = model.Review{
		ID:           b.nextReview,
		RestaurantID: p.RestaurantID,
		Name:         p.Name,
		Rating:       p.Rating,
		Comments:     p.Comments,
		CreatedAt:    model.Timestamp{Time: now},
		UpdatedAt:    model.Timestamp{Time: now},
	}
	b.nextReview++
	b.reviews = append(b.reviews, rv)

	w.WriteHeader(http.StatusCreated)
	writeJSON(w, rv)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func nonNil(rs []model.Review) []model.Review {
	if rs == nil {
		return []model.Review{}
	}
	return rs
}

// Fixture is a small set of restaurants spanning repeated neighborhoods
// and cuisines.
func Fixture() []model.Restaurant {
	return []model.Restaurant{
		{ID: 1, Name: "Mission Chinese Food", CuisineType: "Asian", Neighborhood: "Manhattan",
			Photograph: "1", LatLng: model.LatLng{Lat: 40.713829, Lng: -73.989667}},
		{ID: 2, Name: "Emily", CuisineType: "Pizza", Neighborhood: "Brooklyn",
			Photograph: "2", LatLng: model.LatLng{Lat: 40.683555, Lng: -73.966393}},
		{ID: 3, Name: "Kang Ho Dong Baekjeong", CuisineType: "Asian", Neighborhood: "Manhattan",
			Photograph: "3", LatLng: model.LatLng{Lat: 40.747143, Lng: -73.985414}},
		{ID: 4, Name: "Katz's Delicatessen", CuisineType: "American", Neighborhood: "Manhattan",
			Photograph: "4", LatLng: model.LatLng{Lat: 40.722216, Lng: -73.987501}},
		{ID: 5, Name: "Roberta's Pizza", CuisineType: "Pizza", Neighborhood: "Brooklyn",
			Photograph: "5", LatLng: model.LatLng{Lat: 40.705089, Lng: -73.933585}},
		{ID: 6, Name: "Hometown BBQ", CuisineType: "American", Neighborhood: "Brooklyn",
			Photograph: "6", LatLng: model.LatLng{Lat: 40.674925, Lng: -74.016162}},
		{ID: 42, Name: "Casa Enrique", CuisineType: "Mexican", Neighborhood: "Queens",
			Photograph: "10", LatLng: model.LatLng{Lat: 40.743394, Lng: -73.954235}},
	}
}

// FixtureReviews are reviews of Fixture restaurants.
func FixtureReviews() []model.Review {
	var at = model.Timestamp{Time: time.UnixMilli(1504095567183)}
	return []model.Review{
		{ID: 1, RestaurantID: 1, Name: "Steve", Rating: 4, Comments: "Mission Chinese Food has grown up.", CreatedAt: at, UpdatedAt: at},
		{ID: 2, RestaurantID: 1, Name: "Morgan", Rating: 4, Comments: "This place is a blast.", CreatedAt: at, UpdatedAt: at},
		{ID: 3, RestaurantID: 2, Name: "Jason", Rating: 3, Comments: "I came here for the pizza.", CreatedAt: at, UpdatedAt: at},
	}
}
