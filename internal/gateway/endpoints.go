package gateway

import (
	"net/url"
	"strconv"
	"strings"
)

// Endpoints builds backend URLs relative to Base, such as
// "http://localhost:1337".
type Endpoints struct {
	Base string
}

func (e Endpoints) base() string { return strings.TrimRight(e.Base, "/") }

// Restaurants is the collection of all restaurants.
func (e Endpoints) Restaurants() string { return e.base() + "/restaurants" }

// Restaurant is a single restaurant.
func (e Endpoints) Restaurant(id int64) string {
	return e.Restaurants() + "/" + strconv.FormatInt(id, 10)
}

// Favorite sets or clears the favorite flag of a restaurant.
func (e Endpoints) Favorite(id int64, flag bool) string {
	return e.Restaurant(id) + "/?is_favorite=" + strconv.FormatBool(flag)
}

// Reviews is the collection reviews are POSTed to.
func (e Endpoints) Reviews() string { return e.base() + "/reviews/" }

// RestaurantReviews lists the reviews of one restaurant.
func (e Endpoints) RestaurantReviews(id int64) string {
	var q = url.Values{"restaurant_id": {strconv.FormatInt(id, 10)}}
	return e.base() + "/reviews/?" + q.Encode()
}
