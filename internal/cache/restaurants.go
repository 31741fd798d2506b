package cache

import (
	"context"
	"errors"

	"github.com/kittclouds/restokitt/internal/gateway"
	"github.com/kittclouds/restokitt/internal/model"
	"github.com/kittclouds/restokitt/internal/store"
	"github.com/kittclouds/restokitt/pkg/facet"
	log "github.com/sirupsen/logrus"
)

// Restaurants returns every restaurant. A non-empty local table is served
// as-is. Otherwise restaurants are fetched from the backend and written
// back, replacing stored facets. A failed fetch is returned as its
// *gateway.NetworkError or *gateway.HTTPError.
func (c *Cache) Restaurants(ctx context.Context) ([]model.Restaurant, error) {
	var local []model.Restaurant
	readLocal(ctx, c.dbs.Restaurants, "restaurants", []string{TableRestaurants}, func(tx *store.Tx) error {
		tb, err := tx.Table(TableRestaurants)
		if err != nil {
			return err
		}
		local, err = store.GetAllAs[model.Restaurant](tb)
		return err
	})
	if len(local) != 0 {
		readsTotal.WithLabelValues("restaurants", sourceLocal).Inc()
		return local, nil
	}

	// Concurrent misses share one fetch, which outlives the cancellation of
	// whichever caller started it.
	v, err, _ := c.flight.Do("restaurants", func() (any, error) {
		return c.fetchRestaurants(context.WithoutCancel(ctx))
	})
	if err != nil {
		return nil, err
	}
	return v.([]model.Restaurant), nil
}

// RefreshRestaurants fetches restaurants from the backend regardless of the
// local table, and writes them back.
func (c *Cache) RefreshRestaurants(ctx context.Context) ([]model.Restaurant, error) {
	v, err, _ := c.flight.Do("restaurants", func() (any, error) {
		return c.fetchRestaurants(context.WithoutCancel(ctx))
	})
	if err != nil {
		return nil, err
	}
	return v.([]model.Restaurant), nil
}

func (c *Cache) fetchRestaurants(ctx context.Context) ([]model.Restaurant, error) {
	var fetched []model.Restaurant
	if err := c.backend.FetchJSON(ctx, c.endpoints.Restaurants(), &fetched); err != nil {
		readsTotal.WithLabelValues("restaurants", sourceMiss).Inc()
		return nil, err
	}
	readsTotal.WithLabelValues("restaurants", sourceNetwork).Inc()

	var valid = fetched[:0]
	for _, r := range fetched {
		if err := r.Validate(); err != nil {
			log.WithFields(log.Fields{"restaurant": r.Name, "err": err}).Warn("dropping invalid restaurant")
			continue
		}
		valid = append(valid, r)
	}

	var rows = append([]model.Restaurant(nil), valid...)
	c.writeBack(ctx, "restaurants", func(ctx context.Context) error {
		return c.dbs.Restaurants.Transaction(ctx, []string{TableRestaurants, TableExtraInfo}, store.ReadWrite,
			func(tx *store.Tx) error {
				restaurants, err := tx.Table(TableRestaurants)
				if err != nil {
					return err
				}
				for _, r := range rows {
					if _, err := restaurants.Put(r); err != nil {
						return err
					}
				}
				// Stored facets are replaced by those of the refreshed set.
				extra, err := tx.Table(TableExtraInfo)
				if err != nil {
					return err
				}
				for _, name := range []string{model.FacetNeighborhoods, model.FacetCuisines} {
					values, _ := facet.Compute(name, rows)
					if _, err := extra.Put(model.FacetList{Name: name, Data: values}); err != nil {
						return err
					}
				}
				return nil
			})
	})
	return valid, nil
}

// RestaurantByID returns restaurant |id| from the local table or the
// backend. When it is in neither, or the backend cannot be reached, the
// model.NotFound placeholder is returned.
func (c *Cache) RestaurantByID(ctx context.Context, id int64) (*model.Restaurant, error) {
	return c.restaurantByID(ctx, id, true), nil
}

func (c *Cache) restaurantByID(ctx context.Context, id int64, writeBack bool) *model.Restaurant {
	var local *model.Restaurant
	readLocal(ctx, c.dbs.Restaurants, "restaurant", []string{TableRestaurants}, func(tx *store.Tx) error {
		tb, err := tx.Table(TableRestaurants)
		if err != nil {
			return err
		}
		local, _, err = store.GetAs[model.Restaurant](tb, id)
		return err
	})
	if local != nil {
		readsTotal.WithLabelValues("restaurant", sourceLocal).Inc()
		return local
	}

	var fetched model.Restaurant
	var err = c.backend.FetchJSON(ctx, c.endpoints.Restaurant(id), &fetched)
	if err == nil {
		err = fetched.Validate()
	}
	if err != nil {
		var httpErr *gateway.HTTPError
		var netErr *gateway.NetworkError
		if !errors.As(err, &httpErr) && !errors.As(err, &netErr) {
			log.WithFields(log.Fields{"id": id, "err": err}).Warn("invalid restaurant from backend")
		}
		readsTotal.WithLabelValues("restaurant", sourceMiss).Inc()
		return model.NotFound()
	}
	readsTotal.WithLabelValues("restaurant", sourceNetwork).Inc()

	if writeBack {
		var row = fetched
		c.writeBack(ctx, "restaurant", func(ctx context.Context) error {
			return c.putRestaurant(ctx, &row)
		})
	}
	return &fetched
}

func (c *Cache) putRestaurant(ctx context.Context, r *model.Restaurant) error {
	return c.dbs.Restaurants.Transaction(ctx, []string{TableRestaurants}, store.ReadWrite, func(tx *store.Tx) error {
		tb, err := tx.Table(TableRestaurants)
		if err != nil {
			return err
		}
		_, err = tb.Put(r)
		return err
	})
}

// Neighborhoods returns the distinct neighborhoods of all restaurants, in
// first-seen order.
func (c *Cache) Neighborhoods(ctx context.Context) ([]string, error) {
	return c.facet(ctx, model.FacetNeighborhoods)
}

// Cuisines returns the distinct cuisines of all restaurants, in first-seen
// order.
func (c *Cache) Cuisines(ctx context.Context) ([]string, error) {
	return c.facet(ctx, model.FacetCuisines)
}

// facet serves a stored facet, computing and storing it when it is absent
// or empty.
func (c *Cache) facet(ctx context.Context, name string) ([]string, error) {
	var stored *model.FacetList
	readLocal(ctx, c.dbs.Restaurants, name, []string{TableExtraInfo}, func(tx *store.Tx) error {
		tb, err := tx.Table(TableExtraInfo)
		if err != nil {
			return err
		}
		stored, _, err = store.GetAs[model.FacetList](tb, name)
		return err
	})
	if stored != nil && len(stored.Data) != 0 {
		readsTotal.WithLabelValues(name, sourceLocal).Inc()
		return stored.Data, nil
	}

	restaurants, err := c.Restaurants(ctx)
	if err != nil {
		return nil, err
	}
	values, _ := facet.Compute(name, restaurants)
	readsTotal.WithLabelValues(name, sourceNetwork).Inc()

	if len(values) != 0 {
		var list = model.FacetList{Name: name, Data: values}
		c.writeBack(ctx, name, func(ctx context.Context) error {
			return c.dbs.Restaurants.Transaction(ctx, []string{TableExtraInfo}, store.ReadWrite, func(tx *store.Tx) error {
				tb, err := tx.Table(TableExtraInfo)
				if err != nil {
					return err
				}
				_, err = tb.Put(list)
				return err
			})
		})
	}
	return values, nil
}

// ByCuisine returns restaurants of |cuisine|, or all for model.AllFilter.
func (c *Cache) ByCuisine(ctx context.Context, cuisine string) ([]model.Restaurant, error) {
	return c.filter(ctx, facet.Cuisine(cuisine))
}

// ByNeighborhood returns restaurants in |neighborhood|, or all for
// model.AllFilter.
func (c *Cache) ByNeighborhood(ctx context.Context, neighborhood string) ([]model.Restaurant, error) {
	return c.filter(ctx, facet.Neighborhood(neighborhood))
}

// ByCuisineAndNeighborhood applies both filters. Either may be
// model.AllFilter.
func (c *Cache) ByCuisineAndNeighborhood(ctx context.Context, cuisine, neighborhood string) ([]model.Restaurant, error) {
	return c.filter(ctx, facet.And(facet.Cuisine(cuisine), facet.Neighborhood(neighborhood)))
}

func (c *Cache) filter(ctx context.Context, p facet.Predicate) ([]model.Restaurant, error) {
	rs, err := c.Restaurants(ctx)
	if err != nil {
		return nil, err
	}
	return facet.Filter(rs, p), nil
}
