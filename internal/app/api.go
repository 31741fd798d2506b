package app

import (
	"context"
	"fmt"

	"github.com/kittclouds/restokitt/internal/cache"
	"github.com/kittclouds/restokitt/internal/connectivity"
	"github.com/kittclouds/restokitt/internal/model"
	"github.com/kittclouds/restokitt/pkg/imageurl"
	"github.com/kittclouds/restokitt/pkg/search"
	log "github.com/sirupsen/logrus"
)

// FetchRestaurants returns every restaurant, local-first.
func (a *App) FetchRestaurants(ctx context.Context) ([]model.Restaurant, error) {
	rs, err := a.cache.Restaurants(ctx)
	if err != nil {
		return nil, err
	}
	a.indexNearby(rs)
	return rs, nil
}

// FetchRestaurantByID returns restaurant |id| and makes it the current
// restaurant. An unknown restaurant yields the NotFound placeholder.
func (a *App) FetchRestaurantByID(ctx context.Context, id int64) (*model.Restaurant, error) {
	r, err := a.cache.RestaurantByID(ctx, id)
	if err != nil {
		return nil, err
	}
	a.setCurrent(r)
	return r, nil
}

// FetchRestaurantByCuisineAndNeighborhood returns restaurants matching
// both filters, where model.AllFilter matches any value.
func (a *App) FetchRestaurantByCuisineAndNeighborhood(ctx context.Context, cuisine, neighborhood string) ([]model.Restaurant, error) {
	a.setFilters(cuisine, neighborhood)
	return a.cache.ByCuisineAndNeighborhood(ctx, cuisine, neighborhood)
}

// FetchNeighborhoods returns the distinct neighborhoods.
func (a *App) FetchNeighborhoods(ctx context.Context) ([]string, error) {
	return a.cache.Neighborhoods(ctx)
}

// FetchCuisines returns the distinct cuisines.
func (a *App) FetchCuisines(ctx context.Context) ([]string, error) {
	return a.cache.Cuisines(ctx)
}

// FetchRestaurantReviews returns the reviews of restaurant |id|. With
// |force| the backend is asked first.
func (a *App) FetchRestaurantReviews(ctx context.Context, id int64, force bool) ([]model.Review, error) {
	return a.cache.RestaurantReviews(ctx, id, force)
}

// ChangeFavorite sets the favorite flag of restaurant |id|.
func (a *App) ChangeFavorite(ctx context.Context, id int64, flag bool) (cache.Outcome, error) {
	out, err := a.cache.ChangeFavorite(ctx, id, flag)
	if err == nil {
		a.mu.Lock()
		if cur := a.state.CurrentRestaurant; cur != nil && cur.ID == id {
			cur.IsFavorite = model.Flag(flag)
		}
		a.mu.Unlock()
	}
	return out, err
}

// SubmitReview posts |p|, queueing it while offline.
func (a *App) SubmitReview(ctx context.Context, p model.ReviewPayload) (cache.Outcome, error) {
	return a.cache.SubmitReview(ctx, p)
}

// DrainMutationQueue replays queued writes and returns how many were
// attempted. Undelivered writes stay queued.
func (a *App) DrainMutationQueue(ctx context.Context) (int, error) {
	return a.queue.Drain(ctx)
}

// SetOnline reports a connectivity change from the host. Going back
// online drains the queue and refreshes the current restaurant's reviews,
// before SetOnline returns. It returns whether the state changed.
func (a *App) SetOnline(ctx context.Context, online bool) bool {
	var s = connectivity.Offline
	if online {
		s = connectivity.Online
	}
	_, changed := a.monitor.Set(ctx, s)
	return changed
}

// Online reports the current connectivity state.
func (a *App) Online() bool { return a.monitor.State() == connectivity.Online }

// Resync is the result of a reconnection.
type Resync struct {
	// Processed is the number of queued writes attempted.
	Processed int `json:"processed"`
	// Message for the user. Empty when nothing was processed.
	Message string `json:"message,omitempty"`
	// RestaurantID is the current restaurant, whose reviews were refreshed.
	RestaurantID int64          `json:"restaurantId,omitempty"`
	Reviews      []model.Review `json:"reviews,omitempty"`
}

// ResyncMessage is the user message for |n| replayed writes.
func ResyncMessage(n int) string {
	if n == 0 {
		return ""
	} else if n == 1 {
		return "You are back Online. 1 postponed request was processed"
	}
	return fmt.Sprintf("You are back Online. %d postponed requests were processed", n)
}

func (a *App) onTransition(ctx context.Context, t connectivity.Transition) {
	if !t.Reconnected() {
		return
	}
	var out, err = a.resync(ctx)
	if err != nil {
		log.WithField("err", err).Warn("resync after reconnection failed")
	}
	if a.onResync != nil {
		a.onResync(out)
	}
}

func (a *App) resync(ctx context.Context) (Resync, error) {
	var out Resync

	n, err := a.queue.Drain(ctx)
	if err != nil {
		return out, fmt.Errorf("failed to drain queue: %w", err)
	}
	out.Processed, out.Message = n, ResyncMessage(n)

	if id := a.currentID(); id != 0 {
		out.RestaurantID = id
		if out.Reviews, err = a.cache.RestaurantReviews(ctx, id, true); err != nil {
			return out, fmt.Errorf("failed to refresh reviews of %d: %w", id, err)
		}
	}
	log.WithFields(log.Fields{"processed": n, "restaurant": out.RestaurantID}).Info("resynced after reconnection")
	return out, nil
}

// Search ranks restaurants by the words of |query|.
func (a *App) Search(ctx context.Context, query string) ([]search.Hit, error) {
	rs, err := a.cache.Restaurants(ctx)
	if err != nil {
		return nil, err
	}
	return search.Search(rs, query), nil
}

// NearbyRestaurant is a restaurant and its distance in meters.
type NearbyRestaurant struct {
	Restaurant model.Restaurant `json:"restaurant"`
	Meters     float64          `json:"meters"`
}

// Nearby returns up to |k| restaurants closest to restaurant |id|.
func (a *App) Nearby(ctx context.Context, id int64, k int) ([]NearbyRestaurant, error) {
	rs, err := a.FetchRestaurants(ctx)
	if err != nil {
		return nil, err
	}
	var byID = make(map[int64]*model.Restaurant, len(rs))
	for i := range rs {
		byID[rs[i].ID] = &rs[i]
	}

	var out []NearbyRestaurant
	for _, n := range a.nearby.Near(id, k) {
		if r, ok := byID[n.ID]; ok {
			out = append(out, NearbyRestaurant{Restaurant: *r, Meters: n.Meters})
		}
	}
	return out, nil
}

// indexNearby adds |rs| to the nearby index, saving it when it grew.
func (a *App) indexNearby(rs []model.Restaurant) {
	// A faulty index must not fail the read.
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("nearby indexing panicked")
		}
	}()
	var before = a.nearby.Len()
	for _, r := range rs {
		if err := a.nearby.Add(r.ID, r.LatLng); err != nil {
			log.WithFields(log.Fields{"id": r.ID, "err": err}).Warn("failed to index restaurant")
		}
	}
	if a.nearby.Len() == before {
		return
	}
	if err := a.nearby.Save(); err != nil {
		log.WithField("err", err).Warn("failed to save nearby index")
	}
}

// ImageSources returns the responsive image sources of |r|.
func (a *App) ImageSources(r *model.Restaurant) imageurl.Sources {
	return imageurl.ForSources(r)
}

// RestaurantURL returns the page URL of |r|.
func (a *App) RestaurantURL(r *model.Restaurant) string {
	return imageurl.RestaurantURL(r)
}
