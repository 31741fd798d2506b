package app

import (
	"github.com/kittclouds/restokitt/internal/model"
)

// State is the UI selection the App acts on.
type State struct {
	// CurrentRestaurant is the restaurant last shown by FetchRestaurantByID.
	CurrentRestaurant *model.Restaurant `json:"currentRestaurant,omitempty"`
	// Cuisine and Neighborhood are the last applied filters.
	Cuisine      string `json:"cuisine"`
	Neighborhood string `json:"neighborhood"`
}

// State returns a copy of the current State.
func (a *App) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()

	var s = a.state
	if s.CurrentRestaurant != nil {
		var r = *s.CurrentRestaurant
		s.CurrentRestaurant = &r
	}
	return s
}

func (a *App) setCurrent(r *model.Restaurant) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if r == nil || r.IsNotFound() {
		a.state.CurrentRestaurant = nil
		return
	}
	var cp = *r
	a.state.CurrentRestaurant = &cp
}

func (a *App) setFilters(cuisine, neighborhood string) {
	a.mu.Lock()
	a.state.Cuisine, a.state.Neighborhood = cuisine, neighborhood
	a.mu.Unlock()
}

func (a *App) currentID() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state.CurrentRestaurant == nil {
		return 0
	}
	return a.state.CurrentRestaurant.ID
}
