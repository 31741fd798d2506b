package cache

import (
	"context"
	"fmt"

	"github.com/kittclouds/restokitt/internal/queue"
	"github.com/kittclouds/restokitt/internal/store"
)

// Databases and their current versions.
const (
	RestaurantsDB      = "mws-restaurant"
	RestaurantsVersion = 1

	ReviewsDB      = "mws-restaurant-reviews"
	ReviewsVersion = 2
)

// Tables and indexes.
const (
	TableRestaurants = "restaurants"
	TableExtraInfo   = "extraInfo"
	TableReviews     = "reviews"

	IndexRestaurantID = "restaurant_id"
)

// UpgradeRestaurants migrates the restaurants database.
func UpgradeRestaurants(u *store.Upgrade, oldVersion int) error {
	switch oldVersion {
	case 0:
		if err := u.CreateTable(TableRestaurants, store.TableOptions{KeyPath: "id"}); err != nil {
			return err
		}
		if err := u.CreateTable(TableExtraInfo, store.TableOptions{KeyPath: "name"}); err != nil {
			return err
		}
	}
	return nil
}

// UpgradeReviews migrates the reviews database. Version 2 adds the
// mutation queue.
func UpgradeReviews(u *store.Upgrade, oldVersion int) error {
	if oldVersion < 1 {
		if err := u.CreateTable(TableReviews, store.TableOptions{KeyPath: "id"}); err != nil {
			return err
		}
		if err := u.CreateIndex(TableReviews, store.IndexOptions{
			Name:    IndexRestaurantID,
			KeyPath: "restaurant_id",
		}); err != nil {
			return err
		}
	}
	if oldVersion < 2 && u.NewVersion() >= 2 {
		if err := queue.CreateTable(u); err != nil {
			return err
		}
	}
	return nil
}

// Databases are the two local databases backing a Cache.
type Databases struct {
	Restaurants *store.DB
	Reviews     *store.DB
}

// OpenDatabases opens (and upgrades) both databases of |f|.
func OpenDatabases(ctx context.Context, f *store.Factory) (*Databases, error) {
	rdb, err := f.Open(ctx, RestaurantsDB, RestaurantsVersion, UpgradeRestaurants)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", RestaurantsDB, err)
	}
	vdb, err := f.Open(ctx, ReviewsDB, ReviewsVersion, UpgradeReviews)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", ReviewsDB, err)
	}
	return &Databases{Restaurants: rdb, Reviews: vdb}, nil
}
