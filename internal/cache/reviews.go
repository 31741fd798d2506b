package cache

import (
	"context"

	"github.com/kittclouds/restokitt/internal/model"
	"github.com/kittclouds/restokitt/internal/store"
	log "github.com/sirupsen/logrus"
)

// RestaurantReviews returns the reviews of restaurant |id|. Stored reviews
// are served unless there are none or |forceNetwork| is set, in which case
// they are fetched and the restaurant's stored reviews are replaced. A
// forced fetch which fails falls back to stored reviews when there are any.
func (c *Cache) RestaurantReviews(ctx context.Context, id int64, forceNetwork bool) ([]model.Review, error) {
	var local []model.Review
	readLocal(ctx, c.dbs.Reviews, "reviews", []string{TableReviews}, func(tx *store.Tx) error {
		var err error
		local, err = c.localReviews(tx, id)
		return err
	})
	if len(local) != 0 && !forceNetwork {
		readsTotal.WithLabelValues("reviews", sourceLocal).Inc()
		return local, nil
	}

	var fetched []model.Review
	if err := c.backend.FetchJSON(ctx, c.endpoints.RestaurantReviews(id), &fetched); err != nil {
		if len(local) != 0 {
			log.WithFields(log.Fields{"restaurant": id, "err": err}).Info("review refresh failed, serving stored reviews")
			readsTotal.WithLabelValues("reviews", sourceLocal).Inc()
			return local, nil
		}
		readsTotal.WithLabelValues("reviews", sourceMiss).Inc()
		return nil, err
	}
	readsTotal.WithLabelValues("reviews", sourceNetwork).Inc()

	var valid = make([]model.Review, 0, len(fetched))
	for _, rv := range fetched {
		if err := rv.Validate(); err != nil {
			log.WithFields(log.Fields{"review": rv.ID, "err": err}).Warn("dropping invalid review")
			continue
		}
		if rv.RestaurantID != id {
			continue
		}
		valid = append(valid, rv)
	}

	var rows = append([]model.Review(nil), valid...)
	c.writeBack(ctx, "reviews", func(ctx context.Context) error {
		return c.replaceReviews(ctx, id, rows)
	})
	return valid, nil
}

func (c *Cache) localReviews(tx *store.Tx, id int64) ([]model.Review, error) {
	tb, err := tx.Table(TableReviews)
	if err != nil {
		return nil, err
	}
	ix, err := tb.Index(IndexRestaurantID)
	if err != nil {
		return nil, err
	}
	raws, err := ix.GetAll(id)
	if err != nil {
		return nil, err
	}
	return store.DecodeAll[model.Review](raws)
}

// replaceReviews makes |rows| the stored reviews of restaurant |id|.
func (c *Cache) replaceReviews(ctx context.Context, id int64, rows []model.Review) error {
	return c.dbs.Reviews.Transaction(ctx, []string{TableReviews}, store.ReadWrite, func(tx *store.Tx) error {
		existing, err := c.localReviews(tx, id)
		if err != nil {
			return err
		}
		tb, err := tx.Table(TableReviews)
		if err != nil {
			return err
		}
		var keep = make(map[int64]bool, len(rows))
		for _, rv := range rows {
			if _, err := tb.Put(rv); err != nil {
				return err
			}
			keep[rv.ID] = true
		}
		for _, rv := range existing {
			if !keep[rv.ID] {
				if err := tb.Delete(rv.ID); err != nil {
					return err
				}
			}
		}
		return nil
	})
}
