package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/kittclouds/restokitt/internal/model"
	log "github.com/sirupsen/logrus"
)

// ErrNotQueued is returned when a write could neither be delivered nor
// queued. MsgNotQueued is its user-facing message.
var ErrNotQueued = errors.New("could not add write to queue")

// Status of a user write.
type Status int

const (
	// Delivered writes were accepted by the backend.
	Delivered Status = iota
	// Queued writes await replay.
	Queued
)

func (s Status) String() string {
	if s == Queued {
		return "queued"
	}
	return "delivered"
}

// Outcome of a user write, with a message for the user.
type Outcome struct {
	Status  Status `json:"-"`
	Queued  bool   `json:"queued"`
	Message string `json:"message"`
}

func outcome(s Status, msg string) Outcome {
	return Outcome{Status: s, Queued: s == Queued, Message: msg}
}

// Messages shown for write outcomes.
const (
	MsgReviewDelivered   = "review successfully submited"
	MsgReviewQueued      = "Browser is Offline. Your review is added to queue"
	MsgFavoriteDelivered = "favorite saved"
	MsgFavoriteQueued    = "Browser is Offline. Your favorite is added to queue"
	MsgNotQueued         = "Error. Browser is Offline. Could not add to queue. Retry later."
)

// ChangeFavorite sets the favorite flag of restaurant |id|. The stored
// restaurant is updated first and unconditionally. If the backend cannot be
// reached or rejects the change, it is queued for replay. Changes to the
// same restaurant are applied one at a time.
func (c *Cache) ChangeFavorite(ctx context.Context, id int64, flag bool) (Outcome, error) {
	if id <= 0 {
		return Outcome{}, &model.ValidationError{Field: "id", Reason: "must be positive"}
	}
	var unlock = c.favorites.Lock(id)
	defer unlock()

	var r = c.restaurantByID(ctx, id, false)
	if r.IsNotFound() {
		log.WithField("id", id).Warn("favorite of unknown restaurant, updating backend only")
	} else {
		r.IsFavorite = model.Flag(flag)
		if err := c.putRestaurant(ctx, r); err != nil {
			log.WithFields(log.Fields{"id": id, "err": err}).Warn("failed to store favorite locally")
		}
	}

	var url = c.endpoints.Favorite(id, flag)
	if c.deliver(ctx, http.MethodPut, url, nil) {
		writesTotal.WithLabelValues("favorite", Delivered.String()).Inc()
		return outcome(Delivered, MsgFavoriteDelivered), nil
	}
	if err := c.enqueue(ctx, model.MutationData{URL: url, Method: http.MethodPut}); err != nil {
		return Outcome{}, err
	}
	writesTotal.WithLabelValues("favorite", Queued.String()).Inc()
	return outcome(Queued, MsgFavoriteQueued), nil
}

// SubmitReview validates and posts |p|. On success the restaurant's reviews
// are refreshed from the backend. Otherwise the review is queued for replay.
// There is no local write of the review itself.
func (c *Cache) SubmitReview(ctx context.Context, p model.ReviewPayload) (Outcome, error) {
	if err := p.Validate(); err != nil {
		return Outcome{}, err
	}
	body, err := json.Marshal(p)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to encode review: %w", err)
	}

	var url = c.endpoints.Reviews()
	if c.deliver(ctx, http.MethodPost, url, body) {
		if _, err := c.RestaurantReviews(ctx, p.RestaurantID, true); err != nil {
			log.WithFields(log.Fields{"restaurant": p.RestaurantID, "err": err}).Warn("failed to refresh reviews")
		}
		writesTotal.WithLabelValues("review", Delivered.String()).Inc()
		return outcome(Delivered, MsgReviewDelivered), nil
	}
	if err := c.enqueue(ctx, model.MutationData{URL: url, Method: http.MethodPost, Body: body}); err != nil {
		return Outcome{}, err
	}
	writesTotal.WithLabelValues("review", Queued.String()).Inc()
	return outcome(Queued, MsgReviewQueued), nil
}

func (c *Cache) deliver(ctx context.Context, method, url string, body json.RawMessage) bool {
	resp, err := c.backend.Send(ctx, method, url, body)
	if err != nil {
		log.WithFields(log.Fields{"method": method, "url": url, "err": err}).Info("backend unreachable")
		return false
	}
	if !resp.OK {
		log.WithFields(log.Fields{
			"method": method,
			"url":    url,
			"status": resp.Status,
		}).Warn("backend rejected write")
		return false
	}
	return true
}

func (c *Cache) enqueue(ctx context.Context, data model.MutationData) error {
	if _, err := c.queue.Enqueue(ctx, data); err != nil {
		writesTotal.WithLabelValues(kindOf(data), "failed").Inc()
		log.WithFields(log.Fields{"url": data.URL, "err": err}).Error("failed to queue write")
		return fmt.Errorf("%w: %w", ErrNotQueued, err)
	}
	return nil
}

func kindOf(data model.MutationData) string {
	if data.Method == http.MethodPost {
		return "review"
	}
	return "favorite"
}
