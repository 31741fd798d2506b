// Package model defines the typed records exchanged between the restaurant
// REST backend, the local store and the presentation layer.
package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Facet names, which double as keys of the extraInfo table.
const (
	FacetNeighborhoods = "neighborhoods"
	FacetCuisines      = "cuisines"
)

// AllFilter disables a cuisine or neighborhood filter.
const AllFilter = "all"

// LatLng is a map coordinate.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Restaurant mirrors a row of GET /restaurants.
type Restaurant struct {
	ID             int64             `json:"id"`
	Name           string            `json:"name"`
	CuisineType    string            `json:"cuisine_type"`
	Neighborhood   string            `json:"neighborhood"`
	Address        string            `json:"address"`
	LatLng         LatLng            `json:"latlng"`
	Photograph     string            `json:"photograph"`
	OperatingHours map[string]string `json:"operating_hours,omitempty"`
	IsFavorite     Flag              `json:"is_favorite"`
}

// NotFound is the placeholder served when a restaurant is absent both
// locally and remotely.
func NotFound() *Restaurant {
	return &Restaurant{
		Name:       "Restaurant Not Found",
		Photograph: "rest-nf.png",
	}
}

// IsNotFound reports whether r is the NotFound placeholder.
func (r *Restaurant) IsNotFound() bool {
	return r != nil && r.ID == 0 && r.Name == "Restaurant Not Found"
}

// Validate checks the fields the store relies on.
func (r *Restaurant) Validate() error {
	if r.ID <= 0 {
		return &ValidationError{Field: "id", Reason: "must be positive"}
	}
	return nil
}

// Review mirrors a row of GET /reviews.
type Review struct {
	ID           int64     `json:"id"`
	RestaurantID int64     `json:"restaurant_id"`
	Name         string    `json:"name"`
	Rating       Rating    `json:"rating"`
	Comments     string    `json:"comments"`
	CreatedAt    Timestamp `json:"createdAt"`
	UpdatedAt    Timestamp `json:"updatedAt"`
}

// Edited reports whether the review was updated after creation.
func (r *Review) Edited() bool {
	return !r.CreatedAt.Time.Equal(r.UpdatedAt.Time)
}

// Validate checks the fields the store relies on.
func (r *Review) Validate() error {
	if r.ID <= 0 {
		return &ValidationError{Field: "id", Reason: "must be positive"}
	}
	if r.RestaurantID <= 0 {
		return &ValidationError{Field: "restaurant_id", Reason: "must be positive"}
	}
	if r.Rating < 1 || r.Rating > 5 {
		return &ValidationError{Field: "rating", Reason: "must be between 1 and 5"}
	}
	return nil
}

// ReviewPayload is the body of POST /reviews.
type ReviewPayload struct {
	RestaurantID int64  `json:"restaurant_id"`
	Name         string `json:"name"`
	Rating       Rating `json:"rating"`
	Comments     string `json:"comments"`
}

// Validate applies the review form rules. Reasons are user-facing.
func (p *ReviewPayload) Validate() error {
	switch {
	case p.RestaurantID <= 0:
		return &ValidationError{Field: "restaurant_id", Reason: "No restaurant selected"}
	case p.Name == "":
		return &ValidationError{Field: "name", Reason: "Please enter your name"}
	case p.Rating == 0:
		return &ValidationError{Field: "rating", Reason: "Need to select rating !"}
	case p.Rating < 1 || p.Rating > 5:
		return &ValidationError{Field: "rating", Reason: "Rating must be between 1 and 5"}
	case p.Comments == "":
		return &ValidationError{Field: "comments", Reason: "Cannot submit without review. Please add a few words !"}
	}
	return nil
}

// FacetList is a de-duplicated, first-seen ordered list of values stored
// under Name in the extraInfo table.
type FacetList struct {
	Name string   `json:"name"`
	Data []string `json:"data"`
}

// ValidationError rejects a malformed record at the cache boundary.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Flag is a boolean which also accepts the strings "true" and "false", as
// the backend echoes query parameters back verbatim.
type Flag bool

func (f *Flag) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case nil:
		*f = false
	case bool:
		*f = Flag(t)
	case string:
		parsed, err := strconv.ParseBool(t)
		if err != nil {
			return fmt.Errorf("invalid flag %q: %w", t, err)
		}
		*f = Flag(parsed)
	default:
		return fmt.Errorf("invalid flag %s", string(b))
	}
	return nil
}

// Rating is a 1-5 score. Form submissions send it as a string.
type Rating int

func (r *Rating) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case float64:
		*r = Rating(t)
	case string:
		n, err := strconv.Atoi(t)
		if err != nil {
			return fmt.Errorf("invalid rating %q: %w", t, err)
		}
		*r = Rating(n)
	default:
		return fmt.Errorf("invalid rating %s", string(b))
	}
	return nil
}

// Timestamp accepts epoch milliseconds or RFC 3339 strings and marshals
// back to epoch milliseconds.
type Timestamp struct {
	time.Time
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(t.UnixMilli(), 10)), nil
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case nil:
		t.Time = time.Time{}
	case float64:
		t.Time = time.UnixMilli(int64(x)).UTC()
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, x)
		if err != nil {
			return fmt.Errorf("invalid timestamp %q: %w", x, err)
		}
		t.Time = parsed
	default:
		return fmt.Errorf("invalid timestamp %s", string(b))
	}
	return nil
}
