package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/kittclouds/restokitt/internal/app"
	"github.com/kittclouds/restokitt/internal/connectivity"
	"github.com/kittclouds/restokitt/internal/model"
	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

type cmdServe struct{}

func (cmdServe) Execute([]string) error {
	var ctx, cancel, a = startup(app.Deps{
		OnResync: func(r app.Resync) {
			if r.Message != "" {
				log.WithField("processed", r.Processed).Info(r.Message)
			}
		},
	})
	defer shutdown(cancel, a)

	if err := a.Assets().Install(ctx); err != nil {
		log.WithField("err", err).Warn("failed to install asset caches, serving the previous generation")
	} else if _, err := a.Assets().Activate(ctx); err != nil {
		log.WithField("err", err).Warn("failed to activate asset caches")
	}

	if interval := Config.Connectivity.ProbeInterval; interval > 0 {
		go connectivity.Probe(ctx, a.Monitor(), interval, a.Probe)
	}

	var mux = http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", a.Assets())

	var srv = &http.Server{
		Addr:              Config.Serve.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		var shutdownCtx, done = context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		srv.Shutdown(shutdownCtx)
	}()

	log.WithFields(log.Fields{
		"addr":   Config.Serve.Addr,
		"origin": Config.Assets.Origin,
	}).Info("serving app shell")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

type cmdSync struct{}

func (cmdSync) Execute([]string) error {
	var ctx, cancel, a = startup(app.Deps{})
	defer shutdown(cancel, a)

	n, err := a.DrainMutationQueue(ctx)
	if err != nil {
		return err
	}
	rs, err := a.Cache().RefreshRestaurants(ctx)
	if err != nil {
		return err
	}
	pending, err := a.Queue().Len(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "replayed %d queued write(s), %d still queued; refreshed %d restaurant(s)\n",
		n, pending, len(rs))
	return nil
}

type cmdList struct {
	Cuisine      string `long:"cuisine" default:"all" description:"Cuisine to list, or 'all'"`
	Neighborhood string `long:"neighborhood" default:"all" description:"Neighborhood to list, or 'all'"`
}

func (cmd *cmdList) Execute([]string) error {
	var ctx, cancel, a = startup(app.Deps{})
	defer shutdown(cancel, a)

	rs, err := a.FetchRestaurantByCuisineAndNeighborhood(ctx, cmd.Cuisine, cmd.Neighborhood)
	if err != nil {
		return err
	}
	var table = tablewriter.NewWriter(stdout)
	table.SetHeader([]string{"ID", "Name", "Cuisine", "Neighborhood", "Favorite", "Page"})
	for i := range rs {
		var r = &rs[i]
		table.Append([]string{
			strconv.FormatInt(r.ID, 10),
			r.Name,
			r.CuisineType,
			r.Neighborhood,
			strconv.FormatBool(bool(r.IsFavorite)),
			a.RestaurantURL(r),
		})
	}
	table.Render()
	return nil
}

type cmdReviews struct {
	ID    int64 `long:"id" required:"true" description:"Restaurant ID"`
	Force bool  `long:"force" description:"Ask the backend before the local store"`
}

func (cmd *cmdReviews) Execute([]string) error {
	var ctx, cancel, a = startup(app.Deps{})
	defer shutdown(cancel, a)

	rs, err := a.FetchRestaurantReviews(ctx, cmd.ID, cmd.Force)
	if err != nil {
		return err
	}
	var table = tablewriter.NewWriter(stdout)
	table.SetHeader([]string{"ID", "Name", "Rating", "Posted", "Comments"})
	for _, r := range rs {
		var posted = humanize.Time(r.CreatedAt.Time)
		if r.Edited() {
			posted += " (edited)"
		}
		table.Append([]string{
			strconv.FormatInt(r.ID, 10),
			r.Name,
			strings.Repeat("*", int(r.Rating)),
			posted,
			r.Comments,
		})
	}
	table.Render()
	return nil
}

type cmdFavorite struct {
	ID  int64 `long:"id" required:"true" description:"Restaurant ID"`
	Off bool  `long:"off" description:"Remove the restaurant from favorites"`
}

func (cmd *cmdFavorite) Execute([]string) error {
	var ctx, cancel, a = startup(app.Deps{})
	defer shutdown(cancel, a)

	out, err := a.ChangeFavorite(ctx, cmd.ID, !cmd.Off)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, out.Message)
	return nil
}

type cmdReview struct {
	ID       int64  `long:"id" required:"true" description:"Restaurant ID"`
	Name     string `long:"name" description:"Reviewer name"`
	Rating   int    `long:"rating" description:"Rating, 1 to 5"`
	Comments string `long:"comments" description:"Review text"`
}

func (cmd *cmdReview) Execute([]string) error {
	var ctx, cancel, a = startup(app.Deps{})
	defer shutdown(cancel, a)

	out, err := a.SubmitReview(ctx, model.ReviewPayload{
		RestaurantID: cmd.ID,
		Name:         cmd.Name,
		Rating:       model.Rating(cmd.Rating),
		Comments:     cmd.Comments,
	})
	var verr *model.ValidationError
	if errors.As(err, &verr) {
		return errors.New(verr.Reason)
	} else if err != nil {
		return err
	}
	fmt.Fprintln(stdout, out.Message)
	return nil
}

type cmdSearch struct {
	Args struct {
		Query []string `positional-arg-name:"query" required:"1"`
	} `positional-args:"yes"`
}

func (cmd *cmdSearch) Execute([]string) error {
	var ctx, cancel, a = startup(app.Deps{})
	defer shutdown(cancel, a)

	hits, err := a.Search(ctx, strings.Join(cmd.Args.Query, " "))
	if err != nil {
		return err
	}
	var table = tablewriter.NewWriter(stdout)
	table.SetHeader([]string{"ID", "Name", "Cuisine", "Neighborhood", "Score"})
	for _, h := range hits {
		table.Append([]string{
			strconv.FormatInt(h.Restaurant.ID, 10),
			h.Restaurant.Name,
			h.Restaurant.CuisineType,
			h.Restaurant.Neighborhood,
			strconv.Itoa(h.Score),
		})
	}
	table.Render()
	return nil
}

type cmdNearby struct {
	ID int64 `long:"id" required:"true" description:"Restaurant ID"`
	K  int   `long:"k" default:"5" description:"Number of restaurants to list"`
}

func (cmd *cmdNearby) Execute([]string) error {
	var ctx, cancel, a = startup(app.Deps{})
	defer shutdown(cancel, a)

	out, err := a.Nearby(ctx, cmd.ID, cmd.K)
	if err != nil {
		return err
	}
	var table = tablewriter.NewWriter(stdout)
	table.SetHeader([]string{"ID", "Name", "Neighborhood", "Distance"})
	for _, n := range out {
		table.Append([]string{
			strconv.FormatInt(n.Restaurant.ID, 10),
			n.Restaurant.Name,
			n.Restaurant.Neighborhood,
			humanize.SIWithDigits(n.Meters, 1, "m"),
		})
	}
	table.Render()
	return nil
}

type cmdQueue struct{}

func (cmdQueue) Execute([]string) error {
	var ctx, cancel, a = startup(app.Deps{})
	defer shutdown(cancel, a)

	var table = tablewriter.NewWriter(stdout)
	table.SetHeader([]string{"ID", "Method", "URL", "Body"})
	for m := range a.Queue().Pending(ctx) {
		var body = "-"
		if m.Data.HasBody() {
			body = humanize.Bytes(uint64(len(m.Data.Body)))
		}
		table.Append([]string{strconv.FormatInt(m.ID, 10), m.Data.Method, m.Data.URL, body})
	}
	table.Render()
	return nil
}

type cmdCacheStats struct{}

func (cmdCacheStats) Execute([]string) error {
	var ctx, cancel, a = startup(app.Deps{})
	defer shutdown(cancel, a)

	stats, err := a.Assets().Storage().Stats()
	if err != nil {
		return err
	}
	var allow = a.Assets().AllowList()

	var table = tablewriter.NewWriter(stdout)
	table.SetHeader([]string{"Cache", "Entries", "Size", "Current"})
	for _, st := range stats {
		var current = "no"
		for _, name := range allow {
			if name == st.Name {
				current = "yes"
			}
		}
		table.Append([]string{
			st.Name,
			humanize.Comma(int64(st.Entries)),
			humanize.Bytes(uint64(st.Bytes)),
			current,
		})
	}
	table.Render()

	n, err := a.Queue().Len(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s queued write(s)\n", humanize.Comma(int64(n)))
	return nil
}
