package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/kittclouds/restokitt/internal/cache"
	"github.com/kittclouds/restokitt/internal/model"
	"github.com/kittclouds/restokitt/internal/queue"
	"github.com/kittclouds/restokitt/internal/store"
)

func main() {
	fmt.Println("Testing in-memory store...")
	testStore("")

	dir, err := os.MkdirTemp("", "restokitt-storetest")
	if err != nil {
		log.Fatalf("MkdirTemp failed: %v", err)
	}
	defer os.RemoveAll(dir)

	fmt.Println("\nTesting on-disk store...")
	testStore(dir)
	testReopen(dir)

	fmt.Println("\n✅ All tests passed!")
}

func testStore(dir string) {
	var ctx = context.Background()
	var f = store.NewFactory(dir)
	defer f.Close()

	dbs, err := cache.OpenDatabases(ctx, f)
	if err != nil {
		log.Fatalf("OpenDatabases failed: %v", err)
	}
	fmt.Printf("  ✓ OpenDatabases works (reviews v%d: %v)\n", dbs.Reviews.Version(), dbs.Reviews.Tables())

	var r = model.Restaurant{ID: 1, Name: "Mission Chinese Food", CuisineType: "Asian", Neighborhood: "Manhattan"}
	err = dbs.Restaurants.Transaction(ctx, []string{cache.TableRestaurants}, store.ReadWrite, func(tx *store.Tx) error {
		tb, err := tx.Table(cache.TableRestaurants)
		if err != nil {
			return err
		}
		_, err = tb.Put(r)
		return err
	})
	if err != nil {
		log.Fatalf("Put failed: %v", err)
	}
	fmt.Println("  ✓ Put works")

	var got *model.Restaurant
	err = dbs.Restaurants.Transaction(ctx, []string{cache.TableRestaurants}, store.ReadOnly, func(tx *store.Tx) error {
		tb, err := tx.Table(cache.TableRestaurants)
		if err != nil {
			return err
		}
		got, _, err = store.GetAs[model.Restaurant](tb, int64(1))
		return err
	})
	if err != nil {
		log.Fatalf("Get failed: %v", err)
	}
	if got == nil || got.Name != r.Name {
		log.Fatalf("Get returned %+v", got)
	}
	fmt.Println("  ✓ Get works")

	var q = queue.New(dbs.Reviews, nil)
	id, err := q.Enqueue(ctx, model.MutationData{URL: "http://localhost:1337/restaurants/1/?is_favorite=true", Method: "PUT"})
	if err != nil {
		log.Fatalf("Enqueue failed: %v", err)
	}
	n, err := q.Len(ctx)
	if err != nil {
		log.Fatalf("Len failed: %v", err)
	}
	if n < 1 {
		log.Fatalf("Len expected at least 1, got %d", n)
	}
	fmt.Printf("  ✓ Enqueue works (id %d)\n", id)
}

func testReopen(dir string) {
	var ctx = context.Background()
	var f = store.NewFactory(dir)
	defer f.Close()

	dbs, err := cache.OpenDatabases(ctx, f)
	if err != nil {
		log.Fatalf("OpenDatabases failed: %v", err)
	}
	n, err := queue.New(dbs.Reviews, nil).Len(ctx)
	if err != nil {
		log.Fatalf("Len failed: %v", err)
	}
	if n != 1 {
		log.Fatalf("Len after reopen expected 1, got %d", n)
	}
	fmt.Println("  ✓ Queue survives reopen")
}
