//go:build js && wasm

package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"syscall/js"

	"github.com/hack-pad/hackpadfs/indexeddb"
	"github.com/kittclouds/restokitt/internal/app"
	"github.com/kittclouds/restokitt/internal/config"
	"github.com/kittclouds/restokitt/internal/model"
	log "github.com/sirupsen/logrus"
)

// Version info
const Version = "0.3.0"

// Global state, set by initialize.
var core *app.App

func main() {
	println("[RestoKitt] WASM Ready v" + Version)

	js.Global().Set("RestoKitt", js.ValueOf(map[string]interface{}{
		"version":    js.FuncOf(getVersion),
		"initialize": js.FuncOf(initialize),
		// Entity cache
		"fetchRestaurants":                        js.FuncOf(fetchRestaurants),
		"fetchRestaurantById":                     js.FuncOf(fetchRestaurantByID),
		"fetchRestaurantByCuisineAndNeighborhood": js.FuncOf(fetchRestaurantByCuisineAndNeighborhood),
		"fetchNeighborhoods":                      js.FuncOf(fetchNeighborhoods),
		"fetchCuisines":                           js.FuncOf(fetchCuisines),
		"fetchRestaurantReviews":                  js.FuncOf(fetchRestaurantReviews),
		"changeFavorite":                          js.FuncOf(changeFavorite),
		"submitReview":                            js.FuncOf(submitReview),
		// Mutation queue & connectivity
		"drainMutationQueue": js.FuncOf(drainMutationQueue),
		"setOnline":          js.FuncOf(setOnline),
		"state":              js.FuncOf(state),
		// Supplements
		"search":        js.FuncOf(search),
		"nearby":        js.FuncOf(nearbyRestaurants),
		"imageSources":  js.FuncOf(imageSources),
		"restaurantUrl": js.FuncOf(restaurantURL),
		// Asset interceptor
		"installAssets":  js.FuncOf(installAssets),
		"activateAssets": js.FuncOf(activateAssets),
		"fetchAsset":     js.FuncOf(fetchAsset),
	}))

	select {}
}

func getVersion(this js.Value, args []js.Value) interface{} {
	return Version
}

// initialize: [optionsJSON string, onResync function(resultJSON)?]
// Opens the IndexedDB-backed databases and asset caches.
func initialize(this js.Value, args []js.Value) interface{} {
	var opts []byte
	if len(args) > 0 && args[0].Type() == js.TypeString {
		opts = []byte(args[0].String())
	}
	var onResync js.Value
	if len(args) > 1 && args[1].Type() == js.TypeFunction {
		onResync = args[1]
	}

	return promise(func(ctx context.Context) (interface{}, error) {
		cfg, err := config.FromJSON(opts)
		if err != nil {
			return nil, err
		}
		config.InitLog(cfg.Log)

		fs, err := indexeddb.NewFS(ctx, "restokitt", indexeddb.Options{})
		if err != nil {
			return nil, errors.New("failed to create idb fs: " + err.Error())
		}
		if core != nil {
			core.Close()
		}
		core, err = app.New(ctx, cfg, app.Deps{
			Snapshots: fs,
			AssetFS:   fs,
			Offline:   !js.Global().Get("navigator").Get("onLine").Truthy(),
			OnResync: func(r app.Resync) {
				if onResync.Truthy() {
					onResync.Invoke(marshal(r))
				}
			},
		})
		if err != nil {
			return nil, err
		}
		return map[string]string{"success": "initialized"}, nil
	})
}

func fetchRestaurants(this js.Value, args []js.Value) interface{} {
	return withCore(func(ctx context.Context, a *app.App) (interface{}, error) {
		return a.FetchRestaurants(ctx)
	})
}

// fetchRestaurantById: [id int]
func fetchRestaurantByID(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return rejected("requires 1 arg: id (int)")
	}
	var id = int64(args[0].Int())
	return withCore(func(ctx context.Context, a *app.App) (interface{}, error) {
		return a.FetchRestaurantByID(ctx, id)
	})
}

// fetchRestaurantByCuisineAndNeighborhood: [cuisine string, neighborhood string]
func fetchRestaurantByCuisineAndNeighborhood(this js.Value, args []js.Value) interface{} {
	if len(args) < 2 {
		return rejected("requires 2 args: cuisine (string), neighborhood (string)")
	}
	var cuisine, neighborhood = args[0].String(), args[1].String()
	return withCore(func(ctx context.Context, a *app.App) (interface{}, error) {
		return a.FetchRestaurantByCuisineAndNeighborhood(ctx, cuisine, neighborhood)
	})
}

func fetchNeighborhoods(this js.Value, args []js.Value) interface{} {
	return withCore(func(ctx context.Context, a *app.App) (interface{}, error) {
		return a.FetchNeighborhoods(ctx)
	})
}

func fetchCuisines(this js.Value, args []js.Value) interface{} {
	return withCore(func(ctx context.Context, a *app.App) (interface{}, error) {
		return a.FetchCuisines(ctx)
	})
}

// fetchRestaurantReviews: [id int, force bool?]
func fetchRestaurantReviews(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return rejected("requires 1+ args: id (int), [force (bool)]")
	}
	var id = int64(args[0].Int())
	var force = len(args) > 1 && args[1].Truthy()
	return withCore(func(ctx context.Context, a *app.App) (interface{}, error) {
		return a.FetchRestaurantReviews(ctx, id, force)
	})
}

// changeFavorite: [id int, flag bool]
func changeFavorite(this js.Value, args []js.Value) interface{} {
	if len(args) < 2 {
		return rejected("requires 2 args: id (int), flag (bool)")
	}
	var id, flag = int64(args[0].Int()), args[1].Truthy()
	return withCore(func(ctx context.Context, a *app.App) (interface{}, error) {
		return a.ChangeFavorite(ctx, id, flag)
	})
}

// submitReview: [payloadJSON string]
func submitReview(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return rejected("requires 1 arg: payloadJSON (string)")
	}
	var p model.ReviewPayload
	if err := json.Unmarshal([]byte(args[0].String()), &p); err != nil {
		return rejected("invalid payload json: " + err.Error())
	}
	return withCore(func(ctx context.Context, a *app.App) (interface{}, error) {
		return a.SubmitReview(ctx, p)
	})
}

func drainMutationQueue(this js.Value, args []js.Value) interface{} {
	return withCore(func(ctx context.Context, a *app.App) (interface{}, error) {
		n, err := a.DrainMutationQueue(ctx)
		return map[string]int{"processed": n}, err
	})
}

// setOnline: [online bool]
// Resolves once a reconnection resync has completed.
func setOnline(this js.Value, args []js.Value) interface{} {
	var online = len(args) > 0 && args[0].Truthy()
	return withCore(func(ctx context.Context, a *app.App) (interface{}, error) {
		return map[string]bool{"changed": a.SetOnline(ctx, online)}, nil
	})
}

func state(this js.Value, args []js.Value) interface{} {
	if core == nil {
		return errorResult("not initialized")
	}
	return marshal(core.State())
}

// search: [query string]
func search(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return rejected("requires 1 arg: query (string)")
	}
	var query = args[0].String()
	return withCore(func(ctx context.Context, a *app.App) (interface{}, error) {
		return a.Search(ctx, query)
	})
}

// nearby: [id int, k int]
func nearbyRestaurants(this js.Value, args []js.Value) interface{} {
	if len(args) < 2 {
		return rejected("requires 2 args: id (int), k (int)")
	}
	var id, k = int64(args[0].Int()), args[1].Int()
	return withCore(func(ctx context.Context, a *app.App) (interface{}, error) {
		return a.Nearby(ctx, id, k)
	})
}

// imageSources: [restaurantJSON string]
func imageSources(this js.Value, args []js.Value) interface{} {
	r, err := restaurantArg(args)
	if err != nil {
		return errorResult(err.Error())
	}
	if core == nil {
		return errorResult("not initialized")
	}
	return marshal(core.ImageSources(r))
}

// restaurantUrl: [restaurantJSON string]
func restaurantURL(this js.Value, args []js.Value) interface{} {
	r, err := restaurantArg(args)
	if err != nil {
		return errorResult(err.Error())
	}
	if core == nil {
		return errorResult("not initialized")
	}
	return core.RestaurantURL(r)
}

func installAssets(this js.Value, args []js.Value) interface{} {
	return withCore(func(ctx context.Context, a *app.App) (interface{}, error) {
		if err := a.Assets().Install(ctx); err != nil {
			return nil, err
		}
		return map[string]string{"success": "installed"}, nil
	})
}

func activateAssets(this js.Value, args []js.Value) interface{} {
	return withCore(func(ctx context.Context, a *app.App) (interface{}, error) {
		deleted, err := a.Assets().Activate(ctx)
		return map[string][]string{"deleted": deleted}, err
	})
}

// fetchAsset: [url string]
// Resolves to {status, contentType, body} with a base64 body.
func fetchAsset(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return rejected("requires 1 arg: url (string)")
	}
	var url = args[0].String()
	return withCore(func(ctx context.Context, a *app.App) (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := a.Assets().RoundTrip(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		return struct {
			Status      int    `json:"status"`
			ContentType string `json:"contentType"`
			Body        []byte `json:"body"`
		}{resp.StatusCode, resp.Header.Get("Content-Type"), body}, nil
	})
}

func restaurantArg(args []js.Value) (*model.Restaurant, error) {
	if len(args) < 1 {
		return nil, errors.New("requires 1 arg: restaurantJSON (string)")
	}
	var r model.Restaurant
	if err := json.Unmarshal([]byte(args[0].String()), &r); err != nil {
		return nil, errors.New("invalid restaurant json: " + err.Error())
	}
	return &r, nil
}

func withCore(fn func(context.Context, *app.App) (interface{}, error)) interface{} {
	if core == nil {
		return rejected("not initialized")
	}
	var a = core
	return promise(func(ctx context.Context) (interface{}, error) { return fn(ctx, a) })
}

// promise runs |fn| on its own goroutine, as blocking in a js.Func
// deadlocks the event loop. It resolves with the JSON result, or with an
// error result when |fn| fails.
func promise(fn func(context.Context) (interface{}, error)) interface{} {
	var handler = js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		var resolve = args[0]
		go func() {
			v, err := fn(context.Background())
			if err != nil {
				log.WithField("err", err).Debug("call failed")
				resolve.Invoke(errorOf(err))
				return
			}
			resolve.Invoke(marshal(v))
		}()
		return nil
	})
	// The executor runs synchronously inside the Promise constructor.
	defer handler.Release()
	return js.Global().Get("Promise").New(handler)
}

func rejected(msg string) interface{} {
	return js.Global().Get("Promise").Call("resolve", errorResult(msg))
}

// Helper: Create error result, carrying the field of a validation error.
func errorOf(err error) interface{} {
	var verr *model.ValidationError
	if errors.As(err, &verr) {
		return marshal(map[string]string{"error": verr.Reason, "field": verr.Field})
	}
	return errorResult(err.Error())
}

// Helper: Create error result
func errorResult(msg string) interface{} {
	return marshal(map[string]interface{}{"error": msg})
}

func marshal(v interface{}) interface{} {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return errorResult("marshal: " + err.Error())
	}
	return string(jsonBytes)
}
