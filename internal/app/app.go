// Package app wires the offline-resilience core of RestoKitt: the local
// store, the entity cache, the mutation queue, connectivity tracking and
// the asset interceptor. App exposes the operations called by the
// presentation layer.
package app

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hack-pad/hackpadfs"
	"github.com/hack-pad/hackpadfs/mem"
	osfs "github.com/hack-pad/hackpadfs/os"
	"github.com/kittclouds/restokitt/internal/assets"
	"github.com/kittclouds/restokitt/internal/cache"
	"github.com/kittclouds/restokitt/internal/config"
	"github.com/kittclouds/restokitt/internal/connectivity"
	"github.com/kittclouds/restokitt/internal/gateway"
	"github.com/kittclouds/restokitt/internal/queue"
	"github.com/kittclouds/restokitt/internal/store"
	"github.com/kittclouds/restokitt/pkg/nearby"
	log "github.com/sirupsen/logrus"
)

const nearbyIndexPath = "nearby.gob"

// Deps are collaborators supplied by the host. Zero values are derived
// from the Config.
type Deps struct {
	// Client reaches the REST backend.
	Client gateway.Doer
	// Snapshots persists in-memory databases, when Store.Dir is empty.
	Snapshots hackpadfs.FS
	// AssetFS holds the asset caches and the nearby index.
	AssetFS hackpadfs.FS
	// AssetTransport fetches assets from the network.
	AssetTransport http.RoundTripper
	// OnResync is called after the queue is drained on reconnection.
	OnResync func(Resync)
	// Initial connectivity state. Defaults to Online.
	Offline bool
}

// App is the offline-resilience core of a restaurant directory.
type App struct {
	cfg      *config.Config
	factory  *store.Factory
	dbs      *cache.Databases
	gateway  *gateway.Gateway
	queue    *queue.Queue
	cache    *cache.Cache
	monitor  *connectivity.Monitor
	assets   *assets.Interceptor
	nearby   *nearby.Index
	onResync func(Resync)

	mu    sync.Mutex
	state State
}

// New builds an App from |cfg|, opening its databases.
func New(ctx context.Context, cfg *config.Config, deps Deps) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var client = deps.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Backend.Timeout}
	}

	var factory = store.NewFactory(cfg.Store.Dir)
	if cfg.Store.Dir == "" {
		factory.Snapshots = deps.Snapshots
	}
	dbs, err := cache.OpenDatabases(ctx, factory)
	if err != nil {
		factory.Close()
		return nil, fmt.Errorf("failed to open databases: %w", err)
	}

	assetFS, err := openAssetFS(cfg.Assets.Dir, deps.AssetFS)
	if err != nil {
		factory.Close()
		return nil, err
	}
	storage, err := assets.NewStorage(assetFS, "caches", cfg.Assets.LRUSize)
	if err != nil {
		factory.Close()
		return nil, err
	}
	var opts = assets.DefaultOptions(cfg.Assets.Origin)
	opts.Version = cfg.Assets.Version
	interceptor, err := assets.NewInterceptor(storage, deps.AssetTransport, opts)
	if err != nil {
		factory.Close()
		return nil, err
	}

	index, err := nearby.New(assetFS, nearbyIndexPath)
	if err != nil {
		log.WithField("err", err).Warn("discarding unreadable nearby index")
		index, _ = nearby.New(nil, "")
		index.FS, index.Path = assetFS, nearbyIndexPath
	}

	var gw = gateway.New(client)
	var q = queue.New(dbs.Reviews, gw)
	var initial = connectivity.Online
	if deps.Offline {
		initial = connectivity.Offline
	}

	var a = &App{
		cfg:      cfg,
		factory:  factory,
		dbs:      dbs,
		gateway:  gw,
		queue:    q,
		cache:    cache.New(dbs, gw, q, gateway.Endpoints{Base: cfg.Backend.URL}),
		monitor:  connectivity.NewMonitor(initial),
		assets:   interceptor,
		nearby:   index,
		onResync: deps.OnResync,
	}
	a.monitor.OnChange(a.onTransition)

	log.WithFields(log.Fields{
		"backend": cfg.Backend.URL,
		"store":   cfg.Store.Dir,
		"assets":  cfg.Assets.Dir,
		"version": cfg.Assets.Version,
	}).Info("app initialized")

	return a, nil
}

// openAssetFS returns |fsys|, else an OS directory |dir|, else a memory FS.
func openAssetFS(dir string, fsys hackpadfs.FS) (hackpadfs.FS, error) {
	if fsys != nil {
		return fsys, nil
	}
	if dir == "" {
		memFS, err := mem.NewFS()
		if err != nil {
			return nil, fmt.Errorf("failed to create memory fs: %w", err)
		}
		return memFS, nil
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve assets dir: %w", err)
	}
	var rel = strings.TrimPrefix(filepath.ToSlash(abs), "/")
	if err := hackpadfs.MkdirAll(osfs.NewFS(), rel, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create assets dir: %w", err)
	}
	sub, err := osfs.NewFS().Sub(rel)
	if err != nil {
		return nil, fmt.Errorf("failed to open assets dir: %w", err)
	}
	return sub, nil
}

// Config of the App.
func (a *App) Config() *config.Config { return a.cfg }

// Cache of the App.
func (a *App) Cache() *cache.Cache { return a.cache }

// Queue of the App.
func (a *App) Queue() *queue.Queue { return a.queue }

// Assets is the asset interceptor of the App.
func (a *App) Assets() *assets.Interceptor { return a.assets }

// Monitor is the connectivity monitor of the App.
func (a *App) Monitor() *connectivity.Monitor { return a.monitor }

// Databases of the App.
func (a *App) Databases() *cache.Databases { return a.dbs }

// Probe checks that the backend answers, for connectivity.Probe.
func (a *App) Probe(ctx context.Context) error {
	_, err := a.gateway.Send(ctx, http.MethodHead, a.cache.Endpoints().Restaurants(), nil)
	return err
}

// Close waits for background writes and closes the databases.
func (a *App) Close() error {
	a.cache.Wait()
	a.assets.Wait()
	return a.factory.Close()
}
