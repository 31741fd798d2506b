package cache

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/kittclouds/restokitt/internal/gateway"
	"github.com/kittclouds/restokitt/internal/model"
	"github.com/kittclouds/restokitt/internal/store"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Backend is the subset of *gateway.Gateway used by the Cache.
type Backend interface {
	FetchJSON(ctx context.Context, url string, dst any) error
	Send(ctx context.Context, method, url string, body json.RawMessage) (*gateway.Response, error)
}

// Enqueuer durably queues a mutation for later replay. *queue.Queue is an
// Enqueuer.
type Enqueuer interface {
	Enqueue(ctx context.Context, data model.MutationData) (int64, error)
}

// Cache reconciles the local databases with the backend.
type Cache struct {
	dbs       *Databases
	backend   Backend
	queue     Enqueuer
	endpoints gateway.Endpoints

	flight    singleflight.Group
	favorites keyedMutex
	pending   sync.WaitGroup
}

// New returns a Cache over |dbs|, fetching from |backend| at |endpoints|
// and queueing undeliverable writes into |queue|.
func New(dbs *Databases, backend Backend, queue Enqueuer, endpoints gateway.Endpoints) *Cache {
	return &Cache{
		dbs:       dbs,
		backend:   backend,
		queue:     queue,
		endpoints: endpoints,
	}
}

// Endpoints of the backend.
func (c *Cache) Endpoints() gateway.Endpoints { return c.endpoints }

// Wait blocks until every background write-back has finished.
func (c *Cache) Wait() { c.pending.Wait() }

// writeBack runs |fn| in the background. Its failure is logged only.
func (c *Cache) writeBack(ctx context.Context, entity string, fn func(ctx context.Context) error) {
	// The write-back outlives the read which triggered it.
	ctx = context.WithoutCancel(ctx)

	c.pending.Add(1)
	go func() {
		defer c.pending.Done()

		if err := fn(ctx); err != nil {
			writeBacksTotal.WithLabelValues(entity, "failed").Inc()
			log.WithFields(log.Fields{"entity": entity, "err": err}).Warn("failed to write back to local store")
			return
		}
		writeBacksTotal.WithLabelValues(entity, "ok").Inc()
	}()
}

// readLocal runs a read-only transaction, logging and reporting false on
// failure.
func readLocal(ctx context.Context, db *store.DB, entity string, tables []string, fn func(tx *store.Tx) error) bool {
	if err := db.Transaction(ctx, tables, store.ReadOnly, fn); err != nil {
		log.WithFields(log.Fields{"entity": entity, "err": err}).Warn("local read failed, falling back to network")
		return false
	}
	return true
}
