package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"
	"sync"

	"github.com/kittclouds/restokitt/internal/gateway"
	"github.com/kittclouds/restokitt/internal/model"
	"github.com/kittclouds/restokitt/internal/store"
	log "github.com/sirupsen/logrus"
)

// Table is the auto-increment table holding queued mutations.
const Table = "networkQueue"

// CreateTable adds the queue table within a store upgrade.
func CreateTable(u *store.Upgrade) error {
	if u.HasTable(Table) {
		return nil
	}
	return u.CreateTable(Table, store.TableOptions{KeyPath: "id", AutoIncrement: true})
}

// State of a queued mutation.
type State int

const (
	// Pending mutations await the next drain.
	Pending State = iota
	// InFlight mutations have been removed from the queue and are being sent.
	InFlight
	// Committed mutations were accepted by the backend.
	Committed
	// Requeued mutations failed and were appended again.
	Requeued
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case InFlight:
		return "in_flight"
	case Committed:
		return "committed"
	case Requeued:
		return "requeued"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Sender delivers a mutation. *gateway.Gateway is a Sender.
type Sender interface {
	Send(ctx context.Context, method, url string, body json.RawMessage) (*gateway.Response, error)
}

// Queue is a durable FIFO of mutations in a store.DB.
type Queue struct {
	db     *store.DB
	sender Sender

	drainMu sync.Mutex
}

// New returns a Queue over |db|, which must have Table, sending through |sender|.
func New(db *store.DB, sender Sender) *Queue {
	return &Queue{db: db, sender: sender}
}

// Enqueue appends |data|. It returns once the mutation is durable.
func (q *Queue) Enqueue(ctx context.Context, data model.MutationData) (int64, error) {
	if data.Method == "" {
		data.Method = http.MethodGet
	}
	id, err := q.append(ctx, data)
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue %s %s: %w", data.Method, data.URL, err)
	}
	transition(id, data, Pending)
	q.updateGauge(ctx)
	return id, nil
}

func (q *Queue) append(ctx context.Context, data model.MutationData) (int64, error) {
	var id int64
	err := q.db.Transaction(ctx, []string{Table}, store.ReadWrite, func(tx *store.Tx) error {
		tb, err := tx.Table(Table)
		if err != nil {
			return err
		}
		key, err := tb.Put(model.Mutation{Data: data})
		if err != nil {
			return err
		}
		id = key.(int64)
		return nil
	})
	return id, err
}

// Snapshot returns the pending mutations, oldest first.
func (q *Queue) Snapshot(ctx context.Context) ([]model.Mutation, error) {
	var out []model.Mutation
	err := q.db.Transaction(ctx, []string{Table}, store.ReadOnly, func(tx *store.Tx) error {
		tb, err := tx.Table(Table)
		if err != nil {
			return err
		}
		out, err = store.GetAllAs[model.Mutation](tb)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read queue: %w", err)
	}
	return out, nil
}

// Pending yields the mutations pending when iteration starts, oldest first.
// Each iteration takes a fresh snapshot. A failed read ends the sequence.
func (q *Queue) Pending(ctx context.Context) iter.Seq[model.Mutation] {
	return func(yield func(model.Mutation) bool) {
		ms, err := q.Snapshot(ctx)
		if err != nil {
			log.WithField("err", err).Warn("failed to snapshot mutation queue")
			return
		}
		for _, m := range ms {
			if !yield(m) {
				return
			}
		}
	}
}

// Len is the number of pending mutations.
func (q *Queue) Len(ctx context.Context) (int, error) {
	var n int
	err := q.db.Transaction(ctx, []string{Table}, store.ReadOnly, func(tx *store.Tx) error {
		tb, err := tx.Table(Table)
		if err != nil {
			return err
		}
		n, err = tb.Count()
		return err
	})
	return n, err
}

// Drain attempts every mutation pending when it starts, in order. Each is
// removed from the queue, sent, and appended again if it could not be
// delivered or was rejected, so it is retried by the next Drain only.
// Cancelling |ctx| stops Drain before the next removal; the removal and
// re-append of a mutation already in flight still commit.
// Drain returns the number of mutations attempted. Drains are serialized.
func (q *Queue) Drain(ctx context.Context) (int, error) {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()

	drainsTotal.Inc()

	ms, err := q.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	var bg = context.WithoutCancel(ctx)
	defer q.updateGauge(bg)

	var attempted int
	for _, m := range ms {
		if err := ctx.Err(); err != nil {
			return attempted, err
		}
		if err := q.remove(bg, m.ID); err != nil {
			return attempted, fmt.Errorf("failed to dequeue mutation %d: %w", m.ID, err)
		}
		transition(m.ID, m.Data, InFlight)
		attempted++

		if q.deliver(ctx, m) {
			transition(m.ID, m.Data, Committed)
			continue
		}
		id, err := q.append(bg, m.Data)
		if err != nil {
			return attempted, fmt.Errorf("failed to requeue mutation %d: %w", m.ID, err)
		}
		transition(id, m.Data, Requeued)
	}

	if attempted != 0 {
		log.WithField("attempted", attempted).Info("drained mutation queue")
	}
	return attempted, nil
}

func (q *Queue) deliver(ctx context.Context, m model.Mutation) bool {
	var body json.RawMessage
	if m.Data.HasBody() {
		body = m.Data.Body
	}
	resp, err := q.sender.Send(ctx, m.Data.Method, m.Data.URL, body)
	if err != nil {
		log.WithFields(log.Fields{"id": m.ID, "url": m.Data.URL, "err": err}).Debug("mutation not delivered")
		return false
	}
	if !resp.OK {
		log.WithFields(log.Fields{
			"id":     m.ID,
			"url":    m.Data.URL,
			"status": resp.Status,
		}).Warn("mutation rejected by backend")
		return false
	}
	return true
}

func (q *Queue) remove(ctx context.Context, id int64) error {
	return q.db.Transaction(ctx, []string{Table}, store.ReadWrite, func(tx *store.Tx) error {
		tb, err := tx.Table(Table)
		if err != nil {
			return err
		}
		return tb.Delete(id)
	})
}

func (q *Queue) updateGauge(ctx context.Context) {
	if n, err := q.Len(ctx); err == nil {
		pendingGauge.Set(float64(n))
	}
}

func transition(id int64, data model.MutationData, s State) {
	mutationsTotal.WithLabelValues(s.String()).Inc()
	log.WithFields(log.Fields{
		"id":     id,
		"method": data.Method,
		"url":    data.URL,
		"state":  s,
	}).Debug("mutation state")
}
