package connectivity

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetNotifiesOnTransitionsOnly(t *testing.T) {
	var m = NewMonitor(Online)
	var seen []Transition
	m.OnChange(func(_ context.Context, tr Transition) { seen = append(seen, tr) })

	_, changed := m.Set(context.Background(), Online)
	assert.False(t, changed)

	tr, changed := m.Set(context.Background(), Offline)
	assert.True(t, changed)
	assert.False(t, tr.Reconnected())

	tr, changed = m.Set(context.Background(), Online)
	assert.True(t, changed)
	assert.True(t, tr.Reconnected())

	assert.Equal(t, []Transition{{Online, Offline}, {Offline, Online}}, seen)
	assert.Equal(t, Online, m.State())
	assert.Equal(t, "offline", Offline.String())
}

func TestProbeFollowsCheck(t *testing.T) {
	var m = NewMonitor(Online)
	var healthy atomic.Bool

	var mu sync.Mutex
	var reconnects int
	var wentOffline = make(chan struct{}, 1)
	var cameBack = make(chan struct{}, 1)
	m.OnChange(func(_ context.Context, tr Transition) {
		mu.Lock()
		defer mu.Unlock()
		if tr.Reconnected() {
			reconnects++
			select {
			case cameBack <- struct{}{}:
			default:
			}
		} else {
			select {
			case wentOffline <- struct{}{}:
			default:
			}
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	var done = make(chan struct{})
	go func() {
		Probe(ctx, m, time.Millisecond, func(context.Context) error {
			if healthy.Load() {
				return nil
			}
			return errors.New("unreachable")
		})
		close(done)
	}()

	<-wentOffline
	healthy.Store(true)
	<-cameBack
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, reconnects)
	assert.Equal(t, Online, m.State())
}
