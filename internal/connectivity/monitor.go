// Package connectivity tracks whether the backend is reachable. The
// presentation layer reports browser online/offline events, and native
// builds probe the backend periodically.
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

var (
	onlineGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "restokitt_connectivity_online",
		Help: "1 while the backend is considered reachable, else 0.",
	})
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "restokitt_connectivity_transitions_total",
		Help: "Cumulative number of connectivity transitions, by new state.",
	}, []string{"state"})
)

// State of connectivity.
type State int

const (
	Offline State = iota
	Online
)

func (s State) String() string {
	if s == Online {
		return "online"
	}
	return "offline"
}

// Transition is a change of State.
type Transition struct {
	From, To State
}

// Reconnected reports an offline to online transition.
func (t Transition) Reconnected() bool { return t.From == Offline && t.To == Online }

// Monitor holds the current State and notifies listeners of transitions.
type Monitor struct {
	mu        sync.Mutex
	state     State
	listeners []func(context.Context, Transition)
}

// NewMonitor returns a Monitor in |initial| state.
func NewMonitor(initial State) *Monitor {
	onlineGauge.Set(float64(initial))
	return &Monitor{state: initial}
}

// State returns the current State.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OnChange registers |fn| to be called on every transition, in
// registration order and on the goroutine calling Set.
func (m *Monitor) OnChange(fn func(context.Context, Transition)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// Set moves the Monitor to |s|. It returns the Transition and whether the
// state changed, after listeners have run.
func (m *Monitor) Set(ctx context.Context, s State) (Transition, bool) {
	m.mu.Lock()
	var t = Transition{From: m.state, To: s}
	m.state = s
	var listeners = append([]func(context.Context, Transition){}, m.listeners...)
	m.mu.Unlock()

	if t.From == t.To {
		return t, false
	}
	onlineGauge.Set(float64(s))
	transitionsTotal.WithLabelValues(s.String()).Inc()
	log.WithFields(log.Fields{"from": t.From, "to": t.To}).Info("connectivity changed")

	for _, fn := range listeners {
		fn(ctx, t)
	}
	return t, true
}

// Probe calls |check| every |interval| until |ctx| is done, setting the
// Monitor Online when it succeeds and Offline when it fails.
func Probe(ctx context.Context, m *Monitor, interval time.Duration, check func(context.Context) error) {
	var ticker = time.NewTicker(interval)
	defer ticker.Stop()

	for {
		var s = Online
		if err := check(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithField("err", err).Debug("connectivity probe failed")
			s = Offline
		}
		m.Set(ctx, s)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
