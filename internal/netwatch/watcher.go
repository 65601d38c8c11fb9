// Package netwatch tracks whether the authoritative server is
// reachable and fans out transitions to subscribers. Reachability here
// means the server answered its health probe, not merely that an
// interface is up.
package netwatch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"field-sync-service/internal/logger"
)

const probeTimeout = 10 * time.Second

// Prober answers whether the server responds. The remote client's
// Ping satisfies this.
type Prober interface {
	Ping(ctx context.Context) error
}

// Event is one connectivity transition.
type Event struct {
	Online bool
	At     time.Time
}

type Watcher struct {
	prober   Prober
	interval time.Duration

	mu     sync.Mutex
	online bool
	primed bool
	subs   map[chan Event]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewWatcher(prober Prober, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Watcher{
		prober:   prober,
		interval: interval,
		subs:     make(map[chan Event]struct{}),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

func (w *Watcher) Start() {
	logger.Log.Info("Starting network watcher", zap.Duration("interval", w.interval))
	go w.run()
}

func (w *Watcher) Stop() {
	w.cancel()
	<-w.done
	logger.Log.Info("Stopped network watcher")
}

// Online is the last probed state. False until the first probe lands.
func (w *Watcher) Online() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.online
}

// Subscribe registers a transition feed. The first probe primes the
// baseline silently; only changes after that are delivered.
func (w *Watcher) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 4)

	w.mu.Lock()
	w.subs[ch] = struct{}{}
	w.mu.Unlock()

	cancel := func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if _, ok := w.subs[ch]; ok {
			delete(w.subs, ch)
			close(ch)
		}
	}
	return ch, cancel
}

func (w *Watcher) run() {
	defer close(w.done)

	w.probe()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.probe()
		}
	}
}

func (w *Watcher) probe() {
	ctx, cancel := context.WithTimeout(w.ctx, probeTimeout)
	err := w.prober.Ping(ctx)
	cancel()

	online := err == nil

	w.mu.Lock()
	defer w.mu.Unlock()

	changed := w.primed && online != w.online
	w.online = online
	w.primed = true

	if !changed {
		return
	}

	logger.Log.Info("Connectivity changed", zap.Bool("online", online))

	ev := Event{Online: online, At: time.Now()}
	for ch := range w.subs {
		select {
		case ch <- ev:
		default:
			// Slow consumer: drop its oldest pending transition.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
}
