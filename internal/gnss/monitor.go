// Package gnss owns the live receiver state. Raw sentences arrive by
// push (Bluetooth bridge, local API) or from a line-oriented reader,
// pass through a bounded queue, and are merged into the current fix.
package gnss

import (
	"bufio"
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"field-sync-service/internal/config"
	"field-sync-service/internal/logger"
	"field-sync-service/internal/nmea"
)

// Fix is the merged view of the most recent GGA and GST sentences. The
// RMS values are computed when the GST arrives so captures snapshot
// them as-is.
type Fix struct {
	GGA           *nmea.GGAData `json:"gga,omitempty"`
	GST           *nmea.GSTData `json:"gst,omitempty"`
	HorizontalRMS float64       `json:"horizontal_rms"`
	VerticalRMS   float64       `json:"vertical_rms"`
	ReceivedAt    time.Time     `json:"received_at"`
}

// Complete reports whether the fix carries everything a capture
// requires: a position and a total error estimate.
func (f *Fix) Complete() bool {
	return f != nil && f.GGA != nil && f.GST != nil &&
		f.GGA.Latitude != 0 && f.GGA.Longitude != 0 && f.GST.RMS > 0
}

type Monitor struct {
	staleAfter time.Duration

	sentences chan string
	fix       atomic.Value // *Fix
	dropped   atomic.Uint64

	mu   sync.Mutex
	subs map[chan *Fix]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewMonitor(cfg config.GNSSConfig) *Monitor {
	size := cfg.QueueSize
	if size <= 0 {
		size = 256
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Monitor{
		staleAfter: cfg.GetStaleAfter(),
		sentences:  make(chan string, size),
		subs:       make(map[chan *Fix]struct{}),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

func (m *Monitor) Start() {
	logger.Log.Info("Starting GNSS monitor")
	go m.run()
}

func (m *Monitor) Stop() {
	m.cancel()
	<-m.done
	logger.Log.Info("Stopped GNSS monitor")
}

// Ingest pushes one raw sentence. It never blocks: when the queue is
// full the oldest queued sentence is discarded, so a parser stall
// costs stale fixes rather than fresh ones.
func (m *Monitor) Ingest(raw string) {
	select {
	case m.sentences <- raw:
		return
	default:
	}

	select {
	case <-m.sentences:
		m.dropped.Add(1)
	default:
	}

	select {
	case m.sentences <- raw:
	default:
		m.dropped.Add(1)
	}
}

// RunReader feeds line-oriented NMEA from r until EOF, a read error,
// or ctx cancellation. Works for serial devices, FIFOs, TCP bridges
// and replay files alike.
func (m *Monitor) RunReader(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 256), 4096)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		m.Ingest(scanner.Text())
	}
	return scanner.Err()
}

// CurrentFix returns the latest fix, or nil when nothing has arrived
// within the staleness window.
func (m *Monitor) CurrentFix() *Fix {
	f := m.snapshot()
	if f == nil {
		return nil
	}
	if m.staleAfter > 0 && time.Since(f.ReceivedAt) > m.staleAfter {
		return nil
	}
	return f
}

// Dropped is the number of sentences discarded by queue overflow.
func (m *Monitor) Dropped() uint64 {
	return m.dropped.Load()
}

// Queued is the instantaneous queue depth.
func (m *Monitor) Queued() int {
	return len(m.sentences)
}

// Subscribe registers a live fix feed. The returned cancel func must
// be called to release the subscription; it closes the channel.
func (m *Monitor) Subscribe() (<-chan *Fix, func()) {
	ch := make(chan *Fix, 8)

	m.mu.Lock()
	m.subs[ch] = struct{}{}
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.subs[ch]; ok {
			delete(m.subs, ch)
			close(ch)
		}
	}
	return ch, cancel
}

func (m *Monitor) run() {
	defer close(m.done)
	for {
		select {
		case <-m.ctx.Done():
			return
		case raw := <-m.sentences:
			m.apply(raw)
		}
	}
}

// apply merges one sentence into the current fix. The consumer
// goroutine is the only writer, so load-modify-store is safe here.
func (m *Monitor) apply(raw string) {
	if gga := nmea.ParseGGA(raw); gga != nil {
		next := &Fix{GGA: gga, ReceivedAt: time.Now()}
		if prev := m.snapshot(); prev != nil && prev.GST != nil {
			next.GST = prev.GST
			next.HorizontalRMS = prev.HorizontalRMS
			next.VerticalRMS = prev.VerticalRMS
		}
		m.publish(next)
		return
	}

	if gst := nmea.ParseGST(raw); gst != nil {
		next := &Fix{
			GST:           gst,
			HorizontalRMS: nmea.HorizontalRMS(gst),
			VerticalRMS:   nmea.VerticalRMS(gst),
			ReceivedAt:    time.Now(),
		}
		if prev := m.snapshot(); prev != nil {
			next.GGA = prev.GGA
		}
		m.publish(next)
		return
	}

	// Everything else on the wire, malformed or just uninteresting,
	// is dropped here.
	logger.Log.Debug("Ignored sentence", zap.String("raw", raw))
}

func (m *Monitor) snapshot() *Fix {
	if v := m.fix.Load(); v != nil {
		return v.(*Fix)
	}
	return nil
}

func (m *Monitor) publish(f *Fix) {
	m.fix.Store(f)

	m.mu.Lock()
	defer m.mu.Unlock()
	for ch := range m.subs {
		select {
		case ch <- f:
		default:
			// Slow consumer: replace its backlog head with the
			// newest fix.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- f:
			default:
			}
		}
	}
}
