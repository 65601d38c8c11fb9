package gnss

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"field-sync-service/internal/config"
	"field-sync-service/internal/nmea"
)

const (
	ggaLine = "$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,"
	gstLine = "$GPGST,024603.00,3.2,6.6,4.7,47.3,5.8,5.6,22.0"
)

func newTestMonitor(t *testing.T, cfg config.GNSSConfig) *Monitor {
	t.Helper()
	m := NewMonitor(cfg)
	m.Start()
	t.Cleanup(m.Stop)
	return m
}

func TestMonitorMergesGGAAndGST(t *testing.T) {
	m := newTestMonitor(t, config.GNSSConfig{QueueSize: 16})

	m.Ingest(ggaLine)
	m.Ingest(gstLine)

	require.Eventually(t, func() bool {
		return m.CurrentFix().Complete()
	}, time.Second, 5*time.Millisecond)

	fix := m.CurrentFix()
	require.NotNil(t, fix)
	assert.InDelta(t, 48.1173, fix.GGA.Latitude, 0.0001)
	assert.Equal(t, nmea.FixGPS, fix.GGA.Quality)
	assert.InDelta(t, 3.2, fix.GST.RMS, 1e-9)
	assert.InDelta(t, nmea.HorizontalRMS(fix.GST), fix.HorizontalRMS, 1e-9)
	assert.InDelta(t, 22.0, fix.VerticalRMS, 1e-9)
}

func TestMonitorGSTCarriesForwardAcrossGGA(t *testing.T) {
	m := newTestMonitor(t, config.GNSSConfig{QueueSize: 16})

	m.Ingest(gstLine)
	m.Ingest(ggaLine)

	require.Eventually(t, func() bool {
		return m.CurrentFix().Complete()
	}, time.Second, 5*time.Millisecond)

	fix := m.CurrentFix()
	require.NotNil(t, fix.GST)
	assert.InDelta(t, 3.2, fix.GST.RMS, 1e-9)
	require.NotNil(t, fix.GGA)
	assert.Equal(t, 8, fix.GGA.Satellites)
}

func TestMonitorMalformedIgnored(t *testing.T) {
	m := newTestMonitor(t, config.GNSSConfig{QueueSize: 16})

	m.Ingest("$GPGGA,garbage")
	m.Ingest("not nmea at all")
	m.Ingest(ggaLine)

	require.Eventually(t, func() bool {
		return m.CurrentFix() != nil
	}, time.Second, 5*time.Millisecond)

	fix := m.CurrentFix()
	assert.NotNil(t, fix.GGA)
	assert.Nil(t, fix.GST)
	assert.False(t, fix.Complete())
}

func TestIngestOverflowDropsOldest(t *testing.T) {
	// No consumer running: the queue fills and the oldest entries go.
	m := NewMonitor(config.GNSSConfig{QueueSize: 2})

	m.Ingest("$one")
	m.Ingest("$two")
	m.Ingest("$three")

	assert.Equal(t, uint64(1), m.Dropped())
	assert.Equal(t, 2, m.Queued())

	// The survivors are the two newest.
	assert.Equal(t, "$two", <-m.sentences)
	assert.Equal(t, "$three", <-m.sentences)
}

func TestSubscribeDeliversAndCancels(t *testing.T) {
	m := newTestMonitor(t, config.GNSSConfig{QueueSize: 16})

	ch, cancel := m.Subscribe()
	m.Ingest(ggaLine)

	select {
	case fix := <-ch:
		require.NotNil(t, fix)
		assert.InDelta(t, 48.1173, fix.GGA.Latitude, 0.0001)
	case <-time.After(time.Second):
		t.Fatal("no fix delivered to subscriber")
	}

	cancel()
	_, open := <-ch
	assert.False(t, open, "cancel must close the channel")

	// Publishing after cancel must not panic.
	m.Ingest(ggaLine)
	require.Eventually(t, func() bool {
		return m.CurrentFix() != nil
	}, time.Second, 5*time.Millisecond)
}

func TestRunReader(t *testing.T) {
	m := newTestMonitor(t, config.GNSSConfig{QueueSize: 16})

	input := strings.Join([]string{ggaLine, "interleaved junk", gstLine}, "\n")
	err := m.RunReader(context.Background(), strings.NewReader(input))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return m.CurrentFix().Complete()
	}, time.Second, 5*time.Millisecond)
}

func TestCurrentFixStaleness(t *testing.T) {
	m := newTestMonitor(t, config.GNSSConfig{QueueSize: 16, StaleAfter: "30ms"})

	m.Ingest(ggaLine)
	require.Eventually(t, func() bool {
		return m.CurrentFix() != nil
	}, time.Second, time.Millisecond)

	time.Sleep(60 * time.Millisecond)
	assert.Nil(t, m.CurrentFix(), "stale fix must not be served")
}
