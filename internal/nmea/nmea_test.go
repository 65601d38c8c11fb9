package nmea

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// line wraps a bare payload in $...*hh with a valid checksum.
func line(payload string) string {
	var sum byte
	for i := 0; i < len(payload); i++ {
		sum ^= payload[i]
	}
	return fmt.Sprintf("$%s*%02X", payload, sum)
}

func TestParseGGARoundTrip(t *testing.T) {
	gga := ParseGGA("$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,")
	require.NotNil(t, gga)

	assert.InDelta(t, 48.1173, gga.Latitude, 0.0001)
	assert.InDelta(t, 11.5167, gga.Longitude, 0.0001)
	assert.Equal(t, FixGPS, gga.Quality)
	assert.Equal(t, 8, gga.Satellites)
	assert.InDelta(t, 0.9, gga.HDOP, 1e-9)
	assert.InDelta(t, 545.4, gga.Altitude, 1e-9)
	assert.InDelta(t, 46.9, gga.GeoidHeight, 1e-9)
	assert.Equal(t, "123519", gga.Time)
}

func TestParseGGASouthWestNegates(t *testing.T) {
	gga := ParseGGA("$GPGGA,123519,4807.038,S,01131.000,W,1,08,0.9,545.4,M,46.9,M,,")
	require.NotNil(t, gga)
	assert.InDelta(t, -48.1173, gga.Latitude, 0.0001)
	assert.InDelta(t, -11.5167, gga.Longitude, 0.0001)
}

func TestParseGGATalkerVariants(t *testing.T) {
	for _, talker := range []string{"GP", "GN", "GL"} {
		s := fmt.Sprintf("$%sGGA,123519,4807.038,N,01131.000,E,4,12,0.6,545.4,M,46.9,M,,", talker)
		gga := ParseGGA(s)
		require.NotNil(t, gga, s)
		assert.Equal(t, FixRTKFixed, gga.Quality)
	}
}

func TestParseGGAMalformed(t *testing.T) {
	cases := []string{
		"",
		"$GPGGA,garbage",
		"GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,",
		"$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W",
		"$GPGGA,123519,4807.038,N,01131.000,E,1,08",
		"$GPGGA,123519,badlat,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,",
		"$GPGGA,123519,4807.038,X,01131.000,E,1,08,0.9,545.4,M,46.9,M,,",
		"$GPGGA,123519,4807.038,N,01131.000,E,9,08,0.9,545.4,M,46.9,M,,",
		"$GPGGA,123519,4807.038,N,01131.000,E,1,xx,0.9,545.4,M,46.9,M,,",
	}
	for _, s := range cases {
		assert.Nil(t, ParseGGA(s), "expected nil for %q", s)
	}
}

func TestParseGGAChecksum(t *testing.T) {
	payload := "GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,"

	gga := ParseGGA(line(payload))
	require.NotNil(t, gga)
	assert.Equal(t, 8, gga.Satellites)

	// Flipped checksum must be rejected.
	assert.Nil(t, ParseGGA("$"+payload+"*00"))
	// Truncated trailer too.
	assert.Nil(t, ParseGGA("$"+payload+"*4"))
}

func TestParseGGANoFix(t *testing.T) {
	gga := ParseGGA("$GPGGA,123519,,,,,0,00,,,M,,M,,")
	require.NotNil(t, gga)
	assert.Equal(t, FixInvalid, gga.Quality)
	assert.Zero(t, gga.Latitude)
	assert.Zero(t, gga.Longitude)
}

func TestParseGST(t *testing.T) {
	gst := ParseGST("$GPGST,024603.00,3.2,6.6,4.7,47.3,5.8,5.6,22.0")
	require.NotNil(t, gst)
	assert.InDelta(t, 3.2, gst.RMS, 1e-9)
	assert.InDelta(t, 6.6, gst.SemiMajor, 1e-9)
	assert.InDelta(t, 4.7, gst.SemiMinor, 1e-9)
	assert.InDelta(t, 47.3, gst.Orientation, 1e-9)
	assert.InDelta(t, 5.8, gst.LatError, 1e-9)
	assert.InDelta(t, 5.6, gst.LonError, 1e-9)
	assert.InDelta(t, 22.0, gst.HeightError, 1e-9)
}

func TestParseGSTMalformed(t *testing.T) {
	cases := []string{
		"",
		"$GPGST,024603.00,3.2",
		"$GPGGA,024603.00,3.2,6.6,4.7,47.3,5.8,5.6,22.0",
		"$GPGST,024603.00,3.2,6.6,4.7,47.3,bad,5.6,22.0",
	}
	for _, s := range cases {
		assert.Nil(t, ParseGST(s), "expected nil for %q", s)
	}
}

func TestRMSCalculations(t *testing.T) {
	gst := &GSTData{LatError: 3, LonError: 4, HeightError: 2.5}
	assert.InDelta(t, 5.0, HorizontalRMS(gst), 1e-9)
	assert.InDelta(t, 2.5, VerticalRMS(gst), 1e-9)

	assert.Zero(t, HorizontalRMS(nil))
	assert.Zero(t, VerticalRMS(nil))
}

func TestFixQualityString(t *testing.T) {
	want := map[FixQuality]string{
		FixInvalid:    "Invalid",
		FixGPS:        "GPS",
		FixDGPS:       "DGPS",
		FixPPS:        "PPS",
		FixRTKFixed:   "RTK Fixed",
		FixRTKFloat:   "RTK Float",
		FixEstimated:  "Estimated",
		FixManual:     "Manual",
		FixSimulation: "Simulation",
		FixQuality(42): "Unknown",
	}
	for q, s := range want {
		assert.Equal(t, s, q.String())
	}
}
