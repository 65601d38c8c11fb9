// Package nmea decodes the NMEA-0183 sentences the collection engine
// cares about: GGA (position and fix quality) and GST (error estimates).
// Parsing is stateless; malformed input yields nil, never a panic.
package nmea

import (
	"math"
	"strconv"
	"strings"
)

// FixQuality is the GGA fix indicator (field 6).
type FixQuality int

const (
	FixInvalid FixQuality = iota
	FixGPS
	FixDGPS
	FixPPS
	FixRTKFixed
	FixRTKFloat
	FixEstimated
	FixManual
	FixSimulation
)

func (q FixQuality) String() string {
	switch q {
	case FixInvalid:
		return "Invalid"
	case FixGPS:
		return "GPS"
	case FixDGPS:
		return "DGPS"
	case FixPPS:
		return "PPS"
	case FixRTKFixed:
		return "RTK Fixed"
	case FixRTKFloat:
		return "RTK Float"
	case FixEstimated:
		return "Estimated"
	case FixManual:
		return "Manual"
	case FixSimulation:
		return "Simulation"
	}
	return "Unknown"
}

// GGAData is a decoded $..GGA sentence.
type GGAData struct {
	Time        string     `json:"time"`
	Latitude    float64    `json:"latitude"`
	Longitude   float64    `json:"longitude"`
	Quality     FixQuality `json:"quality"`
	Satellites  int        `json:"satellites"`
	HDOP        float64    `json:"hdop"`
	Altitude    float64    `json:"altitude"`
	GeoidHeight float64    `json:"geoid_height"`
}

// GSTData is a decoded $..GST sentence. Errors are 1-sigma estimates
// in meters.
type GSTData struct {
	Time        string  `json:"time"`
	RMS         float64 `json:"rms"`
	SemiMajor   float64 `json:"semi_major"`
	SemiMinor   float64 `json:"semi_minor"`
	Orientation float64 `json:"orientation"`
	LatError    float64 `json:"lat_error"`
	LonError    float64 `json:"lon_error"`
	HeightError float64 `json:"height_error"`
}

// ParseGGA decodes a $..GGA sentence. Returns nil for anything
// malformed: wrong sentence id, fewer than 15 fields, a failed
// checksum, or garbled numerics. Empty numeric fields decode to zero
// so fix-less receivers still produce a record.
func ParseGGA(sentence string) *GGAData {
	f := splitSentence(sentence)
	if len(f) < 15 || !strings.HasSuffix(f[0], "GGA") {
		return nil
	}

	lat, ok := parseLatLon(f[2], f[3])
	if !ok {
		return nil
	}
	lon, ok := parseLatLon(f[4], f[5])
	if !ok {
		return nil
	}
	quality, ok := parseInt(f[6])
	if !ok || quality < 0 || quality > 8 {
		return nil
	}
	sats, ok := parseInt(f[7])
	if !ok {
		return nil
	}
	hdop, ok := parseFloat(f[8])
	if !ok {
		return nil
	}
	alt, ok := parseFloat(f[9])
	if !ok {
		return nil
	}
	geoid, ok := parseFloat(f[11])
	if !ok {
		return nil
	}

	return &GGAData{
		Time:        f[1],
		Latitude:    lat,
		Longitude:   lon,
		Quality:     FixQuality(quality),
		Satellites:  sats,
		HDOP:        hdop,
		Altitude:    alt,
		GeoidHeight: geoid,
	}
}

// ParseGST decodes a $..GST sentence; nil on malformed input.
func ParseGST(sentence string) *GSTData {
	f := splitSentence(sentence)
	if len(f) < 9 || !strings.HasSuffix(f[0], "GST") {
		return nil
	}

	vals := make([]float64, 7)
	for i, idx := range []int{2, 3, 4, 5, 6, 7, 8} {
		v, ok := parseFloat(f[idx])
		if !ok {
			return nil
		}
		vals[i] = v
	}

	return &GSTData{
		Time:        f[1],
		RMS:         vals[0],
		SemiMajor:   vals[1],
		SemiMinor:   vals[2],
		Orientation: vals[3],
		LatError:    vals[4],
		LonError:    vals[5],
		HeightError: vals[6],
	}
}

// HorizontalRMS is the combined horizontal 1-sigma error shown to the
// operator and persisted with each capture.
func HorizontalRMS(g *GSTData) float64 {
	if g == nil {
		return 0
	}
	return math.Sqrt(g.LatError*g.LatError + g.LonError*g.LonError)
}

// VerticalRMS is the height 1-sigma error.
func VerticalRMS(g *GSTData) float64 {
	if g == nil {
		return 0
	}
	return g.HeightError
}

// splitSentence strips the leading '$', verifies the checksum when a
// '*hh' trailer is present, and splits the payload on commas. Sentences
// without a trailer are accepted; Bluetooth links drop them often.
func splitSentence(sentence string) []string {
	s := strings.TrimSpace(sentence)
	if len(s) < 2 || s[0] != '$' {
		return nil
	}
	body := s[1:]
	if i := strings.IndexByte(body, '*'); i >= 0 {
		trailer := body[i+1:]
		body = body[:i]
		if len(trailer) < 2 {
			return nil
		}
		want, err := strconv.ParseUint(trailer[:2], 16, 8)
		if err != nil {
			return nil
		}
		var sum byte
		for j := 0; j < len(body); j++ {
			sum ^= body[j]
		}
		if sum != byte(want) {
			return nil
		}
	}
	return strings.Split(body, ",")
}

// parseLatLon converts ddmm.mmmm latitude or dddmm.mmmm longitude plus
// a hemisphere into signed decimal degrees. The last two digits of the
// integer part are whole minutes; whatever precedes them is degrees.
// Both fields empty means no fix and decodes to zero.
func parseLatLon(value, hemi string) (float64, bool) {
	if value == "" && hemi == "" {
		return 0, true
	}
	intLen := strings.IndexByte(value, '.')
	if intLen < 0 {
		intLen = len(value)
	}
	if intLen < 3 {
		return 0, false
	}
	deg, err := strconv.ParseFloat(value[:intLen-2], 64)
	if err != nil {
		return 0, false
	}
	min, err := strconv.ParseFloat(value[intLen-2:], 64)
	if err != nil {
		return 0, false
	}
	dd := deg + min/60.0
	switch hemi {
	case "N", "E":
	case "S", "W":
		dd = -dd
	default:
		return 0, false
	}
	return dd, true
}

func parseFloat(s string) (float64, bool) {
	if s == "" {
		return 0, true
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func parseInt(s string) (int, bool) {
	if s == "" {
		return 0, true
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return v, true
}
