package testsupport

import (
	"fmt"
	"strings"
	"time"
)

// TrackPoint describes one GPX trackpoint for fixtures. Elevation is omitted
// when NoElevation is set.
type TrackPoint struct {
	Lat, Lon    float64
	Ele         float64
	NoElevation bool
	Time        time.Time
}

// GPX renders a single-track, single-segment GPX 1.1 document.
func GPX(points ...TrackPoint) []byte {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<gpx version="1.1" creator="convertd-tests" xmlns="http://www.topografix.com/GPX/1/1">` + "\n")
	b.WriteString("  <trk>\n    <name>fixture</name>\n    <trkseg>\n")
	for _, p := range points {
		fmt.Fprintf(&b, `      <trkpt lat="%.7f" lon="%.7f">`, p.Lat, p.Lon)
		if !p.NoElevation {
			fmt.Fprintf(&b, "<ele>%.2f</ele>", p.Ele)
		}
		if !p.Time.IsZero() {
			fmt.Fprintf(&b, "<time>%s</time>", p.Time.UTC().Format(time.RFC3339))
		}
		b.WriteString("</trkpt>\n")
	}
	b.WriteString("    </trkseg>\n  </trk>\n</gpx>\n")
	return []byte(b.String())
}

// ThreePointTrack returns a 3-point track spanning ten minutes starting at start.
func ThreePointTrack(start time.Time) []byte {
	return GPX(
		TrackPoint{Lat: 47.6062, Lon: -122.3321, Ele: 50, Time: start},
		TrackPoint{Lat: 47.6097, Lon: -122.3331, Ele: 62, Time: start.Add(4 * time.Minute)},
		TrackPoint{Lat: 47.6154, Lon: -122.3390, Ele: 55, Time: start.Add(10 * time.Minute)},
	)
}
