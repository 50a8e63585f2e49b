package gpxtool

import (
	"bytes"
	"fmt"
	"io"

	"github.com/gabriel-vasile/mimetype"
	"github.com/tkrajina/gpxgo/gpx"

	"convertd/internal/plugin"
)

const gpxMIME = "application/gpx+xml"

// looksLikeGPX sniffs head for a GPX document.
func looksLikeGPX(head []byte) bool {
	for m := mimetype.Detect(head); m != nil; m = m.Parent() {
		if m.Is(gpxMIME) {
			return true
		}
		if m.Is("text/xml") {
			return bytes.Contains(head, []byte("<gpx"))
		}
	}
	return false
}

func sniff(in plugin.Input) error {
	if len(in.Head) == 0 {
		return plugin.Invalid("empty_file", "The uploaded file is empty")
	}
	if !looksLikeGPX(in.Head) {
		return plugin.Invalid("unsupported_type", "The uploaded file is not a GPX document")
	}
	return nil
}

func parse(src io.Reader, limit int64) (*gpx.GPX, error) {
	data, err := io.ReadAll(io.LimitReader(src, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, plugin.Failed("too_large", "GPX file exceeds %d bytes", limit)
	}
	doc, err := gpx.ParseBytes(data)
	if err != nil {
		return nil, &plugin.ExecutionError{Code: "invalid_gpx", Message: "GPX file could not be parsed", Err: err}
	}
	return doc, nil
}

func segments(doc *gpx.GPX) [][]Point {
	var out [][]Point
	for _, trk := range doc.Tracks {
		for _, seg := range trk.Segments {
			points := make([]Point, len(seg.Points))
			for i, p := range seg.Points {
				points[i] = Point{
					Lat:    p.Latitude,
					Lon:    p.Longitude,
					HasEle: p.Elevation.NotNull(),
					Time:   p.Timestamp,
				}
				if points[i].HasEle {
					points[i].Ele = p.Elevation.Value()
				}
			}
			out = append(out, points)
		}
	}
	return out
}

func countPoints(segs [][]Point) int {
	n := 0
	for _, seg := range segs {
		n += len(seg)
	}
	return n
}
