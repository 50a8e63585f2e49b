package gpxtool

import (
	"context"
	"io"
	"os"
	"regexp"
	"time"

	"github.com/tkrajina/gpxgo/gpx"

	"convertd/internal/plugin"
)

const (
	// SpeedToolName is the registry name of the speed adjustment tool.
	SpeedToolName = "gpx-speed"
	// ParamSpeedMultiplier is the required speed factor parameter.
	ParamSpeedMultiplier = "speed_multiplier"

	MinMultiplier = 0.1
	MaxMultiplier = 10.0

	maxGPXBytes = 25 << 20
)

// SpeedTool rescales track timestamps so the track is ridden speed_multiplier
// times as fast.
type SpeedTool struct{}

func (SpeedTool) Descriptor() plugin.Descriptor {
	return plugin.Descriptor{
		Name:            SpeedToolName,
		Label:           "GPX speed adjuster",
		Category:        "gpx",
		InputExtensions: []string{"gpx"},
		MaxInputBytes:   maxGPXBytes,
		OutputExtension: "gpx",
	}
}

func (SpeedTool) Validate(in plugin.Input, params plugin.Params) error {
	if in.Size > maxGPXBytes {
		return plugin.Invalid("too_large", "GPX files are limited to 25 MiB")
	}
	if _, err := multiplier(params); err != nil {
		return err
	}
	return sniff(in)
}

func multiplier(params plugin.Params) (float64, error) {
	m, ok, err := params.Float(ParamSpeedMultiplier)
	switch {
	case !ok:
		return 0, plugin.Invalid("missing_parameter", "speed_multiplier is required")
	case err != nil:
		return 0, plugin.Invalid("invalid_parameter", "speed_multiplier must be a number")
	case m < MinMultiplier || m > MaxMultiplier:
		return 0, plugin.Invalid("out_of_range", "speed_multiplier must be between %.1f and %.1f", MinMultiplier, MaxMultiplier)
	}
	return m, nil
}

func (SpeedTool) Process(_ context.Context, ws *plugin.Workspace, src io.Reader, params plugin.Params) (plugin.Output, error) {
	m, err := multiplier(params)
	if err != nil {
		return plugin.Output{}, plugin.Failed("invalid_parameter", "%s", err.Error())
	}
	doc, err := parse(src, maxGPXBytes)
	if err != nil {
		return plugin.Output{}, err
	}
	segs := segments(doc)
	if countPoints(segs) == 0 {
		return plugin.Output{}, plugin.Failed("empty_track", "GPX file contains no track points")
	}
	for _, seg := range segs {
		for _, p := range seg {
			if p.Time.IsZero() {
				return plugin.Output{}, plugin.Failed("missing_timestamps", "every track point needs a timestamp to adjust speed")
			}
		}
	}

	var times []time.Time
	segIdx := 0
	for ti := range doc.Tracks {
		for si := range doc.Tracks[ti].Segments {
			adjusted := Adjust(segs[segIdx], m)
			points := doc.Tracks[ti].Segments[si].Points
			for pi := range points {
				points[pi].Timestamp = adjusted[pi].Time
				times = append(times, adjusted[pi].Time)
			}
			segIdx++
		}
	}

	data, err := doc.ToXml(gpx.ToXmlParams{Version: "1.1", Indent: true})
	if err != nil {
		return plugin.Output{}, &plugin.ExecutionError{Code: "encode_failed", Message: "adjusted GPX could not be written", Err: err}
	}
	data = stampPointTimes(data, times)
	path := ws.Path("adjusted.gpx")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return plugin.Output{}, err
	}
	ws.Track(path)
	return plugin.Output{Path: path}, nil
}

var (
	trackPointElem = regexp.MustCompile(`(?s)<trkpt\b.*?</trkpt>`)
	timeElem       = regexp.MustCompile(`<time>[^<]*</time>`)
)

// stampPointTimes rewrites the <time> of each track point, in document order,
// with full sub-second precision. gpxgo truncates timestamps to whole seconds
// when encoding, which skews rescaled tracks by up to a second per point.
func stampPointTimes(data []byte, times []time.Time) []byte {
	next := 0
	return trackPointElem.ReplaceAllFunc(data, func(pt []byte) []byte {
		if next >= len(times) {
			return pt
		}
		loc := timeElem.FindIndex(pt)
		if loc == nil {
			return pt
		}
		stamp := "<time>" + times[next].UTC().Format(time.RFC3339Nano) + "</time>"
		next++
		out := make([]byte, 0, len(pt)+len(stamp))
		out = append(out, pt[:loc[0]]...)
		out = append(out, stamp...)
		return append(out, pt[loc[1]:]...)
	})
}

func (SpeedTool) Cleanup(handles []string) {
	removeAll(handles)
}

func removeAll(handles []string) {
	for _, h := range handles {
		_ = os.Remove(h)
	}
}
