package gpxtool_test

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tkrajina/gpxgo/gpx"

	"convertd/internal/plugin"
	"convertd/internal/plugin/gpxtool"
	"convertd/internal/testsupport"
)

var start = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

func track() []gpxtool.Point {
	return []gpxtool.Point{
		{Lat: 47.6062, Lon: -122.3321, Ele: 50, HasEle: true, Time: start},
		{Lat: 47.6097, Lon: -122.3331, Ele: 62, HasEle: true, Time: start.Add(4 * time.Minute)},
		{Lat: 47.6154, Lon: -122.3390, Ele: 55, HasEle: true, Time: start.Add(10 * time.Minute)},
	}
}

func duration(points []gpxtool.Point) time.Duration {
	return points[len(points)-1].Time.Sub(points[0].Time)
}

func TestHaversineOneDegreeOfLatitude(t *testing.T) {
	d := gpxtool.Haversine(gpxtool.Point{Lat: 0, Lon: 0}, gpxtool.Point{Lat: 1, Lon: 0})
	assert.InDelta(t, gpxtool.EarthRadiusKm*math.Pi/180, d, 1e-9)
	assert.Zero(t, gpxtool.Haversine(gpxtool.Point{Lat: 10, Lon: 10}, gpxtool.Point{Lat: 10, Lon: 10}))
}

func TestAdjustPreservesDistanceAndScalesDuration(t *testing.T) {
	for _, m := range []float64{0.1, 0.5, 2, 3, 10} {
		before := track()
		after := gpxtool.Adjust(before, m)

		require.Len(t, after, len(before))
		db, da := gpxtool.Distance(before), gpxtool.Distance(after)
		assert.InEpsilon(t, db, da, 1e-6, "multiplier %v", m)
		assert.InDelta(t, float64(duration(before))/m, float64(duration(after)), float64(time.Millisecond), "multiplier %v", m)
		assert.Equal(t, before[0].Time, after[0].Time)
		for i := range before {
			assert.Equal(t, before[i].Lat, after[i].Lat)
			assert.Equal(t, before[i].Lon, after[i].Lon)
			assert.Equal(t, before[i].Ele, after[i].Ele)
		}
	}
}

func TestAdjustDoesNotMutateInput(t *testing.T) {
	in := track()
	_ = gpxtool.Adjust(in, 2)
	assert.Equal(t, start.Add(10*time.Minute), in[2].Time)
}

func TestAnalyze(t *testing.T) {
	r := gpxtool.Analyze([][]gpxtool.Point{track()})
	assert.Equal(t, 3, r.PointCount)
	assert.Equal(t, 1, r.SegmentCount)
	assert.InDelta(t, 600, r.DurationSeconds, 1e-9)
	assert.InDelta(t, gpxtool.Distance(track()), r.DistanceKm, 1e-12)
	assert.InDelta(t, r.DistanceKm/(600.0/3600), r.AverageSpeedKmh, 1e-9)
	assert.GreaterOrEqual(t, r.MaxSpeedKmh, r.AverageSpeedKmh)
	assert.InDelta(t, 12, r.ElevationGainM, 1e-9)
	assert.InDelta(t, 7, r.ElevationLossM, 1e-9)
	require.NotNil(t, r.MinElevationM)
	require.NotNil(t, r.MaxElevationM)
	assert.InDelta(t, 50, *r.MinElevationM, 1e-9)
	assert.InDelta(t, 62, *r.MaxElevationM, 1e-9)
}

func TestAnalyzeWithoutElevation(t *testing.T) {
	r := gpxtool.Analyze([][]gpxtool.Point{{{Lat: 1, Lon: 1}, {Lat: 1.01, Lon: 1}}})
	assert.Nil(t, r.MinElevationM)
	assert.Zero(t, r.DurationSeconds)
	assert.Zero(t, r.AverageSpeedKmh)
}

func input(data []byte) plugin.Input {
	return plugin.Input{Filename: "ride.gpx", Extension: "gpx", Size: int64(len(data)), Head: data}
}

func TestSpeedValidateBounds(t *testing.T) {
	tool := gpxtool.SpeedTool{}
	in := input(testsupport.ThreePointTrack(start))

	for _, ok := range []string{"0.1", "10", "10.0", "1"} {
		assert.NoError(t, tool.Validate(in, plugin.Params{"speed_multiplier": ok}), ok)
	}

	cases := map[string]string{
		"0.09":  "out_of_range",
		"10.01": "out_of_range",
		"0":     "out_of_range",
		"11":    "out_of_range",
		"-2":    "out_of_range",
		"fast":  "invalid_parameter",
	}
	for value, code := range cases {
		err := tool.Validate(in, plugin.Params{"speed_multiplier": value})
		var verr *plugin.ValidationError
		require.ErrorAs(t, err, &verr, value)
		assert.Equal(t, code, verr.Code, value)
	}

	err := tool.Validate(in, plugin.Params{})
	var verr *plugin.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "missing_parameter", verr.Code)
}

func TestValidateSniffsContent(t *testing.T) {
	tool := gpxtool.SpeedTool{}
	params := plugin.Params{"speed_multiplier": "2"}

	err := tool.Validate(input([]byte("%PDF-1.7\n...")), params)
	var verr *plugin.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "unsupported_type", verr.Code)

	err = tool.Validate(input(nil), params)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "empty_file", verr.Code)
}

func runTool(t *testing.T, tool plugin.Contract, data []byte, params plugin.Params) []byte {
	t.Helper()
	out, release, err := plugin.Run(context.Background(), tool, bytes.NewReader(data), params, plugin.RunOptions{WorkDir: t.TempDir()})
	require.NoError(t, err)
	defer release()
	result, err := os.ReadFile(out.Path)
	require.NoError(t, err)
	return result
}

func TestSpeedToolHalvesThreePointTrack(t *testing.T) {
	original := testsupport.ThreePointTrack(start)
	result := runTool(t, gpxtool.SpeedTool{}, original, plugin.Params{"speed_multiplier": "2.0"})

	before, err := gpx.ParseBytes(original)
	require.NoError(t, err)
	after, err := gpx.ParseBytes(result)
	require.NoError(t, err)

	bp := before.Tracks[0].Segments[0].Points
	ap := after.Tracks[0].Segments[0].Points
	require.Len(t, ap, 3)
	assert.Equal(t, 5*time.Minute, ap[2].Timestamp.Sub(ap[0].Timestamp))
	assert.True(t, ap[0].Timestamp.Equal(bp[0].Timestamp))
	assert.Equal(t, 2*time.Minute, ap[1].Timestamp.Sub(ap[0].Timestamp))

	var db, da float64
	for i := 1; i < 3; i++ {
		db += gpxtool.Haversine(gpxtool.Point{Lat: bp[i-1].Latitude, Lon: bp[i-1].Longitude}, gpxtool.Point{Lat: bp[i].Latitude, Lon: bp[i].Longitude})
		da += gpxtool.Haversine(gpxtool.Point{Lat: ap[i-1].Latitude, Lon: ap[i-1].Longitude}, gpxtool.Point{Lat: ap[i].Latitude, Lon: ap[i].Longitude})
	}
	assert.InEpsilon(t, db, da, 1e-6)
}

func TestSpeedToolKeepsSubSecondTimestamps(t *testing.T) {
	original := testsupport.GPX(
		testsupport.TrackPoint{Lat: 47.6062, Lon: -122.3321, Time: start},
		testsupport.TrackPoint{Lat: 47.6097, Lon: -122.3331, Time: start.Add(301 * time.Second)},
		testsupport.TrackPoint{Lat: 47.6154, Lon: -122.3390, Time: start.Add(601 * time.Second)},
	)
	result := runTool(t, gpxtool.SpeedTool{}, original, plugin.Params{"speed_multiplier": "2"})

	after, err := gpx.ParseBytes(result)
	require.NoError(t, err)
	ap := after.Tracks[0].Segments[0].Points
	require.Len(t, ap, 3)
	assert.True(t, ap[0].Timestamp.Equal(start))
	assert.Equal(t, 150500*time.Millisecond, ap[1].Timestamp.Sub(ap[0].Timestamp))
	assert.Equal(t, 300500*time.Millisecond, ap[2].Timestamp.Sub(ap[0].Timestamp))
	assert.Contains(t, string(result), "08:05:00.5Z")
}

func TestSpeedToolRequiresTimestamps(t *testing.T) {
	data := testsupport.GPX(
		testsupport.TrackPoint{Lat: 1, Lon: 1, Time: start},
		testsupport.TrackPoint{Lat: 1.01, Lon: 1},
	)
	_, _, err := plugin.Run(context.Background(), gpxtool.SpeedTool{}, bytes.NewReader(data), plugin.Params{"speed_multiplier": "2"}, plugin.RunOptions{WorkDir: t.TempDir()})
	var execErr *plugin.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "missing_timestamps", execErr.Code)
}

func TestSpeedToolRejectsMalformedXML(t *testing.T) {
	_, _, err := plugin.Run(context.Background(), gpxtool.SpeedTool{}, bytes.NewReader([]byte("<gpx><trk>")), plugin.Params{"speed_multiplier": "2"}, plugin.RunOptions{WorkDir: t.TempDir()})
	var execErr *plugin.ExecutionError
	require.ErrorAs(t, err, &execErr)
}

func TestAnalyzeToolWritesReport(t *testing.T) {
	result := runTool(t, gpxtool.AnalyzeTool{}, testsupport.ThreePointTrack(start), nil)

	var report gpxtool.Report
	require.NoError(t, json.Unmarshal(result, &report))
	assert.Equal(t, 3, report.PointCount)
	assert.InDelta(t, 600, report.DurationSeconds, 1e-9)
	assert.Greater(t, report.DistanceKm, 0.0)
}

func TestPluginsRegisterCleanly(t *testing.T) {
	reg, err := plugin.NewRegistry(gpxtool.Plugins()...)
	require.NoError(t, err)
	assert.Equal(t, 2, reg.Len())

	_, desc, err := reg.Lookup(gpxtool.AnalyzeToolName)
	require.NoError(t, err)
	assert.True(t, desc.Inline)
	assert.Equal(t, "json", desc.OutputExtension)
}
