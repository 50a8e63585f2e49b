package gpxtool

import (
	"math"
	"time"
)

// EarthRadiusKm is the mean Earth radius used for great-circle distances.
const EarthRadiusKm = 6371.0088

// Point is one trackpoint. Time is zero when the source point had none.
type Point struct {
	Lat, Lon float64
	Ele      float64
	HasEle   bool
	Time     time.Time
}

// Haversine returns the great-circle distance between a and b in kilometres.
func Haversine(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Distance sums Haversine over consecutive points.
func Distance(points []Point) float64 {
	var total float64
	for i := 1; i < len(points); i++ {
		total += Haversine(points[i-1], points[i])
	}
	return total
}

// Adjust returns a copy of points with timestamps rescaled so every gap is
// divided by multiplier, anchored at the first point's original time.
// Geometry is untouched. All points must carry timestamps.
func Adjust(points []Point, multiplier float64) []Point {
	out := make([]Point, len(points))
	copy(out, points)
	for i := 1; i < len(points); i++ {
		gap := points[i].Time.Sub(points[i-1].Time)
		scaled := time.Duration(math.Round(float64(gap) / multiplier))
		out[i].Time = out[i-1].Time.Add(scaled)
	}
	return out
}

// Report summarises a track. Segments are measured independently; gaps
// between segments add neither distance nor duration.
type Report struct {
	PointCount      int      `json:"point_count"`
	SegmentCount    int      `json:"segment_count"`
	DistanceKm      float64  `json:"distance_km"`
	DurationSeconds float64  `json:"duration_seconds"`
	AverageSpeedKmh float64  `json:"average_speed_kmh"`
	MaxSpeedKmh     float64  `json:"max_speed_kmh"`
	ElevationGainM  float64  `json:"elevation_gain_m"`
	ElevationLossM  float64  `json:"elevation_loss_m"`
	MinElevationM   *float64 `json:"min_elevation_m"`
	MaxElevationM   *float64 `json:"max_elevation_m"`
}

// Analyze computes a Report over the given segments.
func Analyze(segments [][]Point) Report {
	var r Report
	var minEle, maxEle float64
	haveEle := false

	for _, seg := range segments {
		if len(seg) == 0 {
			continue
		}
		r.SegmentCount++
		r.PointCount += len(seg)
		for i, p := range seg {
			if p.HasEle {
				if !haveEle || p.Ele < minEle {
					minEle = p.Ele
				}
				if !haveEle || p.Ele > maxEle {
					maxEle = p.Ele
				}
				haveEle = true
			}
			if i == 0 {
				continue
			}
			prev := seg[i-1]
			d := Haversine(prev, p)
			r.DistanceKm += d
			if !prev.Time.IsZero() && !p.Time.IsZero() {
				if dt := p.Time.Sub(prev.Time).Seconds(); dt > 0 {
					r.DurationSeconds += dt
					if speed := d / (dt / 3600); speed > r.MaxSpeedKmh {
						r.MaxSpeedKmh = speed
					}
				}
			}
			if prev.HasEle && p.HasEle {
				if delta := p.Ele - prev.Ele; delta > 0 {
					r.ElevationGainM += delta
				} else {
					r.ElevationLossM -= delta
				}
			}
		}
	}
	if r.DurationSeconds > 0 {
		r.AverageSpeedKmh = r.DistanceKm / (r.DurationSeconds / 3600)
	}
	if haveEle {
		r.MinElevationM = &minEle
		r.MaxElevationM = &maxEle
	}
	return r
}
