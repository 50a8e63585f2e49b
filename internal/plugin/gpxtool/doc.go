// Package gpxtool provides the GPX conversion tools: gpx-speed rescales track
// timing by a speed multiplier and gpx-analyze reports track statistics.
package gpxtool
