// Package trace simplifies a stream of aircraft position samples into a
// compact polyline suitable for drawing a flight path on a map.
//
// Straight, level, regularly sampled flight collapses onto its first point and
// a moving tip. Turns, altitude changes and sampling gaps keep their vertices,
// and points recorded across a gap longer than EstimatedGap seconds are flagged
// as estimated so a renderer can draw them differently.
package trace

import (
	"math"
	"slices"
)

const (
	// DuplicateEpsilon is the lat/lon tolerance in degrees under which a sample
	// repeats the previous input and is ignored
	DuplicateEpsilon = 1e-9

	// EstimatedGap is the gap in seconds after which a sample starts an estimated segment
	EstimatedGap = 31.0

	// KeepGap is the gap in seconds after which a steady-state sample is kept
	KeepGap = 29.0

	// OutlierDeviation is the lateral deviation in degrees (about 11 km)
	// above which a sample is discarded as a bad position
	OutlierDeviation = 0.1

	// KeepDeviation is the lateral deviation in degrees (about 25 m)
	// above which a sample is kept as a new vertex
	KeepDeviation = 0.00023

	// KeepAltitudeChange is the altitude change in feet above which a sample is kept
	KeepAltitudeChange = 100.0
)

// Trace holds the retained points for one aircraft and the small amount of
// raw-input history needed to decide whether the next sample is worth keeping.
//
// A Trace is not safe for concurrent use. The collector owns every Trace and
// only touches it from its own goroutine.
type Trace struct {
	// points is the retained polyline, ordered by timestamp
	points []Point

	// lastInput and secondLastInput are the two most recent raw samples,
	// whether or not they were retained
	lastInput       Position
	secondLastInput Position
	inputCount      int

	lastInputAltitude  Altitude
	lastInputTimestamp float64

	// previousAltitude is the altitude compared against in steady state.
	// It only moves on the first sample and on the steady-state path.
	previousAltitude Altitude
}

// New returns an empty trace.
func New() *Trace {
	return &Trace{}
}

// AddPosition folds a new sample into the trace.
//
// The first sample is always retained and the most recent accepted sample is
// always the last point. Exact repeats of the previous input are ignored.
func (t *Trace) AddPosition(pos Position, timestamp float64) {
	if t.inputCount > 0 && samePosition(pos, t.lastInput, DuplicateEpsilon) {
		return
	}

	// Samples can arrive out of order when history replay and the live feed
	// interleave.
	if !slices.IsSortedFunc(t.points, comparePoints) {
		slices.SortStableFunc(t.points, comparePoints)
	}

	previousTime := t.lastInputTimestamp
	if t.inputCount == 0 {
		previousTime = timestamp
		t.previousAltitude = pos.Altitude
	}

	var deviation float64
	if len(t.points) > 1 {
		deviation = lineDeviation(t.secondLastInput, t.lastInput, pos)
	}

	t.secondLastInput = t.lastInput
	t.lastInput = pos
	t.lastInputAltitude = pos.Altitude
	t.lastInputTimestamp = timestamp
	t.inputCount++

	if len(t.points) == 0 {
		t.points = append(t.points, newPoint(pos, false, timestamp))
		return
	}

	last := t.points[len(t.points)-1]
	gap := timestamp - previousTime
	estimated := gap > EstimatedGap

	if estimated && !last.Estimated {
		t.points = append(t.points, newPoint(pos, true, timestamp))
		return
	}
	if !estimated && last.Estimated {
		t.points = append(t.points, newPoint(pos, false, timestamp))
		return
	}

	switch {
	case deviation > OutlierDeviation:
		// bad position, drop it
	case deviation > KeepDeviation,
		pos.Altitude.changedBy(t.previousAltitude, KeepAltitudeChange),
		gap > KeepGap:
		t.points = append(t.points, newPoint(pos, last.Estimated, timestamp))
	default:
		if len(t.points) > 1 {
			t.points = t.points[:len(t.points)-1]
		}
		t.points = append(t.points, newPoint(pos, last.Estimated, timestamp))
	}
	t.previousAltitude = pos.Altitude
}

// Points returns a copy of the retained points, oldest first.
func (t *Trace) Points() []Point {
	return slices.Clone(t.points)
}

// Len returns the number of retained points.
func (t *Trace) Len() int {
	return len(t.points)
}

// LastTimestamp returns the timestamp of the most recent input, or 0 if none.
func (t *Trace) LastTimestamp() float64 {
	return t.lastInputTimestamp
}

// LastAltitude returns the altitude of the most recent input.
func (t *Trace) LastAltitude() Altitude {
	return t.lastInputAltitude
}

// Reset drops every retained point.
func (t *Trace) Reset() {
	t.points = nil
}

func newPoint(pos Position, estimated bool, timestamp float64) Point {
	return Point{
		Latitude:  pos.Latitude,
		Longitude: pos.Longitude,
		Altitude:  pos.Altitude,
		Estimated: estimated,
		Timestamp: timestamp,
	}
}

func comparePoints(a, b Point) int {
	switch {
	case a.Timestamp < b.Timestamp:
		return -1
	case a.Timestamp > b.Timestamp:
		return 1
	}
	return 0
}

// lineDeviation returns how far p falls, in degrees of latitude, from the line
// through a and b written as lat = m*lon + n. When a and b share a longitude
// the line is vertical and the deviation is measured in longitude instead.
func lineDeviation(a, b, p Position) float64 {
	dLon := b.Longitude - a.Longitude
	if math.Abs(dLon) < DuplicateEpsilon {
		return math.Abs(p.Longitude - b.Longitude)
	}

	m := (b.Latitude - a.Latitude) / dLon
	n := a.Latitude - m*a.Longitude
	return math.Abs(m*p.Longitude + n - p.Latitude)
}
