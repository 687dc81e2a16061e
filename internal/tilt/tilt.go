// Package tilt accumulates roll and pitch by integrating angular rate
// samples over their timestamps.
package tilt

import "math"

const degPerRad = 180 / math.Pi

// State holds the integrated angles and the timestamp of the last gyro
// sample. The zero value is ready to use: the first sample primes the
// clock without advancing the angles.
//
// Angles are not wrapped. A device spun through ten full turns reads
// 3600 degrees, which keeps the arithmetic honest for callers that
// difference successive snapshots.
type State struct {
	RollDeg   float64
	PitchDeg  float64
	LastNanos int64
	Primed    bool
}

// Integrate advances s by one gyro sample using first-order Euler
// integration: each angle grows by rate times the elapsed seconds since
// the previous sample. Rates are rad/s about the device X (roll) and Y
// (pitch) axes; tsNanos comes from the sample's monotonic clock.
//
// A timestamp earlier than the previous one contributes nothing but is
// still adopted as the new reference, so one bad clock read cannot
// poison every later step.
func Integrate(s State, wxRad, wyRad float64, tsNanos int64) State {
	if !s.Primed {
		s.Primed = true
		s.LastNanos = tsNanos
		return s
	}
	dt := float64(tsNanos-s.LastNanos) / 1e9
	if dt < 0 {
		dt = 0
	}
	s.RollDeg += wxRad * dt * degPerRad
	s.PitchDeg += wyRad * dt * degPerRad
	s.LastNanos = tsNanos
	return s
}
