// Package heading derives a compass heading from paired gravity and
// magnetic field samples in the device frame.
package heading

import (
	"math"

	"compass-level/internal/sensor"
)

const degPerRad = 180 / math.Pi

// parallelSin bounds how closely the magnetic field may align with
// gravity before the horizontal reference degenerates. Both inputs are
// normalized first, so the cross product norm is the sine of the angle
// between them.
const parallelSin = 1e-6

// Estimate returns the compass heading in degrees, in [0, 360), with
// 0 = magnetic north and angles increasing clockwise. ok is false when
// either vector is too small to define a direction or the field is
// parallel to gravity.
//
// The device axes are tilted relative to the ground, so the horizontal
// direction is recovered by completing an (east, north, down) basis:
// east = magnetic x gravity, down = gravity. The azimuth of the device
// +X axis within that basis is the heading.
func Estimate(gravity, magnetic sensor.Vector3) (float64, bool) {
	g, ok := gravity.Normalized()
	if !ok {
		return 0, false
	}
	m, ok := magnetic.Normalized()
	if !ok {
		return 0, false
	}
	east := m.Cross(g)
	if east.Norm() < parallelSin {
		return 0, false
	}
	return Normalize(math.Atan2(east.Y, east.X) * degPerRad), true
}

// Normalize wraps an angle in degrees into [0, 360).
func Normalize(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	if deg >= 360 {
		// float rounding can land exactly on 360 after the shift
		deg -= 360
	}
	return deg
}

// Estimator retains the most recent gravity and magnetic samples so a
// heading can be requested at any time, regardless of which sensor
// reported last.
type Estimator struct {
	gravity      sensor.Vector3
	magnetic     sensor.Vector3
	haveGravity  bool
	haveMagnetic bool
}

func (e *Estimator) SetGravity(v sensor.Vector3) {
	e.gravity = v
	e.haveGravity = true
}

func (e *Estimator) SetMagnetic(v sensor.Vector3) {
	e.magnetic = v
	e.haveMagnetic = true
}

// Heading returns the heading for the retained sample pair. ok is false
// until both sensors have reported at least once and whenever the pair
// is degenerate.
func (e *Estimator) Heading() (float64, bool) {
	if !e.haveGravity || !e.haveMagnetic {
		return 0, false
	}
	return Estimate(e.gravity, e.magnetic)
}
