// Package sensor defines the shared vocabulary between sensor sources
// (live IMU or simulator) and the readout service: the device coordinate
// frame, the sample stream and the vector math used on it.
//
// Device frame: +X right, +Y forward, +Z up. A device lying flat on a
// table reports gravity along +Z.
package sensor

import (
	"context"
	"math"
)

// Vector3 is a 3-component vector in the device frame.
type Vector3 struct {
	X, Y, Z float64
}

func (v Vector3) Scaled(s float64) Vector3 {
	return Vector3{v.X * s, v.Y * s, v.Z * s}
}

func (v Vector3) Dot(o Vector3) float64 {
	return v.X*o.X + v.Y*o.Y + v.Z*o.Z
}

func (v Vector3) Cross(o Vector3) Vector3 {
	return Vector3{
		X: v.Y*o.Z - v.Z*o.Y,
		Y: v.Z*o.X - v.X*o.Z,
		Z: v.X*o.Y - v.Y*o.X,
	}
}

func (v Vector3) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// minNorm is the magnitude below which a vector has no usable direction.
const minNorm = 1e-9

// Normalized returns v scaled to unit length. ok is false when the
// magnitude is too small to define a direction.
func (v Vector3) Normalized() (Vector3, bool) {
	n := v.Norm()
	if n < minNorm {
		return Vector3{}, false
	}
	return v.Scaled(1 / n), true
}

// Kind identifies which physical sensor produced a sample.
type Kind int

const (
	KindAccel Kind = iota
	KindMag
	KindGyro
)

func (k Kind) String() string {
	switch k {
	case KindAccel:
		return "accel"
	case KindMag:
		return "mag"
	case KindGyro:
		return "gyro"
	default:
		return "unknown"
	}
}

// Sample is a single reading in the device frame.
//
// Units: accel in m/s² (gravity reaction, +Z up when level), mag in µT,
// gyro in rad/s about the device axes. TimestampNanos orders gyro
// samples for integration; sources must fill it from a monotonic clock.
type Sample struct {
	Kind           Kind
	V              Vector3
	TimestampNanos int64
}

// Source produces a stream of samples. Start begins production and
// returns once the source is running or has failed to initialize.
// The samples channel is closed when the source stops.
type Source interface {
	Start(ctx context.Context) error
	Samples() <-chan Sample
	Close()
}
