// Package sim provides a deterministic sensor source for bench runs and
// tests: a parametric motion profile or a YAML keyframe script is turned
// into the accel, mag and gyro samples a real IMU would deliver.
package sim

import (
	"math"
	"time"
)

// Angles is a device attitude: compass heading plus the tilt pair.
type Angles struct {
	HeadingDeg float64
	RollDeg    float64
	PitchDeg   float64
}

// Wave is the default motion profile: the device spins at a constant
// rate while rocking through a deterministic figure-eight tilt.
type Wave struct {
	SpinDegPerSec    float64
	TiltAmplitudeDeg float64
	TiltPeriod       time.Duration
}

// AnglesAt returns the profile attitude at elapsed time since start.
func (w Wave) AnglesAt(elapsed time.Duration) Angles {
	spin := w.SpinDegPerSec
	if spin == 0 {
		spin = 15
	}
	amp := w.TiltAmplitudeDeg
	if amp == 0 {
		amp = 12
	}
	period := w.TiltPeriod
	if period <= 0 {
		period = 8 * time.Second
	}

	sec := elapsed.Seconds()

	// Roll and pitch trace a figure-eight (Lissajous) so the bubble
	// sweeps the whole dial instead of a single line.
	//	roll  = amp * sin(2πt/T)
	//	pitch = 0.5 * amp * sin(4πt/T)
	ph := 2 * math.Pi * sec / period.Seconds()
	return Angles{
		HeadingDeg: normDeg(spin * sec),
		RollDeg:    amp * math.Sin(ph),
		PitchDeg:   0.5 * amp * math.Sin(2*ph),
	}
}

func normDeg(x float64) float64 {
	x = math.Mod(x, 360)
	if x < 0 {
		x += 360
	}
	return x
}
