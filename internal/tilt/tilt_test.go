package tilt

import (
	"math"
	"testing"
)

func requireAngles(t *testing.T, s State, roll, pitch float64) {
	t.Helper()
	if math.Abs(s.RollDeg-roll) > 1e-9 || math.Abs(s.PitchDeg-pitch) > 1e-9 {
		t.Fatalf("roll=%v pitch=%v want roll=%v pitch=%v", s.RollDeg, s.PitchDeg, roll, pitch)
	}
}

func TestFirstSamplePrimesOnly(t *testing.T) {
	s := Integrate(State{}, 5.0, -5.0, 1_000_000_000)
	requireAngles(t, s, 0, 0)
	if !s.Primed || s.LastNanos != 1_000_000_000 {
		t.Fatalf("primed=%v last=%d, want primed with last=1e9", s.Primed, s.LastNanos)
	}
}

func TestIntegrateOneSecond(t *testing.T) {
	s := Integrate(State{}, 0, 0, 0)
	s = Integrate(s, 0.1, 0, 1_000_000_000)
	requireAngles(t, s, 0.1*180/math.Pi, 0) // 5.7296 degrees
}

func TestIntegrateThreeSamples(t *testing.T) {
	// One degree per second of roll rate across a one second span.
	rate := math.Pi / 180
	s := Integrate(State{}, rate, 0, 0)
	s = Integrate(s, rate, 0, 500_000_000)
	s = Integrate(s, rate, 0, 1_000_000_000)
	requireAngles(t, s, 1.0, 0)
}

func TestIntegrateAdditive(t *testing.T) {
	const rate = 0.25

	one := Integrate(State{}, rate, -rate, 0)
	one = Integrate(one, rate, -rate, 2_000_000_000)

	two := Integrate(State{}, rate, -rate, 0)
	two = Integrate(two, rate, -rate, 1_000_000_000)
	two = Integrate(two, rate, -rate, 2_000_000_000)

	requireAngles(t, two, one.RollDeg, one.PitchDeg)
}

func TestIntegrateBothAxes(t *testing.T) {
	s := Integrate(State{}, 0, 0, 0)
	s = Integrate(s, 0.2, -0.1, 500_000_000)
	requireAngles(t, s, 0.1*180/math.Pi, -0.05*180/math.Pi)
}

func TestIntegrateUnbounded(t *testing.T) {
	// Ten full turns of roll must accumulate, not wrap.
	rate := 2 * math.Pi // one turn per second
	s := Integrate(State{}, rate, 0, 0)
	for i := int64(1); i <= 10; i++ {
		s = Integrate(s, rate, 0, i*1_000_000_000)
	}
	if math.Abs(s.RollDeg-3600) > 1e-6 {
		t.Fatalf("roll=%v want 3600", s.RollDeg)
	}
}

func TestTimestampBackwards(t *testing.T) {
	s := Integrate(State{}, 1, 0, 2_000_000_000)
	s = Integrate(s, 1, 0, 1_000_000_000)
	requireAngles(t, s, 0, 0)
	if s.LastNanos != 1_000_000_000 {
		t.Fatalf("last=%d want 1e9", s.LastNanos)
	}

	// The backwards read becomes the new reference for the next step.
	s = Integrate(s, 1, 0, 1_500_000_000)
	requireAngles(t, s, 0.5*180/math.Pi, 0)
}

func TestTimestampRepeated(t *testing.T) {
	s := Integrate(State{}, 1, 0, 7_000_000_000)
	s = Integrate(s, 123, 456, 7_000_000_000)
	requireAngles(t, s, 0, 0)
}
