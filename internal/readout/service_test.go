package readout

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"compass-level/internal/sensor"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func withFakeClock(t *testing.T) *fakeClock {
	t.Helper()
	fc := &fakeClock{now: time.Unix(1000, 0)}
	orig := timeNow
	timeNow = fc.Now
	t.Cleanup(func() { timeNow = orig })
	return fc
}

var (
	levelGravity = sensor.Vector3{Z: 9.8}
	northField   = sensor.Vector3{Y: 20, Z: -40}
	eastField    = sensor.Vector3{X: -20, Z: -40}
)

func accelSample(v sensor.Vector3) sensor.Sample {
	return sensor.Sample{Kind: sensor.KindAccel, V: v}
}

func magSample(v sensor.Vector3) sensor.Sample {
	return sensor.Sample{Kind: sensor.KindMag, V: v}
}

func gyroSample(wx, wy float64, ts int64) sensor.Sample {
	return sensor.Sample{Kind: sensor.KindGyro, V: sensor.Vector3{X: wx, Y: wy}, TimestampNanos: ts}
}

func TestHeadingFromSamples(t *testing.T) {
	withFakeClock(t)
	s := New(Config{})

	snap := s.Snapshot()
	if snap.HeadingSeen || snap.HeadingValid {
		t.Fatalf("fresh service: seen=%v valid=%v", snap.HeadingSeen, snap.HeadingValid)
	}

	s.OnSample(accelSample(levelGravity))
	if snap := s.Snapshot(); snap.HeadingValid {
		t.Fatalf("heading valid with accel only")
	}

	s.OnSample(magSample(eastField))
	snap = s.Snapshot()
	if !snap.HeadingValid || !snap.HeadingSeen {
		t.Fatalf("valid=%v seen=%v want both true", snap.HeadingValid, snap.HeadingSeen)
	}
	if math.Abs(snap.HeadingDeg-90) > 1e-6 {
		t.Fatalf("heading=%v want 90", snap.HeadingDeg)
	}
}

func TestHeadingSticky(t *testing.T) {
	withFakeClock(t)
	s := New(Config{})
	s.OnSample(accelSample(levelGravity))
	s.OnSample(magSample(northField))

	// A field parallel to gravity has no horizontal direction. The
	// needle must hold its last position and drop the valid flag.
	s.OnSample(magSample(sensor.Vector3{Z: -42}))
	snap := s.Snapshot()
	if snap.HeadingValid {
		t.Fatalf("valid=true for parallel field")
	}
	if !snap.HeadingSeen {
		t.Fatalf("seen=false after a good heading")
	}
	if math.Abs(snap.HeadingDeg-0) > 1e-6 && math.Abs(snap.HeadingDeg-360) > 1e-6 {
		t.Fatalf("heading=%v want sticky 0", snap.HeadingDeg)
	}

	s.OnSample(magSample(eastField))
	snap = s.Snapshot()
	if !snap.HeadingValid || math.Abs(snap.HeadingDeg-90) > 1e-6 {
		t.Fatalf("heading=%v valid=%v want 90 valid", snap.HeadingDeg, snap.HeadingValid)
	}
}

func TestTiltFromGyro(t *testing.T) {
	withFakeClock(t)
	s := New(Config{})

	s.OnSample(gyroSample(0.1, 0, 0))
	if snap := s.Snapshot(); snap.RollDeg != 0 {
		t.Fatalf("roll=%v after priming sample", snap.RollDeg)
	}
	s.OnSample(gyroSample(0.1, 0, 1_000_000_000))
	snap := s.Snapshot()
	want := 0.1 * 180 / math.Pi
	if math.Abs(snap.RollDeg-want) > 1e-9 {
		t.Fatalf("roll=%v want %v", snap.RollDeg, want)
	}
	if snap.PitchDeg != 0 {
		t.Fatalf("pitch=%v want 0", snap.PitchDeg)
	}
}

func TestFreshnessWindow(t *testing.T) {
	fc := withFakeClock(t)
	s := New(Config{StaleAfter: time.Second})

	s.OnSample(accelSample(levelGravity))
	s.OnSample(magSample(northField))
	s.OnSample(gyroSample(0, 0, 0))

	snap := s.Snapshot()
	if !snap.AccelOK || !snap.MagOK || !snap.GyroOK {
		t.Fatalf("fresh flags=%v %v %v want all true", snap.AccelOK, snap.MagOK, snap.GyroOK)
	}

	fc.Advance(1500 * time.Millisecond)
	snap = s.Snapshot()
	if snap.AccelOK || snap.MagOK || snap.GyroOK {
		t.Fatalf("stale flags=%v %v %v want all false", snap.AccelOK, snap.MagOK, snap.GyroOK)
	}
	if snap.MagLastAt.IsZero() {
		t.Fatalf("MagLastAt zeroed by staleness")
	}

	// One sensor reporting again revives only that flag.
	s.OnSample(magSample(northField))
	snap = s.Snapshot()
	if snap.AccelOK || !snap.MagOK {
		t.Fatalf("accelOK=%v magOK=%v want false,true", snap.AccelOK, snap.MagOK)
	}
}

func TestSetLevel(t *testing.T) {
	withFakeClock(t)
	s := New(Config{})

	if err := s.SetLevel(); err == nil {
		t.Fatalf("SetLevel before gyro samples: err=nil")
	}

	s.OnSample(gyroSample(0.2, -0.1, 0))
	s.OnSample(gyroSample(0.2, -0.1, 1_000_000_000))
	snap := s.Snapshot()
	if snap.RollDeg == 0 {
		t.Fatalf("roll=0 before SetLevel, test needs tilt")
	}

	if err := s.SetLevel(); err != nil {
		t.Fatalf("SetLevel: %v", err)
	}
	snap = s.Snapshot()
	if math.Abs(snap.RollDeg) > 1e-9 || math.Abs(snap.PitchDeg) > 1e-9 {
		t.Fatalf("roll=%v pitch=%v want 0,0", snap.RollDeg, snap.PitchDeg)
	}

	// Later motion is measured from the new zero.
	s.OnSample(gyroSample(0.1, 0, 2_000_000_000))
	snap = s.Snapshot()
	want := 0.1 * 180 / math.Pi
	if math.Abs(snap.RollDeg-want) > 1e-9 {
		t.Fatalf("roll=%v want %v", snap.RollDeg, want)
	}
}

func TestPauseFreezesReadout(t *testing.T) {
	withFakeClock(t)
	s := New(Config{})
	s.OnSample(accelSample(levelGravity))
	s.OnSample(magSample(northField))
	s.OnSample(gyroSample(0, 0, 0))

	s.Pause()
	snap := s.Snapshot()
	if !snap.Paused {
		t.Fatalf("Paused=false after Pause")
	}

	s.OnSample(magSample(eastField))
	s.OnSample(gyroSample(1.0, 0, 5_000_000_000))
	snap = s.Snapshot()
	if math.Abs(snap.HeadingDeg) > 1e-6 && math.Abs(snap.HeadingDeg-360) > 1e-6 {
		t.Fatalf("heading=%v moved while paused", snap.HeadingDeg)
	}
	if snap.RollDeg != 0 {
		t.Fatalf("roll=%v moved while paused", snap.RollDeg)
	}
	if !snap.MagOK || !snap.GyroOK {
		t.Fatalf("freshness flags dropped while paused")
	}

	// Resume re-primes the integrator: the pause gap must not turn
	// into one giant integration step, and the estimator picks up the
	// field received during the pause.
	s.Resume()
	s.OnSample(gyroSample(1.0, 0, 10_000_000_000))
	snap = s.Snapshot()
	if snap.Paused {
		t.Fatalf("Paused=true after Resume")
	}
	if snap.RollDeg != 0 {
		t.Fatalf("roll=%v after resume priming sample, want 0", snap.RollDeg)
	}
	if math.Abs(snap.HeadingDeg-90) > 1e-6 {
		t.Fatalf("heading=%v want 90 after resume", snap.HeadingDeg)
	}

	s.OnSample(gyroSample(1.0, 0, 10_500_000_000))
	snap = s.Snapshot()
	want := 0.5 * 180 / math.Pi
	if math.Abs(snap.RollDeg-want) > 1e-9 {
		t.Fatalf("roll=%v want %v", snap.RollDeg, want)
	}
}

func TestTogglePause(t *testing.T) {
	withFakeClock(t)
	s := New(Config{})
	if got := s.TogglePause(); !got {
		t.Fatalf("first toggle=%v want true", got)
	}
	if got := s.TogglePause(); got {
		t.Fatalf("second toggle=%v want false", got)
	}
}

func TestManualMode(t *testing.T) {
	withFakeClock(t)
	s := New(Config{})

	s.SetManual(450, 3, -2)
	snap := s.Snapshot()
	if !snap.Manual || !snap.HeadingValid {
		t.Fatalf("manual=%v valid=%v", snap.Manual, snap.HeadingValid)
	}
	if math.Abs(snap.HeadingDeg-90) > 1e-9 {
		t.Fatalf("heading=%v want 90 (450 normalized)", snap.HeadingDeg)
	}
	if snap.RollDeg != 3 || snap.PitchDeg != -2 {
		t.Fatalf("roll=%v pitch=%v want 3,-2", snap.RollDeg, snap.PitchDeg)
	}

	// Sensor samples must not disturb pinned values.
	s.OnSample(accelSample(levelGravity))
	s.OnSample(magSample(northField))
	s.OnSample(gyroSample(1, 1, 0))
	s.OnSample(gyroSample(1, 1, 1_000_000_000))
	snap = s.Snapshot()
	if math.Abs(snap.HeadingDeg-90) > 1e-9 || snap.RollDeg != 3 {
		t.Fatalf("manual values drifted: heading=%v roll=%v", snap.HeadingDeg, snap.RollDeg)
	}

	if err := s.SetLevel(); err == nil {
		t.Fatalf("SetLevel in manual mode: err=nil")
	}

	s.ClearManual()
	snap = s.Snapshot()
	if snap.Manual {
		t.Fatalf("Manual=true after ClearManual")
	}
	if math.Abs(snap.HeadingDeg) > 1e-6 && math.Abs(snap.HeadingDeg-360) > 1e-6 {
		t.Fatalf("heading=%v want 0 from retained field", snap.HeadingDeg)
	}
}

type fakeSource struct {
	ch       chan sensor.Sample
	startErr error

	mu      sync.Mutex
	started bool
	closed  bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{ch: make(chan sensor.Sample, 16)}
}

func (f *fakeSource) Start(ctx context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.mu.Lock()
	f.started = true
	f.mu.Unlock()
	return nil
}

func (f *fakeSource) Samples() <-chan sensor.Sample { return f.ch }

func (f *fakeSource) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeSource) wasClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStartSourceError(t *testing.T) {
	s := New(Config{})
	src := newFakeSource()
	src.startErr = fmt.Errorf("no such device")

	err := s.Start(context.Background(), src)
	if err == nil {
		t.Fatalf("Start: err=nil")
	}
	snap := s.Snapshot()
	if !strings.Contains(snap.SourceErr, "no such device") {
		t.Fatalf("SourceErr=%q want it to carry the start error", snap.SourceErr)
	}
}

func TestRunConsumesSamples(t *testing.T) {
	s := New(Config{})
	src := newFakeSource()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx, src); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Close()

	src.ch <- accelSample(levelGravity)
	src.ch <- magSample(eastField)
	waitFor(t, "heading from stream", func() bool {
		snap := s.Snapshot()
		return snap.HeadingValid && math.Abs(snap.HeadingDeg-90) < 1e-6
	})

	close(src.ch)
	waitFor(t, "stream-closed error", func() bool {
		return strings.Contains(s.Snapshot().SourceErr, "stream closed")
	})
	waitFor(t, "source closed", src.wasClosed)
}
