// Package readout turns the raw sample stream from a sensor source into
// the instrument's displayed state: compass heading from the
// accelerometer and magnetometer pair, roll and pitch from integrated
// gyro rates, plus per-sensor freshness so the renderers can flag a
// silent sensor instead of showing stale numbers as live.
package readout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"compass-level/internal/heading"
	"compass-level/internal/sensor"
	"compass-level/internal/tilt"
)

// test seam
var timeNow = time.Now

type Config struct {
	// StaleAfter is how long a sensor may stay silent before its
	// freshness flag drops. Zero selects the 2s default.
	StaleAfter time.Duration

	// Smoothing is the EMA alpha for roll and pitch on the broadcast
	// path. Values outside (0, 1) disable smoothing.
	Smoothing float64
}

// Snapshot is the displayed state at one instant. HeadingDeg holds the
// last heading that could be computed even when HeadingValid is false,
// so renderers can keep the needle in place and mark it unavailable
// rather than blanking the dial.
type Snapshot struct {
	HeadingDeg   float64
	HeadingValid bool
	HeadingSeen  bool

	RollDeg  float64
	PitchDeg float64

	AccelOK bool
	MagOK   bool
	GyroOK  bool

	AccelLastAt time.Time
	MagLastAt   time.Time
	GyroLastAt  time.Time

	Manual bool
	Paused bool

	SourceErr string
	UpdatedAt time.Time
}

type Service struct {
	cfg Config

	mu   sync.RWMutex
	est  heading.Estimator
	tilt tilt.State
	snap Snapshot

	rollOffsetDeg  float64
	pitchOffsetDeg float64

	manual bool
	paused bool

	bc *Broadcaster

	stopOnce sync.Once
	stopCh   chan struct{}
}

func New(cfg Config) *Service {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 2 * time.Second
	}
	return &Service{
		cfg:    cfg,
		bc:     NewBroadcaster(cfg.Smoothing),
		stopCh: make(chan struct{}),
	}
}

// Start launches the consume loop over src's samples. The source is
// started first; a source that cannot start leaves its error in the
// snapshot so renderers can show it, and the error is also returned so
// the caller can decide whether to keep the process up.
func (s *Service) Start(ctx context.Context, src sensor.Source) error {
	if s == nil {
		return fmt.Errorf("readout: service is nil")
	}
	if src == nil {
		return fmt.Errorf("readout: source is nil")
	}
	if err := src.Start(ctx); err != nil {
		s.setSourceErr(fmt.Sprintf("source start: %v", err))
		return err
	}
	go s.run(ctx, src)
	return nil
}

func (s *Service) Close() {
	if s == nil {
		return
	}
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}

func (s *Service) run(ctx context.Context, src sensor.Source) {
	defer src.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case sm, ok := <-src.Samples():
			if !ok {
				s.setSourceErr("sample stream closed")
				return
			}
			s.OnSample(sm)
		}
	}
}

// OnSample folds one sample into the readout. Sensor freshness
// timestamps advance in every mode; heading and tilt only advance while
// neither paused nor in manual mode.
func (s *Service) OnSample(sm sensor.Sample) {
	if s == nil {
		return
	}
	now := timeNow()

	s.mu.Lock()
	live := !s.paused && !s.manual
	switch sm.Kind {
	case sensor.KindAccel:
		s.snap.AccelLastAt = now
		s.est.SetGravity(sm.V)
	case sensor.KindMag:
		s.snap.MagLastAt = now
		s.est.SetMagnetic(sm.V)
	case sensor.KindGyro:
		s.snap.GyroLastAt = now
		if live {
			s.tilt = tilt.Integrate(s.tilt, sm.V.X, sm.V.Y, sm.TimestampNanos)
		}
	}
	if !live {
		s.mu.Unlock()
		return
	}
	s.recomputeLocked(now)
	out := s.snapshotLocked(now)
	s.mu.Unlock()

	s.bc.Publish(out)
}

// Snapshot returns the current readout with freshness evaluated at call
// time.
func (s *Service) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	now := timeNow()
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked(now)
}

// Subscribe attaches a display consumer to the broadcast path.
func (s *Service) Subscribe(buffer int) (int, <-chan Snapshot) {
	return s.bc.Subscribe(buffer)
}

func (s *Service) Unsubscribe(id int) {
	s.bc.Unsubscribe(id)
}

// SetLevel re-zeros roll and pitch so the current attitude reads (0,0).
// The offset lives for the process lifetime.
func (s *Service) SetLevel() error {
	if s == nil {
		return fmt.Errorf("readout: service is nil")
	}
	now := timeNow()

	s.mu.Lock()
	if s.manual {
		s.mu.Unlock()
		return fmt.Errorf("readout: manual mode active")
	}
	if s.snap.GyroLastAt.IsZero() {
		s.mu.Unlock()
		return fmt.Errorf("readout: no gyro samples yet")
	}
	s.rollOffsetDeg -= s.snap.RollDeg
	s.pitchOffsetDeg -= s.snap.PitchDeg
	s.recomputeLocked(now)
	out := s.snapshotLocked(now)
	s.mu.Unlock()

	s.bc.Publish(out)
	return nil
}

// Pause freezes the published heading and tilt. Samples keep advancing
// the freshness timestamps so sensor health stays truthful.
func (s *Service) Pause() {
	if s == nil {
		return
	}
	now := timeNow()

	s.mu.Lock()
	if s.paused {
		s.mu.Unlock()
		return
	}
	s.paused = true
	s.snap.Paused = true
	s.snap.UpdatedAt = now
	out := s.snapshotLocked(now)
	s.mu.Unlock()

	s.bc.Publish(out)
}

// Resume unfreezes the readout. The integrator clock is re-primed so
// the pause gap is not integrated as one giant step.
func (s *Service) Resume() {
	if s == nil {
		return
	}
	now := timeNow()

	s.mu.Lock()
	if !s.paused {
		s.mu.Unlock()
		return
	}
	s.paused = false
	s.snap.Paused = false
	s.tilt.Primed = false
	s.recomputeLocked(now)
	out := s.snapshotLocked(now)
	s.mu.Unlock()

	s.bc.Publish(out)
}

// TogglePause flips the paused state and reports the new value.
func (s *Service) TogglePause() bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	paused := s.paused
	s.mu.RUnlock()
	if paused {
		s.Resume()
		return false
	}
	s.Pause()
	return true
}

// SetManual pins the displayed values, for bench checks without
// sensors. Sensor samples are ignored until ClearManual.
func (s *Service) SetManual(headingDeg, rollDeg, pitchDeg float64) {
	if s == nil {
		return
	}
	now := timeNow()

	s.mu.Lock()
	s.manual = true
	s.snap.Manual = true
	s.snap.HeadingDeg = heading.Normalize(headingDeg)
	s.snap.HeadingValid = true
	s.snap.HeadingSeen = true
	s.snap.RollDeg = rollDeg
	s.snap.PitchDeg = pitchDeg
	s.snap.UpdatedAt = now
	out := s.snapshotLocked(now)
	s.mu.Unlock()

	s.bc.Publish(out)
}

// ClearManual returns to sensor-driven readout.
func (s *Service) ClearManual() {
	if s == nil {
		return
	}
	now := timeNow()

	s.mu.Lock()
	if !s.manual {
		s.mu.Unlock()
		return
	}
	s.manual = false
	s.snap.Manual = false
	s.tilt.Primed = false
	s.recomputeLocked(now)
	out := s.snapshotLocked(now)
	s.mu.Unlock()

	s.bc.Publish(out)
}

// Manual reports whether manual mode is active.
func (s *Service) Manual() bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.manual
}

// recomputeLocked rebuilds the derived snapshot fields from estimator
// and integrator state. Callers hold s.mu.
func (s *Service) recomputeLocked(now time.Time) {
	if h, ok := s.est.Heading(); ok {
		s.snap.HeadingDeg = h
		s.snap.HeadingValid = true
		s.snap.HeadingSeen = true
	} else {
		// HeadingDeg keeps the last good value for the sticky needle.
		s.snap.HeadingValid = false
	}
	s.snap.RollDeg = s.tilt.RollDeg + s.rollOffsetDeg
	s.snap.PitchDeg = s.tilt.PitchDeg + s.pitchOffsetDeg
	s.snap.UpdatedAt = now
}

func (s *Service) snapshotLocked(now time.Time) Snapshot {
	snap := s.snap
	snap.AccelOK = fresh(snap.AccelLastAt, now, s.cfg.StaleAfter)
	snap.MagOK = fresh(snap.MagLastAt, now, s.cfg.StaleAfter)
	snap.GyroOK = fresh(snap.GyroLastAt, now, s.cfg.StaleAfter)
	return snap
}

func (s *Service) setSourceErr(msg string) {
	now := timeNow()

	s.mu.Lock()
	s.snap.SourceErr = msg
	s.snap.UpdatedAt = now
	out := s.snapshotLocked(now)
	s.mu.Unlock()

	s.bc.Publish(out)
}

func fresh(at, now time.Time, window time.Duration) bool {
	return !at.IsZero() && now.Sub(at) <= window
}
