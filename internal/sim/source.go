package sim

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"compass-level/internal/sensor"
)

// Earth constants used for sample synthesis: gravity in m/s² and a
// mid-latitude magnetic field split into horizontal and downward
// components in µT.
const (
	gravityMS2   = 9.81
	fieldHorizUT = 20.0
	fieldVertUT  = 40.0
)

// Generator turns a motion profile into the sample triple a real IMU
// would deliver. Earth vectors are synthesized for a level device: the
// heading profile drives the mag sample and the tilt profile drives the
// gyro rates, so each consumer reconstructs its scripted angles exactly.
type Generator struct {
	Wave     Wave
	Scenario *Scenario
	Loop     bool
}

// AnglesAt returns the profile attitude at elapsed. A scenario, when
// present, takes precedence over the wave.
func (g Generator) AnglesAt(elapsed time.Duration) Angles {
	if g.Scenario != nil {
		return g.Scenario.AnglesAt(elapsed, g.Loop)
	}
	return g.Wave.AnglesAt(elapsed)
}

// Samples returns the accel, mag and gyro samples for the step from
// prev to elapsed, timestamped at elapsed. Gyro rates are the mean
// rates across the step, so a first-order integrator reconstructs the
// profile angles without accumulation error. prev < 0 marks the first
// step; its gyro sample carries zero rate and only primes the
// integrator clock.
func (g Generator) Samples(prev, elapsed time.Duration) []sensor.Sample {
	a := g.AnglesAt(elapsed)
	ts := elapsed.Nanoseconds()

	rad := a.HeadingDeg * math.Pi / 180
	mag := sensor.Vector3{
		X: -fieldHorizUT * math.Sin(rad),
		Y: fieldHorizUT * math.Cos(rad),
		Z: -fieldVertUT,
	}

	var gyro sensor.Vector3
	if prev >= 0 && elapsed > prev {
		p := g.AnglesAt(prev)
		dt := (elapsed - prev).Seconds()
		gyro.X = (a.RollDeg - p.RollDeg) / dt * math.Pi / 180
		gyro.Y = (a.PitchDeg - p.PitchDeg) / dt * math.Pi / 180
	}

	return []sensor.Sample{
		{Kind: sensor.KindAccel, V: sensor.Vector3{Z: gravityMS2}, TimestampNanos: ts},
		{Kind: sensor.KindMag, V: mag, TimestampNanos: ts},
		{Kind: sensor.KindGyro, V: gyro, TimestampNanos: ts},
	}
}

// SourceConfig configures the simulated source.
type SourceConfig struct {
	// Rate is the sample cadence. Zero selects 20ms (50 Hz).
	Rate     time.Duration
	Wave     Wave
	Scenario *Scenario
	Loop     bool
}

// Source emits deterministic samples on a fixed cadence. It satisfies
// sensor.Source.
type Source struct {
	cfg SourceConfig
	gen Generator
	ch  chan sensor.Sample

	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewSource(cfg SourceConfig) *Source {
	if cfg.Rate <= 0 {
		cfg.Rate = 20 * time.Millisecond
	}
	return &Source{
		cfg:    cfg,
		gen:    Generator{Wave: cfg.Wave, Scenario: cfg.Scenario, Loop: cfg.Loop},
		ch:     make(chan sensor.Sample, 64),
		stopCh: make(chan struct{}),
	}
}

func (s *Source) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("sim: source is nil")
	}
	go s.run(ctx)
	return nil
}

func (s *Source) Samples() <-chan sensor.Sample {
	return s.ch
}

func (s *Source) Close() {
	if s == nil {
		return
	}
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}

func (s *Source) run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Rate)
	defer ticker.Stop()
	defer close(s.ch)

	start := time.Now()
	prev := time.Duration(-1)
	emit := func(elapsed time.Duration) {
		for _, sm := range s.gen.Samples(prev, elapsed) {
			// Never block the clock on a slow consumer.
			select {
			case s.ch <- sm:
			default:
			}
		}
		prev = elapsed
	}

	emit(0)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			emit(time.Since(start))
		}
	}
}
