// Package imu adapts the ICM-20948 into the readout's sample stream,
// converting driver units into device-frame SI: accel G to m/s², gyro
// deg/s to rad/s, mag already in µT.
package imu

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"compass-level/internal/i2c"
	"compass-level/internal/sensor"
	"compass-level/internal/sensors/icm20948"
)

const (
	ms2PerG   = 9.80665
	radPerDeg = math.Pi / 180
)

type Config struct {
	// Bus is the I2C adapter number. Zero selects bus 1, the exposed
	// header bus on a Raspberry Pi.
	Bus     int
	Addr    uint16
	MagAddr uint16

	// Rate is the poll cadence. Zero selects 20ms (50 Hz).
	Rate time.Duration
}

type deviceIO interface {
	Read() (icm20948.Sample, error)
	ReadMag() (icm20948.MagSample, bool, error)
}

type handle struct {
	dev     deviceIO
	magOK   bool
	closeFn func()
}

// openIMU brings up the hardware. Swapped in tests.
var openIMU = openHardware

func openHardware(cfg Config) (handle, error) {
	bus, err := i2c.Open(cfg.Bus)
	if err != nil {
		return handle{}, fmt.Errorf("imu: open i2c bus %d: %w", cfg.Bus, err)
	}
	dev, err := icm20948.New(bus.Dev(cfg.Addr))
	if err != nil {
		_ = bus.Close()
		return handle{}, fmt.Errorf("imu: probe addr 0x%02X: %w", cfg.Addr, err)
	}

	// The compass is optional: without it the heading reads
	// unavailable while tilt keeps working.
	magOK := true
	if err := dev.EnableMag(bus.Dev(cfg.MagAddr)); err != nil {
		log.Printf("imu: magnetometer unavailable: %v", err)
		magOK = false
	}

	return handle{dev: dev, magOK: magOK, closeFn: func() { _ = bus.Close() }}, nil
}

// Source polls the IMU on a fixed cadence and emits device-frame
// samples. It satisfies sensor.Source.
type Source struct {
	cfg Config
	h   handle
	ch  chan sensor.Sample

	stopOnce sync.Once
	stopCh   chan struct{}
}

func New(cfg Config) *Source {
	if cfg.Bus == 0 {
		cfg.Bus = 1
	}
	if cfg.Addr == 0 {
		cfg.Addr = icm20948.DefaultAddress()
	}
	if cfg.MagAddr == 0 {
		cfg.MagAddr = icm20948.DefaultMagAddress()
	}
	if cfg.Rate <= 0 {
		cfg.Rate = 20 * time.Millisecond
	}
	return &Source{
		cfg:    cfg,
		ch:     make(chan sensor.Sample, 64),
		stopCh: make(chan struct{}),
	}
}

func (s *Source) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("imu: source is nil")
	}
	h, err := openIMU(s.cfg)
	if err != nil {
		return err
	}
	s.h = h
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
	defer func() {
		if s.h.closeFn != nil {
			s.h.closeFn()
		}
	}()

	start := time.Now()

	var readFailures int
	var magFailures int
	var lastReinitAt time.Time
	var lastLogged string

	logOnce := func(msg string) {
		if msg != lastLogged {
			log.Printf("%s", msg)
			lastLogged = msg
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
		}

		ts := time.Since(start).Nanoseconds()

		sm, err := s.h.dev.Read()
		if err != nil {
			readFailures++
			logOnce(fmt.Sprintf("imu: read failed: %v", err))
			// Recovery mirrors the sensor bring-up: drop the handle and
			// reprobe, at most every couple of seconds.
			if readFailures >= 10 && time.Since(lastReinitAt) >= 2*time.Second {
				lastReinitAt = time.Now()
				if s.h.closeFn != nil {
					s.h.closeFn()
				}
				h, reErr := openIMU(s.cfg)
				if reErr != nil {
					logOnce(fmt.Sprintf("imu: reinit failed: %v", reErr))
					continue
				}
				s.h = h
				readFailures = 0
				magFailures = 0
				logOnce("imu: reinitialized")
			}
			continue
		}
		if readFailures > 0 || lastLogged != "" {
			readFailures = 0
			lastLogged = ""
		}

		s.emit(sensor.Sample{
			Kind:           sensor.KindAccel,
			V:              sensor.Vector3{X: sm.Ax * ms2PerG, Y: sm.Ay * ms2PerG, Z: sm.Az * ms2PerG},
			TimestampNanos: ts,
		})
		s.emit(sensor.Sample{
			Kind:           sensor.KindGyro,
			V:              sensor.Vector3{X: sm.Gx * radPerDeg, Y: sm.Gy * radPerDeg, Z: sm.Gz * radPerDeg},
			TimestampNanos: ts,
		})

		if !s.h.magOK {
			continue
		}
		ms, ok, err := s.h.dev.ReadMag()
		if err != nil {
			magFailures++
			if magFailures >= 10 {
				s.h.magOK = false
				log.Printf("imu: magnetometer disabled after repeated failures: %v", err)
			}
			continue
		}
		if !ok {
			// No new conversion yet, or a saturated sample. Neither is
			// a fault; the reading simply goes stale until the next one.
			continue
		}
		magFailures = 0
		s.emit(sensor.Sample{
			Kind:           sensor.KindMag,
			V:              sensor.Vector3{X: ms.Mx, Y: ms.My, Z: ms.Mz},
			TimestampNanos: ts,
		})
	}
}

func (s *Source) emit(sm sensor.Sample) {
	// Never block the poll loop on a slow consumer.
	select {
	case s.ch <- sm:
	default:
	}
}
