package imu

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"compass-level/internal/sensor"
	"compass-level/internal/sensors/icm20948"
)

type fakeDevice struct {
	mu        sync.Mutex
	sample    icm20948.Sample
	readErr   error
	readCalls int

	mag      icm20948.MagSample
	magReady bool
	magErr   error
	magCalls int
}

func (f *fakeDevice) Read() (icm20948.Sample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readCalls++
	if f.readErr != nil {
		return icm20948.Sample{}, f.readErr
	}
	return f.sample, nil
}

func (f *fakeDevice) ReadMag() (icm20948.MagSample, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.magCalls++
	if f.magErr != nil {
		return icm20948.MagSample{}, false, f.magErr
	}
	return f.mag, f.magReady, nil
}

func (f *fakeDevice) calls() (read, mag int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readCalls, f.magCalls
}

func stubOpen(t *testing.T, fn func(Config) (handle, error)) {
	t.Helper()
	orig := openIMU
	openIMU = fn
	t.Cleanup(func() { openIMU = orig })
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

func TestNewDefaults(t *testing.T) {
	s := New(Config{})
	if s.cfg.Bus != 1 {
		t.Fatalf("bus=%d want 1", s.cfg.Bus)
	}
	if s.cfg.Addr != icm20948.DefaultAddress() {
		t.Fatalf("addr=0x%X want default", s.cfg.Addr)
	}
	if s.cfg.MagAddr != icm20948.DefaultMagAddress() {
		t.Fatalf("magAddr=0x%X want default", s.cfg.MagAddr)
	}
	if s.cfg.Rate != 20*time.Millisecond {
		t.Fatalf("rate=%s want 20ms", s.cfg.Rate)
	}
}

func TestStartOpenError(t *testing.T) {
	stubOpen(t, func(Config) (handle, error) {
		return handle{}, fmt.Errorf("imu: open i2c bus 1: no such device")
	})

	s := New(Config{})
	if err := s.Start(context.Background()); err == nil {
		t.Fatalf("Start: err=nil want open failure")
	}
}

func TestEmitsConvertedSamples(t *testing.T) {
	dev := &fakeDevice{
		sample:   icm20948.Sample{Ax: 1, Az: -0.5, Gx: 90, Gy: -45},
		mag:      icm20948.MagSample{Mx: 20, My: -10, Mz: -40},
		magReady: true,
	}
	stubOpen(t, func(Config) (handle, error) {
		return handle{dev: dev, magOK: true, closeFn: func() {}}, nil
	})

	s := New(Config{Rate: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Close()

	byKind := map[sensor.Kind]sensor.Sample{}
	deadline := time.After(2 * time.Second)
	var lastTS int64 = -1
	for len(byKind) < 3 {
		select {
		case sm := <-s.Samples():
			byKind[sm.Kind] = sm
			if sm.TimestampNanos < lastTS {
				t.Fatalf("timestamps went backwards: %d after %d", sm.TimestampNanos, lastTS)
			}
			lastTS = sm.TimestampNanos
		case <-deadline:
			t.Fatalf("timed out, saw %d kinds", len(byKind))
		}
	}

	ac := byKind[sensor.KindAccel].V
	if math.Abs(ac.X-9.80665) > 1e-9 || math.Abs(ac.Z+4.903325) > 1e-9 {
		t.Fatalf("accel=%+v want X=9.80665 Z=-4.903325", ac)
	}
	gy := byKind[sensor.KindGyro].V
	if math.Abs(gy.X-math.Pi/2) > 1e-12 || math.Abs(gy.Y+math.Pi/4) > 1e-12 {
		t.Fatalf("gyro=%+v want X=pi/2 Y=-pi/4", gy)
	}
	mg := byKind[sensor.KindMag].V
	if mg.X != 20 || mg.Y != -10 || mg.Z != -40 {
		t.Fatalf("mag=%+v want passthrough 20,-10,-40", mg)
	}
}

func TestMagDisabledAfterFailures(t *testing.T) {
	dev := &fakeDevice{
		sample: icm20948.Sample{Az: 1},
		magErr: fmt.Errorf("remote io error"),
	}
	stubOpen(t, func(Config) (handle, error) {
		return handle{dev: dev, magOK: true, closeFn: func() {}}, nil
	})

	s := New(Config{Rate: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Close()

	waitFor(t, "mag failure threshold", func() bool {
		_, mag := dev.calls()
		return mag >= 10
	})
	_, atDisable := dev.calls()
	time.Sleep(50 * time.Millisecond)
	_, after := dev.calls()
	if after > atDisable+1 {
		t.Fatalf("mag still polled after disable: %d -> %d", atDisable, after)
	}

	// The accel/gyro path must keep running.
	read1, _ := dev.calls()
	waitFor(t, "continued reads", func() bool {
		read2, _ := dev.calls()
		return read2 > read1
	})
}

func TestReinitAfterReadFailures(t *testing.T) {
	dev := &fakeDevice{readErr: fmt.Errorf("i2c: rdwr /dev/i2c-1 addr 0x68: remote io error")}

	var mu sync.Mutex
	opens := 0
	closes := 0
	stubOpen(t, func(Config) (handle, error) {
		mu.Lock()
		opens++
		mu.Unlock()
		return handle{dev: dev, magOK: false, closeFn: func() {
			mu.Lock()
			closes++
			mu.Unlock()
		}}, nil
	})

	s := New(Config{Rate: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Close()

	waitFor(t, "device reprobe", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return opens >= 2 && closes >= 1
	})
}
