package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"compass-level/internal/buttons"
	"compass-level/internal/config"
	"compass-level/internal/console"
	"compass-level/internal/display"
	"compass-level/internal/i2c"
	"compass-level/internal/imu"
	"compass-level/internal/readout"
	"compass-level/internal/sensor"
	"compass-level/internal/sim"
)

// The OLED is dropped after this many consecutive failed frame writes.
const maxDrawFailures = 10

type appRuntime struct {
	cfg config.Config

	svc *readout.Service
	src sensor.Source

	term *console.Renderer

	screen    *display.Screen
	screenBus *i2c.Bus
	fb        *display.Framebuffer
	inverted  bool
	drawFails int

	btns *buttons.Service
}

func newRuntime(ctx context.Context, cfg config.Config) (*appRuntime, error) {
	src, err := buildSource(cfg)
	if err != nil {
		return nil, err
	}

	svc := readout.New(readout.Config{
		StaleAfter: cfg.Readout.StaleAfter,
		Smoothing:  cfg.Readout.Smoothing,
	})

	r := &appRuntime{cfg: cfg, svc: svc, src: src}

	if err := svc.Start(ctx, src); err != nil {
		// Keep the readout running even without samples; the renderers
		// surface the source error.
		log.Printf("source start failed: %v", err)
	}

	if cfg.Readout.Manual {
		svc.SetManual(cfg.Readout.ManualHeadingDeg, cfg.Readout.ManualRollDeg, cfg.Readout.ManualPitchDeg)
	}

	if cfg.Console.Enable {
		r.term = console.New(console.Config{
			Style: console.Style(cfg.Console.Style),
			Color: cfg.Console.Color,
		})
	}

	if cfg.Display.Enable {
		if err := r.initDisplay(); err != nil {
			// Keep running on the console alone.
			log.Printf("display init failed: %v", err)
		}
	}

	if cfg.Buttons.Enable {
		b := buttons.New(buttons.Config{
			Enable:         true,
			PausePin:       cfg.Buttons.PausePin,
			LevelPin:       cfg.Buttons.LevelPin,
			ManualPin:      cfg.Buttons.ManualPin,
			DebouncePeriod: cfg.Buttons.Debounce,
		}, buttonHandler(svc))
		if err := b.Start(); err != nil {
			log.Printf("buttons init failed: %v", err)
		} else {
			r.btns = b
		}
	}

	return r, nil
}

func buildSource(cfg config.Config) (sensor.Source, error) {
	switch cfg.Source.Kind {
	case "imu":
		return imu.New(imu.Config{
			Bus:     cfg.IMU.Bus,
			Addr:    cfg.IMU.Addr,
			MagAddr: cfg.IMU.MagAddr,
			Rate:    cfg.Source.Rate,
		}), nil
	case "sim":
		var scn *sim.Scenario
		if cfg.Sim.Scenario != "" {
			script, err := sim.LoadScenarioScript(cfg.Sim.Scenario)
			if err != nil {
				return nil, fmt.Errorf("sim scenario: %w", err)
			}
			scn, err = sim.NewScenario(script)
			if err != nil {
				return nil, fmt.Errorf("sim scenario %s: %w", cfg.Sim.Scenario, err)
			}
		}
		return sim.NewSource(sim.SourceConfig{
			Rate: cfg.Source.Rate,
			Wave: sim.Wave{
				SpinDegPerSec:    cfg.Sim.SpinDegPerSec,
				TiltAmplitudeDeg: cfg.Sim.TiltAmplitudeDeg,
				TiltPeriod:       cfg.Sim.TiltPeriod,
			},
			Scenario: scn,
			Loop:     cfg.Sim.Loop,
		}), nil
	default:
		return nil, fmt.Errorf("unknown source kind %q", cfg.Source.Kind)
	}
}

// buttonHandler maps button presses onto readout operations.
func buttonHandler(svc *readout.Service) buttons.Handler {
	return func(a buttons.Action) {
		switch a {
		case buttons.ActionPause:
			log.Printf("buttons: paused=%t", svc.TogglePause())
		case buttons.ActionLevel:
			if err := svc.SetLevel(); err != nil {
				log.Printf("buttons: set level: %v", err)
			}
		case buttons.ActionManual:
			if svc.Manual() {
				svc.ClearManual()
				log.Printf("buttons: manual cleared")
				return
			}
			snap := svc.Snapshot()
			svc.SetManual(snap.HeadingDeg, snap.RollDeg, snap.PitchDeg)
			log.Printf("buttons: manual hold")
		}
	}
}

func (r *appRuntime) initDisplay() error {
	bus, err := i2c.Open(r.cfg.Display.Bus)
	if err != nil {
		return err
	}
	screen, err := display.NewScreen(bus.Dev(r.cfg.Display.Addr), 128, 64)
	if err != nil {
		_ = bus.Close()
		return err
	}
	r.screenBus = bus
	r.screen = screen
	r.fb = display.NewFramebuffer(128, 64)
	return nil
}

// Run drives the render loop until ctx ends. Smoothed angles come from
// the broadcast stream; health flags are pulled fresh on every tick so
// staleness shows up even when the stream goes quiet.
func (r *appRuntime) Run(ctx context.Context) {
	if r.term == nil && r.screen == nil {
		<-ctx.Done()
		return
	}

	id, frames := r.svc.Subscribe(16)
	defer r.svc.Unsubscribe(id)

	fps := r.cfg.Display.FrameRate
	if fps <= 0 {
		fps = 10
	}
	tick := time.NewTicker(time.Second / time.Duration(fps))
	defer tick.Stop()

	var latest readout.Snapshot
	haveFrame := false
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			latest = f
			haveFrame = true
		case <-tick.C:
			snap := r.svc.Snapshot()
			if haveFrame {
				snap.RollDeg = latest.RollDeg
				snap.PitchDeg = latest.PitchDeg
			}
			r.renderFrame(snap)
		}
	}
}

func (r *appRuntime) renderFrame(snap readout.Snapshot) {
	if r.term != nil {
		if err := r.term.Render(snap); err != nil {
			log.Printf("console render failed, disabling: %v", err)
			r.term = nil
		}
	}
	if r.screen == nil {
		return
	}
	if snap.Paused != r.inverted {
		if err := r.screen.Invert(snap.Paused); err == nil {
			r.inverted = snap.Paused
		}
	}
	display.Render(r.fb, snap)
	if err := r.screen.Draw(r.fb); err != nil {
		r.drawFails++
		if r.drawFails == 1 {
			log.Printf("display draw failed: %v", err)
		}
		if r.drawFails >= maxDrawFailures {
			log.Printf("display disabled after %d draw failures", r.drawFails)
			r.closeDisplay()
		}
		return
	}
	r.drawFails = 0
}

func (r *appRuntime) closeDisplay() {
	if r.screen != nil {
		_ = r.screen.Close()
		r.screen = nil
	}
	if r.screenBus != nil {
		_ = r.screenBus.Close()
		r.screenBus = nil
	}
}

func (r *appRuntime) Close() {
	if r == nil {
		return
	}
	if r.svc != nil {
		r.svc.Close()
		r.svc = nil
	}
	if r.src != nil {
		r.src.Close()
		r.src = nil
	}
	r.closeDisplay()
	if r.term != nil {
		_ = r.term.Close()
		r.term = nil
	}
	if r.btns != nil {
		r.btns.Close()
		r.btns = nil
	}
}
