// Package buttons turns GPIO pushbuttons into readout actions.
package buttons

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Action identifies what a pressed button asks for.
type Action int

const (
	ActionPause  Action = iota // pause or resume sample delivery
	ActionLevel                // zero roll and pitch at the current attitude
	ActionManual               // freeze into manual mode, or leave it
)

func (a Action) String() string {
	switch a {
	case ActionPause:
		return "pause"
	case ActionLevel:
		return "level"
	case ActionManual:
		return "manual"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

type Config struct {
	Enable bool

	// Pins use BCM GPIO numbering. A zero pin leaves that button unwired.
	PausePin  int
	LevelPin  int
	ManualPin int

	// DebouncePeriod is applied in the kernel via the character device.
	DebouncePeriod time.Duration
}

// Handler receives one call per debounced button press.
type Handler func(Action)

type Snapshot struct {
	Enabled     bool
	Lines       int
	Presses     uint64
	LastAction  string
	LastPressAt time.Time
}

type Service struct {
	cfg     Config
	handler Handler

	mu    sync.Mutex
	lines []io.Closer
	snap  Snapshot
}

func New(cfg Config, h Handler) *Service {
	if cfg.DebouncePeriod <= 0 {
		cfg.DebouncePeriod = 20 * time.Millisecond
	}
	return &Service{cfg: cfg, handler: h, snap: Snapshot{Enabled: cfg.Enable}}
}

// Start requests every configured line. On any failure the lines opened so
// far are released and the service stays unstarted.
func (s *Service) Start() error {
	if s == nil {
		return fmt.Errorf("buttons: service is nil")
	}
	if !s.cfg.Enable {
		return nil
	}

	wiring := []struct {
		pin    int
		action Action
	}{
		{s.cfg.PausePin, ActionPause},
		{s.cfg.LevelPin, ActionLevel},
		{s.cfg.ManualPin, ActionManual},
	}

	var lines []io.Closer
	opened := 0
	for _, w := range wiring {
		if w.pin <= 0 {
			continue
		}
		action := w.action
		line, err := openButtonFn(w.pin, s.cfg.DebouncePeriod, func() { s.press(action) })
		if err != nil {
			for _, l := range lines {
				_ = l.Close()
			}
			return fmt.Errorf("buttons: pin %d (%s): %w", w.pin, action, err)
		}
		lines = append(lines, line)
		opened++
	}
	if opened == 0 {
		return fmt.Errorf("buttons: enabled but no pins configured")
	}

	s.mu.Lock()
	s.lines = lines
	s.snap.Lines = opened
	s.mu.Unlock()
	return nil
}

func (s *Service) press(a Action) {
	s.mu.Lock()
	s.snap.Presses++
	s.snap.LastAction = a.String()
	s.snap.LastPressAt = time.Now()
	h := s.handler
	s.mu.Unlock()

	// The handler pokes other services; never hold our lock across it.
	if h != nil {
		h(a)
	}
}

func (s *Service) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

func (s *Service) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	lines := s.lines
	s.lines = nil
	s.snap.Lines = 0
	s.mu.Unlock()
	for _, l := range lines {
		_ = l.Close()
	}
}
