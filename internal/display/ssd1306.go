package display

import "fmt"

// SSD1306 control bytes and the command subset the driver issues.
const (
	ctrlCommand = 0x00
	ctrlData    = 0x40

	cmdDisplayOff    = 0xAE
	cmdDisplayOn     = 0xAF
	cmdClockDiv      = 0xD5
	cmdMultiplex     = 0xA8
	cmdDisplayOffset = 0xD3
	cmdStartLine     = 0x40
	cmdChargePump    = 0x8D
	cmdMemoryMode    = 0x20
	cmdSegRemap      = 0xA1
	cmdComScanDec    = 0xC8
	cmdComPins       = 0xDA
	cmdContrast      = 0x81
	cmdPrecharge     = 0xD9
	cmdVComDetect    = 0xDB
	cmdResumeRAM     = 0xA4
	cmdNormal        = 0xA6
	cmdInvert        = 0xA7
	cmdColumnAddr    = 0x21
	cmdPageAddr      = 0x22
)

// DefaultAddress is the usual SSD1306 I2C address (0x3D on some boards).
const DefaultAddress = 0x3C

// ctrlIO is the transport the driver needs. *i2c.Dev satisfies it.
type ctrlIO interface {
	Write(p []byte) error
}

// Screen drives a 128x64 SSD1306 panel.
type Screen struct {
	dev  ctrlIO
	w, h int
	buf  []byte
}

// NewScreen initializes the panel and leaves it on, cleared.
func NewScreen(dev ctrlIO, w, h int) (*Screen, error) {
	if dev == nil {
		return nil, fmt.Errorf("ssd1306: nil i2c device")
	}
	if w != 128 || h != 64 {
		return nil, fmt.Errorf("ssd1306: unsupported geometry %dx%d", w, h)
	}
	s := &Screen{dev: dev, w: w, h: h, buf: make([]byte, 0, 1+w*h/8)}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Screen) init() error {
	seq := []byte{
		cmdDisplayOff,
		cmdClockDiv, 0x80,
		cmdMultiplex, byte(s.h - 1),
		cmdDisplayOffset, 0x00,
		cmdStartLine | 0x00,
		cmdChargePump, 0x14, // internal charge pump
		cmdMemoryMode, 0x00, // horizontal addressing
		cmdSegRemap,
		cmdComScanDec,
		cmdComPins, 0x12,
		cmdContrast, 0xCF,
		cmdPrecharge, 0xF1,
		cmdVComDetect, 0x40,
		cmdResumeRAM,
		cmdNormal,
	}
	if err := s.command(seq...); err != nil {
		return fmt.Errorf("ssd1306: init: %w", err)
	}
	if err := s.Draw(NewFramebuffer(s.w, s.h)); err != nil {
		return err
	}
	if err := s.command(cmdDisplayOn); err != nil {
		return fmt.Errorf("ssd1306: init: %w", err)
	}
	return nil
}

// Draw ships a full frame to the panel.
func (s *Screen) Draw(fb *Framebuffer) error {
	if s == nil {
		return fmt.Errorf("ssd1306: screen is nil")
	}
	b := fb.Bounds()
	if b.Dx() != s.w || b.Dy() != s.h {
		return fmt.Errorf("ssd1306: frame is %dx%d, panel is %dx%d", b.Dx(), b.Dy(), s.w, s.h)
	}
	err := s.command(
		cmdColumnAddr, 0, byte(s.w-1),
		cmdPageAddr, 0, byte(s.h/8-1),
	)
	if err != nil {
		return fmt.Errorf("ssd1306: address window: %w", err)
	}
	s.buf = append(s.buf[:0], ctrlData)
	s.buf = append(s.buf, fb.Buf()...)
	if err := s.dev.Write(s.buf); err != nil {
		return fmt.Errorf("ssd1306: frame write: %w", err)
	}
	return nil
}

// Invert flips the panel between normal and inverted video without
// touching the frame memory.
func (s *Screen) Invert(on bool) error {
	cmd := byte(cmdNormal)
	if on {
		cmd = cmdInvert
	}
	if err := s.command(cmd); err != nil {
		return fmt.Errorf("ssd1306: invert: %w", err)
	}
	return nil
}

// Contrast sets the panel contrast, 0 dimmest to 255 brightest.
func (s *Screen) Contrast(level byte) error {
	if err := s.command(cmdContrast, level); err != nil {
		return fmt.Errorf("ssd1306: contrast: %w", err)
	}
	return nil
}

// Close blanks and switches the panel off.
func (s *Screen) Close() error {
	if s == nil {
		return nil
	}
	if err := s.Draw(NewFramebuffer(s.w, s.h)); err != nil {
		return err
	}
	if err := s.command(cmdDisplayOff); err != nil {
		return fmt.Errorf("ssd1306: off: %w", err)
	}
	return nil
}

func (s *Screen) command(cmds ...byte) error {
	s.buf = append(s.buf[:0], ctrlCommand)
	s.buf = append(s.buf, cmds...)
	return s.dev.Write(s.buf)
}
