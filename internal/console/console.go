// Package console renders readout snapshots to a terminal.
//
// Two styles: "screen" repaints a fixed frame in place with ANSI escapes
// and a heading-tinted readout, "lines" emits one plain line per frame for
// piped output. "auto" picks screen on a character device, lines otherwise.
package console

import (
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"compass-level/internal/readout"
)

type Style string

const (
	StyleAuto   Style = "auto"
	StyleScreen Style = "screen"
	StyleLines  Style = "lines"
)

const (
	escClear      = "\x1b[2J"
	escHome       = "\x1b[H"
	escEraseLine  = "\x1b[K"
	escHideCursor = "\x1b[?25l"
	escShowCursor = "\x1b[?25h"
	escReset      = "\x1b[0m"
)

// hueRing is a 256-color ramp around the hue circle, indexed by
// heading/30. North is red, east greenish, south cyan, west violet.
var hueRing = [12]uint8{196, 202, 208, 190, 46, 49, 51, 45, 33, 21, 93, 201}

var needleArrows = [8]string{"↑", "↗", "→", "↘", "↓", "↙", "←", "↖"}

type Config struct {
	Style Style     // default auto
	Out   io.Writer // default os.Stdout
	Color bool      // tint the heading field in screen style
}

type Renderer struct {
	style  Style
	out    io.Writer
	color  bool
	frames int
}

func New(cfg Config) *Renderer {
	out := cfg.Out
	if out == nil {
		out = os.Stdout
	}
	style := cfg.Style
	if style == "" || style == StyleAuto {
		style = autoStyle(out)
	}
	return &Renderer{style: style, out: out, color: cfg.Color}
}

// autoStyle picks screen only when the writer is a character device, so
// redirected output never fills a file with escape sequences.
func autoStyle(w io.Writer) Style {
	f, ok := w.(*os.File)
	if !ok {
		return StyleLines
	}
	st, err := f.Stat()
	if err != nil {
		return StyleLines
	}
	if st.Mode()&os.ModeCharDevice != 0 {
		return StyleScreen
	}
	return StyleLines
}

func (r *Renderer) Style() Style {
	if r == nil {
		return StyleLines
	}
	return r.style
}

// Render draws one frame.
func (r *Renderer) Render(f readout.Snapshot) error {
	if r == nil {
		return fmt.Errorf("console: renderer is nil")
	}
	r.frames++
	if r.style == StyleLines {
		_, err := fmt.Fprintf(r.out, "[READOUT]  HDG=%s  ROLL=%+7.2f  PITCH=%+7.2f%s\n",
			headingField(f), f.RollDeg, f.PitchDeg, lineSuffix(f))
		return err
	}

	var b strings.Builder
	if r.frames == 1 {
		b.WriteString(escClear)
		b.WriteString(escHideCursor)
	}
	b.WriteString(escHome)
	for _, line := range r.screenLines(f) {
		b.WriteString(line)
		b.WriteString(escEraseLine)
		b.WriteString("\n")
	}
	_, err := io.WriteString(r.out, b.String())
	return err
}

// Close restores the cursor after screen-style rendering.
func (r *Renderer) Close() error {
	if r == nil || r.style != StyleScreen || r.frames == 0 {
		return nil
	}
	_, err := io.WriteString(r.out, escShowCursor+escReset+"\n")
	return err
}

func (r *Renderer) screenLines(f readout.Snapshot) []string {
	hdg := fmt.Sprintf("HDG %-7s", headingField(f))
	if r.color && f.HeadingSeen {
		hdg = fmt.Sprintf("\x1b[48;5;%dm%s\x1b[0m", hueRing[hueIndex(f.HeadingDeg)], hdg)
	}

	status := ""
	switch {
	case f.Paused:
		status = "PAUSED"
	case f.Manual:
		status = "MANUAL"
	}

	rose := roseLines(f)
	bubble := bubbleLines(f.RollDeg, f.PitchDeg)

	lines := []string{
		fmt.Sprintf("%s  R %+7.2f  P %+7.2f   %s", hdg, f.RollDeg, f.PitchDeg, status),
		"",
		rose[0] + "   " + bubble[0],
		rose[1] + "   " + bubble[1],
		rose[2] + "   " + bubble[2],
		"          " + bubble[3],
		"          " + bubble[4],
		"          " + bubble[5],
		"          " + bubble[6],
		markerLine(f),
	}
	return lines
}

// roseLines draws a fixed three line rose with an arrow pointing at
// magnetic north, one of eight octants.
func roseLines(f readout.Snapshot) [3]string {
	needle := "o"
	if f.HeadingSeen {
		dir := math.Mod(-f.HeadingDeg, 360)
		if dir < 0 {
			dir += 360
		}
		needle = needleArrows[int(dir+22.5)/45%8]
	}
	return [3]string{
		"   N      ",
		fmt.Sprintf("W  %s  E   ", needle),
		"   S      ",
	}
}

// bubbleLines draws a 7x5 cell gauge, bubble clamped to the frame.
// Positive roll moves the bubble right, positive pitch moves it up.
func bubbleLines(rollDeg, pitchDeg float64) [7]string {
	col := 3 + int(math.Round(clampTilt(rollDeg)*3/20))
	row := 2 - int(math.Round(clampTilt(pitchDeg)*2/20))

	var out [7]string
	out[0] = "+-------+"
	for r := 0; r < 5; r++ {
		cells := []byte("       ")
		if r == 2 {
			cells[3] = '+'
		}
		if r == row {
			cells[col] = 'O'
		}
		out[r+1] = "|" + string(cells) + "|"
	}
	out[6] = "+-------+"
	return out
}

func clampTilt(v float64) float64 {
	if v > 20 {
		return 20
	}
	if v < -20 {
		return -20
	}
	return v
}

func headingField(f readout.Snapshot) string {
	if !f.HeadingSeen {
		return "---"
	}
	s := fmt.Sprintf("%05.1f", normDeg(f.HeadingDeg))
	if !f.HeadingValid {
		s += "?"
	}
	return s
}

func markerLine(f readout.Snapshot) string {
	parts := []string{}
	if !f.MagOK {
		parts = append(parts, "MAG?")
	}
	if !f.GyroOK {
		parts = append(parts, "GYRO?")
	}
	if f.SourceErr != "" {
		parts = append(parts, "SRC! "+f.SourceErr)
	}
	return strings.Join(parts, "  ")
}

func lineSuffix(f readout.Snapshot) string {
	s := ""
	if f.Paused {
		s += "  PAUSED"
	}
	if f.Manual {
		s += "  MANUAL"
	}
	if !f.MagOK {
		s += "  MAG?"
	}
	if !f.GyroOK {
		s += "  GYRO?"
	}
	if f.SourceErr != "" {
		s += "  SRC!"
	}
	return s
}

func hueIndex(headingDeg float64) int {
	i := int(normDeg(headingDeg) / 30)
	if i < 0 || i > 11 {
		return 0
	}
	return i
}

func normDeg(v float64) float64 {
	v = math.Mod(v, 360)
	if v < 0 {
		v += 360
	}
	if v >= 360 {
		v = 0
	}
	return v
}
