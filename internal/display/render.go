package display

import (
	"fmt"
	"image"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"compass-level/internal/readout"
)

// Panel layout, tuned for 128x64. Two text rows on top, compass rose on
// the lower left, bubble level on the lower right.
const (
	panelW = 128
	panelH = 64

	baselineTop = 12
	baselineMid = 25

	roseCX   = 30
	roseCY   = 45
	bubbleCX = 97
	bubbleCY = 45
	gaugeR   = 16

	needleLen = 13
	bubbleDot = 3

	// Bubble travel: +-20 degrees of tilt maps onto +-12px, then clamps.
	tiltFullScaleDeg = 20.0
	tiltFullScalePx  = 12.0
)

const glyphW = 7 // basicfont.Face7x13 advance

// Render draws a full frame for the snapshot. The caller owns the
// framebuffer and ships it to the panel afterwards.
func Render(fb *Framebuffer, snap readout.Snapshot) {
	fb.Clear()

	d := &font.Drawer{
		Dst:  fb,
		Src:  &image.Uniform{C: On},
		Face: basicfont.Face7x13,
	}

	d.Dot = fixed.P(0, baselineTop)
	d.DrawBytes([]byte(headingText(snap)))

	status := statusText(snap)
	if status != "" {
		d.Dot = fixed.P(panelW-glyphW*len(status), baselineTop)
		d.DrawBytes([]byte(status))
	}

	d.Dot = fixed.P(0, baselineMid)
	d.DrawBytes([]byte(fmt.Sprintf("R%+6.1f P%+6.1f", snap.RollDeg, snap.PitchDeg)))

	drawRose(fb, snap)
	drawBubble(fb, snap.RollDeg, snap.PitchDeg)
}

func headingText(snap readout.Snapshot) string {
	if !snap.HeadingSeen {
		return "HDG ---"
	}
	deg := int(math.Round(snap.HeadingDeg)) % 360
	if deg < 0 {
		deg += 360
	}
	s := fmt.Sprintf("HDG %03d", deg)
	if !snap.HeadingValid {
		s += "?"
	}
	return s
}

// statusText reports the most pressing condition. Paused wins over manual,
// both win over sensor dropout markers.
func statusText(snap readout.Snapshot) string {
	switch {
	case snap.Paused:
		return "PAUSED"
	case snap.Manual:
		return "MANUAL"
	}
	s := ""
	if !snap.MagOK {
		s = "MAG?"
	}
	if !snap.GyroOK {
		if s != "" {
			s += " "
		}
		s += "GYRO?"
	}
	return s
}

// drawRose draws the fixed rose and, once a heading has been seen, a
// needle rotated by minus heading so it keeps pointing at magnetic north.
func drawRose(fb *Framebuffer, snap readout.Snapshot) {
	fb.Circle(roseCX, roseCY, gaugeR, On)
	for i := 0; i < 4; i++ {
		sin, cos := cardinalSinCos(i)
		inner := gaugeR - 4
		if i == 0 {
			inner = gaugeR - 6 // longer tick marks north on the card
		}
		fb.Line(
			roseCX+round(float64(inner)*sin), roseCY-round(float64(inner)*cos),
			roseCX+round(float64(gaugeR)*sin), roseCY-round(float64(gaugeR)*cos),
			On,
		)
	}
	if !snap.HeadingSeen {
		return
	}
	theta := -snap.HeadingDeg * math.Pi / 180
	fb.Line(
		roseCX, roseCY,
		roseCX+round(needleLen*math.Sin(theta)), roseCY-round(needleLen*math.Cos(theta)),
		On,
	)
	fb.Disc(roseCX, roseCY, 2, On)
}

func cardinalSinCos(i int) (sin, cos float64) {
	switch i {
	case 0:
		return 0, 1
	case 1:
		return 1, 0
	case 2:
		return 0, -1
	default:
		return -1, 0
	}
}

// drawBubble draws the level gauge. Positive roll slides the bubble right,
// positive pitch slides it up.
func drawBubble(fb *Framebuffer, rollDeg, pitchDeg float64) {
	fb.Circle(bubbleCX, bubbleCY, gaugeR, On)
	fb.Line(bubbleCX-gaugeR, bubbleCY, bubbleCX+gaugeR, bubbleCY, On)
	fb.Line(bubbleCX, bubbleCY-gaugeR, bubbleCX, bubbleCY+gaugeR, On)

	scale := tiltFullScalePx / tiltFullScaleDeg
	dx := round(clampDeg(rollDeg) * scale)
	dy := -round(clampDeg(pitchDeg) * scale)
	fb.Disc(bubbleCX+dx, bubbleCY+dy, bubbleDot, On)
}

func clampDeg(v float64) float64 {
	if v > tiltFullScaleDeg {
		return tiltFullScaleDeg
	}
	if v < -tiltFullScaleDeg {
		return -tiltFullScaleDeg
	}
	return v
}

func round(v float64) int { return int(math.Round(v)) }
