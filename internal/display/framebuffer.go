// Package display renders readout snapshots to an SSD1306 OLED over I2C.
//
// The framebuffer keeps pixels in the controller's native page layout so a
// frame can be shipped to the panel without conversion: each byte holds a
// vertical run of 8 pixels (LSB on top), pages stacked top to bottom.
package display

import (
	"image"
	"image/color"
	"image/draw"
)

// Bit is a 1-bit pixel value.
type Bit bool

const (
	On  Bit = true
	Off Bit = false
)

// RGBA implements color.Color.
func (b Bit) RGBA() (r, g, bl, a uint32) {
	if b {
		return 0xFFFF, 0xFFFF, 0xFFFF, 0xFFFF
	}
	return 0, 0, 0, 0xFFFF
}

// bitModel maps arbitrary colors to Bit by luminance so the stdlib draw
// machinery and x/image font drawer can target a Framebuffer directly.
var bitModel = color.ModelFunc(func(c color.Color) color.Color {
	if b, ok := c.(Bit); ok {
		return b
	}
	return Bit(color.GrayModel.Convert(c).(color.Gray).Y >= 0x80)
})

// Framebuffer is a 1-bit image in SSD1306 page order.
type Framebuffer struct {
	w, h int
	pix  []byte
}

var _ draw.Image = (*Framebuffer)(nil)

// NewFramebuffer allocates a w by h framebuffer. Heights that are not a
// multiple of 8 are rounded up to the next page boundary in the backing
// store; Bounds still reports the requested height.
func NewFramebuffer(w, h int) *Framebuffer {
	pages := (h + 7) / 8
	return &Framebuffer{w: w, h: h, pix: make([]byte, w*pages)}
}

func (f *Framebuffer) ColorModel() color.Model { return bitModel }

func (f *Framebuffer) Bounds() image.Rectangle { return image.Rect(0, 0, f.w, f.h) }

func (f *Framebuffer) At(x, y int) color.Color { return f.BitAt(x, y) }

// BitAt reports the pixel at (x, y). Out-of-bounds reads return Off.
func (f *Framebuffer) BitAt(x, y int) Bit {
	if x < 0 || x >= f.w || y < 0 || y >= f.h {
		return Off
	}
	return f.pix[x+(y/8)*f.w]&(1<<uint(y%8)) != 0
}

func (f *Framebuffer) Set(x, y int, c color.Color) {
	f.SetBit(x, y, bitModel.Convert(c).(Bit))
}

// SetBit writes the pixel at (x, y). Out-of-bounds writes are dropped.
func (f *Framebuffer) SetBit(x, y int, b Bit) {
	if x < 0 || x >= f.w || y < 0 || y >= f.h {
		return
	}
	mask := byte(1 << uint(y%8))
	if b {
		f.pix[x+(y/8)*f.w] |= mask
	} else {
		f.pix[x+(y/8)*f.w] &^= mask
	}
}

// Clear switches every pixel off.
func (f *Framebuffer) Clear() {
	for i := range f.pix {
		f.pix[i] = 0
	}
}

// Buf exposes the raw page-ordered pixel memory for the controller write.
func (f *Framebuffer) Buf() []byte { return f.pix }

// Line draws a 1px line from (x0, y0) to (x1, y1) inclusive.
func (f *Framebuffer) Line(x0, y0, x1, y1 int, b Bit) {
	dx := x1 - x0
	if dx < 0 {
		dx = -dx
	}
	dy := y1 - y0
	if dy < 0 {
		dy = -dy
	}
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	err := dx - dy
	for {
		f.SetBit(x0, y0, b)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * err
		if e2 > -dy {
			err -= dy
			x0 += sx
		}
		if e2 < dx {
			err += dx
			y0 += sy
		}
	}
}

// Circle draws a 1px circle outline centered on (cx, cy).
func (f *Framebuffer) Circle(cx, cy, r int, b Bit) {
	if r < 0 {
		return
	}
	x, y := r, 0
	err := 1 - r
	for x >= y {
		f.SetBit(cx+x, cy+y, b)
		f.SetBit(cx+y, cy+x, b)
		f.SetBit(cx-y, cy+x, b)
		f.SetBit(cx-x, cy+y, b)
		f.SetBit(cx-x, cy-y, b)
		f.SetBit(cx-y, cy-x, b)
		f.SetBit(cx+y, cy-x, b)
		f.SetBit(cx+x, cy-y, b)
		y++
		if err < 0 {
			err += 2*y + 1
		} else {
			x--
			err += 2*(y-x) + 1
		}
	}
}

// Disc draws a filled circle centered on (cx, cy).
func (f *Framebuffer) Disc(cx, cy, r int, b Bit) {
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			if dx*dx+dy*dy <= r*r {
				f.SetBit(cx+dx, cy+dy, b)
			}
		}
	}
}
