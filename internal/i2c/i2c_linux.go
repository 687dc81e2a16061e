//go:build linux

// Package i2c talks to devices on a Linux /dev/i2c-* adapter through
// the I2C_RDWR ioctl. That ioctl issues combined write+read transfers
// (repeated start), which register-addressed sensors require: a plain
// write-then-read pair would release the bus between the register
// select and the data phase.
package i2c

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	msgFlagRead = 0x0001
	ioctlRdwr   = 0x0707
)

// Kernel struct i2c_msg and i2c_rdwr_ioctl_data layouts.
type busMsg struct {
	addr  uint16
	flags uint16
	len   uint16
	buf   uintptr
}

type rdwrRequest struct {
	msgs  uintptr
	nmsgs uint32
}

// Bus is an opened I2C adapter. Multiple Dev handles may share one Bus.
// Transfers are not serialized here; callers driving one bus from
// several goroutines coordinate above this layer.
type Bus struct {
	f    *os.File
	path string
}

// Open opens adapter number n, i.e. /dev/i2c-<n>.
func Open(n int) (*Bus, error) {
	return OpenPath(fmt.Sprintf("/dev/i2c-%d", n))
}

// OpenPath opens an adapter by device path.
func OpenPath(path string) (*Bus, error) {
	path = filepath.Clean(path)
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("i2c: open %s: %w", path, err)
	}
	return &Bus{f: f, path: path}, nil
}

func (b *Bus) Close() error {
	if b == nil || b.f == nil {
		return nil
	}
	err := b.f.Close()
	b.f = nil
	return err
}

// Dev returns a handle for the device at a 7-bit address on this bus.
func (b *Bus) Dev(addr uint16) *Dev {
	if b == nil {
		return nil
	}
	return &Dev{bus: b, addr: addr}
}

// Dev addresses one device on an open bus.
type Dev struct {
	bus  *Bus
	addr uint16
}

func (d *Dev) Write(p []byte) error {
	_, err := d.tx(p, nil)
	return err
}

func (d *Dev) Read(p []byte) error {
	_, err := d.tx(nil, p)
	return err
}

// WriteRead performs a combined write+read transfer with a repeated
// start between the two phases.
func (d *Dev) WriteRead(w, r []byte) error {
	_, err := d.tx(w, r)
	return err
}

// ReadReg reads len(dst) bytes starting at register reg.
func (d *Dev) ReadReg(reg byte, dst []byte) error {
	return d.WriteRead([]byte{reg}, dst)
}

func (d *Dev) ReadRegU8(reg byte) (byte, error) {
	var b [1]byte
	if err := d.ReadReg(reg, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *Dev) WriteReg(reg, value byte) error {
	return d.Write([]byte{reg, value})
}

func (d *Dev) tx(w, r []byte) (int, error) {
	if d == nil || d.bus == nil || d.bus.f == nil {
		return 0, fmt.Errorf("i2c: nil device")
	}
	if d.addr == 0 || d.addr > 0x7F {
		return 0, fmt.Errorf("i2c: invalid addr 0x%X (want 7-bit)", d.addr)
	}
	if len(w) > 0xFFFF || len(r) > 0xFFFF {
		return 0, fmt.Errorf("i2c: transfer too large (w=%d r=%d)", len(w), len(r))
	}

	msgs := make([]busMsg, 0, 2)
	if len(w) > 0 {
		msgs = append(msgs, busMsg{addr: d.addr, flags: 0, len: uint16(len(w)), buf: uintptr(unsafe.Pointer(&w[0]))})
	}
	if len(r) > 0 {
		msgs = append(msgs, busMsg{addr: d.addr, flags: msgFlagRead, len: uint16(len(r)), buf: uintptr(unsafe.Pointer(&r[0]))})
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	req := rdwrRequest{msgs: uintptr(unsafe.Pointer(&msgs[0])), nmsgs: uint32(len(msgs))}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, d.bus.f.Fd(), uintptr(ioctlRdwr), uintptr(unsafe.Pointer(&req)))
	// The kernel dereferences the buffers through the uintptrs above.
	runtime.KeepAlive(w)
	runtime.KeepAlive(r)
	runtime.KeepAlive(msgs)
	if errno != 0 {
		return 0, fmt.Errorf("i2c: rdwr %s addr 0x%X: %w", d.bus.path, d.addr, errno)
	}
	if len(r) > 0 {
		return len(r), nil
	}
	return len(w), nil
}
