// Package icm20948 drives the ICM-20948 9-axis IMU.
//
// Accel and gyro live in the die's primary register banks. The AK09916
// magnetometer is a separate device behind the chip's auxiliary I2C
// port; instead of programming the internal I2C master, EnableMag opens
// the bypass mux so the host bus sees the AK09916 directly at its own
// address.
package icm20948

import (
	"fmt"
	"time"

	"compass-level/internal/i2c"
)

var sleep = time.Sleep

const (
	addrDefault    = 0x68
	magAddrDefault = 0x0C

	regWhoAmI  = 0x00
	whoAmIVal  = 0xEA
	regBankSel = 0x7F

	// Bank 0.
	regPwrMgmt1   = 0x06
	bitReset      = 0x80
	regIntPinCfg  = 0x0F
	bitBypassEn   = 0x02
	regIntEnable  = 0x38
	regAccelXoutH = 0x2D // contiguous accel+gyro block

	// Bank 2.
	bank2           = 2
	regGyroSmplrt   = 0x00
	regGyroConfig   = 0x01
	regAccelSmplrt2 = 0x11
	regAccelConfig  = 0x14

	fsGyro250dps = 0x00
	fsAccel4g    = 0x02

	// AK09916 registers (bypass bus, address 0x0C).
	magRegWia2  = 0x01
	magWia2Val  = 0x09
	magRegSt1   = 0x10
	magRegHxl   = 0x11
	magRegCntl2 = 0x31
	magRegCntl3 = 0x32

	magBitDrdy = 0x01
	magBitHofl = 0x08
	magBitSrst = 0x01

	magModeCont100Hz = 0x08

	// 0.15 µT per LSB, fixed 16-bit scale.
	magScaleUT = 0.15
)

// Sample is one accel+gyro reading. Accel is in G, gyro in deg/s, both
// in the chip's accel/gyro frame.
type Sample struct {
	Time       time.Time
	Ax, Ay, Az float64
	Gx, Gy, Gz float64
}

// MagSample is one magnetometer reading in µT, remapped into the
// accel/gyro frame.
type MagSample struct {
	Time       time.Time
	Mx, My, Mz float64
}

type Device struct {
	dev regIO
	mag regIO

	curBank byte
	// Scales derived from the configured full-scale ranges.
	scaleAccel float64
	scaleGyro  float64
}

type regIO interface {
	ReadRegU8(reg byte) (byte, error)
	ReadReg(reg byte, dst []byte) error
	WriteReg(reg, value byte) error
}

func DefaultAddress() uint16 { return addrDefault }

// DefaultMagAddress returns the AK09916 bus address visible once the
// bypass mux is open.
func DefaultMagAddress() uint16 { return magAddrDefault }

func New(dev *i2c.Dev) (*Device, error) {
	if dev == nil {
		return nil, fmt.Errorf("icm20948: dev is nil")
	}
	return newWithIO(dev)
}

func newWithIO(dev regIO) (*Device, error) {
	if dev == nil {
		return nil, fmt.Errorf("icm20948: dev is nil")
	}
	d := &Device{dev: dev, curBank: 0xFF}

	who, err := d.dev.ReadRegU8(regWhoAmI)
	if err != nil {
		return nil, fmt.Errorf("icm20948: whoami read failed: %w", err)
	}
	if who != whoAmIVal {
		return nil, fmt.Errorf("icm20948: whoami=0x%02X want 0x%02X", who, whoAmIVal)
	}

	if err := d.init(); err != nil {
		return nil, err
	}

	return d, nil
}

func (d *Device) init() error {
	if err := d.setBank(0); err != nil {
		return err
	}

	// Interrupts stay off; samples are polled.
	_ = d.dev.WriteReg(regIntEnable, 0x00)

	if err := d.dev.WriteReg(regPwrMgmt1, bitReset); err != nil {
		return fmt.Errorf("icm20948: reset failed: %w", err)
	}
	sleep(100 * time.Millisecond)

	// Wake with PLL clock. CLKSEL must be 1..5 for full gyro
	// performance per the register map.
	if err := d.dev.WriteReg(regPwrMgmt1, 0x01); err != nil {
		return fmt.Errorf("icm20948: wake failed: %w", err)
	}
	sleep(10 * time.Millisecond)

	if err := d.setBank(bank2); err != nil {
		return err
	}

	// Sample rate divider off the 1125 Hz base: 1125/(div+1) = 50 Hz.
	div := byte(1125/50 - 1)
	_ = d.dev.WriteReg(regGyroSmplrt, div)
	_ = d.dev.WriteReg(regAccelSmplrt2, div)

	if err := d.dev.WriteReg(regGyroConfig, fsGyro250dps); err != nil {
		return fmt.Errorf("icm20948: gyro config failed: %w", err)
	}
	if err := d.dev.WriteReg(regAccelConfig, fsAccel4g); err != nil {
		return fmt.Errorf("icm20948: accel config failed: %w", err)
	}

	if err := d.setBank(0); err != nil {
		return err
	}

	d.scaleAccel = 4.0 / 32768.0
	d.scaleGyro = 250.0 / 32768.0
	return nil
}

func (d *Device) setBank(bank byte) error {
	if d.curBank == bank {
		return nil
	}
	if err := d.dev.WriteReg(regBankSel, bank<<4); err != nil {
		return fmt.Errorf("icm20948: set bank %d failed: %w", bank, err)
	}
	d.curBank = bank
	return nil
}

// EnableMag opens the bypass mux and brings up the AK09916 behind it in
// 100 Hz continuous mode. mag addresses the AK09916 on the same bus,
// normally at DefaultMagAddress. Accel and gyro work without this; call
// it only when a compass is wanted.
func (d *Device) EnableMag(mag *i2c.Dev) error {
	if mag == nil {
		return fmt.Errorf("icm20948: mag dev is nil")
	}
	return d.enableMagIO(mag)
}

func (d *Device) enableMagIO(mag regIO) error {
	if d == nil {
		return fmt.Errorf("icm20948: device is nil")
	}
	if err := d.setBank(0); err != nil {
		return err
	}
	if err := d.dev.WriteReg(regIntPinCfg, bitBypassEn); err != nil {
		return fmt.Errorf("icm20948: bypass enable failed: %w", err)
	}
	sleep(10 * time.Millisecond)

	who, err := mag.ReadRegU8(magRegWia2)
	if err != nil {
		return fmt.Errorf("icm20948: mag whoami read failed: %w", err)
	}
	if who != magWia2Val {
		return fmt.Errorf("icm20948: mag whoami=0x%02X want 0x%02X", who, magWia2Val)
	}

	if err := mag.WriteReg(magRegCntl3, magBitSrst); err != nil {
		return fmt.Errorf("icm20948: mag reset failed: %w", err)
	}
	sleep(10 * time.Millisecond)

	if err := mag.WriteReg(magRegCntl2, magModeCont100Hz); err != nil {
		return fmt.Errorf("icm20948: mag mode set failed: %w", err)
	}

	d.mag = mag
	return nil
}

// Read returns the current accel+gyro sample.
func (d *Device) Read() (Sample, error) {
	if d == nil {
		return Sample{}, fmt.Errorf("icm20948: device is nil")
	}
	if err := d.setBank(0); err != nil {
		return Sample{}, err
	}

	buf := make([]byte, 12)
	if err := d.dev.ReadReg(regAccelXoutH, buf); err != nil {
		return Sample{}, fmt.Errorf("icm20948: read sensors failed: %w", err)
	}

	ax := int16(buf[0])<<8 | int16(buf[1])
	ay := int16(buf[2])<<8 | int16(buf[3])
	az := int16(buf[4])<<8 | int16(buf[5])
	gx := int16(buf[6])<<8 | int16(buf[7])
	gy := int16(buf[8])<<8 | int16(buf[9])
	gz := int16(buf[10])<<8 | int16(buf[11])

	return Sample{
		Time: time.Now(),
		Ax:   float64(ax) * d.scaleAccel,
		Ay:   float64(ay) * d.scaleAccel,
		Az:   float64(az) * d.scaleAccel,
		Gx:   float64(gx) * d.scaleGyro,
		Gy:   float64(gy) * d.scaleGyro,
		Gz:   float64(gz) * d.scaleGyro,
	}, nil
}

// ReadMag returns the current magnetometer sample. ok is false when no
// new reading is ready or the sensor saturated; both clear on their own
// at the next conversion, so neither is an error.
func (d *Device) ReadMag() (MagSample, bool, error) {
	if d == nil || d.mag == nil {
		return MagSample{}, false, fmt.Errorf("icm20948: mag not enabled")
	}

	st1, err := d.mag.ReadRegU8(magRegSt1)
	if err != nil {
		return MagSample{}, false, fmt.Errorf("icm20948: mag status read failed: %w", err)
	}
	if st1&magBitDrdy == 0 {
		return MagSample{}, false, nil
	}

	// Burst through ST2: the read latch is only released once ST2 is
	// read, and HOFL in ST2 flags a saturated measurement.
	buf := make([]byte, 8)
	if err := d.mag.ReadReg(magRegHxl, buf); err != nil {
		return MagSample{}, false, fmt.Errorf("icm20948: mag read failed: %w", err)
	}
	if buf[7]&magBitHofl != 0 {
		return MagSample{}, false, nil
	}

	// Little-endian, unlike the accel/gyro block.
	mx := int16(buf[1])<<8 | int16(buf[0])
	my := int16(buf[3])<<8 | int16(buf[2])
	mz := int16(buf[5])<<8 | int16(buf[4])

	// The compass die is mounted rotated relative to the accel/gyro
	// frame: x and y swap, z flips.
	return MagSample{
		Time: time.Now(),
		Mx:   float64(my) * magScaleUT,
		My:   float64(mx) * magScaleUT,
		Mz:   -float64(mz) * magScaleUT,
	}, true, nil
}
