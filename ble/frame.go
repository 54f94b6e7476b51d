// Package ble implements the Gear VR BLE transport port: GATT discovery and
// connection management, the 60-byte sensor frame decoder, and the 2-byte
// command opcode codec.
package ble

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// FrameSize is the fixed length of a Gear VR sensor notify packet.
const FrameSize = 60

// ErrBadFrame is ProtocolError::BadFrame — any notify payload whose length
// isn't exactly FrameSize.
var ErrBadFrame = errors.New("ble: bad frame length")

// Byte layout (0-based, little-endian). The controller's wire format is
// vendor-undocumented and carries two genuine ambiguities this decoder
// resolves explicitly rather than leaving implicit — see DESIGN.md for the
// reasoning:
//
//  1. temperature and the touchpad axes cannot both occupy byte 54, so
//     temperature is placed one byte earlier (offset 53) and the touchpad's
//     4-byte, two 10-bit-field block keeps offsets 54..58.
//  2. the third IMU sub-sample and the magnetometer sample cannot both
//     start at offset 32, so the three IMU sub-samples are packed
//     contiguously at 4..40 (12 bytes each) and the magnetometer sample
//     follows immediately at 40..46.
const (
	offCounter  = 0
	offIMUStart = 4
	imuStride   = 12 // 3x accel i16 + 3x gyro i16 per sub-sample
	offMag      = 4 + 3*imuStride
	offTemp     = 53
	offTouchpad = 54
	offButtons  = 58
)

const numIMUSubSamples = 3

// Button bit positions.
const (
	ButtonTrigger = 1 << 0
	ButtonHome    = 1 << 1
	ButtonBack    = 1 << 2
	ButtonTouch   = 1 << 3
	ButtonVolUp   = 1 << 4
	ButtonVolDown = 1 << 5
)

// touchpadSentinel marks "not touched" on either axis.
const touchpadSentinel = 0

// RawIMUSample is one of the three 180Hz accel+gyro sub-samples packed into
// a single 60Hz notify.
type RawIMUSample struct {
	Accel [3]int16
	Gyro  [3]int16
}

// RawFrame is one decoded 60-byte sensor packet.
type RawFrame struct {
	Counter   uint16
	IMU       [numIMUSubSamples]RawIMUSample
	Mag       [3]int16
	Touch     RawTouch
	Buttons   uint8
	TempC     int8
}

// RawTouch holds the raw (pre-normalization) touchpad axes.
type RawTouch struct {
	X, Y uint16 // 0 = not touched; otherwise 1..315
}

// Touched reports whether the touchpad sentinel indicates contact.
func (t RawTouch) Touched() bool {
	return t.X != touchpadSentinel || t.Y != touchpadSentinel
}

// DecodeFrame parses a 60-byte notify payload. Any other length is
// ErrBadFrame.
func DecodeFrame(data []byte) (RawFrame, error) {
	if len(data) != FrameSize {
		return RawFrame{}, fmt.Errorf("%w: got %d bytes, want %d", ErrBadFrame, len(data), FrameSize)
	}

	var f RawFrame
	f.Counter = binary.LittleEndian.Uint16(data[offCounter : offCounter+2])

	for i := 0; i < numIMUSubSamples; i++ {
		base := offIMUStart + i*imuStride
		var s RawIMUSample
		for axis := 0; axis < 3; axis++ {
			o := base + axis*2
			s.Accel[axis] = int16(binary.LittleEndian.Uint16(data[o : o+2]))
		}
		for axis := 0; axis < 3; axis++ {
			o := base + 6 + axis*2
			s.Gyro[axis] = int16(binary.LittleEndian.Uint16(data[o : o+2]))
		}
		f.IMU[i] = s
	}

	for axis := 0; axis < 3; axis++ {
		o := offMag + axis*2
		f.Mag[axis] = int16(binary.LittleEndian.Uint16(data[o : o+2]))
	}

	f.TempC = int8(data[offTemp])

	rawX := binary.LittleEndian.Uint16(data[offTouchpad:offTouchpad+2]) & 0x03FF
	rawY := binary.LittleEndian.Uint16(data[offTouchpad+2:offTouchpad+4]) & 0x03FF
	f.Touch = RawTouch{X: rawX, Y: rawY}

	f.Buttons = data[offButtons]

	return f, nil
}

// AccelG converts one IMU sub-sample's raw accelerometer reading to g.
// raw * (9.80665/2048.0) gives m/s²; dividing that by 9.80665 to reach g
// cancels back to raw/2048.0, which is what's computed directly here.
func (s RawIMUSample) AccelG() (x, y, z float64) {
	const scale = 1.0 / 2048.0
	return float64(s.Accel[0]) * scale, float64(s.Accel[1]) * scale, float64(s.Accel[2]) * scale
}

// GyroRadS converts one IMU sub-sample's raw gyroscope reading to rad/s.
func (s RawIMUSample) GyroRadS() (x, y, z float64) {
	const scale = 0.017453292 / 14.375
	return float64(s.Gyro[0]) * scale, float64(s.Gyro[1]) * scale, float64(s.Gyro[2]) * scale
}

// MagUT converts the raw magnetometer reading to µT, remapping device axes
// (x, y, z) = (raw_x, raw_z, -raw_y) to align with the accel/gyro
// right-handed frame.
func (f RawFrame) MagUT() (x, y, z float64) {
	const scale = 0.06
	rx, ry, rz := float64(f.Mag[0])*scale, float64(f.Mag[1])*scale, float64(f.Mag[2])*scale
	return rx, rz, -ry
}

// TouchpadNormalized returns the touchpad axes normalized to [0,1]²,
// clamped, and whether the touchpad is currently touched. Untouched samples
// report (0,0).
func (f RawFrame) TouchpadNormalized() (x, y float64, touched bool) {
	if !f.Touch.Touched() {
		return 0, 0, false
	}
	norm := func(raw uint16) float64 {
		v := (float64(raw) - 1) / 314.0
		return math.Max(0, math.Min(1, v))
	}
	return norm(f.Touch.X), norm(f.Touch.Y), true
}

// ButtonStates unpacks the six-bit button mask into named booleans.
type ButtonStates struct {
	Trigger, Home, Back, TouchpadClick, VolumeUp, VolumeDown bool
}

// ButtonsDecoded decodes the button bit-mask.
func (f RawFrame) ButtonsDecoded() ButtonStates {
	m := f.Buttons
	return ButtonStates{
		Trigger:       m&ButtonTrigger != 0,
		Home:          m&ButtonHome != 0,
		Back:          m&ButtonBack != 0,
		TouchpadClick: m&ButtonTouch != 0,
		VolumeUp:      m&ButtonVolUp != 0,
		VolumeDown:    m&ButtonVolDown != 0,
	}
}
