// Package controller holds the value types that flow from the BLE frame
// decoder and fusion engine to the mode arbiter, input mapper, and the
// event bus published to the GUI.
package controller

import (
	"time"

	"gearbridge/ble"
	"gearbridge/fusion"
)

// Buttons mirrors ble.ButtonStates by name, kept separate so callers outside
// the ble package don't need to import its bit-layout details.
type Buttons struct {
	Trigger, Home, Back, TouchpadClick, VolumeUp, VolumeDown bool
}

func fromRawButtons(b ble.ButtonStates) Buttons {
	return Buttons{
		Trigger:       b.Trigger,
		Home:          b.Home,
		Back:          b.Back,
		TouchpadClick: b.TouchpadClick,
		VolumeUp:      b.VolumeUp,
		VolumeDown:    b.VolumeDown,
	}
}

// Touchpad is the normalized touchpad reading.
type Touchpad struct {
	Touched bool
	X, Y    float64
}

// CalibratedSample is a RawFrame's IMU sub-sample converted to physical
// units and with calibration applied — what the fusion engine consumes.
type CalibratedSample struct {
	Accel fusion.Vec3 // g
	Gyro  fusion.Vec3 // rad/s, bias-subtracted
	Mag   fusion.Vec3 // µT, hard/soft-iron corrected
}

// State is the value published to the GUI and consumed by the mapper: one
// packet's worth of buttons/touchpad plus the latest fused orientation.
type State struct {
	Timestamp time.Time
	Buttons   Buttons
	Touchpad  Touchpad
	Filtered  fusion.Quat
	Q         fusion.Quat
	Accel     fusion.Vec3
	Gyro      fusion.Vec3
	Mag       fusion.Vec3
	TempC     int8
}

// FromFrame builds the non-orientation half of a State from one decoded
// RawFrame; the caller fills in Filtered/Q from the fusion engine's output
// for the frame's last sub-sample, and Accel/Gyro/Mag from the frame's
// unit-converted readings.
func FromFrame(f ble.RawFrame, at time.Time) State {
	x, y, touched := f.TouchpadNormalized()
	return State{
		Timestamp: at,
		Buttons:   fromRawButtons(f.ButtonsDecoded()),
		Touchpad:  Touchpad{Touched: touched, X: x, Y: y},
		TempC:     f.TempC,
	}
}
