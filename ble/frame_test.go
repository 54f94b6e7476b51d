package ble

import (
	"encoding/binary"
	"testing"
)

func TestDecodeFrameRejectsBadLength(t *testing.T) {
	_, err := DecodeFrame(make([]byte, FrameSize-1))
	if err == nil {
		t.Fatalf("expected error for short frame")
	}
}

func buildFrame(t *testing.T) []byte {
	t.Helper()
	data := make([]byte, FrameSize)
	binary.LittleEndian.PutUint16(data[0:2], 1234)

	// IMU sub-sample 0: accel (2048,0,0) -> 1g X; gyro all zero.
	binary.LittleEndian.PutUint16(data[4:6], uint16(int16(2048)))

	// Mag at offset 40: (100, 200, 300) raw.
	binary.LittleEndian.PutUint16(data[40:42], 100)
	binary.LittleEndian.PutUint16(data[42:44], 200)
	binary.LittleEndian.PutUint16(data[44:46], 300)

	data[offTemp] = byte(int8(-5))

	// Touchpad X=160, Y=160 (raw); both differ from the sentinel, so the
	// touchpad reads as touched.
	binary.LittleEndian.PutUint16(data[54:56], 160)
	binary.LittleEndian.PutUint16(data[56:58], 160)

	data[offButtons] = ButtonTrigger | ButtonTouch

	return data
}

func TestDecodeFrameFields(t *testing.T) {
	data := buildFrame(t)
	f, err := DecodeFrame(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if f.Counter != 1234 {
		t.Errorf("counter = %d, want 1234", f.Counter)
	}

	ax, ay, az := f.IMU[0].AccelG()
	if ax < 0.999 || ax > 1.001 || ay != 0 || az != 0 {
		t.Errorf("accel g = (%v,%v,%v), want ~(1,0,0)", ax, ay, az)
	}

	mx, my, mz := f.MagUT()
	// raw (100,200,300) * 0.06 = (6,12,18); remap (x,z,-y) = (6,18,-12).
	if mx != 6 || my != 18 || mz != -12 {
		t.Errorf("mag uT = (%v,%v,%v), want (6,18,-12)", mx, my, mz)
	}

	if f.TempC != -5 {
		t.Errorf("temp = %d, want -5", f.TempC)
	}

	bx, by, touched := f.TouchpadNormalized()
	if !touched {
		t.Fatalf("expected touched=true")
	}
	wantX := (160.0 - 1) / 314.0
	if bx != wantX || by != wantX {
		t.Errorf("touchpad = (%v,%v), want (%v,%v)", bx, by, wantX, wantX)
	}

	btn := f.ButtonsDecoded()
	if !btn.Trigger || !btn.TouchpadClick || btn.Home || btn.Back {
		t.Errorf("buttons decoded incorrectly: %+v", btn)
	}
}

func TestTouchpadUntouchedIsZero(t *testing.T) {
	data := make([]byte, FrameSize)
	f, err := DecodeFrame(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	x, y, touched := f.TouchpadNormalized()
	if touched || x != 0 || y != 0 {
		t.Fatalf("untouched touchpad should report (0,0,false), got (%v,%v,%v)", x, y, touched)
	}
}
