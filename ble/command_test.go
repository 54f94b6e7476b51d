package ble

import "testing"

func TestOpcodeRoundTrip(t *testing.T) {
	ops := []Opcode{OpSensorsOn, OpSensorsOff, OpLPMEnable, OpLPMDisable, OpVRMode, OpKeepAlive}
	for _, op := range ops {
		encoded := op.Encode()
		if len(encoded) != 2 {
			t.Fatalf("encode(%v) length = %d, want 2", op, len(encoded))
		}
		decoded, err := DecodeOpcode(encoded)
		if err != nil {
			t.Fatalf("decode error: %v", err)
		}
		if decoded != op {
			t.Errorf("round-trip %v -> %v, want %v", op, decoded, op)
		}
	}
}

func TestDecodeOpcodeRejectsBadLength(t *testing.T) {
	if _, err := DecodeOpcode([]byte{1}); err == nil {
		t.Fatalf("expected error for short opcode")
	}
}
