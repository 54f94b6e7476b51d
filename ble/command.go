package ble

import (
	"encoding/binary"
	"fmt"
)

// Opcode is a 2-byte little-endian command written to the Gear VR's write
// characteristic. All writes are fire-and-forget — no expected reply.
type Opcode uint16

const (
	OpSensorsOn  Opcode = 0x0100
	OpSensorsOff Opcode = 0x0000
	OpLPMEnable  Opcode = 0x0500
	OpLPMDisable Opcode = 0x0600
	OpVRMode     Opcode = 0x0800
	OpKeepAlive  Opcode = 0x0400
)

// Encode serializes an opcode to its 2-byte little-endian wire form.
func (o Opcode) Encode() []byte {
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, uint16(o))
	return buf
}

// DecodeOpcode parses a 2-byte little-endian command frame.
func DecodeOpcode(b []byte) (Opcode, error) {
	if len(b) != 2 {
		return 0, errBadFrame("opcode", len(b), 2)
	}
	return Opcode(binary.LittleEndian.Uint16(b)), nil
}

func errBadFrame(what string, got, want int) error {
	return &frameSizeError{what: what, got: got, want: want}
}

type frameSizeError struct {
	what      string
	got, want int
}

func (e *frameSizeError) Error() string {
	return fmt.Sprintf("ble: %s: got %d bytes, want %d", e.what, e.got, e.want)
}
