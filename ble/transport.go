package ble

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Gear VR GATT surface (bit-exact).
const (
	ServiceUUIDStr     = "4f63756c-7573-2054-6872-65656d6f7465"
	NotifyCharUUIDStr  = "c8c51726-81bc-483b-a052-f7a14ea3d281"
	WriteCharUUIDStr   = "c8c51726-81bc-483b-a052-f7a14ea3d282"
	BatteryCharUUIDStr = "00002a19-0000-1000-8000-00805f9b34fb"
)

const (
	ConnectTimeout     = 10 * time.Second
	FirstPacketTimeout = 2 * time.Second
	WriteTimeout       = 1 * time.Second
	KeepAliveInterval  = 30 * time.Second
)

// DiscoveredDevice is one scan result.
type DiscoveredDevice struct {
	ID   string
	Name string
	RSSI int16
}

// Notification is one raw notify payload plus the time it was observed
// (from time.Now(), so it carries a monotonic reading: the fusion engine
// computes Δt from it and it also stamps the published controller state).
type Notification struct {
	Data []byte
	At   time.Time
}

// Session identifies a live GATT connection. RunID is freshly generated on
// every successful Connect, so log lines and published events from two
// separate reconnect attempts against the same DeviceID are still
// distinguishable from one another.
type Session struct {
	DeviceID string
	RunID    uuid.UUID
	handle   any // opaque transport-specific connection handle
}

// NewSession builds a Session for deviceID with a fresh RunID. Transport
// implementations call this from Connect.
func NewSession(deviceID string, handle any) *Session {
	return &Session{DeviceID: deviceID, RunID: uuid.New(), handle: handle}
}

// TransportErrorKind is the TransportError taxonomy.
type TransportErrorKind int

const (
	ErrNotFound TransportErrorKind = iota
	ErrUnreachable
	ErrPeerRemovedPairing
	ErrSetup
	ErrIO
)

// TransportError wraps a categorized transport failure.
type TransportError struct {
	Kind TransportErrorKind
	Op   string
	Err  error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return "ble: " + e.Op + ": " + e.Err.Error()
	}
	return "ble: " + e.Op
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransportKind reports whether err is a *TransportError of the given kind.
func IsTransportKind(err error, kind TransportErrorKind) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Kind == kind
	}
	return false
}

// Transport abstracts BLE discovery, GATT connect, notify subscription, and
// GATT writes. The Gear VR adapter (gearvr.go) is the one concrete
// implementation this repo ships; anything else (a simulator, a different
// controller) is a different Transport.
type Transport interface {
	Scan(ctx context.Context, duration time.Duration) (<-chan DiscoveredDevice, error)
	Connect(ctx context.Context, deviceID string) (*Session, error)
	SubscribeNotifications(ctx context.Context, sess *Session) (<-chan Notification, error)
	Write(ctx context.Context, sess *Session, opcode Opcode) error
	ReadBattery(ctx context.Context, sess *Session) (uint8, error)
	Disconnect(sess *Session) error
}
