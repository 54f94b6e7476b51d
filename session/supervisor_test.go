package session

import (
	"context"
	"testing"
	"time"

	"gearbridge/ble"
	"gearbridge/config"
	"gearbridge/input"
	"gearbridge/mapper"
)

// fakeTransport is a minimal ble.Transport double: one scan result, an
// always-succeeding connect, and a notification channel the test drives
// directly.
type fakeTransport struct {
	notes    chan ble.Notification
	writes   []ble.Opcode
	battery  uint8
	scanErr  error
	connErr  error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{notes: make(chan ble.Notification, 8), battery: 77}
}

func (f *fakeTransport) Scan(ctx context.Context, d time.Duration) (<-chan ble.DiscoveredDevice, error) {
	if f.scanErr != nil {
		return nil, f.scanErr
	}
	ch := make(chan ble.DiscoveredDevice, 1)
	ch <- ble.DiscoveredDevice{ID: "dev-1", Name: "Gear VR"}
	close(ch)
	return ch, nil
}

func (f *fakeTransport) Connect(ctx context.Context, deviceID string) (*ble.Session, error) {
	if f.connErr != nil {
		return nil, f.connErr
	}
	return &ble.Session{DeviceID: deviceID}, nil
}

func (f *fakeTransport) SubscribeNotifications(ctx context.Context, sess *ble.Session) (<-chan ble.Notification, error) {
	return f.notes, nil
}

func (f *fakeTransport) Write(ctx context.Context, sess *ble.Session, op ble.Opcode) error {
	f.writes = append(f.writes, op)
	return nil
}

func (f *fakeTransport) ReadBattery(ctx context.Context, sess *ble.Session) (uint8, error) {
	return f.battery, nil
}

func (f *fakeTransport) Disconnect(sess *ble.Session) error { return nil }

func zeroFrame(buttons uint8) []byte {
	buf := make([]byte, ble.FrameSize)
	buf[58] = buttons
	return buf
}

func newTestSupervisor(t *testing.T, transport ble.Transport) *Supervisor {
	t.Helper()
	dir := t.TempDir()
	store, err := config.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	m := mapper.New(&input.Null{}, mapper.Screen{WidthPx: 1920, HeightPx: 1080}, mapper.DefaultMouseConfig(), mapper.DefaultKeymapConfig())
	return New(transport, store, m, nil)
}

func TestRunReachesActiveAndSendsArmSequence(t *testing.T) {
	transport := newFakeTransport()
	sup := newTestSupervisor(t, transport)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(done)
	}()

	deadline := time.After(250 * time.Millisecond)
	for sup.Phase() != PhaseActive {
		select {
		case <-deadline:
			t.Fatalf("never reached ACTIVE, phase = %v", sup.Phase())
		case <-time.After(time.Millisecond):
		}
	}

	if len(transport.writes) != 2 || transport.writes[0] != ble.OpVRMode || transport.writes[1] != ble.OpSensorsOn {
		t.Fatalf("arm sequence = %v, want [VRMode SensorsOn]", transport.writes)
	}

	cancel()
	<-done
}

func TestControllerStatePublishedWhileActive(t *testing.T) {
	transport := newFakeTransport()
	sup := newTestSupervisor(t, transport)
	ch, id := sup.Bus().Subscribe()
	defer sup.Bus().Unsubscribe(id)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(done)
	}()

	for sup.Phase() != PhaseActive {
		time.Sleep(time.Millisecond)
	}

	transport.notes <- ble.Notification{Data: zeroFrame(0x01), At: time.Now()}

	var sawState bool
	timeout := time.After(100 * time.Millisecond)
loop:
	for {
		select {
		case ev := <-ch:
			if ev.Kind == EventControllerState {
				sawState = true
				break loop
			}
		case <-timeout:
			break loop
		}
	}
	if !sawState {
		t.Fatalf("expected a controller-state event while ACTIVE")
	}

	cancel()
	<-done
}

func TestLostConnectionEntersReconnectLoop(t *testing.T) {
	transport := newFakeTransport()
	sup := newTestSupervisor(t, transport)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(done)
	}()

	for sup.Phase() != PhaseActive {
		time.Sleep(time.Millisecond)
	}
	close(transport.notes)

	deadline := time.After(200 * time.Millisecond)
	for sup.Phase() != PhaseLost && sup.Phase() != PhaseConnecting {
		select {
		case <-deadline:
			t.Fatalf("expected LOST or CONNECTING after notification channel closed, got %v", sup.Phase())
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	<-done
}
