package ble

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/muka/go-bluetooth/bluez/profile/gatt"
	"github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"
)

// serviceUUID is used to filter scan results down to Gear VR peripherals
// advertising the controller's custom service.
var serviceUUID = bluetooth.NewUUID(parseUUIDBytes(ServiceUUIDStr))

// parseUUIDBytes turns a standard hyphenated UUID string into the 16 raw
// bytes tinygo.org/x/bluetooth.NewUUID expects. Malformed inputs here are a
// programmer error (they're all compile-time constants in transport.go), so this
// panics rather than threading an error through package init.
func parseUUIDBytes(s string) [16]byte {
	hex := strings.ReplaceAll(s, "-", "")
	if len(hex) != 32 {
		panic("ble: invalid UUID constant " + s)
	}
	var out [16]byte
	for i := 0; i < 16; i++ {
		var b byte
		_, err := fmt.Sscanf(hex[i*2:i*2+2], "%02x", &b)
		if err != nil {
			panic("ble: invalid UUID constant " + s)
		}
		out[i] = b
	}
	return out
}

type gearvrHandle struct {
	device     *bluetooth.Device
	address    bluetooth.Address
	notifyChar *gatt.GattCharacteristic1
}

// GearVRTransport implements Transport against a real Gear VR SM-R325 using
// tinygo.org/x/bluetooth for scan/connect and a direct BlueZ D-Bus
// ObjectManager walk (bypassing the tinygo/go-bluetooth singleton's
// sometimes-stale GATT cache) for characteristic discovery.
type GearVRTransport struct {
	adapter *bluetooth.Adapter
	log     *logrus.Entry

	mu      sync.Mutex
	handles map[string]*gearvrHandle
}

// NewGearVRTransport builds a transport bound to the default BLE adapter.
func NewGearVRTransport(log *logrus.Entry) *GearVRTransport {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &GearVRTransport{
		adapter: bluetooth.DefaultAdapter,
		log:     log.WithField("component", "ble"),
		handles: make(map[string]*gearvrHandle),
	}
}

func (t *GearVRTransport) Scan(ctx context.Context, duration time.Duration) (<-chan DiscoveredDevice, error) {
	if err := t.adapter.Enable(); err != nil {
		return nil, &TransportError{Kind: ErrSetup, Op: "enable adapter", Err: err}
	}

	out := make(chan DiscoveredDevice, 16)
	go func() {
		defer close(out)

		scanCtx := ctx
		var cancel context.CancelFunc
		if duration > 0 {
			scanCtx, cancel = context.WithTimeout(ctx, duration)
			defer cancel()
		}

		done := make(chan struct{})
		go func() {
			err := t.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
				if !result.HasServiceUUID(serviceUUID) {
					return
				}
				select {
				case out <- DiscoveredDevice{ID: result.Address.String(), Name: result.LocalName(), RSSI: result.RSSI}:
				default:
				}
			})
			if err != nil {
				t.log.WithError(err).Warn("scan ended with error")
			}
			close(done)
		}()

		select {
		case <-scanCtx.Done():
			_ = t.adapter.StopScan()
		case <-done:
		}
	}()

	return out, nil
}

func (t *GearVRTransport) Connect(ctx context.Context, deviceID string) (*Session, error) {
	addr, err := parseAddress(deviceID)
	if err != nil {
		return nil, &TransportError{Kind: ErrNotFound, Op: "connect", Err: err}
	}

	connectCtx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()

	device, err := t.adapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, &TransportError{Kind: ErrUnreachable, Op: "connect", Err: err}
	}

	if err := waitForServicesResolved(connectCtx, addr); err != nil {
		device.Disconnect()
		return nil, &TransportError{Kind: ErrSetup, Op: "services resolved", Err: err}
	}

	notifyChar, err := discoverGATT(addr, ServiceUUIDStr, NotifyCharUUIDStr)
	if err != nil {
		device.Disconnect()
		return nil, &TransportError{Kind: ErrSetup, Op: "discover characteristic", Err: err}
	}

	handle := &gearvrHandle{device: &device, address: addr, notifyChar: notifyChar}

	sess := NewSession(deviceID, handle)

	t.mu.Lock()
	t.handles[deviceID] = handle
	t.mu.Unlock()

	// The VR_Mode/SensorsOn connection-start sequence is issued by the
	// session supervisor once it holds this Session, not here: Connect only
	// establishes the GATT link.
	return sess, nil
}

func (t *GearVRTransport) SubscribeNotifications(ctx context.Context, sess *Session) (<-chan Notification, error) {
	h, ok := sess.handle.(*gearvrHandle)
	if !ok {
		return nil, &TransportError{Kind: ErrSetup, Op: "subscribe", Err: fmt.Errorf("invalid session handle")}
	}

	propCh, err := h.notifyChar.WatchProperties()
	if err != nil {
		return nil, &TransportError{Kind: ErrSetup, Op: "watch properties", Err: err}
	}
	if err := h.notifyChar.StartNotify(); err != nil {
		_ = h.notifyChar.UnwatchProperties(propCh)
		return nil, &TransportError{Kind: ErrSetup, Op: "start notify", Err: err}
	}

	out := make(chan Notification, 16)
	go func() {
		defer close(out)
		for update := range propCh {
			if update == nil {
				continue
			}
			if update.Interface != "org.bluez.GattCharacteristic1" || update.Name != "Value" {
				continue
			}
			data, ok := update.Value.([]byte)
			if !ok {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			n := Notification{Data: data, At: time.Now()}
			select {
			case out <- n:
			default:
				// Full: drop the oldest queued packet so the newest wins and
				// this goroutine never blocks the transport.
				select {
				case <-out:
				default:
				}
				select {
				case out <- n:
				default:
				}
			}
		}
	}()

	return out, nil
}

func (t *GearVRTransport) Write(ctx context.Context, sess *Session, opcode Opcode) error {
	h, ok := sess.handle.(*gearvrHandle)
	if !ok {
		return &TransportError{Kind: ErrSetup, Op: "write", Err: fmt.Errorf("invalid session handle")}
	}
	char, err := discoverGATT(h.address, ServiceUUIDStr, WriteCharUUIDStr)
	if err != nil {
		return &TransportError{Kind: ErrIO, Op: "discover write char", Err: err}
	}
	if err := char.WriteValue(opcode.Encode(), nil); err != nil {
		return &TransportError{Kind: ErrIO, Op: "write", Err: err}
	}
	return nil
}

func (t *GearVRTransport) ReadBattery(ctx context.Context, sess *Session) (uint8, error) {
	h, ok := sess.handle.(*gearvrHandle)
	if !ok {
		return 0, &TransportError{Kind: ErrSetup, Op: "read battery", Err: fmt.Errorf("invalid session handle")}
	}
	char, err := discoverGATT(h.address, "", BatteryCharUUIDStr)
	if err != nil {
		return 0, &TransportError{Kind: ErrIO, Op: "discover battery char", Err: err}
	}
	v, err := char.ReadValue(nil)
	if err != nil || len(v) < 1 {
		return 0, &TransportError{Kind: ErrIO, Op: "read battery", Err: err}
	}
	return v[0], nil
}

func (t *GearVRTransport) Disconnect(sess *Session) error {
	t.mu.Lock()
	delete(t.handles, sess.DeviceID)
	t.mu.Unlock()

	h, ok := sess.handle.(*gearvrHandle)
	if !ok || h.device == nil {
		return nil
	}
	if h.notifyChar != nil {
		_ = h.notifyChar.StopNotify()
	}
	if err := h.device.Disconnect(); err != nil {
		return &TransportError{Kind: ErrIO, Op: "disconnect", Err: err}
	}
	return nil
}

func parseAddress(deviceID string) (bluetooth.Address, error) {
	var addr bluetooth.Address
	mac, err := bluetooth.ParseMAC(deviceID)
	if err != nil {
		return addr, err
	}
	addr.MACAddress.MAC = mac
	return addr, nil
}

// waitForServicesResolved blocks until BlueZ reports ServicesResolved=true
// for the given device, or ctx is done. BlueZ resolves the GATT profile
// asynchronously after the ACL connection completes; polling
// DiscoverServices before this transition yields an empty list even on a
// successful connection.
func waitForServicesResolved(ctx context.Context, addr bluetooth.Address) error {
	devPath := deviceObjectPath(addr)

	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return fmt.Errorf("dbus: %w", err)
	}
	defer conn.Close()

	obj := conn.Object("org.bluez", devPath)
	if v, err := obj.GetProperty("org.bluez.Device1.ServicesResolved"); err == nil {
		if resolved, ok := v.Value().(bool); ok && resolved {
			return nil
		}
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.DBus.Properties"),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchObjectPath(devPath),
	); err != nil {
		return fmt.Errorf("dbus match: %w", err)
	}

	ch := make(chan *dbus.Signal, 16)
	conn.Signal(ch)

	for {
		select {
		case sig, ok := <-ch:
			if !ok {
				return fmt.Errorf("dbus signal channel closed")
			}
			if len(sig.Body) < 2 {
				continue
			}
			iface, ok := sig.Body[0].(string)
			if !ok || iface != "org.bluez.Device1" {
				continue
			}
			changed, ok := sig.Body[1].(map[string]dbus.Variant)
			if !ok {
				continue
			}
			if v, ok := changed["ServicesResolved"]; ok {
				if resolved, ok := v.Value().(bool); ok && resolved {
					return nil
				}
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// discoverGATT walks BlueZ's ObjectManager tree directly to find the
// GattCharacteristic1 for (serviceUUIDStr, charUUIDStr) under addr,
// bypassing the tinygo/go-bluetooth singleton's object cache. serviceUUIDStr
// may be empty to search all services under the device (used for the
// Battery Service characteristic, which lives outside the Gear VR's custom
// service).
func discoverGATT(addr bluetooth.Address, serviceUUIDStr, charUUIDStr string) (*gatt.GattCharacteristic1, error) {
	devPath := string(deviceObjectPath(addr))
	serviceUUIDStr = strings.ToLower(serviceUUIDStr)
	charUUIDStr = strings.ToLower(charUUIDStr)

	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("dbus connect: %w", err)
	}
	defer conn.Close()

	obj := conn.Object("org.bluez", "/")
	var managed map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	if err := obj.Call("org.freedesktop.DBus.ObjectManager.GetManagedObjects", 0).Store(&managed); err != nil {
		return nil, fmt.Errorf("GetManagedObjects: %w", err)
	}

	charPath := ""
	for path, ifaces := range managed {
		pathStr := string(path)
		if !strings.HasPrefix(pathStr, devPath) {
			continue
		}
		charIface, ok := ifaces["org.bluez.GattCharacteristic1"]
		if !ok {
			continue
		}
		uuidVar, ok := charIface["UUID"]
		if !ok {
			continue
		}
		uuid, ok := uuidVar.Value().(string)
		if !ok || strings.ToLower(uuid) != charUUIDStr {
			continue
		}
		if serviceUUIDStr != "" {
			svcPath := parentServicePath(pathStr)
			svcIface, ok := managed[dbus.ObjectPath(svcPath)]["org.bluez.GattService1"]
			if !ok {
				continue
			}
			svcUUID, _ := svcIface["UUID"].Value().(string)
			if strings.ToLower(svcUUID) != serviceUUIDStr {
				continue
			}
		}
		charPath = pathStr
		break
	}

	if charPath == "" {
		return nil, fmt.Errorf("characteristic %s not found under %s", charUUIDStr, devPath)
	}

	char, err := gatt.NewGattCharacteristic1(dbus.ObjectPath(charPath))
	if err != nil {
		return nil, fmt.Errorf("NewGattCharacteristic1(%s): %w", charPath, err)
	}
	return char, nil
}

func deviceObjectPath(addr bluetooth.Address) dbus.ObjectPath {
	mac := strings.ToUpper(addr.String())
	devID := strings.ReplaceAll(mac, ":", "_")
	return dbus.ObjectPath("/org/bluez/hci0/dev_" + devID)
}

func parentServicePath(charPath string) string {
	idx := strings.LastIndex(charPath, "/char")
	if idx < 0 {
		return charPath
	}
	return charPath[:idx]
}
