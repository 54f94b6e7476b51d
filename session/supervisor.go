package session

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"gearbridge/ble"
	"gearbridge/config"
	"gearbridge/controller"
	"gearbridge/fusion"
	"gearbridge/mapper"
)

// Phase is the supervisor's connection lifecycle state.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseScanning   Phase = "scanning"
	PhaseFound      Phase = "found"
	PhaseConnecting Phase = "connecting"
	PhaseActive     Phase = "active"
	PhaseLost       Phase = "lost"
)

const (
	standbyWakeAfter = 30 * time.Second
	standbyLostAfter = 5 * time.Second // additional silence past the wake attempt
	reconnectBase    = 3 * time.Second
	reconnectJitter  = 100 * time.Millisecond
)

// Supervisor owns the one live controller session: BLE lifecycle, fusion,
// and input mapping. It is the single owner of the live Session and
// configs. RPC methods run on the caller's goroutine, not on Run's: they
// read and write the Supervisor's own fields under mu and go through the
// config.Store, which has its own internal RWMutex. There is no
// message-passing channel into Run.
type Supervisor struct {
	transport ble.Transport
	store     *config.Store
	bus       *Bus
	mapper    *mapper.Mapper
	log       *logrus.Entry

	mu           sync.RWMutex
	phase        Phase
	lastDeviceID string
	activeSess   *ble.Session
	language     string

	scanMu     sync.Mutex
	scanCancel context.CancelFunc

	engine *fusion.Engine
}

// New builds a Supervisor. mapperInst is wired by the caller with the
// configured input.Sink so Apply runs on fused State updates as they
// arrive.
func New(transport ble.Transport, store *config.Store, mapperInst *mapper.Mapper, log *logrus.Entry) *Supervisor {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	ctrl := store.Controller()
	s := &Supervisor{
		transport: transport,
		store:     store,
		bus:       NewBus(),
		mapper:    mapperInst,
		log:       log.WithField("component", "session"),
		phase:     PhaseIdle,
		engine:    fusion.NewEngine(ctrl.Fusion, ctrl.Mag, ctrl.Gyro),
	}

	if mapperInst != nil {
		mapperInst.Arbiter().OnToggle(func(newMode mapper.Mode) {
			cfg := store.Mouse()
			cfg.Mode = newMode
			if err := store.SetMouse(cfg); err != nil {
				s.log.WithError(err).Warn("failed to persist mouse mode toggle")
			}
			mapperInst.SetConfig(cfg, store.Keymap())
			s.bus.Publish(mouseModeEvent(newMode))
		})
	}

	log.Logger.AddHook(&busLogHook{bus: s.bus})

	return s
}

// Bus returns the event stream GUI clients subscribe to.
func (s *Supervisor) Bus() *Bus { return s.bus }

// Phase returns the current lifecycle state.
func (s *Supervisor) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// LastDeviceID returns the device id of the most recent connection, used
// by the reconnect_device RPC.
func (s *Supervisor) LastDeviceID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastDeviceID
}

func (s *Supervisor) setPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}

// Run drives IDLE -> SCANNING -> FOUND -> CONNECTING -> ACTIVE once, then
// hands off to the reconnect loop for the remainder of the process
// lifetime: every subsequent LOST -> CONNECTING transition reuses the
// last-known device id with no rescan, per the lifecycle's documented
// edges. scanAndConnect is called only from here; the scan and start_scan
// RPCs publish device-found events without changing the phase.
func (s *Supervisor) Run(ctx context.Context) error {
	dev, err := s.scanAndConnect(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.bus.Publish(deviceError(err.Error()))
		return s.reconnectForever(ctx)
	}

	s.mu.Lock()
	s.lastDeviceID = dev.ID
	s.mu.Unlock()

	s.runActive(ctx, dev.ID)
	s.setPhase(PhaseLost)
	s.bus.Publish(deviceLost())

	return s.reconnectForever(ctx)
}

// scanAndConnect runs SCANNING -> FOUND -> CONNECTING -> ACTIVE's setup.
func (s *Supervisor) scanAndConnect(ctx context.Context) (ble.DiscoveredDevice, error) {
	s.setPhase(PhaseScanning)
	dev, err := ble.FindFirstDevice(ctx, s.transport, 0)
	if err != nil {
		return ble.DiscoveredDevice{}, err
	}
	s.setPhase(PhaseFound)
	s.bus.Publish(deviceFound(dev.ID, dev.Name))

	s.setPhase(PhaseConnecting)
	if err := s.connectAndArm(ctx, dev.ID); err != nil {
		return ble.DiscoveredDevice{}, err
	}
	return dev, nil
}

// connectAndArm opens a GATT session and runs the connection-start
// sequence: VR_Mode, then SensorsOn.
func (s *Supervisor) connectAndArm(ctx context.Context, deviceID string) error {
	sess, err := s.transport.Connect(ctx, deviceID)
	if err != nil {
		return err
	}
	if err := s.transport.Write(ctx, sess, ble.OpVRMode); err != nil {
		return err
	}
	if err := s.transport.Write(ctx, sess, ble.OpSensorsOn); err != nil {
		return err
	}
	s.mu.Lock()
	s.activeSess = sess
	s.mu.Unlock()
	s.log = s.log.WithField("run_id", sess.RunID)
	return nil
}

// runActive subscribes to notifications and processes them until the link
// goes silent past the standby-wake-then-lost budget or ctx is cancelled.
// controller-state is published only from inside this function, which only
// runs while phase is ACTIVE.
func (s *Supervisor) runActive(ctx context.Context, deviceID string) string {
	s.mu.RLock()
	sess := s.activeSess
	s.mu.RUnlock()

	notes, err := s.transport.SubscribeNotifications(ctx, sess)
	if err != nil {
		return "subscribe failed: " + err.Error()
	}

	s.setPhase(PhaseActive)
	s.bus.Publish(deviceConnected(deviceID))

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	keepAlive := time.NewTicker(ble.KeepAliveInterval)
	defer keepAlive.Stop()

	lastRx := time.Now()
	wakeAttempted := false

	for {
		select {
		case <-ctx.Done():
			_ = s.transport.Disconnect(sess)
			return "context cancelled"

		case note, ok := <-notes:
			if !ok {
				return "notification channel closed"
			}
			lastRx = time.Now()
			wakeAttempted = false
			s.processNotification(note)

		case <-keepAlive.C:
			if err := s.transport.Write(ctx, sess, ble.OpKeepAlive); err != nil {
				s.log.WithError(err).Debug("keep-alive write failed")
			}

		case <-ticker.C:
			silent := time.Since(lastRx)
			switch {
			case !wakeAttempted && silent > standbyWakeAfter:
				wakeAttempted = true
				_ = s.transport.Write(ctx, sess, ble.OpLPMDisable)
				_ = s.transport.Write(ctx, sess, ble.OpSensorsOn)
				s.log.Info("no frames for 30s, attempting standby wake")
			case wakeAttempted && silent > standbyWakeAfter+standbyLostAfter:
				return "standby wake did not recover the link"
			}
		}
	}
}

// processNotification decodes one 60-byte frame, runs its three IMU
// sub-samples through the fusion engine, and publishes the resulting
// controller.State to both the mapper and the event bus.
func (s *Supervisor) processNotification(note ble.Notification) {
	frame, err := ble.DecodeFrame(note.Data)
	if err != nil {
		s.log.WithError(err).Debug("dropped malformed frame")
		return
	}

	magX, magY, magZ := frame.MagUT()
	rawMag := fusion.Vec3{X: magX, Y: magY, Z: magZ}

	var last fusion.State
	var lastAccel, lastGyro fusion.Vec3
	for i, sub := range frame.IMU {
		ax, ay, az := sub.AccelG()
		gx, gy, gz := sub.GyroRadS()
		accel := fusion.Vec3{X: ax, Y: ay, Z: az}
		gyro := fusion.Vec3{X: gx, Y: gy, Z: gz}
		lastAccel, lastGyro = accel, gyro

		last = s.engine.Update(fusion.Sample{
			Accel:    accel,
			Gyro:     gyro,
			Mag:      rawMag,
			MagValid: i == len(frame.IMU)-1,
			At:       note.At,
		})
	}

	st := controller.FromFrame(frame, note.At)
	st.Filtered = last.Filtered
	st.Q = last.Q
	st.Accel = lastAccel
	st.Gyro = lastGyro
	st.Mag = rawMag

	if s.mapper != nil {
		if err := s.mapper.Apply(st); err != nil {
			s.log.WithError(err).Debug("input sink error")
		}
	}
	s.bus.Publish(controllerStateEvent(st))
}

// reconnectForever alternates CONNECTING attempts at reconnectBase +/-
// reconnectJitter against the last-known device id (no rescan) with ACTIVE
// runs, for as long as ctx stays live — the LOST -> CONNECTING edge the
// lifecycle never exits on its own; only a cancelled context leaves it.
func (s *Supervisor) reconnectForever(ctx context.Context) error {
	for {
		s.mu.RLock()
		deviceID := s.lastDeviceID
		s.mu.RUnlock()

		s.setPhase(PhaseConnecting)

		jitter := time.Duration(rand.Int63n(int64(2*reconnectJitter))) - reconnectJitter
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectBase + jitter):
		}

		if err := s.connectAndArm(ctx, deviceID); err != nil {
			s.log.WithError(err).Debug("reconnect attempt failed")
			continue
		}

		s.runActive(ctx, deviceID)
		s.setPhase(PhaseLost)
		s.bus.Publish(deviceLost())
	}
}
