package session

import (
	"context"
	"fmt"
	"time"

	"gearbridge/ble"
	"gearbridge/calibration"
	"gearbridge/config"
	"gearbridge/fusion"
	"gearbridge/mapper"
)

// ConnectionStatus is the get_connection_status RPC's result shape.
type ConnectionStatus struct {
	Phase    Phase  `json:"phase"`
	DeviceID string `json:"device_id,omitempty"`
}

// Scan implements the scan RPC: a one-shot discovery pass that returns
// every device seen within timeout, without affecting the auto-managed
// connection lifecycle Run drives.
func (s *Supervisor) Scan(ctx context.Context, timeout time.Duration) ([]ble.DiscoveredDevice, error) {
	scanCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	devices, err := s.transport.Scan(scanCtx, timeout)
	if err != nil {
		return nil, err
	}
	var found []ble.DiscoveredDevice
	for {
		select {
		case d, ok := <-devices:
			if !ok {
				return found, nil
			}
			found = append(found, d)
			s.bus.Publish(deviceFound(d.ID, d.Name))
		case <-scanCtx.Done():
			return found, nil
		}
	}
}

// StartScan implements the start_scan RPC: begins a background scan that
// publishes a device-found event for every matching peripheral as it's
// seen, running until duration elapses or StopScan cancels it. It returns
// once the scan is underway; devices arrive asynchronously on the Bus.
func (s *Supervisor) StartScan(duration time.Duration) error {
	s.scanMu.Lock()
	if s.scanCancel != nil {
		s.scanMu.Unlock()
		return fmt.Errorf("session: scan already in progress")
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.scanCancel = cancel
	s.scanMu.Unlock()

	devices, err := s.transport.Scan(ctx, duration)
	if err != nil {
		s.scanMu.Lock()
		s.scanCancel = nil
		s.scanMu.Unlock()
		cancel()
		return err
	}

	go func() {
		for d := range devices {
			s.bus.Publish(deviceFound(d.ID, d.Name))
		}
		cancel()
		s.scanMu.Lock()
		s.scanCancel = nil
		s.scanMu.Unlock()
	}()
	return nil
}

// StopScan implements the stop_scan RPC, cancelling an in-flight StartScan.
// A no-op if no scan is running.
func (s *Supervisor) StopScan() error {
	s.scanMu.Lock()
	cancel := s.scanCancel
	s.scanCancel = nil
	s.scanMu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// ConnectToDevice implements the connect_to_device RPC: connects to a
// specific device id outside the automatic scan-on-startup path, then runs
// it exactly like Run would (ACTIVE, then indefinite reconnection on the
// same id). It returns once the initial connect attempt settles; the
// ongoing session runs on its own goroutine.
func (s *Supervisor) ConnectToDevice(ctx context.Context, deviceID string) error {
	s.setPhase(PhaseConnecting)
	if err := s.connectAndArm(ctx, deviceID); err != nil {
		return err
	}
	s.mu.Lock()
	s.lastDeviceID = deviceID
	s.mu.Unlock()

	go func() {
		s.runActive(ctx, deviceID)
		s.setPhase(PhaseLost)
		s.bus.Publish(deviceLost())
		_ = s.reconnectForever(ctx)
	}()
	return nil
}

// ReconnectDevice implements the reconnect_device RPC: forces an immediate
// reconnect attempt against the last-known device id rather than waiting
// for the next scheduled reconnectForever tick.
func (s *Supervisor) ReconnectDevice(ctx context.Context) error {
	deviceID := s.LastDeviceID()
	if deviceID == "" {
		return fmt.Errorf("session: no prior device to reconnect to")
	}
	return s.ConnectToDevice(ctx, deviceID)
}

// GetConnectionStatus implements the get_connection_status RPC.
func (s *Supervisor) GetConnectionStatus() ConnectionStatus {
	return ConnectionStatus{Phase: s.Phase(), DeviceID: s.LastDeviceID()}
}

// GetBatteryLevel implements the get_battery_level RPC: reads the battery
// characteristic on the live session and also publishes a battery-level
// event, matching how the device-initiated path would surface it.
func (s *Supervisor) GetBatteryLevel(ctx context.Context) (uint8, error) {
	s.mu.RLock()
	sess := s.activeSess
	s.mu.RUnlock()
	if sess == nil {
		return 0, fmt.Errorf("session: no active connection")
	}
	level, err := s.transport.ReadBattery(ctx, sess)
	if err != nil {
		return 0, err
	}
	s.bus.Publish(batteryEvent(level))
	return level, nil
}

// Disconnect implements the disconnect RPC.
func (s *Supervisor) Disconnect() error {
	s.mu.RLock()
	sess := s.activeSess
	s.mu.RUnlock()
	if sess == nil {
		return nil
	}
	return s.transport.Disconnect(sess)
}

// GetControllerConfig, SetControllerConfig, and ResetControllerConfig wrap
// the config.Store and keep the live fusion engine's tunables in sync.
func (s *Supervisor) GetControllerConfig() config.ControllerConfig { return s.store.Controller() }

func (s *Supervisor) SetControllerConfig(c config.ControllerConfig) error {
	if err := s.store.SetController(c); err != nil {
		return err
	}
	s.engine.SetParams(c.Fusion)
	s.engine.SetCalibration(c.Mag, c.Gyro)
	return nil
}

func (s *Supervisor) ResetControllerConfig() error {
	if err := s.store.ResetController(); err != nil {
		return err
	}
	return s.SetControllerConfig(s.store.Controller())
}

// GetMouseConfig, SetMouseConfig, and ResetMouseConfig wrap the config
// store and keep the mapper's live config in sync.
func (s *Supervisor) GetMouseConfig() mapper.MouseConfig { return s.store.Mouse() }

func (s *Supervisor) SetMouseConfig(c mapper.MouseConfig) error {
	if err := s.store.SetMouse(c); err != nil {
		return err
	}
	if s.mapper != nil {
		s.mapper.SetConfig(c, s.store.Keymap())
	}
	return nil
}

func (s *Supervisor) ResetMouseConfig() error {
	if err := s.store.ResetMouse(); err != nil {
		return err
	}
	return s.SetMouseConfig(s.store.Mouse())
}

// GetKeymapConfig, SetKeymapConfig, and ResetKeymapConfig wrap the config
// store and keep the mapper's live config in sync.
func (s *Supervisor) GetKeymapConfig() mapper.KeymapConfig { return s.store.Keymap() }

func (s *Supervisor) SetKeymapConfig(c mapper.KeymapConfig) error {
	if err := s.store.SetKeymap(c); err != nil {
		return err
	}
	if s.mapper != nil {
		s.mapper.SetConfig(s.store.Mouse(), c)
	}
	return nil
}

func (s *Supervisor) ResetKeymapConfig() error {
	if err := s.store.ResetKeymap(); err != nil {
		return err
	}
	return s.SetKeymapConfig(s.store.Keymap())
}

// SetLanguage and Language implement get/set_current_language. The value is
// process-local UI state; it has no effect on device or fusion behavior.
func (s *Supervisor) SetLanguage(code string) {
	s.mu.Lock()
	s.language = code
	s.mu.Unlock()
}

func (s *Supervisor) Language() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.language == "" {
		return "en"
	}
	return s.language
}

// StartMagCalibrationWizard runs the magnetometer wizard against live
// sensor samples and publishes its step/finished events, persisting the
// result through the config store on success.
func (s *Supervisor) StartMagCalibrationWizard(ctx context.Context, samples <-chan calibration.MagSample) error {
	cfg := calibration.DefaultMagWizardConfig()
	target := s.store.Controller().Fusion.LocalEarthMagField
	onStep := func(tok calibration.StepToken) {
		s.bus.Publish(Event{Kind: EventMagCalibrationStep, CalStep: tok})
	}
	cal, ok, err := calibration.RunMagWizard(ctx, samples, onStep, target, cfg, s.store)
	s.bus.Publish(Event{Kind: EventMagCalibrationDone, CalSuccess: ok})
	if err != nil {
		return err
	}
	if ok {
		s.engine.SetCalibration(cal, s.store.Controller().Gyro)
	}
	return nil
}

// StartGyroCalibrationWizard runs the gyroscope zero-bias wizard against
// live gyro samples (rad/s, pre-calibration) and publishes its
// step/finished events.
func (s *Supervisor) StartGyroCalibrationWizard(ctx context.Context, samples <-chan fusion.Vec3) error {
	cfg := calibration.DefaultGyroWizardConfig()
	onStep := func(tok calibration.StepToken) {
		s.bus.Publish(Event{Kind: EventGyroCalibrationStep, CalStep: tok})
	}
	cal, ok, err := calibration.RunGyroWizard(ctx, samples, onStep, cfg, s.store)
	s.bus.Publish(Event{Kind: EventGyroCalibrationDone, CalSuccess: ok})
	if err != nil {
		return err
	}
	if ok {
		s.engine.SetCalibration(s.store.Controller().Mag, cal)
	}
	return nil
}
