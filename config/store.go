// Package config persists the controller, mouse, and keymap configuration
// as three independent JSON files under the OS config directory, and
// implements the calibration.Store port the calibration wizards write
// through.
//
// Standard library only: encoding/json and os.Rename cover atomic
// read-modify-write of a small local file.
package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"gearbridge/fusion"
	"gearbridge/mapper"
)

const (
	appDirName         = "gearbridge"
	controllerFileName = "controller_config.json"
	mouseFileName      = "mouse_config.json"
	keymapFileName     = "keymap_config.json"
)

// ControllerConfig bundles the fusion engine's tunables and the persisted
// calibration results.
type ControllerConfig struct {
	Fusion fusion.Params          `json:"fusion"`
	Mag    fusion.MagCalibration  `json:"mag_calibration"`
	Gyro   fusion.GyroCalibration `json:"gyro_calibration"`
}

// DefaultControllerConfig returns the out-of-box fusion parameters with
// identity calibration.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		Fusion: fusion.DefaultParams(),
		Mag:    fusion.DefaultMagCalibration(),
		Gyro:   fusion.DefaultGyroCalibration(),
	}
}

// Store loads, holds, and atomically persists controller_config.json,
// mouse_config.json, and keymap_config.json as three independent documents
// in the same directory. Safe for concurrent use: the session supervisor is
// the single owner of writes, but reads may come from RPC handlers running
// on other goroutines.
type Store struct {
	dir string

	mu         sync.RWMutex
	controller ControllerConfig
	mouse      mapper.MouseConfig
	keymap     mapper.KeymapConfig
}

// Open loads all three documents from dir, falling back to defaults
// (without deleting or overwriting an unparsable file) for any one of them
// that's missing or malformed. dir is created on first write, not on Open.
func Open(dir string) (*Store, error) {
	s := &Store{
		dir:        dir,
		controller: DefaultControllerConfig(),
		mouse:      mapper.DefaultMouseConfig(),
		keymap:     mapper.DefaultKeymapConfig(),
	}

	if err := loadController(filepath.Join(dir, controllerFileName), &s.controller); err != nil {
		return nil, err
	}
	if err := loadJSON(filepath.Join(dir, mouseFileName), &s.mouse); err != nil {
		return nil, err
	}
	if err := loadJSON(filepath.Join(dir, keymapFileName), &s.keymap); err != nil {
		return nil, err
	}
	return s, nil
}

// loadJSON reads path into a fresh value of *out's type and only assigns it
// to *out once the whole decode succeeds, so a malformed file never leaves
// *out partially overwritten. A missing file is not an error; the caller's
// zero/default value is left in place either way.
func loadJSON[T any](path string, out *T) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		// Malformed file: keep the default in memory, leave the file on disk
		// untouched so the user can recover it by hand.
		return nil
	}
	*out = v
	return nil
}

// loadController wraps loadJSON with the float32 calibration round-trip.
func loadController(path string, out *ControllerConfig) error {
	if err := loadJSON(path, out); err != nil {
		return err
	}
	roundTripCalibrationFloat32(out)
	return nil
}

// roundTripCalibrationFloat32 passes the persisted calibration fields
// through float32 once, so a value stored by a build running on hardware
// with float32 sensor math round-trips to the same bits a float64 JSON
// decode alone wouldn't guarantee.
func roundTripCalibrationFloat32(c *ControllerConfig) {
	rt := func(v float64) float64 { return float64(float32(v)) }
	rtVec := func(v fusion.Vec3) fusion.Vec3 {
		return fusion.Vec3{X: rt(v.X), Y: rt(v.Y), Z: rt(v.Z)}
	}
	c.Mag.HardIronBias = rtVec(c.Mag.HardIronBias)
	m := &c.Mag.SoftIronMatrix
	for i := range m {
		for j := range m[i] {
			m[i][j] = rt(m[i][j])
		}
	}
	c.Gyro.ZeroBias = rtVec(c.Gyro.ZeroBias)
}

// DefaultPath resolves <UserConfigDir>/gearbridge, the directory Open and
// the three persisted documents live in.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, appDirName), nil
}

// Controller returns the current controller config.
func (s *Store) Controller() ControllerConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.controller
}

// Mouse returns the current mouse config.
func (s *Store) Mouse() mapper.MouseConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mouse
}

// Keymap returns the current keymap config.
func (s *Store) Keymap() mapper.KeymapConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keymap
}

// SetController replaces the controller config and persists it to
// controller_config.json alone.
func (s *Store) SetController(c ControllerConfig) error {
	s.mu.Lock()
	s.controller = c
	s.mu.Unlock()
	return s.write(controllerFileName, c)
}

// SetMouse replaces the mouse config and persists it to mouse_config.json
// alone.
func (s *Store) SetMouse(c mapper.MouseConfig) error {
	s.mu.Lock()
	s.mouse = c
	s.mu.Unlock()
	return s.write(mouseFileName, c)
}

// SetKeymap replaces the keymap config and persists it to
// keymap_config.json alone.
func (s *Store) SetKeymap(c mapper.KeymapConfig) error {
	s.mu.Lock()
	s.keymap = c
	s.mu.Unlock()
	return s.write(keymapFileName, c)
}

// ResetController, ResetMouse, and ResetKeymap restore one document to its
// default while leaving the others untouched.
func (s *Store) ResetController() error { return s.SetController(DefaultControllerConfig()) }
func (s *Store) ResetMouse() error      { return s.SetMouse(mapper.DefaultMouseConfig()) }
func (s *Store) ResetKeymap() error     { return s.SetKeymap(mapper.DefaultKeymapConfig()) }

// SaveMagCalibration implements calibration.Store.
func (s *Store) SaveMagCalibration(c fusion.MagCalibration) error {
	s.mu.Lock()
	s.controller.Mag = c
	doc := s.controller
	s.mu.Unlock()
	return s.write(controllerFileName, doc)
}

// SaveGyroCalibration implements calibration.Store.
func (s *Store) SaveGyroCalibration(c fusion.GyroCalibration) error {
	s.mu.Lock()
	s.controller.Gyro = c
	doc := s.controller
	s.mu.Unlock()
	return s.write(controllerFileName, doc)
}

// write serializes v and atomically replaces name within the store's
// directory: write to a temp file in the same directory, fsync, then
// rename over the target so a crash mid-write never leaves a truncated
// config on disk.
func (s *Store) write(name string, v any) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, "."+name+"-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, filepath.Join(s.dir, name))
}
