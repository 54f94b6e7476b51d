package config

import (
	"os"
	"path/filepath"
	"testing"

	"gearbridge/fusion"
	"gearbridge/mapper"
)

func TestOpenMissingDirReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "gearbridge"))
	if err != nil {
		t.Fatal(err)
	}
	if s.Controller() != DefaultControllerConfig() {
		t.Fatalf("expected default controller config for a missing file")
	}
	if s.Mouse() != mapper.DefaultMouseConfig() {
		t.Fatalf("expected default mouse config for a missing file")
	}
}

func TestSetControllerRoundTrips(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}

	want := ControllerConfig{
		Fusion: fusion.DefaultParams(),
		Mag: fusion.MagCalibration{
			HardIronBias:   fusion.Vec3{X: 1.5, Y: -2.25, Z: 0.5},
			SoftIronMatrix: fusion.Identity3(),
		},
		// Exactly representable in float32 so the load-time round trip
		// (see roundTripCalibrationFloat32) doesn't perturb the comparison.
		Gyro: fusion.GyroCalibration{ZeroBias: fusion.Vec3{X: 0.25, Y: 0.5, Z: -0.125}},
	}
	if err := s.SetController(want); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	got := reopened.Controller()
	if got.Mag.HardIronBias != want.Mag.HardIronBias {
		t.Fatalf("hard iron bias = %+v, want %+v", got.Mag.HardIronBias, want.Mag.HardIronBias)
	}
	if got.Gyro.ZeroBias != want.Gyro.ZeroBias {
		t.Fatalf("zero bias = %+v, want %+v", got.Gyro.ZeroBias, want.Gyro.ZeroBias)
	}

	if _, err := os.Stat(filepath.Join(dir, controllerFileName)); err != nil {
		t.Fatalf("controller_config.json not written: %v", err)
	}
}

func TestSetMouseAndKeymapPersistToSeparateFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}

	mouse := mapper.DefaultMouseConfig()
	mouse.Mode = mapper.ModeTouchpad
	if err := s.SetMouse(mouse); err != nil {
		t.Fatal(err)
	}
	keymap := mapper.DefaultKeymapConfig()
	if err := s.SetKeymap(keymap); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(dir, mouseFileName)); err != nil {
		t.Fatalf("mouse_config.json not written: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, keymapFileName)); err != nil {
		t.Fatalf("keymap_config.json not written: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, controllerFileName)); err == nil {
		t.Fatalf("controller_config.json should not be written by SetMouse/SetKeymap")
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if reopened.Mouse().Mode != mapper.ModeTouchpad {
		t.Fatalf("mode did not persist")
	}
}

func TestMalformedFileFallsBackWithoutDeleting(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, controllerFileName)
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if s.Controller() != DefaultControllerConfig() {
		t.Fatalf("expected default controller config when the file is malformed")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "{not json" {
		t.Fatalf("malformed file was modified: %q", data)
	}
}

func TestResetControllerRestoresDefaults(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	_ = s.SaveMagCalibration(fusion.MagCalibration{HardIronBias: fusion.Vec3{X: 9}})
	if err := s.ResetController(); err != nil {
		t.Fatal(err)
	}
	if s.Controller() != DefaultControllerConfig() {
		t.Fatalf("reset did not restore defaults")
	}
}
