package calibration

import (
	"testing"

	"gearbridge/fusion"
)

func TestFitGyroCalibrationStationary(t *testing.T) {
	cfg := DefaultGyroWizardConfig()
	bias := fusion.Vec3{X: 0.01, Y: -0.02, Z: 0.005}
	samples := make([]fusion.Vec3, 360)
	for i := range samples {
		// Tiny deterministic jitter well within the stationary threshold.
		jitter := float64(i%5-2) * 0.0005
		samples[i] = fusion.Vec3{X: bias.X + jitter, Y: bias.Y, Z: bias.Z - jitter}
	}

	cal, ok := FitGyroCalibration(samples, cfg)
	if !ok {
		t.Fatalf("expected stationary detection to succeed")
	}
	d := cal.ZeroBias.Sub(bias)
	if d.Norm() > 0.01 {
		t.Fatalf("recovered bias %v too far from true bias %v", cal.ZeroBias, bias)
	}
}

func TestFitGyroCalibrationRejectsMotion(t *testing.T) {
	cfg := DefaultGyroWizardConfig()
	samples := make([]fusion.Vec3, 200)
	for i := range samples {
		// Large swing — controller was moved during collection.
		v := float64(i%2)*2 - 1
		samples[i] = fusion.Vec3{X: v, Y: 0, Z: 0}
	}

	_, ok := FitGyroCalibration(samples, cfg)
	if ok {
		t.Fatalf("expected motion during calibration to be rejected")
	}
}
