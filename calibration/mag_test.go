package calibration

import (
	"math"
	"testing"

	"gearbridge/fusion"
)

func syntheticMagSphere(center fusion.Vec3, radius float64, n int) []fusion.Vec3 {
	out := make([]fusion.Vec3, 0, n)
	for i := 0; i < n; i++ {
		theta := 2 * math.Pi * float64(i) / float64(n)
		phi := math.Pi * float64(i%7) / 6
		out = append(out, fusion.Vec3{
			X: center.X + radius*math.Sin(phi)*math.Cos(theta),
			Y: center.Y + radius*math.Sin(phi)*math.Sin(theta),
			Z: center.Z + radius*math.Cos(phi),
		})
	}
	return out
}

func TestFitMagCalibrationRecoversBiasAndScale(t *testing.T) {
	cfg := DefaultMagWizardConfig()
	bias := fusion.Vec3{X: 12, Y: -8, Z: 5}
	samples := syntheticMagSphere(bias, 30, 200)

	cal, ok, err := FitMagCalibration(samples, 45.0, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("expected fit to succeed within tolerance")
	}

	d := cal.HardIronBias.Sub(bias)
	if d.Norm() > 1.0 {
		t.Fatalf("recovered bias %v too far from true bias %v", cal.HardIronBias, bias)
	}

	// Corrected samples should now lie on a sphere of radius ~45.
	for _, s := range samples[:5] {
		r := cal.Apply(s).Norm()
		if math.Abs(r-45.0) > 45.0*cfg.ToleranceFraction {
			t.Fatalf("corrected sample radius %v too far from target 45", r)
		}
	}
}

func TestFitMagCalibrationInsufficientCoverage(t *testing.T) {
	cfg := DefaultMagWizardConfig()
	// All samples nearly identical: no axis span.
	samples := make([]fusion.Vec3, 20)
	for i := range samples {
		samples[i] = fusion.Vec3{X: 10, Y: 10, Z: 10}
	}
	_, ok, err := FitMagCalibration(samples, 45.0, cfg)
	if ok {
		t.Fatalf("expected fit to fail for degenerate samples")
	}
	if !IsKind(err, ErrInsufficientCoverage) {
		t.Fatalf("expected ErrInsufficientCoverage, got %v", err)
	}
}
