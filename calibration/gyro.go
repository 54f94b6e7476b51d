package calibration

import (
	"context"
	"time"

	"gearbridge/fusion"
)

// GyroWizardConfig tunes the stationary-collection window and the variance
// threshold used to detect controller motion during calibration.
type GyroWizardConfig struct {
	Duration         time.Duration
	StationaryVarMax float64 // rad²/s², per-axis
}

// DefaultGyroWizardConfig returns the standard 2s collection window.
func DefaultGyroWizardConfig() GyroWizardConfig {
	return GyroWizardConfig{
		Duration:         2 * time.Second,
		StationaryVarMax: 0.0006, // ≈ 1.4 deg/s stddev
	}
}

// RunGyroWizard accumulates gyro samples for cfg.Duration while the
// controller must remain stationary, computes the component-wise mean as
// the zero-bias, and fails with ErrStationary if any axis variance exceeds
// the threshold (the controller moved during collection).
func RunGyroWizard(ctx context.Context, samples <-chan fusion.Vec3, onStep StepHandler, cfg GyroWizardConfig, store Store) (fusion.GyroCalibration, bool, error) {
	if onStep != nil {
		onStep(StepStarting)
	}

	var collected []fusion.Vec3
	deadline := time.NewTimer(cfg.Duration)
	defer deadline.Stop()

collect:
	for {
		select {
		case <-ctx.Done():
			return fusion.GyroCalibration{}, false, newError(ErrCancelled, "gyro calibration cancelled")
		case <-deadline.C:
			break collect
		case s, ok := <-samples:
			if !ok {
				break collect
			}
			collected = append(collected, s)
		}
	}

	if onStep != nil {
		onStep(StepCollectionComplete)
	}

	cal, stationary := FitGyroCalibration(collected, cfg)
	if !stationary {
		return fusion.GyroCalibration{}, false, newError(ErrStationary, "controller moved during gyro calibration")
	}
	if store != nil {
		if err := store.SaveGyroCalibration(cal); err != nil {
			return cal, false, err
		}
	}
	return cal, true, nil
}

// FitGyroCalibration computes the per-axis mean and variance of the
// collected samples, returning the mean as the zero-bias and whether every
// axis' variance stayed within cfg.StationaryVarMax.
func FitGyroCalibration(samples []fusion.Vec3, cfg GyroWizardConfig) (fusion.GyroCalibration, bool) {
	n := float64(len(samples))
	if n == 0 {
		return fusion.GyroCalibration{}, false
	}

	var mean fusion.Vec3
	for _, s := range samples {
		mean = mean.Add(s)
	}
	mean = mean.Scale(1.0 / n)

	var varSum fusion.Vec3
	for _, s := range samples {
		d := s.Sub(mean)
		varSum.X += d.X * d.X
		varSum.Y += d.Y * d.Y
		varSum.Z += d.Z * d.Z
	}
	varSum = varSum.Scale(1.0 / n)

	stationary := varSum.X <= cfg.StationaryVarMax &&
		varSum.Y <= cfg.StationaryVarMax &&
		varSum.Z <= cfg.StationaryVarMax

	return fusion.GyroCalibration{ZeroBias: mean}, stationary
}
