package calibration

import (
	"context"
	"math"
	"time"

	"gearbridge/fusion"
)

// MagSample is one raw (uncalibrated) reading fed to the magnetometer
// wizard: a magnetometer vector plus a small accelerometer sample used only
// for axis-orientation bookkeeping by callers (the fit itself is
// accel-independent).
type MagSample struct {
	Mag   fusion.Vec3
	Accel fusion.Vec3
}

// MagWizardConfig tunes the scripted step durations. Defaults sum well
// within the overall calibration-wizard timeout budget.
type MagWizardConfig struct {
	FigureEightDuration time.Duration
	TiltDuration        time.Duration
	RotateDuration      time.Duration
	MinAxisSpan         float64 // µT; below this, coverage is insufficient
	ToleranceFraction   float64 // acceptable RMS radius error, e.g. 0.15
}

// DefaultMagWizardConfig returns the standard timings and tolerances.
func DefaultMagWizardConfig() MagWizardConfig {
	return MagWizardConfig{
		FigureEightDuration: 15 * time.Second,
		TiltDuration:        10 * time.Second,
		RotateDuration:      10 * time.Second,
		MinAxisSpan:         10.0,
		ToleranceFraction:   0.15,
	}
}

// RunMagWizard drives the magnetometer calibration wizard to completion: it
// emits step tokens as the figure-eight/tilt/rotate phases elapse, collects
// samples from the channel throughout, fits the hard/soft-iron correction,
// and persists it on success. The channel is expected to stay open and
// produce samples at the device's cadence; RunMagWizard returns once its
// internal phase clock completes or ctx is cancelled.
func RunMagWizard(ctx context.Context, samples <-chan MagSample, onStep StepHandler, targetField float64, cfg MagWizardConfig, store Store) (fusion.MagCalibration, bool, error) {
	if onStep != nil {
		onStep(StepStarting)
	}

	var collected []fusion.Vec3
	drain := func(d time.Duration) error {
		deadline := time.NewTimer(d)
		defer deadline.Stop()
		for {
			select {
			case <-ctx.Done():
				return newError(ErrCancelled, "mag calibration cancelled")
			case <-deadline.C:
				return nil
			case s, ok := <-samples:
				if !ok {
					return nil
				}
				collected = append(collected, s.Mag)
			}
		}
	}

	if onStep != nil {
		onStep(StepFigureEight)
	}
	if err := drain(cfg.FigureEightDuration); err != nil {
		return fusion.MagCalibration{}, false, err
	}

	if onStep != nil {
		onStep(StepTilt)
	}
	if err := drain(cfg.TiltDuration); err != nil {
		return fusion.MagCalibration{}, false, err
	}

	if onStep != nil {
		onStep(StepRotate)
	}
	if err := drain(cfg.RotateDuration); err != nil {
		return fusion.MagCalibration{}, false, err
	}

	if onStep != nil {
		onStep(StepCollectionComplete)
	}

	cal, ok, err := FitMagCalibration(collected, targetField, cfg)
	if err != nil {
		return fusion.MagCalibration{}, false, err
	}
	if ok && store != nil {
		if err := store.SaveMagCalibration(cal); err != nil {
			return cal, false, err
		}
	}
	return cal, ok, nil
}

// FitMagCalibration fits a hard-iron bias (axis-wise min/max centre) and a
// diagonal soft-iron scale (per-axis radius normalized to targetField).
// Cross-axis terms default to zero — a full ellipsoid fit is not attempted.
func FitMagCalibration(samples []fusion.Vec3, targetField float64, cfg MagWizardConfig) (fusion.MagCalibration, bool, error) {
	if len(samples) < 8 {
		return fusion.MagCalibration{}, false, newError(ErrInsufficientCoverage, "too few magnetometer samples collected")
	}

	minV := samples[0]
	maxV := samples[0]
	for _, s := range samples[1:] {
		minV.X, maxV.X = math.Min(minV.X, s.X), math.Max(maxV.X, s.X)
		minV.Y, maxV.Y = math.Min(minV.Y, s.Y), math.Max(maxV.Y, s.Y)
		minV.Z, maxV.Z = math.Min(minV.Z, s.Z), math.Max(maxV.Z, s.Z)
	}

	bias := fusion.Vec3{
		X: (minV.X + maxV.X) / 2,
		Y: (minV.Y + maxV.Y) / 2,
		Z: (minV.Z + maxV.Z) / 2,
	}
	radius := fusion.Vec3{
		X: (maxV.X - minV.X) / 2,
		Y: (maxV.Y - minV.Y) / 2,
		Z: (maxV.Z - minV.Z) / 2,
	}

	minSpan := math.Min(maxV.X-minV.X, math.Min(maxV.Y-minV.Y, maxV.Z-minV.Z))
	if minSpan < cfg.MinAxisSpan {
		return fusion.MagCalibration{}, false, newError(ErrInsufficientCoverage, "one or more axes did not see sufficient range of motion")
	}

	scale := func(r float64) float64 {
		if r < 1e-6 {
			return 1.0
		}
		return targetField / r
	}
	soft := fusion.Diag3(scale(radius.X), scale(radius.Y), scale(radius.Z))
	cal := fusion.MagCalibration{HardIronBias: bias, SoftIronMatrix: soft}

	// RMS radius error of the corrected samples vs. the target sphere.
	var sumSq float64
	for _, s := range samples {
		corrected := cal.Apply(s)
		d := corrected.Norm() - targetField
		sumSq += d * d
	}
	rms := math.Sqrt(sumSq / float64(len(samples)))
	ok := rms <= cfg.ToleranceFraction*targetField

	return cal, ok, nil
}
