package fusion

import (
	"math"
	"sync"
	"time"
)

// Sample is one preprocessed IMU/mag sub-sample fed to the engine. Accel is
// in g, Gyro is in rad/s, Mag is in µT (device-frame, pre-calibration).
// MagValid is false when the packet carries no fresh magnetometer reading
// for this sub-sample (the decoder emits three IMU sub-samples per one mag
// sample).
type Sample struct {
	Accel    Vec3
	Gyro     Vec3
	Mag      Vec3
	MagValid bool
	At       time.Time
}

// State is the fused orientation output of one Update call.
type State struct {
	Q         Quat    // latest unsmoothed Madgwick estimate
	Filtered  Quat    // slerp-smoothed output — this is what callers should use
	DeltaT    float64 // seconds, smoothed
	Converged bool
}

// Engine runs the calibration + low-pass + Madgwick + slerp pipeline. It is
// not re-entrant: exactly one instance per session, samples enter through
// Update, there is no internal goroutine or channel — the owning task
// (session's fusion goroutine) provides the concurrency.
type Engine struct {
	mu sync.Mutex

	params Params
	mag    MagCalibration
	gyro   GyroCalibration

	haveLast   bool
	lastAt     time.Time
	lastAccelF Vec3
	lastMagF   Vec3
	smoothedDt float64

	q         Quat
	filtered  Quat
	firstStep bool
}

// NewEngine constructs a fusion engine with the given parameters and
// calibrations. A fresh Engine is instantiated whenever the session creates
// a new Session.
func NewEngine(params Params, mag MagCalibration, gyro GyroCalibration) *Engine {
	return &Engine{
		params:     params.Clamp(),
		mag:        mag,
		gyro:       gyro,
		q:          IdentityQuat(),
		filtered:   IdentityQuat(),
		smoothedDt: 1.0 / 180.0,
		firstStep:  true,
	}
}

// SetCalibration atomically replaces the live calibration references, as
// required after a calibration wizard completes.
func (e *Engine) SetCalibration(mag MagCalibration, gyro GyroCalibration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mag = mag
	e.gyro = gyro
}

// SetParams atomically replaces the fusion parameters.
func (e *Engine) SetParams(p Params) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.params = p.Clamp()
}

// Update runs one IMU+mag sub-sample through the pipeline and returns the
// new fused state. Must be called in arrival order — the engine has no
// internal reordering.
func (e *Engine) Update(s Sample) State {
	e.mu.Lock()
	defer e.mu.Unlock()

	dt := e.stepDeltaT(s.At)

	gyroCal := e.gyro.Apply(s.Gyro)

	accelF := s.Accel
	if e.params.SensorLowPassAlpha < 1.0 {
		if e.haveLast {
			accelF = s.Accel.Lerp(e.lastAccelF, e.params.SensorLowPassAlpha)
		}
	}
	e.lastAccelF = accelF

	magCalRaw := e.mag.Apply(s.Mag)
	magF := magCalRaw
	useMag := s.MagValid
	if useMag && e.params.SensorLowPassAlpha < 1.0 && e.haveLast {
		magF = magCalRaw.Lerp(e.lastMagF, e.params.SensorLowPassAlpha)
	}
	if useMag {
		e.lastMagF = magF
	}

	// Acceptance band: reject mag samples whose magnitude falls outside
	// [0.7F, 1.3F] — degrade to IMU-only Madgwick for this step.
	if useMag {
		mNorm := magF.Norm()
		f := e.params.LocalEarthMagField
		if mNorm < 0.7*f || mNorm > 1.3*f {
			useMag = false
		}
	}

	e.haveLast = true

	e.q = madgwickUpdate(e.q, gyroCal, accelF, magF, useMag, e.params.MadgwickBeta, dt).Normalized()

	factor := e.params.OrientationSmoothingFactor
	e.filtered = Slerp(e.filtered, e.q, factor)

	return State{
		Q:        e.q,
		Filtered: e.filtered,
		DeltaT:   dt,
	}
}

// stepDeltaT computes Δt from the monotonic timestamp delta and applies EMA
// smoothing. On the very first sample it defaults to 1/180s (the device's
// 180Hz sub-sample rate).
func (e *Engine) stepDeltaT(at time.Time) float64 {
	if e.firstStep {
		e.firstStep = false
		e.lastAt = at
		return e.smoothedDt
	}
	raw := at.Sub(e.lastAt).Seconds()
	e.lastAt = at
	if raw <= 0 {
		return e.smoothedDt
	}
	alpha := e.params.DeltaTSmoothingAlpha
	e.smoothedDt = alpha*raw + (1-alpha)*e.smoothedDt
	return e.smoothedDt
}

// madgwickUpdate applies one step of Madgwick's gradient-descent AHRS
// filter. With useMag=false this degrades to the IMU-only (gyro+accel)
// variant; with useMag=true it's the full MARG update.
func madgwickUpdate(q Quat, gyro, accel, mag Vec3, useMag bool, beta, dt float64) Quat {
	qDot := Quat{
		W: 0.5 * (-q.X*gyro.X - q.Y*gyro.Y - q.Z*gyro.Z),
		X: 0.5 * (q.W*gyro.X + q.Y*gyro.Z - q.Z*gyro.Y),
		Y: 0.5 * (q.W*gyro.Y - q.X*gyro.Z + q.Z*gyro.X),
		Z: 0.5 * (q.W*gyro.Z + q.X*gyro.Y - q.Y*gyro.X),
	}

	an := accel.Norm()
	if an > 1e-9 {
		a := accel.Scale(1.0 / an)

		var grad Quat
		if useMag && mag.Norm() > 1e-9 {
			mN := mag.Normalized()

			// Reference direction of Earth's magnetic field, rotated into
			// the current estimated frame (Madgwick MARG formulation).
			h := q.RotateVec(mN)
			bx := math.Hypot(h.X, h.Y)
			bz := h.Z

			grad = gradientMARG(q, a, mN, bx, bz)
		} else {
			grad = gradientIMU(q, a)
		}

		gn := grad.Norm()
		if gn > 1e-12 {
			corr := grad.Scale(beta / gn)
			qDot = qDot.Sub(corr)
		}
	}

	return q.Add(qDot.Scale(dt))
}

// gradientIMU is the objective-function gradient for gravity alignment only.
func gradientIMU(q Quat, a Vec3) Quat {
	qw, qx, qy, qz := q.W, q.X, q.Y, q.Z

	f1 := 2*(qx*qz-qw*qy) - a.X
	f2 := 2*(qw*qx+qy*qz) - a.Y
	f3 := 2*(0.5-qx*qx-qy*qy) - a.Z

	j11 := -2 * qy
	j12 := 2 * qz
	j13 := -2 * qw
	j14 := 2 * qx

	j21 := 2 * qx
	j22 := 2 * qw
	j23 := 2 * qz
	j24 := 2 * qy

	j32 := -4 * qx
	j33 := -4 * qy

	return Quat{
		W: j11*f1 + j21*f2,
		X: j12*f1 + j22*f2 + j32*f3,
		Y: j13*f1 + j23*f2 + j33*f3,
		Z: j14*f1 + j24*f2,
	}
}

// gradientMARG is the objective-function gradient including the
// magnetometer reference direction (bx, bz).
func gradientMARG(q Quat, a, m Vec3, bx, bz float64) Quat {
	qw, qx, qy, qz := q.W, q.X, q.Y, q.Z

	f1 := 2*(qx*qz-qw*qy) - a.X
	f2 := 2*(qw*qx+qy*qz) - a.Y
	f3 := 2*(0.5-qx*qx-qy*qy) - a.Z
	f4 := 2*bx*(0.5-qy*qy-qz*qz) + 2*bz*(qx*qz-qw*qy) - m.X
	f5 := 2*bx*(qx*qy-qw*qz) + 2*bz*(qw*qx+qy*qz) - m.Y
	f6 := 2*bx*(qw*qy+qx*qz) + 2*bz*(0.5-qx*qx-qy*qy) - m.Z

	j11, j12, j13, j14 := -2*qy, 2*qz, -2*qw, 2*qx
	j21, j22, j23, j24 := 2*qx, 2*qw, 2*qz, 2*qy
	j32, j33 := -4 * qx, -4 * qy

	j41 := -2 * bz * qy
	j42 := 2 * bz * qz
	j43 := -4*bx*qy - 2*bz*qw
	j44 := -4*bx*qz + 2*bz*qx

	j51 := -2*bx*qz + 2*bz*qx
	j52 := 2*bx*qy + 2*bz*qw
	j53 := 2*bx*qx + 2*bz*qz
	j54 := -2*bx*qw + 2*bz*qy

	j61 := 2 * bx * qy
	j62 := 2*bx*qz - 4*bz*qx
	j63 := 2*bx*qw - 4*bz*qy
	j64 := 2 * bx * qx

	return Quat{
		W: j11*f1 + j21*f2 + j41*f4 + j51*f5 + j61*f6,
		X: j12*f1 + j22*f2 + j32*f3 + j42*f4 + j52*f5 + j62*f6,
		Y: j13*f1 + j23*f2 + j33*f3 + j43*f4 + j53*f5 + j63*f6,
		Z: j14*f1 + j24*f2 + j44*f4 + j54*f5 + j64*f6,
	}
}
