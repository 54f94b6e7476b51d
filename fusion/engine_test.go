package fusion

import (
	"testing"
	"time"
)

func TestUnitQuaternionInvariant(t *testing.T) {
	e := NewEngine(DefaultParams(), DefaultMagCalibration(), DefaultGyroCalibration())
	base := time.Now()
	for i := 0; i < 500; i++ {
		s := Sample{
			Accel:    Vec3{X: 0.01, Y: 0.02, Z: 1.0},
			Gyro:     Vec3{X: 0.001, Y: 0.002, Z: -0.001},
			Mag:      Vec3{X: 45, Y: 1, Z: 0},
			MagValid: i%3 == 0,
			At:       base.Add(time.Duration(i) * (time.Second / 180)),
		}
		st := e.Update(s)
		n := st.Filtered.Norm()
		if n < 1-1e-6 || n > 1+1e-6 {
			t.Fatalf("step %d: filtered quaternion norm = %v, want ~1", i, n)
		}
		if qn := st.Q.Norm(); qn < 1-1e-6 || qn > 1+1e-6 {
			t.Fatalf("step %d: raw quaternion norm = %v, want ~1", i, qn)
		}
	}
}

func TestConvergesToFixedQuaternion(t *testing.T) {
	e := NewEngine(DefaultParams(), DefaultMagCalibration(), DefaultGyroCalibration())
	base := time.Now()
	const hz = 180
	const seconds = 2
	var last State
	for i := 0; i < hz*seconds; i++ {
		s := Sample{
			Accel:    Vec3{Z: 1.0},
			Gyro:     Vec3{},
			Mag:      Vec3{X: 45, Y: 0, Z: 0},
			MagValid: true,
			At:       base.Add(time.Duration(i) * (time.Second / hz)),
		}
		last = e.Update(s)
	}

	// Run a bit further and confirm the estimate has stopped moving
	// appreciably — i.e. it converged to a fixed quaternion.
	prev := last.Filtered
	var maxDelta float64
	for i := 0; i < hz; i++ {
		s := Sample{
			Accel:    Vec3{Z: 1.0},
			Gyro:     Vec3{},
			Mag:      Vec3{X: 45, Y: 0, Z: 0},
			MagValid: true,
			At:       base.Add(time.Duration(hz*seconds+i) * (time.Second / hz)),
		}
		st := e.Update(s)
		d := st.Filtered.Distance(prev)
		if d > maxDelta {
			maxDelta = d
		}
		prev = st.Filtered
	}

	if maxDelta > 0.01 {
		t.Fatalf("orientation did not converge: max per-step L2 delta = %v", maxDelta)
	}
}

func TestLowPassIdentityAtAlphaOne(t *testing.T) {
	p := DefaultParams()
	p.SensorLowPassAlpha = 1.0
	e := NewEngine(p, DefaultMagCalibration(), DefaultGyroCalibration())

	a := Vec3{X: 0.3, Y: -0.2, Z: 0.9}
	e.lastAccelF = Vec3{X: 99, Y: 99, Z: 99} // poison the previous value
	e.haveLast = true

	got := a
	if e.params.SensorLowPassAlpha < 1.0 {
		got = a.Lerp(e.lastAccelF, e.params.SensorLowPassAlpha)
	}
	if got != a {
		t.Fatalf("alpha=1.0 low-pass should be identity, got %v want %v", got, a)
	}
}

func TestDeltaTDefaultsOnFirstSample(t *testing.T) {
	e := NewEngine(DefaultParams(), DefaultMagCalibration(), DefaultGyroCalibration())
	st := e.Update(Sample{Accel: Vec3{Z: 1}, At: time.Now()})
	want := 1.0 / 180.0
	if st.DeltaT != want {
		t.Fatalf("first sample DeltaT = %v, want %v", st.DeltaT, want)
	}
}

func TestSlerpShortestArc(t *testing.T) {
	a := Quat{W: 1}
	b := Quat{W: -1} // equivalent rotation, opposite hemisphere
	got := Slerp(a, b, 0.5)
	if got.Distance(a) > 0.3 {
		t.Fatalf("slerp should take the shortest arc, got %v far from %v", got, a)
	}
}
