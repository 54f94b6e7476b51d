package fusion

import "math"

// Quat is a Hamilton quaternion (w, x, y, z), used exclusively for
// orientation end-to-end: no Euler conversions anywhere on the hot path, to
// avoid gimbal artifacts.
type Quat struct {
	W, X, Y, Z float64
}

// IdentityQuat is the no-rotation quaternion.
func IdentityQuat() Quat { return Quat{W: 1} }

func (q Quat) Norm() float64 {
	return math.Sqrt(q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z)
}

// Normalized returns q scaled to unit length. If q is degenerate (near-zero
// norm), the identity quaternion is returned so callers never propagate NaN.
func (q Quat) Normalized() Quat {
	n := q.Norm()
	if n < 1e-12 {
		return IdentityQuat()
	}
	inv := 1.0 / n
	return Quat{q.W * inv, q.X * inv, q.Y * inv, q.Z * inv}
}

// Conjugate returns the inverse rotation for a unit quaternion.
func (q Quat) Conjugate() Quat {
	return Quat{q.W, -q.X, -q.Y, -q.Z}
}

// Mul computes the Hamilton product q*o (apply o then q).
func (q Quat) Mul(o Quat) Quat {
	return Quat{
		W: q.W*o.W - q.X*o.X - q.Y*o.Y - q.Z*o.Z,
		X: q.W*o.X + q.X*o.W + q.Y*o.Z - q.Z*o.Y,
		Y: q.W*o.Y - q.X*o.Z + q.Y*o.W + q.Z*o.X,
		Z: q.W*o.Z + q.X*o.Y - q.Y*o.X + q.Z*o.W,
	}
}

func (q Quat) Add(o Quat) Quat {
	return Quat{q.W + o.W, q.X + o.X, q.Y + o.Y, q.Z + o.Z}
}

func (q Quat) Scale(s float64) Quat {
	return Quat{q.W * s, q.X * s, q.Y * s, q.Z * s}
}

func (q Quat) Dot(o Quat) float64 {
	return q.W*o.W + q.X*o.X + q.Y*o.Y + q.Z*o.Z
}

// RotateVec rotates v by q (q assumed unit-norm): q * (0,v) * conj(q).
func (q Quat) RotateVec(v Vec3) Vec3 {
	p := Quat{0, v.X, v.Y, v.Z}
	r := q.Mul(p).Mul(q.Conjugate())
	return Vec3{r.X, r.Y, r.Z}
}

// YawPitch extracts yaw (about world Z) and pitch (about world X) in
// radians, via the rotated forward axis — used only by the AirMouse mapper,
// never by the fusion engine itself, to keep quaternion arithmetic
// unconditional end-to-end.
func (q Quat) YawPitch() (yaw, pitch float64) {
	qn := q.Normalized()
	// Forward = local +Y rotated into world frame.
	fx := 2 * (qn.X*qn.Y - qn.W*qn.Z)
	fy := 1 - 2*(qn.X*qn.X+qn.Z*qn.Z)
	fz := 2 * (qn.Y*qn.Z + qn.W*qn.X)
	yaw = math.Atan2(fx, fy)
	horiz := math.Sqrt(fx*fx + fy*fy)
	pitch = math.Atan2(fz, horiz)
	return yaw, pitch
}

// Slerp performs shortest-arc spherical linear interpolation between a and
// b with factor t in [0,1]. t=1 returns b unchanged (pass-through).
func Slerp(a, b Quat, t float64) Quat {
	a = a.Normalized()
	b = b.Normalized()

	dot := a.Dot(b)
	if dot < 0 {
		b = b.Scale(-1)
		dot = -dot
	}

	const closeThreshold = 0.9995
	if dot > closeThreshold {
		// Nearly parallel: linear interpolation avoids a divide-by-~0 in
		// the sin(theta) denominator below.
		return a.Add(b.Sub(a).Scale(t)).Normalized()
	}

	theta0 := math.Acos(dot)
	theta := theta0 * t
	sinTheta0 := math.Sin(theta0)
	sinTheta := math.Sin(theta)

	s0 := math.Cos(theta) - dot*sinTheta/sinTheta0
	s1 := sinTheta / sinTheta0

	return a.Scale(s0).Add(b.Scale(s1)).Normalized()
}

func (a Quat) Sub(b Quat) Quat {
	return Quat{a.W - b.W, a.X - b.X, a.Y - b.Y, a.Z - b.Z}
}

// Distance is the L2 distance between two unit quaternions, used by
// convergence tests.
func (a Quat) Distance(b Quat) float64 {
	return a.Sub(b).Norm()
}
