package fusion

// MagCalibration is the persisted magnetometer hard-iron/soft-iron
// correction. The identity-equivalent default is zero bias with an identity
// soft-iron matrix.
type MagCalibration struct {
	HardIronBias   Vec3 `json:"hard_iron_bias"`
	SoftIronMatrix Mat3 `json:"soft_iron_matrix"`
}

// DefaultMagCalibration returns the identity-equivalent calibration.
func DefaultMagCalibration() MagCalibration {
	return MagCalibration{
		HardIronBias:   Vec3{},
		SoftIronMatrix: Identity3(),
	}
}

// Apply corrects a raw mag sample: m' = soft_iron * (m - hard_iron).
func (c MagCalibration) Apply(raw Vec3) Vec3 {
	m := c.SoftIronMatrix
	if m.IsZero() {
		m = Identity3()
	}
	return m.MulVec(raw.Sub(c.HardIronBias))
}

// GyroCalibration is the persisted gyroscope zero-bias correction.
type GyroCalibration struct {
	ZeroBias Vec3 `json:"zero_bias"`
}

// DefaultGyroCalibration returns the zero-bias default.
func DefaultGyroCalibration() GyroCalibration {
	return GyroCalibration{}
}

// Apply subtracts the zero-bias from a raw gyro sample.
func (c GyroCalibration) Apply(raw Vec3) Vec3 {
	return raw.Sub(c.ZeroBias)
}
