package mapper

// Mode is the persistent pointing mode a user has selected.
type Mode string

const (
	ModeAirMouse Mode = "air_mouse"
	ModeTouchpad Mode = "touchpad"
)

// MouseConfig holds the motion-law parameters plus the persistent mode.
type MouseConfig struct {
	Mode                        Mode    `json:"mode"`
	TouchpadSensitivity         float64 `json:"touchpad_sensitivity"`
	TouchpadAcceleration        float64 `json:"touchpad_acceleration"`
	TouchpadAccelerationThresh  float64 `json:"touchpad_acceleration_threshold"`
	AirMouseFOVDegrees          float64 `json:"air_mouse_fov_degrees"`
	AirMouseActivationThreshold float64 `json:"air_mouse_activation_threshold_degrees"`
}

// DefaultMouseConfig returns sensible out-of-box values.
func DefaultMouseConfig() MouseConfig {
	return MouseConfig{
		Mode:                        ModeAirMouse,
		TouchpadSensitivity:         1.0,
		TouchpadAcceleration:        1.5,
		TouchpadAccelerationThresh:  0.02,
		AirMouseFOVDegrees:          90.0,
		AirMouseActivationThreshold: 0.15,
	}
}

// KeymapConfig maps each controller input to an optional key/button token. A
// nil entry suppresses the event entirely.
type KeymapConfig struct {
	Trigger       *string `json:"trigger"`
	Home          *string `json:"home"`
	Back          *string `json:"back"`
	VolumeUp      *string `json:"volume_up"`
	VolumeDown    *string `json:"volume_down"`
	TouchpadClick *string `json:"touchpad_click"`
}

func ptr(s string) *string { return &s }

// DefaultKeymapConfig: trigger -> left click, touchpad -> right click,
// Home/Back/volume unmapped by default.
func DefaultKeymapConfig() KeymapConfig {
	return KeymapConfig{
		Trigger:       ptr("Left"),
		TouchpadClick: ptr("Right"),
	}
}
