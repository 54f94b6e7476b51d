// Package mapper turns fused controller.State updates into pointer and
// keyboard events on an input.Sink, arbitrating between AirMouse and
// Touchpad pointing modes. Each update diffs against the previous state and
// emits edge-triggered press/release/move calls rather than re-deriving
// absolute output every frame.
package mapper

import (
	"math"

	"gearbridge/controller"
	"gearbridge/input"
)

// Screen describes the output surface AirMouse degrees are projected onto.
type Screen struct {
	WidthPx, HeightPx int
}

// Mapper holds the motion/button mapping state for one controller session.
type Mapper struct {
	sink    input.Sink
	screen  Screen
	mouse   MouseConfig
	keymap  KeymapConfig
	arbiter *Arbiter

	havePrev   bool
	prevYaw    float64
	prevPitch  float64
	prevTPX    float64
	prevTPY    float64
	prevTouch  bool
	hpBaseYaw  float64
	hpBasePtch float64

	prevButtons controller.Buttons
}

// New builds a Mapper. sink receives the pointer/key output; screen sizes
// the AirMouse degrees-to-pixels projection.
func New(sink input.Sink, screen Screen, mouse MouseConfig, keymap KeymapConfig) *Mapper {
	return &Mapper{
		sink:    sink,
		screen:  screen,
		mouse:   mouse,
		keymap:  keymap,
		arbiter: NewArbiter(mouse.Mode),
	}
}

// Arbiter exposes the mode state machine so callers can register a
// persistence callback via Arbiter().OnToggle.
func (m *Mapper) Arbiter() *Arbiter { return m.arbiter }

// SetConfig replaces the mouse/keymap configuration in place, e.g. after a
// set_mouse_config or set_keymap_config RPC.
func (m *Mapper) SetConfig(mouse MouseConfig, keymap KeymapConfig) {
	m.mouse = mouse
	m.keymap = keymap
}

// Apply consumes one State update, driving the arbiter and emitting
// pointer/key events on the sink. Errors from the sink are collected and
// the first one is returned; Apply keeps processing the remaining events
// so one bad sink call doesn't suppress an unrelated button release.
func (m *Mapper) Apply(s controller.State) error {
	var firstErr error
	note := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	yaw, pitch := s.Q.YawPitch()

	if m.havePrev && s.Buttons.Home != m.prevButtons.Home {
		m.arbiter.ObserveHome(s.Buttons.Home, s.Timestamp)
	}
	if !m.havePrev || s.Buttons != m.prevButtons {
		m.diffButtons(s.Buttons, note)
	}

	active := m.arbiter.Resolve(s.Touchpad.Touched)

	if !m.havePrev {
		m.prevYaw, m.prevPitch = yaw, pitch
		m.prevTPX, m.prevTPY = s.Touchpad.X, s.Touchpad.Y
		m.prevTouch = s.Touchpad.Touched
		m.havePrev = true
		return firstErr
	}

	switch active {
	case ActiveAirMouse:
		note(m.applyAirMouse(yaw, pitch))
	case ActiveTouchpad:
		note(m.applyTouchpad(s.Touchpad))
	case ActiveHighPrecision:
		if !m.prevTouch {
			m.hpBaseYaw, m.hpBasePtch = yaw, pitch
		}
		note(m.applyTouchpad(s.Touchpad))
	}

	if !s.Touchpad.Touched && m.prevTouch {
		// Touch-up: resync AirMouse baseline so the next AirMouse frame
		// doesn't see a jump from wherever the head moved while touching.
		m.prevYaw, m.prevPitch = yaw, pitch
	}

	m.prevTPX, m.prevTPY = s.Touchpad.X, s.Touchpad.Y
	m.prevTouch = s.Touchpad.Touched
	return firstErr
}

func (m *Mapper) applyAirMouse(yaw, pitch float64) error {
	dYaw := angleDelta(m.prevYaw, yaw)
	dPitch := pitch - m.prevPitch
	m.prevYaw, m.prevPitch = yaw, pitch

	thresh := m.mouse.AirMouseActivationThreshold * math.Pi / 180
	if math.Abs(dYaw) < thresh && math.Abs(dPitch) < thresh {
		return nil
	}

	fovRad := m.mouse.AirMouseFOVDegrees * math.Pi / 180
	aspect := float64(m.screen.WidthPx) / float64(maxInt(m.screen.HeightPx, 1))

	dx := float64(m.screen.WidthPx) * (dYaw / fovRad)
	dy := float64(m.screen.HeightPx) * (dPitch / (fovRad * aspect))

	if dx == 0 && dy == 0 {
		return nil
	}
	return m.sink.MoveRelative(round(dx), round(dy))
}

func (m *Mapper) applyTouchpad(tp controller.Touchpad) error {
	if !tp.Touched || !m.prevTouch {
		return nil
	}
	dxN := tp.X - m.prevTPX
	dyN := tp.Y - m.prevTPY
	mag := math.Hypot(dxN, dyN)

	factor := 1.0
	if over := mag - m.mouse.TouchpadAccelerationThresh; over > 0 {
		factor = 1 + m.mouse.TouchpadAcceleration*over
	}

	dx := m.mouse.TouchpadSensitivity * factor * dxN * float64(m.screen.WidthPx)
	dy := m.mouse.TouchpadSensitivity * factor * dyN * float64(m.screen.HeightPx)
	if dx == 0 && dy == 0 {
		return nil
	}
	return m.sink.MoveRelative(round(dx), round(dy))
}

// diffButtons emits press/release events for every button whose state
// changed since the previous State, in keymap order, and feeds the arbiter
// so a non-Home edge cancels an in-flight double-press window.
func (m *Mapper) diffButtons(b controller.Buttons, note func(error)) {
	prev := m.prevButtons
	edge := func(tok *string, was, is bool) {
		if was == is || tok == nil {
			return
		}
		if is {
			note(m.pressToken(*tok))
		} else {
			note(m.releaseToken(*tok))
		}
	}

	if b.Trigger != prev.Trigger {
		edge(m.keymap.Trigger, prev.Trigger, b.Trigger)
	}
	if b.Home != prev.Home {
		// Home still fires its keymap action independently of the
		// arbiter's double-press toggle detection running off the same
		// edges.
		edge(m.keymap.Home, prev.Home, b.Home)
	}
	if b.Back != prev.Back {
		edge(m.keymap.Back, prev.Back, b.Back)
		m.arbiter.ObserveOtherEdge()
	}
	if b.VolumeUp != prev.VolumeUp {
		edge(m.keymap.VolumeUp, prev.VolumeUp, b.VolumeUp)
		m.arbiter.ObserveOtherEdge()
	}
	if b.VolumeDown != prev.VolumeDown {
		edge(m.keymap.VolumeDown, prev.VolumeDown, b.VolumeDown)
		m.arbiter.ObserveOtherEdge()
	}
	if b.TouchpadClick != prev.TouchpadClick {
		edge(m.keymap.TouchpadClick, prev.TouchpadClick, b.TouchpadClick)
		m.arbiter.ObserveOtherEdge()
	}
	if b.Trigger != prev.Trigger {
		m.arbiter.ObserveOtherEdge()
	}
	m.prevButtons = b
}

func (m *Mapper) pressToken(tok string) error {
	t, err := input.ParseToken(tok)
	if err != nil {
		return err
	}
	if t.IsMouseButton {
		return m.sink.ButtonPress(t.Key)
	}
	return m.sink.KeyPress(tok)
}

func (m *Mapper) releaseToken(tok string) error {
	t, err := input.ParseToken(tok)
	if err != nil {
		return err
	}
	if t.IsMouseButton {
		return m.sink.ButtonRelease(t.Key)
	}
	return m.sink.KeyRelease(tok)
}

// angleDelta returns the shortest signed angular difference b-a, wrapped to
// (-pi, pi], so a yaw crossing the +/-pi seam doesn't produce a full-turn
// jump in pointer motion.
func angleDelta(a, b float64) float64 {
	d := b - a
	for d > math.Pi {
		d -= 2 * math.Pi
	}
	for d < -math.Pi {
		d += 2 * math.Pi
	}
	return d
}

func round(f float64) int32 {
	if f >= 0 {
		return int32(f + 0.5)
	}
	return int32(f - 0.5)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
