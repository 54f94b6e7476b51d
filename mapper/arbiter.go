package mapper

import "time"

// ActiveMode is the instantaneous pointing mode the mapper applies to one
// State update, as opposed to Mode which is the persisted user preference.
type ActiveMode string

const (
	ActiveTouchpad        ActiveMode = "touchpad"
	ActiveAirMouse        ActiveMode = "air_mouse"
	ActiveHighPrecision   ActiveMode = "air_mouse_high_precision"
)

const doublePressWindow = 400 * time.Millisecond

// Arbiter tracks the persistent mode toggle (double Home press within
// doublePressWindow, with no other button edge in between) and the
// High-Precision sub-state that AirMouse enters while the touchpad is held.
type Arbiter struct {
	mode Mode

	homeDown     bool
	homeReleased time.Time
	pendingFirst bool
	otherEdge    bool

	onToggle func(Mode)
}

// NewArbiter starts the arbiter at the given persisted mode.
func NewArbiter(initial Mode) *Arbiter {
	return &Arbiter{mode: initial}
}

// OnToggle registers a callback fired with the new mode whenever a
// double-Home press flips it. Used to persist the change to config.
func (a *Arbiter) OnToggle(fn func(Mode)) { a.onToggle = fn }

// Mode returns the current persisted preference.
func (a *Arbiter) Mode() Mode { return a.mode }

// ObserveHome feeds one Home button edge (pressed=true on press, false on
// release) at time t, and reports whether this edge completed a toggle.
func (a *Arbiter) ObserveHome(pressed bool, t time.Time) bool {
	if pressed {
		a.homeDown = true
		if a.pendingFirst && !a.otherEdge && t.Sub(a.homeReleased) < doublePressWindow {
			a.toggle()
			a.pendingFirst = false
			return true
		}
		a.pendingFirst = false
		return false
	}

	a.homeDown = false
	a.homeReleased = t
	a.pendingFirst = true
	a.otherEdge = false
	return false
}

// ObserveOtherEdge marks that some non-Home button changed state, which
// cancels an in-flight double-press window: no other button edge may occur
// between the two Home presses for the toggle to register.
func (a *Arbiter) ObserveOtherEdge() {
	a.otherEdge = true
}

func (a *Arbiter) toggle() {
	if a.mode == ModeAirMouse {
		a.mode = ModeTouchpad
	} else {
		a.mode = ModeAirMouse
	}
	if a.onToggle != nil {
		a.onToggle(a.mode)
	}
}

// Resolve derives the instantaneous ActiveMode for one State update: the
// persisted mode, promoted to High-Precision when AirMouse is active and
// the touchpad is currently touched.
func (a *Arbiter) Resolve(touchpadTouched bool) ActiveMode {
	if a.mode == ModeTouchpad {
		return ActiveTouchpad
	}
	if touchpadTouched {
		return ActiveHighPrecision
	}
	return ActiveAirMouse
}
