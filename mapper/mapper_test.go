package mapper

import (
	"testing"
	"time"

	"gearbridge/controller"
)

type fakeSink struct {
	pressed  []string
	released []string
	keys     []string
	keysRel  []string
	moves    int
}

func (f *fakeSink) MoveRelative(dx, dy int32) error { f.moves++; return nil }
func (f *fakeSink) ButtonPress(b string) error      { f.pressed = append(f.pressed, b); return nil }
func (f *fakeSink) ButtonRelease(b string) error    { f.released = append(f.released, b); return nil }
func (f *fakeSink) KeyPress(t string) error         { f.keys = append(f.keys, t); return nil }
func (f *fakeSink) KeyRelease(t string) error       { f.keysRel = append(f.keysRel, t); return nil }

func baseState(at time.Time, b controller.Buttons) controller.State {
	return controller.State{Timestamp: at, Buttons: b}
}

func TestTriggerEdgeEmitsOneButtonPress(t *testing.T) {
	sink := &fakeSink{}
	m := New(sink, Screen{1920, 1080}, DefaultMouseConfig(), DefaultKeymapConfig())

	t0 := time.Unix(0, 0)
	if err := m.Apply(baseState(t0, controller.Buttons{})); err != nil {
		t.Fatal(err)
	}
	if err := m.Apply(baseState(t0.Add(time.Millisecond), controller.Buttons{Trigger: true})); err != nil {
		t.Fatal(err)
	}
	if len(sink.pressed) != 1 || sink.pressed[0] != "Left" {
		t.Fatalf("pressed = %v, want one Left press", sink.pressed)
	}
}

func TestTouchpadClickPressThenRelease(t *testing.T) {
	sink := &fakeSink{}
	m := New(sink, Screen{1920, 1080}, DefaultMouseConfig(), DefaultKeymapConfig())

	t0 := time.Unix(0, 0)
	states := []controller.Buttons{
		{},
		{TouchpadClick: true},
		{},
	}
	for i, b := range states {
		if err := m.Apply(baseState(t0.Add(time.Duration(i)*10*time.Millisecond), b)); err != nil {
			t.Fatal(err)
		}
	}
	if len(sink.pressed) != 1 || sink.pressed[0] != "Right" {
		t.Fatalf("pressed = %v, want one Right press", sink.pressed)
	}
	if len(sink.released) != 1 || sink.released[0] != "Right" {
		t.Fatalf("released = %v, want one Right release", sink.released)
	}
}

func TestDoubleHomeTogglesModeExactlyOnce(t *testing.T) {
	sink := &fakeSink{}
	cfg := DefaultMouseConfig()
	cfg.Mode = ModeAirMouse
	m := New(sink, Screen{1920, 1080}, cfg, DefaultKeymapConfig())

	var toggles int
	m.Arbiter().OnToggle(func(Mode) { toggles++ })

	t0 := time.Unix(0, 0)
	masks := []controller.Buttons{
		{},
		{Home: true},
		{},
		{Home: true},
		{},
	}
	for i, b := range masks {
		at := t0.Add(time.Duration(i) * 150 * time.Millisecond)
		if err := m.Apply(baseState(at, b)); err != nil {
			t.Fatal(err)
		}
	}
	if toggles != 1 {
		t.Fatalf("toggles = %d, want exactly 1", toggles)
	}
	if m.Arbiter().Mode() != ModeTouchpad {
		t.Fatalf("mode = %v, want touchpad after one toggle", m.Arbiter().Mode())
	}
}

func TestDoubleHomeOutsideWindowDoesNotToggle(t *testing.T) {
	sink := &fakeSink{}
	cfg := DefaultMouseConfig()
	m := New(sink, Screen{1920, 1080}, cfg, DefaultKeymapConfig())

	var toggles int
	m.Arbiter().OnToggle(func(Mode) { toggles++ })

	t0 := time.Unix(0, 0)
	masks := []controller.Buttons{
		{},
		{Home: true},
		{},
		{Home: true},
		{},
	}
	// 500ms spacing between release and second press exceeds the 400ms window.
	for i, b := range masks {
		at := t0.Add(time.Duration(i) * 500 * time.Millisecond)
		if err := m.Apply(baseState(at, b)); err != nil {
			t.Fatal(err)
		}
	}
	if toggles != 0 {
		t.Fatalf("toggles = %d, want 0 outside the double-press window", toggles)
	}
}

func TestHighPrecisionEntersOnTouchAndExitsOnRelease(t *testing.T) {
	sink := &fakeSink{}
	cfg := DefaultMouseConfig()
	cfg.Mode = ModeAirMouse
	m := New(sink, Screen{1920, 1080}, cfg, DefaultKeymapConfig())

	t0 := time.Unix(0, 0)
	if err := m.Apply(baseState(t0, controller.Buttons{})); err != nil {
		t.Fatal(err)
	}
	if m.Arbiter().Resolve(false) != ActiveAirMouse {
		t.Fatalf("expected AirMouse while untouched")
	}
	if m.Arbiter().Resolve(true) != ActiveHighPrecision {
		t.Fatalf("expected High-Precision while touched")
	}
}
