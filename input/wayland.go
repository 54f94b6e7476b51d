package input

import (
	"context"
	"fmt"
	"time"

	"github.com/bnema/wayland-virtual-input-go/virtual_keyboard"
	"github.com/bnema/wayland-virtual-input-go/virtual_pointer"
	"github.com/sirupsen/logrus"
)

// WaylandSink implements Sink against a wlroots-based compositor's
// virtual-pointer and virtual-keyboard protocols. It is Linux-only and
// requires a running Wayland session; it is the one concrete adapter this
// repo ships for the InputSink port.
type WaylandSink struct {
	log *logrus.Entry

	pointerMgr *virtual_pointer.VirtualPointerManager
	keyboardMgr *virtual_keyboard.VirtualKeyboardManager
	pointer    *virtual_pointer.VirtualPointer
	keyboard   *virtual_keyboard.VirtualKeyboard

	pressedMods map[Modifier]bool
}

// NewWaylandSink connects to the compositor and creates one virtual pointer
// and one virtual keyboard for the lifetime of the process.
func NewWaylandSink(ctx context.Context, log *logrus.Entry) (*WaylandSink, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("component", "input")

	pointerMgr, err := virtual_pointer.NewVirtualPointerManager(ctx)
	if err != nil {
		return nil, fmt.Errorf("input: virtual pointer manager: %w", err)
	}
	pointer, err := pointerMgr.CreatePointer()
	if err != nil {
		_ = pointerMgr.Close()
		return nil, fmt.Errorf("input: create virtual pointer: %w", err)
	}

	keyboardMgr, err := virtual_keyboard.NewVirtualKeyboardManager(ctx)
	if err != nil {
		log.WithError(err).Warn("virtual keyboard unavailable, key events will be dropped")
		return &WaylandSink{
			log:         log,
			pointerMgr:  pointerMgr,
			pointer:     pointer,
			pressedMods: make(map[Modifier]bool),
		}, nil
	}
	keyboard, err := keyboardMgr.CreateKeyboard()
	if err != nil {
		_ = keyboardMgr.Close()
		log.WithError(err).Warn("virtual keyboard unavailable, key events will be dropped")
		return &WaylandSink{
			log:         log,
			pointerMgr:  pointerMgr,
			pointer:     pointer,
			pressedMods: make(map[Modifier]bool),
		}, nil
	}

	return &WaylandSink{
		log:         log,
		pointerMgr:  pointerMgr,
		keyboardMgr: keyboardMgr,
		pointer:     pointer,
		keyboard:    keyboard,
		pressedMods: make(map[Modifier]bool),
	}, nil
}

// Close releases the compositor-side virtual devices.
func (w *WaylandSink) Close() error {
	if w.pointer != nil {
		_ = w.pointer.Close()
	}
	if w.pointerMgr != nil {
		_ = w.pointerMgr.Close()
	}
	if w.keyboard != nil {
		_ = w.keyboard.Close()
	}
	if w.keyboardMgr != nil {
		_ = w.keyboardMgr.Close()
	}
	return nil
}

func (w *WaylandSink) MoveRelative(dx, dy int32) error {
	if w.pointer == nil {
		return ErrUnavailable
	}
	if err := w.pointer.Motion(time.Now(), float64(dx), float64(dy)); err != nil {
		return fmt.Errorf("input: pointer motion: %w", err)
	}
	return w.pointer.Frame()
}

func mouseButtonCode(name string) (uint32, bool) {
	switch name {
	case "Left":
		return virtual_pointer.BTN_LEFT, true
	case "Right":
		return virtual_pointer.BTN_RIGHT, true
	case "Middle":
		return virtual_pointer.BTN_MIDDLE, true
	}
	return 0, false
}

func (w *WaylandSink) setButton(name string, state virtual_pointer.ButtonState) error {
	if w.pointer == nil {
		return ErrUnavailable
	}
	code, ok := mouseButtonCode(name)
	if !ok {
		return fmt.Errorf("input: unrecognized mouse button %q", name)
	}
	if err := w.pointer.Button(time.Now(), code, state); err != nil {
		return fmt.Errorf("input: pointer button: %w", err)
	}
	return w.pointer.Frame()
}

func (w *WaylandSink) ButtonPress(button string) error {
	return w.setButton(button, virtual_pointer.ButtonStatePressed)
}

func (w *WaylandSink) ButtonRelease(button string) error {
	return w.setButton(button, virtual_pointer.ButtonStateReleased)
}

func (w *WaylandSink) setKey(tok Token, state virtual_keyboard.KeyState) error {
	if w.keyboard == nil {
		return ErrUnavailable
	}
	if tok.IsMouseButton {
		return fmt.Errorf("input: mouse token %q passed to key path", tok.Key)
	}
	code, ok := keyCode(tok.Key)
	if !ok {
		return fmt.Errorf("input: unrecognized key %q", tok.Key)
	}

	pressed := state == virtual_keyboard.KeyStatePressed
	if pressed {
		for _, m := range tok.Modifiers {
			if w.pressedMods[m] {
				continue
			}
			if err := w.keyboard.Key(time.Now(), modifierKeyCode(m), virtual_keyboard.KeyStatePressed); err != nil {
				return fmt.Errorf("input: press modifier %s: %w", m, err)
			}
			w.pressedMods[m] = true
		}
	}

	if err := w.keyboard.Key(time.Now(), code, state); err != nil {
		return fmt.Errorf("input: key event: %w", err)
	}

	if !pressed {
		// Release in reverse order of the modifier list.
		for i := len(tok.Modifiers) - 1; i >= 0; i-- {
			m := tok.Modifiers[i]
			if !w.pressedMods[m] {
				continue
			}
			if err := w.keyboard.Key(time.Now(), modifierKeyCode(m), virtual_keyboard.KeyStateReleased); err != nil {
				return fmt.Errorf("input: release modifier %s: %w", m, err)
			}
			w.pressedMods[m] = false
		}
	}
	return nil
}

func (w *WaylandSink) KeyPress(token string) error {
	tok, err := ParseToken(token)
	if err != nil {
		return err
	}
	return w.setKey(tok, virtual_keyboard.KeyStatePressed)
}

func (w *WaylandSink) KeyRelease(token string) error {
	tok, err := ParseToken(token)
	if err != nil {
		return err
	}
	return w.setKey(tok, virtual_keyboard.KeyStateReleased)
}
