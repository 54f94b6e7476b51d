package input

import "strings"

// evdev key codes (linux/input-event-codes.h), the numbering the Wayland
// virtual keyboard protocol expects.
const (
	keyEsc       = 1
	keyBackspace = 14
	keyTab       = 15
	keySpace     = 57
	keyEnter     = 28
	keyLeftCtrl  = 29
	keyLeftShift = 42
	keyLeftAlt   = 56
	keyLeftMeta  = 125
	keyCapsLock  = 58
	keyHome      = 102
	keyUp        = 103
	keyPageUp    = 104
	keyLeft      = 105
	keyRight     = 106
	keyEnd       = 107
	keyDown      = 108
	keyPageDown  = 109
	keyVolDown   = 114
	keyVolUp     = 115
)

var letterKeys = map[string]uint32{
	"a": 30, "b": 48, "c": 46, "d": 32, "e": 18, "f": 33, "g": 34, "h": 35,
	"i": 23, "j": 36, "k": 37, "l": 38, "m": 50, "n": 49, "o": 24, "p": 25,
	"q": 16, "r": 19, "s": 31, "t": 20, "u": 22, "v": 47, "w": 17, "x": 45,
	"y": 21, "z": 44,
}

var digitKeys = map[string]uint32{
	"0": 11, "1": 2, "2": 3, "3": 4, "4": 5, "5": 6, "6": 7, "7": 8, "8": 9, "9": 10,
}

var namedKeys = map[string]uint32{
	"Enter":       keyEnter,
	"Backspace":   keyBackspace,
	"Tab":         keyTab,
	"Escape":      keyEsc,
	"Space":       keySpace,
	"Home":        keyHome,
	"End":         keyEnd,
	"Up":          keyUp,
	"Down":        keyDown,
	"Left Arrow":  keyLeft,
	"Right Arrow": keyRight,
	"Page Up":     keyPageUp,
	"Page Down":   keyPageDown,
	"Volume up":   keyVolUp,
	"Volume down": keyVolDown,
	"F1":          59, "F2": 60, "F3": 61, "F4": 62,
	"F5": 63, "F6": 64, "F7": 65, "F8": 66,
	"F9": 67, "F10": 68, "F11": 87, "F12": 88,
}

func modifierKeyCode(m Modifier) uint32 {
	switch m {
	case ModControl:
		return keyLeftCtrl
	case ModAlt:
		return keyLeftAlt
	case ModShift:
		return keyLeftShift
	case ModMeta:
		return keyLeftMeta
	}
	return 0
}

// keyCode resolves a Token's terminal key to an evdev code. Single
// printable characters fall through to the letter/digit tables; everything
// else must be a recognized named key.
func keyCode(key string) (uint32, bool) {
	if code, ok := namedKeys[key]; ok {
		return code, true
	}
	lower := strings.ToLower(key)
	if code, ok := letterKeys[lower]; ok {
		return code, true
	}
	if code, ok := digitKeys[key]; ok {
		return code, true
	}
	return 0, false
}
