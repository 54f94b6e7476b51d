package input

import (
	"fmt"
	"strings"
)

// Modifier is one of the four recognized prefix modifiers.
type Modifier string

const (
	ModControl Modifier = "Control"
	ModAlt     Modifier = "Alt"
	ModShift   Modifier = "Shift"
	ModMeta    Modifier = "Meta"
)

var mouseButtons = map[string]bool{"Left": true, "Right": true, "Middle": true}

// Token is a parsed keymap entry: zero or more modifiers plus either a
// keyboard key name or a mouse button name.
type Token struct {
	Modifiers     []Modifier
	Key           string
	IsMouseButton bool
}

// ParseToken parses a `+`-joined modifier+key string, e.g. "Control+Shift+a",
// or a bare mouse button token ("Left", "Right", "Middle"). An empty string
// is invalid — a null keymap entry is represented as a nil *string one layer
// up, not as an empty Token.
func ParseToken(spec string) (Token, error) {
	if spec == "" {
		return Token{}, fmt.Errorf("input: empty token")
	}
	if mouseButtons[spec] {
		return Token{Key: spec, IsMouseButton: true}, nil
	}

	parts := strings.Split(spec, "+")
	last := parts[len(parts)-1]
	if mouseButtons[last] && len(parts) > 1 {
		return Token{}, fmt.Errorf("input: mouse button token %q cannot carry modifiers", spec)
	}

	var mods []Modifier
	for _, p := range parts[:len(parts)-1] {
		m, err := parseModifier(p)
		if err != nil {
			return Token{}, err
		}
		mods = append(mods, m)
	}
	if last == "" {
		return Token{}, fmt.Errorf("input: token %q has no terminal key", spec)
	}
	return Token{Modifiers: mods, Key: last}, nil
}

func parseModifier(s string) (Modifier, error) {
	switch s {
	case string(ModControl):
		return ModControl, nil
	case string(ModAlt):
		return ModAlt, nil
	case string(ModShift):
		return ModShift, nil
	case string(ModMeta):
		return ModMeta, nil
	default:
		return "", fmt.Errorf("input: unrecognized modifier %q", s)
	}
}
