package input

import "testing"

func TestParseTokenMouseButton(t *testing.T) {
	tok, err := ParseToken("Right")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !tok.IsMouseButton || tok.Key != "Right" {
		t.Fatalf("got %+v, want mouse button Right", tok)
	}
}

func TestParseTokenModifierChain(t *testing.T) {
	tok, err := ParseToken("Control+Shift+a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok.IsMouseButton || tok.Key != "a" {
		t.Fatalf("got %+v, want key a", tok)
	}
	if len(tok.Modifiers) != 2 || tok.Modifiers[0] != ModControl || tok.Modifiers[1] != ModShift {
		t.Fatalf("modifiers = %v, want [Control Shift]", tok.Modifiers)
	}
}

func TestParseTokenRejectsUnknownModifier(t *testing.T) {
	if _, err := ParseToken("Hyper+a"); err == nil {
		t.Fatalf("expected error for unrecognized modifier")
	}
}

func TestParseTokenRejectsEmpty(t *testing.T) {
	if _, err := ParseToken(""); err == nil {
		t.Fatalf("expected error for empty token")
	}
}

func TestKeyCodeResolvesLettersAndNamed(t *testing.T) {
	if _, ok := keyCode("a"); !ok {
		t.Errorf("expected letter a to resolve")
	}
	if _, ok := keyCode("Volume up"); !ok {
		t.Errorf("expected named key to resolve")
	}
	if _, ok := keyCode("NoSuchKey"); ok {
		t.Errorf("expected unknown key to fail to resolve")
	}
}
