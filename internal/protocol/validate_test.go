package protocol

import (
	"errors"
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// ValidateName
// ---------------------------------------------------------------------------

func TestValidateNameValid(t *testing.T) {
	name, err := ValidateName("alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "alice" {
		t.Errorf("got %q, want %q", name, "alice")
	}
}

func TestValidateNameTrimsWhitespace(t *testing.T) {
	name, err := ValidateName("  alice  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "alice" {
		t.Errorf("got %q, want %q", name, "alice")
	}
}

func TestValidateNameEmpty(t *testing.T) {
	if _, err := ValidateName(""); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("got %v, want ErrInvalidName", err)
	}
}

func TestValidateNameWhitespaceOnly(t *testing.T) {
	if _, err := ValidateName("   "); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("got %v, want ErrInvalidName", err)
	}
}

func TestValidateNameExactMaxLen(t *testing.T) {
	name := strings.Repeat("a", MaxNameLength)
	got, err := ValidateName(name)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != name {
		t.Errorf("got %q, want %q", got, name)
	}
}

func TestValidateNameTooLong(t *testing.T) {
	name := strings.Repeat("a", MaxNameLength+1)
	if _, err := ValidateName(name); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("got %v, want ErrInvalidName", err)
	}
}

// ---------------------------------------------------------------------------
// ValidateUsername
// ---------------------------------------------------------------------------

func TestValidateUsernameValid(t *testing.T) {
	got, err := ValidateUsername("@alice_01")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "@alice_01" {
		t.Errorf("got %q, want %q", got, "@alice_01")
	}
}

func TestValidateUsernameMissingPrefix(t *testing.T) {
	if _, err := ValidateUsername("alice"); !errors.Is(err, ErrInvalidUsername) {
		t.Fatalf("got %v, want ErrInvalidUsername", err)
	}
}

func TestValidateUsernameTooShort(t *testing.T) {
	if _, err := ValidateUsername("@ab"); !errors.Is(err, ErrInvalidUsername) {
		t.Fatalf("got %v, want ErrInvalidUsername", err)
	}
}

func TestValidateUsernameMinLength(t *testing.T) {
	if _, err := ValidateUsername("@abc"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateUsernameMaxLength(t *testing.T) {
	name := "@" + strings.Repeat("a", MaxUsernameLength-1)
	if _, err := ValidateUsername(name); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := ValidateUsername(name + "a"); !errors.Is(err, ErrInvalidUsername) {
		t.Fatalf("got %v, want ErrInvalidUsername", err)
	}
}

func TestValidateUsernameBadRunes(t *testing.T) {
	for _, s := range []string{"@al ice", "@al.ice", "@ali@e", "@алиса"} {
		if _, err := ValidateUsername(s); !errors.Is(err, ErrInvalidUsername) {
			t.Errorf("%q: got %v, want ErrInvalidUsername", s, err)
		}
	}
}
