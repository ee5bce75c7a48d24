package protocol

import "strings"

// Identity field bounds.
const (
	MaxNameLength     = 60
	MinUsernameLength = 4
	MaxUsernameLength = 15
)

// ValidateName trims surrounding whitespace and checks the [1,60] length
// bound. Returns the cleaned value.
func ValidateName(s string) (string, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return "", ErrInvalidName
	case len(s) > MaxNameLength:
		return "", ErrInvalidName
	}
	return s, nil
}

// ValidateUsername checks the public handle shape: leading '@', total
// length in [4,15], and letters, digits or underscores after the prefix.
func ValidateUsername(s string) (string, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "@") {
		return "", ErrInvalidUsername
	}
	if len(s) < MinUsernameLength || len(s) > MaxUsernameLength {
		return "", ErrInvalidUsername
	}
	for _, r := range s[1:] {
		if !isHandleRune(r) {
			return "", ErrInvalidUsername
		}
	}
	return s, nil
}

func isHandleRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '_':
		return true
	}
	return false
}
