// Package validate provides input checks for user-supplied values that the
// live service persists and rebroadcasts to other connections.
package validate

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// String validation errors
var (
	ErrEmpty             = errors.New("string is empty")
	ErrStringTooLong     = errors.New("string is too long")
	ErrInvalidCharacters = errors.New("string contains invalid characters")
)

// MaxChatTextLength bounds messages and replies, in characters.
const MaxChatTextLength = 2000

// StringConstraints defines validation constraints for a string.
type StringConstraints struct {
	MaxLength  int  // Maximum length in characters (0 = no maximum)
	AllowEmpty bool // Whether empty strings are allowed
	// AllowControl permits control characters other than newline and tab.
	AllowControl bool
}

// String validates s against the given constraints. The input is returned
// unchanged; whitespace is significant in chat text.
func String(s string, constraints StringConstraints) (string, error) {
	if s == "" {
		if !constraints.AllowEmpty {
			return "", ErrEmpty
		}
		return s, nil
	}
	if !utf8.ValidString(s) {
		return "", fmt.Errorf("%w: not valid UTF-8", ErrInvalidCharacters)
	}

	// Get actual character count (not byte count)
	length := utf8.RuneCountInString(s)
	if constraints.MaxLength > 0 && length > constraints.MaxLength {
		return "", fmt.Errorf("%w: got %d chars, maximum is %d", ErrStringTooLong, length, constraints.MaxLength)
	}

	if !constraints.AllowControl {
		if i := strings.IndexFunc(s, isDisallowedControl); i >= 0 {
			return "", fmt.Errorf("%w: control character at byte %d", ErrInvalidCharacters, i)
		}
	}
	return s, nil
}

func isDisallowedControl(r rune) bool {
	return unicode.IsControl(r) && r != '\n' && r != '\t' && r != '\r'
}

// ChatText validates message and reply text.
func ChatText(s string) (string, error) {
	return String(s, StringConstraints{MaxLength: MaxChatTextLength})
}
