/*
Package presence contains the core logic for the shared-space engine.

This file holds the validation and sanitization rules applied to every
inbound payload, server-side before mutating the registry and client-side
before applying a peer event to the local world model.
*/
package presence

import (
	"math"
	"regexp"
	"strings"
	"unicode"
)

const (
	// MaxUsernameLen bounds the sanitized username length.
	MaxUsernameLen = 50

	// MaxRoomIDLen bounds the sanitized room id length.
	MaxRoomIDLen = 100

	// MaxMessageLen bounds the sanitized chat message length.
	MaxMessageLen = 1000

	// MaxCoordinate bounds |x|, |y| and |z| of any position.
	MaxCoordinate = 1000.0
)

// MaxRotation bounds the absolute rotation of any position.
var MaxRotation = 2 * math.Pi

var colorHexPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// ValidPosition reports whether every field is a finite number within the
// space bounds.
func ValidPosition(p Position) bool {
	for _, v := range []float64{p.X, p.Y, p.Z, p.Rotation} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	if math.Abs(p.X) > MaxCoordinate || math.Abs(p.Y) > MaxCoordinate || math.Abs(p.Z) > MaxCoordinate {
		return false
	}
	return math.Abs(p.Rotation) <= MaxRotation
}

// SanitizeText strips angle brackets and control characters and trims
// surrounding whitespace. Removing only '<' and '>' is a minimal markup
// mitigation, not HTML escaping; renderers must not treat the result as
// trusted HTML.
func SanitizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '<' || r == '>' || unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

// SanitizeUsername returns the cleaned username and whether it is usable:
// non-empty after sanitization and at most MaxUsernameLen characters.
func SanitizeUsername(s string) (string, bool) {
	clean := SanitizeText(s)
	if clean == "" || len([]rune(clean)) > MaxUsernameLen {
		return "", false
	}
	return clean, true
}

// SanitizeRoomID returns the cleaned room id and whether it is usable.
func SanitizeRoomID(s string) (string, bool) {
	clean := SanitizeText(s)
	if clean == "" || len([]rune(clean)) > MaxRoomIDLen {
		return "", false
	}
	return clean, true
}

// SanitizeMessage returns the cleaned chat body and whether it is usable:
// non-empty after sanitization and at most MaxMessageLen characters.
func SanitizeMessage(s string) (string, bool) {
	clean := SanitizeText(s)
	if clean == "" || len([]rune(clean)) > MaxMessageLen {
		return "", false
	}
	return clean, true
}

// NormalizeColor returns the color unchanged when it matches #RRGGBB
// (case-insensitive) and DefaultColor otherwise. Colors are never a reason
// to reject an avatar.
func NormalizeColor(s string) string {
	if colorHexPattern.MatchString(s) {
		return s
	}
	return DefaultColor
}

// ValidMessageKind reports whether the chat kind is one of the known ones.
func ValidMessageKind(kind string) bool {
	switch kind {
	case MessageKindChat, MessageKindSystem, MessageKindPrivate:
		return true
	}
	return false
}
