package rooms

import (
	"fmt"
	"strings"
)

const maxIdentifierLength = 190

// RoomID represents a validated room identifier.
type RoomID string

// NewRoomID validates raw input and returns a RoomID. Identifiers are limited to letters,
// digits, '-', '_' and '.'.
func NewRoomID(rawInput string) (RoomID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidRoomID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidRoomID, maxIdentifierLength)
	}
	for _, character := range trimmed {
		switch {
		case character >= 'a' && character <= 'z',
			character >= 'A' && character <= 'Z',
			character >= '0' && character <= '9',
			character == '-', character == '_', character == '.':
		default:
			return "", fmt.Errorf("%w: unexpected character %q", ErrInvalidRoomID, character)
		}
	}
	return RoomID(trimmed), nil
}

// String returns the underlying string identifier.
func (id RoomID) String() string {
	return string(id)
}
