package collab

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidPresencePatch indicates that a serialized presence patch could not be decoded.
var ErrInvalidPresencePatch = errors.New("collab: invalid presence patch")

// Point is a position in document space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Presence is the ephemeral per-participant state. A nil Cursor means the pointer left the surface.
type Presence struct {
	Cursor      *Point  `json:"cursor"`
	CursorColor string  `json:"cursorColor,omitempty"`
	Message     *string `json:"message"`
}

// Participant pairs a connection with its last-known presence.
type Participant struct {
	ConnectionID int      `json:"connectionId"`
	Presence     Presence `json:"presence"`
}

// PresencePatch mutates a subset of presence fields; fields not touched by any patch are kept.
type PresencePatch func(*Presence)

// WithCursor sets the cursor position. A nil point clears it.
func WithCursor(point *Point) PresencePatch {
	return func(presence *Presence) {
		if point == nil {
			presence.Cursor = nil
			return
		}
		copied := *point
		presence.Cursor = &copied
	}
}

// WithMessage sets the live chat draft. A nil message clears it.
func WithMessage(message *string) PresencePatch {
	return func(presence *Presence) {
		if message == nil {
			presence.Message = nil
			return
		}
		copied := *message
		presence.Message = &copied
	}
}

// WithCursorColor sets the participant's cursor color.
func WithCursorColor(color string) PresencePatch {
	return func(presence *Presence) {
		presence.CursorColor = color
	}
}

// Apply returns a copy of presence with every patch applied in order.
func (presence Presence) Apply(patches ...PresencePatch) Presence {
	next := presence
	for _, patch := range patches {
		if patch != nil {
			patch(&next)
		}
	}
	return next
}

// PatchesFromJSON decodes a partial presence object. Keys present with a null value clear the field.
func PatchesFromJSON(raw json.RawMessage) ([]PresencePatch, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPresencePatch, err)
	}
	patches := make([]PresencePatch, 0, len(fields))
	if value, ok := fields["cursor"]; ok {
		var point *Point
		if err := json.Unmarshal(value, &point); err != nil {
			return nil, fmt.Errorf("%w: cursor", ErrInvalidPresencePatch)
		}
		patches = append(patches, WithCursor(point))
	}
	if value, ok := fields["message"]; ok {
		var message *string
		if err := json.Unmarshal(value, &message); err != nil {
			return nil, fmt.Errorf("%w: message", ErrInvalidPresencePatch)
		}
		patches = append(patches, WithMessage(message))
	}
	if value, ok := fields["cursorColor"]; ok {
		var color string
		if err := json.Unmarshal(value, &color); err != nil {
			return nil, fmt.Errorf("%w: cursorColor", ErrInvalidPresencePatch)
		}
		patches = append(patches, WithCursorColor(color))
	}
	return patches, nil
}
