package shapes

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// ClipboardOffset is the distance pasted shapes are moved from their source on both axes.
const ClipboardOffset = 20.0

// Clipboard is a local buffer of serialized shapes.
type Clipboard struct {
	mu      sync.Mutex
	entries []json.RawMessage
	logger  *zap.Logger
}

// NewClipboard constructs an empty clipboard.
func NewClipboard(logger *zap.Logger) *Clipboard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Clipboard{logger: logger}
}

// Copy replaces the buffer with the serialized selection.
func (c *Clipboard) Copy(selected []Shape) error {
	entries := make([]json.RawMessage, 0, len(selected))
	for _, shape := range selected {
		value, err := Marshal(shape)
		if err != nil {
			return err
		}
		entries = append(entries, value)
	}
	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()
	return nil
}

// Load replaces the buffer with externally supplied values, which are validated only on paste.
func (c *Clipboard) Load(entries []json.RawMessage) {
	copied := make([]json.RawMessage, len(entries))
	copy(copied, entries)
	c.mu.Lock()
	c.entries = copied
	c.mu.Unlock()
}

// Entries returns the raw buffer.
func (c *Clipboard) Entries() []json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	copied := make([]json.RawMessage, len(c.entries))
	copy(copied, c.entries)
	return copied
}

// Empty reports whether nothing has been copied.
func (c *Clipboard) Empty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries) == 0
}

// Paste deserializes the buffer into new shapes with fresh ids, offset by ClipboardOffset.
// Entries that fail to parse are logged and skipped.
func (c *Clipboard) Paste(ids IDProvider) ([]Shape, error) {
	entries := c.Entries()
	pasted := make([]Shape, 0, len(entries))
	for index, entry := range entries {
		shape, err := Unmarshal(entry)
		if err != nil {
			c.logger.Warn("clipboard entry skipped",
				zap.Int("index", index),
				zap.Error(err))
			continue
		}
		objectID, err := ids.NewID()
		if err != nil {
			return pasted, err
		}
		shape.ObjectID = objectID
		shape.Left += ClipboardOffset
		shape.Top += ClipboardOffset
		pasted = append(pasted, shape)
	}
	return pasted, nil
}
