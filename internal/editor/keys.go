package editor

import "strings"

// Key is a keydown as reported by the client.
type Key struct {
	Key   string `json:"key"`
	Ctrl  bool   `json:"ctrlKey"`
	Meta  bool   `json:"metaKey"`
	Shift bool   `json:"shiftKey"`
}

func (k Key) command() bool {
	return k.Ctrl || k.Meta
}

// HandleKey runs the canvas shortcut bound to key and reports whether one was bound.
// Ctrl or Cmd with C, X, V, Z and Y copy, cut, paste, undo and redo; Delete removes the
// selection and Escape ends the current gesture.
func (e *Editor) HandleKey(key Key) (bool, error) {
	name := strings.ToLower(key.Key)
	if key.command() {
		switch name {
		case "c":
			_, err := e.Copy()
			return true, err
		case "x":
			_, err := e.Cut()
			return true, err
		case "v":
			_, err := e.Paste()
			return true, err
		case "z":
			_, err := e.Undo()
			return true, err
		case "y":
			_, err := e.Redo()
			return true, err
		}
		return false, nil
	}
	switch name {
	case "delete":
		return true, e.Delete()
	case "escape":
		return true, e.Escape()
	}
	return false, nil
}
