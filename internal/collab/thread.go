package collab

import "time"

// ThreadMetadata anchors a comment thread in document space.
type ThreadMetadata struct {
	CursorX         float64  `json:"cursorX"`
	CursorY         float64  `json:"cursorY"`
	ZIndex          int      `json:"zIndex"`
	Resolved        bool     `json:"resolved"`
	CursorSelectors []string `json:"cursorSelectors"`
}

// MetadataPatch edits a subset of thread metadata; nil fields are left unchanged.
type MetadataPatch struct {
	CursorX  *float64 `json:"cursorX,omitempty"`
	CursorY  *float64 `json:"cursorY,omitempty"`
	ZIndex   *int     `json:"zIndex,omitempty"`
	Resolved *bool    `json:"resolved,omitempty"`
}

// Apply returns metadata with the patch applied.
func (patch MetadataPatch) Apply(metadata ThreadMetadata) ThreadMetadata {
	next := metadata
	if patch.CursorX != nil {
		next.CursorX = *patch.CursorX
	}
	if patch.CursorY != nil {
		next.CursorY = *patch.CursorY
	}
	if patch.ZIndex != nil {
		next.ZIndex = *patch.ZIndex
	}
	if patch.Resolved != nil {
		next.Resolved = *patch.Resolved
	}
	return next
}

// Comment is one message inside a thread.
type Comment struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"authorId"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

// Thread is a persisted comment conversation.
type Thread struct {
	ID        string         `json:"id"`
	CreatedAt time.Time      `json:"createdAt"`
	Metadata  ThreadMetadata `json:"metadata"`
	Comments  []Comment      `json:"comments"`
}

// NewThread describes a thread to create.
type NewThread struct {
	Body     string         `json:"body"`
	Metadata ThreadMetadata `json:"metadata"`
}

// MaxZIndex returns the largest zIndex among threads, or zero when there are none.
func MaxZIndex(threads []Thread) int {
	maximum := 0
	for _, thread := range threads {
		if thread.Metadata.ZIndex > maximum {
			maximum = thread.Metadata.ZIndex
		}
	}
	return maximum
}
