package rooms

// ShapeRow stores the latest serialized record of one shape in a room.
type ShapeRow struct {
	RoomID           string `gorm:"column:room_id;primaryKey;size:190;not null"`
	ObjectID         string `gorm:"column:object_id;primaryKey;size:190;not null"`
	Position         int64  `gorm:"column:position;not null;index:idx_room_shapes_position"`
	Value            string `gorm:"column:value;type:text;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (ShapeRow) TableName() string {
	return "room_shapes"
}

// ThreadRow stores a comment thread and its anchor metadata.
type ThreadRow struct {
	ThreadID        string  `gorm:"column:thread_id;primaryKey;size:190;not null"`
	RoomID          string  `gorm:"column:room_id;size:190;not null;index:idx_room_threads_room"`
	CreatedAtMillis int64   `gorm:"column:created_at_ms;not null"`
	CursorX         float64 `gorm:"column:cursor_x;not null"`
	CursorY         float64 `gorm:"column:cursor_y;not null"`
	ZIndex          int     `gorm:"column:z_index;not null;default:0"`
	Resolved        bool    `gorm:"column:resolved;not null;default:false"`
	CursorSelectors string  `gorm:"column:cursor_selectors;type:text;not null"`
}

// TableName provides the explicit table binding for GORM.
func (ThreadRow) TableName() string {
	return "room_threads"
}

// CommentRow stores one message of a thread.
type CommentRow struct {
	CommentID       string `gorm:"column:comment_id;primaryKey;size:190;not null"`
	ThreadID        string `gorm:"column:thread_id;size:190;not null;index:idx_thread_comments_thread"`
	RoomID          string `gorm:"column:room_id;size:190;not null"`
	AuthorID        string `gorm:"column:author_id;size:190;not null"`
	Body            string `gorm:"column:body;type:text;not null"`
	CreatedAtMillis int64  `gorm:"column:created_at_ms;not null"`
}

// TableName provides the explicit table binding for GORM.
func (CommentRow) TableName() string {
	return "thread_comments"
}
