package rooms

import (
	"context"
	"encoding/json"
	"time"

	"github.com/MarcoPoloResearchLab/sketchroom/internal/collab"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StoredEntry is a persisted document entry with its insertion position.
type StoredEntry struct {
	collab.Entry
	Position int64
}

// Store persists room documents and comment threads.
type Store interface {
	LoadShapes(ctx context.Context, roomID RoomID) ([]StoredEntry, error)
	SaveShape(ctx context.Context, roomID RoomID, entry StoredEntry) error
	DeleteShape(ctx context.Context, roomID RoomID, key string) error
	LoadThreads(ctx context.Context, roomID RoomID) ([]collab.Thread, error)
	SaveThread(ctx context.Context, roomID RoomID, thread collab.Thread) error
}

type StoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// GormStore is the SQL-backed Store.
type GormStore struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

func NewGormStore(cfg StoreConfig) (*GormStore, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opStoreNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &GormStore{db: cfg.Database, clock: clock, logger: logger}, nil
}

// LoadShapes returns the room's entries in insertion order.
func (s *GormStore) LoadShapes(ctx context.Context, roomID RoomID) ([]StoredEntry, error) {
	var rows []ShapeRow
	err := s.db.WithContext(ctx).
		Where("room_id = ?", roomID.String()).
		Order("position ASC").
		Find(&rows).Error
	if err != nil {
		logError(s.logger, opLoadShapes, "select_failed", err, zap.String("room_id", roomID.String()))
		return nil, newServiceError(opLoadShapes, "select_failed", err)
	}
	entries := make([]StoredEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, StoredEntry{
			Entry:    collab.Entry{Key: row.ObjectID, Value: json.RawMessage(row.Value)},
			Position: row.Position,
		})
	}
	return entries, nil
}

// SaveShape upserts one entry.
func (s *GormStore) SaveShape(ctx context.Context, roomID RoomID, entry StoredEntry) error {
	row := ShapeRow{
		RoomID:           roomID.String(),
		ObjectID:         entry.Key,
		Position:         entry.Position,
		Value:            string(entry.Value),
		UpdatedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		logError(s.logger, opSaveShape, "save_failed", err,
			zap.String("room_id", roomID.String()),
			zap.String("object_id", entry.Key))
		return newServiceError(opSaveShape, "save_failed", err)
	}
	return nil
}

func (s *GormStore) DeleteShape(ctx context.Context, roomID RoomID, key string) error {
	err := s.db.WithContext(ctx).
		Where("room_id = ? AND object_id = ?", roomID.String(), key).
		Delete(&ShapeRow{}).Error
	if err != nil {
		logError(s.logger, opDeleteShape, "delete_failed", err,
			zap.String("room_id", roomID.String()),
			zap.String("object_id", key))
		return newServiceError(opDeleteShape, "delete_failed", err)
	}
	return nil
}

// LoadThreads returns threads in creation order with their comments.
func (s *GormStore) LoadThreads(ctx context.Context, roomID RoomID) ([]collab.Thread, error) {
	var threadRows []ThreadRow
	err := s.db.WithContext(ctx).
		Where("room_id = ?", roomID.String()).
		Order("created_at_ms ASC, thread_id ASC").
		Find(&threadRows).Error
	if err != nil {
		logError(s.logger, opLoadThreads, "thread_select_failed", err, zap.String("room_id", roomID.String()))
		return nil, newServiceError(opLoadThreads, "thread_select_failed", err)
	}

	var commentRows []CommentRow
	err = s.db.WithContext(ctx).
		Where("room_id = ?", roomID.String()).
		Order("created_at_ms ASC, comment_id ASC").
		Find(&commentRows).Error
	if err != nil {
		logError(s.logger, opLoadThreads, "comment_select_failed", err, zap.String("room_id", roomID.String()))
		return nil, newServiceError(opLoadThreads, "comment_select_failed", err)
	}
	commentsByThread := make(map[string][]collab.Comment, len(threadRows))
	for _, row := range commentRows {
		commentsByThread[row.ThreadID] = append(commentsByThread[row.ThreadID], collab.Comment{
			ID:        row.CommentID,
			AuthorID:  row.AuthorID,
			Body:      row.Body,
			CreatedAt: time.UnixMilli(row.CreatedAtMillis).UTC(),
		})
	}

	threads := make([]collab.Thread, 0, len(threadRows))
	for _, row := range threadRows {
		var selectors []string
		if err := json.Unmarshal([]byte(row.CursorSelectors), &selectors); err != nil {
			logError(s.logger, opLoadThreads, "selectors_decode_failed", err, zap.String("thread_id", row.ThreadID))
			selectors = nil
		}
		threads = append(threads, collab.Thread{
			ID:        row.ThreadID,
			CreatedAt: time.UnixMilli(row.CreatedAtMillis).UTC(),
			Metadata: collab.ThreadMetadata{
				CursorX:         row.CursorX,
				CursorY:         row.CursorY,
				ZIndex:          row.ZIndex,
				Resolved:        row.Resolved,
				CursorSelectors: selectors,
			},
			Comments: commentsByThread[row.ThreadID],
		})
	}
	return threads, nil
}

// SaveThread upserts the thread row and inserts comments not stored yet.
func (s *GormStore) SaveThread(ctx context.Context, roomID RoomID, thread collab.Thread) error {
	selectors, err := json.Marshal(thread.Metadata.CursorSelectors)
	if err != nil {
		return newServiceError(opSaveThread, "selectors_encode_failed", err)
	}
	threadRow := ThreadRow{
		ThreadID:        thread.ID,
		RoomID:          roomID.String(),
		CreatedAtMillis: thread.CreatedAt.UnixMilli(),
		CursorX:         thread.Metadata.CursorX,
		CursorY:         thread.Metadata.CursorY,
		ZIndex:          thread.Metadata.ZIndex,
		Resolved:        thread.Metadata.Resolved,
		CursorSelectors: string(selectors),
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(&threadRow).Error; err != nil {
			logError(s.logger, opSaveThread, "thread_save_failed", err, zap.String("thread_id", thread.ID))
			return newServiceError(opSaveThread, "thread_save_failed", err)
		}
		if len(thread.Comments) == 0 {
			return nil
		}
		commentRows := make([]CommentRow, 0, len(thread.Comments))
		for _, comment := range thread.Comments {
			commentRows = append(commentRows, CommentRow{
				CommentID:       comment.ID,
				ThreadID:        thread.ID,
				RoomID:          roomID.String(),
				AuthorID:        comment.AuthorID,
				Body:            comment.Body,
				CreatedAtMillis: comment.CreatedAt.UnixMilli(),
			})
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&commentRows).Error; err != nil {
			logError(s.logger, opSaveThread, "comment_insert_failed", err, zap.String("thread_id", thread.ID))
			return newServiceError(opSaveThread, "comment_insert_failed", err)
		}
		return nil
	})
}
