// Package rooms hosts shared drawing sessions: the replicated shape document, participant presence,
// broadcast events, per-connection undo history and comment threads.
package rooms

import (
	"context"
	"slices"
	"sync"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

type HubConfig struct {
	// Store is optional; without it rooms live in memory only.
	Store          Store
	PresenceMirror PresenceMirror
	Clock          clockwork.Clock
	IDProvider     IDProvider
	Logger         *zap.Logger
}

// Hub opens rooms on demand and keeps them for the life of the process.
type Hub struct {
	store  Store
	mirror PresenceMirror
	clock  clockwork.Clock
	ids    IDProvider
	logger *zap.Logger

	mu    sync.Mutex
	rooms map[RoomID]*Room
}

func NewHub(cfg HubConfig) (*Hub, error) {
	if cfg.IDProvider == nil {
		return nil, newServiceError(opHubNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Hub{
		store:  cfg.Store,
		mirror: cfg.PresenceMirror,
		clock:  clock,
		ids:    cfg.IDProvider,
		logger: logger,
		rooms:  make(map[RoomID]*Room),
	}, nil
}

// Open returns the room named rawID, loading it from the store the first time.
func (h *Hub) Open(ctx context.Context, rawID string) (*Room, error) {
	roomID, err := NewRoomID(rawID)
	if err != nil {
		return nil, newServiceError(opHubOpen, "invalid_room_id", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if room, ok := h.rooms[roomID]; ok {
		return room, nil
	}
	room := newRoom(roomID, h.store, h.mirror, h.clock, h.ids, h.logger)
	if err := room.load(ctx); err != nil {
		logError(h.logger, opHubOpen, "load_failed", err, zap.String("room_id", roomID.String()))
		return nil, newServiceError(opHubOpen, "load_failed", err)
	}
	h.rooms[roomID] = room
	h.logger.Debug("room opened", zap.String("room_id", roomID.String()))
	return room, nil
}

// Rooms lists the rooms opened so far.
func (h *Hub) Rooms() []RoomID {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]RoomID, 0, len(h.rooms))
	for roomID := range h.rooms {
		ids = append(ids, roomID)
	}
	slices.Sort(ids)
	return ids
}
