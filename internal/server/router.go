package server

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/sketchroom/internal/collab"
	"github.com/MarcoPoloResearchLab/sketchroom/internal/export"
	"github.com/MarcoPoloResearchLab/sketchroom/internal/rooms"
	"github.com/MarcoPoloResearchLab/sketchroom/internal/shapesync"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const defaultHeartbeat = 30 * time.Second

var (
	errMissingHub     = errors.New("room hub dependency required")
	errInvalidRequest = errors.New("invalid request")
)

// ParticipantMirror lists participants across server instances.
type ParticipantMirror interface {
	Participants(ctx context.Context, roomID rooms.RoomID) ([]rooms.MirroredParticipant, error)
}

type Dependencies struct {
	Hub *rooms.Hub
	// Mirror is optional.
	Mirror ParticipantMirror
	Export export.Options
	// Heartbeat is the websocket ping period.
	Heartbeat time.Duration
	// Sessions defaults to a group that lives as long as the process.
	Sessions *SessionGroup
	Logger   *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Hub == nil {
		return nil, errMissingHub
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	exportOptions := deps.Export
	exportOptions.Logger = logger
	sessions := deps.Sessions
	if sessions == nil {
		sessions = NewSessionGroup(context.Background())
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		hub:       deps.Hub,
		mirror:    deps.Mirror,
		export:    exportOptions,
		heartbeat: heartbeat,
		sessions:  sessions,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	router.GET("/healthz", handler.handleHealth)

	room := router.Group("/rooms/:room")
	room.GET("/shapes", handler.handleShapes)
	room.GET("/layers", handler.handleLayers)
	room.GET("/participants", handler.handleParticipants)
	room.GET("/threads", handler.handleListThreads)
	room.POST("/threads", handler.handleCreateThread)
	room.PATCH("/threads/:thread", handler.handleEditThread)
	room.POST("/threads/:thread/comments", handler.handleAddComment)
	room.GET("/export.pdf", handler.handleExportPDF)
	room.GET("/export.png", handler.handleExportPNG)
	room.GET("/live", handler.handleLive)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowHeaders: []string{"Content-Type"},
		MaxAge:       12 * time.Hour,
	})
}

type httpHandler struct {
	hub       *rooms.Hub
	mirror    ParticipantMirror
	export    export.Options
	heartbeat time.Duration
	sessions  *SessionGroup
	logger    *zap.Logger
	upgrader  websocket.Upgrader
}

type shapesResponse struct {
	Room    string         `json:"room"`
	Version uint64         `json:"version"`
	Entries []collab.Entry `json:"entries"`
}

type participantsResponse struct {
	Room         string                      `json:"room"`
	Participants []collab.Participant        `json:"participants"`
	Mirrored     []rooms.MirroredParticipant `json:"mirrored,omitempty"`
}

type createThreadRequest struct {
	Body     string                `json:"body"`
	Metadata collab.ThreadMetadata `json:"metadata"`
}

type addCommentRequest struct {
	Body string `json:"body"`
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// openRoom resolves the :room parameter, writing the error response when it fails.
func (h *httpHandler) openRoom(c *gin.Context) (*rooms.Room, bool) {
	room, err := h.hub.Open(c.Request.Context(), c.Param("room"))
	if err != nil {
		if errors.Is(err, rooms.ErrInvalidRoomID) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_room"})
			return nil, false
		}
		h.logger.Error("failed to open room", zap.String("room", c.Param("room")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "room_unavailable"})
		return nil, false
	}
	return room, true
}

func (h *httpHandler) handleShapes(c *gin.Context) {
	room, ok := h.openRoom(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, shapesResponse{
		Room:    room.ID().String(),
		Version: room.Version(),
		Entries: room.Entries(),
	})
}

func (h *httpHandler) handleLayers(c *gin.Context) {
	room, ok := h.openRoom(c)
	if !ok {
		return
	}
	layers := shapesync.LayersOf(room.Entries(), h.logger)
	c.JSON(http.StatusOK, gin.H{"room": room.ID().String(), "layers": layers})
}

func (h *httpHandler) handleParticipants(c *gin.Context) {
	room, ok := h.openRoom(c)
	if !ok {
		return
	}
	response := participantsResponse{Room: room.ID().String(), Participants: room.Participants()}
	if h.mirror != nil {
		mirrored, err := h.mirror.Participants(c.Request.Context(), room.ID())
		if err != nil {
			h.logger.Warn("presence mirror unavailable", zap.String("room_id", room.ID().String()), zap.Error(err))
		} else {
			response.Mirrored = mirrored
		}
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleListThreads(c *gin.Context) {
	room, ok := h.openRoom(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": room.ID().String(), "threads": room.Threads()})
}

func (h *httpHandler) handleCreateThread(c *gin.Context) {
	room, ok := h.openRoom(c)
	if !ok {
		return
	}
	var request createThreadRequest
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Body) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	thread, err := room.CreateThread(c.Request.Context(), collab.NewThread{
		Body:     request.Body,
		Metadata: request.Metadata,
	})
	if err != nil {
		h.writeRoomError(c, err)
		return
	}
	c.JSON(http.StatusCreated, thread)
}

func (h *httpHandler) handleEditThread(c *gin.Context) {
	room, ok := h.openRoom(c)
	if !ok {
		return
	}
	var patch collab.MetadataPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := room.EditThreadMetadata(c.Request.Context(), c.Param("thread"), patch); err != nil {
		h.writeRoomError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleAddComment(c *gin.Context) {
	room, ok := h.openRoom(c)
	if !ok {
		return
	}
	var request addCommentRequest
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Body) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := room.AddComment(c.Request.Context(), c.Param("thread"), request.Body); err != nil {
		h.writeRoomError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleExportPDF(c *gin.Context) {
	room, ok := h.openRoom(c)
	if !ok {
		return
	}
	var buffer bytes.Buffer
	if err := export.WritePDF(&buffer, room.Entries(), h.export); err != nil {
		h.logger.Error("pdf export failed", zap.String("room_id", room.ID().String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "export_failed"})
		return
	}
	c.Data(http.StatusOK, "application/pdf", buffer.Bytes())
}

func (h *httpHandler) handleExportPNG(c *gin.Context) {
	room, ok := h.openRoom(c)
	if !ok {
		return
	}
	var buffer bytes.Buffer
	if err := export.WritePNG(&buffer, room.Entries(), h.export); err != nil {
		h.logger.Error("png export failed", zap.String("room_id", room.ID().String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "export_failed"})
		return
	}
	c.Data(http.StatusOK, "image/png", buffer.Bytes())
}

func (h *httpHandler) handleLive(c *gin.Context) {
	room, ok := h.openRoom(c)
	if !ok {
		return
	}
	sessionCtx, ok := h.sessions.begin()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shutting_down"})
		return
	}
	defer h.sessions.end()
	socket, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	session := newLiveSession(room.Join(), socket, h.heartbeat, h.logger)
	h.logger.Debug("live session opened", zap.String("room_id", room.ID().String()))
	session.run(sessionCtx)
}

func (h *httpHandler) writeRoomError(c *gin.Context, err error) {
	code := ""
	var serviceErr *rooms.ServiceError
	if errors.As(err, &serviceErr) {
		code = serviceErr.Code()
	}
	if errors.Is(err, rooms.ErrThreadNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "thread_not_found", "code": code})
		return
	}
	h.logger.Error("room operation failed", zap.String("code", code), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "room_operation_failed", "code": code})
}
