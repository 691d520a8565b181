package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/sketchroom/internal/collab"
	"github.com/MarcoPoloResearchLab/sketchroom/internal/rooms"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	liveRequestPresence     = "presence"
	liveRequestBroadcast    = "broadcast"
	liveRequestSet          = "set"
	liveRequestDelete       = "delete"
	liveRequestUndo         = "undo"
	liveRequestRedo         = "redo"
	liveRequestCreateThread = "thread.create"
	liveRequestEditThread   = "thread.edit"
	liveRequestAddComment   = "comment.add"

	liveWriteWait     = 10 * time.Second
	liveCloseGrace    = time.Second
	liveMaxFrameBytes = 1 << 20
)

var errUnknownRequest = errors.New("unknown request type")

// liveRequest is one client frame. Only the fields of its type are read. A request that carries a
// RequestID is answered with an ack frame, or an error frame naming the same id.
type liveRequest struct {
	Type      string                 `json:"type"`
	RequestID string                 `json:"requestId,omitempty"`
	Key       string                 `json:"key,omitempty"`
	Value     json.RawMessage        `json:"value,omitempty"`
	Presence  json.RawMessage        `json:"presence,omitempty"`
	Payload   json.RawMessage        `json:"payload,omitempty"`
	ThreadID  string                 `json:"threadId,omitempty"`
	Body      string                 `json:"body,omitempty"`
	Metadata  *collab.ThreadMetadata `json:"metadata,omitempty"`
	Patch     *collab.MetadataPatch  `json:"patch,omitempty"`
}

type welcomePayload struct {
	ConnectionID int                  `json:"connectionId"`
	Entries      []collab.Entry       `json:"entries"`
	Others       []collab.Participant `json:"others"`
	Threads      []collab.Thread      `json:"threads"`
}

type errorPayload struct {
	Request   string `json:"request"`
	RequestID string `json:"requestId,omitempty"`
	Code      string `json:"code,omitempty"`
	Error     string `json:"error"`
}

// ackPayload answers a request that carried an id. Result is set for undo and redo (whether
// anything was applied) and for thread.create (the new thread).
type ackPayload struct {
	RequestID string `json:"requestId"`
	Result    any    `json:"result,omitempty"`
}

// liveSession bridges one websocket client into a room as a regular connection.
type liveSession struct {
	connection *rooms.Connection
	socket     *websocket.Conn
	outbox     *liveOutbox
	heartbeat  time.Duration
	logger     *zap.Logger
}

func newLiveSession(connection *rooms.Connection, socket *websocket.Conn, heartbeat time.Duration, logger *zap.Logger) *liveSession {
	return &liveSession{
		connection: connection,
		socket:     socket,
		outbox:     newLiveOutbox(defaultEventBuffer),
		heartbeat:  heartbeat,
		logger: logger.With(
			zap.String("room_id", connection.Room().ID().String()),
			zap.Int("connection_id", connection.ID())),
	}
}

// run serves the client until it disconnects, then leaves the room.
func (s *liveSession) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	unsubscribe := s.subscribe()
	writerDone := make(chan struct{})
	defer func() {
		cancel()
		<-writerDone
		unsubscribe()
		s.outbox.Close()
		s.connection.Leave()
		_ = s.socket.Close()
		s.logger.Debug("live session closed", zap.Int("dropped_events", s.outbox.Dropped()))
	}()

	s.publish(LiveMessageWelcome, welcomePayload{
		ConnectionID: s.connection.ID(),
		Entries:      s.connection.Entries(),
		Others:       s.connection.Others(),
		Threads:      s.connection.Room().Threads(),
	})

	go func() {
		defer close(writerDone)
		s.writeLoop(ctx)
	}()
	s.readLoop(ctx)
}

func (s *liveSession) subscribe() func() {
	unsubscribers := []func(){
		s.connection.SubscribeChanges(func(entries []collab.Entry) { s.publish(LiveMessageStorage, entries) }),
		s.connection.SubscribeOthers(func(others []collab.Participant) { s.publish(LiveMessageOthers, others) }),
		s.connection.SubscribeEvents(func(event collab.Event) { s.publish(LiveMessageEvent, event) }),
		s.connection.SubscribeThreads(func(threads []collab.Thread) { s.publish(LiveMessageThreads, threads) }),
	}
	return func() {
		for _, unsubscribe := range unsubscribers {
			unsubscribe()
		}
	}
}

func (s *liveSession) publish(messageType string, payload any) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("failed to encode live message", zap.String("type", messageType), zap.Error(err))
		return
	}
	s.outbox.Publish(LiveMessage{Type: messageType, Payload: encoded})
}

func (s *liveSession) reply(messageType string, payload any) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("failed to encode live reply", zap.String("type", messageType), zap.Error(err))
		return
	}
	s.outbox.PublishReply(LiveMessage{Type: messageType, Payload: encoded})
}

func (s *liveSession) readLoop(ctx context.Context) {
	s.socket.SetReadLimit(liveMaxFrameBytes)
	pongWait := 2 * s.heartbeat
	_ = s.socket.SetReadDeadline(time.Now().Add(pongWait))
	s.socket.SetPongHandler(func(string) error {
		if ctx.Err() != nil {
			return nil
		}
		return s.socket.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var request liveRequest
		if err := s.socket.ReadJSON(&request); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("live session read failed", zap.Error(err))
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		_ = s.socket.SetReadDeadline(time.Now().Add(pongWait))
		result, err := s.handle(ctx, request)
		if err != nil {
			s.reject(request, err)
			continue
		}
		if request.RequestID != "" {
			s.reply(LiveMessageAck, ackPayload{RequestID: request.RequestID, Result: result})
		}
	}
}

func (s *liveSession) handle(ctx context.Context, request liveRequest) (any, error) {
	switch request.Type {
	case liveRequestPresence:
		patches, err := collab.PatchesFromJSON(request.Presence)
		if err != nil {
			return nil, err
		}
		s.connection.UpdatePresence(patches...)
		return nil, nil
	case liveRequestBroadcast:
		return nil, s.connection.Broadcast(request.Payload)
	case liveRequestSet:
		return nil, s.connection.Set(request.Key, request.Value)
	case liveRequestDelete:
		return nil, s.connection.Delete(request.Key)
	case liveRequestUndo:
		return s.connection.Undo()
	case liveRequestRedo:
		return s.connection.Redo()
	case liveRequestCreateThread:
		input := collab.NewThread{Body: request.Body}
		if request.Metadata != nil {
			input.Metadata = *request.Metadata
		}
		return s.connection.CreateThread(ctx, input)
	case liveRequestEditThread:
		if request.Patch == nil {
			return nil, fmt.Errorf("%w: patch is required", errInvalidRequest)
		}
		return nil, s.connection.EditThreadMetadata(ctx, request.ThreadID, *request.Patch)
	case liveRequestAddComment:
		return nil, s.connection.AddComment(ctx, request.ThreadID, request.Body)
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownRequest, request.Type)
	}
}

func (s *liveSession) reject(request liveRequest, err error) {
	payload := errorPayload{Request: request.Type, RequestID: request.RequestID, Error: err.Error()}
	var serviceErr *rooms.ServiceError
	if errors.As(err, &serviceErr) {
		payload.Code = serviceErr.Code()
	}
	s.logger.Debug("live request rejected", zap.String("request", request.Type), zap.Error(err))
	if request.RequestID != "" {
		s.reply(LiveMessageError, payload)
		return
	}
	s.publish(LiveMessageError, payload)
}

func (s *liveSession) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = s.socket.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(liveWriteWait))
			// the reader is still blocked on the client; give it a moment to answer the close
			_ = s.socket.SetReadDeadline(time.Now().Add(liveCloseGrace))
			return
		case <-s.outbox.Wake():
			for _, message := range s.outbox.Drain() {
				_ = s.socket.SetWriteDeadline(time.Now().Add(liveWriteWait))
				if err := s.socket.WriteJSON(message); err != nil {
					s.logger.Warn("live session write failed", zap.Error(err))
					_ = s.socket.Close()
					return
				}
			}
		case <-ticker.C:
			if err := s.socket.WriteControl(websocket.PingMessage, nil, time.Now().Add(liveWriteWait)); err != nil {
				s.logger.Debug("live session ping failed", zap.Error(err))
				_ = s.socket.Close()
				return
			}
		}
	}
}
