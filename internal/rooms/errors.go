package rooms

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingStore      = errors.New("store is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingClient     = errors.New("redis client is required")
	errConnectionClosed  = errors.New("connection has left the room")
	noOpLogger           = zap.NewNop()
)

var (
	// ErrInvalidRoomID indicates a room identifier that fails validation.
	ErrInvalidRoomID = errors.New("rooms: invalid room id")
	// ErrThreadNotFound indicates an edit against an unknown thread.
	ErrThreadNotFound = errors.New("rooms: thread not found")
	// ErrEmptyKey indicates a document write without a key.
	ErrEmptyKey = errors.New("rooms: document key is required")
	// ErrInvalidValue indicates a document value that is not valid JSON.
	ErrInvalidValue = errors.New("rooms: document value must be valid json")
)

// ServiceError carries a stable "<operation>.<reason>" code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opHubNew          = "rooms.hub.new"
	opHubOpen         = "rooms.hub.open"
	opStoreNew        = "rooms.store.new"
	opLoadShapes      = "rooms.load_shapes"
	opSaveShape       = "rooms.save_shape"
	opDeleteShape     = "rooms.delete_shape"
	opLoadThreads     = "rooms.load_threads"
	opSaveThread      = "rooms.save_thread"
	opDocumentSet     = "rooms.document.set"
	opDocumentDelete  = "rooms.document.delete"
	opHistoryApply    = "rooms.history.apply"
	opCreateThread    = "rooms.threads.create"
	opEditThread      = "rooms.threads.edit_metadata"
	opAddComment      = "rooms.threads.add_comment"
	opMirrorNew       = "rooms.presence_mirror.new"
	opMirrorPublish   = "rooms.presence_mirror.publish"
	opMirrorRemove    = "rooms.presence_mirror.remove"
	opMirrorListing   = "rooms.presence_mirror.participants"
	opMirrorUnmarshal = "rooms.presence_mirror.decode"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

func logError(logger *zap.Logger, operation, reason string, err error, fields ...zap.Field) {
	if logger == nil {
		logger = noOpLogger
	}
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	logger.Error("rooms service error", attrs...)
}
