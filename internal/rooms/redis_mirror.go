package rooms

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/sketchroom/internal/collab"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	presenceKeyPrefix  = "sketchroom:presence:"
	defaultPresenceTTL = 30 * time.Second
	redisDialTimeout   = 5 * time.Second
)

type RedisPresenceMirrorConfig struct {
	Client *redis.Client
	// InstanceID distinguishes connection ids issued by different server processes.
	InstanceID string
	TTL        time.Duration
	Logger     *zap.Logger
}

// RedisPresenceMirror keeps one hash per room with a field per live connection. The hash expires
// when no participant has published within TTL.
type RedisPresenceMirror struct {
	client     *redis.Client
	instanceID string
	ttl        time.Duration
	logger     *zap.Logger
}

// MirroredParticipant is a participant as seen across every server instance.
type MirroredParticipant struct {
	InstanceID string `json:"instanceId"`
	collab.Participant
}

// NewRedisClient parses redisURL and verifies the server is reachable.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, redisDialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

func NewRedisPresenceMirror(cfg RedisPresenceMirrorConfig) (*RedisPresenceMirror, error) {
	if cfg.Client == nil {
		return nil, newServiceError(opMirrorNew, "missing_client", errMissingClient)
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultPresenceTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	instanceID := strings.TrimSpace(cfg.InstanceID)
	if instanceID == "" {
		instanceID = "local"
	}
	return &RedisPresenceMirror{
		client:     cfg.Client,
		instanceID: instanceID,
		ttl:        ttl,
		logger:     logger,
	}, nil
}

func (m *RedisPresenceMirror) key(roomID RoomID) string {
	return presenceKeyPrefix + roomID.String()
}

func (m *RedisPresenceMirror) field(connectionID int) string {
	return fmt.Sprintf("%s:%d", m.instanceID, connectionID)
}

func (m *RedisPresenceMirror) Publish(ctx context.Context, roomID RoomID, participant collab.Participant) error {
	payload, err := json.Marshal(MirroredParticipant{InstanceID: m.instanceID, Participant: participant})
	if err != nil {
		return newServiceError(opMirrorPublish, "encode_failed", err)
	}
	key := m.key(roomID)
	pipeline := m.client.TxPipeline()
	pipeline.HSet(ctx, key, m.field(participant.ConnectionID), payload)
	pipeline.Expire(ctx, key, m.ttl)
	if _, err := pipeline.Exec(ctx); err != nil {
		return newServiceError(opMirrorPublish, "write_failed", err)
	}
	return nil
}

func (m *RedisPresenceMirror) Remove(ctx context.Context, roomID RoomID, connectionID int) error {
	if err := m.client.HDel(ctx, m.key(roomID), m.field(connectionID)).Err(); err != nil {
		return newServiceError(opMirrorRemove, "delete_failed", err)
	}
	return nil
}

// Participants lists every mirrored participant of the room ordered by instance then connection.
// Fields that fail to decode are logged and skipped.
func (m *RedisPresenceMirror) Participants(ctx context.Context, roomID RoomID) ([]MirroredParticipant, error) {
	fields, err := m.client.HGetAll(ctx, m.key(roomID)).Result()
	if err != nil {
		return nil, newServiceError(opMirrorListing, "read_failed", err)
	}
	participants := make([]MirroredParticipant, 0, len(fields))
	for field, value := range fields {
		var participant MirroredParticipant
		if err := json.Unmarshal([]byte(value), &participant); err != nil {
			logError(m.logger, opMirrorUnmarshal, "decode_failed", err, zap.String("field", field))
			continue
		}
		participants = append(participants, participant)
	}
	slices.SortFunc(participants, func(left, right MirroredParticipant) int {
		if byInstance := strings.Compare(left.InstanceID, right.InstanceID); byInstance != 0 {
			return byInstance
		}
		return left.ConnectionID - right.ConnectionID
	})
	return participants, nil
}
