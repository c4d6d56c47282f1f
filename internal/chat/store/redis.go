package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/travelmate-poc/server/internal/chat/model"
	"github.com/travelmate-poc/server/internal/core/errx"
	logx "github.com/travelmate-poc/server/pkg/logger"
)

// RedisStore keeps each session as a JSON metadata key plus a list of
// JSON-encoded turns, both refreshed to the configured TTL on write.
type RedisStore struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisStore(rdb redis.Cmdable, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (s *RedisStore) sessionKey(sessionID string) string {
	return fmt.Sprintf("session:%s:meta", sessionID)
}

func (s *RedisStore) turnsKey(sessionID string) string {
	return fmt.Sprintf("session:%s:turns", sessionID)
}

func (s *RedisStore) CreateSession(ctx context.Context, id string, metadata map[string]string) (*model.Session, error) {
	if id == "" {
		id = uuid.NewString()
	} else if err := validateSessionID(id); err != nil {
		return nil, err
	}

	sess := &model.Session{ID: id, CreatedAt: time.Now().UTC(), Metadata: metadata}
	b, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}

	key := s.sessionKey(id)
	set, err := s.rdb.SetNX(ctx, key, b, s.ttl).Result()
	if err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to persist session")
		return nil, errx.WrapRedis(err)
	}
	if !set {
		// Caller-supplied id retried: return the existing record.
		return s.GetSession(ctx, id)
	}
	return sess, nil
}

func (s *RedisStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	if err := validateSessionID(id); err != nil {
		return nil, err
	}
	raw, err := s.rdb.Get(ctx, s.sessionKey(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errx.NotFound(id)
		}
		logx.Error().Err(err).Str("sessionID", id).Msg("failed to load session")
		return nil, errx.WrapRedis(err)
	}
	var sess model.Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &sess, nil
}

func (s *RedisStore) AppendTurn(ctx context.Context, turn model.Turn) (string, error) {
	if err := validateSessionID(turn.SessionID); err != nil {
		return "", err
	}
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}

	b, err := json.Marshal(turn)
	if err != nil {
		logx.Error().Err(err).Str("sessionID", turn.SessionID).Msg("failed to marshal turn")
		return "", fmt.Errorf("marshal turn: %w", err)
	}

	key := s.turnsKey(turn.SessionID)
	if err := s.rdb.RPush(ctx, key, b).Err(); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to push turn to redis")
		return "", errx.WrapRedis(err)
	}
	// extend TTL on touch
	if s.ttl > 0 {
		for _, k := range []string{key, s.sessionKey(turn.SessionID)} {
			if ok, err := s.rdb.Expire(ctx, k, s.ttl).Result(); err != nil {
				logx.Error().Err(err).Str("key", k).Msg("failed to set expire")
				return "", errx.WrapRedis(err)
			} else if !ok {
				logx.Warn().Str("key", k).Dur("ttl", s.ttl).Msg("failed to refresh TTL on session key")
			}
		}
	}
	return turn.ID, nil
}

func (s *RedisStore) RecentTurns(ctx context.Context, sessionID string, limit int) ([]model.Turn, error) {
	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []model.Turn{}, nil
	}

	key := s.turnsKey(sessionID)
	// Negative start keeps the newest `limit` entries in append order.
	rows, err := s.rdb.LRange(ctx, key, int64(-limit), -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []model.Turn{}, nil
		}
		logx.Error().Err(err).Str("key", key).Msg("failed to load turns from redis")
		return nil, errx.WrapRedis(err)
	}

	turns := make([]model.Turn, 0, len(rows))
	for i, raw := range rows {
		var t model.Turn
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			logx.Error().Err(err).Str("sessionID", sessionID).Int("index", i).Msg("failed to unmarshal turn")
			return nil, fmt.Errorf("unmarshal turn at index %d: %w", i, err)
		}
		turns = append(turns, t)
	}
	return turns, nil
}

func (s *RedisStore) ClearSession(ctx context.Context, sessionID string) (bool, error) {
	if err := validateSessionID(sessionID); err != nil {
		return false, err
	}
	exists, err := s.rdb.Exists(ctx, s.sessionKey(sessionID)).Result()
	if err != nil {
		logx.Error().Err(err).Str("sessionID", sessionID).Msg("failed to check session existence")
		return false, errx.WrapRedis(err)
	}
	if exists == 0 {
		return false, nil
	}
	if err := s.rdb.Del(ctx, s.turnsKey(sessionID)).Err(); err != nil {
		logx.Error().Err(err).Str("sessionID", sessionID).Msg("failed to delete turn history from redis")
		return false, errx.WrapRedis(err)
	}
	return true, nil
}

func (s *RedisStore) Close() error { return nil }

var _ Store = (*RedisStore)(nil)
