package session

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/hongjun500/im-go/internal/model"
	"github.com/hongjun500/im-go/pkg/logger"
)

// RedisStore 基于 redis hash 的会话存储实现
type RedisStore struct {
	cli *redis.Client
}

func NewRedisStore(cli *redis.Client) *RedisStore { return &RedisStore{cli: cli} }

func (s *RedisStore) Upsert(ctx context.Context, rec *model.SessionRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.cli.HSet(ctx, sessionKey(rec.TenantID, rec.UserID), rec.Field(), payload).Err()
}

func (s *RedisStore) SetState(ctx context.Context, tenantID int32, userID string, deviceClass int32, deviceID string, state int) error {
	key := sessionKey(tenantID, userID)
	field := model.DeviceField(deviceClass, deviceID)
	raw, err := s.cli.HGet(ctx, key, field).Result()
	if err == redis.Nil {
		return ErrSessionNotFound
	}
	if err != nil {
		return err
	}
	var rec model.SessionRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return err
	}
	rec.ConnectState = state
	payload, err := json.Marshal(&rec)
	if err != nil {
		return err
	}
	return s.cli.HSet(ctx, key, field, payload).Err()
}

func (s *RedisStore) Delete(ctx context.Context, tenantID int32, userID string, deviceClass int32, deviceID string) error {
	return s.cli.HDel(ctx, sessionKey(tenantID, userID), model.DeviceField(deviceClass, deviceID)).Err()
}

func (s *RedisStore) List(ctx context.Context, tenantID int32, userID string) ([]model.SessionRecord, error) {
	raw, err := s.cli.HGetAll(ctx, sessionKey(tenantID, userID)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]model.SessionRecord, 0, len(raw))
	for field, v := range raw {
		var rec model.SessionRecord
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			// 坏记录跳过，不让一个脏 field 拖垮整个查询
			logger.L().Sugar().Warnw("session_record_corrupt", "key", sessionKey(tenantID, userID), "field", field)
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *RedisStore) IsOnline(ctx context.Context, tenantID int32, userID string) (bool, error) {
	recs, err := s.List(ctx, tenantID, userID)
	if err != nil {
		return false, err
	}
	for _, rec := range recs {
		if rec.ConnectState == model.StateOnline {
			return true, nil
		}
	}
	return false, nil
}
