package offline

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/hongjun500/im-go/internal/model"
	"github.com/hongjun500/im-go/internal/observe"
	"github.com/hongjun500/im-go/pkg/logger"
)

// RedisStore 基于 zset 的离线积压，score 为消息序列号
type RedisStore struct {
	cli *redis.Client
	max int64
}

func NewRedisStore(cli *redis.Client, max int64) *RedisStore {
	if max <= 0 {
		max = DefaultMax
	}
	return &RedisStore{cli: cli, max: max}
}

func (s *RedisStore) Append(ctx context.Context, tenantID int32, ownerID string, entry *model.OfflineEntry) error {
	key := backlogKey(tenantID, ownerID)
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := s.cli.ZAdd(ctx, key, redis.Z{Score: float64(entry.Sequence), Member: payload}).Err(); err != nil {
		return err
	}
	card, err := s.cli.ZCard(ctx, key).Result()
	if err != nil {
		return err
	}
	if card > s.max {
		// 淘汰排名最靠前（序列号最小）的那部分
		removed, err := s.cli.ZRemRangeByRank(ctx, key, 0, card-s.max-1).Result()
		if err != nil {
			return err
		}
		observe.AddOfflineEvicted(float64(removed))
	}
	observe.IncOfflineEnqueued()
	return nil
}

func (s *RedisStore) SyncRange(ctx context.Context, tenantID int32, ownerID string, lastSeq, limit int64) (*model.SyncResult, error) {
	key := backlogKey(tenantID, ownerID)

	var maxSeq int64
	latest, err := s.cli.ZRevRangeWithScores(ctx, key, 0, 0).Result()
	if err != nil {
		return nil, err
	}
	if len(latest) > 0 {
		maxSeq = int64(latest[0].Score)
	}

	raw, err := s.cli.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min:   "(" + strconv.FormatInt(lastSeq, 10),
		Max:   "+inf",
		Count: limit,
	}).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]model.OfflineEntry, 0, len(raw))
	for _, v := range raw {
		var e model.OfflineEntry
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			logger.L().Sugar().Warnw("offline_entry_corrupt", "key", key)
			continue
		}
		entries = append(entries, e)
	}

	return &model.SyncResult{
		Entries:     entries,
		MaxSequence: maxSeq,
		Completed:   completed(entries, maxSeq, lastSeq),
	}, nil
}
