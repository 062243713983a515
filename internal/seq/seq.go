// Package seq 提供会话级单调递增的消息序列号。
// 序列号只增不复用，计数器推进了但后续写失败会留洞，可接受，但绝不回退。
package seq

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Seq 序列号发生器
type Seq interface {
	// Next 对指定 key 原子加一并返回
	Next(ctx context.Context, key string) (int64, error)
}

// P2PKey 单聊会话的序列号 key：参与者 id 排序后拼接，两个方向得到同一会话
func P2PKey(tenantID int32, fromID, toID string) string {
	a, b := fromID, toID
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d:messageSeq:%s_%s", tenantID, a, b)
}

// GroupKey 群聊会话的序列号 key
func GroupKey(tenantID int32, groupID string) string {
	return fmt.Sprintf("%d:groupMessageSeq:%s", tenantID, groupID)
}

// RedisSeq 基于 INCR 的分布式实现
type RedisSeq struct {
	cli *redis.Client
}

func NewRedisSeq(cli *redis.Client) *RedisSeq { return &RedisSeq{cli: cli} }

func (s *RedisSeq) Next(ctx context.Context, key string) (int64, error) {
	return s.cli.Incr(ctx, key).Result()
}

// MemorySeq 进程内实现
type MemorySeq struct {
	mu       sync.Mutex
	counters map[string]int64
}

func NewMemorySeq() *MemorySeq { return &MemorySeq{counters: make(map[string]int64)} }

func (s *MemorySeq) Next(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[key]++
	return s.counters[key], nil
}
