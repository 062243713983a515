package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"

	"github.com/hongjun500/im-go/internal/model"
)

// 幂等记录的三个状态
const (
	StatusProcessing = "PROCESSING"
	StatusSuccess    = "SUCCESS"
	StatusFailed     = "FAILED"
)

// 状态保留时长：成功 24 小时，失败 1 小时，在途短暂
const (
	successTTL    = 24 * time.Hour
	failedTTL     = time.Hour
	processingTTL = 5 * time.Minute
)

// Dedup 幂等记录与重放缓存。
// 同一 messageId 最多只有一次终态 SUCCESS 写入；并发重复提交要么看到
// PROCESSING（直接放弃），要么看到终态和缓存内容（走重放，不重算）。
type Dedup interface {
	GetStatus(ctx context.Context, tenantID int32, messageID string) (string, error)
	SetStatus(ctx context.Context, tenantID int32, messageID, status string) error
	// Clear 抹掉状态，权限拒绝等"无副作用中止"路径使用
	Clear(ctx context.Context, tenantID int32, messageID string) error

	GetContent(ctx context.Context, tenantID int32, messageID string) (*model.MessageContent, error)
	SetContent(ctx context.Context, tenantID int32, messageID string, msg *model.MessageContent) error
}

func statusKey(tenantID int32, messageID string) string {
	return fmt.Sprintf("%d:msgStatus:%s", tenantID, messageID)
}

func contentKey(tenantID int32, messageID string) string {
	return fmt.Sprintf("%d:cacheMessage:%s", tenantID, messageID)
}

func statusTTL(status string) time.Duration {
	switch status {
	case StatusSuccess:
		return successTTL
	case StatusFailed:
		return failedTTL
	default:
		return processingTTL
	}
}

// RedisDedup 共享幂等存储，前置一层本地缓存减少重放时的往返
type RedisDedup struct {
	cli   *redis.Client
	local *expirable.LRU[string, *model.MessageContent]
}

func NewRedisDedup(cli *redis.Client) *RedisDedup {
	return &RedisDedup{
		cli:   cli,
		local: expirable.NewLRU[string, *model.MessageContent](8192, nil, 10*time.Minute),
	}
}

func (d *RedisDedup) GetStatus(ctx context.Context, tenantID int32, messageID string) (string, error) {
	v, err := d.cli.Get(ctx, statusKey(tenantID, messageID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return v, err
}

func (d *RedisDedup) SetStatus(ctx context.Context, tenantID int32, messageID, status string) error {
	return d.cli.Set(ctx, statusKey(tenantID, messageID), status, statusTTL(status)).Err()
}

func (d *RedisDedup) Clear(ctx context.Context, tenantID int32, messageID string) error {
	return d.cli.Del(ctx, statusKey(tenantID, messageID)).Err()
}

func (d *RedisDedup) GetContent(ctx context.Context, tenantID int32, messageID string) (*model.MessageContent, error) {
	key := contentKey(tenantID, messageID)
	if msg, ok := d.local.Get(key); ok {
		return msg, nil
	}
	raw, err := d.cli.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var msg model.MessageContent
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return nil, err
	}
	d.local.Add(key, &msg)
	return &msg, nil
}

func (d *RedisDedup) SetContent(ctx context.Context, tenantID int32, messageID string, msg *model.MessageContent) error {
	key := contentKey(tenantID, messageID)
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := d.cli.Set(ctx, key, payload, successTTL).Err(); err != nil {
		return err
	}
	d.local.Add(key, msg)
	return nil
}

// MemoryDedup 进程内实现，单机部署和测试使用
type MemoryDedup struct {
	mu       sync.Mutex
	statuses map[string]memoryStatus
	contents map[string]*model.MessageContent
}

type memoryStatus struct {
	status   string
	deadline time.Time
}

func NewMemoryDedup() *MemoryDedup {
	return &MemoryDedup{
		statuses: make(map[string]memoryStatus),
		contents: make(map[string]*model.MessageContent),
	}
}

func (d *MemoryDedup) GetStatus(_ context.Context, tenantID int32, messageID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.statuses[statusKey(tenantID, messageID)]
	if !ok || time.Now().After(s.deadline) {
		return "", nil
	}
	return s.status, nil
}

func (d *MemoryDedup) SetStatus(_ context.Context, tenantID int32, messageID, status string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.statuses[statusKey(tenantID, messageID)] = memoryStatus{
		status:   status,
		deadline: time.Now().Add(statusTTL(status)),
	}
	return nil
}

func (d *MemoryDedup) Clear(_ context.Context, tenantID int32, messageID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.statuses, statusKey(tenantID, messageID))
	return nil
}

func (d *MemoryDedup) GetContent(_ context.Context, tenantID int32, messageID string) (*model.MessageContent, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.contents[contentKey(tenantID, messageID)], nil
}

func (d *MemoryDedup) SetContent(_ context.Context, tenantID int32, messageID string, msg *model.MessageContent) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.contents[contentKey(tenantID, messageID)] = msg
	return nil
}
