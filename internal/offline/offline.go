// Package offline 维护每用户按序列号排序的有界离线积压，
// 以及客户端补拉用的范围同步。超出上限淘汰序列号最小的条目——
// 这是有界保留，不是上限之外的投递保证。
package offline

import (
	"context"
	"fmt"

	"github.com/hongjun500/im-go/internal/model"
)

// DefaultMax 默认积压上限
const DefaultMax int64 = 1000

// Store 离线积压存储
type Store interface {
	// Append 写入一条，超限时先淘汰最早的
	Append(ctx context.Context, tenantID int32, ownerID string, entry *model.OfflineEntry) error
	// SyncRange 返回 sequence > lastSeq 的最多 limit 条（升序），
	// 以及积压当前的最大序列号和是否已拉平
	SyncRange(ctx context.Context, tenantID int32, ownerID string, lastSeq, limit int64) (*model.SyncResult, error)
}

func backlogKey(tenantID int32, ownerID string) string {
	return fmt.Sprintf("%d:offlineMessage:%s", tenantID, ownerID)
}

func completed(entries []model.OfflineEntry, maxSeq, lastSeq int64) bool {
	if len(entries) == 0 {
		return maxSeq <= lastSeq
	}
	return entries[len(entries)-1].Sequence == maxSeq
}
