// Package session 维护跨节点共享的设备会话记录，
// 供在线状态查询和跨节点投递寻址使用。
package session

import (
	"context"
	"fmt"

	"github.com/hongjun500/im-go/internal/model"
)

// Store 共享会话存储。记录以 租户+用户 为 key，设备类型:设备号 为 field。
type Store interface {
	// Upsert 登录时写入或覆盖整条会话记录
	Upsert(ctx context.Context, rec *model.SessionRecord) error
	// SetState 翻转连接状态，记录保留（心跳超时离线走这里）
	SetState(ctx context.Context, tenantID int32, userID string, deviceClass int32, deviceID string, state int) error
	// Delete 整条删除（仅显式登出）
	Delete(ctx context.Context, tenantID int32, userID string, deviceClass int32, deviceID string) error
	// List 返回该用户全部设备的会话记录
	List(ctx context.Context, tenantID int32, userID string) ([]model.SessionRecord, error)
	// IsOnline 任一设备在线即为 true
	IsOnline(ctx context.Context, tenantID int32, userID string) (bool, error)
}

// ErrSessionNotFound SetState 找不到对应记录时返回
var ErrSessionNotFound = fmt.Errorf("session: record not found")

func sessionKey(tenantID int32, userID string) string {
	return fmt.Sprintf("%d:userSession:%s", tenantID, userID)
}
