// Package hooks 定义核心消费的外部协作方接口：
// 发送前的权限校验（好友关系、禁言等业务规则在外部）和发送前后的回调通知。
package hooks

import (
	"context"
	"fmt"
)

// ErrSendDenied 权限校验拒绝时的哨兵错误，可用 fmt.Errorf %w 包装带上原因
var ErrSendDenied = fmt.Errorf("hooks: send denied")

// Authorizer 发送前置校验，返回非 nil 即拒绝
type Authorizer interface {
	CheckSend(ctx context.Context, tenantID int32, fromID, toID string) error
}

// Callback 消息发送前后的回调通知。
// BeforeSend 返回非 nil 中止发送；AfterSend 尽力而为，不阻塞应答路径。
type Callback interface {
	BeforeSend(ctx context.Context, payload []byte) error
	AfterSend(ctx context.Context, payload []byte)
}

// AllowAll 放行一切的默认实现
type AllowAll struct{}

func (AllowAll) CheckSend(context.Context, int32, string, string) error { return nil }

// NopCallback 默认空回调
type NopCallback struct{}

func (NopCallback) BeforeSend(context.Context, []byte) error { return nil }
func (NopCallback) AfterSend(context.Context, []byte)        {}
