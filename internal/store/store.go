// Package store 是持久层的窄接口：消息体与写扩散的历史索引行。
// 核心对它 store-then-forget，失败记日志不阻塞投递。
package store

import (
	"context"
	"fmt"

	"github.com/hongjun500/im-go/internal/model"
)

// ErrNotFound 按 messageKey 查不到消息体
var ErrNotFound = fmt.Errorf("store: message body not found")

// MessageStore 持久化协作方
type MessageStore interface {
	InsertMessageBody(ctx context.Context, body *model.MessageBody) error
	// InsertHistoryRows 单聊一条消息写两行（收发双方视角各一行）
	InsertHistoryRows(ctx context.Context, rows []model.HistoryRow) error
	QueryMessageBody(ctx context.Context, tenantID int32, messageKey string) (*model.MessageBody, error)
	// MarkDeleted 置删除标记，撤回使用
	MarkDeleted(ctx context.Context, tenantID int32, messageKey string) error
}
