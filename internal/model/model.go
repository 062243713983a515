package model

import (
	"encoding/json"
	"strconv"
)

// 会话连接状态
const (
	StateOnline  = 1
	StateOffline = 2
)

// SessionRecord 设备会话记录，存放在共享会话存储里，
// key 为 租户+用户，field 为 设备类型:设备号。
// 心跳超时只翻转 ConnectState，显式登出才整条删除。
type SessionRecord struct {
	TenantID     int32  `json:"tenantId"`
	UserID       string `json:"userId"`
	DeviceClass  int32  `json:"deviceClass"`
	DeviceID     string `json:"deviceId"`
	NodeID       string `json:"nodeId"`
	NodeAddr     string `json:"nodeAddr"`
	ConnectState int    `json:"connectState"`
}

// Field 会话哈希里的 field 名
func (r *SessionRecord) Field() string {
	return DeviceField(r.DeviceClass, r.DeviceID)
}

func DeviceField(deviceClass int32, deviceID string) string {
	return strconv.Itoa(int(deviceClass)) + ":" + deviceID
}

// MessageContent 一条单聊消息在管道内的完整形态。
// MessageID 由客户端生成用于去重，Sequence 由服务端在会话内单调分配。
type MessageContent struct {
	MessageID   string          `json:"messageId"`
	MessageKey  string          `json:"messageKey"` // 持久层主键，服务端生成
	TenantID    int32           `json:"tenantId"`
	FromID      string          `json:"fromId"`
	ToID        string          `json:"toId"`
	DeviceClass int32           `json:"deviceClass"`
	DeviceID    string          `json:"deviceId"`
	Body        json.RawMessage `json:"messageBody"`
	SendTime    int64           `json:"messageTime"` // 毫秒
	Sequence    int64           `json:"messageSequence"`
	Extra       string          `json:"extra,omitempty"`
}

// MessageBody 持久层的消息体行，删除标记用于撤回
type MessageBody struct {
	TenantID   int32           `json:"tenantId"`
	MessageKey string          `json:"messageKey"`
	Body       json.RawMessage `json:"messageBody"`
	SendTime   int64           `json:"messageTime"`
	CreateTime int64           `json:"createTime"`
	Extra      string          `json:"extra,omitempty"`
	DelFlag    int             `json:"delFlag"`
}

// HistoryRow 写扩散出来的查询索引行，单聊一条消息两行（收发双方视角）
type HistoryRow struct {
	TenantID   int32  `json:"tenantId"`
	OwnerID    string `json:"ownerId"`
	FromID     string `json:"fromId"`
	ToID       string `json:"toId"`
	MessageKey string `json:"messageKey"`
	Sequence   int64  `json:"messageSequence"`
	CreateTime int64  `json:"createTime"`
}

// OfflineEntry 离线积压里的一条，按 Sequence 排序；DelFlag 置位表示撤回墓碑
type OfflineEntry struct {
	MessageID      string          `json:"messageId"`
	MessageKey     string          `json:"messageKey"`
	FromID         string          `json:"fromId"`
	ToID           string          `json:"toId"`
	ConversationID string          `json:"conversationId"`
	Sequence       int64           `json:"messageSequence"`
	Body           json.RawMessage `json:"messageBody"`
	SendTime       int64           `json:"messageTime"`
	DelFlag        int             `json:"delFlag"`
}

// SyncResult 离线消息范围拉取的结果
type SyncResult struct {
	Entries     []OfflineEntry `json:"dataList"`
	MaxSequence int64          `json:"maxSequence"`
	Completed   bool           `json:"completed"`
}
