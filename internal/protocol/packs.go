package protocol

import "encoding/json"

// CommandEnvelope 路由到业务队列的统一信封，携带转发所需的全部元信息，
// 消息体原样透传，可重新序列化
type CommandEnvelope struct {
	Command     int32           `json:"command"`
	Version     int32           `json:"version"`
	DeviceClass int32           `json:"deviceClass"`
	DeviceID    string          `json:"deviceId"`
	TenantID    int32           `json:"tenantId"`
	Body        json.RawMessage `json:"body"`
}

// MessagePack 服务端主动下行的数据包，经 Encoder 编码后推给目标连接
type MessagePack struct {
	Command     int32  `json:"command"`
	UserID      string `json:"userId"`
	ToID        string `json:"toId"`
	TenantID    int32  `json:"tenantId"`
	DeviceClass int32  `json:"deviceClass,omitempty"`
	DeviceID    string `json:"deviceId,omitempty"`
	Data        any    `json:"data,omitempty"`
}

// AckResult 下行应答的统一外壳
type AckResult struct {
	Code int    `json:"code"`
	Msg  string `json:"msg,omitempty"`
	Data any    `json:"data,omitempty"`
}

const (
	CodeOK               = 200
	CodeSendDenied       = 40001
	CodeProcessFailed    = 50001
	CodeRecallTimeout    = 51001
	CodeRecallNotFound   = 51002
	CodeRecalledAlready  = 51003
)

func OKResult(data any) AckResult { return AckResult{Code: CodeOK, Data: data} }

func ErrResult(code int, msg string) AckResult { return AckResult{Code: code, Msg: msg} }

// LoginPack 登录请求消息体
type LoginPack struct {
	UserID string `json:"userId"`
}

// LoginAckPack 登录成功应答
type LoginAckPack struct {
	UserID string `json:"userId"`
}

// ChatMessageAck 单聊消息应答，带服务端确定的序列号
type ChatMessageAck struct {
	MessageID string `json:"messageId"`
	Sequence  int64  `json:"messageSequence,omitempty"`
}

// ReceiveAckPack 接收确认：对端离线时由服务端代发（ServerSend=true）
type ReceiveAckPack struct {
	FromID     string `json:"fromId"`
	ToID       string `json:"toId"`
	MessageKey string `json:"messageKey"`
	Sequence   int64  `json:"messageSequence"`
	ServerSend bool   `json:"serverSend"`
}

// ReadPack 已读上报与回执共用的数据体
type ReadPack struct {
	FromID   string `json:"fromId"`
	ToID     string `json:"toId"`
	Sequence int64  `json:"messageSequence"`
}

// RecallPack 撤回请求/通知
type RecallPack struct {
	FromID      string `json:"fromId"`
	ToID        string `json:"toId"`
	MessageKey  string `json:"messageKey"`
	MessageTime int64  `json:"messageTime"`
}

// SyncPack 离线消息范围拉取请求
type SyncPack struct {
	UserID       string `json:"userId"`
	LastSequence int64  `json:"lastSequence"`
	MaxLimit     int64  `json:"maxLimit"`
}

// UserStatusPack 用户在线状态变更事件
type UserStatusPack struct {
	UserID string `json:"userId"`
	Status int    `json:"status"` // 1 在线 2 离线
}
