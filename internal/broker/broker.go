// Package broker 封装节点间的消息编织层：
// 登录广播走 pub/sub（所有节点都收），业务指令走带消费组的队列。
// 投递语义是 at-least-once，消费成功才 ack；处理失败的消息记日志后丢弃，
// 绝不回灌队列。
package broker

import (
	"context"

	"github.com/hongjun500/im-go/internal/protocol"
)

// 业务分类队列
const (
	QueueMessage = "im2MessageService"
	QueueGroup   = "im2GroupService"
	QueueFriend  = "im2FriendshipService"
	QueueUser    = "im2UserService"
)

// LoginChannel 用户上线广播频道
const LoginChannel = "signal/channel/LOGIN_USER_INNER_QUEUE"

// NodeQueue 每个节点的下行投递队列，跨节点推送走这里
func NodeQueue(nodeID string) string { return "node:" + nodeID }

// LoginEvent 登录广播事件，多端登录互踢的输入
type LoginEvent struct {
	TenantID    int32  `json:"tenantId"`
	UserID      string `json:"userId"`
	DeviceClass int32  `json:"deviceClass"`
	DeviceID    string `json:"deviceId"`
	NodeID      string `json:"nodeId"`
}

// Handler 队列消费回调，返回错误表示不可恢复失败，消息按毒丢弃
type Handler func(ctx context.Context, env *protocol.CommandEnvelope) error

// LoginHandler 登录广播回调，必须对重复投递幂等
type LoginHandler func(ctx context.Context, evt *LoginEvent)

type Broker interface {
	PublishLogin(ctx context.Context, evt *LoginEvent) error
	// SubscribeLogin 阻塞消费登录广播直到 ctx 结束
	SubscribeLogin(ctx context.Context, fn LoginHandler) error

	Publish(ctx context.Context, queue string, env *protocol.CommandEnvelope) error
	// Consume 阻塞消费指定队列直到 ctx 结束
	Consume(ctx context.Context, queue, group, consumer string, fn Handler) error
}
