// Package router 把入站指令按首位数字分类，转发到对应的业务队列。
// 登录、登出、心跳在连接层就地处理，不会进到这里。
package router

import (
	"context"

	"github.com/hongjun500/im-go/internal/broker"
	"github.com/hongjun500/im-go/internal/observe"
	"github.com/hongjun500/im-go/internal/protocol"
	"github.com/hongjun500/im-go/pkg/logger"
)

// Router 指令路由器
type Router struct {
	broker broker.Broker
}

func New(b broker.Broker) *Router { return &Router{broker: b} }

// QueueFor 指令分类对应的队列名，未识别分类返回空串
func QueueFor(command int32) string {
	switch protocol.CommandCategory(command) {
	case protocol.CategoryMessage:
		return broker.QueueMessage
	case protocol.CategoryGroup:
		return broker.QueueGroup
	case protocol.CategoryFriend:
		return broker.QueueFriend
	case protocol.CategoryUser:
		return broker.QueueUser
	default:
		return ""
	}
}

// Dispatch 把一个入站包发往业务队列。
// 未识别的分类打日志丢弃，错误绝不越过这道边界。
func (r *Router) Dispatch(ctx context.Context, p *protocol.Packet) {
	queue := QueueFor(p.Command)
	if queue == "" {
		logger.L().Sugar().Warnw("command_unroutable", "command", p.Command)
		observe.IncRouterDropped()
		return
	}
	env := &protocol.CommandEnvelope{
		Command:     p.Command,
		Version:     p.Version,
		DeviceClass: p.DeviceClass,
		DeviceID:    p.DeviceID,
		TenantID:    p.TenantID,
		Body:        p.Body,
	}
	if err := r.broker.Publish(ctx, queue, env); err != nil {
		logger.L().Sugar().Warnw("command_publish_failed", "command", p.Command, "queue", queue, "err", err)
	}
}
