package broker

import (
	"context"
	"sync"

	"github.com/hongjun500/im-go/internal/observe"
	"github.com/hongjun500/im-go/internal/protocol"
	"github.com/hongjun500/im-go/pkg/logger"
)

// MemoryBroker 进程内编织层，单机部署和测试使用。
// 队列语义与 RedisBroker 对齐：消费失败即丢弃。
type MemoryBroker struct {
	mu     sync.Mutex
	queues map[string]chan *protocol.CommandEnvelope
	logins []chan *LoginEvent
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{queues: make(map[string]chan *protocol.CommandEnvelope)}
}

func (b *MemoryBroker) queue(name string) chan *protocol.CommandEnvelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok {
		q = make(chan *protocol.CommandEnvelope, 1024)
		b.queues[name] = q
	}
	return q
}

func (b *MemoryBroker) PublishLogin(_ context.Context, evt *LoginEvent) error {
	b.mu.Lock()
	subs := append([]chan *LoginEvent(nil), b.logins...)
	b.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- evt:
		default:
			logger.L().Sugar().Warnw("login_event_dropped_slow_subscriber")
		}
	}
	return nil
}

func (b *MemoryBroker) SubscribeLogin(ctx context.Context, fn LoginHandler) error {
	ch := make(chan *LoginEvent, 64)
	b.mu.Lock()
	b.logins = append(b.logins, ch)
	b.mu.Unlock()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt := <-ch:
			fn(ctx, evt)
		}
	}
}

func (b *MemoryBroker) Publish(_ context.Context, queue string, env *protocol.CommandEnvelope) error {
	select {
	case b.queue(queue) <- env:
		return nil
	default:
		logger.L().Sugar().Warnw("queue_full_dropped", "queue", queue, "command", env.Command)
		observe.IncBrokerPoison()
		return nil
	}
}

func (b *MemoryBroker) Consume(ctx context.Context, queue, _, _ string, fn Handler) error {
	q := b.queue(queue)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env := <-q:
			if err := fn(ctx, env); err != nil {
				logger.L().Sugar().Warnw("queue_message_dropped", "queue", queue, "command", env.Command, "err", err)
				observe.IncBrokerPoison()
			}
		}
	}
}
