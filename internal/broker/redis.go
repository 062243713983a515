package broker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hongjun500/im-go/internal/observe"
	"github.com/hongjun500/im-go/internal/protocol"
	"github.com/hongjun500/im-go/pkg/logger"
)

// RedisBroker 登录广播用 redis pub/sub，业务队列用 stream 消费组
type RedisBroker struct {
	cli *redis.Client
}

func NewRedisBroker(cli *redis.Client) *RedisBroker { return &RedisBroker{cli: cli} }

func (b *RedisBroker) PublishLogin(ctx context.Context, evt *LoginEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return b.cli.Publish(ctx, LoginChannel, payload).Err()
}

func (b *RedisBroker) SubscribeLogin(ctx context.Context, fn LoginHandler) error {
	sub := b.cli.Subscribe(ctx, LoginChannel)
	defer func() { _ = sub.Close() }()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var evt LoginEvent
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				logger.L().Sugar().Warnw("login_event_corrupt", "payload", msg.Payload)
				continue
			}
			fn(ctx, &evt)
		}
	}
}

func (b *RedisBroker) Publish(ctx context.Context, queue string, env *protocol.CommandEnvelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.cli.XAdd(ctx, &redis.XAddArgs{Stream: queue, Values: map[string]any{"data": payload}}).Err()
}

func (b *RedisBroker) Consume(ctx context.Context, queue, group, consumer string, fn Handler) error {
	// 队列和消费组不存在则先建好
	_ = b.cli.XGroupCreateMkStream(ctx, queue, group, "$").Err()
	for {
		res, err := b.cli.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: consumer,
			Streams:  []string{queue, ">"},
			Count:    100,
			Block:    5 * time.Second,
		}).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// 瞬时错误，继续拉
			continue
		}
		for _, str := range res {
			for _, xmsg := range str.Messages {
				raw, _ := xmsg.Values["data"].(string)
				var env protocol.CommandEnvelope
				if err := json.Unmarshal([]byte(raw), &env); err != nil {
					logger.L().Sugar().Warnw("queue_message_corrupt", "queue", queue, "id", xmsg.ID)
					observe.IncBrokerPoison()
				} else if err := fn(ctx, &env); err != nil {
					// 不可恢复失败：丢弃，不回灌
					logger.L().Sugar().Warnw("queue_message_dropped", "queue", queue, "id", xmsg.ID, "command", env.Command, "err", err)
					observe.IncBrokerPoison()
				}
				_ = b.cli.XAck(ctx, queue, group, xmsg.ID).Err()
			}
		}
	}
}
