package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hongjun500/im-go/internal/model"
	"github.com/hongjun500/im-go/internal/observe"
	"github.com/hongjun500/im-go/internal/protocol"
	"github.com/hongjun500/im-go/internal/seq"
	"github.com/hongjun500/im-go/internal/store"
	"github.com/hongjun500/im-go/pkg/logger"
)

// RecallWindow 发出后允许撤回的时长
const RecallWindow = 2 * time.Minute

// Recall 撤回一条已发送的消息。
// 超窗、查不到、已撤回分别用不同错误码应答；成功则置删除标记、
// 给双方写撤回墓碑并通知双方在线端。无论结果如何都会给请求端一个应答。
func (s *Service) Recall(ctx context.Context, env *protocol.CommandEnvelope) error {
	var pack protocol.RecallPack
	if err := json.Unmarshal(env.Body, &pack); err != nil {
		return err
	}
	ack := func(result protocol.AckResult, outcome string) {
		observe.IncRecall(outcome)
		s.deliver.SendToDevice(ctx, env.TenantID, pack.FromID, env.DeviceClass, env.DeviceID,
			protocol.CmdMsgRecallAck, result)
	}

	body, err := s.store.QueryMessageBody(ctx, env.TenantID, pack.MessageKey)
	if err == store.ErrNotFound {
		ack(protocol.ErrResult(protocol.CodeRecallNotFound, "message not found"), "not_found")
		return nil
	}
	if err != nil {
		logger.L().Sugar().Errorw("recall_query_failed", "messageKey", pack.MessageKey, "err", err)
		ack(protocol.ErrResult(protocol.CodeProcessFailed, "recall failed"), "error")
		return nil
	}
	// 时间窗按服务端存储的发送时间判定，客户端带来的时间只作通知展示
	if time.Since(time.UnixMilli(body.SendTime)) > RecallWindow {
		ack(protocol.ErrResult(protocol.CodeRecallTimeout, "message too old to recall"), "timeout")
		return nil
	}
	if body.DelFlag != 0 {
		ack(protocol.ErrResult(protocol.CodeRecalledAlready, "message already recalled"), "already")
		return nil
	}
	if err := s.store.MarkDeleted(ctx, env.TenantID, pack.MessageKey); err != nil {
		logger.L().Sugar().Errorw("recall_mark_failed", "messageKey", pack.MessageKey, "err", err)
		ack(protocol.ErrResult(protocol.CodeProcessFailed, "recall failed"), "error")
		return nil
	}

	// 墓碑占一个新序列号，补拉离线时客户端按序看到撤回
	seqNo, err := s.seq.Next(ctx, seq.P2PKey(env.TenantID, pack.FromID, pack.ToID))
	if err != nil {
		logger.L().Sugar().Errorw("recall_seq_failed", "messageKey", pack.MessageKey, "err", err)
		ack(protocol.ErrResult(protocol.CodeProcessFailed, "recall failed"), "error")
		return nil
	}
	tombstone := &model.OfflineEntry{
		MessageKey:     pack.MessageKey,
		FromID:         pack.FromID,
		ToID:           pack.ToID,
		ConversationID: conversationID(pack.FromID, pack.ToID),
		Sequence:       seqNo,
		SendTime:       time.Now().UnixMilli(),
		DelFlag:        1,
	}
	for _, owner := range []string{pack.FromID, pack.ToID} {
		if err := s.offline.Append(ctx, env.TenantID, owner, tombstone); err != nil {
			logger.L().Sugar().Errorw("recall_tombstone_failed", "owner", owner, "err", err)
		}
	}

	s.deliver.SendToUser(ctx, env.TenantID, pack.ToID, protocol.CmdMsgRecallNotify, pack)
	s.deliver.SendToUserExcept(ctx, env.TenantID, pack.FromID,
		protocol.CmdMsgRecallNotify, pack, env.DeviceClass, env.DeviceID)
	ack(protocol.OKResult(pack), "success")
	return nil
}
