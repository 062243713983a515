// Package pipeline 实现单聊消息的核心处理链路：
// 去重判定、发送校验、定序、落库、双向分发、离线兜底，以及已读/撤回/补拉。
// 应答在投递阶段就发出，落库失败不阻塞——持久层慢或坏时消息照常流转。
package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/hongjun500/im-go/internal/hooks"
	"github.com/hongjun500/im-go/internal/model"
	"github.com/hongjun500/im-go/internal/observe"
	"github.com/hongjun500/im-go/internal/offline"
	"github.com/hongjun500/im-go/internal/protocol"
	"github.com/hongjun500/im-go/internal/seq"
	"github.com/hongjun500/im-go/internal/store"
	"github.com/hongjun500/im-go/pkg/logger"
)

// Options 管道装配参数
type Options struct {
	Dedup    Dedup
	Seq      seq.Seq
	Store    store.MessageStore
	Offline  offline.Store
	Deliver  *Deliverer
	Auth     hooks.Authorizer
	Callback hooks.Callback
	// UseCallback 为 false 时跳过 Before/AfterSend
	UseCallback bool
	Workers     int
	WorkerQueue int
}

// Service 单聊消息处理服务
type Service struct {
	dedup    Dedup
	locks    *lockArena
	seq      seq.Seq
	store    store.MessageStore
	offline  offline.Store
	deliver  *Deliverer
	auth     hooks.Authorizer
	callback hooks.Callback

	useCallback bool
	pool        *Pool
}

func NewService(opts Options) *Service {
	if opts.Auth == nil {
		opts.Auth = hooks.AllowAll{}
	}
	if opts.Callback == nil {
		opts.Callback = hooks.NopCallback{}
	}
	return &Service{
		dedup:       opts.Dedup,
		locks:       newLockArena(),
		seq:         opts.Seq,
		store:       opts.Store,
		offline:     opts.Offline,
		deliver:     opts.Deliver,
		auth:        opts.Auth,
		callback:    opts.Callback,
		useCallback: opts.UseCallback,
		pool:        NewPool(opts.Workers, opts.WorkerQueue),
	}
}

// Shutdown 等在途任务跑完
func (s *Service) Shutdown() { s.pool.Shutdown() }

// Process 处理一条单聊消息。
// 同一 messageId 只定序落库一次；重复提交命中终态时走重放，
// 重新投递但不重新计算。队列消费侧按毒丢弃，所以这里不向上抛业务错误。
func (s *Service) Process(ctx context.Context, env *protocol.CommandEnvelope) error {
	var msg model.MessageContent
	if err := json.Unmarshal(env.Body, &msg); err != nil {
		return err
	}
	msg.TenantID = env.TenantID
	msg.DeviceClass = env.DeviceClass
	msg.DeviceID = env.DeviceID
	if msg.MessageID == "" {
		msg.MessageID = uuid.NewString()
	}

	mu := s.locks.get(dedupLockKey(msg.TenantID, msg.MessageID))
	mu.Lock()
	status, err := s.dedup.GetStatus(ctx, msg.TenantID, msg.MessageID)
	if err != nil {
		logger.L().Sugar().Warnw("dedup_status_failed", "messageId", msg.MessageID, "err", err)
	}
	switch status {
	case StatusSuccess:
		mu.Unlock()
		observe.IncMessage("replayed")
		task := func() { s.replay(detach(ctx), &msg) }
		s.pool.Submit(task)
		return nil
	case StatusProcessing:
		// 另一次提交正在处理，这次直接放弃
		mu.Unlock()
		observe.IncMessage("duplicate")
		return nil
	}
	if err := s.dedup.SetStatus(ctx, msg.TenantID, msg.MessageID, StatusProcessing); err != nil {
		logger.L().Sugar().Warnw("dedup_mark_failed", "messageId", msg.MessageID, "err", err)
	}
	mu.Unlock()

	if err := s.auth.CheckSend(ctx, msg.TenantID, msg.FromID, msg.ToID); err != nil {
		logger.L().Sugar().Infow("send_denied",
			"from", msg.FromID, "to", msg.ToID, "messageId", msg.MessageID, "err", err)
		s.ackError(ctx, &msg, protocol.CodeSendDenied, err.Error())
		_ = s.dedup.Clear(ctx, msg.TenantID, msg.MessageID)
		observe.IncMessage("denied")
		return nil
	}
	if s.useCallback {
		if err := s.callback.BeforeSend(ctx, env.Body); err != nil {
			s.ackError(ctx, &msg, protocol.CodeSendDenied, err.Error())
			_ = s.dedup.Clear(ctx, msg.TenantID, msg.MessageID)
			observe.IncMessage("denied")
			return nil
		}
	}

	raw := env.Body
	s.pool.Submit(func() { s.processAsync(detach(ctx), &msg, raw) })
	return nil
}

// processAsync 定序之后的主干，在工作池上执行
func (s *Service) processAsync(ctx context.Context, msg *model.MessageContent, raw []byte) {
	seqNo, err := s.seq.Next(ctx, seq.P2PKey(msg.TenantID, msg.FromID, msg.ToID))
	if err != nil {
		logger.L().Sugar().Errorw("seq_next_failed", "messageId", msg.MessageID, "err", err)
		s.fail(ctx, msg, "sequence unavailable")
		return
	}
	msg.Sequence = seqNo
	if msg.MessageKey == "" {
		msg.MessageKey = uuid.NewString()
	}
	if msg.SendTime == 0 {
		msg.SendTime = time.Now().UnixMilli()
	}

	s.persist(ctx, msg)

	// 应答带上服务端定出的序列号，客户端据此对齐会话时间线
	s.deliver.SendToDevice(ctx, msg.TenantID, msg.FromID, msg.DeviceClass, msg.DeviceID,
		protocol.CmdMsgAck, protocol.OKResult(protocol.ChatMessageAck{MessageID: msg.MessageID, Sequence: seqNo}))

	// 同步给发送方其他在线端，跳过来源端
	s.deliver.SendToUserExcept(ctx, msg.TenantID, msg.FromID, protocol.CmdMsgP2P, msg, msg.DeviceClass, msg.DeviceID)

	delivered := s.deliver.SendToUser(ctx, msg.TenantID, msg.ToID, protocol.CmdMsgP2P, msg)
	if delivered == 0 {
		if !s.storeOffline(ctx, msg) {
			s.fail(ctx, msg, "offline store unavailable")
			return
		}
		// 对端不在线，由服务端代发接收确认
		s.deliver.SendToDevice(ctx, msg.TenantID, msg.FromID, msg.DeviceClass, msg.DeviceID,
			protocol.CmdMsgReceiveAck, protocol.OKResult(protocol.ReceiveAckPack{
				FromID:     msg.FromID,
				ToID:       msg.ToID,
				MessageKey: msg.MessageKey,
				Sequence:   seqNo,
				ServerSend: true,
			}))
	}

	if err := s.dedup.SetContent(ctx, msg.TenantID, msg.MessageID, msg); err != nil {
		logger.L().Sugar().Warnw("dedup_cache_failed", "messageId", msg.MessageID, "err", err)
	}
	if err := s.dedup.SetStatus(ctx, msg.TenantID, msg.MessageID, StatusSuccess); err != nil {
		logger.L().Sugar().Warnw("dedup_mark_failed", "messageId", msg.MessageID, "err", err)
	}
	if s.useCallback {
		s.callback.AfterSend(ctx, raw)
	}
	observe.IncMessage("success")
}

// replay 命中 SUCCESS 的重复提交：只重新投递，不重新定序落库
func (s *Service) replay(ctx context.Context, msg *model.MessageContent) {
	cached, err := s.dedup.GetContent(ctx, msg.TenantID, msg.MessageID)
	if err != nil || cached == nil {
		// 缓存内容已过期，只能补一个不带序列号的应答
		if err != nil {
			logger.L().Sugar().Warnw("dedup_cache_read_failed", "messageId", msg.MessageID, "err", err)
		}
		s.deliver.SendToDevice(ctx, msg.TenantID, msg.FromID, msg.DeviceClass, msg.DeviceID,
			protocol.CmdMsgAck, protocol.OKResult(protocol.ChatMessageAck{MessageID: msg.MessageID}))
		return
	}
	s.deliver.SendToDevice(ctx, msg.TenantID, msg.FromID, msg.DeviceClass, msg.DeviceID,
		protocol.CmdMsgAck, protocol.OKResult(protocol.ChatMessageAck{MessageID: cached.MessageID, Sequence: cached.Sequence}))
	s.deliver.SendToUserExcept(ctx, cached.TenantID, cached.FromID, protocol.CmdMsgP2P, cached, msg.DeviceClass, msg.DeviceID)
	delivered := s.deliver.SendToUser(ctx, cached.TenantID, cached.ToID, protocol.CmdMsgP2P, cached)
	if delivered == 0 {
		s.deliver.SendToDevice(ctx, msg.TenantID, msg.FromID, msg.DeviceClass, msg.DeviceID,
			protocol.CmdMsgReceiveAck, protocol.OKResult(protocol.ReceiveAckPack{
				FromID:     cached.FromID,
				ToID:       cached.ToID,
				MessageKey: cached.MessageKey,
				Sequence:   cached.Sequence,
				ServerSend: true,
			}))
	}
}

// persist 写扩散落库：一条消息体加收发双方视角各一行历史。
// 失败只记日志和计数，不影响投递。
func (s *Service) persist(ctx context.Context, msg *model.MessageContent) {
	now := time.Now().UnixMilli()
	if err := s.store.InsertMessageBody(ctx, &model.MessageBody{
		TenantID:   msg.TenantID,
		MessageKey: msg.MessageKey,
		Body:       msg.Body,
		SendTime:   msg.SendTime,
		CreateTime: now,
		Extra:      msg.Extra,
	}); err != nil {
		logger.L().Sugar().Errorw("store_body_failed", "messageKey", msg.MessageKey, "err", err)
		observe.IncStoreError()
		return
	}
	rows := []model.HistoryRow{
		{TenantID: msg.TenantID, OwnerID: msg.FromID, FromID: msg.FromID, ToID: msg.ToID,
			MessageKey: msg.MessageKey, Sequence: msg.Sequence, CreateTime: now},
		{TenantID: msg.TenantID, OwnerID: msg.ToID, FromID: msg.FromID, ToID: msg.ToID,
			MessageKey: msg.MessageKey, Sequence: msg.Sequence, CreateTime: now},
	}
	if err := s.store.InsertHistoryRows(ctx, rows); err != nil {
		logger.L().Sugar().Errorw("store_history_failed", "messageKey", msg.MessageKey, "err", err)
		observe.IncStoreError()
	}
}

// storeOffline 对端离线时写双方的离线积压，成功返回 true
func (s *Service) storeOffline(ctx context.Context, msg *model.MessageContent) bool {
	conv := conversationID(msg.FromID, msg.ToID)
	entry := &model.OfflineEntry{
		MessageID:      msg.MessageID,
		MessageKey:     msg.MessageKey,
		FromID:         msg.FromID,
		ToID:           msg.ToID,
		ConversationID: conv,
		Sequence:       msg.Sequence,
		Body:           msg.Body,
		SendTime:       msg.SendTime,
	}
	for _, owner := range []string{msg.ToID, msg.FromID} {
		if err := s.offline.Append(ctx, msg.TenantID, owner, entry); err != nil {
			logger.L().Sugar().Errorw("offline_append_failed",
				"owner", owner, "messageKey", msg.MessageKey, "err", err)
			return false
		}
	}
	return true
}

func (s *Service) fail(ctx context.Context, msg *model.MessageContent, reason string) {
	if err := s.dedup.SetStatus(ctx, msg.TenantID, msg.MessageID, StatusFailed); err != nil {
		logger.L().Sugar().Warnw("dedup_mark_failed", "messageId", msg.MessageID, "err", err)
	}
	s.ackError(ctx, msg, protocol.CodeProcessFailed, reason)
	observe.IncMessage("failed")
}

func (s *Service) ackError(ctx context.Context, msg *model.MessageContent, code int, reason string) {
	s.deliver.SendToDevice(ctx, msg.TenantID, msg.FromID, msg.DeviceClass, msg.DeviceID,
		protocol.CmdMsgAck, protocol.ErrResult(code, reason))
}

func dedupLockKey(tenantID int32, messageID string) string {
	return statusKey(tenantID, messageID)
}

// conversationID 单聊会话标识，参与者排序后拼接
func conversationID(fromID, toID string) string {
	a, b := fromID, toID
	if a > b {
		a, b = b, a
	}
	return a + "_" + b
}

// detach 摘掉取消信号，保留值；异步阶段不随入站连接的生命周期中断
func detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
