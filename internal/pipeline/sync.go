package pipeline

import (
	"context"
	"encoding/json"

	"github.com/hongjun500/im-go/internal/protocol"
	"github.com/hongjun500/im-go/pkg/logger"
)

// 单次补拉条数上限，请求超过按此截断
const maxSyncLimit int64 = 100

// SyncOffline 离线消息补拉：返回 sequence 大于客户端水位的一页，
// 附带积压最大序列号和是否拉平。同一水位重复请求返回同样的页，天然幂等。
func (s *Service) SyncOffline(ctx context.Context, env *protocol.CommandEnvelope) error {
	var pack protocol.SyncPack
	if err := json.Unmarshal(env.Body, &pack); err != nil {
		return err
	}
	userID := pack.UserID
	limit := pack.MaxLimit
	if limit <= 0 || limit > maxSyncLimit {
		limit = maxSyncLimit
	}
	result, err := s.offline.SyncRange(ctx, env.TenantID, userID, pack.LastSequence, limit)
	if err != nil {
		logger.L().Sugar().Errorw("sync_offline_failed", "user", userID, "err", err)
		s.deliver.SendToDevice(ctx, env.TenantID, userID, env.DeviceClass, env.DeviceID,
			protocol.CmdMsgSyncOfflineAck, protocol.ErrResult(protocol.CodeProcessFailed, "sync failed"))
		return nil
	}
	s.deliver.SendToDevice(ctx, env.TenantID, userID, env.DeviceClass, env.DeviceID,
		protocol.CmdMsgSyncOfflineAck, protocol.OKResult(result))
	return nil
}
